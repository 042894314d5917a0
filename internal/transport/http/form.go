package httptransport

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"doc-convert-service/internal/apperr"
	"doc-convert-service/internal/convert"
	"doc-convert-service/internal/entity"
	"doc-convert-service/internal/upload"
)

// maxFieldBytes caps a plain form field; only short options are expected.
const maxFieldBytes = 4 << 10

// uploadForm is a multipart request read part by part: files are streamed
// straight through the validator, fields are kept in memory.
type uploadForm struct {
	fields map[string]string
	batch  *upload.Batch
}

func (f *uploadForm) raw() convert.RawParams {
	return convert.RawParams{
		Ranges:  f.fields["ranges"],
		Quality: f.fields["quality"],
		Format:  f.fields["format"],
		DPI:     f.fields["dpi"],
		Lang:    f.fields["lang"],
	}
}

func (f *uploadForm) discard() {
	if f.batch != nil {
		f.batch.Discard()
	}
}

// uploadRules says how the files of a form are validated.
type uploadRules struct {
	kind     upload.Kind
	multi    bool
	maxEach  int64
	maxTotal int64
}

func (h *Handler) rulesFor(op entity.Operation) uploadRules {
	s := uploadRules{kind: upload.KindPDF, maxEach: h.limits.MaxFileBytes, maxTotal: h.limits.MaxFileBytes}
	switch op {
	case entity.OpMerge:
		s.multi = true
		s.maxTotal = h.limits.MaxTotalBytes
	case entity.OpOCR:
		s.kind = upload.KindPDFOrImage
	}
	return s
}

// readForm reads the multipart body. resolve sees the fields that came
// before the first file part, which is how /jobs picks the rules from a
// leading "type" field. On error every file already stored is removed.
func (h *Handler) readForm(r *http.Request, resolve func(fields map[string]string) (uploadRules, error)) (*uploadForm, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, apperr.InvalidInput("expected a multipart/form-data body")
	}

	form := &uploadForm{fields: map[string]string{}}
	var rules uploadRules

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			form.discard()
			return nil, bodyErr(err)
		}

		if part.FileName() == "" {
			v, err := readField(part)
			part.Close()
			if err != nil {
				form.discard()
				return nil, err
			}
			form.fields[part.FormName()] = v
			continue
		}

		if form.batch == nil {
			if rules, err = resolve(form.fields); err != nil {
				part.Close()
				return nil, err
			}
			form.batch = h.validator.NewBatch(rules.kind, rules.maxEach, rules.maxTotal)
		} else if !rules.multi {
			part.Close()
			form.discard()
			return nil, apperr.InvalidInput("send exactly one file")
		}

		_, err = form.batch.Add(part, part.FileName(), part.Header.Get("Content-Type"))
		part.Close()
		if err != nil {
			return nil, err
		}
	}

	if form.batch == nil || form.batch.Len() == 0 {
		return nil, apperr.InvalidInput("no file uploaded")
	}
	return form, nil
}

func readField(p *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(p, maxFieldBytes+1))
	if err != nil {
		return "", bodyErr(err)
	}
	if len(b) > maxFieldBytes {
		return "", apperr.InvalidInput("form field " + p.FormName() + " is too long")
	}
	return strings.TrimSpace(string(b)), nil
}

func bodyErr(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return apperr.PayloadTooLarge("request body exceeds size limit")
	}
	return apperr.Wrap(apperr.KindInvalidInput, "malformed multipart body", err)
}
