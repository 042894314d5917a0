// Package upload turns untrusted upload streams into managed files.
package upload

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"doc-convert-service/internal/apperr"
	"doc-convert-service/internal/storage"
)

const (
	ChunkSize       = 64 << 10
	ScriptScanBytes = 2_000_000
)

var (
	ErrTooLarge      = apperr.PayloadTooLarge("file exceeds size limit")
	ErrBatchTooLarge = apperr.PayloadTooLarge("total upload size exceeds limit")
	ErrEmpty         = apperr.InvalidInput("empty file")
	ErrScript        = apperr.UnsupportedMediaType("PDF contains embedded JavaScript or actions")
)

func unsupported(kind Kind) *apperr.Error {
	switch kind {
	case KindPDF:
		return apperr.UnsupportedMediaType("only PDF files are accepted")
	case KindImage:
		return apperr.UnsupportedMediaType("only JPG/PNG images are accepted")
	default:
		return apperr.UnsupportedMediaType("only PDF/JPG/PNG files are accepted")
	}
}

type Validator struct {
	store *storage.Manager
	log   zerolog.Logger
}

func NewValidator(store *storage.Manager, log zerolog.Logger) *Validator {
	return &Validator{store: store, log: log.With().Str("component", "upload").Logger()}
}

// Ingest streams r into a new managed file. The client file name is only
// logged; the stored extension comes from the detected type. Checks run in
// order: size of the first chunk, type, size of the rest, script markers.
// Any rejection removes whatever was written.
func (v *Validator) Ingest(r io.Reader, name, contentType string, maxBytes int64, kind Kind) (storage.ManagedFile, error) {
	head := make([]byte, ChunkSize)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return storage.ManagedFile{}, readErr(err)
	}
	head = head[:n]
	// The first read may have stopped at the chunk boundary with more data
	// pending; later reads pick it up.
	more := err == nil

	if n == 0 {
		return storage.ManagedFile{}, ErrEmpty
	}
	if int64(n) > maxBytes {
		return storage.ManagedFile{}, ErrTooLarge
	}

	det, ok := classify(head, contentType, kind)
	if !ok {
		v.log.Info().Str("filename", name).Str("content_type", contentType).Msg("upload rejected: type")
		return storage.ManagedFile{}, unsupported(kind)
	}

	path := v.store.Allocate(det.ext)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return storage.ManagedFile{}, apperr.Wrap(apperr.KindInternal, "storage error", err)
	}

	total, werr := writeChunks(f, r, head, more, maxBytes)
	if cerr := f.Close(); werr == nil && cerr != nil {
		werr = apperr.Wrap(apperr.KindInternal, "storage error", cerr)
	}
	if werr != nil {
		v.store.Remove(path)
		return storage.ManagedFile{}, werr
	}

	if det == detPDF {
		found, err := scanForScripts(path)
		if err != nil {
			v.store.Remove(path)
			return storage.ManagedFile{}, apperr.Wrap(apperr.KindInternal, "storage error", err)
		}
		if found {
			v.store.Remove(path)
			v.log.Warn().Str("filename", name).Msg("upload rejected: script markers")
			return storage.ManagedFile{}, ErrScript
		}
	}

	mf, err := v.store.Describe(path, storage.OwnerUpload, det.contentType)
	if err != nil {
		v.store.Remove(path)
		return storage.ManagedFile{}, err
	}
	v.log.Debug().Str("filename", name).Str("stored", mf.Name).Int64("bytes", total).Msg("upload stored")
	return mf, nil
}

func writeChunks(w io.Writer, r io.Reader, head []byte, more bool, maxBytes int64) (int64, error) {
	if _, err := w.Write(head); err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "storage error", err)
	}
	total := int64(len(head))
	if !more {
		return total, nil
	}

	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > maxBytes {
				return total, ErrTooLarge
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, apperr.Wrap(apperr.KindInternal, "storage error", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, readErr(err)
		}
	}
}

func readErr(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return apperr.Wrap(apperr.KindPayloadTooLarge, "request body too large", err)
	}
	return apperr.Wrap(apperr.KindInvalidInput, "failed to read upload", err)
}

func scanForScripts(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("reopen upload: %w", err)
	}
	defer f.Close()

	prefix, err := io.ReadAll(io.LimitReader(f, ScriptScanBytes))
	if err != nil {
		return false, fmt.Errorf("scan upload: %w", err)
	}
	return hasScriptMarkers(prefix), nil
}
