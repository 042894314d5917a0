package convert

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"doc-convert-service/internal/apperr"
	"doc-convert-service/internal/entity"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeZIP  = "application/zip"
	ContentTypeText = "text/plain; charset=utf-8"
)

// RawParams are the untyped operation options as submitted in a form.
type RawParams struct {
	Ranges  string
	Quality string
	Format  string
	DPI     string
	Lang    string
}

// Prepare checks inputs and options for op before any expensive work and
// returns the typed parameters. Split needs the page count, so its input
// must already be on disk.
func (c *Converter) Prepare(op entity.Operation, inputs []string, raw RawParams) (entity.Params, error) {
	var p entity.Params

	switch op {
	case entity.OpMerge:
		if len(inputs) < 2 {
			return p, apperr.InvalidInput("send 2 or more PDFs to merge")
		}
		if len(inputs) > c.limits.MergeMaxFiles {
			return p, apperr.InvalidInput(fmt.Sprintf("at most %d files can be merged", c.limits.MergeMaxFiles))
		}
		return p, nil
	case entity.OpSplit, entity.OpCompress, entity.OpToImages, entity.OpOCR:
		if len(inputs) != 1 {
			return p, apperr.InvalidInput("send exactly one file")
		}
	default:
		return p, apperr.InvalidInput("unknown operation")
	}

	switch op {
	case entity.OpSplit:
		if strings.TrimSpace(raw.Ranges) == "" {
			return p, apperr.InvalidInput("ranges is required")
		}
		total, err := c.pageCount(inputs[0])
		if err != nil {
			return p, err
		}
		p.Ranges, err = ParseRanges(raw.Ranges, total)
		return p, err

	case entity.OpCompress:
		q := strings.ToLower(strings.TrimSpace(raw.Quality))
		if _, ok := qualityTiers[q]; !ok {
			return p, apperr.InvalidInput("quality must be low, medium or high")
		}
		p.Quality = q
		return p, nil

	case entity.OpToImages:
		f := strings.ToLower(strings.TrimSpace(raw.Format))
		switch f {
		case "":
			f = FormatPNG
		case "jpeg":
			f = FormatJPG
		case FormatPNG, FormatJPG:
		default:
			return p, apperr.InvalidInput("format must be jpg or png")
		}
		dpi := DefaultDPI
		if s := strings.TrimSpace(raw.DPI); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil {
				return p, apperr.InvalidInput("dpi must be an integer")
			}
			dpi = v
		}
		if dpi < MinDPI || dpi > c.limits.MaxDPI {
			return p, apperr.InvalidInput(fmt.Sprintf("dpi must be between %d and %d", MinDPI, c.limits.MaxDPI))
		}
		total, err := c.pageCount(inputs[0])
		if err != nil {
			return p, err
		}
		if total > c.limits.ImagesMaxPages {
			return p, pageLimitErr(c.limits.ImagesMaxPages)
		}
		p.Format, p.DPI = f, dpi
		return p, nil

	default: // ocr
		langs, err := c.ParseLangs(raw.Lang)
		if err != nil {
			return p, err
		}
		p.Langs = langs
		return p, nil
	}
}

// Request is one operation invocation. Output files are named
// <Prefix>-<uuid>.<ext>, or <uuid>.<ext> with no prefix.
type Request struct {
	Operation entity.Operation
	Inputs    []string
	Params    entity.Params
	Prefix    string
}

// Artifact is the single file an operation produces.
type Artifact struct {
	Path        string
	ContentType string
	Filename    string
	// Text is set for OCR.
	Text string
}

// Execute runs req and returns its artifact. Inputs are left untouched;
// intermediates are always removed and a partial output is removed on
// failure.
func (c *Converter) Execute(ctx context.Context, req Request) (art Artifact, err error) {
	start := time.Now()
	log := c.log.With().Str("op", string(req.Operation)).Logger()

	var out string
	defer func() {
		if err != nil && out != "" {
			c.store.Remove(out)
		}
		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Int64("duration_ms", time.Since(start).Milliseconds()).Msg("execute")
	}()

	alloc := func(ext string) string {
		if req.Prefix == "" {
			out = c.store.Allocate(ext)
		} else {
			out = c.store.AllocatePrefixed(req.Prefix, ext)
		}
		return out
	}

	switch req.Operation {
	case entity.OpMerge:
		p := alloc(".pdf")
		if err := c.Merge(ctx, req.Inputs, p); err != nil {
			return Artifact{}, err
		}
		return Artifact{Path: p, ContentType: ContentTypePDF, Filename: "merged.pdf"}, nil

	case entity.OpCompress:
		if len(req.Inputs) != 1 {
			return Artifact{}, apperr.InvalidInput("send exactly one file")
		}
		p := alloc(".pdf")
		if err := c.Compress(ctx, req.Inputs[0], p, req.Params.Quality); err != nil {
			return Artifact{}, err
		}
		return Artifact{Path: p, ContentType: ContentTypePDF, Filename: "compressed.pdf"}, nil

	case entity.OpSplit, entity.OpToImages:
		if len(req.Inputs) != 1 {
			return Artifact{}, apperr.InvalidInput("send exactly one file")
		}
		dir, derr := c.store.AllocateDir(string(req.Operation))
		if derr != nil {
			return Artifact{}, apperr.Wrap(apperr.KindInternal, "storage error", derr)
		}
		defer c.store.Remove(dir)

		var files []string
		name := "split.zip"
		if req.Operation == entity.OpSplit {
			files, err = c.Split(ctx, req.Inputs[0], req.Params.Ranges, dir)
		} else {
			name = "images.zip"
			files, err = c.ToImages(ctx, req.Inputs[0], dir, req.Params.Format, req.Params.DPI)
		}
		if err != nil {
			return Artifact{}, err
		}
		p := alloc(".zip")
		if err := zipFiles(p, files); err != nil {
			return Artifact{}, apperr.Wrap(apperr.KindInternal, "package output", err)
		}
		return Artifact{Path: p, ContentType: ContentTypeZIP, Filename: name}, nil

	case entity.OpOCR:
		if len(req.Inputs) != 1 {
			return Artifact{}, apperr.InvalidInput("send exactly one file")
		}
		text, err := c.OCR(ctx, req.Inputs[0], req.Params.Langs)
		if err != nil {
			return Artifact{}, err
		}
		p := alloc(".txt")
		if err := writeText(p, text); err != nil {
			return Artifact{}, apperr.Wrap(apperr.KindInternal, "write text", err)
		}
		return Artifact{Path: p, ContentType: ContentTypeText, Filename: "ocr.txt", Text: text}, nil
	}

	return Artifact{}, apperr.InvalidInput("unknown operation")
}

// zipFiles packages files flat, by base name, into a new archive at dst.
func zipFiles(dst string, files []string) (err error) {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(f)
	for _, p := range files {
		if err := addToZip(zw, p); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addToZip(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.Base(path), Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
