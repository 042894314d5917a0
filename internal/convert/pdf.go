package convert

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"

	"doc-convert-service/internal/apperr"
)

// PageCount opens path with MuPDF and returns its page count.
func PageCount(path string) (int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInvalidInput, "invalid or corrupt PDF", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n <= 0 {
		return 0, apperr.InvalidInput("PDF has no pages")
	}
	return n, nil
}

// rasterize renders the first maxPages pages of path into dir as
// page_<n>.<format>. Pages are numbered from 1.
func rasterize(ctx context.Context, path, dir, format string, dpi, maxPages int) ([]string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, "invalid or corrupt PDF", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	if total <= 0 {
		return nil, apperr.InvalidInput("PDF has no pages")
	}
	if maxPages > 0 && total > maxPages {
		total = maxPages
	}

	out := make([]string, 0, total)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return out, apperr.Timeout("rasterize", err)
		}

		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return out, apperr.ToolFailure("rasterize", fmt.Errorf("page %d: %w", i+1, err))
		}

		p := filepath.Join(dir, fmt.Sprintf("page_%d.%s", i+1, format))
		if err := writeImage(p, img, format); err != nil {
			return out, apperr.Wrap(apperr.KindInternal, "write page image", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func writeImage(path string, img image.Image, format string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	switch format {
	case "jpg":
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(w, img)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// textLayer returns the embedded text of every page, joined by blank lines.
func textLayer(path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidInput, "invalid or corrupt PDF", err)
	}
	defer doc.Close()

	var parts []string
	for i := 0; i < doc.NumPage(); i++ {
		t, err := doc.Text(i)
		if err != nil {
			continue
		}
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n")), nil
}
