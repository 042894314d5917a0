// Package convert wraps the document operations: qpdf for merge and split,
// Ghostscript for compression, MuPDF for rasterization and text layers,
// and Tesseract for OCR.
package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"doc-convert-service/internal/apperr"
	"doc-convert-service/internal/entity"
	"doc-convert-service/internal/storage"
)

const (
	QualityLow    = "low"
	QualityMedium = "medium"
	QualityHigh   = "high"

	FormatPNG = "png"
	FormatJPG = "jpg"

	DefaultDPI = 150
	MinDPI     = 72
	OCRDPI     = 200
)

type Limits struct {
	MergeMaxFiles  int
	ImagesMaxPages int
	OCRMaxPages    int
	MaxDPI         int
	OCRLangs       []string
}

type Converter struct {
	runner *Runner
	store  *storage.Manager
	limits Limits
	log    zerolog.Logger

	pageCount func(path string) (int, error)
}

func New(runner *Runner, store *storage.Manager, limits Limits, log zerolog.Logger) *Converter {
	return &Converter{
		runner:    runner,
		store:     store,
		limits:    limits,
		log:       log.With().Str("component", "convert").Logger(),
		pageCount: PageCount,
	}
}

func (c *Converter) Limits() Limits { return c.limits }

// Merge concatenates inputs, in order, into out.
func (c *Converter) Merge(ctx context.Context, inputs []string, out string) error {
	if len(inputs) < 2 {
		return apperr.InvalidInput("merge needs at least 2 PDFs")
	}
	args := append([]string{"--empty", "--pages"}, inputs...)
	args = append(args, "--", out)
	_, err := c.runner.Run(ctx, "qpdf", args...)
	return err
}

// Split writes one PDF per range into dir as split-<n>.pdf.
func (c *Converter) Split(ctx context.Context, input string, ranges []entity.PageRange, dir string) ([]string, error) {
	if len(ranges) == 0 {
		return nil, apperr.InvalidInput("ranges is empty")
	}
	out := make([]string, 0, len(ranges))
	for i, r := range ranges {
		p := filepath.Join(dir, fmt.Sprintf("split-%d.pdf", i+1))
		if _, err := c.runner.Run(ctx, "qpdf", input, "--pages", ".", FormatRange(r), "--", p); err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

type qualityTier struct {
	dpi   int
	jpegQ int
}

var qualityTiers = map[string]qualityTier{
	QualityLow:    {dpi: 96, jpegQ: 50},
	QualityMedium: {dpi: 150, jpegQ: 70},
	QualityHigh:   {dpi: 220, jpegQ: 85},
}

func gsArgs(input, out string, t qualityTier) []string {
	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-dSAFER",
		"-dPDFSETTINGS=/screen",
		"-dColorImageDownsampleType=/Bicubic",
		fmt.Sprintf("-dColorImageResolution=%d", t.dpi),
		"-dGrayImageDownsampleType=/Bicubic",
		fmt.Sprintf("-dGrayImageResolution=%d", t.dpi),
		"-dMonoImageDownsampleType=/Subsample",
		fmt.Sprintf("-dMonoImageResolution=%d", t.dpi),
		"-dColorImageFilter=/DCTEncode",
		"-dAutoFilterColorImages=true",
		"-dAutoFilterGrayImages=true",
		fmt.Sprintf("-dJPEGQ=%d", t.jpegQ),
		"-sOutputFile=" + out,
		input,
	}
}

// Compress rewrites input through Ghostscript at the given quality tier.
func (c *Converter) Compress(ctx context.Context, input, out, quality string) error {
	t, ok := qualityTiers[quality]
	if !ok {
		return apperr.InvalidInput("quality must be low, medium or high")
	}
	_, err := c.runner.Run(ctx, "gs", gsArgs(input, out, t)...)
	return err
}

// ToImages renders every page of input into dir. Documents longer than
// the configured cap are refused rather than truncated.
func (c *Converter) ToImages(ctx context.Context, input, dir, format string, dpi int) ([]string, error) {
	if format != FormatPNG && format != FormatJPG {
		return nil, apperr.InvalidInput("format must be jpg or png")
	}
	if dpi < MinDPI || dpi > c.limits.MaxDPI {
		return nil, apperr.InvalidInput(fmt.Sprintf("dpi must be between %d and %d", MinDPI, c.limits.MaxDPI))
	}
	n, err := c.pageCount(input)
	if err != nil {
		return nil, err
	}
	if n > c.limits.ImagesMaxPages {
		return nil, pageLimitErr(c.limits.ImagesMaxPages)
	}
	ctx, cancel := context.WithTimeout(ctx, c.runner.Timeout())
	defer cancel()
	return rasterize(ctx, input, dir, format, dpi, n)
}

func pageLimitErr(max int) error {
	return apperr.PayloadTooLarge(fmt.Sprintf("PDF exceeds page limit (max %d)", max))
}

// ParseLangs splits "por+eng" and checks it against the allowed set.
// An empty value selects the first allowed language.
func (c *Converter) ParseLangs(lang string) ([]string, error) {
	var langs []string
	for _, l := range strings.Split(lang, "+") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	if len(langs) == 0 {
		if len(c.limits.OCRLangs) == 0 {
			return nil, apperr.InvalidInput("no OCR languages configured")
		}
		return []string{c.limits.OCRLangs[0]}, nil
	}
	for _, l := range langs {
		if !slices.Contains(c.limits.OCRLangs, l) {
			return nil, apperr.InvalidInput("unsupported language, allowed: " + strings.Join(c.limits.OCRLangs, ", "))
		}
	}
	return langs, nil
}

// OCR extracts text from a PDF or image. PDFs use their text layer when it
// has content; otherwise up to OCRMaxPages pages are rasterized for
// Tesseract.
func (c *Converter) OCR(ctx context.Context, input string, langs []string) (string, error) {
	if len(langs) == 0 {
		return "", apperr.InvalidInput("no OCR language given")
	}
	tag := strings.Join(langs, "+")

	if strings.ToLower(filepath.Ext(input)) != ".pdf" {
		return c.tesseract(ctx, input, tag)
	}

	text, err := textLayer(input)
	if err != nil {
		return "", err
	}
	if text != "" {
		return text, nil
	}

	dir, err := c.store.AllocateDir("ocr")
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "storage error", err)
	}
	defer c.store.Remove(dir)

	rctx, cancel := context.WithTimeout(ctx, c.runner.Timeout())
	pages, err := rasterize(rctx, input, dir, FormatPNG, OCRDPI, c.limits.OCRMaxPages)
	cancel()
	if err != nil {
		return "", err
	}

	var parts []string
	for _, p := range pages {
		t, err := c.tesseract(ctx, p, tag)
		if err != nil {
			return "", err
		}
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n")), nil
}

func (c *Converter) tesseract(ctx context.Context, image, langTag string) (string, error) {
	out, err := c.runner.Run(ctx, "tesseract", image, "stdout", "-l", langTag)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func writeText(path, text string) error {
	return os.WriteFile(path, []byte(text), 0o600)
}
