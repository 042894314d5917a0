package upload

import (
	"bytes"
	"mime"
	"strings"
)

// Kind is what an endpoint expects to receive.
type Kind int

const (
	KindPDF Kind = iota + 1
	KindImage
	KindPDFOrImage
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindImage:
		return "image"
	case KindPDFOrImage:
		return "pdf-or-image"
	}
	return "unknown"
}

// detected is the concrete type a stored file resolved to.
type detected struct {
	ext         string
	contentType string
}

var (
	detPDF  = detected{ext: ".pdf", contentType: "application/pdf"}
	detPNG  = detected{ext: ".png", contentType: "image/png"}
	detJPEG = detected{ext: ".jpg", contentType: "image/jpeg"}
)

// Generic binary types (application/octet-stream and friends) are not
// treated as a PDF declaration.
var pdfContentTypes = map[string]bool{
	"application/pdf":     true,
	"application/x-pdf":   true,
	"application/acrobat": true,
	"application/vnd.pdf": true,
}

var imageContentTypes = map[string]detected{
	"image/png":  detPNG,
	"image/jpeg": detJPEG,
	"image/jpg":  detJPEG,
}

var (
	pdfMagic  = []byte("%PDF-")
	pngMagic  = []byte("\x89PNG\r\n\x1a\n")
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	utf8BOM   = []byte{0xef, 0xbb, 0xbf}
)

// LooksLikePDF reports whether head starts with the PDF header, ignoring
// leading whitespace and a UTF-8 BOM.
func LooksLikePDF(head []byte) bool {
	head = bytes.TrimLeft(head, " \t\r\n\f\x00")
	head = bytes.TrimPrefix(head, utf8BOM)
	head = bytes.TrimLeft(head, " \t\r\n\f\x00")
	return bytes.HasPrefix(head, pdfMagic)
}

func sniffImage(head []byte) (detected, bool) {
	switch {
	case bytes.HasPrefix(head, pngMagic):
		return detPNG, true
	case bytes.HasPrefix(head, jpegMagic):
		return detJPEG, true
	}
	return detected{}, false
}

func normalizeContentType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

// classify decides what head is for the expected kind. Content sniffing
// takes precedence; a recognized declared content type is the fallback.
func classify(head []byte, contentType string, kind Kind) (detected, bool) {
	ct := normalizeContentType(contentType)

	wantPDF := kind == KindPDF || kind == KindPDFOrImage
	wantImage := kind == KindImage || kind == KindPDFOrImage

	if wantPDF && LooksLikePDF(head) {
		return detPDF, true
	}
	if wantImage {
		if d, ok := sniffImage(head); ok {
			return d, true
		}
	}
	if wantPDF && pdfContentTypes[ct] {
		return detPDF, true
	}
	if wantImage {
		if d, ok := imageContentTypes[ct]; ok {
			return d, true
		}
	}
	return detected{}, false
}

var scriptMarkers = [][]byte{[]byte("/JavaScript"), []byte("/JS")}

// hasScriptMarkers is a substring heuristic over a bounded prefix, not a
// structural parse: obfuscated or compressed scripts slip through, and
// innocent byte sequences can trip it.
func hasScriptMarkers(prefix []byte) bool {
	for _, m := range scriptMarkers {
		if bytes.Contains(prefix, m) {
			return true
		}
	}
	return false
}
