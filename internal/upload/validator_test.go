package upload

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-convert-service/internal/apperr"
	"doc-convert-service/internal/storage"
)

func newValidator(t *testing.T) (*Validator, *storage.Manager) {
	t.Helper()
	store, err := storage.NewManager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return NewValidator(store, zerolog.Nop()), store
}

func pdfBytes(size int) []byte {
	b := bytes.Repeat([]byte("0"), size)
	copy(b, "%PDF-1.4\n")
	return b
}

func rootEntries(t *testing.T, store *storage.Manager) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	return entries
}

func TestIngest_StoresPDFUnderGeneratedName(t *testing.T) {
	v, store := newValidator(t)

	mf, err := v.Ingest(bytes.NewReader(pdfBytes(200_000)), "../../evil.exe", "", 1<<20, KindPDF)
	require.NoError(t, err)

	assert.Equal(t, store.Root(), filepath.Dir(mf.Path))
	assert.True(t, strings.HasSuffix(mf.Name, ".pdf"))
	assert.NotContains(t, mf.Name, "evil")
	assert.Equal(t, int64(200_000), mf.Size)
	assert.Equal(t, "application/pdf", mf.ContentType)
	assert.Equal(t, storage.OwnerUpload, mf.Owner)
}

func TestIngest_ExactLimitAcceptedOneByteOverRejected(t *testing.T) {
	for _, size := range []int{1000, ChunkSize, ChunkSize*3 + 7} {
		v, store := newValidator(t)
		limit := int64(size)

		_, err := v.Ingest(bytes.NewReader(pdfBytes(size)), "a.pdf", "application/pdf", limit, KindPDF)
		require.NoError(t, err, "size=%d", size)

		_, err = v.Ingest(bytes.NewReader(pdfBytes(size+1)), "a.pdf", "application/pdf", limit, KindPDF)
		require.Error(t, err)
		assert.Equal(t, apperr.KindPayloadTooLarge, apperr.KindOf(err), "size=%d", size)

		assert.Len(t, rootEntries(t, store), 1, "only the accepted file remains")
	}
}

func TestIngest_SignatureEnforced(t *testing.T) {
	v, store := newValidator(t)

	_, err := v.Ingest(strings.NewReader("not a pdf at all"), "x.pdf", "", 1<<20, KindPDF)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnsupportedMediaType, apperr.KindOf(err))

	_, err = v.Ingest(strings.NewReader("not a pdf at all"), "x.pdf", "application/octet-stream", 1<<20, KindPDF)
	assert.Equal(t, apperr.KindUnsupportedMediaType, apperr.KindOf(err))

	assert.Empty(t, rootEntries(t, store))
}

func TestIngest_DeclaredPDFTypeAccepted(t *testing.T) {
	v, _ := newValidator(t)

	mf, err := v.Ingest(strings.NewReader("binary-ish"), "scan", "application/pdf; charset=binary", 1<<20, KindPDF)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(mf.Path, ".pdf"))
}

func TestIngest_LeadingWhitespaceAndBOM(t *testing.T) {
	v, _ := newValidator(t)
	body := append([]byte("\xef\xbb\xbf\n  "), pdfBytes(100)...)

	_, err := v.Ingest(bytes.NewReader(body), "a.pdf", "", 1<<20, KindPDF)
	require.NoError(t, err)
}

func TestIngest_ScriptMarkersRejected(t *testing.T) {
	v, store := newValidator(t)

	body := append(pdfBytes(ChunkSize*2), []byte("<< /S /JavaScript /JS (app.alert(1)) >>")...)
	_, err := v.Ingest(bytes.NewReader(body), "a.pdf", "", 1<<20, KindPDF)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnsupportedMediaType, apperr.KindOf(err))
	assert.Empty(t, rootEntries(t, store))
}

func TestIngest_ScriptMarkersBeyondScanWindowIgnored(t *testing.T) {
	v, _ := newValidator(t)

	body := append(pdfBytes(ScriptScanBytes), []byte("/JavaScript")...)
	_, err := v.Ingest(bytes.NewReader(body), "a.pdf", "", 4<<20, KindPDF)
	require.NoError(t, err)
}

func TestIngest_Images(t *testing.T) {
	v, _ := newValidator(t)

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	mf, err := v.Ingest(bytes.NewReader(png), "photo.jpeg", "", 1<<20, KindPDFOrImage)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(mf.Path, ".png"))
	assert.Equal(t, "image/png", mf.ContentType)

	jpg := append([]byte{0xff, 0xd8, 0xff, 0xe0}, make([]byte, 64)...)
	mf, err = v.Ingest(bytes.NewReader(jpg), "scan", "", 1<<20, KindImage)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(mf.Path, ".jpg"))

	_, err = v.Ingest(bytes.NewReader(pdfBytes(100)), "a.pdf", "", 1<<20, KindImage)
	assert.Equal(t, apperr.KindUnsupportedMediaType, apperr.KindOf(err))

	// images skip the script scan
	withMarker := append(append([]byte{}, png...), []byte("/JS")...)
	_, err = v.Ingest(bytes.NewReader(withMarker), "p.png", "", 1<<20, KindPDFOrImage)
	require.NoError(t, err)
}

func TestIngest_Empty(t *testing.T) {
	v, store := newValidator(t)

	_, err := v.Ingest(strings.NewReader(""), "a.pdf", "application/pdf", 1<<20, KindPDF)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	assert.Empty(t, rootEntries(t, store))
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestIngest_ReadErrorRemovesPartialFile(t *testing.T) {
	v, store := newValidator(t)

	r := &failingReader{data: pdfBytes(ChunkSize * 2), err: errors.New("connection reset")}
	_, err := v.Ingest(r, "a.pdf", "", 1<<20, KindPDF)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	assert.Empty(t, rootEntries(t, store))
}

func TestIngest_MaxBytesReaderMapsToTooLarge(t *testing.T) {
	v, store := newValidator(t)

	rec := httptest.NewRecorder()
	body := http.MaxBytesReader(rec, io.NopCloser(bytes.NewReader(pdfBytes(ChunkSize*3))), ChunkSize*2)
	_, err := v.Ingest(body, "a.pdf", "", 1<<20, KindPDF)
	assert.Equal(t, apperr.KindPayloadTooLarge, apperr.KindOf(err))
	assert.Empty(t, rootEntries(t, store))
}

func TestBatch_TotalOverflowDiscardsAll(t *testing.T) {
	v, store := newValidator(t)

	parts := []Part{
		{Reader: bytes.NewReader(pdfBytes(80_000)), Filename: "1.pdf"},
		{Reader: bytes.NewReader(pdfBytes(80_000)), Filename: "2.pdf"},
		{Reader: bytes.NewReader(pdfBytes(80_000)), Filename: "3.pdf"},
	}
	files, err := v.IngestMultiple(parts, KindPDF, 100_000, 200_000)
	require.Error(t, err)
	assert.Nil(t, files)
	assert.Equal(t, apperr.KindPayloadTooLarge, apperr.KindOf(err))
	assert.Equal(t, ErrBatchTooLarge.Msg, apperr.PublicMessage(err))

	assert.Empty(t, rootEntries(t, store))
}

func TestBatch_SignatureFailureDiscardsAll(t *testing.T) {
	v, store := newValidator(t)

	b := v.NewBatch(KindPDF, 1<<20, 4<<20)
	_, err := b.Add(bytes.NewReader(pdfBytes(1000)), "1.pdf", "")
	require.NoError(t, err)
	_, err = b.Add(strings.NewReader("GIF89a"), "2.pdf", "")
	require.Error(t, err)

	assert.Zero(t, b.Len())
	assert.Empty(t, rootEntries(t, store))
}

func TestBatch_WithinLimits(t *testing.T) {
	v, _ := newValidator(t)

	files, err := v.IngestMultiple([]Part{
		{Reader: bytes.NewReader(pdfBytes(1000)), Filename: "1.pdf"},
		{Reader: bytes.NewReader(pdfBytes(2000)), Filename: "2.pdf"},
	}, KindPDF, 1<<20, 4<<20)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, int64(2000), files[1].Size)
}
