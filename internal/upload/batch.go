package upload

import (
	"io"

	"doc-convert-service/internal/apperr"
	"doc-convert-service/internal/storage"
)

// Part is one file of a multi-file upload.
type Part struct {
	Reader      io.Reader
	Filename    string
	ContentType string
}

// Batch ingests files one at a time under a shared total cap. Any failure
// discards every file accepted so far, so no partial batch stays on disk.
type Batch struct {
	v        *Validator
	kind     Kind
	maxEach  int64
	maxTotal int64

	total int64
	files []storage.ManagedFile
}

func (v *Validator) NewBatch(kind Kind, maxEach, maxTotal int64) *Batch {
	return &Batch{v: v, kind: kind, maxEach: maxEach, maxTotal: maxTotal}
}

func (b *Batch) Add(r io.Reader, name, contentType string) (storage.ManagedFile, error) {
	remaining := b.maxTotal - b.total
	limit := b.maxEach
	totalBound := remaining < limit
	if totalBound {
		limit = remaining
	}

	mf, err := b.v.Ingest(r, name, contentType, limit, b.kind)
	if err != nil {
		if totalBound && apperr.KindOf(err) == apperr.KindPayloadTooLarge {
			err = ErrBatchTooLarge
		}
		b.Discard()
		return storage.ManagedFile{}, err
	}

	b.total += mf.Size
	b.files = append(b.files, mf)
	return mf, nil
}

func (b *Batch) Files() []storage.ManagedFile { return b.files }

func (b *Batch) Paths() []string {
	out := make([]string, len(b.files))
	for i, f := range b.files {
		out[i] = f.Path
	}
	return out
}

func (b *Batch) Len() int { return len(b.files) }

// Discard removes every accepted file and resets the batch.
func (b *Batch) Discard() {
	b.v.store.Remove(b.Paths()...)
	b.files = nil
	b.total = 0
}

// IngestMultiple ingests parts in order as one batch.
func (v *Validator) IngestMultiple(parts []Part, kind Kind, maxEach, maxTotal int64) ([]storage.ManagedFile, error) {
	b := v.NewBatch(kind, maxEach, maxTotal)
	for _, p := range parts {
		if _, err := b.Add(p.Reader, p.Filename, p.ContentType); err != nil {
			return nil, err
		}
	}
	return b.Files(), nil
}
