package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued  JobStatus = "queued"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusError   JobStatus = "error"
)

// Terminal reports whether no further transition may leave s.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Progress is the coarse indicator published to pollers.
func (s JobStatus) Progress() int {
	switch s {
	case StatusRunning:
		return 50
	case StatusDone, StatusError:
		return 100
	default:
		return 0
	}
}

type Operation string

const (
	OpMerge    Operation = "merge"
	OpSplit    Operation = "split"
	OpCompress Operation = "compress"
	OpToImages Operation = "to-images"
	OpOCR      Operation = "ocr"
)

func (o Operation) Valid() bool {
	switch o {
	case OpMerge, OpSplit, OpCompress, OpToImages, OpOCR:
		return true
	}
	return false
}

// PageRange is 1-based and inclusive.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Params struct {
	Quality string      `json:"quality,omitempty"`
	Format  string      `json:"format,omitempty"`
	DPI     int         `json:"dpi,omitempty"`
	Langs   []string    `json:"langs,omitempty"`
	Ranges  []PageRange `json:"ranges,omitempty"`
}

type Result struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
}

type Job struct {
	ID        uuid.UUID `json:"id"`
	Operation Operation `json:"operation"`
	Inputs    []string  `json:"inputs"`
	Params    Params    `json:"params"`
	Status    JobStatus `json:"status"`
	Result    *Result   `json:"result,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
