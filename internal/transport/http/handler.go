package httptransport

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"doc-convert-service/internal/apperr"
	"doc-convert-service/internal/convert"
	"doc-convert-service/internal/entity"
	"doc-convert-service/internal/service"
	"doc-convert-service/internal/storage"
	"doc-convert-service/internal/upload"
)

// Converter is the conversion side the handlers drive; *convert.Converter
// implements it.
type Converter interface {
	Prepare(op entity.Operation, inputs []string, raw convert.RawParams) (entity.Params, error)
	Execute(ctx context.Context, req convert.Request) (convert.Artifact, error)
}

type Limits struct {
	MaxFileBytes  int64
	MaxTotalBytes int64
}

type Handler struct {
	jobs      *service.JobService
	validator *upload.Validator
	conv      Converter
	files     *storage.Manager
	limits    Limits
	log       zerolog.Logger
}

func NewHandler(jobs *service.JobService, validator *upload.Validator, conv Converter, files *storage.Manager, limits Limits, log zerolog.Logger) *Handler {
	return &Handler{
		jobs:      jobs,
		validator: validator,
		conv:      conv,
		files:     files,
		limits:    limits,
		log:       log.With().Str("component", "http").Logger(),
	}
}

type healthResp struct {
	Status        string `json:"status"`
	AsyncJobs     bool   `json:"asyncJobs"`
	JobsAvailable bool   `json:"jobsAvailable"`
}

type createJobResp struct {
	JobID string `json:"jobId"`
}

type jobStatusResp struct {
	Status      entity.JobStatus `json:"status"`
	Progress    int              `json:"progress"`
	ResultURL   string           `json:"resultUrl,omitempty"`
	ContentType string           `json:"contentType,omitempty"`
	Message     string           `json:"message,omitempty"`
}

type ocrResp struct {
	Text string `json:"text"`
	ID   string `json:"id"`
}

// Health godoc
// @Summary Service health
// @Tags health
// @Produce json
// @Success 200 {object} healthResp
// @Router /api/health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResp{
		Status:        "ok",
		AsyncJobs:     h.jobs.Enabled(),
		JobsAvailable: h.jobs.Available(),
	})
}

// Merge godoc
// @Summary Merge PDFs
// @Tags pdf
// @Accept multipart/form-data
// @Produce application/pdf
// @Param files formData file true "2 or more PDFs, in order"
// @Success 200 {file} file
// @Failure 400 {object} apiError
// @Failure 413 {object} apiError
// @Failure 415 {object} apiError
// @Failure 500 {object} apiError
// @Router /api/pdf/merge [post]
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	h.convertSync(w, r, entity.OpMerge)
}

// Split godoc
// @Summary Split a PDF by page ranges
// @Tags pdf
// @Accept multipart/form-data
// @Produce application/zip
// @Param file formData file true "PDF"
// @Param ranges formData string true "1-based inclusive ranges, e.g. 1-3,5"
// @Success 200 {file} file
// @Failure 400 {object} apiError
// @Failure 413 {object} apiError
// @Failure 415 {object} apiError
// @Router /api/pdf/split [post]
func (h *Handler) Split(w http.ResponseWriter, r *http.Request) {
	h.convertSync(w, r, entity.OpSplit)
}

// Compress godoc
// @Summary Compress a PDF
// @Tags pdf
// @Accept multipart/form-data
// @Produce application/pdf
// @Param file formData file true "PDF"
// @Param quality formData string true "low|medium|high"
// @Success 200 {file} file
// @Failure 400 {object} apiError
// @Failure 413 {object} apiError
// @Failure 415 {object} apiError
// @Failure 500 {object} apiError
// @Router /api/pdf/compress [post]
func (h *Handler) Compress(w http.ResponseWriter, r *http.Request) {
	h.convertSync(w, r, entity.OpCompress)
}

// ToImages godoc
// @Summary Rasterize PDF pages
// @Tags pdf
// @Accept multipart/form-data
// @Produce application/zip
// @Param file formData file true "PDF"
// @Param format formData string false "png|jpg"
// @Param dpi formData int false "72..MAX_DPI, default 150"
// @Success 200 {file} file
// @Failure 400 {object} apiError
// @Failure 413 {object} apiError
// @Failure 415 {object} apiError
// @Router /api/pdf/to-images [post]
func (h *Handler) ToImages(w http.ResponseWriter, r *http.Request) {
	h.convertSync(w, r, entity.OpToImages)
}

// convertSync runs op inline and streams the artifact back. Inputs and the
// artifact are removed once the response has been written.
func (h *Handler) convertSync(w http.ResponseWriter, r *http.Request, op entity.Operation) {
	form, err := h.readForm(r, func(map[string]string) (uploadRules, error) { return h.rulesFor(op), nil })
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	defer form.discard()

	inputs := form.batch.Paths()
	params, err := h.conv.Prepare(op, inputs, form.raw())
	if err != nil {
		fail(w, r, h.log, err)
		return
	}

	art, err := h.conv.Execute(r.Context(), convert.Request{Operation: op, Inputs: inputs, Params: params})
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	defer h.files.Remove(art.Path)

	if err := serveAttachment(w, r, art.Path, art.ContentType, art.Filename); err != nil {
		fail(w, r, h.log, err)
	}
}

// OCR godoc
// @Summary Extract text from a PDF or image
// @Description The text is also kept for download at /api/ocr/download/{id} until swept.
// @Tags ocr
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF, JPG or PNG"
// @Param lang formData string false "por|eng|por+eng"
// @Success 200 {object} ocrResp
// @Failure 400 {object} apiError
// @Failure 413 {object} apiError
// @Failure 415 {object} apiError
// @Failure 500 {object} apiError
// @Router /api/ocr [post]
func (h *Handler) OCR(w http.ResponseWriter, r *http.Request) {
	form, err := h.readForm(r, func(map[string]string) (uploadRules, error) { return h.rulesFor(entity.OpOCR), nil })
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	defer form.discard()

	inputs := form.batch.Paths()
	params, err := h.conv.Prepare(entity.OpOCR, inputs, form.raw())
	if err != nil {
		fail(w, r, h.log, err)
		return
	}

	art, err := h.conv.Execute(r.Context(), convert.Request{Operation: entity.OpOCR, Inputs: inputs, Params: params})
	if err != nil {
		fail(w, r, h.log, err)
		return
	}

	id := strings.TrimSuffix(filepath.Base(art.Path), filepath.Ext(art.Path))
	writeJSON(w, http.StatusOK, ocrResp{Text: art.Text, ID: id})
}

// OCRDownload godoc
// @Summary Download extracted OCR text
// @Tags ocr
// @Produce plain
// @Param id path string true "id returned by POST /api/ocr"
// @Success 200 {file} file
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /api/ocr/download/{id} [get]
func (h *Handler) OCRDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isCanonicalUUID4(id) {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	path, err := h.files.Resolve(id + ".txt")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := serveAttachment(w, r, path, convert.ContentTypeText, id+".txt"); err != nil {
		fail(w, r, h.log, err)
	}
}

// CreateJob godoc
// @Summary Submit an async conversion job
// @Description The type field (or ?type=) must come before the file parts.
// @Tags jobs
// @Accept multipart/form-data
// @Produce json
// @Param type formData string true "merge|split|compress|to-images|ocr"
// @Param files formData file false "merge inputs"
// @Param file formData file false "single input"
// @Param ranges formData string false "split"
// @Param quality formData string false "compress"
// @Param format formData string false "to-images"
// @Param dpi formData int false "to-images"
// @Param lang formData string false "ocr"
// @Success 202 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 413 {object} apiError
// @Failure 415 {object} apiError
// @Failure 503 {object} apiError
// @Router /api/jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	// refuse before reading the body
	if !h.jobs.Enabled() {
		fail(w, r, h.log, apperr.InvalidInput("async jobs are disabled"))
		return
	}
	if !h.jobs.Available() {
		fail(w, r, h.log, apperr.ServiceUnavailable("job queue unavailable"))
		return
	}

	var op entity.Operation
	form, err := h.readForm(r, func(fields map[string]string) (uploadRules, error) {
		t := r.URL.Query().Get("type")
		if t == "" {
			t = fields["type"]
		}
		if t == "" {
			return uploadRules{}, apperr.InvalidInput("type is required before the files")
		}
		op = entity.Operation(strings.ToLower(t))
		if !op.Valid() {
			return uploadRules{}, apperr.InvalidInput("unknown job type")
		}
		return h.rulesFor(op), nil
	})
	if err != nil {
		fail(w, r, h.log, err)
		return
	}

	inputs := form.batch.Paths()
	params, err := h.conv.Prepare(op, inputs, form.raw())
	if err != nil {
		form.discard()
		fail(w, r, h.log, err)
		return
	}

	// from here the worker owns the inputs
	id, err := h.jobs.Submit(r.Context(), service.SubmitRequest{Operation: op, Inputs: inputs, Params: params})
	if err != nil {
		form.discard()
		fail(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusAccepted, createJobResp{JobID: id.String()})
}

// GetJob godoc
// @Summary Get job status
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobStatusResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 503 {object} apiError
// @Router /api/jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	if _, err := uuid.Parse(idStr); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	v, err := h.jobs.Status(r.Context(), idStr)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, jobStatusResp{
		Status:      v.Status,
		Progress:    v.Progress,
		ResultURL:   v.ResultURL,
		ContentType: v.ContentType,
		Message:     v.Message,
	})
}

// DownloadJob godoc
// @Summary Download a finished job's result
// @Tags jobs
// @Produce octet-stream
// @Param id path string true "job id (uuid)"
// @Success 200 {file} file
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 503 {object} apiError
// @Router /api/jobs/{id}/download [get]
func (h *Handler) DownloadJob(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	if _, err := uuid.Parse(idStr); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	mf, err := h.jobs.FetchResult(r.Context(), idStr)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}

	if err := serveAttachment(w, r, mf.Path, mf.ContentType, "result"+filepath.Ext(mf.Path)); err != nil {
		fail(w, r, h.log, err)
	}
}

// isCanonicalUUID4 accepts only the lowercase hyphenated form of a v4 uuid,
// the form ids are handed out in.
func isCanonicalUUID4(s string) bool {
	u, err := uuid.Parse(s)
	return err == nil && u.Version() == 4 && u.String() == s
}
