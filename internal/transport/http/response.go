package httptransport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"doc-convert-service/internal/apperr"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// fail maps err to its status and a client-safe message. Internal detail
// (tool stderr, store errors) only reaches the log.
func fail(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	kind := apperr.KindOf(err)
	code := apperr.HTTPStatus(kind)

	ev := log.Debug()
	if code >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).
		Str("req_id", middleware.GetReqID(r.Context())).
		Str("kind", string(kind)).
		Int("status", code).
		Msg("request failed")

	writeErr(w, code, apperr.PublicMessage(err))
}

// serveAttachment streams the file at path as a download. Range and
// conditional requests are handled by http.ServeContent.
func serveAttachment(w http.ResponseWriter, r *http.Request, path, contentType, filename string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperr.NotFound("result not found")
		}
		return apperr.Wrap(apperr.KindInternal, "open result", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "stat result", err)
	}
	if filename == "" {
		filename = filepath.Base(path)
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	h.Set("Cache-Control", "no-store")
	http.ServeContent(w, r, filename, fi.ModTime(), f)
	return nil
}
