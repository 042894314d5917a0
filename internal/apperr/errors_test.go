package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"doc-convert-service/internal/apperr"
)

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := apperr.PayloadTooLarge("file exceeds size limit")
	wrapped := fmt.Errorf("ingest: %w", base)

	assert.Equal(t, apperr.KindPayloadTooLarge, apperr.KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, apperr.PayloadTooLarge("")))
	assert.False(t, errors.Is(wrapped, apperr.NotFound("")))
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindInvalidInput:         http.StatusBadRequest,
		apperr.KindUnsupportedMediaType: http.StatusUnsupportedMediaType,
		apperr.KindPayloadTooLarge:      http.StatusRequestEntityTooLarge,
		apperr.KindNotFound:             http.StatusNotFound,
		apperr.KindInvalidPath:          http.StatusNotFound,
		apperr.KindToolFailure:          http.StatusInternalServerError,
		apperr.KindTimeout:              http.StatusInternalServerError,
		apperr.KindServiceUnavailable:   http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		assert.Equal(t, want, apperr.HTTPStatus(kind), string(kind))
	}
}

func TestPublicMessage_HidesToolDetail(t *testing.T) {
	err := apperr.ToolFailure("gs", errors.New("GPL Ghostscript: /secret/path unreadable"))

	msg := apperr.PublicMessage(err)
	assert.Equal(t, "conversion failed", msg)
	assert.NotContains(t, msg, "/secret/path")

	assert.Equal(t, "conversion timed out", apperr.PublicMessage(apperr.Timeout("gs", nil)))
	assert.Equal(t, "bad ranges", apperr.PublicMessage(apperr.InvalidInput("bad ranges")))
	assert.Equal(t, "internal error", apperr.PublicMessage(errors.New("raw")))
}
