// Package apperr is the error taxonomy shared by validation, conversion and the job queue.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindUnsupportedMediaType Kind = "unsupported_media_type"
	KindPayloadTooLarge      Kind = "payload_too_large"
	KindNotFound             Kind = "not_found"
	KindInvalidPath          Kind = "invalid_path"
	KindToolFailure          Kind = "tool_failure"
	KindTimeout              Kind = "timeout"
	KindServiceUnavailable   Kind = "service_unavailable"
	KindInternal             Kind = "internal"
)

// Error carries a client-safe message (Msg) and the internal cause (Err).
// Only Msg ever leaves the process.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.NotFound("")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Msg: msg, Err: err} }

func InvalidInput(msg string) *Error         { return New(KindInvalidInput, msg) }
func UnsupportedMediaType(msg string) *Error { return New(KindUnsupportedMediaType, msg) }
func PayloadTooLarge(msg string) *Error      { return New(KindPayloadTooLarge, msg) }
func NotFound(msg string) *Error             { return New(KindNotFound, msg) }
func InvalidPath(msg string) *Error          { return New(KindInvalidPath, msg) }
func ServiceUnavailable(msg string) *Error   { return New(KindServiceUnavailable, msg) }

func ToolFailure(tool string, err error) *Error {
	return Wrap(KindToolFailure, tool+" failed", err)
}

func Timeout(tool string, err error) *Error {
	return Wrap(KindTimeout, tool+" timed out", err)
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindNotFound, KindInvalidPath:
		return http.StatusNotFound
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text a client may see for err.
// Tool and internal failures never expose their cause.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	switch e.Kind {
	case KindToolFailure, KindInternal:
		return "conversion failed"
	case KindTimeout:
		return "conversion timed out"
	}
	return e.Msg
}
