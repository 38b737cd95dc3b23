package api

import (
	"context"
	"errors"
	"net/http"

	"ohlcv-engine/internal/model"
	"ohlcv-engine/internal/prefs"
)

// Error kinds for failures outside the engine taxonomy.
const (
	KindBadRequest  = "BadRequest"
	KindNotFound    = "NotFound"
	KindForbidden   = "Forbidden"
	KindConflict    = "Conflict"
	KindUnavailable = "Unavailable"
	KindInternal    = "Internal"
)

// ErrorBody is the wire form of a failed command.
type ErrorBody struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
	Line   int    `json:"line,omitempty"`
}

func errorBody(err error) ErrorBody {
	var e *model.Error
	if errors.As(err, &e) {
		return ErrorBody{Kind: string(e.Kind), Detail: err.Error(), Line: e.Line}
	}
	return ErrorBody{Kind: kindOf(err), Detail: err.Error()}
}

func kindOf(err error) string {
	switch {
	case isBadRequest(err),
		errors.Is(err, prefs.ErrNameRequired),
		errors.Is(err, prefs.ErrPathRequired):
		return KindBadRequest
	case errors.Is(err, prefs.ErrPresetNotFound):
		return KindNotFound
	case errors.Is(err, prefs.ErrConflict):
		return KindConflict
	case errors.Is(err, prefs.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	}
	return KindInternal
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch model.KindOf(err) {
	case model.KindFileNotFound:
		return http.StatusNotFound
	case model.KindParse, model.KindInvalidTimestamp, model.KindInvalidInterval:
		return http.StatusUnprocessableEntity
	case model.KindCacheIO, model.KindCacheInconsistent:
		return http.StatusInternalServerError
	}
	switch kindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
