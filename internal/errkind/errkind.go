// Package errkind classifies errors from the store, registry and engine
// into stable codes shared by the CLI and the review API.
package errkind

import (
	"context"
	"errors"
	"net/http"

	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/lifecycle"
	"github.com/roach88/postbox/internal/message"
)

// Error codes.
const (
	CodeSchema      = "E_SCHEMA"
	CodeTransition  = "E_TRANSITION"
	CodeNotFound    = "E_NOT_FOUND"
	CodeConflict    = "E_CONFLICT"
	CodeUnavailable = "E_UNAVAILABLE"
	CodeIncomplete  = "E_INCOMPLETE"
	CodeCanceled    = "E_CANCELED"
	CodeInternal    = "E_INTERNAL"
)

// Code returns the code for err. Wrapped errors are classified by the
// outermost kind that applies, so an incomplete transition caused by an
// outage reports E_INCOMPLETE.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case lifecycle.IsIncomplete(err):
		return CodeIncomplete
	case lifecycle.IsNotFound(err):
		return CodeNotFound
	case message.IsInvalidTransition(err):
		return CodeTransition
	case message.IsSchemaError(err):
		return CodeSchema
	case docstore.IsConflict(err):
		return CodeConflict
	case docstore.IsUnavailable(err):
		return CodeUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	}
	return CodeInternal
}

// HTTPStatus maps a code to a response status.
func HTTPStatus(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case CodeSchema:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTransition, CodeConflict:
		return http.StatusConflict
	case CodeUnavailable, CodeIncomplete:
		return http.StatusServiceUnavailable
	case CodeCanceled:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Retriable reports whether repeating the same call may succeed.
func Retriable(code string) bool {
	switch code {
	case CodeConflict, CodeUnavailable, CodeIncomplete:
		return true
	}
	return false
}
