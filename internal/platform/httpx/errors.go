package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ProblemOf builds the problem document for err. Internal errors never leak
// their message.
func ProblemOf(err error) ProblemDetail {
	status := StatusOf(err)
	p := ProblemDetail{Title: http.StatusText(status), Status: status}
	if status == http.StatusInternalServerError {
		return p
	}
	if derr, ok := shared.AsError(err); ok {
		p.Detail = derr.Message
		if status == http.StatusUnprocessableEntity {
			p.Errors = derr.Fields
		}
		return p
	}
	p.Detail = err.Error()
	return p
}

// RespondError writes err as a problem response.
func RespondError(w http.ResponseWriter, err error) {
	Problem(w, ProblemOf(err))
}
