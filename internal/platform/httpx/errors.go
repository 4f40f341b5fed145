// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ErrBadRequest marks malformed request bodies or parameters.
var ErrBadRequest = errors.New("bad request")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State Transition", err.Error())
	case errors.Is(err, shared.ErrAlreadyPosted):
		Problem(w, http.StatusConflict, "Already Posted", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrNoActiveBOM):
		Problem(w, http.StatusUnprocessableEntity, "No Active BOM", err.Error())
	case errors.Is(err, shared.ErrUnbalanced):
		Problem(w, http.StatusUnprocessableEntity, "Unbalanced Journal", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
