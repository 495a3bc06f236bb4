package handlers

import (
	"net/http"

	apperrors "github.com/signcrate/signcrate/internal/errors"
)

// ErrorResponder writes err as an HTTP response.
type ErrorResponder func(http.ResponseWriter, *http.Request, error)

var errorResponder ErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder routes handler errors through responder; nil restores
// the JSON error body of the errors package.
func SetHTTPErrorResponder(responder ErrorResponder) {
	if responder == nil {
		responder = apperrors.RespondWithError
	}
	errorResponder = responder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	errorResponder(w, r, err)
}
