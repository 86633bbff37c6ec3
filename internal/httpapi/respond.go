package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/connecthub/chat-app/internal/apperr"
)

// errorBody is the JSON shape of every REST error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error to its HTTP status and serializes the taxonomy
// fields. Errors outside the taxonomy are logged and masked as a generic 500
// so internals never leak into responses.
func writeError(w http.ResponseWriter, log *logrus.Logger, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind == apperr.KindInternal {
		log.WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Code:    "INTERNAL_ERROR",
			Message: "internal error",
		})
		return
	}

	writeJSON(w, apperr.HTTPStatus(err), errorBody{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
