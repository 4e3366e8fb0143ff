package rest

import (
	stderrors "errors"
	"encoding/json"
	"net/http"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/errors"
)

// errorResponse is the wire shape of every error
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var resp errorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	writeJSON(w, status, resp)
}

func invalidParam(name string) error {
	return errors.NewValidationError("INVALID_PARAMETER", "invalid value for "+name)
}

// writeAppError maps domain errors onto HTTP responses
func writeAppError(w http.ResponseWriter, err error) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		writeError(w, appErr.StatusCode, appErr.Code, appErr.Message)
		return
	}

	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}
