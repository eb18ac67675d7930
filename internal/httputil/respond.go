// Package httputil provides JSON response helpers shared by middleware and
// handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/careslot/careslot/internal/errors"
)

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteErrorResponse writes the standard error envelope.
func WriteErrorResponse(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorBody{Error: errorPayload{Code: code, Message: message}})
}

// WriteError maps err onto the error envelope. Unknown errors become a
// generic 500 so internal detail never reaches clients.
func WriteError(w http.ResponseWriter, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		svcErr = errors.Internal("", err)
	}
	WriteErrorResponse(w, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message)
}

// Unauthorized writes a 401 with an optional message.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "authentication required"
	}
	WriteErrorResponse(w, http.StatusUnauthorized, string(errors.CodeUnauthorized), message)
}

// DecodeJSON decodes a request body, rejecting unknown fields.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Validation("invalid request body")
	}
	return nil
}
