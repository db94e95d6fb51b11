package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/devbridge/marketplace/internal/errors"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes an ErrorResponse with the given status.
func WriteErrorResponse(w http.ResponseWriter, _ *http.Request, status int, code, message string, details map[string]any) {
	WriteJSON(w, status, ErrorResponse{Code: code, Message: message, Details: details})
}

// WriteServiceError renders err using its ServiceError kind. Errors outside
// the taxonomy become an opaque 500.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		svcErr = errors.Internal("internal error", err)
	}
	message := svcErr.Message
	if svcErr.HTTPStatus >= http.StatusInternalServerError {
		message = "internal error"
	}
	WriteErrorResponse(w, r, svcErr.HTTPStatus, svcErr.Code, message, svcErr.Details)
}

// ReadJSON decodes the request body into v, rejecting unknown fields.
func ReadJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.Validation("body", "request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Validation("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}
