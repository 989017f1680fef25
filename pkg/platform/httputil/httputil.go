// Package httputil maps domain errors onto HTTP responses.
//
// The mapping enforces two disclosure rules from the governance design:
// forbidden and internal responses never carry a reason, and not-found is the
// same shape whether the record is absent or excluded by the confidentiality
// boundary.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "caseguard/pkg/domain-errors"
)

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a coded domain error into an HTTP response.
// Uncoded errors are treated as internal.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}

	status := http.StatusInternalServerError
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation:
		status = http.StatusBadRequest
		body.Description = dErrors.MessageOf(err)
	case dErrors.CodeUnauthorized:
		status = http.StatusUnauthorized
	case dErrors.CodeForbidden:
		// No description: the caller must not learn why access was denied.
		status = http.StatusForbidden
	case dErrors.CodeNotFound:
		// Uniform body for absence and boundary exclusion.
		status = http.StatusNotFound
	case dErrors.CodeConflict:
		status = http.StatusConflict
		body.Description = dErrors.MessageOf(err)
	case dErrors.CodeAuditWriteFailed, dErrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
		body.Description = dErrors.MessageOf(err)
	case dErrors.CodeInvariantViolation, dErrors.CodeInternal:
		status = http.StatusInternalServerError
	}

	WriteJSON(w, status, body)
}
