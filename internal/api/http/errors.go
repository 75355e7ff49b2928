package http

import (
	"encoding/json"
	"errors"
	"net/http"

	verrors "github.com/arkilian/versionstore/internal/errors"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Category  string                 `json:"category,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	switch verrors.GetCategory(err) {
	case verrors.ErrCategoryNotFound:
		return http.StatusNotFound
	case verrors.ErrCategoryValidation:
		switch verrors.GetCode(err) {
		case verrors.CodeUnknownColumns, verrors.CodeInvalidSchema:
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case verrors.ErrCategoryConflict:
		return http.StatusConflict
	case verrors.ErrCategoryStorage:
		if verrors.GetCode(err) == verrors.CodeObjectNotFound {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a service error. Internal failures expose only the
// top-level message, never the cause chain.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{
		Error:     err.Error(),
		Category:  string(verrors.GetCategory(err)),
		Code:      verrors.GetCode(err),
		Retryable: verrors.IsRetryable(err),
		RequestID: GetRequestID(r.Context()),
	}

	var ve *verrors.VersionError
	if errors.As(err, &ve) {
		resp.Error = ve.Message
		resp.Details = ve.Details
	} else {
		resp.Error = "internal server error"
		resp.Category = string(verrors.ErrCategoryInternal)
	}
	writeErrorResponse(w, status, resp)
}

// badRequest writes a 400 for malformed input the service never saw.
func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, http.StatusBadRequest, ErrorResponse{
		Error:     message,
		Category:  string(verrors.ErrCategoryValidation),
		Code:      verrors.CodeInvalidArgument,
		RequestID: GetRequestID(r.Context()),
	})
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	writeJSON(w, statusCode, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
