package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"tracescan/internal/errors"
)

// ErrorResponse represents an HTTP error response
type ErrorResponse struct {
	Error          string             `json:"error"`
	Code           string             `json:"code"`
	Details        interface{}        `json:"details,omitempty"`
	SuggestedFixes []errors.FixAction `json:"suggestedFixes,omitempty"`
}

// WriteError writes an error response with the given status.
func WriteError(w http.ResponseWriter, err error, status int) {
	resp := ErrorResponse{Error: err.Error(), Code: string(errors.InternalError)}

	var te *errors.TraceError
	if stderrors.As(err, &te) {
		resp.Error = te.Message
		resp.Code = string(te.Code)
		resp.Details = te.Details
		resp.SuggestedFixes = te.SuggestedFixes
	}
	WriteJSON(w, resp, status)
}

// WriteTraceError writes err with the status its code maps to.
func WriteTraceError(w http.ResponseWriter, err error) {
	WriteError(w, err, StatusFor(errors.CodeOf(err)))
}

// StatusFor maps engine error codes to HTTP status codes
func StatusFor(code errors.ErrorCode) int {
	switch code {
	case errors.UnknownMode:
		return http.StatusBadRequest // 400
	case errors.ScanSuperseded:
		return http.StatusConflict // 409
	case errors.CorpusUnreadable, errors.HistoryFailed:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// BadRequest writes a 400 Bad Request error
func BadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, ErrorResponse{Error: message, Code: "BAD_REQUEST"}, http.StatusBadRequest)
}

// NotFound writes a 404 Not Found error
func NotFound(w http.ResponseWriter, message string) {
	WriteJSON(w, ErrorResponse{Error: message, Code: "NOT_FOUND"}, http.StatusNotFound)
}

// MethodNotAllowed writes a 405 with the allowed method.
func MethodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	WriteJSON(w, ErrorResponse{Error: "method not allowed", Code: "METHOD_NOT_ALLOWED"}, http.StatusMethodNotAllowed)
}

// InternalError writes a 500 Internal Server Error
func InternalError(w http.ResponseWriter, message string, err error) {
	WriteError(w, errors.New(errors.InternalError, message, err), http.StatusInternalServerError)
}
