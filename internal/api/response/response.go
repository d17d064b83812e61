package response

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in the "code" field of an error envelope.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInvalidJobID      = "INVALID_JOB_ID"
	CodeInvalidStatus     = "INVALID_STATUS"
	CodeUnknownConnector  = "UNKNOWN_CONNECTOR"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeRetryNotAllowed   = "RETRY_NOT_ALLOWED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeShuttingDown      = "SHUTTING_DOWN"
	CodeDegraded          = "DEGRADED"
	CodeNotFound          = "NOT_FOUND"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeNotImplemented    = "NOT_IMPLEMENTED"
	CodeInternal          = "INTERNAL_ERROR"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// NewPaginationMeta computes has_next from the page window and total.
func NewPaginationMeta(limit, offset, total int) PaginationMeta {
	return PaginationMeta{
		Limit:   limit,
		Offset:  offset,
		Total:   total,
		HasNext: offset+limit < total,
	}
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// InternalError writes a 500 without leaking the underlying cause.
func InternalError(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred", nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
