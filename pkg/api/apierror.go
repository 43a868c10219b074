// Package api exposes the REST surface of the Munin core and its
// RFC 7807 Problem Detail error responses.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID links the response to the request's X-Request-ID.
	TraceID string `json:"trace_id,omitempty"`
	// Reason is an extension member carried on 401 responses so clients
	// can distinguish an expired token from a revoked one.
	Reason string `json:"reason,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Status: status,
		Title:  title,
		Detail: detail,
	})
}

func writeProblem(w http.ResponseWriter, problem *ProblemDetail) {
	problem.Type = fmt.Sprintf("https://munin.local/errors/%d", problem.Status)
	problem.TraceID = w.Header().Get("X-Request-ID")

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteUnauthorizedReason writes a 401 whose body names why the token
// was refused ("unknown", "expired", "revoked").
func WriteUnauthorizedReason(w http.ResponseWriter, reason, detail string) {
	writeProblem(w, &ProblemDetail{
		Status: http.StatusUnauthorized,
		Title:  "Unauthorized",
		Detail: detail,
		Reason: reason,
	})
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "Forbidden", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
}

// WriteConflict writes a 409 error response.
func WriteConflict(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusConflict, "Conflict", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// statusForKind maps the component error taxonomy onto HTTP status
// codes. Unknown kinds deliberately fall through to 500.
var statusForKind = map[contracts.Kind]int{
	contracts.KindInputInvalid:       http.StatusBadRequest,
	contracts.KindSignatureInvalid:   http.StatusBadRequest,
	contracts.KindAuthRequired:       http.StatusUnauthorized,
	contracts.KindInvalidCredentials: http.StatusUnauthorized,
	contracts.KindSessionInvalid:     http.StatusUnauthorized,
	contracts.KindPermissionDenied:   http.StatusForbidden,
	contracts.KindDisabled:           http.StatusForbidden,
	contracts.KindUnknownSigner:      http.StatusForbidden,
	contracts.KindNotFound:           http.StatusNotFound,
	contracts.KindConflict:           http.StatusConflict,
	contracts.KindWrongState:         http.StatusConflict,
	contracts.KindKeyNotActive:       http.StatusConflict,
	contracts.KindChainBroken:        http.StatusConflict,
	contracts.KindLocked:             http.StatusTooManyRequests,
}

// WriteDomainError translates a component error into its problem
// response. Storage, encoding and internal failures are masked as 500.
func WriteDomainError(w http.ResponseWriter, err error) {
	kind := contracts.KindOf(err)
	status, ok := statusForKind[kind]
	if !ok {
		WriteInternal(w, err)
		return
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	WriteError(w, status, string(kind), err.Error())
}
