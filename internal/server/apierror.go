// Package server exposes the engine over HTTP: job endpoints, the SSE event
// stream, engine status, and Prometheus metrics.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Problem implements RFC 7807 (Problem Details for HTTP APIs). All error
// responses use this shape. Code carries the engine error vocabulary
// (E_VALIDATION, E_RESUME_TOO_OLD, ...) when one applies.
type Problem struct {
	// Type is a URI reference identifying the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// Code is the stable engine error code, when one applies.
	Code string `json:"code,omitempty"`
}

// Error implements the error interface.
func (p *Problem) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, title, detail string) {
	problem := &Problem{
		Type:     fmt.Sprintf("https://scribe.invalid/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		Code:     code,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, code, detail string) {
	writeProblem(w, r, http.StatusBadRequest, code, "Bad Request", detail)
}

func writeNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusNotFound, "", "Not Found", detail)
}

func writeConflict(w http.ResponseWriter, r *http.Request, code, detail string) {
	writeProblem(w, r, http.StatusConflict, code, "Conflict", detail)
}

// writeInternal logs the real error and returns a generic body; internal
// details never reach the client.
func (s *Server) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("internal server error", "path", r.URL.Path, "error", err)
	writeProblem(w, r, http.StatusInternalServerError, "",
		"Internal Server Error", "An unexpected error occurred.")
}
