package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"newsintel/internal/core"
)

// Health check response
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Status response
type StatusResponse struct {
	Version      string         `json:"version"`
	Uptime       string         `json:"uptime"`
	Domain       string         `json:"domain"`
	CurrentRound *core.Round    `json:"current_round,omitempty"`
	Database     DatabaseStatus `json:"database"`
}

// DatabaseStatus represents database health
type DatabaseStatus struct {
	Connected bool `json:"connected"`
	Articles  int  `json:"articles"`
	Events    int  `json:"events"`
}

// Version is reported by /api/status. Set at build time with -ldflags.
var Version = "dev"

var serverStartTime = time.Now()

// handleHealth handles the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := s.db.Ping(r.Context()); err != nil {
		checks["database"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Checks: checks,
		})
		return
	}

	checks["database"] = "ok"
	checks["llm_provider"] = s.pipeline.Provider().Name()

	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Checks: checks,
	})
}

// handleStatus handles the /api/status endpoint
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dbStatus := DatabaseStatus{Connected: s.db.Ping(ctx) == nil}

	var err error
	if dbStatus.Articles, err = s.db.Articles().Count(ctx); err != nil {
		s.log.Warn("Failed to count articles", "error", err)
	}
	if dbStatus.Events, err = s.db.Events().Count(ctx); err != nil {
		s.log.Warn("Failed to count events", "error", err)
	}

	resp := StatusResponse{
		Version:  Version,
		Uptime:   time.Since(serverStartTime).Round(time.Second).String(),
		Domain:   s.pipeline.Domain(),
		Database: dbStatus,
	}
	if round, err := s.pipeline.Calendar().CurrentRound(ctx, s.pipeline.Now()); err == nil {
		resp.CurrentRound = round
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err)
	}
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError writes a JSON error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

// respondStoreError maps repository errors onto HTTP statuses
func (s *Server) respondStoreError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		s.respondError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, core.ErrConflict):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("Request failed", "resource", what, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to load "+what)
	}
}

// decodeJSON decodes a request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 10<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
