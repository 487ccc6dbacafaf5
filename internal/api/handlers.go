package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tracescan/internal/history"
	"tracescan/internal/report"
	"tracescan/internal/scan"
	"tracescan/internal/trace"
	"tracescan/internal/version"
)

const maxRequestBody = 1 << 20

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	History   bool      `json:"history"`
}

// ModeInfo describes one scan mode.
type ModeInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScanRequest is the body of POST /scan.
type ScanRequest struct {
	Mode    string      `json:"mode"`
	Options ScanOptions `json:"options"`
}

// ScanOptions tweak one request.
type ScanOptions struct {
	// Format is json (default), yaml or human.
	Format string `json:"format,omitempty"`
	// Record archives the report when the server has a history store.
	Record bool `json:"record,omitempty"`
}

// RelatedResponse is the body of GET /related/:id.
type RelatedResponse struct {
	ID      string              `json:"id"`
	Related []trace.RelatedItem `json:"related"`
}

// HistoryResponse is the body of GET /history.
type HistoryResponse struct {
	Runs []history.TrendPoint `json:"runs"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		NotFound(w, "no such endpoint: "+r.URL.Path)
		return
	}
	WriteJSON(w, map[string]interface{}{
		"service":   "tracescan",
		"version":   version.Version,
		"endpoints": []string{"GET /health", "GET /modes", "POST /scan", "GET /related/{id}", "GET /history"},
	}, http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}
	WriteJSON(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		History:   s.history != nil,
	}, http.StatusOK)
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}
	modes := scan.Modes()
	out := make([]ModeInfo, len(modes))
	for i, m := range modes {
		out[i] = ModeInfo{Name: string(m), Description: m.Description()}
	}
	WriteJSON(w, out, http.StatusOK)
}

// handleScan runs one synchronous scan. Results are never cached; every
// request rescans the corpus.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, http.MethodPost)
		return
	}

	var req ScanRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		BadRequest(w, "failed to read request body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			BadRequest(w, "invalid JSON body: "+err.Error())
			return
		}
	}
	if req.Mode == "" {
		req.Mode = string(scan.ModeAll)
	}

	format := report.FormatJSON
	if req.Options.Format != "" {
		format, err = report.ParseFormat(req.Options.Format)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
	}

	rep, err := s.scanner.Scan(r.Context(), req.Mode)
	if err != nil {
		WriteTraceError(w, err)
		return
	}

	if req.Options.Record && s.history != nil {
		if id, err := s.history.Record(r.Context(), rep); err != nil {
			s.logger.Warn("Failed to archive report", "error", err.Error(), "requestID", GetRequestID(r.Context()))
		} else {
			w.Header().Set("X-Tracescan-Run-ID", id)
		}
	}

	data, err := report.Encode(rep, format)
	if err != nil {
		InternalError(w, "failed to encode report", err)
		return
	}
	contentType := "application/json"
	switch format {
	case report.FormatYAML:
		contentType = "application/yaml"
	case report.FormatHuman:
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/related/"), "/")
	if id == "" {
		BadRequest(w, "identifier is required: /related/{id}")
		return
	}

	items, ok, err := s.scanner.Related(r.Context(), id)
	if err != nil {
		WriteTraceError(w, err)
		return
	}
	if !ok {
		NotFound(w, "identifier "+id+" does not occur in the corpus")
		return
	}
	WriteJSON(w, RelatedResponse{ID: id, Related: items}, http.StatusOK)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.history == nil {
		NotFound(w, "report history is disabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.history.List(r.Context(), r.URL.Query().Get("mode"), limit)
	if err != nil {
		WriteTraceError(w, err)
		return
	}
	WriteJSON(w, HistoryResponse{Runs: history.Trend(runs)}, http.StatusOK)
}
