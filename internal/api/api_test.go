package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracescan/internal/config"
	"tracescan/internal/errors"
	"tracescan/internal/history"
	"tracescan/internal/scan"
	"tracescan/internal/slogutil"
	"tracescan/internal/testutil"
)

var corpus = testutil.Tree{
	"REQUIREMENTS.md": "- REQ-CORE-001 - The engine traces things\n",
	"docs/features/core.md": testutil.Lines(
		"## FT-CORE-001 - Thing",
		"",
		"Implements REQ-CORE-001",
		"",
		"- [x] **TC-CORE-001** - Test",
	),
}

func newTestServer(t *testing.T, withHistory bool) *Server {
	t.Helper()
	cfg, err := config.DefaultConfig().Compile()
	require.NoError(t, err)
	logger := slogutil.NewDiscardLogger()
	scanner := scan.New(cfg, logger, scan.WithFS(testutil.MapFS(corpus)))

	var store *history.Store
	if withHistory {
		store, err = history.Open(filepath.Join(t.TempDir(), "history.db"), logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
	}
	return NewServer("127.0.0.1:0", scanner, store, logger)
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)
	rec := do(t, s, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["history"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestModes(t *testing.T) {
	rec := do(t, newTestServer(t, false), http.MethodGet, "/modes", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var modes []ModeInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &modes))
	require.Len(t, modes, len(scan.Modes()))
	assert.Equal(t, "tc-mapping", modes[0].Name)
	assert.NotEmpty(t, modes[0].Description)
}

func TestScan(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name        string
		method      string
		body        string
		wantStatus  int
		wantCode    string
		contentType string
	}{
		{"default mode", http.MethodPost, "", http.StatusOK, "", "application/json"},
		{"tc-mapping", http.MethodPost, `{"mode":"tc-mapping"}`, http.StatusOK, "", "application/json"},
		{"yaml", http.MethodPost, `{"mode":"all","options":{"format":"yaml"}}`, http.StatusOK, "", "application/yaml"},
		{"human", http.MethodPost, `{"options":{"format":"human"}}`, http.StatusOK, "", "text/plain; charset=utf-8"},
		{"unknown mode", http.MethodPost, `{"mode":"everything"}`, http.StatusBadRequest, "UNKNOWN_MODE", "application/json"},
		{"bad format", http.MethodPost, `{"options":{"format":"xml"}}`, http.StatusBadRequest, "BAD_REQUEST", "application/json"},
		{"bad json", http.MethodPost, `{"mode":`, http.StatusBadRequest, "BAD_REQUEST", "application/json"},
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, "/scan", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decode(t, rec)["code"])
			}
		})
	}
}

func TestScanReturnsReport(t *testing.T) {
	rec := do(t, newTestServer(t, false), http.MethodPost, "/scan", `{"mode":"all"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "all", body["mode"])
	assert.Equal(t, "complete", body["status"])
	assert.Equal(t, 100.0, body["alignmentPercent"])
	assert.Equal(t, []interface{}{}, body["entries"])
}

func TestScanUnreadableRoot(t *testing.T) {
	c := config.DefaultConfig()
	c.Root = filepath.Join(t.TempDir(), "missing")
	cfg, err := c.Compile()
	require.NoError(t, err)
	logger := slogutil.NewDiscardLogger()
	s := NewServer("127.0.0.1:0", scan.New(cfg, logger), nil, logger)

	rec := do(t, s, http.MethodPost, "/scan", `{"mode":"all"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "CORPUS_UNREADABLE", decode(t, rec)["code"])
}

func TestScanRecordsHistory(t *testing.T) {
	s := newTestServer(t, true)

	rec := do(t, s, http.MethodPost, "/scan", `{"mode":"tc-mapping","options":{"record":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	runID := rec.Header().Get("X-Tracescan-Run-ID")
	require.NotEmpty(t, runID)

	rec = do(t, s, http.MethodGet, "/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, runID, resp.Runs[0].ID)
	assert.Equal(t, "tc-mapping", resp.Runs[0].Mode)

	rec = do(t, s, http.MethodGet, "/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryDisabled(t *testing.T) {
	rec := do(t, newTestServer(t, false), http.MethodGet, "/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRelated(t *testing.T) {
	s := newTestServer(t, false)

	rec := do(t, s, http.MethodGet, "/related/FT-CORE-001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RelatedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "FT-CORE-001", resp.ID)
	assert.Len(t, resp.Related, 2)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/related/FT-NOPE-001", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/related/", "").Code)
}

func TestUnknownPath(t *testing.T) {
	s := newTestServer(t, false)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/nope", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/", "").Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(slogutil.NewDiscardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode(t, rec)["code"])
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slogutil.NewLogger(&buf, slog.LevelInfo)
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("hello"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[info] HTTP request")
	assert.Contains(t, lines[0], "status=200")
	assert.Contains(t, lines[0], "bytes=5")
	assert.Contains(t, lines[1], "[warn] HTTP request")
	assert.Contains(t, lines[1], "status=503")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code errors.ErrorCode
		want int
	}{
		{errors.UnknownMode, http.StatusBadRequest},
		{errors.ScanSuperseded, http.StatusConflict},
		{errors.CorpusUnreadable, http.StatusServiceUnavailable},
		{errors.HistoryFailed, http.StatusServiceUnavailable},
		{errors.ConfigInvalid, http.StatusInternalServerError},
		{errors.InternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.code))
		})
	}
}
