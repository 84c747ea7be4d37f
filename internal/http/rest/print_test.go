package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/print_agent/internal/dispatch"
	"github.com/italolelis/print_agent/internal/fetch"
	"github.com/italolelis/print_agent/internal/printer"
	"github.com/italolelis/print_agent/internal/spooler"
	"github.com/italolelis/print_agent/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSpooler struct {
	mu   sync.Mutex
	err  error
	opts []spooler.Options
}

func (s *stubSpooler) Name() string { return "stub" }

func (s *stubSpooler) Print(_ context.Context, path string, opts spooler.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return err
	}

	s.opts = append(s.opts, opts)

	return s.err
}

func (s *stubSpooler) Printers(context.Context) ([]printer.Printer, error) {
	return []printer.Printer{{Name: "Office-Printer", DisplayName: "Office"}, {Name: "Label"}}, nil
}

type stubJobs struct {
	jobs []storage.JobRecord
	err  error
	got  int
}

func (s *stubJobs) RecentJobs(_ context.Context, limit int) ([]storage.JobRecord, error) {
	s.got = limit

	return s.jobs, s.err
}

type env struct {
	t        *testing.T
	registry *printer.Registry
	spooler  *stubSpooler
	docs     *httptest.Server
	tempDir  string
	handler  http.Handler
}

func newEnv(t *testing.T, docHandler http.HandlerFunc, jobs storage.JobReadRepository) *env {
	t.Helper()

	if docHandler == nil {
		docHandler = func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("%PDF-1.4 sheet")) }
	}

	e := &env{
		t:        t,
		registry: printer.NewRegistry(nil, ""),
		spooler:  &stubSpooler{},
		docs:     httptest.NewServer(docHandler),
		tempDir:  t.TempDir(),
	}
	t.Cleanup(e.docs.Close)

	discovery := printer.NewDiscovery(e.registry, e.spooler, nil)
	fetcher := fetch.New(fetch.Config{TempDir: e.tempDir}, nil)
	d := dispatch.New(e.registry, discovery, fetcher, e.spooler)

	api := NewPrintHandler(e.registry, discovery, d, jobs, "127.0.0.1", 3321)
	e.handler = NewRouter(RouterConfig{API: api, AllowedOrigins: []string{"*"}})

	return e
}

func (e *env) do(method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	e.t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())

	return rec, out
}

func (e *env) tempDirs() []string {
	matches, err := filepath.Glob(filepath.Join(e.tempDir, fetch.TempDirPattern))
	require.NoError(e.t, err)

	return matches
}

func TestStatus(t *testing.T) {
	e := newEnv(t, nil, nil)

	rec, out := e.do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, true, out["ok"])
	assert.Nil(t, out["selectedPrinter"])
	assert.Equal(t, map[string]any{"host": "127.0.0.1", "port": float64(3321), "status": "running"}, out["server"])
	assert.Equal(t, []any{}, out["printers"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRefreshThenStatus(t *testing.T) {
	e := newEnv(t, nil, nil)

	rec, out := e.do(http.MethodPost, "/printers/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out["printers"], 2)

	first := out["printers"].([]any)[0].(map[string]any)
	assert.Equal(t, "Office-Printer", first["name"])
	assert.Equal(t, "Office", first["displayName"])

	_, out = e.do(http.MethodGet, "/status", "")
	assert.Equal(t, "Office-Printer", out["selectedPrinter"], "first printer auto-selected")
}

func TestSelectAndPrint_EndToEnd(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.registry.Replace(context.Background(), []printer.Printer{{Name: "Label"}, {Name: "Office-Printer"}})

	rec, out := e.do(http.MethodPost, "/printers/select", `{"name":"Office-Printer"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"ok": true, "selectedPrinter": "Office-Printer"}, out)

	rec, out = e.do(http.MethodPost, "/print", `{"url":"`+e.docs.URL+`/a.pdf","copies":2}`)
	require.Equal(t, http.StatusOK, rec.Code, out)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "Office-Printer", out["printer"])
	assert.NotEmpty(t, out["jobId"])

	require.Len(t, e.spooler.opts, 1)
	assert.Equal(t, spooler.Options{Printer: "Office-Printer", Copies: 2}, e.spooler.opts[0])
	assert.Empty(t, e.tempDirs())
}

func TestSelect_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing name", `{}`, http.StatusBadRequest},
		{"non-string name", `{"name":42}`, http.StatusBadRequest},
		{"blank name", `{"name":"  "}`, http.StatusBadRequest},
		{"invalid json", `{`, http.StatusBadRequest},
		{"unknown printer", `{"name":"Ghost"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil, nil)

			rec, out := e.do(http.MethodPost, "/printers/select", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, false, out["ok"])
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestSelect_FoundAfterRefresh(t *testing.T) {
	e := newEnv(t, nil, nil)

	rec, out := e.do(http.MethodPost, "/printers/select", `{"name":"Label"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Label", out["selectedPrinter"])
}

func TestPrint_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    func(docs string) string
		doc     http.HandlerFunc
		spooler error
		status  int
		message string
	}{
		{
			name:   "missing url",
			body:   func(string) string { return `{}` },
			status: http.StatusBadRequest,
		},
		{
			name:   "non-string url",
			body:   func(string) string { return `{"url":5}` },
			status: http.StatusBadRequest,
		},
		{
			name:   "ftp url",
			body:   func(string) string { return `{"url":"ftp://x"}` },
			status: http.StatusBadRequest,
		},
		{
			name:   "not a url",
			body:   func(string) string { return `{"url":"not a url"}` },
			status: http.StatusBadRequest,
		},
		{
			name:    "unknown printer",
			body:    func(docs string) string { return `{"url":"` + docs + `/a.pdf","printerName":"Ghost"}` },
			status:  http.StatusNotFound,
			message: "Ghost",
		},
		{
			name:    "empty download",
			body:    func(docs string) string { return `{"url":"` + docs + `/a.pdf"}` },
			doc:     func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
			status:  http.StatusInternalServerError,
			message: "empty response body",
		},
		{
			name:    "download status",
			body:    func(docs string) string { return `{"url":"` + docs + `/a.pdf"}` },
			doc:     func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusForbidden) },
			status:  http.StatusInternalServerError,
			message: "HTTP 403",
		},
		{
			name:    "print failure",
			body:    func(docs string) string { return `{"url":"` + docs + `/a.pdf"}` },
			spooler: errors.New("lp: printer is offline"),
			status:  http.StatusInternalServerError,
			message: "lp: printer is offline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.doc, nil)
			e.spooler.err = tt.spooler
			e.registry.Replace(context.Background(), []printer.Printer{{Name: "Office-Printer"}})

			rec, out := e.do(http.MethodPost, "/print", tt.body(e.docs.URL))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, false, out["ok"])
			assert.Contains(t, out["error"], tt.message)
			assert.Empty(t, e.tempDirs(), "no temporary directory is left behind")
		})
	}
}

func TestPrint_NoPrinterSelected(t *testing.T) {
	e := newEnv(t, nil, nil)

	rec, out := e.do(http.MethodPost, "/print", `{"url":"`+e.docs.URL+`/a.pdf"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No printer selected", out["error"])
}

func TestPrint_InvalidCopiesIgnored(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.registry.Replace(context.Background(), []printer.Printer{{Name: "Office-Printer"}})

	rec, _ := e.do(http.MethodPost, "/print", `{"url":"`+e.docs.URL+`/a.pdf","copies":"many"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, e.spooler.opts, 1)
	assert.Zero(t, e.spooler.opts[0].Copies)
}

func TestJobs(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	jobs := &stubJobs{jobs: []storage.JobRecord{{ID: "j1", URL: "https://example.com/a.pdf", Printer: "Office", Status: storage.StatusSucceeded, CreatedAt: created}}}

	e := newEnv(t, nil, jobs)

	rec, out := e.do(http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultJobLimit, jobs.got)
	require.Len(t, out["jobs"], 1)
	assert.Equal(t, "j1", out["jobs"].([]any)[0].(map[string]any)["id"])

	_, _ = e.do(http.MethodGet, "/jobs?limit=10000", "")
	assert.Equal(t, maxJobLimit, jobs.got)

	rec, _ = e.do(http.MethodGet, "/jobs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	jobs.err = errors.New("database is locked")
	rec, _ = e.do(http.MethodGet, "/jobs", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestJobs_LedgerDisabled(t *testing.T) {
	e := newEnv(t, nil, nil)

	rec, out := e.do(http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, out["jobs"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&dispatch.ValidationError{}))
	assert.Equal(t, http.StatusNotFound, statusFor(&dispatch.NotFoundError{}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(&fetch.DownloadError{}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(&dispatch.PrintError{}))
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/print", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	assert.Contains(t, []int{http.StatusOK, http.StatusNoContent}, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
