package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/print_agent/internal/config"
	"github.com/italolelis/print_agent/internal/printer"
	"github.com/italolelis/print_agent/internal/spooler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSpooler struct {
	mu     sync.Mutex
	copies []int
}

func (s *memSpooler) Name() string { return "memory" }

func (s *memSpooler) Printers(context.Context) ([]printer.Printer, error) {
	return []printer.Printer{
		{Name: "Label", DisplayName: "Zebra"},
		{Name: "Office-Printer", DisplayName: "Office", IsDefault: true},
	}, nil
}

func (s *memSpooler) Print(_ context.Context, _ string, opts spooler.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.copies = append(s.copies, opts.Copies)

	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()

	cfg := &config.Config{
		Host:            "127.0.0.1",
		Port:            3321,
		SettingsPath:    filepath.Join(dir, "settings.json"),
		LogLevel:        "DEBUG",
		DBPath:          filepath.Join(dir, "jobs.db"),
		Spooler:         "auto",
		TempDir:         dir,
		StaleTempAfter:  time.Hour,
		CleanupInterval: time.Minute,
		FetchTimeout:    5 * time.Second,
		SubmitTimeout:   10 * time.Second,
		AllowedOrigins:  []string{"*"},
	}
	cfg.Web.ShutdownTimeout = time.Second

	return cfg
}

func call(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())

	return rec.Code, out
}

func TestApp_EndToEnd(t *testing.T) {
	docs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer docs.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t)
	sp := &memSpooler{}

	app, err := NewApp(ctx, cfg, sp)
	require.NoError(t, err)

	defer app.Close(context.Background())

	done := make(chan struct{})

	go func() {
		defer close(done)
		app.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(app.Registry.List()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Office-Printer", app.Registry.Selected(), "OS default auto-selected")
	assert.Equal(t, 3321, app.Port)

	code, out := call(t, app.Handler, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Office-Printer", out["selectedPrinter"])

	code, _ = call(t, app.Handler, http.MethodPost, "/printers/select", `{"name":"Label"}`)
	require.Equal(t, http.StatusOK, code)

	code, out = call(t, app.Handler, http.MethodPost, "/print", `{"url":"`+docs.URL+`/a.pdf","copies":"3"}`)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "Label", out["printer"])
	assert.Equal(t, []int{3}, sp.copies)

	code, out = call(t, app.Handler, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out["jobs"], 1)

	job := out["jobs"].([]any)[0].(map[string]any)
	assert.Equal(t, "succeeded", job["status"])
	assert.Equal(t, "Label", job["printer"])

	data, err := os.ReadFile(cfg.SettingsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"selectedPrinter": "Label"`)

	cancel()
	<-done
}

func TestApp_PersistedSettingsWin(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = ""

	require.NoError(t, os.WriteFile(cfg.SettingsPath, []byte(`{"selectedPrinter":"Label","serverPort":4500}`), 0o600))

	app, err := NewApp(context.Background(), cfg, &memSpooler{})
	require.NoError(t, err)

	defer app.Close(context.Background())

	assert.Equal(t, 4500, app.Port)
	assert.Equal(t, "Label", app.Registry.Selected())

	code, out := call(t, app.Handler, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, out["jobs"])
}

func TestApp_RestartKeepsEnvironmentPort(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = ""
	cfg.Port = 4000

	ctx := context.Background()

	first, err := NewApp(ctx, cfg, &memSpooler{})
	require.NoError(t, err)
	assert.Equal(t, 4000, first.Port)

	_, err = first.Discovery.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, "Office-Printer", first.Registry.Selected())
	first.Close(ctx)

	second, err := NewApp(ctx, cfg, &memSpooler{})
	require.NoError(t, err)

	defer second.Close(ctx)

	assert.Equal(t, 4000, second.Port)
	assert.Equal(t, "Office-Printer", second.Registry.Selected())
}

func TestProgram_BackgroundWorkStopsWhenServerGroupFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = ""
	cfg.Port = 0

	p := &Program{Spooler: &memSpooler{}, cfg: cfg, logger: slog.Default()}
	require.NoError(t, p.Start())

	defer func() {
		p.cancel()
		p.app.Close(context.Background())
	}()

	boom := errors.New("listener lost")
	p.group.Go(func() error { return boom })
	require.NoError(t, p.server.Close())

	done := make(chan error, 1)

	go func() { done <- p.group.Wait() }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("background work kept running after a group failure")
	}
}

func TestApp_Metrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.Enabled = true

	app, err := NewApp(context.Background(), cfg, &memSpooler{})
	require.NoError(t, err)

	defer app.Close(context.Background())

	_, _ = call(t, app.Handler, http.MethodPost, "/printers/refresh", "")

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "printer_refresh_total")
}
