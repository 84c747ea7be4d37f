// Package fetch downloads documents into short-lived temporary directories.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/print_agent/internal/logctx"
	"github.com/italolelis/print_agent/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const (
	// TempDirPattern names every directory created by Fetch.
	TempDirPattern = "print-agent-*"

	defaultFileName  = "document"
	progressInterval = 5 * 1024 * 1024
)

// Config configures a Fetcher.
type Config struct {
	// TempDir is the parent of the per-download directories. Empty means os.TempDir().
	TempDir string
	// Timeout bounds one download. Zero disables it.
	Timeout time.Duration
	// Token, when set, is sent as a bearer token to TokenHosts only.
	Token string
	// TokenHosts lists the host names trusted with Token. Matching ignores case and
	// port. An empty list keeps the token unused.
	TokenHosts []string
}

// Fetcher downloads documents over HTTP(S).
type Fetcher struct {
	client     *http.Client
	authClient *http.Client
	tokenHosts map[string]struct{}
	tempDir    string
	timeout   time.Duration
	telemetry *telemetry.Telemetry
}

// New creates a Fetcher. tel may be nil.
func New(cfg Config, tel *telemetry.Telemetry) *Fetcher {
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	f := &Fetcher{
		client:     client,
		tokenHosts: make(map[string]struct{}, len(cfg.TokenHosts)),
		tempDir:    tempDir,
		timeout:    cfg.Timeout,
		telemetry:  tel,
	}

	for _, h := range cfg.TokenHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			f.tokenHosts[h] = struct{}{}
		}
	}

	if cfg.Token != "" && len(f.tokenHosts) > 0 {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		f.authClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
		f.authClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if !f.trusted(req.URL) {
				return fmt.Errorf("redirect to untrusted host %s", req.URL.Hostname())
			}

			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}

			return nil
		}
	}

	return f
}

func (f *Fetcher) trusted(u *url.URL) bool {
	_, ok := f.tokenHosts[strings.ToLower(u.Hostname())]

	return ok
}

// clientFor returns the token-carrying client for trusted hosts and the plain one
// otherwise.
func (f *Fetcher) clientFor(u *url.URL) *http.Client {
	if f.authClient != nil && f.trusted(u) {
		return f.authClient
	}

	return f.client
}

// IsHTTPURL reports whether raw is an absolute http or https URL.
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Task is a downloaded document. Its owner must call Cleanup exactly once.
type Task struct {
	// Path is the downloaded file.
	Path string
	// Size is the number of bytes written.
	Size int64

	dir string
}

// Dir returns the temporary directory holding the document.
func (t *Task) Dir() string {
	return t.dir
}

// Cleanup removes the task's directory. A directory that is already gone is not
// an error.
func (t *Task) Cleanup() error {
	if t == nil || t.dir == "" {
		return nil
	}

	if err := os.RemoveAll(t.dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", t.dir, err)
	}

	return nil
}

// Fetch downloads rawURL into a fresh temporary directory. On any failure the
// directory is removed before returning and the error is a *DownloadError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Task, error) {
	logger := logctx.LoggerFromContext(ctx).With("url", rawURL)
	start := time.Now()

	if f.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	dir, err := os.MkdirTemp(f.tempDir, TempDirPattern)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Reason: "could not create temporary directory", Err: err}
	}

	task := &Task{dir: dir, Path: filepath.Join(dir, fileNameFor(rawURL))}

	if err := f.download(ctx, rawURL, task); err != nil {
		f.telemetry.RecordDownload(ctx, "error", task.Size, time.Since(start))

		if cerr := task.Cleanup(); cerr != nil {
			logger.WarnContext(ctx, "failed to remove temporary directory", "dir", dir, "err", cerr)
		}

		return nil, err
	}

	f.telemetry.RecordDownload(ctx, "success", task.Size, time.Since(start))

	logger.InfoContext(ctx, "document downloaded",
		"size", humanize.Bytes(uint64(task.Size)),
		"duration_ms", time.Since(start).Milliseconds())

	return task, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL string, task *Task) error {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &DownloadError{URL: rawURL, Reason: "invalid request", Err: err}
	}

	resp, err := f.clientFor(req.URL).Do(req)
	if err != nil {
		return &DownloadError{URL: rawURL, Reason: err.Error(), Err: err}
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DownloadError{URL: rawURL, StatusCode: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}

	out, err := os.OpenFile(task.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return &DownloadError{URL: rawURL, Reason: "could not create file", Err: err}
	}

	defer out.Close()

	if resp.ContentLength > 0 {
		logger.DebugContext(ctx, "downloading document", "size", humanize.Bytes(uint64(resp.ContentLength)))
	}

	pr := newProgressReader(resp.Body, resp.ContentLength, progressInterval, func(read, total int64) {
		logger.DebugContext(ctx, "download progress",
			"downloaded", humanize.Bytes(uint64(read)),
			"total", humanize.Bytes(uint64(max(total, 0))))
	})

	n, err := io.Copy(out, pr)
	task.Size = n

	if err != nil {
		return &DownloadError{URL: rawURL, StatusCode: resp.StatusCode, Reason: "interrupted: " + err.Error(), Err: err}
	}

	if n == 0 {
		return &DownloadError{URL: rawURL, StatusCode: resp.StatusCode, Reason: "empty response body"}
	}

	if err := out.Close(); err != nil {
		return &DownloadError{URL: rawURL, Reason: "could not write file", Err: err}
	}

	return nil
}

// fileNameFor keeps the URL's base name so the spooler can sniff the type from the
// extension.
func fileNameFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultFileName
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return defaultFileName
	}

	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			return '_'
		default:
			return r
		}
	}, name)

	if name == ".." {
		return defaultFileName
	}

	return name
}
