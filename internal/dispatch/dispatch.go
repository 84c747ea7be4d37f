// Package dispatch runs the download-then-print pipeline for one submission.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/print_agent/internal/fetch"
	"github.com/italolelis/print_agent/internal/logctx"
	"github.com/italolelis/print_agent/internal/notifier"
	"github.com/italolelis/print_agent/internal/printer"
	"github.com/italolelis/print_agent/internal/spooler"
	"github.com/italolelis/print_agent/internal/storage"
	"github.com/italolelis/print_agent/internal/telemetry"
)

const notifyTimeout = 10 * time.Second

// Fetcher downloads a document into a temporary location.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Task, error)
}

// Refresher re-enumerates the OS printers into the registry.
type Refresher interface {
	Refresh(ctx context.Context) ([]printer.Printer, error)
}

// PrintSpooler submits a file to the OS spooler.
type PrintSpooler interface {
	Name() string
	Print(ctx context.Context, path string, opts spooler.Options) error
}

// Request is one print submission as received by the API.
type Request struct {
	URL         string
	PrinterName string
	// Copies is the raw JSON value; see NormalizeCopies.
	Copies json.RawMessage
}

// Result describes a successful submission.
type Result struct {
	JobID   string
	Printer string
	Copies  int
}

// Dispatcher orchestrates validation, printer resolution, download and printing.
type Dispatcher struct {
	registry  *printer.Registry
	discovery Refresher
	fetcher   Fetcher
	spooler   PrintSpooler
	notifier  notifier.Notifier
	jobs      storage.JobWriteRepository
	telemetry *telemetry.Telemetry
	timeout   time.Duration
}

// Option configures optional Dispatcher collaborators.
type Option func(*Dispatcher)

// WithNotifier sets the notification sink.
func WithNotifier(n notifier.Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithJobRecorder records every submission that reaches the download step.
func WithJobRecorder(jobs storage.JobWriteRepository) Option {
	return func(d *Dispatcher) { d.jobs = jobs }
}

// WithTelemetry enables metrics and tracing.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(d *Dispatcher) { d.telemetry = tel }
}

// WithTimeout bounds the download and print steps of one submission.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// New creates a Dispatcher.
func New(registry *printer.Registry, discovery Refresher, fetcher Fetcher, sp PrintSpooler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		discovery: discovery,
		fetcher:   fetcher,
		spooler:   sp,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Validate checks the request shape without touching any collaborator.
func Validate(req Request) error {
	if strings.TrimSpace(req.URL) == "" {
		return &ValidationError{Field: "url", Message: "url is required"}
	}

	if !fetch.IsHTTPURL(req.URL) {
		return &ValidationError{Field: "url", Message: "url must be an http(s) URL"}
	}

	return nil
}

// Submit prints the document at req.URL.
//
// Errors are *ValidationError, *NotFoundError, *fetch.DownloadError or *PrintError.
// The downloaded file is removed before Submit returns on every path.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Result, error) {
	if err := Validate(req); err != nil {
		return Result{}, err
	}

	target := strings.TrimSpace(req.PrinterName)
	if target == "" {
		target = d.registry.Selected()
	}

	if target == "" {
		return Result{}, &ValidationError{Field: "printerName", Message: "No printer selected"}
	}

	if err := d.ensureAvailable(ctx, target); err != nil {
		return Result{}, err
	}

	result := Result{
		JobID:   uuid.New().String(),
		Printer: target,
		Copies:  NormalizeCopies(req.Copies),
	}

	ctx = logctx.With(ctx, "job_id", result.JobID, "printer", target)

	if d.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	d.recordJob(ctx, req.URL, result)

	err := d.telemetry.InstrumentSubmit(ctx, func(ctx context.Context) error {
		return d.fetchAndPrint(ctx, req.URL, result)
	})

	d.finishJob(ctx, result.JobID, err)

	if err != nil {
		return Result{}, err
	}

	return result, nil
}

// SelectPrinter selects name after making sure it exists, refreshing once if needed.
func (d *Dispatcher) SelectPrinter(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}

	if err := d.ensureAvailable(ctx, name); err != nil {
		return err
	}

	d.registry.Select(ctx, name, true)

	return nil
}

// ensureAvailable checks the snapshot and falls back to exactly one refresh.
func (d *Dispatcher) ensureAvailable(ctx context.Context, name string) error {
	if _, ok := d.registry.Lookup(name); ok {
		return nil
	}

	logger := logctx.LoggerFromContext(ctx)
	logger.InfoContext(ctx, "printer not in cached list, refreshing", "printer", name)

	if _, err := d.discovery.Refresh(ctx); err != nil {
		logger.WarnContext(ctx, "refresh failed, using cached printer list", "err", err)
	}

	if _, ok := d.registry.Lookup(name); ok {
		return nil
	}

	return &NotFoundError{Printer: name}
}

func (d *Dispatcher) fetchAndPrint(ctx context.Context, url string, result Result) error {
	logger := logctx.LoggerFromContext(ctx)

	task, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		logger.ErrorContext(ctx, "failed to download document", "url", url, "err", err)
		d.notifyFailure(ctx, result.Printer, err)

		return err
	}

	defer func() {
		if cerr := task.Cleanup(); cerr != nil {
			logger.WarnContext(ctx, "failed to remove downloaded document", "err", cerr)
		}
	}()

	opts := spooler.Options{Printer: result.Printer, Copies: result.Copies}

	err = d.telemetry.InstrumentSpool(ctx, d.spooler.Name(), func(ctx context.Context) error {
		return d.spooler.Print(ctx, task.Path, opts)
	})
	if err != nil {
		perr := &PrintError{Printer: result.Printer, Message: err.Error(), Err: err}

		logger.ErrorContext(ctx, "print failed", "err", err)
		d.notifyFailure(ctx, result.Printer, perr)

		return perr
	}

	label := d.registry.DisplayNameOf(result.Printer)

	logger.InfoContext(ctx, "print job sent", "copies", result.Copies)

	d.notify(ctx, notifier.Notification{
		Kind:    notifier.KindPrintSucceeded,
		Title:   "Print job sent",
		Message: fmt.Sprintf("Printing to %s", label),
		Printer: result.Printer,
	})

	return nil
}

func (d *Dispatcher) notifyFailure(ctx context.Context, target string, err error) {
	d.notify(ctx, notifier.Notification{
		Kind:    notifier.KindPrintFailed,
		Title:   "Print failed",
		Message: err.Error(),
		Printer: target,
	})
}

// notify delivers n in the background so a slow sink never delays the response.
func (d *Dispatcher) notify(ctx context.Context, n notifier.Notification) {
	if d.notifier == nil {
		return
	}

	if n.Time.IsZero() {
		n.Time = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)

	go func() {
		defer cancel()

		if err := d.notifier.Notify(ctx, n); err != nil {
			logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to deliver notification", "kind", n.Kind, "err", err)
		}
	}()
}

func (d *Dispatcher) recordJob(ctx context.Context, url string, result Result) {
	if d.jobs == nil {
		return
	}

	err := d.jobs.RecordJob(ctx, storage.JobRecord{
		ID:        result.JobID,
		URL:       url,
		Printer:   result.Printer,
		Copies:    result.Copies,
		Status:    storage.StatusPrinting,
		CreatedAt: time.Now(),
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record job", "err", err)
		d.telemetry.RecordSystemError(ctx, "ledger", "record")
	}
}

func (d *Dispatcher) finishJob(ctx context.Context, id string, jobErr error) {
	if d.jobs == nil {
		return
	}

	status, msg := storage.StatusSucceeded, ""
	if jobErr != nil {
		status, msg = storage.StatusFailed, jobErr.Error()
	}

	// The submission context may have timed out; the ledger entry should still close.
	ctx = context.WithoutCancel(ctx)

	if err := d.jobs.FinishJob(ctx, id, status, msg, time.Now()); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to update job", "err", err)
		d.telemetry.RecordSystemError(ctx, "ledger", "finish")
	}
}
