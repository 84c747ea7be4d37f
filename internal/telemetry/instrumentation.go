package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes stay bounded: operation and component names, status values and
// printer backends. URLs, file paths, printer names and job ids belong in logs.

const (
	statusSuccess = "success"
	statusError   = "error"
)

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	span.SetAttributes(
		attribute.String("status", statusOf(err)),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// InstrumentSubmit instruments one print submission end to end.
func (t *Telemetry) InstrumentSubmit(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.printJobsActive.Add(ctx, 1)
	defer t.printJobsActive.Add(ctx, -1)

	err := t.InstrumentOperation(ctx, "print_submit", "dispatcher", fn)

	t.RecordPrintJob(ctx, statusOf(err), time.Since(start))

	return err
}

// InstrumentSpool instruments the hand-off to the OS print spooler.
func (t *Telemetry) InstrumentSpool(ctx context.Context, backend string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	return t.InstrumentOperation(ctx, "spool", "spooler", func(ctx context.Context) error {
		ctx, span := t.tracer.Start(ctx, "spool_"+backend)
		defer span.End()

		span.SetAttributes(attribute.String("spooler.backend", backend))

		return fn(ctx)
	})
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentRefresh instruments a printer discovery refresh. count reports the
// number of printers after the refresh and is only read on success.
func (t *Telemetry) InstrumentRefresh(ctx context.Context, count func() int, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "printer_refresh", "discovery", fn)

	known := 0
	if err == nil {
		known = count()
	}

	t.RecordRefresh(ctx, statusOf(err), known)

	return err
}

func statusOf(err error) string {
	if err != nil {
		return statusError
	}

	return statusSuccess
}
