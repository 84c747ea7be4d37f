package printer

import (
	"context"
	"fmt"

	"github.com/italolelis/print_agent/internal/logctx"
	"github.com/italolelis/print_agent/internal/telemetry"
	"golang.org/x/sync/singleflight"
)

// Enumerator lists the printers installed on the machine.
type Enumerator interface {
	Printers(ctx context.Context) ([]Printer, error)
}

// Discovery refreshes the Registry from the OS printer list.
type Discovery struct {
	registry   *Registry
	enumerator Enumerator
	telemetry  *telemetry.Telemetry
	group      singleflight.Group
}

// NewDiscovery creates a discovery gateway. tel may be nil.
func NewDiscovery(registry *Registry, enumerator Enumerator, tel *telemetry.Telemetry) *Discovery {
	return &Discovery{
		registry:   registry,
		enumerator: enumerator,
		telemetry:  tel,
	}
}

// Refresh enumerates the OS printers and replaces the registry snapshot.
//
// On failure the registry keeps its previous snapshot, which is returned together
// with the error. Overlapping calls share a single enumeration.
func (d *Discovery) Refresh(ctx context.Context) ([]Printer, error) {
	ch := d.group.DoChan("refresh", func() (any, error) {
		// The enumeration is shared, so one caller's cancellation must not fail the others.
		return nil, d.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return d.registry.List(), ctx.Err()
	case res := <-ch:
		return d.registry.List(), res.Err
	}
}

func (d *Discovery) refresh(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	return d.telemetry.InstrumentRefresh(ctx, func() int { return len(d.registry.List()) }, func(ctx context.Context) error {
		printers, err := d.enumerator.Printers(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "failed to enumerate printers, keeping previous list",
				"known_printers", len(d.registry.List()), "err", err)

			return fmt.Errorf("failed to enumerate printers: %w", err)
		}

		d.registry.Replace(ctx, printers)

		logger.DebugContext(ctx, "printers refreshed", "printer_count", len(printers))

		return nil
	})
}

// LogStartupDiagnostics refreshes once and logs what was found.
func (d *Discovery) LogStartupDiagnostics(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	printers, err := d.Refresh(ctx)
	if err != nil {
		logger.WarnContext(ctx, "initial printer discovery failed", "err", err)

		return
	}

	logger.InfoContext(ctx, "printers detected", "printer_count", len(printers), "selected", d.registry.Selected())

	for _, p := range printers {
		logger.DebugContext(ctx, "printer", "name", p.Name, "display_name", p.DisplayName, "status", p.Status, "default", p.IsDefault)
	}
}
