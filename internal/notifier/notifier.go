// Package notifier delivers best-effort user notifications about print outcomes and
// printer selection.
package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/italolelis/print_agent/internal/logctx"
)

// Notification kinds.
const (
	KindPrintSucceeded  = "print.succeeded"
	KindPrintFailed     = "print.failed"
	KindPrinterSelected = "printer.selected"
)

// Notification is one user-facing event.
type Notification struct {
	Kind    string    `json:"type"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Printer string    `json:"printer,omitempty"`
	Time    time.Time `json:"time"`
	// Silent notifications update connected UIs but are not shown to the user.
	Silent bool `json:"silent,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error

	for _, nt := range m {
		if nt == nil {
			continue
		}

		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// LogNotifier writes notifications to the context logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	logctx.LoggerFromContext(ctx).InfoContext(ctx, "notification",
		"kind", n.Kind,
		"title", n.Title,
		"message", n.Message,
		"printer", n.Printer,
		"silent", n.Silent)

	return nil
}

// SkipSilent drops silent notifications before they reach next.
func SkipSilent(next Notifier) Notifier {
	return skipSilent{next: next}
}

type skipSilent struct {
	next Notifier
}

func (s skipSilent) Notify(ctx context.Context, n Notification) error {
	if n.Silent {
		return nil
	}

	return s.next.Notify(ctx, n)
}
