package spooler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/italolelis/print_agent/internal/logctx"
	"github.com/italolelis/print_agent/internal/printer"
)

const listPrintersScript = "Get-CimInstance -ClassName Win32_Printer | " +
	"Select-Object Name,Comment,Default,PrinterStatus,WorkOffline | ConvertTo-Json -Compress"

// Windows drives the spooler through PowerShell.
type Windows struct {
	runner Runner
}

// NewWindows creates a Windows backend.
func NewWindows(runner Runner) *Windows {
	return &Windows{runner: runner}
}

// Name implements Spooler.
func (w *Windows) Name() string {
	return KindWindows
}

type win32Printer struct {
	Name          string `json:"Name"`
	Comment       string `json:"Comment"`
	Default       bool   `json:"Default"`
	PrinterStatus int    `json:"PrinterStatus"`
	WorkOffline   bool   `json:"WorkOffline"`
}

// Printers lists the printers known to the Windows spooler.
func (w *Windows) Printers(ctx context.Context) ([]printer.Printer, error) {
	out, err := w.powershell(ctx, listPrintersScript)
	if err != nil {
		return nil, fmt.Errorf("failed to list printers: %w", err)
	}

	raw, err := decodeWin32Printers(out)
	if err != nil {
		return nil, err
	}

	printers := make([]printer.Printer, 0, len(raw))

	for _, p := range raw {
		if p.Name == "" {
			continue
		}

		printers = append(printers, printer.Printer{
			Name:        p.Name,
			DisplayName: p.Name,
			Description: p.Comment,
			Status:      win32Status(p.PrinterStatus, p.WorkOffline),
			IsDefault:   p.Default,
		})
	}

	return printers, nil
}

// Print submits path once per copy with the PrintTo shell verb.
func (w *Windows) Print(ctx context.Context, path string, opts Options) error {
	if opts.Printer == "" {
		return errors.New("no printer given")
	}

	copies := max(opts.Copies, 1)

	script := fmt.Sprintf("Start-Process -FilePath %s -Verb PrintTo -ArgumentList %s -WindowStyle Hidden -Wait",
		psQuote(path), psQuote(`"`+opts.Printer+`"`))

	for i := 0; i < copies; i++ {
		if _, err := w.powershell(ctx, script); err != nil {
			return err
		}
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "job queued", "printer", opts.Printer, "copies", copies)

	return nil
}

func (w *Windows) powershell(ctx context.Context, script string) ([]byte, error) {
	return w.runner.Run(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
}

// decodeWin32Printers accepts both forms ConvertTo-Json emits: an object for a
// single printer and an array otherwise.
func decodeWin32Printers(out []byte) ([]win32Printer, error) {
	trimmed := strings.TrimSpace(string(out))

	switch {
	case trimmed == "":
		return nil, nil
	case strings.HasPrefix(trimmed, "["):
		var list []win32Printer
		if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
			return nil, fmt.Errorf("failed to decode printer list: %w", err)
		}

		return list, nil
	default:
		var one win32Printer
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, fmt.Errorf("failed to decode printer list: %w", err)
		}

		return []win32Printer{one}, nil
	}
}

// win32Status maps Win32_Printer.PrinterStatus.
func win32Status(code int, offline bool) string {
	if offline {
		return "offline"
	}

	switch code {
	case 3:
		return "idle"
	case 4:
		return "printing"
	case 5:
		return "warmup"
	case 6:
		return "stopped"
	case 7:
		return "offline"
	default:
		return "unknown"
	}
}

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
