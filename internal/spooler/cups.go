package spooler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/italolelis/print_agent/internal/logctx"
	"github.com/italolelis/print_agent/internal/printer"
)

// CUPS drives the lpstat and lp commands available on Linux and macOS.
type CUPS struct {
	runner Runner
}

// NewCUPS creates a CUPS backend.
func NewCUPS(runner Runner) *CUPS {
	return &CUPS{runner: runner}
}

// Name implements Spooler.
func (c *CUPS) Name() string {
	return KindCUPS
}

// Printers lists the CUPS destinations. Detail and default lookups are best effort.
func (c *CUPS) Printers(ctx context.Context) ([]printer.Printer, error) {
	out, err := c.runner.Run(ctx, "lpstat", "-e")
	if err != nil {
		return nil, fmt.Errorf("failed to list destinations: %w", err)
	}

	names := parseLines(out)
	if len(names) == 0 {
		return []printer.Printer{}, nil
	}

	logger := logctx.LoggerFromContext(ctx)

	details := map[string]cupsDetail{}

	if out, err := c.runner.Run(ctx, "lpstat", "-l", "-p"); err != nil {
		logger.WarnContext(ctx, "failed to read printer details", "err", err)
	} else {
		details = parseCUPSDetails(out)
	}

	defaultName := ""

	if out, err := c.runner.Run(ctx, "lpstat", "-d"); err != nil {
		logger.DebugContext(ctx, "no default destination", "err", err)
	} else {
		defaultName = parseCUPSDefault(out)
	}

	printers := make([]printer.Printer, 0, len(names))

	for _, name := range names {
		d := details[name]

		printers = append(printers, printer.Printer{
			Name:        name,
			DisplayName: d.description,
			Description: d.description,
			Status:      d.status,
			IsDefault:   name == defaultName,
		})
	}

	return printers, nil
}

// Print submits path with lp.
func (c *CUPS) Print(ctx context.Context, path string, opts Options) error {
	if opts.Printer == "" {
		return errors.New("no printer given")
	}

	args := []string{"-d", opts.Printer}
	if opts.Copies > 0 {
		args = append(args, "-n", strconv.Itoa(opts.Copies))
	}

	args = append(args, "--", path)

	out, err := c.runner.Run(ctx, "lp", args...)
	if err != nil {
		return err
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "job queued", "printer", opts.Printer, "lp_output", strings.TrimSpace(string(out)))

	return nil
}

type cupsDetail struct {
	status      string
	description string
}

func parseLines(out []byte) []string {
	var lines []string

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}

// parseCUPSDetails reads `lpstat -l -p` output. Each printer starts with an
// unindented "printer NAME ..." line followed by indented attributes.
func parseCUPSDetails(out []byte) map[string]cupsDetail {
	details := map[string]cupsDetail{}

	var current string

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "printer ") {
			fields := strings.Fields(line)
			if len(fields) < 3 {
				current = ""

				continue
			}

			current = fields[1]
			details[current] = cupsDetail{status: cupsStatus(fields[2:])}

			continue
		}

		if current == "" {
			continue
		}

		attr := strings.TrimSpace(line)
		if desc, ok := strings.CutPrefix(attr, "Description:"); ok {
			d := details[current]
			d.description = strings.TrimSpace(desc)
			details[current] = d
		}
	}

	return details
}

func cupsStatus(words []string) string {
	switch {
	case len(words) >= 2 && words[0] == "is":
		return strings.TrimSuffix(words[1], ".")
	case words[0] == "now" || words[0] == "printing":
		return "printing"
	case words[0] == "disabled":
		return "stopped"
	default:
		return "unknown"
	}
}

func parseCUPSDefault(out []byte) string {
	line := strings.TrimSpace(string(out))

	if _, name, ok := strings.Cut(line, "destination:"); ok {
		return strings.TrimSpace(name)
	}

	return ""
}
