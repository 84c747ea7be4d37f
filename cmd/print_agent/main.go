package main

import (
	"log/slog"
	"os"
	"syscall"

	"github.com/italolelis/print_agent/internal/daemon"
	"github.com/judwhite/go-svc"
)

func main() {
	prg := &daemon.Program{}

	// svc.Run handles the Windows service control manager and falls back to waiting
	// for the signals when running in a console.
	if err := svc.Run(prg, syscall.SIGINT, syscall.SIGTERM); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}
