// Package cleanup removes download directories left behind by a crashed or killed agent.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/print_agent/internal/logctx"
)

// DeleteStaleDirs removes directories in dir matching pattern whose modification time
// is older than maxAge. It returns the number of directories removed.
func DeleteStaleDirs(ctx context.Context, dir, pattern string, maxAge time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // removed by its owner meanwhile
			}

			logger.ErrorContext(ctx, "failed to stat temporary directory", "dir", path, "err", err)

			continue
		}

		if !info.IsDir() || now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			logger.ErrorContext(ctx, "failed to delete stale directory", "dir", path, "err", err)

			continue
		}

		removed++

		logger.InfoContext(ctx, "deleted stale directory", "dir", path, "age", now.Sub(info.ModTime()).Round(time.Second))
	}

	return removed, nil
}

// Sweeper periodically runs DeleteStaleDirs.
type Sweeper struct {
	Dir      string
	Pattern  string
	MaxAge   time.Duration
	Interval time.Duration
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (s Sweeper) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	s.sweep(ctx)

	if s.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "stopping temporary directory sweeper")

			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s Sweeper) sweep(ctx context.Context) {
	if _, err := DeleteStaleDirs(ctx, s.Dir, s.Pattern, s.MaxAge); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "temporary directory sweep failed", "dir", s.Dir, "err", err)
	}
}
