// Package daemon runs the print agent as a foreground process or an OS service.
package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/italolelis/print_agent/internal/cleanup"
	"github.com/italolelis/print_agent/internal/config"
	"github.com/italolelis/print_agent/internal/dispatch"
	"github.com/italolelis/print_agent/internal/fetch"
	"github.com/italolelis/print_agent/internal/http/rest"
	"github.com/italolelis/print_agent/internal/logctx"
	"github.com/italolelis/print_agent/internal/notifier"
	"github.com/italolelis/print_agent/internal/printer"
	"github.com/italolelis/print_agent/internal/settings"
	"github.com/italolelis/print_agent/internal/spooler"
	"github.com/italolelis/print_agent/internal/storage"
	"github.com/italolelis/print_agent/internal/storage/sqlite"
	"github.com/italolelis/print_agent/internal/telemetry"
	"github.com/judwhite/go-svc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName   = "print_agent"
	notifyTimeout = 10 * time.Second
)

// Version is injected at build time.
var Version = "dev"

// Program implements svc.Service.
type Program struct {
	// Spooler overrides the OS backend chosen from configuration.
	Spooler spooler.Spooler

	cfg    *config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	app    *App
	server *http.Server
}

var _ svc.Service = (*Program)(nil)

// Init loads the configuration and sets up logging.
func (p *Program) Init(env svc.Environment) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	p.cfg = cfg
	p.logger = slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(p.logger)

	service := false
	if env != nil {
		service = env.IsWindowsService()
	}

	p.logger.Info("print agent starting...", "version", Version, "log_level", cfg.LogLevel, "windows_service", service)

	return nil
}

// Start builds the components and starts serving.
func (p *Program) Start() error {
	p.ctx, p.cancel = context.WithCancel(logctx.WithLogger(context.Background(), p.logger))

	app, err := NewApp(p.ctx, p.cfg, p.Spooler)
	if err != nil {
		p.cancel()

		return err
	}

	p.app = app

	addr := p.cfg.ListenAddr(app.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		app.Close(p.ctx)
		p.cancel()

		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	p.server = &http.Server{
		Handler:      app.Handler,
		ReadTimeout:  p.cfg.Web.ReadTimeout,
		WriteTimeout: p.cfg.Web.WriteTimeout,
		IdleTimeout:  p.cfg.Web.IdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return p.ctx
		},
	}

	var gctx context.Context

	p.group, gctx = errgroup.WithContext(p.ctx)

	p.group.Go(func() error {
		p.logger.Info("print agent listening", "addr", ln.Addr().String())

		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("server error", "err", err)

			return err
		}

		return nil
	})

	p.group.Go(func() error {
		app.Run(gctx)

		return nil
	})

	return nil
}

// Stop drains in-flight requests and releases every component.
func (p *Program) Stop() error {
	p.logger.Info("start shutdown")

	// Give outstanding requests a deadline for completion.
	ctx, cancel := context.WithTimeout(logctx.WithLogger(context.Background(), p.logger), p.cfg.Web.ShutdownTimeout)
	defer cancel()

	if p.server != nil {
		if err := p.server.Shutdown(ctx); err != nil {
			p.logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = p.server.Close(); err != nil {
				p.logger.Error("could not stop server", "err", err)
			}
		}
	}

	if p.cancel != nil {
		p.cancel()
	}

	var err error
	if p.group != nil {
		err = p.group.Wait()
	}

	if p.app != nil {
		p.app.Close(ctx)
	}

	p.logger.Info("print agent stopped")

	return err
}

// App holds the wired components of a running agent.
type App struct {
	Handler   http.Handler
	Port      int
	Registry  *printer.Registry
	Discovery *printer.Discovery

	cfg       *config.Config
	telemetry *telemetry.Telemetry
	hub       *notifier.Hub
	db        *sql.DB
	notifier  notifier.Notifier
}

// NewApp wires every component from cfg. sp overrides the configured spooler backend
// when not nil.
func NewApp(ctx context.Context, cfg *config.Config, sp spooler.Spooler) (*App, error) {
	logger := logctx.LoggerFromContext(ctx)

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if sp == nil {
		if sp, err = spooler.New(strings.ToLower(cfg.Spooler), nil); err != nil {
			return nil, err
		}
	}

	// =========================================================================
	// Settings
	store, err := settings.Load(cfg.SettingsPath)
	if err != nil {
		logger.Error("failed to load settings, using defaults", "path", cfg.SettingsPath, "err", err)
		tel.RecordSystemError(ctx, "settings", "load")
	}

	app := &App{
		Port:      cfg.ResolvePort(store.PersistedPort()),
		cfg:       cfg,
		telemetry: tel,
		hub:       notifier.NewHub(cfg.AllowedOrigins),
	}

	// =========================================================================
	// Job ledger
	var jobs storage.JobRepository

	if cfg.DBPath != "" {
		db, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			logger.Error("failed to open job ledger, continuing without it", "path", cfg.DBPath, "err", err)
			tel.RecordSystemError(ctx, "ledger", "open")
		} else {
			app.db = db
			jobs = sqlite.NewInstrumentedJobRepository(db, tel)
		}
	}

	// =========================================================================
	// Notifications
	notifiers := notifier.Multi{notifier.LogNotifier{}, app.hub}
	if cfg.DiscordWebhookURL != "" {
		notifiers = append(notifiers, notifier.SkipSilent(notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)))
	}

	app.notifier = notifiers

	// =========================================================================
	// Printers
	app.Registry = printer.NewRegistry(store, store.Get().Selected())
	app.Registry.OnSelectionChanged(app.announceSelection)
	app.Discovery = printer.NewDiscovery(app.Registry, sp, tel)

	fetcher := fetch.New(fetch.Config{
		TempDir:    cfg.TempDir,
		Timeout:    cfg.FetchTimeout,
		Token:      cfg.DocumentToken,
		TokenHosts: cfg.DocumentTokenHosts,
	}, tel)

	if cfg.DocumentToken != "" && len(cfg.DocumentTokenHosts) == 0 {
		logger.Warn("document token set without trusted hosts, it will not be sent")
	}
	dispatcher := dispatch.New(app.Registry, app.Discovery, fetcher, sp,
		dispatch.WithNotifier(notifiers),
		dispatch.WithJobRecorder(jobs),
		dispatch.WithTelemetry(tel),
		dispatch.WithTimeout(cfg.SubmitTimeout),
	)

	// =========================================================================
	// HTTP
	api := rest.NewPrintHandler(app.Registry, app.Discovery, dispatcher, jobs, cfg.Host, app.Port)

	var metrics http.Handler
	if tel != nil {
		metrics = tel.Handler()
	}

	router := rest.NewRouter(rest.RouterConfig{
		API:            api,
		Events:         app.hub,
		Metrics:        metrics,
		Telemetry:      tel,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	app.Handler = otelhttp.NewHandler(router, serviceName)

	return app, nil
}

// Run performs the startup discovery and sweeps stale downloads until ctx is done.
func (a *App) Run(ctx context.Context) {
	a.Discovery.LogStartupDiagnostics(ctx)

	cleanup.Sweeper{
		Dir:      a.cfg.TempDir,
		Pattern:  fetch.TempDirPattern,
		MaxAge:   a.cfg.StaleTempAfter,
		Interval: a.cfg.CleanupInterval,
	}.Run(ctx)
}

// Close releases the components. It is safe to call once after Run returned.
func (a *App) Close(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	a.hub.Close()

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Error("failed to close job ledger", "err", err)
		}
	}

	if err := a.telemetry.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown telemetry", "err", err)
	}
}

// announceSelection pushes selection changes to the notifiers. Automatic selections
// are silent.
func (a *App) announceSelection(ctx context.Context, change printer.SelectionChange) {
	n := notifier.Notification{
		Kind:    notifier.KindPrinterSelected,
		Title:   "Printer selected",
		Message: fmt.Sprintf("Printing to %s", change.DisplayName),
		Printer: change.Name,
		Time:    time.Now(),
		Silent:  change.Auto,
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)

	go func() {
		defer cancel()

		if err := a.notifier.Notify(ctx, n); err != nil {
			logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to deliver notification", "kind", n.Kind, "err", err)
		}
	}()
}
