package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/italolelis/print_agent/internal/telemetry"
)

// RouterConfig wires the API, the event stream and the metrics endpoint together.
type RouterConfig struct {
	API            *PrintHandler
	Events         http.Handler // optional
	Metrics        http.Handler // optional
	Telemetry      *telemetry.Telemetry
	AllowedOrigins []string
}

// NewRouter builds the root handler with the shared middleware stack.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(cfg.Telemetry).Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", telemetry.RequestIDHeader},
		ExposedHeaders: []string{telemetry.RequestIDHeader},
		MaxAge:         300,
	}))

	if cfg.Events != nil {
		r.Method(http.MethodGet, "/events", cfg.Events)
	}

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Mount("/", cfg.API.Routes())

	return r
}
