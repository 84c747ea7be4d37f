package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/print_agent/internal/dispatch"
	"github.com/italolelis/print_agent/internal/logctx"
	"github.com/italolelis/print_agent/internal/printer"
	"github.com/italolelis/print_agent/internal/storage"
)

const (
	maxBodySize     = 1 << 20
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// Refresher re-enumerates the OS printers.
type Refresher interface {
	Refresh(ctx context.Context) ([]printer.Printer, error)
}

// ServerInfo is reported by /status.
type ServerInfo struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Status string `json:"status"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type statusResponse struct {
	OK              bool              `json:"ok"`
	Server          ServerInfo        `json:"server"`
	SelectedPrinter *string           `json:"selectedPrinter"`
	Printers        []printer.Printer `json:"printers"`
}

type selectRequest struct {
	Name any `json:"name"`
}

type selectResponse struct {
	OK              bool   `json:"ok"`
	SelectedPrinter string `json:"selectedPrinter"`
}

type printersResponse struct {
	OK       bool              `json:"ok"`
	Printers []printer.Printer `json:"printers"`
}

type printRequest struct {
	URL         any             `json:"url"`
	PrinterName any             `json:"printerName"`
	Copies      json.RawMessage `json:"copies"`
}

type printResponse struct {
	OK      bool   `json:"ok"`
	Printer string `json:"printer"`
	JobID   string `json:"jobId"`
}

type jobsResponse struct {
	OK   bool                `json:"ok"`
	Jobs []storage.JobRecord `json:"jobs"`
}

// PrintHandler serves the print agent API.
type PrintHandler struct {
	registry   *printer.Registry
	discovery  Refresher
	dispatcher *dispatch.Dispatcher
	jobs       storage.JobReadRepository
	server     ServerInfo
}

// NewPrintHandler creates the API handler. jobs may be nil when the ledger is disabled.
func NewPrintHandler(
	registry *printer.Registry,
	discovery Refresher,
	dispatcher *dispatch.Dispatcher,
	jobs storage.JobReadRepository,
	host string,
	port int,
) *PrintHandler {
	return &PrintHandler{
		registry:   registry,
		discovery:  discovery,
		dispatcher: dispatcher,
		jobs:       jobs,
		server:     ServerInfo{Host: host, Port: port, Status: "running"},
	}
}

func (h *PrintHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/status", h.HandleStatus)
	r.Post("/printers/select", h.HandleSelect)
	r.Post("/printers/refresh", h.HandleRefresh)
	r.Post("/print", h.HandlePrint)
	r.Get("/jobs", h.HandleJobs)

	return r
}

// HandleStatus reports the server, the selection and the cached printers.
func (h *PrintHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		OK:       true,
		Server:   h.server,
		Printers: h.registry.List(),
	}

	if selected := h.registry.Selected(); selected != "" {
		resp.SelectedPrinter = &selected
	}

	respond(r.Context(), w, http.StatusOK, resp)
}

// HandleSelect selects a printer after checking it exists.
func (h *PrintHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req selectRequest
	if err := decode(w, r, &req); err != nil {
		respondError(ctx, w, err)

		return
	}

	name, ok := req.Name.(string)
	if !ok {
		respondError(ctx, w, &dispatch.ValidationError{Field: "name", Message: "name is required"})

		return
	}

	if err := h.dispatcher.SelectPrinter(ctx, name); err != nil {
		respondError(ctx, w, err)

		return
	}

	respond(ctx, w, http.StatusOK, selectResponse{OK: true, SelectedPrinter: h.registry.Selected()})
}

// HandleRefresh re-enumerates the printers. A failed enumeration still answers with
// the cached list.
func (h *PrintHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	printers, err := h.discovery.Refresh(ctx)
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "refresh failed, returning cached printers", "err", err)
	}

	if printers == nil {
		printers = []printer.Printer{}
	}

	respond(ctx, w, http.StatusOK, printersResponse{OK: true, Printers: printers})
}

// HandlePrint downloads and prints a document.
func (h *PrintHandler) HandlePrint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req printRequest
	if err := decode(w, r, &req); err != nil {
		respondError(ctx, w, err)

		return
	}

	url, ok := req.URL.(string)
	if !ok {
		respondError(ctx, w, &dispatch.ValidationError{Field: "url", Message: "url is required"})

		return
	}

	// A non-string printerName falls back to the selected printer.
	printerName, _ := req.PrinterName.(string)

	dreq := dispatch.Request{URL: url, PrinterName: printerName, Copies: req.Copies}

	if err := dispatch.Validate(dreq); err != nil {
		respondError(ctx, w, err)

		return
	}

	res, err := h.dispatcher.Submit(ctx, dreq)
	if err != nil {
		respondError(ctx, w, err)

		return
	}

	respond(ctx, w, http.StatusOK, printResponse{OK: true, Printer: res.Printer, JobID: res.JobID})
}

// HandleJobs lists the most recent print jobs.
func (h *PrintHandler) HandleJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultJobLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(ctx, w, &dispatch.ValidationError{Field: "limit", Message: "limit must be a positive integer"})

			return
		}

		limit = min(n, maxJobLimit)
	}

	if h.jobs == nil {
		respond(ctx, w, http.StatusOK, jobsResponse{OK: true, Jobs: []storage.JobRecord{}})

		return
	}

	jobs, err := h.jobs.RecentJobs(ctx, limit)
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to list jobs", "err", err)
		respond(ctx, w, http.StatusInternalServerError, errorResponse{Error: "failed to list jobs"})

		return
	}

	respond(ctx, w, http.StatusOK, jobsResponse{OK: true, Jobs: jobs})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &dispatch.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON body: %v", err)}
	}

	return nil
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var (
		verr *dispatch.ValidationError
		nerr *dispatch.NotFoundError
	)

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &nerr):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "request failed", "err", err)
	}

	respond(ctx, w, status, errorResponse{OK: false, Error: err.Error()})
}

func respond(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "err", err)
	}
}
