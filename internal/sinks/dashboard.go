package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alphastream/streamclient/internal/event"
)

// Dashboard serves the most recent events as a JSON feed over HTTP,
// for a browser-side dashboard collaborator to poll. It exposes a
// single read-only endpoint plus a health check, built with the same
// mux-construction, graceful-Shutdown, and logging-middleware shape
// used elsewhere in this codebase — the dashboard collaborator owns
// its own UI state and persistence, so this sink only ever serves a
// bounded in-memory backlog.
type Dashboard struct {
	backlog int
	logger  *slog.Logger

	mu     sync.Mutex
	events []eventJSON

	server *http.Server
}

// NewDashboard constructs a Dashboard sink retaining up to backlog
// recent events for newly-connecting pollers. backlog <= 0 defaults
// to 100.
func NewDashboard(backlog int, logger *slog.Logger) *Dashboard {
	if backlog <= 0 {
		backlog = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dashboard{backlog: backlog, logger: logger}
}

// Write appends e to the backlog, evicting the oldest entry once full.
func (d *Dashboard) Write(e event.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, toEventJSON(e))
	if over := len(d.events) - d.backlog; over > 0 {
		d.events = d.events[over:]
	}
	return nil
}

// Start begins serving the JSON feed on address. Blocks until the
// server stops (via Shutdown or a listener error); the caller is
// expected to call Shutdown from elsewhere (typically on context
// cancellation) to stop it gracefully.
func (d *Dashboard) Start(address string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", d.handleEvents)
	mux.HandleFunc("GET /health", d.handleHealth)

	d.server = &http.Server{
		Addr:         address,
		Handler:      d.withLogging(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	d.logger.Info("dashboard feed starting", "address", address)
	err := d.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (d *Dashboard) Shutdown(ctx context.Context) error {
	if d.server == nil {
		return nil
	}
	return d.server.Shutdown(ctx)
}

func (d *Dashboard) handleEvents(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	snapshot := make([]eventJSON, len(d.events))
	copy(snapshot, d.events)
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		d.logger.Debug("dashboard: failed to write events response", "error", err)
	}
}

func (d *Dashboard) handleHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (d *Dashboard) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		d.logger.Debug("dashboard: request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
