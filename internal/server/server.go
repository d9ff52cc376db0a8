package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/muurk/smartplug/internal/client"
	"github.com/muurk/smartplug/internal/discovery"
	"github.com/muurk/smartplug/internal/logging"
	"github.com/muurk/smartplug/internal/metrics"
)

// shutdownTimeout bounds a graceful shutdown started by context cancellation.
const shutdownTimeout = 10 * time.Second

// Config holds the server configuration
type Config struct {
	Listen      string // e.g. ":9102"
	EventsPath  string // websocket event stream, default "/events"
	MetricsPath string // Prometheus metrics, default "/metrics"

	// Gatherer backs the metrics endpoint; nil disables it.
	Gatherer prometheus.Gatherer

	// Devices lists the known devices for GET /devices; nil disables it.
	Devices func() []client.Snapshot

	Logger *zap.Logger
}

// Server serves the event stream, device list and metrics over HTTP.
type Server struct {
	config Config
	log    *zap.Logger
	hub    *Hub
	http   *http.Server
}

// New creates a new Server instance
func New(config Config) *Server {
	if config.EventsPath == "" {
		config.EventsPath = "/events"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	log := logging.Named(config.Logger, "server")
	s := &Server{
		config: config,
		log:    log,
		hub:    NewHub(log),
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.EventsPath, s.hub)
	if s.config.Gatherer != nil {
		mux.Handle(s.config.MetricsPath, metrics.Handler(s.config.Gatherer))
	}
	if s.config.Devices != nil {
		mux.HandleFunc("/devices", s.handleDevices)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.config.Devices()); err != nil {
		s.log.Warn("Failed to write device list", zap.Error(err))
	}
}

// Attach broadcasts every discovery update to event stream clients.
func (s *Server) Attach(d *discovery.Discovery) (cancel func()) {
	return d.OnUpdate(func(u discovery.Update) {
		s.hub.Broadcast(u.Name, u.Snapshot)
	})
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("Server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("events", s.config.EventsPath),
		zap.String("metrics", s.config.MetricsPath),
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.http.Serve(ln)
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server...")
	s.hub.closeAll()
	if err := s.http.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("Shutdown timeout, forcing close", zap.Error(err))
		return s.http.Close()
	}
	return nil
}
