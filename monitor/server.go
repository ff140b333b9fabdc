// Package monitor serves runtime diagnostics over HTTP: Prometheus
// metrics, a health endpoint, and JSON listings of objects and pools.
// It reads the runtime exclusively through snapshots, so it can be
// attached to and detached from any application without touching the
// event path.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stator-io/stator/event"
)

var (
	// ErrNoSnapshot means the server was built without a snapshot
	// source.
	ErrNoSnapshot = errors.New("monitor: snapshot source is nil")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("monitor: server already started")
)

// HealthFunc reports whether the application considers itself healthy,
// with a per-service state map for the response body. A nil HealthFunc
// makes the health endpoint depend on the runtime snapshot alone.
type HealthFunc func(ctx context.Context) (ok bool, services map[string]string)

// ServerOptions configures the monitoring endpoint.
type ServerOptions struct {
	// Address is the host:port to listen on. Port 0 picks a free one.
	Address string

	// MetricsPath serves the Prometheus exposition. Default /metrics.
	MetricsPath string

	// HealthPath serves the health report. Default /healthz.
	HealthPath string

	// Health supplies the application health state. Optional.
	Health HealthFunc

	// Logger receives serve and shutdown records. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// DefaultServerOptions returns the default monitor options.
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		Address:     "127.0.0.1:9190",
		MetricsPath: "/metrics",
		HealthPath:  "/healthz",
	}
}

// Server is the HTTP monitoring endpoint.
type Server struct {
	snap   SnapshotFunc
	health HealthFunc
	log    *slog.Logger
	addr   string

	router  chi.Router
	metrics *prometheus.Registry

	mu      sync.Mutex
	ln      net.Listener
	srv     *http.Server
	started bool
}

// NewServer builds a monitoring server over the given snapshot source.
// opts may be nil.
func NewServer(snap SnapshotFunc, opts *ServerOptions) (*Server, error) {
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	if opts == nil {
		opts = DefaultServerOptions()
	}
	def := DefaultServerOptions()
	if opts.Address == "" {
		opts.Address = def.Address
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = def.MetricsPath
	}
	if opts.HealthPath == "" {
		opts.HealthPath = def.HealthPath
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(snap)); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}

	s := &Server{
		snap:    snap,
		health:  opts.Health,
		log:     log,
		addr:    opts.Address,
		metrics: registry,
	}

	r := chi.NewRouter()
	r.Get(opts.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP)
	r.Get(opts.HealthPath, s.handleHealth)
	r.Get("/objects", s.handleObjects)
	r.Get("/pools", s.handlePools)
	s.router = r

	return s, nil
}

// Handler returns the server's HTTP handler, for mounting or testing
// without a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background. Bind
// errors surface here; serve errors go to the logger.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("monitor listen: %w", err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.router}
	s.started = true

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("monitor server failed", "error", err)
		}
	}()

	s.log.Info("monitor serving", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the server down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	return s.srv.Shutdown(ctx)
}

// Addr returns the bound listen address, or the configured one before
// Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

type healthResponse struct {
	Status   string            `json:"status"`
	Running  bool              `json:"running"`
	Services map[string]string `json:"services,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.snap()
	resp := healthResponse{Running: snap.Running}

	ok := snap.Running
	if s.health != nil {
		healthy, services := s.health(r.Context())
		ok = ok && healthy
		resp.Services = services
	}

	code := http.StatusOK
	resp.Status = "ok"
	if !ok {
		code = http.StatusServiceUnavailable
		resp.Status = "degraded"
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.snap().Objects)
}

type poolsResponse struct {
	Pools     []event.PoolStats `json:"pools"`
	Allocated uint64            `json:"allocated"`
	Recycled  uint64            `json:"recycled"`
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	snap := s.snap()
	s.writeJSON(w, http.StatusOK, poolsResponse{
		Pools:     snap.Pools,
		Allocated: snap.EventsAllocated,
		Recycled:  snap.EventsRecycled,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("monitor response encoding failed", "error", err)
	}
}
