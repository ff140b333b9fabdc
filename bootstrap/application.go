package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/stator-io/stator/config"
	"github.com/stator-io/stator/core"
	"github.com/stator-io/stator/event"
	"github.com/stator-io/stator/host"
	"github.com/stator-io/stator/monitor"
	"github.com/stator-io/stator/port"
)

// ShutdownTimeout bounds a full application shutdown.
const ShutdownTimeout = 30 * time.Second

// App is a framework application assembled from a configuration. The
// runtime exists as soon as NewApp returns, so active objects can be
// started before Run; the ticker and monitor come up with Run and go
// down with Shutdown.
type App struct {
	log       *slog.Logger
	level     *slog.LevelVar
	runtime   *core.Runtime
	monitor   *monitor.Server
	container *Container
	lifecycle *Lifecycle

	mu      sync.Mutex
	cfg     *config.Config
	running bool
}

// NewApp builds an application from cfg. A nil cfg means
// config.DefaultConfig(). The configuration is validated, the logger
// and host are built from it, the runtime's pools are registered and
// the runtime, ticker and monitor services are placed in the
// lifecycle.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Log.Level.Slog())
	log := newLogger(cfg, level)

	var runner port.Runner
	switch cfg.Runtime.Host {
	case config.HostLockstep:
		runner = host.NewLockstep()
	default:
		runner = host.NewGoroutine()
	}

	rt := core.NewRuntime(runner, &core.RuntimeOptions{
		Logger:    log,
		MaxSignal: event.Signal(cfg.Runtime.MaxSignal),
	})
	for _, p := range cfg.Pools {
		rt.Pools().Register(make([]byte, p.BlockSize*p.Count), p.BlockSize)
	}

	app := &App{
		log:       log,
		level:     level,
		runtime:   rt,
		container: NewContainer(),
		lifecycle: NewLifecycle(log),
		cfg:       cfg,
	}

	if err := app.bind(cfg, rt); err != nil {
		return nil, err
	}
	return app, nil
}

// bind places the core pieces in the container and the lifecycle.
func (a *App) bind(cfg *config.Config, rt *core.Runtime) error {
	if err := a.container.RegisterInstance("config", cfg); err != nil {
		return err
	}
	if err := a.container.RegisterInstance("runtime", rt); err != nil {
		return err
	}
	if err := a.container.RegisterInstance("logger", a.log); err != nil {
		return err
	}

	if err := a.lifecycle.Register("runtime", &runtimeService{rt: rt}); err != nil {
		return err
	}
	if cfg.Runtime.TickIntervalMS > 0 {
		interval := time.Duration(cfg.Runtime.TickIntervalMS) * time.Millisecond
		svc := &tickerService{rt: rt, interval: interval}
		if err := a.lifecycle.Register("ticker", svc, "runtime"); err != nil {
			return err
		}
	}
	if cfg.Monitor.Enabled {
		srv, err := monitor.NewServer(rt.Snapshot, &monitor.ServerOptions{
			Address:     cfg.Monitor.Address,
			MetricsPath: cfg.Monitor.MetricsPath,
			HealthPath:  cfg.Monitor.HealthPath,
			Health:      a.healthSummary,
			Logger:      a.log,
		})
		if err != nil {
			return err
		}
		a.monitor = srv
		if err := a.lifecycle.Register("monitor", &monitorService{srv: srv}, "runtime"); err != nil {
			return err
		}
	}
	return nil
}

// newLogger builds the application logger the configuration asks for.
// Development builds annotate records with their source location.
func newLogger(cfg *config.Config, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.IsDevelopment(),
	}
	var h slog.Handler
	if cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h).With("app", cfg.App.Name)
}

// overflowPolicy maps the configuration spelling to the queue policy.
func overflowPolicy(p config.OverflowPolicy) event.OverflowPolicy {
	if p == config.PolicyDrop {
		return event.OverflowDrop
	}
	return event.OverflowFatal
}

// RegisterService adds a user service to the lifecycle. Services with
// no explicit dependencies start after the runtime.
func (a *App) RegisterService(name string, svc Service, deps ...string) error {
	if len(deps) == 0 {
		deps = []string{"runtime"}
	}
	return a.lifecycle.Register(name, svc, deps...)
}

// ObjectOptions returns active-object start options prefilled from the
// configuration: a queue of queueLen events and the configured
// overflow policy.
func (a *App) ObjectOptions(name string, priority uint8, queueLen int) core.ActiveOptions {
	return core.ActiveOptions{
		Name:         name,
		Priority:     priority,
		QueueStorage: make([]*event.Event, queueLen),
		Policy:       overflowPolicy(a.Config().Runtime.OverflowPolicy),
	}
}

// Run starts every service and blocks until ctx is cancelled or the
// process receives SIGINT or SIGTERM, then shuts down.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAppRunning
	}
	a.running = true
	a.mu.Unlock()

	if err := a.lifecycle.Start(ctx); err != nil {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		return err
	}
	cfg := a.Config()
	a.log.Info("application started",
		"environment", cfg.App.Environment,
		"host", cfg.Runtime.Host,
		"services", a.lifecycle.Services(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.log.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		a.log.Info("run context cancelled")
	}
	return a.Shutdown(context.Background())
}

// Shutdown stops the services in reverse start order. Safe to call
// more than once and concurrently with Run.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
	defer cancel()
	err := a.lifecycle.Stop(stopCtx)
	a.log.Info("application stopped")
	return err
}

// ApplyDynamic applies the dynamic parts of a reloaded configuration.
// Log level changes take effect immediately; everything else dynamic
// takes effect on the next restart. Matches config.ChangeCallback so
// it can hang directly on a watcher.
func (a *App) ApplyDynamic(prev, next *config.Config) {
	if prev.Log.Level != next.Log.Level {
		a.level.Set(next.Log.Level.Slog())
		a.log.Info("log level changed", "from", prev.Log.Level, "to", next.Log.Level)
	}
	if prev.Monitor != next.Monitor {
		a.log.Info("monitor configuration changed, takes effect on restart")
	}
	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()
}

// healthSummary condenses the lifecycle health map for the monitor's
// health endpoint: ok only when every service is healthy.
func (a *App) healthSummary(ctx context.Context) (bool, map[string]string) {
	health := a.lifecycle.Health(ctx)
	ok := true
	services := make(map[string]string, len(health))
	for name, status := range health {
		services[name] = string(status.State)
		if status.State != HealthHealthy {
			ok = false
		}
	}
	return ok, services
}

// Config returns the current configuration.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.log }

// Runtime returns the runtime the application was built around.
func (a *App) Runtime() *core.Runtime { return a.runtime }

// Monitor returns the monitor server, or nil when disabled.
func (a *App) Monitor() *monitor.Server { return a.monitor }

// Container returns the dependency container.
func (a *App) Container() *Container { return a.container }

// Lifecycle returns the service lifecycle.
func (a *App) Lifecycle() *Lifecycle { return a.lifecycle }

// runtimeService exposes the eagerly built runtime to the lifecycle:
// Start is a sanity check, Stop drains and stops it for good.
type runtimeService struct {
	rt *core.Runtime
}

func (s *runtimeService) Name() string { return "runtime" }

func (s *runtimeService) Start(ctx context.Context) error {
	if s.rt.Stopped() {
		return fmt.Errorf("bootstrap: runtime already stopped")
	}
	return nil
}

func (s *runtimeService) Stop(ctx context.Context) error {
	return s.rt.Stop()
}

func (s *runtimeService) Health(ctx context.Context) (HealthStatus, error) {
	if s.rt.Stopped() {
		return HealthStatus{State: HealthStopped, Message: "runtime stopped"}, nil
	}
	snap := s.rt.Snapshot()
	return HealthStatus{
		State:   HealthHealthy,
		Message: fmt.Sprintf("%d active objects", len(snap.Objects)),
	}, nil
}

// tickerService drives the runtime clock at rate 0 from a wall-clock
// ticker.
type tickerService struct {
	rt       *core.Runtime
	interval time.Duration

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

func (s *tickerService) Name() string { return "ticker" }

func (s *tickerService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil
	}
	done := make(chan struct{})
	s.done = done
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.rt.Tick(0)
			case <-done:
				return
			}
		}
	}()
	return nil
}

func (s *tickerService) Stop(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()
	if done != nil {
		close(done)
		s.wg.Wait()
	}
	return nil
}

func (s *tickerService) Health(ctx context.Context) (HealthStatus, error) {
	s.mu.Lock()
	running := s.done != nil
	s.mu.Unlock()
	if !running {
		return HealthStatus{State: HealthStopped, Message: "ticker not running"}, nil
	}
	return HealthStatus{State: HealthHealthy}, nil
}

// monitorService runs the monitor HTTP server as a lifecycle service.
type monitorService struct {
	srv *monitor.Server
}

func (s *monitorService) Name() string { return "monitor" }

func (s *monitorService) Start(ctx context.Context) error {
	return s.srv.Start()
}

func (s *monitorService) Stop(ctx context.Context) error {
	return s.srv.Stop(ctx)
}

func (s *monitorService) Health(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{State: HealthHealthy, Message: "serving on " + s.srv.Addr()}, nil
}
