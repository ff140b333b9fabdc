package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stator-io/stator/config"
	"github.com/stator-io/stator/core"
	"github.com/stator-io/stator/event"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// journal records start/stop calls across services so tests can assert
// ordering.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

type stubService struct {
	name     string
	j        *journal
	startErr error
	stopErr  error
	healthFn func() (HealthStatus, error)
}

func (s *stubService) Name() string { return s.name }

func (s *stubService) Start(ctx context.Context) error {
	s.j.add("start " + s.name)
	return s.startErr
}

func (s *stubService) Stop(ctx context.Context) error {
	s.j.add("stop " + s.name)
	return s.stopErr
}

func (s *stubService) Health(ctx context.Context) (HealthStatus, error) {
	if s.healthFn != nil {
		return s.healthFn()
	}
	return HealthStatus{State: HealthHealthy}, nil
}

func TestContainerInstanceRoundTrip(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.RegisterInstance("answer", 42))

	got, err := c.Resolve("answer")
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	var n int
	require.NoError(t, c.ResolveAs("answer", &n))
	assert.Equal(t, 42, n)

	var s string
	assert.ErrorIs(t, c.ResolveAs("answer", &s), ErrWrongType)
}

func TestContainerFactoryRunsOnce(t *testing.T) {
	c := NewContainer()
	calls := 0
	require.NoError(t, c.Register("counter", func(*Container) (any, error) {
		calls++
		return calls, nil
	}))

	first, err := c.Resolve("counter")
	require.NoError(t, err)
	second, err := c.Resolve("counter")
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 1, calls)
}

func TestContainerFactoryResolvesDependencies(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.RegisterInstance("prefix", "stator"))
	require.NoError(t, c.Register("greeting", func(c *Container) (any, error) {
		var p string
		if err := c.ResolveAs("prefix", &p); err != nil {
			return nil, err
		}
		return p + ": hello", nil
	}))

	got, err := c.Resolve("greeting")
	require.NoError(t, err)
	assert.Equal(t, "stator: hello", got)
}

func TestContainerFactoryFailure(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Register("broken", func(*Container) (any, error) {
		return nil, errors.New("no parts")
	}))

	_, err := c.Resolve("broken")
	assert.ErrorContains(t, err, "no parts")
}

func TestContainerRegistrationErrors(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.RegisterInstance("dup", 1))

	assert.ErrorIs(t, c.RegisterInstance("dup", 2), ErrDuplicateService)
	assert.ErrorIs(t, c.Register("dup", func(*Container) (any, error) { return 3, nil }), ErrDuplicateService)
	assert.ErrorIs(t, c.RegisterInstance("", 1), ErrBadRegistration)
	assert.ErrorIs(t, c.Register("nothing", nil), ErrBadRegistration)

	_, err := c.Resolve("ghost")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestContainerNames(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.RegisterInstance("zebra", 1))
	require.NoError(t, c.Register("apple", func(*Container) (any, error) { return 2, nil }))
	require.NoError(t, c.RegisterInstance("mango", 3))

	assert.Equal(t, []string{"apple", "mango", "zebra"}, c.Names())
	assert.True(t, c.Has("apple"))
	assert.False(t, c.Has("ghost"))
}

func TestLifecycleStartsInDependencyOrder(t *testing.T) {
	j := &journal{}
	l := NewLifecycle(discardLogger())
	require.NoError(t, l.Register("api", &stubService{name: "api", j: j}, "cache"))
	require.NoError(t, l.Register("db", &stubService{name: "db", j: j}))
	require.NoError(t, l.Register("cache", &stubService{name: "cache", j: j}, "db"))

	require.NoError(t, l.Start(context.Background()))
	assert.True(t, l.Started())
	assert.Equal(t, []string{"start db", "start cache", "start api"}, j.list())

	require.NoError(t, l.Stop(context.Background()))
	assert.False(t, l.Started())
	assert.Equal(t, []string{
		"start db", "start cache", "start api",
		"stop api", "stop cache", "stop db",
	}, j.list())
}

func TestLifecycleOrderIsDeterministic(t *testing.T) {
	j := &journal{}
	l := NewLifecycle(discardLogger())
	require.NoError(t, l.Register("zeta", &stubService{name: "zeta", j: j}))
	require.NoError(t, l.Register("alpha", &stubService{name: "alpha", j: j}))
	require.NoError(t, l.Register("mid", &stubService{name: "mid", j: j}))

	require.NoError(t, l.Start(context.Background()))
	assert.Equal(t, []string{"start alpha", "start mid", "start zeta"}, j.list())
	require.NoError(t, l.Stop(context.Background()))
}

func TestLifecycleStartFailureRollsBack(t *testing.T) {
	j := &journal{}
	boom := errors.New("boom")
	broken := &stubService{name: "b", j: j, startErr: boom}

	l := NewLifecycle(discardLogger())
	require.NoError(t, l.Register("a", &stubService{name: "a", j: j}))
	require.NoError(t, l.Register("b", broken, "a"))

	err := l.Start(context.Background())
	require.ErrorIs(t, err, boom)
	assert.False(t, l.Started())
	assert.Equal(t, []string{"start a", "start b", "stop a"}, j.list())

	// The failure leaves the lifecycle startable again.
	broken.startErr = nil
	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Stop(context.Background()))
}

func TestLifecycleStopReportsFirstError(t *testing.T) {
	j := &journal{}
	boom := errors.New("stuck")
	l := NewLifecycle(discardLogger())
	require.NoError(t, l.Register("a", &stubService{name: "a", j: j}))
	require.NoError(t, l.Register("b", &stubService{name: "b", j: j, stopErr: boom}, "a"))

	require.NoError(t, l.Start(context.Background()))
	err := l.Stop(context.Background())
	require.ErrorIs(t, err, boom)

	// The failed stop did not keep "a" from stopping.
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, j.list())
}

func TestLifecycleRejectsUnknownDependency(t *testing.T) {
	j := &journal{}
	l := NewLifecycle(discardLogger())
	require.NoError(t, l.Register("api", &stubService{name: "api", j: j}, "ghost"))

	err := l.Start(context.Background())
	assert.ErrorIs(t, err, ErrUnknownDependency)
	assert.Empty(t, j.list())
}

func TestLifecycleRejectsDependencyCycle(t *testing.T) {
	j := &journal{}
	l := NewLifecycle(discardLogger())
	require.NoError(t, l.Register("a", &stubService{name: "a", j: j}, "b"))
	require.NoError(t, l.Register("b", &stubService{name: "b", j: j}, "a"))

	err := l.Start(context.Background())
	assert.ErrorIs(t, err, ErrDependencyCycle)
	assert.Empty(t, j.list())
}

func TestLifecycleRegistrationErrors(t *testing.T) {
	j := &journal{}
	l := NewLifecycle(discardLogger())
	require.NoError(t, l.Register("a", &stubService{name: "a", j: j}))

	assert.ErrorIs(t, l.Register("a", &stubService{name: "a", j: j}), ErrDuplicateService)
	assert.ErrorIs(t, l.Register("", &stubService{j: j}), ErrBadRegistration)
	assert.ErrorIs(t, l.Register("nil", nil), ErrBadRegistration)

	require.NoError(t, l.Start(context.Background()))
	assert.ErrorIs(t, l.Register("late", &stubService{name: "late", j: j}), ErrAlreadyStarted)
	assert.ErrorIs(t, l.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, l.Stop(context.Background()))
}

func TestLifecycleHealth(t *testing.T) {
	j := &journal{}
	l := NewLifecycle(discardLogger())
	require.NoError(t, l.Register("good", &stubService{name: "good", j: j}))
	require.NoError(t, l.Register("bad", &stubService{name: "bad", j: j, healthFn: func() (HealthStatus, error) {
		return HealthStatus{}, errors.New("probe failed")
	}}))
	require.NoError(t, l.Register("sick", &stubService{name: "sick", j: j, healthFn: func() (HealthStatus, error) {
		return HealthStatus{State: HealthUnhealthy, Message: "queue backed up"}, nil
	}}))

	health := l.Health(context.Background())
	require.Len(t, health, 3)
	assert.Equal(t, HealthHealthy, health["good"].State)
	assert.Equal(t, HealthUnhealthy, health["bad"].State)
	assert.Contains(t, health["bad"].Message, "probe failed")
	assert.Equal(t, HealthUnhealthy, health["sick"].State)
	assert.Equal(t, "queue backed up", health["sick"].Message)
}

// quietConfig keeps app tests from binding ports or logging.
func quietConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Log.Level = config.LogLevelError
	cfg.Monitor.Enabled = false
	cfg.Runtime.TickIntervalMS = 0
	return cfg
}

func TestNewAppDefaults(t *testing.T) {
	app, err := NewApp(nil)
	require.NoError(t, err)

	assert.NotNil(t, app.Runtime())
	assert.NotNil(t, app.Monitor())
	assert.Equal(t, []string{"monitor", "runtime", "ticker"}, app.Lifecycle().Services())

	var rt *core.Runtime
	require.NoError(t, app.Container().ResolveAs("runtime", &rt))
	assert.Same(t, app.Runtime(), rt)
	assert.True(t, app.Container().Has("config"))
	assert.True(t, app.Container().Has("logger"))
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Runtime.Host = "threads"

	_, err := NewApp(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidHost)
}

func TestNewAppDisabledPieces(t *testing.T) {
	app, err := NewApp(quietConfig())
	require.NoError(t, err)

	assert.Nil(t, app.Monitor())
	assert.Equal(t, []string{"runtime"}, app.Lifecycle().Services())
}

func TestAppObjectOptions(t *testing.T) {
	cfg := quietConfig()
	cfg.Runtime.OverflowPolicy = config.PolicyDrop
	app, err := NewApp(cfg)
	require.NoError(t, err)

	opts := app.ObjectOptions("pump", 3, 8)
	assert.Equal(t, "pump", opts.Name)
	assert.Equal(t, uint8(3), opts.Priority)
	assert.Len(t, opts.QueueStorage, 8)
	assert.Equal(t, event.OverflowDrop, opts.Policy)
}

func TestAppRegisterServiceStartsAfterRuntime(t *testing.T) {
	app, err := NewApp(quietConfig())
	require.NoError(t, err)

	j := &journal{}
	require.NoError(t, app.RegisterService("echo", &stubService{name: "echo", j: j}))

	require.NoError(t, app.Lifecycle().Start(context.Background()))
	assert.Equal(t, []string{"start echo"}, j.list())

	require.NoError(t, app.Lifecycle().Stop(context.Background()))
	assert.Equal(t, []string{"start echo", "stop echo"}, j.list())
	assert.True(t, app.Runtime().Stopped())
}

func TestAppRunAndShutdown(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.Level = config.LogLevelError
	cfg.Monitor.Address = "127.0.0.1:0"
	cfg.Runtime.TickIntervalMS = 1

	app, err := NewApp(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()

	require.Eventually(t, app.Lifecycle().Started, 3*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, app.Run(context.Background()), ErrAppRunning)

	resp, err := http.Get("http://" + app.Monitor().Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.True(t, app.Runtime().Stopped())
	assert.False(t, app.Lifecycle().Started())
	assert.NoError(t, app.Shutdown(context.Background()))
}

func TestAppApplyDynamicLogLevel(t *testing.T) {
	cfg := quietConfig()
	cfg.Log.Level = config.LogLevelInfo
	app, err := NewApp(cfg)
	require.NoError(t, err)
	require.True(t, app.Logger().Enabled(context.Background(), slog.LevelInfo))

	next := quietConfig()
	next.Log.Level = config.LogLevelError
	app.ApplyDynamic(cfg, next)

	assert.False(t, app.Logger().Enabled(context.Background(), slog.LevelInfo))
	assert.Same(t, next, app.Config())
}
