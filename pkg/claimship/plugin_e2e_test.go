package claimship_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/pkg/claimship"
)

// =============================================================================
// Test Utilities
// =============================================================================

// testLogger implements claimship.Logger for capturing log output in tests.
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func newTestLogger() *testLogger {
	return &testLogger{messages: make([]string, 0)}
}

func (l *testLogger) Debug(msg string, fields ...claimship.LogField) { l.log("DEBUG", msg) }
func (l *testLogger) Info(msg string, fields ...claimship.LogField)  { l.log("INFO", msg) }
func (l *testLogger) Warn(msg string, fields ...claimship.LogField)  { l.log("WARN", msg) }
func (l *testLogger) Error(msg string, fields ...claimship.LogField) { l.log("ERROR", msg) }

func (l *testLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("[%s] %s", level, msg))
}

func (l *testLogger) Contains(line string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m == line {
			return true
		}
	}
	return false
}

// fakeBackend accepts every Claim.
type fakeBackend struct {
	mu    sync.Mutex
	sends []claimship.SendRequest
}

func (f *fakeBackend) CreateBatch(_ context.Context, b domain.Batch, _ int) (string, error) {
	return "BCR-" + b.Key.MonthKey, nil
}

func (f *fakeBackend) SendClaims(_ context.Context, req claimship.SendRequest) (claimship.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	return claimship.SendResult{Succeeded: true, StatusCode: 200, CorrelationID: "corr"}, nil
}

func (f *fakeBackend) ResumeStatus(context.Context, string) (claimship.ResumeResult, error) {
	return claimship.ResumeResult{}, nil
}

func (f *fakeBackend) SentClaims() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sends {
		n += len(s.Claims)
	}
	return n
}

// fakeSource hands out queued bundles.
type fakeSource struct {
	mu      sync.Mutex
	bundles []claimship.ClaimBundle
	acked   []string
}

func (f *fakeSource) Push(b claimship.ClaimBundle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bundles = append(f.bundles, b)
}

func (f *fakeSource) Next(context.Context) (claimship.ClaimBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bundles) == 0 {
		return claimship.ClaimBundle{}, claimship.ErrNoBundle
	}
	return f.bundles[0], nil
}

func (f *fakeSource) Ack(_ context.Context, b claimship.ClaimBundle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bundles = f.bundles[1:]
	f.acked = append(f.acked, b.ID)
	return nil
}

// trackingPlugin tracks initialization and shutdown calls for testing.
type trackingPlugin struct {
	name          string
	initOrder     *[]string
	shutdownOrder *[]string
	initError     error
	shutdownError error
	cfg           claimship.PluginConfig
}

func newTrackingPlugin(name string, initOrder, shutdownOrder *[]string) *trackingPlugin {
	return &trackingPlugin{name: name, initOrder: initOrder, shutdownOrder: shutdownOrder}
}

func (p *trackingPlugin) Name() string { return p.name }

func (p *trackingPlugin) Initialize(ctx context.Context, cfg claimship.PluginConfig) error {
	if p.initError != nil {
		return p.initError
	}
	p.cfg = cfg
	*p.initOrder = append(*p.initOrder, p.name)
	return nil
}

func (p *trackingPlugin) Shutdown(ctx context.Context) error {
	*p.shutdownOrder = append(*p.shutdownOrder, p.name)
	return p.shutdownError
}

// tunerPlugin calls Tune from a background goroutine.
type tunerPlugin struct {
	claimship.BasePlugin
	tunables claimship.Tunables
	done     chan struct{}
}

func (p *tunerPlugin) Name() string { return "tuner" }

func (p *tunerPlugin) Initialize(ctx context.Context, cfg claimship.PluginConfig) error {
	go func() {
		cfg.Tune(p.tunables)
		close(p.done)
	}()
	return nil
}

// eventTracker records every event.
type eventTracker struct {
	claimship.BaseEventHandler
	mu           sync.Mutex
	stateChanges []claimship.StateChangeEvent
	recoveries   []claimship.RecoveryEvent
	progress     []claimship.ProgressEvent
}

func (e *eventTracker) OnStateChange(event claimship.StateChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateChanges = append(e.stateChanges, event)
}

func (e *eventTracker) OnRecovery(event claimship.RecoveryEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recoveries = append(e.recoveries, event)
}

func (e *eventTracker) OnProgress(event claimship.ProgressEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = append(e.progress, event)
}

func (e *eventTracker) States() []claimship.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]claimship.State, len(e.stateChanges))
	for i, ev := range e.stateChanges {
		out[i] = ev.Current
	}
	return out
}

func (e *eventTracker) Recoveries() []claimship.RecoveryEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]claimship.RecoveryEvent(nil), e.recoveries...)
}

func (e *eventTracker) Progress() []claimship.ProgressEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]claimship.ProgressEvent(nil), e.progress...)
}

// createTestConfig creates a minimal valid config for testing.
func createTestConfig(t *testing.T) claimship.Config {
	t.Helper()
	return claimship.Config{
		DBPath:          filepath.Join(t.TempDir(), "data", "claimship.db"),
		ProviderDhsCode: "P1",
		PollInterval:    10 * time.Millisecond,
		Workers:         2,
	}
}

func newTestInstance(t *testing.T, opts ...claimship.Option) *claimship.Claimship {
	t.Helper()
	opts = append([]claimship.Option{claimship.WithBackend(&fakeBackend{})}, opts...)
	c, err := claimship.New(createTestConfig(t), opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() {
		if c.Status() == claimship.StateRunning {
			_ = c.Stop()
		}
		_ = c.Close()
	})
	return c
}

// =============================================================================
// Plugin Lifecycle Tests
// =============================================================================

func TestPlugin_InitializationOrder(t *testing.T) {
	var initOrder, shutdownOrder []string
	plugin1 := newTrackingPlugin("plugin1", &initOrder, &shutdownOrder)
	plugin2 := newTrackingPlugin("plugin2", &initOrder, &shutdownOrder)
	plugin3 := newTrackingPlugin("plugin3", &initOrder, &shutdownOrder)

	c := newTestInstance(t,
		claimship.WithLogger(newTestLogger()),
		claimship.WithPlugin(plugin1),
		claimship.WithPlugin(plugin2),
		claimship.WithPlugin(plugin3),
	)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if len(initOrder) != 3 || initOrder[0] != "plugin1" || initOrder[1] != "plugin2" || initOrder[2] != "plugin3" {
		t.Errorf("Unexpected init order: %v", initOrder)
	}
	if plugin1.cfg.ProviderDhsCode != "P1" || plugin1.cfg.DataDir == "" || plugin1.cfg.Tune == nil {
		t.Errorf("Unexpected plugin config: %+v", plugin1.cfg)
	}

	if err := c.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
	if len(shutdownOrder) != 3 || shutdownOrder[0] != "plugin3" || shutdownOrder[1] != "plugin2" || shutdownOrder[2] != "plugin1" {
		t.Errorf("Unexpected shutdown order: %v (expected reverse of init)", shutdownOrder)
	}
}

func TestPlugin_InitializationFailure_PreventsStart(t *testing.T) {
	var initOrder, shutdownOrder []string
	plugin1 := newTrackingPlugin("plugin1", &initOrder, &shutdownOrder)
	plugin2 := newTrackingPlugin("plugin2", &initOrder, &shutdownOrder)
	plugin2.initError = errors.New("intentional init failure")
	plugin3 := newTrackingPlugin("plugin3", &initOrder, &shutdownOrder)

	logger := newTestLogger()
	c := newTestInstance(t,
		claimship.WithLogger(logger),
		claimship.WithPlugin(plugin1),
		claimship.WithPlugin(plugin2),
		claimship.WithPlugin(plugin3),
	)

	err := c.Start(context.Background())
	if !errors.Is(err, plugin2.initError) {
		t.Fatalf("Start() error = %v, want plugin init error", err)
	}
	if c.Status() != claimship.StateCrashed {
		t.Errorf("Status() = %v, want Crashed", c.Status())
	}
	if len(initOrder) != 1 || initOrder[0] != "plugin1" {
		t.Errorf("Init order = %v, want only plugin1", initOrder)
	}
	if len(shutdownOrder) != 1 || shutdownOrder[0] != "plugin1" {
		t.Errorf("Shutdown order = %v, want initialized plugins shut down", shutdownOrder)
	}
	if !logger.Contains("[ERROR] plugin initialization failed") {
		t.Error("expected plugin failure to be logged")
	}

	// A crashed instance can be started again.
	plugin2.initError = nil
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
}

func TestPlugin_ShutdownErrorIsLogged(t *testing.T) {
	var initOrder, shutdownOrder []string
	plugin := newTrackingPlugin("flaky", &initOrder, &shutdownOrder)
	plugin.shutdownError = errors.New("boom")

	logger := newTestLogger()
	c := newTestInstance(t, claimship.WithLogger(logger), claimship.WithPlugin(plugin))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v, plugin errors must not fail Stop", err)
	}
	if !logger.Contains("[ERROR] plugin shutdown failed") {
		t.Error("expected plugin shutdown failure to be logged")
	}
	if c.Status() != claimship.StateStopped {
		t.Errorf("Status() = %v, want Stopped", c.Status())
	}
}

func TestPlugin_TuneFromPlugin(t *testing.T) {
	var levels []string
	var mu sync.Mutex
	tuner := &tunerPlugin{
		tunables: claimship.Tunables{Take: 7, LogLevel: "debug"},
		done:     make(chan struct{}),
	}
	c := newTestInstance(t,
		claimship.WithPlugin(tuner),
		claimship.WithLevelSetter(func(level string) error {
			mu.Lock()
			defer mu.Unlock()
			levels = append(levels, level)
			return nil
		}),
	)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	select {
	case <-tuner.done:
	case <-time.After(5 * time.Second):
		t.Fatal("Tune did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(levels) != 1 || levels[0] != "debug" {
		t.Errorf("level setter calls = %v, want [debug]", levels)
	}
}
