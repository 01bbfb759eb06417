// Package configwatcher provides config file monitoring for claimship.
// When enabled, it watches the claimship TOML config file and applies
// changed tunables (poll interval, lease duration, take, log level) to the
// running instance.
package configwatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/claimship/internal/cliconfig"
	"github.com/bft-labs/claimship/pkg/claimship"
	"github.com/bft-labs/claimship/pkg/log"
)

// Error codes for config file issues.
const (
	ErrCodeFileNotFound     = "FILE_NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeReadError        = "READ_ERROR"
)

// Plugin implements config watching functionality.
type Plugin struct {
	mu sync.Mutex

	// Configuration
	retryInterval time.Duration
	maxRetries    int
	debounceDelay time.Duration

	// Runtime state
	path     string
	tune     func(claimship.Tunables)
	logger   claimship.Logger
	last     claimship.Tunables
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// RetryInterval is the delay between reads of a file that could not
	// be read, e.g. while an editor replaces it.
	// Default: 1 second
	RetryInterval time.Duration

	// MaxRetries bounds the reads after a failure.
	// Default: 5
	MaxRetries int

	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetryInterval: time.Second,
		MaxRetries:    5,
		DebounceDelay: 100 * time.Millisecond,
	}
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	def := DefaultConfig()
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = def.DebounceDelay
	}

	return &Plugin{
		retryInterval: cfg.RetryInterval,
		maxRetries:    cfg.MaxRetries,
		debounceDelay: cfg.DebounceDelay,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching cfg.ConfigPath. The file's current tunables
// are taken as the baseline; only later changes are applied.
func (p *Plugin) Initialize(ctx context.Context, cfg claimship.PluginConfig) error {
	p.mu.Lock()
	p.path = cfg.ConfigPath
	p.tune = cfg.Tune
	p.logger = cfg.Logger
	if p.logger == nil {
		p.logger = log.NewNoopLogger()
	}
	p.mu.Unlock()

	if p.path == "" || p.tune == nil {
		p.logger.Warn("config watcher disabled: no config path")
		return nil
	}

	if t, err := p.load(); err == nil {
		p.mu.Lock()
		p.last = t
		p.mu.Unlock()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so replace-by-rename saves are seen.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(p.path), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("config watcher plugin initialized", log.String("path", p.path))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)
	return nil
}

// Shutdown stops the config watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	p.stopDebounce()
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// watchLoop watches for config file changes.
func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopDebounce()
	p.wg.Add(1)
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		defer p.wg.Done()
		p.reloadWithRetry(ctx)
	})
}

// stopDebounce cancels a pending reload. Must be called with p.mu held.
func (p *Plugin) stopDebounce() {
	if p.debounce != nil && p.debounce.Stop() {
		p.wg.Done()
	}
	p.debounce = nil
}

// reloadWithRetry reads the file until it succeeds, the retries run out or
// ctx ends. A file that parses but holds invalid values is not retried.
func (p *Plugin) reloadWithRetry(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		t, err := p.load()
		if err == nil {
			p.apply(t)
			return
		}
		var rerr *readError
		if !errors.As(err, &rerr) {
			p.logger.Warn("config reload rejected", log.Err(err))
			return
		}
		p.logger.Warn("config reload failed",
			log.String("code", p.errorToCode(rerr.err)),
			log.Int("attempt", attempt+1))
		if attempt+1 >= p.maxRetries {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.retryInterval):
		}
	}
}

func (p *Plugin) apply(t claimship.Tunables) {
	p.mu.Lock()
	if t == p.last {
		p.mu.Unlock()
		p.logger.Debug("config unchanged")
		return
	}
	p.last = t
	p.mu.Unlock()

	p.tune(t)
	p.logger.Info("config reloaded",
		log.Duration("poll", t.PollInterval),
		log.Duration("lease", t.LeaseDuration),
		log.Int("take", t.Take),
		log.String("log_level", t.LogLevel))
}

type readError struct{ err error }

func (e *readError) Error() string { return e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

// load reads the tunables from the config file.
func (p *Plugin) load() (claimship.Tunables, error) {
	if _, err := os.Stat(p.path); err != nil {
		return claimship.Tunables{}, &readError{err}
	}
	fc, err := cliconfig.LoadFileConfig(p.path)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return claimship.Tunables{}, &readError{err}
		}
		return claimship.Tunables{}, fmt.Errorf("parse %s: %w", p.path, err)
	}
	return tunablesFromFile(fc)
}

func tunablesFromFile(fc cliconfig.FileConfig) (claimship.Tunables, error) {
	var t claimship.Tunables
	var err error
	if fc.PollInterval != "" {
		if t.PollInterval, err = time.ParseDuration(fc.PollInterval); err != nil || t.PollInterval <= 0 {
			return claimship.Tunables{}, fmt.Errorf("invalid poll_interval %q", fc.PollInterval)
		}
	}
	if fc.LeaseDuration != "" {
		if t.LeaseDuration, err = time.ParseDuration(fc.LeaseDuration); err != nil || t.LeaseDuration <= 0 {
			return claimship.Tunables{}, fmt.Errorf("invalid lease_duration %q", fc.LeaseDuration)
		}
	}
	if fc.Take < 0 {
		return claimship.Tunables{}, fmt.Errorf("invalid take %d", fc.Take)
	}
	t.Take = fc.Take
	t.LogLevel = strings.ToLower(fc.LogLevel)
	return t, nil
}

func (p *Plugin) errorToCode(err error) string {
	if os.IsNotExist(err) {
		return ErrCodeFileNotFound
	}
	if os.IsPermission(err) {
		return ErrCodePermissionDenied
	}
	if strings.Contains(err.Error(), "permission denied") {
		return ErrCodePermissionDenied
	}
	return ErrCodeReadError
}

// Ensure Plugin implements claimship.Plugin.
var _ claimship.Plugin = (*Plugin)(nil)
