package claimship

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bft-labs/claimship/internal/adapters/crypto"
	"github.com/bft-labs/claimship/internal/adapters/fs"
	httpAdapter "github.com/bft-labs/claimship/internal/adapters/http"
	"github.com/bft-labs/claimship/internal/app"
	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/metrics"
	"github.com/bft-labs/claimship/internal/ports"
	"github.com/bft-labs/claimship/internal/recovery"
	"github.com/bft-labs/claimship/internal/registry"
	"github.com/bft-labs/claimship/internal/retry"
	"github.com/bft-labs/claimship/internal/store"
	"github.com/bft-labs/claimship/internal/telemetry"
	"github.com/bft-labs/claimship/pkg/log"
)

// StatusReport is a point-in-time view of one provider's queue.
type StatusReport = httpAdapter.StatusReport

const statusShutdownTimeout = 5 * time.Second

// Claimship is a claims delivery agent that can be embedded in other
// applications. Use New() to create an instance, then Start() to begin
// delivering.
type Claimship struct {
	config    Config
	opts      options
	lifecycle *app.Lifecycle
	store     *store.Store
	source    ports.ExtractionSource
	batches   *registry.Batches
	operator  *app.Operator
	stateFile *fs.StateFile
	logger    ports.Logger
	plugins   []Plugin

	mu     sync.Mutex
	status *httpAdapter.StatusServer
	cancel context.CancelFunc

	// stateMu is taken while mu may be held. It guards the fields below and
	// the tunable fields of config.
	stateMu    sync.Mutex
	pipeline   *app.Pipeline
	startedUtc time.Time
	recovered  ports.RecoveryResult
}

// New creates a Claimship instance and opens its database, applying pending
// migrations. The instance is created in StateStopped; call Start() to begin
// delivering and Close() to release the database.
func New(cfg Config, opts ...Option) (*Claimship, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateModuleVersions(); err != nil {
		return nil, err
	}

	o := defaultOptions(&http.Client{Timeout: cfg.HTTPTimeout})
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend == nil && cfg.ServiceURL == "" {
		return nil, fmt.Errorf("%w: service url is required", ErrInvalidConfig)
	}
	logger := o.logger

	storeOpts := []store.Option{store.WithLogger(logger)}
	if cfg.EncryptionKey != nil {
		enc, err := crypto.NewAESGCM(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		storeOpts = append(storeOpts, store.WithEncryptor(enc))
	}
	if err := os.MkdirAll(cfg.DataDir(), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(cfg.DBPath, storeOpts...)
	if err != nil {
		return nil, err
	}

	source := o.source
	if source == nil && cfg.InboxDir != "" {
		source = fs.NewInbox(cfg.InboxDir, logger)
	}

	c := &Claimship{
		config:    cfg,
		opts:      o,
		store:     st,
		source:    source,
		batches:   registry.NewBatches(func(n int) { metrics.ActiveBatches.Set(float64(n)) }),
		operator:  app.NewOperator(st, cfg.ProviderDhsCode, logger, nil),
		stateFile: fs.NewStateFile(cfg.DataDir()),
		logger:    logger,
		plugins:   o.plugins,
	}
	c.lifecycle = app.NewLifecycle(logger, &eventEmitterWrapper{c: c, handler: o.eventHandler})
	return c, nil
}

// Start runs crash recovery, initializes plugins and starts the pipeline
// in the background. It returns once the instance is Running, or with the
// error that stopped startup, leaving the instance Crashed.
func (c *Claimship) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lifecycle.CanStart() {
		return ErrAlreadyRunning
	}
	if err := c.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.lifecycle.SetCancel(cancel)

	c.stateMu.Lock()
	c.startedUtc = time.Now().UTC()
	c.recovered = ports.RecoveryResult{}
	c.stateMu.Unlock()

	var initialized []Plugin
	abort := func(reason string, err error) error {
		c.lifecycle.Cancel()
		_ = c.lifecycle.WaitWithTimeout(app.ShutdownTimeout)
		c.shutdownPlugins(initialized)
		_ = c.lifecycle.TransitionTo(app.StateCrashed, reason)
		return err
	}

	// Recovery must finish before any worker leases a Claim.
	begin := time.Now()
	res, err := recovery.New(c.store, c.logger).Run(runCtx)
	if err != nil {
		return abort("recovery failed", err)
	}
	c.stateMu.Lock()
	c.recovered = res
	c.stateMu.Unlock()
	if c.opts.eventHandler != nil {
		c.opts.eventHandler.OnRecovery(RecoveryEvent{
			RecoveredClaims:     res.RecoveredClaims,
			RecoveredDispatches: res.RecoveredDispatches,
			Duration:            time.Since(begin),
		})
	}

	// Telemetry outlives the pipeline so the last API calls are persisted.
	telemetryCtx, stopTelemetry := context.WithCancel(context.WithoutCancel(runCtx))
	recorder := telemetry.NewRecorder(c.config.TelemetryQueueSize)
	writer := telemetry.NewWriter(recorder, c.store, c.logger, c.config.TelemetryBatchSize)
	c.lifecycle.Go("telemetry", func() { writer.Run(telemetryCtx) })

	backend := c.opts.backend
	if backend == nil {
		backend = httpAdapter.NewClient(c.opts.httpClient, httpAdapter.Config{
			ServiceURL: c.config.ServiceURL,
			AuthKey:    c.config.AuthKey,
			Hostname:   hostname(),
		}, recorder, c.logger)
	}
	uploader, _ := backend.(ports.AttachmentUploader)
	poster, _ := backend.(ports.MappingPoster)

	pluginCfg := PluginConfig{
		DBPath:          c.config.DBPath,
		DataDir:         c.config.DataDir(),
		ConfigPath:      c.config.ConfigPath,
		ProviderDhsCode: c.config.ProviderDhsCode,
		ServiceURL:      c.config.ServiceURL,
		InboxDir:        c.config.InboxDir,
		Logger:          c.logger,
		Tune:            c.Tune,
	}
	for _, p := range c.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			c.logger.Error("plugin initialization failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
			stopTelemetry()
			return abort("plugin init failed: "+p.Name(), err)
		}
		initialized = append(initialized, p)
		c.logger.Info("plugin initialized", ports.String("plugin", p.Name()))
	}

	if c.config.StatusAddr != "" {
		srv := httpAdapter.NewStatusServer(c.config.StatusAddr, c.Snapshot, c.health, c.logger)
		if err := srv.Start(); err != nil {
			stopTelemetry()
			return abort("status server failed", fmt.Errorf("start status server: %w", err))
		}
		c.status = srv
	}

	c.stateMu.Lock()
	pipelineCfg := app.PipelineConfig{
		ProviderDhsCode: c.config.ProviderDhsCode,
		LeaseDuration:   c.config.LeaseDuration,
		Take:            c.config.Take,
		PollInterval:    c.config.PollInterval,
	}
	c.stateMu.Unlock()

	pool := app.NewPool(runCtx, c.config.Workers, c.config.Workers*2, c.logger)
	pipeline, err := app.NewPipeline(pipelineCfg, app.PipelineDeps{
		Store:    c.store,
		Backend:  backend,
		Source:   c.source,
		Uploader: uploader,
		Poster:   poster,
		Policy:   retry.NewPolicy(c.config.RetryBaseDelay, c.config.RetryMaxDelay, c.config.MaxAttempts),
		Batches:  c.batches,
		Pool:     pool,
		Progress: app.MultiSink{app.NewLogSink(c.logger), progressSink{handler: c.opts.eventHandler}},
		Logger:   c.logger,
	})
	if err != nil {
		pool.Close()
		stopTelemetry()
		c.stopStatusServer()
		return abort("pipeline setup failed", err)
	}
	c.stateMu.Lock()
	c.pipeline = pipeline
	c.stateMu.Unlock()

	if err := c.lifecycle.TransitionTo(app.StateRunning, "recovery complete"); err != nil {
		pool.Close()
		stopTelemetry()
		c.stopStatusServer()
		return abort("start interrupted", err)
	}

	c.lifecycle.Go("pipeline", func() {
		pipeline.Run(runCtx)
		pool.Close()
		stopTelemetry()
	})
	return nil
}

// Stop gracefully shuts down the agent. In-flight sends finish and release
// their leases. Waits up to 30 seconds before forcing shutdown.
// Returns nil on graceful shutdown, ErrShutdownTimeout if forced.
func (c *Claimship) Stop() error {
	c.mu.Lock()

	if !c.lifecycle.CanStop() {
		c.mu.Unlock()
		return ErrNotRunning
	}
	if err := c.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	err := c.lifecycle.WaitWithTimeout(app.ShutdownTimeout)

	c.mu.Lock()
	c.stopStatusServer()
	c.mu.Unlock()

	c.stateMu.Lock()
	c.pipeline = nil
	c.stateMu.Unlock()

	c.shutdownPlugins(c.plugins)

	if err != nil {
		_ = c.lifecycle.TransitionTo(app.StateCrashed, "shutdown timeout")
	} else {
		_ = c.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	}
	return err
}

// Close releases the database. The instance must be stopped.
func (c *Claimship) Close() error {
	if s := c.lifecycle.State(); s != app.StateStopped && s != app.StateCrashed {
		return ErrAlreadyRunning
	}
	return c.store.Close()
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (c *Claimship) Status() State {
	return convertState(c.lifecycle.State())
}

// StatusAddr returns the address the status server listens on, or "" when
// it is not running.
func (c *Claimship) StatusAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == nil {
		return ""
	}
	return c.status.Addr()
}

// Tune applies new tunables. Settings the pipeline does not own are kept
// for the next Start.
func (c *Claimship) Tune(t Tunables) {
	c.stateMu.Lock()
	if t.PollInterval > 0 {
		c.config.PollInterval = t.PollInterval
	}
	if t.LeaseDuration > 0 {
		c.config.LeaseDuration = t.LeaseDuration
	}
	if t.Take > 0 {
		c.config.Take = t.Take
	}
	pipeline := c.pipeline
	c.stateMu.Unlock()

	if pipeline != nil {
		pipeline.Tune(app.Tunables{
			LeaseDuration: t.LeaseDuration,
			Take:          t.Take,
			PollInterval:  t.PollInterval,
		})
	}
	if t.LogLevel != "" && c.opts.levelSetter != nil {
		if err := c.opts.levelSetter(t.LogLevel); err != nil {
			c.logger.Warn("log level not applied", ports.String("level", t.LogLevel), ports.Err(err))
		}
	}
}

// RetryClaims makes Failed claims due immediately, including claims whose
// retry budget is exhausted.
func (c *Claimship) RetryClaims(ctx context.Context, proIDClaims []int64) error {
	return c.operator.RetryClaims(ctx, proIDClaims)
}

// RequestResume asks the pipeline to resend the incomplete Claims of an
// Enqueued batch.
func (c *Claimship) RequestResume(ctx context.Context, batchID int64) error {
	return c.operator.RequestResume(ctx, batchID)
}

// Snapshot reports claim counts, active batches and open issues.
func (c *Claimship) Snapshot(ctx context.Context) (StatusReport, error) {
	provider := c.config.ProviderDhsCode
	counts, err := c.store.CountClaimsByStatus(ctx, provider)
	if err != nil {
		return StatusReport{}, err
	}
	issues, err := c.store.ListOpenValidationIssues(ctx, provider)
	if err != nil {
		return StatusReport{}, err
	}

	claims := make(map[string]int, len(counts))
	for status, n := range counts {
		claims[status.String()] = n
	}
	c.stateMu.Lock()
	started, recovered := c.startedUtc, c.recovered
	c.stateMu.Unlock()

	return StatusReport{
		State:           c.Status().String(),
		ProviderDhsCode: provider,
		Claims:          claims,
		ActiveBatches:   c.batches.Active(),
		OpenIssues:      len(issues),
		GeneratedUtc:    time.Now().UTC(),
		Extra: map[string]any{
			"started_utc":          started,
			"recovered_claims":     recovered.RecoveredClaims,
			"recovered_dispatches": recovered.RecoveredDispatches,
			"version":              log.Version,
		},
	}, nil
}

func (c *Claimship) health() error {
	if s := c.Status(); s != StateRunning {
		return fmt.Errorf("agent is %s", s)
	}
	return nil
}

// stopStatusServer must be called with c.mu held.
func (c *Claimship) stopStatusServer() {
	if c.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
	defer cancel()
	if err := c.status.Shutdown(ctx); err != nil {
		c.logger.Warn("status server shutdown failed", ports.Err(err))
	}
	c.status = nil
}

// shutdownPlugins shuts plugins down in reverse order.
func (c *Claimship) shutdownPlugins(plugins []Plugin) {
	ctx := context.Background()
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			c.logger.Error("plugin shutdown failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
		} else {
			c.logger.Info("plugin shutdown complete", ports.String("plugin", p.Name()))
		}
	}
}

// saveState writes the lifecycle snapshot read by the status command.
func (c *Claimship) saveState(s State) {
	c.stateMu.Lock()
	st := fs.AgentState{
		State:               s.String(),
		PID:                 os.Getpid(),
		ProviderDhsCode:     c.config.ProviderDhsCode,
		StatusAddr:          c.config.StatusAddr,
		RecoveredClaims:     c.recovered.RecoveredClaims,
		RecoveredDispatches: c.recovered.RecoveredDispatches,
		StartedUtc:          c.startedUtc,
		UpdatedUtc:          time.Now().UTC(),
	}
	c.stateMu.Unlock()

	if err := c.stateFile.Save(context.Background(), st); err != nil {
		c.logger.Warn("failed to save agent state", ports.Err(err))
	}
}

// hostname returns the current hostname.
func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// eventEmitterWrapper adapts EventHandler to the lifecycle emitter and
// keeps the state file current.
type eventEmitterWrapper struct {
	c       *Claimship
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	e.c.saveState(convertState(current))
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous:  convertState(previous),
		Current:   convertState(current),
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

// progressSink forwards pipeline progress to the event handler.
type progressSink struct {
	handler EventHandler
}

func (s progressSink) Report(r domain.ProgressReport) {
	if s.handler == nil {
		return
	}
	s.handler.OnProgress(ProgressEvent{
		Worker:     r.WorkerID,
		Message:    r.Message,
		Percentage: r.Percentage,
		IsError:    r.IsError,
		BatchID:    r.BatchID,
		Processed:  r.Processed,
		Total:      r.Total,
		BcrID:      r.BcrID,
	})
}

func convertState(s app.State) State {
	switch s {
	case app.StateStopped:
		return StateStopped
	case app.StateStarting:
		return StateStarting
	case app.StateRunning:
		return StateRunning
	case app.StateStopping:
		return StateStopping
	case app.StateCrashed:
		return StateCrashed
	default:
		return StateStopped
	}
}

// validateModuleVersions checks that all module versions are compatible.
func validateModuleVersions() error {
	modules := map[string]struct {
		version    string
		minVersion string
	}{
		"log": {log.Version, log.MinCompatibleVersion},
	}

	for name, m := range modules {
		if !isVersionCompatible(m.version, m.minVersion) {
			return fmt.Errorf("module %s version %s is below minimum compatible version %s",
				name, m.version, m.minVersion)
		}
	}
	return nil
}

// isVersionCompatible reports whether version >= minVersion. Versions are
// "major.minor.patch".
func isVersionCompatible(version, minVersion string) bool {
	var vMajor, vMinor, vPatch int
	var mMajor, mMinor, mPatch int

	_, _ = fmt.Sscanf(version, "%d.%d.%d", &vMajor, &vMinor, &vPatch)
	_, _ = fmt.Sscanf(minVersion, "%d.%d.%d", &mMajor, &mMinor, &mPatch)

	if vMajor != mMajor {
		return vMajor > mMajor
	}
	if vMinor != mMinor {
		return vMinor > mMinor
	}
	return vPatch >= mPatch
}
