package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/ports"
	"github.com/bft-labs/claimship/internal/registry"
	"github.com/bft-labs/claimship/internal/retry"
)

// Pipeline defaults.
const (
	DefaultLeaseDuration = 120 * time.Second
	DefaultTake          = 40
)

// Worker ids used in progress reports and logs.
const (
	WorkerStage       = "stage"
	WorkerSend        = "send"
	WorkerRetry       = "retry"
	WorkerRequeue     = "requeue"
	WorkerAttachments = "attachments"
	WorkerMappings    = "mappings"
)

// Store is the persistence surface the pipeline drives.
type Store interface {
	ports.ClaimStore
	ports.PayloadStore
	ports.BatchStore
	ports.DispatchStore
	ports.AttachmentStore
	ports.MappingStore
	ports.ValidationStore
}

// PipelineConfig tunes the worker loops.
type PipelineConfig struct {
	ProviderDhsCode string
	LeaseDuration   time.Duration
	Take            int
	PollInterval    time.Duration
	MaxIdle         time.Duration
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	if c.Take <= 0 {
		c.Take = DefaultTake
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultIdleInitial
	}
	if c.MaxIdle < c.PollInterval {
		c.MaxIdle = c.PollInterval * 12
	}
	return c
}

// PipelineDeps are the collaborators of a Pipeline. Source, Uploader and
// Poster are optional; the matching loop does not run without them.
type PipelineDeps struct {
	Store    Store
	Backend  ports.BackendClient
	Source   ports.ExtractionSource
	Uploader ports.AttachmentUploader
	Poster   ports.MappingPoster
	Policy   *retry.Policy
	Batches  *registry.Batches
	Pool     *Pool
	Progress ports.ProgressSink
	Logger   ports.Logger
	Now      func() time.Time
}

// Pipeline runs the stage, send, retry, requeue, attachment and mapping
// loops for one provider. Loops never share a Claim: every Claim they touch
// is obtained through a lease.
type Pipeline struct {
	mu       sync.RWMutex
	cfg      PipelineConfig
	store    Store
	backend  ports.BackendClient
	source   ports.ExtractionSource
	uploader ports.AttachmentUploader
	poster   ports.MappingPoster
	policy   *retry.Policy
	batches  *registry.Batches
	pool     *Pool
	progress ports.ProgressSink
	logger   ports.Logger
	now      func() time.Time
}

// NewPipeline creates a pipeline. Store, Backend and Pool are required.
func NewPipeline(cfg PipelineConfig, deps PipelineDeps) (*Pipeline, error) {
	if cfg.ProviderDhsCode == "" {
		return nil, fmt.Errorf("%w: provider dhs code is required", domain.ErrInvalidConfig)
	}
	if deps.Store == nil || deps.Backend == nil || deps.Pool == nil {
		return nil, fmt.Errorf("%w: store, backend and pool are required", domain.ErrInvalidConfig)
	}

	p := &Pipeline{
		cfg:      cfg.withDefaults(),
		store:    deps.Store,
		backend:  deps.Backend,
		source:   deps.Source,
		uploader: deps.Uploader,
		poster:   deps.Poster,
		policy:   deps.Policy,
		batches:  deps.Batches,
		pool:     deps.Pool,
		progress: deps.Progress,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if p.policy == nil {
		p.policy = retry.DefaultPolicy()
	}
	if p.batches == nil {
		p.batches = registry.NewBatches(nil)
	}
	if p.progress == nil {
		p.progress = noopSink{}
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p, nil
}

// step performs one unit of a loop. worked reports whether anything was
// found, which resets the idle backoff.
type step func(ctx context.Context) (worked bool, err error)

// Run starts every configured loop and blocks until ctx is canceled and all
// loops have returned.
func (p *Pipeline) Run(ctx context.Context) {
	loops := map[string]step{
		WorkerSend:    p.SendOnce,
		WorkerRetry:   p.RetryOnce,
		WorkerRequeue: p.RequeueOnce,
	}
	if p.source != nil {
		loops[WorkerStage] = p.StageOnce
	}
	if p.uploader != nil {
		loops[WorkerAttachments] = p.UploadOnce
	}
	if p.poster != nil {
		loops[WorkerMappings] = p.PostMappingsOnce
	}

	var wg sync.WaitGroup
	for name, fn := range loops {
		wg.Add(1)
		go func(name string, fn step) {
			defer wg.Done()
			p.loop(ctx, name, fn)
		}(name, fn)
	}
	p.logger.Info("pipeline started",
		ports.Provider(p.config().ProviderDhsCode),
		ports.Int("loops", len(loops)),
	)
	wg.Wait()
	p.logger.Info("pipeline stopped")
}

// Tunables are the pipeline settings that may change while it runs.
type Tunables struct {
	LeaseDuration time.Duration
	Take          int
	PollInterval  time.Duration
}

// Tune applies new tunables. Zero fields keep the current value. Running
// loops pick the change up on their next step.
func (p *Pipeline) Tune(t Tunables) {
	p.mu.Lock()
	cfg := p.cfg
	if t.LeaseDuration > 0 {
		cfg.LeaseDuration = t.LeaseDuration
	}
	if t.Take > 0 {
		cfg.Take = t.Take
	}
	if t.PollInterval > 0 && t.PollInterval != cfg.PollInterval {
		cfg.PollInterval = t.PollInterval
		cfg.MaxIdle = 0
	}
	p.cfg = cfg.withDefaults()
	p.mu.Unlock()

	p.logger.Info("pipeline tuned",
		ports.Duration("lease", cfg.LeaseDuration),
		ports.Int("take", cfg.Take),
		ports.Duration("poll", cfg.PollInterval),
	)
}

func (p *Pipeline) config() PipelineConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Pipeline) loop(ctx context.Context, name string, fn step) {
	cfg := p.config()
	idle := newIdleBackoff(cfg.PollInterval, cfg.MaxIdle)
	for ctx.Err() == nil {
		if c := p.config(); c.PollInterval != cfg.PollInterval {
			cfg = c
			idle = newIdleBackoff(cfg.PollInterval, cfg.MaxIdle)
		}
		worked, err := fn(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("worker step failed", ports.Worker(name), ports.Err(err))
			p.report(domain.ProgressReport{WorkerID: name, Message: err.Error(), IsError: true})
		}
		if worked && err == nil {
			idle.Reset()
			continue
		}
		if idle.Wait(ctx) != nil {
			return
		}
	}
}

func (p *Pipeline) report(r domain.ProgressReport) {
	p.progress.Report(r)
}

func intPtr(n int) *int { return &n }

func int64Ptr(n int64) *int64 { return &n }

func floatPtr(f float64) *float64 { return &f }
