// Package inboxcleanup provides automatic cleanup of the file inbox archive.
// The inbox moves acknowledged bundles to processed/ and unparseable ones to
// rejected/. When enabled, this plugin periodically removes archived files
// past a retention age, and the oldest ones while the archive exceeds its
// high watermark.
package inboxcleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/claimship/pkg/claimship"
	"github.com/bft-labs/claimship/pkg/log"
)

// Archive directories under the inbox.
var archiveDirs = []string{"processed", "rejected"}

// Plugin implements inbox archive cleanup.
type Plugin struct {
	mu sync.RWMutex

	// Configuration
	checkInterval time.Duration
	maxAge        time.Duration
	highWatermark int64
	lowWatermark  int64
	now           func() time.Time

	// Runtime state
	inboxDir string
	logger   claimship.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Config holds configuration options for the inbox cleanup plugin.
type Config struct {
	// CheckInterval is how often to check the archive.
	// Default: 6 hours
	CheckInterval time.Duration

	// MaxAge is how long an archived bundle is kept. Zero keeps files
	// until the watermark forces them out.
	// Default: 30 days
	MaxAge time.Duration

	// HighWatermark is the archive size in bytes above which the oldest
	// files are removed.
	// Default: 1 GiB
	HighWatermark int64

	// LowWatermark is the target archive size after cleanup.
	// Default: 768 MiB
	LowWatermark int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 6 * time.Hour,
		MaxAge:        30 * 24 * time.Hour,
		HighWatermark: 1 << 30,  // 1 GiB
		LowWatermark:  3 << 28,  // 768 MiB
	}
}

// New creates a new inbox cleanup plugin with the given configuration.
func New(cfg Config) *Plugin {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = def.HighWatermark
	}
	if cfg.LowWatermark <= 0 || cfg.LowWatermark > cfg.HighWatermark {
		cfg.LowWatermark = cfg.HighWatermark / 4 * 3
	}

	return &Plugin{
		checkInterval: cfg.CheckInterval,
		maxAge:        cfg.MaxAge,
		highWatermark: cfg.HighWatermark,
		lowWatermark:  cfg.LowWatermark,
		now:           time.Now,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "inboxcleanup"
}

// Initialize starts the cleanup loop. It is a no-op when no inbox is
// configured.
func (p *Plugin) Initialize(ctx context.Context, cfg claimship.PluginConfig) error {
	p.mu.Lock()
	p.inboxDir = cfg.InboxDir
	p.logger = cfg.Logger
	if p.logger == nil {
		p.logger = log.NewNoopLogger()
	}
	p.mu.Unlock()

	if p.inboxDir == "" {
		p.logger.Warn("inbox cleanup disabled: no inbox directory configured")
		return nil
	}

	cleanupCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("inbox cleanup plugin initialized",
		log.String("inbox", p.inboxDir),
		log.Duration("max_age", p.maxAge))

	p.wg.Add(1)
	go p.cleanupLoop(cleanupCtx)

	return nil
}

// Shutdown stops the cleanup loop.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

func (p *Plugin) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()

	p.cleanupOnce(ctx)

	ticker := time.NewTicker(p.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cleanupOnce(ctx)
		}
	}
}

// cleanupOnce performs a single cleanup pass and returns the bytes freed.
func (p *Plugin) cleanupOnce(ctx context.Context) int64 {
	p.mu.RLock()
	inboxDir := p.inboxDir
	p.mu.RUnlock()

	files, err := archivedFiles(inboxDir)
	if err != nil {
		p.logger.Error("inbox cleanup: scan failed", log.Err(err))
		return 0
	}

	var total int64
	for _, f := range files {
		total += f.size
	}

	cutoff := time.Time{}
	if p.maxAge > 0 {
		cutoff = p.now().Add(-p.maxAge)
	}

	var freed int64
	removed := 0
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		expired := !cutoff.IsZero() && f.modTime.Before(cutoff)
		over := total > p.highWatermark && total-freed > p.lowWatermark
		if !expired && !over {
			// Oldest first: nothing later is expired either.
			break
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.logger.Error("inbox cleanup: remove failed",
				log.String("file", f.path), log.Err(err))
			continue
		}
		freed += f.size
		removed++
	}

	if removed > 0 {
		p.logger.Info("inbox cleanup completed",
			log.Int("files", removed),
			log.String("freed", formatBytes(freed)),
			log.String("remaining", formatBytes(total-freed)))
	}
	return freed
}

// archivedFile is one file in an archive directory.
type archivedFile struct {
	path    string
	size    int64
	modTime time.Time
}

// archivedFiles lists the archive oldest first. Missing archive directories
// are skipped.
func archivedFiles(inboxDir string) ([]archivedFile, error) {
	var files []archivedFile
	for _, dir := range archiveDirs {
		ents, err := os.ReadDir(filepath.Join(inboxDir, dir))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range ents {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			files = append(files, archivedFile{
				path:    filepath.Join(inboxDir, dir, e.Name()),
				size:    info.Size(),
				modTime: info.ModTime(),
			})
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})
	return files, nil
}

func formatBytes(b int64) string {
	const (
		_          = iota
		KB float64 = 1 << (10 * iota)
		MB
		GB
	)

	fb := float64(b)
	switch {
	case fb >= GB:
		return fmt.Sprintf("%.2fGiB", fb/GB)
	case fb >= MB:
		return fmt.Sprintf("%.2fMiB", fb/MB)
	case fb >= KB:
		return fmt.Sprintf("%.2fKiB", fb/KB)
	default:
		return fmt.Sprintf("%dB", b)
	}
}

var _ claimship.Plugin = (*Plugin)(nil)
