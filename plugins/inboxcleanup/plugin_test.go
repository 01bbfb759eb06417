package inboxcleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/claimship/pkg/claimship"
	"github.com/bft-labs/claimship/pkg/log"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// writeArchived writes an archived bundle of size bytes aged days before base.
func writeArchived(t *testing.T, inbox, dir, name string, size int, days int) string {
	t.Helper()
	path := filepath.Join(inbox, dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o600))
	mt := base.Add(-time.Duration(days) * 24 * time.Hour)
	require.NoError(t, os.Chtimes(path, mt, mt))
	return path
}

func newTestPlugin(inbox string, cfg Config) *Plugin {
	p := New(cfg)
	p.inboxDir = inbox
	p.logger = log.NewNoopLogger()
	p.now = func() time.Time { return base }
	return p
}

func TestCleanupOnce_RemovesExpired(t *testing.T) {
	inbox := t.TempDir()
	old := writeArchived(t, inbox, "processed", "a.json", 10, 40)
	oldRejected := writeArchived(t, inbox, "rejected", "b.json", 10, 31)
	fresh := writeArchived(t, inbox, "processed", "c.json", 10, 2)
	pending := filepath.Join(inbox, "d.json")
	require.NoError(t, os.WriteFile(pending, []byte("{}"), 0o600))

	p := newTestPlugin(inbox, Config{MaxAge: 30 * 24 * time.Hour})
	p.cleanupOnce(context.Background())

	assert.NoFileExists(t, old)
	assert.NoFileExists(t, oldRejected)
	assert.FileExists(t, fresh)
	assert.FileExists(t, pending, "unarchived bundles are never touched")
}

func TestCleanupOnce_WatermarkRemovesOldestFirst(t *testing.T) {
	inbox := t.TempDir()
	oldest := writeArchived(t, inbox, "processed", "1.json", 100, 5)
	middle := writeArchived(t, inbox, "rejected", "2.json", 100, 4)
	newest := writeArchived(t, inbox, "processed", "3.json", 100, 3)

	p := newTestPlugin(inbox, Config{HighWatermark: 250, LowWatermark: 150})
	freed := p.cleanupOnce(context.Background())

	assert.Equal(t, int64(200), freed)
	assert.NoFileExists(t, oldest)
	assert.NoFileExists(t, middle)
	assert.FileExists(t, newest)
}

func TestCleanupOnce_UnderWatermarkKeepsFiles(t *testing.T) {
	inbox := t.TempDir()
	f := writeArchived(t, inbox, "processed", "1.json", 100, 5)

	p := newTestPlugin(inbox, Config{HighWatermark: 1000})

	assert.Zero(t, p.cleanupOnce(context.Background()))
	assert.FileExists(t, f)
}

func TestInitialize_DisabledWithoutInbox(t *testing.T) {
	p := New(DefaultConfig())
	require.NoError(t, p.Initialize(context.Background(), claimship.PluginConfig{}))
	assert.Nil(t, p.cancel)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{HighWatermark: 400, LowWatermark: 800})
	assert.Equal(t, 6*time.Hour, p.checkInterval)
	assert.Equal(t, int64(300), p.lowWatermark)
	assert.Equal(t, "inboxcleanup", p.Name())
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", formatBytes(512))
	assert.Equal(t, "1.50KiB", formatBytes(1536))
	assert.Equal(t, "2.00GiB", formatBytes(2<<30))
}

func TestInitialize_RunsImmediately(t *testing.T) {
	inbox := t.TempDir()
	path := filepath.Join(inbox, "processed", "old.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	old := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, old, old))

	p := New(Config{MaxAge: 24 * time.Hour})
	require.NoError(t, p.Initialize(context.Background(), claimship.PluginConfig{
		InboxDir: inbox,
		Logger:   log.NewNoopLogger(),
	}))
	defer p.Shutdown(context.Background())

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}
