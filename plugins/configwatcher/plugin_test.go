package configwatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/claimship/pkg/claimship"
)

// tuneRecorder captures Tune calls.
type tuneRecorder struct {
	mu    sync.Mutex
	calls []claimship.Tunables
}

func (r *tuneRecorder) Tune(t claimship.Tunables) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, t)
}

func (r *tuneRecorder) Calls() []claimship.Tunables {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]claimship.Tunables(nil), r.calls...)
}

func waitForCalls(t *testing.T, r *tuneRecorder, n int) []claimship.Tunables {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if calls := r.Calls(); len(calls) >= n {
			return calls
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d Tune calls, got %d", n, len(r.Calls()))
	return nil
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

func startPlugin(t *testing.T, path string, rec *tuneRecorder) *Plugin {
	t.Helper()
	plugin := New(Config{DebounceDelay: 10 * time.Millisecond, RetryInterval: 10 * time.Millisecond})
	err := plugin.Initialize(context.Background(), claimship.PluginConfig{
		ConfigPath: path,
		Tune:       rec.Tune,
		Logger:     &noopLogger{},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() {
		if err := plugin.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	})
	return plugin
}

func TestPlugin_AppliesChangedTunables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, `take = 40`)

	rec := &tuneRecorder{}
	startPlugin(t, path, rec)

	// The baseline is not applied.
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.Calls()); n != 0 {
		t.Fatalf("Tune called %d times before any change", n)
	}

	writeConfig(t, path, `
provider_dhs_code = "P1"
poll_interval = "2s"
lease_duration = "3m"
take = 10
log_level = "DEBUG"
`)

	calls := waitForCalls(t, rec, 1)
	want := claimship.Tunables{
		PollInterval:  2 * time.Second,
		LeaseDuration: 3 * time.Minute,
		Take:          10,
		LogLevel:      "debug",
	}
	if calls[0] != want {
		t.Errorf("Tune(%+v), want %+v", calls[0], want)
	}
}

func TestPlugin_IgnoresUnchangedAndInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, `take = 5`)

	rec := &tuneRecorder{}
	startPlugin(t, path, rec)

	// Same tunables, different bytes.
	writeConfig(t, path, "take = 5\nauth_key = \"rotated\"\n")
	time.Sleep(100 * time.Millisecond)

	writeConfig(t, path, `poll_interval = "soon"`)
	time.Sleep(100 * time.Millisecond)

	if n := len(rec.Calls()); n != 0 {
		t.Errorf("Tune called %d times, want 0", n)
	}

	writeConfig(t, path, `take = 6`)
	calls := waitForCalls(t, rec, 1)
	if calls[0].Take != 6 {
		t.Errorf("Take = %d, want 6", calls[0].Take)
	}
}

func TestPlugin_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, `take = 5`)

	rec := &tuneRecorder{}
	startPlugin(t, path, rec)

	writeConfig(t, filepath.Join(dir, "other.toml"), `take = 9`)
	time.Sleep(100 * time.Millisecond)

	if n := len(rec.Calls()); n != 0 {
		t.Errorf("Tune called %d times for an unrelated file", n)
	}
}

func TestPlugin_Name(t *testing.T) {
	plugin := New(DefaultConfig())
	if plugin.Name() != "configwatcher" {
		t.Errorf("Name() = %v, want configwatcher", plugin.Name())
	}
}

func TestPlugin_DisabledWhenConfigPathEmpty(t *testing.T) {
	rec := &tuneRecorder{}
	plugin := New(DefaultConfig())

	err := plugin.Initialize(context.Background(), claimship.PluginConfig{
		Tune:   rec.Tune,
		Logger: &noopLogger{},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := plugin.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestPlugin_MissingDirectoryFails(t *testing.T) {
	plugin := New(DefaultConfig())
	err := plugin.Initialize(context.Background(), claimship.PluginConfig{
		ConfigPath: filepath.Join(t.TempDir(), "missing", "config.toml"),
		Tune:       func(claimship.Tunables) {},
		Logger:     &noopLogger{},
	})
	if err == nil {
		t.Fatal("Initialize() expected error for a missing directory")
	}
}

func TestTunablesFromFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    claimship.Tunables
		wantErr bool
	}{
		{name: "empty", content: ``, want: claimship.Tunables{}},
		{name: "negative take", content: `take = -1`, wantErr: true},
		{name: "zero poll", content: `poll_interval = "0s"`, wantErr: true},
		{name: "bad lease", content: `lease_duration = "long"`, wantErr: true},
		{name: "level lowercased", content: `log_level = "Warn"`, want: claimship.Tunables{LogLevel: "warn"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			writeConfig(t, path, tt.content)
			p := New(DefaultConfig())
			p.path = path

			got, err := p.load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("load() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestErrorToCode(t *testing.T) {
	p := New(DefaultConfig())
	_, err := os.ReadFile(filepath.Join(t.TempDir(), "nope.toml"))
	if got := p.errorToCode(err); got != ErrCodeFileNotFound {
		t.Errorf("errorToCode() = %v, want %v", got, ErrCodeFileNotFound)
	}
}

// noopLogger implements claimship.Logger for testing
type noopLogger struct{}

func (noopLogger) Debug(msg string, fields ...claimship.LogField) {}
func (noopLogger) Info(msg string, fields ...claimship.LogField)  {}
func (noopLogger) Warn(msg string, fields ...claimship.LogField)  {}
func (noopLogger) Error(msg string, fields ...claimship.LogField) {}
