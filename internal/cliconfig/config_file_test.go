package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				ProviderDhsCode: "P1",
				InboxDir:        "/var/claims/inbox",
				PollInterval:    "10s",
				LeaseDuration:   "3m",
				Take:            25,
				Workers:         8,
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				ProviderDhsCode: "P1",
				InboxDir:        "/var/claims/inbox",
				PollInterval:    10 * time.Second,
				LeaseDuration:   3 * time.Minute,
				Take:            25,
				Workers:         8,
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				ProviderDhsCode: "FILE",
				InboxDir:        "/file/inbox",
			},
			changed: map[string]bool{"provider": true},
			initial: Config{
				ProviderDhsCode: "FLAG",
			},
			expected: Config{
				ProviderDhsCode: "FLAG", // unchanged because flag was set
				InboxDir:        "/file/inbox",
			},
		},
		{
			name: "ignores zero values",
			fileConfig: FileConfig{
				Take:    0,
				Workers: -1,
			},
			changed:  map[string]bool{},
			initial:  Config{Take: 40, Workers: 4},
			expected: Config{Take: 40, Workers: 4},
		},
		{
			name: "returns error for invalid duration",
			fileConfig: FileConfig{
				RetryMaxDelay: "forever",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)

			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyFileConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cfg != tt.expected {
				t.Errorf("ApplyFileConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.toml")

	tomlContent := `
db_path = "/data/claimship.db"
provider_dhs_code = "P1"
service_url = "https://claims.example.com"
poll_interval = "7s"
retry_base_delay = "1m"
max_attempts = 9
telemetry_batch_size = 20
`

	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.DBPath != "/data/claimship.db" {
		t.Errorf("DBPath = %v, want /data/claimship.db", fc.DBPath)
	}
	if fc.ProviderDhsCode != "P1" {
		t.Errorf("ProviderDhsCode = %v, want P1", fc.ProviderDhsCode)
	}
	if fc.PollInterval != "7s" {
		t.Errorf("PollInterval = %v, want 7s", fc.PollInterval)
	}
	if fc.RetryBaseDelay != "1m" {
		t.Errorf("RetryBaseDelay = %v, want 1m", fc.RetryBaseDelay)
	}
	if fc.MaxAttempts != 9 {
		t.Errorf("MaxAttempts = %v, want 9", fc.MaxAttempts)
	}
	if fc.TelemetryBatchSize != 20 {
		t.Errorf("TelemetryBatchSize = %v, want 20", fc.TelemetryBatchSize)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	_, err := LoadFileConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.toml")

	invalidContent := `
provider_dhs_code = "P1"
this is not valid toml
`

	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err := LoadFileConfig(configPath)
	if err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()

	if path != "" && !strings.Contains(path, ".claimship") {
		t.Errorf("DefaultConfigPath() = %v, should contain .claimship", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "exists.txt")

	if err := os.WriteFile(existingFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !FileExists(existingFile) {
		t.Error("FileExists() = false, want true for existing file")
	}

	if FileExists(filepath.Join(tmpDir, "nonexistent.txt")) {
		t.Error("FileExists() = true, want false for nonexistent file")
	}
}
