package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	DBPath             string `toml:"db_path"`
	ProviderDhsCode    string `toml:"provider_dhs_code"`
	ServiceURL         string `toml:"service_url"`
	AuthKey            string `toml:"auth_key"`
	EncryptionKey      string `toml:"encryption_key"`
	InboxDir           string `toml:"inbox_dir"`
	StatusAddr         string `toml:"status_addr"`
	LogLevel           string `toml:"log_level"`
	PollInterval       string `toml:"poll_interval"`
	LeaseDuration      string `toml:"lease_duration"`
	Take               int    `toml:"take"`
	RetryBaseDelay     string `toml:"retry_base_delay"`
	RetryMaxDelay      string `toml:"retry_max_delay"`
	MaxAttempts        int    `toml:"max_attempts"`
	HTTPTimeout        string `toml:"http_timeout"`
	TelemetryQueueSize int    `toml:"telemetry_queue_size"`
	TelemetryBatchSize int    `toml:"telemetry_batch_size"`
	Workers            int    `toml:"workers"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.claimship/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if dir := DefaultDataDir(); dir != "" {
		return filepath.Join(dir, "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("db-path", fc.DBPath, &cfg.DBPath)
	s.setString("provider", fc.ProviderDhsCode, &cfg.ProviderDhsCode)
	s.setString("service-url", fc.ServiceURL, &cfg.ServiceURL)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)
	s.setString("encryption-key", fc.EncryptionKey, &cfg.EncryptionKey)
	s.setString("inbox-dir", fc.InboxDir, &cfg.InboxDir)
	s.setString("status-addr", fc.StatusAddr, &cfg.StatusAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	if err := s.setDuration("poll", fc.PollInterval, &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("lease-duration", fc.LeaseDuration, &cfg.LeaseDuration); err != nil {
		return err
	}
	if err := s.setDuration("retry-base-delay", fc.RetryBaseDelay, &cfg.RetryBaseDelay); err != nil {
		return err
	}
	if err := s.setDuration("retry-max-delay", fc.RetryMaxDelay, &cfg.RetryMaxDelay); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	s.setInt("take", fc.Take, &cfg.Take)
	s.setInt("max-attempts", fc.MaxAttempts, &cfg.MaxAttempts)
	s.setInt("telemetry-queue-size", fc.TelemetryQueueSize, &cfg.TelemetryQueueSize)
	s.setInt("telemetry-batch-size", fc.TelemetryBatchSize, &cfg.TelemetryBatchSize)
	s.setInt("workers", fc.Workers, &cfg.Workers)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
