package cliconfig

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.DBPath = "/tmp/claimship/claimship.db"
	cfg.ProviderDhsCode = "P1"
	cfg.ServiceURL = "http://localhost:8080"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LeaseDuration != 120*time.Second {
		t.Errorf("LeaseDuration = %v, want 120s", cfg.LeaseDuration)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.Take != 40 {
		t.Errorf("Take = %v, want 40", cfg.Take)
	}
	if cfg.HTTPTimeout != 60*time.Second {
		t.Errorf("HTTPTimeout = %v, want 60s", cfg.HTTPTimeout)
	}
	if cfg.RetryBaseDelay != 30*time.Second || cfg.RetryMaxDelay != 30*time.Minute || cfg.MaxAttempts != 5 {
		t.Errorf("retry = %v/%v/%d, want 30s/30m/5", cfg.RetryBaseDelay, cfg.RetryMaxDelay, cfg.MaxAttempts)
	}
	if cfg.TelemetryQueueSize != 1000 || cfg.TelemetryBatchSize != 50 {
		t.Errorf("telemetry = %d/%d, want 1000/50", cfg.TelemetryQueueSize, cfg.TelemetryBatchSize)
	}
}

func TestConfig_Validate(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "valid with encryption key", mutate: func(c *Config) { c.EncryptionKey = key }},
		{name: "missing provider", mutate: func(c *Config) { c.ProviderDhsCode = "" }, wantErr: true},
		{name: "missing service url", mutate: func(c *Config) { c.ServiceURL = "" }, wantErr: true},
		{name: "short encryption key", mutate: func(c *Config) { c.EncryptionKey = "c2hvcnQ=" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
		{name: "invalid poll interval", mutate: func(c *Config) { c.PollInterval = -1 }, wantErr: true},
		{name: "zero lease", mutate: func(c *Config) { c.LeaseDuration = 0 }, wantErr: true},
		{name: "zero take", mutate: func(c *Config) { c.Take = 0 }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Workers = 0 }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.MaxAttempts = 0 }, wantErr: true},
		{name: "base above max", mutate: func(c *Config) { c.RetryBaseDelay = time.Hour }, wantErr: true},
		{name: "zero telemetry batch", mutate: func(c *Config) { c.TelemetryBatchSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_Derivations(t *testing.T) {
	c := validConfig()
	c.DBPath = ""
	c.ServiceURL = "http://api.example.com/"
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if c.ServiceURL != "http://api.example.com" {
		t.Errorf("ServiceURL = %v, want trailing slash trimmed", c.ServiceURL)
	}
	if DefaultDataDir() != "" {
		if !strings.HasSuffix(c.DBPath, dbFileName) {
			t.Errorf("DBPath = %v, want default under data dir", c.DBPath)
		}
		if c.DataDir() != DefaultDataDir() {
			t.Errorf("DataDir() = %v, want %v", c.DataDir(), DefaultDataDir())
		}
	}
}

func TestConfig_ValidateStore_SkipsAgentKeys(t *testing.T) {
	c := DefaultConfig()
	c.DBPath = "/tmp/x.db"
	if err := c.ValidateStore(); err != nil {
		t.Errorf("ValidateStore() error = %v, want nil without provider or service url", err)
	}
}

func TestConfig_Masked(t *testing.T) {
	c := validConfig()
	c.AuthKey = "secret"
	c.EncryptionKey = "key"
	m := c.Masked()
	if m.AuthKey != "*****" || m.EncryptionKey != "*****" {
		t.Errorf("Masked() = %q/%q, want masked", m.AuthKey, m.EncryptionKey)
	}
	if c.AuthKey != "secret" {
		t.Error("Masked() modified the receiver")
	}
}
