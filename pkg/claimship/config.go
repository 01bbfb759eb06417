package claimship

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bft-labs/claimship/internal/adapters/crypto"
)

// Default configuration values.
const (
	DefaultPollInterval       = 5 * time.Second
	DefaultLeaseDuration      = 120 * time.Second
	DefaultTake               = 40
	DefaultHTTPTimeout        = 60 * time.Second
	DefaultRetryBaseDelay     = 30 * time.Second
	DefaultRetryMaxDelay      = 30 * time.Minute
	DefaultMaxAttempts        = 5
	DefaultTelemetryQueueSize = 1000
	DefaultTelemetryBatchSize = 50
	DefaultWorkers            = 4
)

// Config holds the settings of a Claimship instance.
type Config struct {
	// DBPath is the SQLite database file. Required.
	DBPath string

	// ProviderDhsCode scopes every Claim this instance touches. Required.
	ProviderDhsCode string

	// ServiceURL is the backend base URL. Required unless a backend is
	// injected with WithBackend.
	ServiceURL string

	// AuthKey is sent as a bearer token.
	AuthKey string

	// EncryptionKey is a 32-byte AES key for payload columns. Nil stores
	// payloads in plain text.
	EncryptionKey []byte

	// InboxDir enables the file inbox extraction source.
	InboxDir string

	// StatusAddr enables the local status server, e.g. "127.0.0.1:9464".
	StatusAddr string

	// ConfigPath is handed to plugins that watch the config file.
	ConfigPath string

	PollInterval   time.Duration
	LeaseDuration  time.Duration
	Take           int
	HTTPTimeout    time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	MaxAttempts    int

	TelemetryQueueSize int
	TelemetryBatchSize int
	Workers            int
}

// SetDefaults fills zero fields with default values.
func (c *Config) SetDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	if c.Take <= 0 {
		c.Take = DefaultTake
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.TelemetryQueueSize <= 0 {
		c.TelemetryQueueSize = DefaultTelemetryQueueSize
	}
	if c.TelemetryBatchSize <= 0 {
		c.TelemetryBatchSize = DefaultTelemetryBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")
}

// Validate checks the configuration. It does not apply defaults.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%w: db path is required", ErrInvalidConfig)
	}
	if c.ProviderDhsCode == "" {
		return fmt.Errorf("%w: provider dhs code is required", ErrInvalidConfig)
	}
	if c.EncryptionKey != nil && len(c.EncryptionKey) != crypto.KeySize {
		return fmt.Errorf("%w: encryption key must be %d bytes", ErrInvalidConfig, crypto.KeySize)
	}
	if c.RetryBaseDelay > c.RetryMaxDelay {
		return fmt.Errorf("%w: retry base delay %v exceeds max delay %v", ErrInvalidConfig, c.RetryBaseDelay, c.RetryMaxDelay)
	}
	return nil
}

// DataDir is the directory holding the database and the agent state file.
func (c Config) DataDir() string {
	return filepath.Dir(c.DBPath)
}
