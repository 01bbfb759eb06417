package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/claimship/internal/adapters/crypto"
)

// Defaults for the agent tunables.
const (
	DefaultStatusAddr         = "127.0.0.1:9464"
	DefaultLogLevel           = "info"
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

	dbFileName = "claimship.db"
)

// Config holds CLI configuration for claimship.
type Config struct {
	DBPath          string
	ProviderDhsCode string

	ServiceURL    string
	AuthKey       string
	EncryptionKey string

	InboxDir   string
	StatusAddr string
	LogLevel   string

	PollInterval  time.Duration
	LeaseDuration time.Duration
	Take          int
	HTTPTimeout   time.Duration

	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	MaxAttempts    int

	TelemetryQueueSize int
	TelemetryBatchSize int
	Workers            int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		StatusAddr:         DefaultStatusAddr,
		LogLevel:           DefaultLogLevel,
		PollInterval:       DefaultPollInterval,
		LeaseDuration:      DefaultLeaseDuration,
		Take:               DefaultTake,
		HTTPTimeout:        DefaultHTTPTimeout,
		RetryBaseDelay:     DefaultRetryBaseDelay,
		RetryMaxDelay:      DefaultRetryMaxDelay,
		MaxAttempts:        DefaultMaxAttempts,
		TelemetryQueueSize: DefaultTelemetryQueueSize,
		TelemetryBatchSize: DefaultTelemetryBatchSize,
		Workers:            DefaultWorkers,
		AuthKey:            os.Getenv("CLAIMSHIP_AUTH_KEY"),
	}
}

// DefaultDataDir returns ~/.claimship, or "" if the home directory is unknown.
func DefaultDataDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".claimship")
	}
	return ""
}

// DataDir is the directory holding the database and the agent state file.
func (c *Config) DataDir() string {
	return filepath.Dir(c.DBPath)
}

// ValidateStore checks only what commands that touch the database need.
func (c *Config) ValidateStore() error {
	if c.DBPath == "" {
		dir := DefaultDataDir()
		if dir == "" {
			return fmt.Errorf("db-path is required")
		}
		c.DBPath = filepath.Join(dir, dbFileName)
	}
	if c.EncryptionKey != "" {
		if _, err := crypto.ParseKey(c.EncryptionKey); err != nil {
			return fmt.Errorf("encryption-key: %w", err)
		}
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.ProviderDhsCode == "" {
		return fmt.Errorf("provider is required")
	}
	if c.ServiceURL == "" {
		return fmt.Errorf("service-url is required")
	}

	// Ensure no trailing slash
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.LeaseDuration <= 0 {
		return fmt.Errorf("lease duration must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	if c.Take <= 0 {
		return fmt.Errorf("take must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < base <= max")
	}
	if c.TelemetryQueueSize <= 0 || c.TelemetryBatchSize <= 0 {
		return fmt.Errorf("telemetry queue and batch sizes must be positive")
	}
	return nil
}

// Masked returns a copy safe to log.
func (c Config) Masked() Config {
	if c.AuthKey != "" {
		c.AuthKey = "*****"
	}
	if c.EncryptionKey != "" {
		c.EncryptionKey = "*****"
	}
	return c
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}
