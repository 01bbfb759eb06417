package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (CLAIMSHIP_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("db-path", os.Getenv("CLAIMSHIP_DB_PATH"), &cfg.DBPath)
	s.setString("provider", os.Getenv("CLAIMSHIP_PROVIDER_DHS_CODE"), &cfg.ProviderDhsCode)
	s.setString("service-url", os.Getenv("CLAIMSHIP_SERVICE_URL"), &cfg.ServiceURL)
	s.setString("auth-key", os.Getenv("CLAIMSHIP_AUTH_KEY"), &cfg.AuthKey)
	s.setString("encryption-key", os.Getenv("CLAIMSHIP_ENCRYPTION_KEY"), &cfg.EncryptionKey)
	s.setString("inbox-dir", os.Getenv("CLAIMSHIP_INBOX_DIR"), &cfg.InboxDir)
	s.setString("status-addr", os.Getenv("CLAIMSHIP_STATUS_ADDR"), &cfg.StatusAddr)
	s.setString("log-level", os.Getenv("CLAIMSHIP_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setDuration("poll", os.Getenv("CLAIMSHIP_POLL_INTERVAL"), &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("lease-duration", os.Getenv("CLAIMSHIP_LEASE_DURATION"), &cfg.LeaseDuration); err != nil {
		return err
	}
	if err := s.setDuration("retry-base-delay", os.Getenv("CLAIMSHIP_RETRY_BASE_DELAY"), &cfg.RetryBaseDelay); err != nil {
		return err
	}
	if err := s.setDuration("retry-max-delay", os.Getenv("CLAIMSHIP_RETRY_MAX_DELAY"), &cfg.RetryMaxDelay); err != nil {
		return err
	}
	if err := s.setDuration("timeout", os.Getenv("CLAIMSHIP_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}

	if err := s.setIntFromString("take", os.Getenv("CLAIMSHIP_TAKE"), &cfg.Take); err != nil {
		return err
	}
	if err := s.setIntFromString("max-attempts", os.Getenv("CLAIMSHIP_MAX_ATTEMPTS"), &cfg.MaxAttempts); err != nil {
		return err
	}
	if err := s.setIntFromString("telemetry-queue-size", os.Getenv("CLAIMSHIP_TELEMETRY_QUEUE_SIZE"), &cfg.TelemetryQueueSize); err != nil {
		return err
	}
	if err := s.setIntFromString("telemetry-batch-size", os.Getenv("CLAIMSHIP_TELEMETRY_BATCH_SIZE"), &cfg.TelemetryBatchSize); err != nil {
		return err
	}
	if err := s.setIntFromString("workers", os.Getenv("CLAIMSHIP_WORKERS"), &cfg.Workers); err != nil {
		return err
	}

	return nil
}
