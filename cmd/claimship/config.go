package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/claimship/internal/adapters/crypto"
	"github.com/bft-labs/claimship/internal/cliconfig"
	"github.com/bft-labs/claimship/internal/store"
	"github.com/bft-labs/claimship/pkg/claimship"
	"github.com/bft-labs/claimship/pkg/log"
)

// resolveConfig layers the config file, then CLAIMSHIP_* variables, over the
// flag defaults. Flags set on the command line always win. It returns the
// config file path that was used, or "" when none exists.
func resolveConfig(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string) (string, error) {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return "", fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return "", err
		}
	} else {
		cfgFile = ""
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return "", err
	}
	return cfgFile, nil
}

// libraryConfig converts a validated CLI config.
func libraryConfig(cfg cliconfig.Config, cfgFile string) (claimship.Config, error) {
	var key []byte
	if cfg.EncryptionKey != "" {
		var err error
		if key, err = crypto.ParseKey(cfg.EncryptionKey); err != nil {
			return claimship.Config{}, err
		}
	}
	return claimship.Config{
		DBPath:             cfg.DBPath,
		ProviderDhsCode:    cfg.ProviderDhsCode,
		ServiceURL:         cfg.ServiceURL,
		AuthKey:            cfg.AuthKey,
		EncryptionKey:      key,
		InboxDir:           cfg.InboxDir,
		StatusAddr:         cfg.StatusAddr,
		ConfigPath:         cfgFile,
		PollInterval:       cfg.PollInterval,
		LeaseDuration:      cfg.LeaseDuration,
		Take:               cfg.Take,
		HTTPTimeout:        cfg.HTTPTimeout,
		RetryBaseDelay:     cfg.RetryBaseDelay,
		RetryMaxDelay:      cfg.RetryMaxDelay,
		MaxAttempts:        cfg.MaxAttempts,
		TelemetryQueueSize: cfg.TelemetryQueueSize,
		TelemetryBatchSize: cfg.TelemetryBatchSize,
		Workers:            cfg.Workers,
	}, nil
}

// openStore opens the database for the maintenance commands.
func openStore(cfg cliconfig.Config, logger log.Logger) (*store.Store, error) {
	opts := []store.Option{store.WithLogger(logger)}
	if cfg.EncryptionKey != "" {
		key, err := crypto.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		enc, err := crypto.NewAESGCM(key)
		if err != nil {
			return nil, err
		}
		opts = append(opts, store.WithEncryptor(enc))
	}
	if err := os.MkdirAll(cfg.DataDir(), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return store.Open(cfg.DBPath, opts...)
}
