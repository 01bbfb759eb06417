package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bft-labs/claimship/internal/cliconfig"
	"github.com/bft-labs/claimship/pkg/claimship"
	"github.com/bft-labs/claimship/pkg/log"
	"github.com/bft-labs/claimship/plugins/configwatcher"
	"github.com/bft-labs/claimship/plugins/inboxcleanup"
)

const helpDescription = `
Deliver extracted healthcare claims to the claims backend from a local queue.

Highlights:
  - Stages claims in a local SQLite database so nothing is lost on restart.
  - Leases every claim before touching it; crash recovery runs on startup.
  - Retries failed claims with capped exponential backoff and jitter.
  - Resumes partially delivered batches from the backend's completion list.
  - Configure via file, CLAIMSHIP_* environment variables, or flags.
`

var longHelp = "claimship\n\n" + strings.TrimSpace(helpDescription)

var exampleUsage = strings.TrimSpace(`
  claimship --provider P1 --service-url https://claims.example.com --inbox-dir /var/lib/claimship/inbox
  claimship --config $HOME/.claimship/config.toml
  claimship status --provider P1
  claimship retry --provider P1 --claim 1001 --claim 1002
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger := cliconfig.Logger()
		logger.Error().Err(err).Msg("claimship")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	logger := cliconfig.Logger()

	root := &cobra.Command{
		Use:           "claimship",
		Short:         "Deliver extracted healthcare claims to the claims backend",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, err := resolveConfig(cmd, &cfg, cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cliconfig.SetGlobalLevel(cfg.LogLevel); err != nil {
				return err
			}
			logger.Info().Interface("config", cfg.Masked()).Str("config_file", cfgFile).Msg("configuration")

			libCfg, err := libraryConfig(cfg, cfgFile)
			if err != nil {
				return err
			}

			c, err := claimship.New(libCfg,
				claimship.WithLogger(log.NewZerologAdapterWithLogger(logger)),
				claimship.WithLevelSetter(cliconfig.SetGlobalLevel),
				configwatcher.WithDefaultConfigWatcher(),
				inboxcleanup.WithDefaultInboxCleanup(),
			)
			if err != nil {
				return fmt.Errorf("create claimship: %w", err)
			}
			defer c.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			if err := c.Start(ctx); err != nil {
				return fmt.Errorf("start claimship: %w", err)
			}

			doneCh := make(chan struct{})
			go func() {
				ticker := time.NewTicker(500 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if s := c.Status(); s == claimship.StateStopped || s == claimship.StateCrashed {
							close(doneCh)
							return
						}
					}
				}
			}()

			select {
			case sig := <-sigCh:
				logger.Info().Str("signal", sig.String()).Msg("received signal, stopping...")
			case <-doneCh:
				logger.Error().Str("state", c.Status().String()).Msg("claimship stopped unexpectedly")
				return fmt.Errorf("claimship %s", c.Status())
			}

			if err := c.Stop(); err != nil {
				return fmt.Errorf("stop claimship: %w", err)
			}
			return nil
		},
	}

	// Shared by every subcommand.
	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.claimship/config.toml)")
	pf.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path (default: $HOME/.claimship/claimship.db)")
	pf.StringVar(&cfg.EncryptionKey, "encryption-key", cfg.EncryptionKey, "base64 AES-256 key for payload columns")
	pf.StringVar(&cfg.ProviderDhsCode, "provider", cfg.ProviderDhsCode, "provider DHS code")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace, debug, info, warn, error)")

	f := root.Flags()
	f.StringVar(&cfg.ServiceURL, "service-url", cfg.ServiceURL, "claims backend base URL")
	f.StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "API key for authentication")
	f.StringVar(&cfg.InboxDir, "inbox-dir", cfg.InboxDir, "directory of extracted claim bundle files")
	f.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "local status server address (empty disables)")
	f.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "poll interval when idle")
	f.DurationVar(&cfg.LeaseDuration, "lease-duration", cfg.LeaseDuration, "claim lease duration")
	f.IntVar(&cfg.Take, "take", cfg.Take, "maximum claims leased per pass")
	f.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP timeout")
	f.DurationVar(&cfg.RetryBaseDelay, "retry-base-delay", cfg.RetryBaseDelay, "first retry delay")
	f.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "retry delay cap")
	f.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "attempts before a claim waits for a manual retry")
	f.IntVar(&cfg.TelemetryQueueSize, "telemetry-queue-size", cfg.TelemetryQueueSize, "API call records buffered in memory")
	f.IntVar(&cfg.TelemetryBatchSize, "telemetry-batch-size", cfg.TelemetryBatchSize, "API call records written per transaction")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent send workers")

	root.AddCommand(
		newRecoverCmd(&cfg, &cfgPath),
		newMigrateCmd(&cfg, &cfgPath),
		newStatusCmd(&cfg, &cfgPath),
		newRetryCmd(&cfg, &cfgPath),
		newIssuesCmd(&cfg, &cfgPath),
		newProviderCmd(&cfg, &cfgPath),
	)
	return root
}
