// Package claimship runs the claims delivery agent in-process.
//
// Example usage:
//
//	cfg := claimship.DefaultConfig()
//	cfg.DBPath = "/var/lib/claimship/claimship.db"
//	cfg.ProviderDhsCode = "P1"
//	cfg.ServiceURL = "https://claims.example.com"
//	cfg.InboxDir = "/var/lib/claimship/inbox"
//	if err := claimship.Run(ctx, cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// Use pkg/claimship directly for lifecycle control, events and plugins.
package claimship

import (
	"context"
	"fmt"
	"time"

	agent "github.com/bft-labs/claimship/pkg/claimship"
)

// Config holds the agent configuration.
type Config = agent.Config

// Option configures the agent.
type Option = agent.Option

// statusPoll is how often Run checks for an unexpected stop.
const statusPoll = 200 * time.Millisecond

// DefaultConfig returns a Config with every tunable at its default.
func DefaultConfig() Config {
	var cfg Config
	cfg.SetDefaults()
	return cfg
}

// Run starts the agent and blocks until ctx is cancelled, then stops it.
// It returns an error if the agent fails to start or crashes.
func Run(ctx context.Context, cfg Config, opts ...Option) error {
	c, err := agent.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(statusPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return c.Stop()
		case <-ticker.C:
			if s := c.Status(); s == agent.StateCrashed || s == agent.StateStopped {
				return fmt.Errorf("claimship %s", s)
			}
		}
	}
}
