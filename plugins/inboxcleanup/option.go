package inboxcleanup

import "github.com/bft-labs/claimship/pkg/claimship"

// WithInboxCleanup returns a claimship Option that enables inbox archive
// cleanup. It only acts when claimship.Config.InboxDir is set.
//
// Usage:
//
//	c, err := claimship.New(cfg,
//	    inboxcleanup.WithInboxCleanup(inboxcleanup.Config{
//	        MaxAge:        7 * 24 * time.Hour,
//	        HighWatermark: 512 << 20,
//	    }),
//	)
func WithInboxCleanup(cfg Config) claimship.Option {
	return claimship.WithPlugin(New(cfg))
}

// WithDefaultInboxCleanup returns a claimship Option that enables inbox
// cleanup with default settings (check every 6h, keep 30 days, 1 GiB cap).
func WithDefaultInboxCleanup() claimship.Option {
	return WithInboxCleanup(DefaultConfig())
}
