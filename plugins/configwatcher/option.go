package configwatcher

import "github.com/bft-labs/claimship/pkg/claimship"

// WithConfigWatcher returns a claimship Option that enables config file
// watching. The watched file is claimship.Config.ConfigPath.
//
// Usage:
//
//	c, err := claimship.New(cfg,
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        DebounceDelay: 100 * time.Millisecond,
//	    }),
//	)
func WithConfigWatcher(cfg Config) claimship.Option {
	return claimship.WithPlugin(New(cfg))
}

// WithDefaultConfigWatcher returns a claimship Option that enables config
// watching with default settings.
//
// Usage:
//
//	c, err := claimship.New(cfg, configwatcher.WithDefaultConfigWatcher())
func WithDefaultConfigWatcher() claimship.Option {
	return WithConfigWatcher(DefaultConfig())
}
