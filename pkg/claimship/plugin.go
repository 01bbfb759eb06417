package claimship

import "context"

// Plugin extends Claimship with optional behavior. Plugins are initialized
// in registration order after crash recovery and shut down in reverse order.
type Plugin interface {
	Name() string
	Initialize(ctx context.Context, cfg PluginConfig) error
	Shutdown(ctx context.Context) error
}

// PluginConfig is what a plugin receives at initialization.
type PluginConfig struct {
	DBPath          string
	DataDir         string
	ConfigPath      string
	ProviderDhsCode string
	ServiceURL      string
	InboxDir        string
	Logger          Logger

	// Tune applies new tunables to the running instance.
	Tune func(Tunables)
}

// BasePlugin provides no-op Initialize and Shutdown.
type BasePlugin struct{}

func (BasePlugin) Initialize(context.Context, PluginConfig) error { return nil }
func (BasePlugin) Shutdown(context.Context) error                 { return nil }
