package claimship

import (
	"net/http"

	"github.com/bft-labs/claimship/internal/ports"
	"github.com/bft-labs/claimship/pkg/log"
)

// HTTPClient is the interface for making HTTP requests.
// *http.Client satisfies this interface.
type HTTPClient = ports.HTTPClient

// Logger is the interface for structured logging.
type Logger = log.Logger

// LogField represents a structured log field.
type LogField = log.Field

// Extraction and backend contracts, re-exported so embedders can supply
// their own implementations.
type (
	ExtractionSource = ports.ExtractionSource
	ClaimBundle      = ports.ClaimBundle
	BundleClaim      = ports.BundleClaim
	BackendClient    = ports.BackendClient
	SendRequest      = ports.SendRequest
	SendResult       = ports.SendResult
	ResumeResult     = ports.ResumeResult
)

// ErrNoBundle is returned by ExtractionSource.Next when nothing is pending.
var ErrNoBundle = ports.ErrNoBundle

// Option configures optional behavior of Claimship.
type Option func(*options)

type options struct {
	httpClient   ports.HTTPClient
	logger       ports.Logger
	eventHandler EventHandler
	plugins      []Plugin
	source       ports.ExtractionSource
	backend      ports.BackendClient
	levelSetter  func(level string) error
}

func defaultOptions(client *http.Client) options {
	return options{
		httpClient: client,
		logger:     log.NewNoopLogger(),
	}
}

// WithHTTPClient sets a custom HTTP client for backend calls.
// If not provided, a default client with the configured timeout is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger. If not provided, nothing is logged.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler sets a handler for Claimship events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin to be initialized when Claimship starts.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithSource sets the extraction source. It takes precedence over
// Config.InboxDir.
func WithSource(source ExtractionSource) Option {
	return func(o *options) {
		o.source = source
	}
}

// WithBackend replaces the HTTP backend client. If backend also implements
// attachment upload or mapping posting, those loops run too.
func WithBackend(backend BackendClient) Option {
	return func(o *options) {
		o.backend = backend
	}
}

// WithLevelSetter sets the hook that applies Tunables.LogLevel.
func WithLevelSetter(fn func(level string) error) Option {
	return func(o *options) {
		o.levelSetter = fn
	}
}
