package testsupport

import (
	"path/filepath"
	"testing"

	"tillpoint/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Scale.ReconnectDelayMillis = 1
	cfgVal.Checkout.RetryDelayMillis = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithFreshnessWindow overrides the scale freshness window in milliseconds.
func WithFreshnessWindow(millis int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scale.FreshnessWindowMillis = millis
	}
}

// WithReconnectAttempts overrides how many times an attach retries the open.
func WithReconnectAttempts(attempts int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scale.ReconnectAttempts = attempts
	}
}

// WithAPIToken requires token as a bearer token on the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithoutHTTP disables the HTTP listener.
func WithoutHTTP() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIBind = ""
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
