package testsupport

import (
	"path/filepath"
	"testing"

	"quill/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test,
// fake credentials, a filesystem storage backend, and no inter-image delay.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.EnvFile = ""
	cfgVal.LLM.APIKey = "test"
	cfgVal.LLM.Creative.Model = cfgVal.LLM.Model
	cfgVal.LLM.Fast.Model = cfgVal.LLM.Model
	cfgVal.Research.APIKey = "test"
	cfgVal.Storage.Backend = config.StorageFilesystem
	cfgVal.Storage.LocalDir = filepath.Join(base, "images")
	cfgVal.Storage.PublicBaseURL = "https://cdn.test/images"
	cfgVal.Images.DelayMillis = 0
	cfgVal.Logging.File = false
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithTriggerSecret sets the shared secret guarding trigger endpoints.
func WithTriggerSecret(secret string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.TriggerSecret = secret
	}
}

// WithBlogURL overrides the public blog origin.
func WithBlogURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Publisher.BlogURL = url
	}
}

// WithConfig applies an arbitrary mutation.
func WithConfig(mutate func(*config.Config)) ConfigOption {
	return func(b *configBuilder) {
		mutate(b.cfg)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
