// Package config loads the service configuration from a YAML file.
// ${VAR} references are expanded from the environment before parsing, so
// DSNs and keys can stay out of the file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/koustreak/pha/internal/connections"
	"github.com/koustreak/pha/internal/errs"
	"github.com/koustreak/pha/internal/filestore"
	"github.com/koustreak/pha/internal/logger"
	"github.com/koustreak/pha/internal/querygen"
	"github.com/koustreak/pha/internal/schema"
)

// Config is the root of the config file.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Log         logger.Config      `yaml:"log"`
	Generator   GeneratorConfig    `yaml:"generator"`
	Filestore   filestore.Config   `yaml:"filestore"`
	Connections []connections.Spec `yaml:"connections"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`

	// MaxBodyBytes bounds request bodies; schemas can be large.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// SnapshotURLTTL is the lifetime of presigned snapshot download URLs.
	SnapshotURLTTL time.Duration `yaml:"snapshot_url_ttl"`
}

// GeneratorConfig tunes query generation.
type GeneratorConfig struct {
	ColumnCap     int                 `yaml:"column_cap"`
	DefaultLimit  int                 `yaml:"default_limit"`
	MaxLimit      int                 `yaml:"max_limit"`
	ExtraKeywords map[string][]string `yaml:"extra_keywords"` // database type -> words
}

// Default returns the configuration used when a field is absent.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  55 * time.Second,
			MaxBodyBytes:    8 << 20,
			SnapshotURLTTL:  15 * time.Minute,
		},
		Log: *logger.DefaultConfig(),
		Generator: GeneratorConfig{
			ColumnCap:    querygen.DefaultColumnCap,
			DefaultLimit: 100,
			MaxLimit:     10000,
		},
		Filestore: filestore.Config{
			Provider: filestore.ProviderMinIO,
			Bucket:   "pha-snapshots",
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.ErrKindNotFound, "config file "+path, err)
		}
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read config "+path, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references in data, decodes it over Default
// and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "malformed config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with its value (empty when unset). A bare $,
// as in passwords and DSNs, is left alone.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}

// Validate checks cross-field constraints. Connection specs are validated
// by connections.NewManager.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errs.New(errs.ErrKindInvalidInput, "server.addr is required")
	}
	if !logger.ValidLevel(c.Log.Level) {
		return errs.Newf(errs.ErrKindInvalidInput, "log.level %q is not one of debug, info, warn, error, fatal", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return errs.Newf(errs.ErrKindInvalidInput, "log.format %q is not json or console", c.Log.Format)
	}

	g := c.Generator
	if g.ColumnCap < 1 {
		return errs.New(errs.ErrKindInvalidInput, "generator.column_cap must be positive")
	}
	if g.DefaultLimit < 1 || g.MaxLimit < g.DefaultLimit {
		return errs.Newf(errs.ErrKindInvalidInput,
			"generator limits invalid: default_limit=%d max_limit=%d", g.DefaultLimit, g.MaxLimit)
	}
	for dialect := range g.ExtraKeywords {
		if _, err := schema.ParseDatabaseType(dialect); err != nil {
			return errs.Newf(errs.ErrKindInvalidInput, "generator.extra_keywords: unknown database type %q", dialect)
		}
	}

	if err := c.Filestore.Validate(); err != nil {
		return err
	}
	return nil
}

// GeneratorOptions converts the generator section into querygen options.
func (c *Config) GeneratorOptions() []querygen.Option {
	opts := []querygen.Option{querygen.WithColumnCap(c.Generator.ColumnCap)}

	dialects := make([]string, 0, len(c.Generator.ExtraKeywords))
	for d := range c.Generator.ExtraKeywords {
		dialects = append(dialects, d)
	}
	sort.Strings(dialects)
	for _, d := range dialects {
		t, _ := schema.ParseDatabaseType(d)
		opts = append(opts, querygen.WithExtraKeywords(t, c.Generator.ExtraKeywords[d]...))
	}
	return opts
}

// String renders a redacted summary for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("addr=%s log=%s/%s connections=%d filestore=%t",
		c.Server.Addr, c.Log.Level, c.Log.Format, len(c.Connections), c.Filestore.Enabled)
}
