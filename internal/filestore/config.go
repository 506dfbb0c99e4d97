package filestore

import (
	"github.com/koustreak/pha/internal/errs"
)

// Provider identifies the file storage backend.
type Provider string

const (
	ProviderMinIO Provider = "minio"
)

// Config holds the settings for the snapshot object store. It is the
// "filestore" section of the service config.
type Config struct {
	// Enabled turns snapshot persistence on. When false the service
	// introspects live on every schema request.
	Enabled bool `yaml:"enabled"`

	Provider Provider `yaml:"provider"`

	// Endpoint is the host:port of the storage server, e.g. "localhost:9000".
	Endpoint string `yaml:"endpoint"`

	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`

	// Region is used by region-aware backends. Leave empty for MinIO.
	Region string `yaml:"region"`

	// Bucket holds all snapshots. It is created on startup if missing.
	Bucket string `yaml:"bucket"`
}

// DefaultConfig returns a local-dev config for MinIO.
func DefaultConfig(endpoint, accessKey, secretKey string) *Config {
	return &Config{
		Provider:  ProviderMinIO,
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    "pha-snapshots",
	}
}

// Validate checks an enabled config. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Provider != ProviderMinIO {
		return errs.Newf(errs.ErrKindInvalidInput, "filestore: unsupported provider %q", c.Provider)
	}
	if c.Endpoint == "" {
		return errs.New(errs.ErrKindInvalidInput, "filestore: endpoint is required")
	}
	if c.Bucket == "" {
		return errs.New(errs.ErrKindInvalidInput, "filestore: bucket is required")
	}
	return nil
}
