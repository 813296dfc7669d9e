package minio

import (
	"errors"
	"time"
)

const maxStatementTruncateLen = 100

// Defaults for a MinIO reachable on localhost.
const (
	DefaultEndpoint      = "localhost:9000"
	DefaultRegion        = "us-east-1"
	DefaultUseSSL        = false
	DefaultHealthTimeout = 5 * time.Second

	// defaultHealthBucket is probed when Config.HealthBucket is empty.
	// It does not need to exist.
	defaultHealthBucket = "health-check-probe"
)

// Secret hides a credential from logs and serialized config. Use
// [Secret.Value] to read it.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string               { return redacted }
func (s Secret) GoString() string             { return redacted }
func (s Secret) Value() string                { return string(s) }
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds connection settings. Env names are relative to the prefix
// of the enclosing config, e.g. FIRST_API_MINIO_ENDPOINT.
type Config struct {
	// Endpoint is host:port without a scheme.
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint" env:"ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey Secret `json:"-" yaml:"-" env:"SECRET_KEY"`
	Region    string `json:"region,omitempty" yaml:"region" env:"REGION" envDefault:"us-east-1"`
	UseSSL    bool   `json:"use_ssl,omitempty" yaml:"use_ssl" env:"USE_SSL"`

	// HealthBucket is probed with BucketExists by NewClient and Health.
	HealthBucket string `json:"health_bucket,omitempty" yaml:"health_bucket" env:"HEALTH_BUCKET"`
}

// DefaultConfig returns a Config for a local MinIO. AccessKey and
// SecretKey still have to be set.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Region:   DefaultRegion,
		UseSSL:   DefaultUseSSL,
	}
}

// Validate checks required fields and fills Region and HealthBucket.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: config endpoint must not be empty")
	}
	if c.AccessKey == "" {
		return errors.New("minio: config access_key must not be empty")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.HealthBucket == "" {
		c.HealthBucket = defaultHealthBucket
	}
	return nil
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
