package server

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/StricklySoft/bearer-relay/internal/logging"
	"github.com/StricklySoft/bearer-relay/pkg/clients/minio"
	"github.com/StricklySoft/bearer-relay/pkg/clients/postgres"
	"github.com/StricklySoft/bearer-relay/pkg/clients/redis"
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
	"github.com/StricklySoft/bearer-relay/pkg/keycache"
	"github.com/StricklySoft/bearer-relay/pkg/token"
)

// Config is the configuration of one service. Env names below are
// relative to the service prefix, e.g. FIRST_API_JWKS_URL.
type Config struct {
	// ServiceName overrides the name the binary was built with.
	ServiceName string `json:"service_name" yaml:"service_name" env:"SERVICE_NAME"`

	HTTP       HTTPConfig       `json:"http" yaml:"http" env:"HTTP"`
	JWKS       JWKSConfig       `json:"jwks" yaml:"jwks" env:"JWKS"`
	Token      token.Policy     `json:"token" yaml:"token" env:"TOKEN"`
	Cache      CacheConfig      `json:"cache" yaml:"cache" env:"CACHE"`
	Redis      redis.Config     `json:"redis" yaml:"redis" env:"REDIS"`
	MinIO      minio.Config     `json:"minio" yaml:"minio" env:"MINIO"`
	Audit      AuditConfig      `json:"audit" yaml:"audit" env:"AUDIT"`
	Downstream DownstreamConfig `json:"downstream" yaml:"downstream" env:"DOWNSTREAM"`
	Log        logging.Config   `json:"log" yaml:"log" env:"LOG"`
}

// HTTPConfig configures the listener.
type HTTPConfig struct {
	Addr            string        `json:"addr" yaml:"addr" env:"ADDR" envDefault:":8080" validate:"required"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT" envDefault:"10s" validate:"min=0"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"30s" validate:"min=0"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"15s" validate:"min=0"`
	RequestTimeout  time.Duration `json:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT" envDefault:"30s" validate:"min=0"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// JWKSConfig configures the key-set store and its refresh.
type JWKSConfig struct {
	URL          string        `json:"url" yaml:"url" env:"URL" validate:"required,url"`
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" env:"FETCH_TIMEOUT" envDefault:"10s" validate:"min=0"`

	// RefreshSchedule is a cron spec. Empty disables scheduled refresh;
	// the set is then fetched at startup and on unknown kids only.
	RefreshSchedule string `json:"refresh_schedule" yaml:"refresh_schedule" env:"REFRESH_SCHEDULE" envDefault:"@every 15m"`

	RefetchOnUnknownKID bool          `json:"refetch_on_unknown_kid" yaml:"refetch_on_unknown_kid" env:"REFETCH_ON_UNKNOWN_KID" envDefault:"true"`
	MinRefetchInterval  time.Duration `json:"min_refetch_interval" yaml:"min_refetch_interval" env:"MIN_REFETCH_INTERVAL" envDefault:"30s" validate:"min=0"`
}

// CacheConfig selects where the last good key set is kept between
// restarts.
type CacheConfig struct {
	Backend string        `json:"backend" yaml:"backend" env:"BACKEND" envDefault:"none" validate:"oneof=none redis minio"`
	Key     string        `json:"key" yaml:"key" env:"KEY"`
	TTL     time.Duration `json:"ttl" yaml:"ttl" env:"TTL" envDefault:"24h" validate:"min=0"`

	// Bucket is used by the minio backend only.
	Bucket string `json:"bucket" yaml:"bucket" env:"BUCKET" envDefault:"bearer-relay"`
}

// AuditConfig configures the authentication audit log.
type AuditConfig struct {
	Enabled        bool            `json:"enabled" yaml:"enabled" env:"ENABLED"`
	RejectionsOnly bool            `json:"rejections_only" yaml:"rejections_only" env:"REJECTIONS_ONLY"`
	Buffer         int             `json:"buffer" yaml:"buffer" env:"BUFFER" envDefault:"256" validate:"min=1"`
	Log            bool            `json:"log" yaml:"log" env:"LOG"`
	Postgres       postgres.Config `json:"postgres" yaml:"postgres" env:"POSTGRES"`
}

// DownstreamConfig points the first service at the second. An empty
// BaseURL leaves /weatherforecast-two unmounted.
type DownstreamConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL" validate:"omitempty,url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT" envDefault:"10s" validate:"min=0"`
}

// Validate checks rules spanning several fields and validates the
// client configs of enabled backends only.
func (c *Config) Validate() error {
	if err := c.Token.Validate(); err != nil {
		return err
	}
	if c.JWKS.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.JWKS.RefreshSchedule); err != nil {
			return sserr.Wrapf(err, sserr.CodeValidation,
				"config: invalid JWKS refresh schedule %q", c.JWKS.RefreshSchedule)
		}
	}

	switch c.Cache.Backend {
	case keycache.BackendRedis:
		if err := c.Redis.Validate(); err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "config: invalid redis configuration")
		}
	case keycache.BackendMinIO:
		if c.Cache.Bucket == "" {
			return sserr.New(sserr.CodeValidationRequired,
				"config: cache bucket is required for the minio backend")
		}
		if err := c.MinIO.Validate(); err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "config: invalid minio configuration")
		}
	}

	if c.Audit.Enabled {
		if err := c.Audit.Postgres.Validate(); err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "config: invalid audit postgres configuration")
		}
	}
	return nil
}

// Name returns the configured service name or fallback.
func (c *Config) Name(fallback string) string {
	if c.ServiceName != "" {
		return c.ServiceName
	}
	return fallback
}
