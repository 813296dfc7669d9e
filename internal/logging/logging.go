// Package logging builds the zap logger both services use.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config selects level and encoding. Env names are relative to the
// enclosing prefix, e.g. FIRST_API_LOG_LEVEL.
type Config struct {
	Level  string `json:"level" yaml:"level" env:"LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" env:"FORMAT" envDefault:"json" validate:"oneof=json console"`
}

// New returns a logger writing to stderr. JSON uses the production
// encoder; console uses the development encoder with colored levels.
// Every entry carries a "service" field.
func New(cfg Config, service string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "logging: invalid level %q", cfg.Level)
	}

	var zc zap.Config
	switch cfg.Format {
	case FormatJSON, "":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case FormatConsole:
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, sserr.Newf(sserr.CodeInternalConfiguration, "logging: unknown format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "logging: failed to build logger")
	}
	if service != "" {
		logger = logger.With(zap.String("service", service))
	}
	return logger, nil
}
