package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

// ===========================================================================
// Test Types
// ===========================================================================

type testSecret string

func (s testSecret) String() string { return "[REDACTED]" }

type keysConfig struct {
	URL          string        `env:"URL" yaml:"url" json:"url" validate:"required,url"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s" yaml:"fetch_timeout" json:"fetch_timeout"`
}

type serviceConfig struct {
	Name      string     `env:"SERVICE_NAME" envDefault:"first-api" yaml:"service_name" json:"service_name" validate:"required"`
	Port      int        `env:"PORT" envDefault:"8080" yaml:"port" json:"port" validate:"min=1,max=65535"`
	Debug     bool       `env:"DEBUG" envDefault:"false" yaml:"debug" json:"debug"`
	Ratio     float64    `env:"RATIO" envDefault:"0.5" yaml:"ratio" json:"ratio"`
	Origins   []string   `env:"ORIGINS" envDefault:"*" yaml:"origins" json:"origins"`
	Password  testSecret `env:"PASSWORD" yaml:"password" json:"password"`
	MaxConns  int32      `env:"MAX_CONNS" envDefault:"4" yaml:"max_conns" json:"max_conns"`
	Keys      keysConfig `env:"JWKS" yaml:"jwks" json:"jwks"`
	unexposed string
}

type checkedConfig struct {
	ValidateIssuer bool   `env:"VALIDATE_ISSUER"`
	Issuer         string `env:"ISSUER"`
}

func (c *checkedConfig) Validate() error {
	if c.ValidateIssuer && c.Issuer == "" {
		return sserr.New(sserr.CodeValidation, "config: issuer validation enabled without an issuer")
	}
	return nil
}

type stdlibCheckedConfig struct {
	Name string `env:"NAME"`
}

func (c *stdlibCheckedConfig) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// ===========================================================================
// Argument checks
// ===========================================================================

func TestLoader_Load_RejectsNonStructPointers(t *testing.T) {
	t.Parallel()
	var cfg *serviceConfig
	n := 3

	for name, arg := range map[string]any{
		"nil pointer":       cfg,
		"non pointer":       serviceConfig{},
		"pointer to int":    &n,
		"untyped nil value": nil,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := New().Load(arg)
			require.Error(t, err)
			assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
		})
	}
}

// ===========================================================================
// Layering
// ===========================================================================

func TestLoader_Load_DefaultsOnly(t *testing.T) {
	t.Setenv("JWKS_URL", "https://idp.example.com/.well-known/jwks.json")

	var cfg serviceConfig
	require.NoError(t, New().Load(&cfg))

	assert.Equal(t, "first-api", cfg.Name)
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.Debug)
	assert.InDelta(t, 0.5, cfg.Ratio, 1e-9)
	assert.Equal(t, []string{"*"}, cfg.Origins)
	assert.Equal(t, int32(4), cfg.MaxConns)
	assert.Equal(t, 10*time.Second, cfg.Keys.FetchTimeout)
	assert.Empty(t, cfg.unexposed)
}

func TestLoader_Load_YAMLFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "svc.yaml", `
service_name: second-api
port: 9090
origins: ["https://a.example", "https://b.example"]
jwks:
  url: https://idp.example.com/jwks
  fetch_timeout: 3s
`)

	var cfg serviceConfig
	require.NoError(t, New().WithFile(path).Load(&cfg))

	assert.Equal(t, "second-api", cfg.Name)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Origins)
	assert.Equal(t, "https://idp.example.com/jwks", cfg.Keys.URL)
	assert.Equal(t, 3*time.Second, cfg.Keys.FetchTimeout)
}

func TestLoader_Load_JSONFile(t *testing.T) {
	path := writeFile(t, "svc.json", `{"port": 7070, "jwks": {"url": "https://idp.example.com/jwks"}}`)

	var cfg serviceConfig
	require.NoError(t, New().WithFile(path).Load(&cfg))
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "first-api", cfg.Name)
}

func TestLoader_Load_EnvOverridesFileAndDotEnv(t *testing.T) {
	file := writeFile(t, "svc.yml", "port: 9090\njwks:\n  url: https://file.example/jwks\n")
	dotenv := writeFile(t, ".env", "APP_PORT=9191\nAPP_DEBUG=true\nAPP_JWKS_URL=https://dotenv.example/jwks\n")
	t.Setenv("APP_JWKS_URL", "https://env.example/jwks")

	var cfg serviceConfig
	require.NoError(t, New().WithEnvPrefix("app").WithFile(file).WithDotEnv(dotenv).Load(&cfg))

	assert.Equal(t, 9191, cfg.Port, "dotenv beats file")
	assert.True(t, cfg.Debug)
	assert.Equal(t, "https://env.example/jwks", cfg.Keys.URL, "process env beats dotenv")
	_, set := os.LookupEnv("APP_PORT")
	assert.False(t, set, "dotenv must not mutate the process environment")
}

func TestLoader_Load_MissingFilesAreOptional(t *testing.T) {
	t.Setenv("JWKS_URL", "https://idp.example.com/jwks")
	dir := t.TempDir()

	var cfg serviceConfig
	err := New().
		WithFile(filepath.Join(dir, "absent.yaml")).
		WithDotEnv(filepath.Join(dir, ".env")).
		Load(&cfg)
	require.NoError(t, err)
}

func TestLoader_Load_NestedEnvAndSecret(t *testing.T) {
	t.Setenv("SVC_JWKS_URL", "https://idp.example.com/jwks")
	t.Setenv("SVC_JWKS_FETCH_TIMEOUT", "750ms")
	t.Setenv("SVC_PASSWORD", "hunter2")
	t.Setenv("SVC_ORIGINS", " https://a.example , ,https://b.example ")

	var cfg serviceConfig
	require.NoError(t, New().WithEnvPrefix("SVC").Load(&cfg))

	assert.Equal(t, 750*time.Millisecond, cfg.Keys.FetchTimeout)
	assert.Equal(t, testSecret("hunter2"), cfg.Password)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Origins)
}

// ===========================================================================
// Failures
// ===========================================================================

func TestLoader_Load_FileErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
	}{
		{"unsupported extension", writeFile(t, "svc.toml", "port = 1")},
		{"invalid yaml", writeFile(t, "svc.yaml", "port: [unclosed")},
		{"invalid json", writeFile(t, "svc.json", "{")},
		{"directory traversal", "../etc/svc.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var cfg serviceConfig
			err := New().WithFile(tt.path).Load(&cfg)
			require.Error(t, err)
			assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration), err.Error())
		})
	}
}

func TestLoader_Load_DotEnvTraversal(t *testing.T) {
	t.Parallel()
	var cfg serviceConfig
	err := New().WithDotEnv("../.env").Load(&cfg)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
}

func TestLoader_Load_InvalidEnvValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "eighty"},
		{"DEBUG", "maybe"},
		{"RATIO", "half"},
		{"JWKS_FETCH_TIMEOUT", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv("JWKS_URL", "https://idp.example.com/jwks")
			t.Setenv(tt.key, tt.value)
			var cfg serviceConfig
			err := New().Load(&cfg)
			require.Error(t, err)
			assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
		})
	}
}

func TestLoader_Load_RequiredTag(t *testing.T) {
	t.Parallel()
	var cfg serviceConfig
	err := New().Load(&cfg)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeValidationRequired))
	assert.Contains(t, err.Error(), `"Keys.URL"`)
}

func TestLoader_Load_RuleTag(t *testing.T) {
	t.Setenv("JWKS_URL", "https://idp.example.com/jwks")
	t.Setenv("PORT", "70000")

	var cfg serviceConfig
	err := New().Load(&cfg)
	require.Error(t, err)
	ssErr, ok := sserr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, sserr.CodeValidation, ssErr.Code)
	assert.Equal(t, "Port", ssErr.Detail("field"))
}

func TestLoader_Load_ValidatorInterface(t *testing.T) {
	t.Setenv("VALIDATE_ISSUER", "true")

	var cfg checkedConfig
	err := New().Load(&cfg)
	assert.True(t, sserr.HasCode(err, sserr.CodeValidation))

	t.Setenv("ISSUER", "https://idp.example.com")
	cfg = checkedConfig{}
	require.NoError(t, New().Load(&cfg))
}

func TestLoader_Load_ValidatorStdlibErrorIsWrapped(t *testing.T) {
	t.Parallel()
	var cfg stdlibCheckedConfig
	err := New().Load(&cfg)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeValidation))
	assert.Contains(t, err.Error(), "name is required")
}

func TestMustLoad(t *testing.T) {
	t.Setenv("MUST_JWKS_URL", "https://idp.example.com/jwks")
	cfg := MustLoad[serviceConfig](New().WithEnvPrefix("MUST"))
	assert.Equal(t, "https://idp.example.com/jwks", cfg.Keys.URL)

	assert.Panics(t, func() {
		_ = MustLoad[serviceConfig](New().WithEnvPrefix("MUST_MISSING"))
	})
}
