package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/bearer-relay/internal/testutil"
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

func run(t *testing.T, svc Service, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewCommand(svc)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheck_PrintsSummary(t *testing.T) {
	t.Parallel()

	env := testutil.TempFile(t, ".env", `
BRTEST_CLI1_JWKS_URL=https://idp.example.test/jwks
BRTEST_CLI1_HTTP_ADDR=:9090
BRTEST_CLI1_DOWNSTREAM_BASE_URL=http://second-api:8081
`)
	svc := Service{Name: "first-api", EnvPrefix: "BRTEST_CLI1", Downstream: true}

	out, err := run(t, svc, "check", "--env-file", env)
	require.NoError(t, err)
	assert.Contains(t, out, "service: first-api\n")
	assert.Contains(t, out, "addr: :9090\n")
	assert.Contains(t, out, "policy: permissive\n")
	assert.Contains(t, out, "downstream: http://second-api:8081\n")
}

func TestCheck_ClearsDownstreamWhenNotAllowed(t *testing.T) {
	t.Parallel()

	env := testutil.TempFile(t, ".env", `
BRTEST_CLI2_JWKS_URL=https://idp.example.test/jwks
BRTEST_CLI2_DOWNSTREAM_BASE_URL=http://first-api:8080
BRTEST_CLI2_TOKEN_VALIDATE_EXPIRY=true
`)
	svc := Service{Name: "second-api", EnvPrefix: "BRTEST_CLI2"}

	out, err := run(t, svc, "check", "--env-file", env)
	require.NoError(t, err)
	assert.Contains(t, out, "downstream: none\n")
	assert.Contains(t, out, "policy: enforcing\n")
}

func TestCheck_InvalidConfig(t *testing.T) {
	t.Parallel()

	env := testutil.TempFile(t, ".env", "BRTEST_CLI3_HTTP_ADDR=:9090\n")
	svc := Service{Name: "first-api", EnvPrefix: "BRTEST_CLI3"}

	_, err := run(t, svc, "check", "--env-file", env)
	testutil.RequireErrorCode(t, err, sserr.CodeValidationRequired)
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	env := testutil.TempFile(t, ".env", "BRTEST_CLI7_HTTP_ADDR=:9090\n")
	_, err := run(t, Service{Name: "first-api", EnvPrefix: "BRTEST_CLI7"}, "check", "--env-file", env)
	require.Error(t, err)

	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, describe(err), "invalid configuration: ")
	assert.Equal(t, 1, exitCode(errors.New("listener failed")))
}

func TestCheck_RejectsArguments(t *testing.T) {
	t.Parallel()

	_, err := run(t, Service{Name: "first-api", EnvPrefix: "BRTEST_CLI4"}, "check", "extra")
	require.Error(t, err)
}

func TestVersionFlag(t *testing.T) {
	t.Parallel()

	out, err := run(t, Service{Name: "second-api", EnvPrefix: "BRTEST_CLI5", Version: "1.2.3"}, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.3")
}

func TestServe_FailsWithoutKeySet(t *testing.T) {
	t.Parallel()

	env := testutil.TempFile(t, ".env", `
BRTEST_CLI6_JWKS_URL=http://127.0.0.1:1/jwks
BRTEST_CLI6_JWKS_FETCH_TIMEOUT=500ms
BRTEST_CLI6_HTTP_ADDR=127.0.0.1:0
BRTEST_CLI6_LOG_LEVEL=error
`)
	_, err := run(t, Service{Name: "first-api", EnvPrefix: "BRTEST_CLI6"}, "--env-file", env)
	require.Error(t, err)
	assert.True(t, sserr.IsFetchError(errors.Unwrap(err)))
}
