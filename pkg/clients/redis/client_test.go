package redis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/bearer-relay/internal/testutil"
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

// ===========================================================================
// Mock Implementation
// ===========================================================================

type mockCmdable struct {
	mock.Mock
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

func (m *mockCmdable) TTL(ctx context.Context, key string) *redis.DurationCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.DurationCmd)
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	args := m.Called(ctx)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *mockCmdable) Close() error {
	return m.Called().Error(0)
}

var _ Cmdable = (*mockCmdable)(nil)

// ===========================================================================
// Commands
// ===========================================================================

func TestClient_Set(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Set", mock.Anything, "jwks:first-api", "doc", time.Hour).
		Return(redis.NewStatusResult("OK", nil))
	c := NewFromClient(m, 0)

	require.NoError(t, c.Set(context.Background(), "jwks:first-api", "doc", time.Hour))
	m.AssertExpectations(t)
}

func TestClient_Get(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Get", mock.Anything, "present").Return(redis.NewStringResult("value", nil))
	m.On("Get", mock.Anything, "absent").Return(redis.NewStringResult("", redis.Nil))
	c := NewFromClient(m, 0)

	got, err := c.Get(context.Background(), "present")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	_, err = c.Get(context.Background(), "absent")
	testutil.RequireErrorCode(t, err, sserr.CodeNotFound)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestClient_ErrorClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		code sserr.Code
	}{
		{"deadline", context.DeadlineExceeded, sserr.CodeTimeoutStorage},
		{"canceled", context.Canceled, sserr.CodeInternalStorage},
		{"server error", errors.New("READONLY You can't write against a read only replica."), sserr.CodeInternalStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &mockCmdable{}
			m.On("Set", mock.Anything, "k", "v", time.Duration(0)).Return(redis.NewStatusResult("", tt.err))
			m.On("Del", mock.Anything, []string{"k"}).Return(redis.NewIntResult(0, tt.err))
			m.On("TTL", mock.Anything, "k").Return(redis.NewDurationResult(0, tt.err))
			c := NewFromClient(m, 0)

			testutil.AssertErrorCode(t, c.Set(context.Background(), "k", "v", 0), tt.code)
			_, err := c.Del(context.Background(), "k")
			testutil.AssertErrorCode(t, err, tt.code)
			_, err = c.TTL(context.Background(), "k")
			testutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestClient_DelAndTTL(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Del", mock.Anything, []string{"a", "b"}).Return(redis.NewIntResult(1, nil))
	m.On("TTL", mock.Anything, "a").Return(redis.NewDurationResult(90*time.Second, nil))
	c := NewFromClient(m, 2)

	n, err := c.Del(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ttl, err := c.TTL(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, ttl)
}

// ===========================================================================
// Health and Close
// ===========================================================================

func TestClient_Health(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Ping", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	})).Return(redis.NewStatusResult("PONG", nil)).Once()
	m.On("Ping", mock.Anything).Return(redis.NewStatusResult("", errors.New("connection refused"))).Once()
	c := NewFromClient(m, 0)

	require.NoError(t, c.Health(context.Background()))
	testutil.RequireErrorCode(t, c.Health(context.Background()), sserr.CodeUnavailableDependency)
}

func TestClient_Close(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Close").Return(nil)
	require.NoError(t, NewFromClient(m, 0).Close())
	m.AssertExpectations(t)
}

// ===========================================================================
// Helpers
// ===========================================================================

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "GET k", truncateStatement("GET k"))
	long := strings.Repeat("é", maxStatementTruncateLen+5)
	got := truncateStatement(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Len(t, []rune(got), maxStatementTruncateLen+3)
}
