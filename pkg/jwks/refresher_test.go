package jwks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/bearer-relay/internal/testutil"
	"github.com/StricklySoft/bearer-relay/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

func TestNewRefresher_InvalidSchedule(t *testing.T) {
	t.Parallel()
	store := NewStore("https://idp/jwks", &fakeSource{})

	_, err := NewRefresher(store, "every now and then", 0, nil)
	testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
}

func TestNewRefresher_DefaultSchedule(t *testing.T) {
	t.Parallel()
	store := NewStore("https://idp/jwks", &fakeSource{})

	r, err := NewRefresher(store, "", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultFetchTimeout, r.timeout)
	assert.Len(t, r.cron.Entries(), 1)
}

func TestRefresher_RunsOnSchedule(t *testing.T) {
	t.Parallel()
	src := (&fakeSource{}).script(keySet(t, fixtures.KeyID), nil)
	store := NewStore("https://idp/jwks", src)

	r, err := NewRefresher(store, "@every 1s", time.Second, nil)
	require.NoError(t, err)
	r.Start()

	assert.Eventually(t, func() bool { return store.Ready() }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))

	calls := src.calls.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, calls, src.calls.Load(), "no runs after Stop")
}

func TestRefresher_RunDirectly(t *testing.T) {
	t.Parallel()
	src := (&fakeSource{}).script(nil, errFetch)
	store := NewStore("https://idp/jwks", src)
	r, err := NewRefresher(store, "@every 1h", time.Second, nil)
	require.NoError(t, err)

	r.run()
	assert.EqualValues(t, 1, src.calls.Load())
	assert.False(t, store.Ready())
}
