package jwks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

// DefaultMinRefetchInterval limits how often an unknown kid may trigger a
// fetch.
const DefaultMinRefetchInterval = 30 * time.Second

// Source produces key sets. *Fetcher is the production implementation.
type Source interface {
	Fetch(ctx context.Context, discoveryURL string) (*KeySet, error)
}

var _ Source = (*Fetcher)(nil)

// SnapshotCache persists the last good key set outside the process so a
// restarted service can serve while the identity provider is
// unreachable. Load returns an error with [sserr.CodeNotFound] when
// nothing has been saved.
type SnapshotCache interface {
	Save(ctx context.Context, set *KeySet) error
	Load(ctx context.Context) (*KeySet, error)
}

// RefreshObserver is notified after every fetch attempt. outcome is one
// of "success", "failure" or "restored".
type RefreshObserver interface {
	ObserveRefresh(outcome string, keys int)
}

// Refresh outcomes reported to a [RefreshObserver].
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRestored = "restored"
)

// Store owns the current key-set snapshot. Snapshot never blocks;
// fetches are serialized so at most one is in flight.
type Store struct {
	url        string
	source     Source
	cache      SnapshotCache
	observer   RefreshObserver
	logger     *zap.Logger
	tracer     trace.Tracer
	minRefetch time.Duration
	now        func() time.Time

	current atomic.Pointer[KeySet]

	mu          sync.Mutex
	lastAttempt time.Time
}

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithSnapshotCache enables persisting and restoring snapshots.
func WithSnapshotCache(c SnapshotCache) StoreOption {
	return func(s *Store) { s.cache = c }
}

// WithRefreshObserver registers an observer, typically metrics.
func WithRefreshObserver(o RefreshObserver) StoreOption {
	return func(s *Store) { s.observer = o }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMinRefetchInterval sets the unknown-kid refetch rate limit. Zero
// disables refetching on unknown kids entirely.
func WithMinRefetchInterval(d time.Duration) StoreOption {
	return func(s *Store) { s.minRefetch = d }
}

// NewStore returns an empty Store for discoveryURL. Call [Store.Init]
// before serving traffic.
func NewStore(discoveryURL string, source Source, opts ...StoreOption) *Store {
	s := &Store{
		url:        discoveryURL,
		source:     source,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
		minRefetch: DefaultMinRefetchInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL returns the discovery URL.
func (s *Store) URL() string { return s.url }

// Snapshot returns the current key set, or nil before the first
// successful load.
func (s *Store) Snapshot() *KeySet {
	return s.current.Load()
}

// Ready reports whether a snapshot is available.
func (s *Store) Ready() bool {
	return s.current.Load() != nil
}

// Init loads the first snapshot. A fetch failure is tolerated when a
// snapshot already exists or can be restored from the cache; the stale
// snapshot then keeps serving and the failure is logged. Otherwise the
// fetch error is returned and the caller must treat it as fatal.
func (s *Store) Init(ctx context.Context) error {
	fetchErr := s.Refresh(ctx)
	if fetchErr == nil {
		return nil
	}

	if snap := s.Snapshot(); snap != nil {
		s.logger.Warn("jwks: startup fetch failed, serving existing key set",
			zap.String("url", s.url),
			zap.Int("keys", snap.Len()),
			zap.Error(fetchErr),
		)
		return nil
	}

	if s.cache == nil {
		return fetchErr
	}
	cached, err := s.cache.Load(ctx)
	if err != nil {
		if !sserr.IsNotFound(err) {
			s.logger.Error("jwks: failed to load cached key set", zap.Error(err))
		}
		return fetchErr
	}

	s.current.Store(cached)
	s.observe(OutcomeRestored, cached.Len())
	s.logger.Warn("jwks: startup fetch failed, serving cached key set",
		zap.String("url", s.url),
		zap.Int("keys", cached.Len()),
		zap.Time("fetched_at", cached.FetchedAt()),
		zap.Error(fetchErr),
	)
	return nil
}

// Refresh fetches a new snapshot and swaps it in. On failure the previous
// snapshot remains current and the fetch error is returned.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

// RefreshOnMiss is called when a token names kid and the snapshot does
// not contain it. It fetches at most once per minimum refetch interval
// and reports whether kid is known afterwards.
func (s *Store) RefreshOnMiss(ctx context.Context, kid string) bool {
	if _, ok := s.Snapshot().Lookup(kid); ok {
		return true
	}
	if s.minRefetch <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A concurrent miss may have refreshed while this one waited.
	if _, ok := s.Snapshot().Lookup(kid); ok {
		return true
	}
	if !s.lastAttempt.IsZero() && s.now().Sub(s.lastAttempt) < s.minRefetch {
		return false
	}
	if err := s.refreshLocked(ctx); err != nil {
		return false
	}
	_, ok := s.Snapshot().Lookup(kid)
	return ok
}

func (s *Store) refreshLocked(ctx context.Context) (err error) {
	ctx, span := s.tracer.Start(ctx, "jwks.Refresh",
		trace.WithAttributes(attribute.String("jwks.url", s.url)))
	defer func() {
		finishSpan(span, err)
		span.End()
	}()

	s.lastAttempt = s.now()

	next, err := s.source.Fetch(ctx, s.url)
	if err != nil {
		s.observe(OutcomeFailure, s.Snapshot().Len())
		s.logger.Warn("jwks: key set refresh failed",
			zap.String("url", s.url),
			zap.String("error_code", sserr.GetCode(err).String()),
			zap.Bool("timeout", sserr.IsTimeout(err)),
			zap.Bool("retryable", sserr.IsRetryable(err)),
			zap.Error(err),
		)
		return err
	}

	s.current.Store(next)
	s.observe(OutcomeSuccess, next.Len())
	s.logger.Info("jwks: key set refreshed",
		zap.String("url", s.url),
		zap.Strings("kids", next.KeyIDs()),
	)

	if s.cache != nil {
		if err := s.cache.Save(ctx, next); err != nil {
			s.logger.Warn("jwks: failed to persist key set", zap.Error(err))
		}
	}
	return nil
}

func (s *Store) observe(outcome string, keys int) {
	if s.observer != nil {
		s.observer.ObserveRefresh(outcome, keys)
	}
}
