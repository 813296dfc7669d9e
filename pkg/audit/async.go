package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
	"github.com/StricklySoft/bearer-relay/pkg/models"
)

// Async hands events to a single background writer so request handling
// never waits on storage. When the buffer is full the event is dropped
// and Record returns [sserr.CodeUnavailable]; the same holds after
// Close.
type Async struct {
	next   Recorder
	logger *zap.Logger
	events chan *models.AuthEvent

	// mu guards closed and the close of events.
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewAsync starts the writer. Close must be called to flush and stop it.
func NewAsync(next Recorder, buffer int, logger *zap.Logger) *Async {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Async{
		next:   next,
		logger: logger,
		events: make(chan *models.AuthEvent, buffer),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.events {
		if err := a.next.Record(context.Background(), ev); err != nil {
			a.logger.Warn("audit: failed to record auth event",
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
		}
	}
}

// Record enqueues ev. It never blocks.
func (a *Async) Record(_ context.Context, ev *models.AuthEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return sserr.New(sserr.CodeUnavailable, "audit: recorder closed, event dropped").
			WithDetail("event_id", ev.ID)
	}
	select {
	case a.events <- ev:
		return nil
	default:
		a.dropped.Add(1)
		return sserr.New(sserr.CodeUnavailable, "audit: event buffer full, event dropped").
			WithDetail("event_id", ev.ID)
	}
}

// Dropped returns how many events were discarded because the buffer was
// full or the recorder was closed.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close stops accepting events and waits for the queue to drain or ctx
// to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return sserr.Wrap(ctx.Err(), sserr.CodeTimeout, "audit: timed out flushing auth events")
	}
}
