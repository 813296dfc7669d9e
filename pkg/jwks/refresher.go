package jwks

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

// DefaultRefreshSchedule is used when a refresher is built without an
// explicit schedule.
const DefaultRefreshSchedule = "@every 15m"

// Refresher refreshes a [Store] on a cron schedule. Runs that would
// overlap a still-running refresh are skipped.
type Refresher struct {
	store   *Store
	cron    *cron.Cron
	timeout time.Duration
	logger  *zap.Logger
}

// NewRefresher schedules store refreshes. schedule accepts standard
// five-field cron expressions and descriptors such as "@every 10m".
// Each run is bounded by timeout (DefaultFetchTimeout if zero).
func NewRefresher(store *Store, schedule string, timeout time.Duration, logger *zap.Logger) (*Refresher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	cl := cronLogger{logger.Sugar()}
	r := &Refresher{
		store:   store,
		timeout: timeout,
		logger:  logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"jwks: invalid refresh schedule %q", schedule)
	}
	return r, nil
}

// Start begins running scheduled refreshes in the background.
func (r *Refresher) Start() {
	r.cron.Start()
	r.logger.Info("jwks: refresher started", zap.String("url", r.store.URL()))
}

// Stop prevents further runs and waits for a running refresh to finish
// or for ctx to expire.
func (r *Refresher) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return sserr.Wrap(ctx.Err(), sserr.CodeTimeout, "jwks: refresher did not stop in time")
	}
}

func (r *Refresher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	// Refresh logs its own failures and keeps the previous snapshot.
	_ = r.store.Refresh(ctx)
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("jwks: cron "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("jwks: cron "+msg, append(keysAndValues, "error", err)...)
}
