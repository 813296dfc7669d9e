// Package audit records authorization-gate decisions.
//
// Every recorder satisfies auth.DecisionRecorder. Services compose them:
//
//	rec := audit.Multi(
//	    audit.NewLog(logger),
//	    audit.NewAsync(audit.RejectionsOnly(audit.NewPostgres(pg)), 256, logger),
//	)
//	gate := auth.NewGate(verifier, store, auth.WithDecisionRecorder(rec))
//
// Events never carry the bearer token.
package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/StricklySoft/bearer-relay/pkg/models"
)

// Recorder persists one decision.
type Recorder interface {
	Record(ctx context.Context, ev *models.AuthEvent) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, *models.AuthEvent) error { return nil }

// Log writes each event as a structured log line.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a recorder logging at info for accepted decisions and
// warn for denials.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) Record(_ context.Context, ev *models.AuthEvent) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("service", ev.Service),
		zap.String("route", ev.Route),
		zap.String("outcome", ev.Outcome.String()),
		zap.String("kid", ev.KeyID),
		zap.String("subject", ev.Subject),
		zap.String("trace_id", ev.TraceID),
		zap.Time("occurred_at", ev.OccurredAt),
	}
	if ev.Succeeded() {
		l.logger.Info("audit: auth decision", fields...)
		return nil
	}
	l.logger.Warn("audit: auth decision", append(fields, zap.String("error_code", ev.ErrorCode))...)
	return nil
}

type multi []Recorder

// Multi fans every event out to all recorders. All of them run; their
// errors are joined.
func Multi(recorders ...Recorder) Recorder {
	var out multi
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multi) Record(ctx context.Context, ev *models.AuthEvent) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type rejectionsOnly struct {
	next Recorder
}

// RejectionsOnly forwards only rejected and forbidden decisions.
func RejectionsOnly(next Recorder) Recorder {
	return rejectionsOnly{next: next}
}

func (r rejectionsOnly) Record(ctx context.Context, ev *models.AuthEvent) error {
	if ev.Succeeded() {
		return nil
	}
	return r.next.Record(ctx, ev)
}
