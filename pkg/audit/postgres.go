package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/StricklySoft/bearer-relay/pkg/clients/postgres"
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
	"github.com/StricklySoft/bearer-relay/pkg/models"
)

// DB is the part of the PostgreSQL client the audit log needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ DB = (*postgres.Client)(nil)

const schemaSQL = `CREATE TABLE IF NOT EXISTS auth_events (
	id          TEXT PRIMARY KEY,
	service     TEXT NOT NULL,
	route       TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	error_code  TEXT NOT NULL DEFAULT '',
	kid         TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	trace_id    TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS auth_events_service_occurred_at
	ON auth_events (service, occurred_at DESC)`

const insertSQL = `INSERT INTO auth_events
	(id, service, route, outcome, error_code, kid, subject, trace_id, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const recentSQL = `SELECT id, service, route, outcome, error_code, kid, subject, trace_id, occurred_at
	FROM auth_events
	WHERE service = $1
	ORDER BY occurred_at DESC
	LIMIT $2`

// MaxRecent caps [Postgres.Recent].
const MaxRecent = 1000

// Postgres writes events to the auth_events table.
type Postgres struct {
	db DB
}

// NewPostgres returns a recorder over db. Call EnsureSchema once at
// startup.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the auth_events table and its index if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return sserr.Wrap(err, sserr.CodeInternalStorage, "audit: failed to create auth_events table")
	}
	return nil
}

// Record validates ev and inserts it.
func (p *Postgres) Record(ctx context.Context, ev *models.AuthEvent) error {
	if err := ev.Validate(); err != nil {
		return sserr.Wrap(err, sserr.CodeValidation, "audit: invalid auth event")
	}
	_, err := p.db.Exec(ctx, insertSQL,
		ev.ID, ev.Service, ev.Route, ev.Outcome.String(), ev.ErrorCode,
		ev.KeyID, ev.Subject, ev.TraceID, ev.OccurredAt,
	)
	return err
}

// Recent returns up to limit events for service, newest first.
func (p *Postgres) Recent(ctx context.Context, service string, limit int) ([]models.AuthEvent, error) {
	if limit <= 0 || limit > MaxRecent {
		return nil, sserr.Newf(sserr.CodeValidation, "audit: limit must be between 1 and %d", MaxRecent)
	}
	rows, err := p.db.Query(ctx, recentSQL, service, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.AuthEvent
	for rows.Next() {
		var (
			ev      models.AuthEvent
			outcome string
			at      time.Time
		)
		if err := rows.Scan(&ev.ID, &ev.Service, &ev.Route, &outcome, &ev.ErrorCode,
			&ev.KeyID, &ev.Subject, &ev.TraceID, &at); err != nil {
			return nil, postgres.WrapError(err, "audit: failed to scan auth event")
		}
		ev.Outcome = models.AuthOutcome(outcome)
		ev.OccurredAt = at.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.WrapError(err, "audit: failed to read auth events")
	}
	return events, nil
}
