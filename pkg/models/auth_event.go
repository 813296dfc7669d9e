// Package models defines the records bearer-relay persists.
//
// An [AuthEvent] is written for every decision an authorization gate
// makes: the token was accepted, rejected as unauthenticated, or
// authenticated but refused by an access rule. Events never hold the
// bearer token itself; the kid and error code are enough to diagnose a
// rejection.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuthEventSchemaVersion identifies the current schema version of the
// auth_events table. Increment on breaking column changes.
const AuthEventSchemaVersion = 1

// AuthOutcome is the result of one gate decision.
type AuthOutcome string

const (
	// AuthOutcomeAccepted indicates the token verified and every access
	// rule passed.
	AuthOutcomeAccepted AuthOutcome = "accepted"

	// AuthOutcomeRejected indicates the request was unauthenticated:
	// no bearer credential, or a token that failed verification.
	AuthOutcomeRejected AuthOutcome = "rejected"

	// AuthOutcomeForbidden indicates the token verified but an access
	// rule refused the caller.
	AuthOutcomeForbidden AuthOutcome = "forbidden"
)

// String returns the outcome as a string.
func (o AuthOutcome) String() string {
	return string(o)
}

// Valid reports whether o is a recognized outcome.
func (o AuthOutcome) Valid() bool {
	switch o {
	case AuthOutcomeAccepted, AuthOutcomeRejected, AuthOutcomeForbidden:
		return true
	default:
		return false
	}
}

// AuthEvent records one gate decision.
type AuthEvent struct {
	// ID is a UUID v4.
	ID string `json:"id" db:"id"`

	// Service is the name of the service whose gate decided.
	Service string `json:"service" db:"service"`

	// Route is the HTTP route pattern or gRPC full method.
	Route string `json:"route" db:"route"`

	Outcome AuthOutcome `json:"outcome" db:"outcome"`

	// ErrorCode is the sserr code for rejected and forbidden decisions.
	ErrorCode string `json:"error_code,omitempty" db:"error_code"`

	// KeyID is the kid from the token header, when one could be read.
	KeyID string `json:"kid,omitempty" db:"kid"`

	// Subject is the sub claim. Only set when the signature verified.
	Subject string `json:"subject,omitempty" db:"subject"`

	// TraceID correlates the event with request logs.
	TraceID string `json:"trace_id,omitempty" db:"trace_id"`

	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}

// NewAuthEvent returns an event with a fresh ID and the current UTC time.
func NewAuthEvent(service, route string, outcome AuthOutcome) (*AuthEvent, error) {
	if service == "" {
		return nil, errors.New("models: auth event service must not be empty")
	}
	if !outcome.Valid() {
		return nil, fmt.Errorf("models: invalid auth outcome %q", outcome)
	}
	return &AuthEvent{
		ID:         uuid.New().String(),
		Service:    service,
		Route:      route,
		Outcome:    outcome,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// Validate returns the first problem found, or nil.
func (e *AuthEvent) Validate() error {
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("models: auth event ID %q is not a UUID", e.ID)
	}
	if e.Service == "" {
		return errors.New("models: auth event service is required")
	}
	if !e.Outcome.Valid() {
		return fmt.Errorf("models: invalid auth outcome %q", e.Outcome)
	}
	if e.Outcome != AuthOutcomeAccepted && e.ErrorCode == "" {
		return fmt.Errorf("models: %s auth event requires an error code", e.Outcome)
	}
	if e.OccurredAt.IsZero() {
		return errors.New("models: auth event occurred_at is required")
	}
	return nil
}

// Succeeded reports whether the decision let the request through.
func (e *AuthEvent) Succeeded() bool {
	return e.Outcome == AuthOutcomeAccepted
}
