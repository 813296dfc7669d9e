// Package lifecycle runs a service through starting, running, stopping
// and stopped, invoking registered hooks at each step.
//
// A service is assembled from components, each with an optional start
// and stop hook. Components start in registration order; the first
// failure stops the components already started, in reverse, and leaves
// the service failed. Stop runs every stop hook in reverse order and
// joins their errors.
//
//	svc := lifecycle.New("first-api", version, lifecycle.WithLogger(logger))
//	svc.Add("jwks", store.Init, nil)
//	svc.Add("http", srv.Start, srv.Shutdown)
//	if err := svc.Start(ctx); err != nil { ... }
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

const tracerName = "github.com/StricklySoft/bearer-relay/pkg/lifecycle"

// Hook runs during Start or Stop.
type Hook func(ctx context.Context) error

// StateChangeHandler is called synchronously after every transition.
// Handlers must not call back into the Service.
type StateChangeHandler func(old, new State)

// Info is a point-in-time view of a service.
type Info struct {
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	State     State         `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

type component struct {
	name  string
	start Hook
	stop  Hook
}

// Service is safe for concurrent use. Start and Stop serialize with
// each other.
type Service struct {
	name    string
	version string
	tracer  trace.Tracer
	logger  *zap.Logger

	// run serializes Start and Stop.
	run sync.Mutex

	mu        sync.RWMutex
	state     State
	startedAt *time.Time
	parts     []component
	handlers  []StateChangeHandler
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default discards.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a service in [StateUnknown].
func New(name, version string, opts ...Option) *Service {
	s := &Service{
		name:    name,
		version: version,
		tracer:  otel.Tracer(tracerName),
		logger:  zap.NewNop(),
		state:   StateUnknown,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a component. Either hook may be nil. name appears in
// logs and errors.
func (s *Service) Add(name string, start, stop Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = append(s.parts, component{name: name, start: start, stop: stop})
}

// OnStateChange registers a transition handler.
func (s *Service) OnStateChange(h StateChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

func (s *Service) Name() string    { return s.name }
func (s *Service) Version() string { return s.version }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot. StartedAt and Uptime are set only while
// running.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{Name: s.name, Version: s.version, State: s.state}
	if s.startedAt != nil && s.state == StateRunning {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health returns [sserr.CodeUnavailable] unless the service is running.
func (s *Service) Health(context.Context) error {
	if state := s.State(); state != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable,
			"lifecycle: service is not running, current state is %q", state)
	}
	return nil
}

func (s *Service) setState(next State) error {
	s.mu.Lock()
	old := s.state
	if !ValidTransition(old, next) {
		s.mu.Unlock()
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, next).
			WithDetail("from", old.String()).WithDetail("to", next.String())
	}
	s.state = next
	if next == StateRunning {
		now := time.Now().UTC()
		s.startedAt = &now
	} else if next.IsTerminal() {
		s.startedAt = nil
	}
	handlers := append([]StateChangeHandler(nil), s.handlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		s.notify(h, old, next)
	}
	return nil
}

func (s *Service) notify(h StateChangeHandler, old, next State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("lifecycle: state change handler panicked",
				zap.String("service", s.name),
				zap.Any("panic", r),
				zap.String("old_state", old.String()),
				zap.String("new_state", next.String()),
			)
		}
	}()
	h(old, next)
}

// Start runs the start hooks and moves to running.
//
// Error codes returned:
//   - [sserr.CodeTimeout]: ctx was already done
//   - [sserr.CodeConflict]: the service is not startable from its state
//   - [sserr.CodeInternal]: a start hook failed (the hook's own code is
//     preserved in the chain)
func (s *Service) Start(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "lifecycle.Start")
	defer func() { finishSpan(span, err) }()

	s.run.Lock()
	defer s.run.Unlock()

	if err := ctx.Err(); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: start canceled before execution")
	}
	if err := s.setState(StateStarting); err != nil {
		return err
	}
	s.logger.Info("lifecycle: starting service",
		zap.String("service", s.name),
		zap.String("version", s.version),
	)

	parts := s.components()
	for i, c := range parts {
		if c.start == nil {
			continue
		}
		if hookErr := c.start(ctx); hookErr != nil {
			s.logger.Error("lifecycle: start hook failed",
				zap.String("service", s.name),
				zap.String("component", c.name),
				zap.Error(hookErr),
			)
			if rollbackErr := s.runStops(ctx, parts[:i]); rollbackErr != nil {
				s.logger.Warn("lifecycle: rollback after failed start reported errors",
					zap.String("service", s.name),
					zap.Error(rollbackErr),
				)
			}
			_ = s.setState(StateFailed)
			return sserr.Wrapf(hookErr, sserr.CodeInternal,
				"lifecycle: component %q failed to start", c.name).WithDetail("component", c.name)
		}
	}

	if err := s.setState(StateRunning); err != nil {
		return err
	}
	s.logger.Info("lifecycle: service started", zap.String("service", s.name))
	return nil
}

// Stop runs every stop hook and moves to stopped. Stopping a stopped or
// failed service is a no-op.
func (s *Service) Stop(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "lifecycle.Stop")
	defer func() { finishSpan(span, err) }()

	s.run.Lock()
	defer s.run.Unlock()

	if s.State().IsTerminal() {
		return nil
	}
	if err := s.setState(StateStopping); err != nil {
		return err
	}
	s.logger.Info("lifecycle: stopping service", zap.String("service", s.name))

	if hookErr := s.runStops(ctx, s.components()); hookErr != nil {
		_ = s.setState(StateFailed)
		return sserr.Wrap(hookErr, sserr.CodeInternal, "lifecycle: stop hooks failed")
	}
	if err := s.setState(StateStopped); err != nil {
		return err
	}
	s.logger.Info("lifecycle: service stopped", zap.String("service", s.name))
	return nil
}

func (s *Service) components() []component {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]component(nil), s.parts...)
}

func (s *Service) runStops(ctx context.Context, parts []component) error {
	var errs []error
	for i := len(parts) - 1; i >= 0; i-- {
		c := parts[i]
		if c.stop == nil {
			continue
		}
		if err := c.stop(ctx); err != nil {
			s.logger.Error("lifecycle: stop hook failed",
				zap.String("service", s.name),
				zap.String("component", c.name),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.name", s.name),
			attribute.String("service.version", s.version),
		),
	)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
