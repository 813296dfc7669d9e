// Package server assembles one bearer-relay service: configuration,
// storage clients, key store, gate, router and lifecycle.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/StricklySoft/bearer-relay/internal/downstream"
	"github.com/StricklySoft/bearer-relay/internal/forecast"
	"github.com/StricklySoft/bearer-relay/internal/metrics"
	"github.com/StricklySoft/bearer-relay/pkg/audit"
	"github.com/StricklySoft/bearer-relay/pkg/auth"
	"github.com/StricklySoft/bearer-relay/pkg/clients/minio"
	"github.com/StricklySoft/bearer-relay/pkg/clients/postgres"
	"github.com/StricklySoft/bearer-relay/pkg/clients/redis"
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
	"github.com/StricklySoft/bearer-relay/pkg/jwks"
	"github.com/StricklySoft/bearer-relay/pkg/keycache"
	"github.com/StricklySoft/bearer-relay/pkg/lifecycle"
	"github.com/StricklySoft/bearer-relay/pkg/token"
)

// App is one running service.
type App struct {
	name    string
	logger  *zap.Logger
	svc     *lifecycle.Service
	store   *jwks.Store
	metrics *metrics.Metrics
	http    *httpServer

	shutdownTimeout time.Duration

	closeOnce sync.Once
	closers   []func() error
}

// NewApp connects the storage backends cfg enables and wires the
// service. Nothing listens or fetches until [App.Start]. name is used
// unless cfg.ServiceName overrides it.
//
// Components start in this order and stop in reverse: clients, audit,
// keycache, jwks, refresher, http.
func NewApp(ctx context.Context, cfg Config, name, version string, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name = cfg.Name(name)

	a := &App{
		name:            name,
		logger:          logger,
		svc:             lifecycle.New(name, version, lifecycle.WithLogger(logger)),
		metrics:         metrics.New(name),
		shutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}
	defer func() {
		if err != nil {
			_ = a.closeClients()
		}
	}()
	a.svc.Add("clients", nil, func(context.Context) error { return a.closeClients() })

	recorder, err := a.buildRecorder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cache, err := a.buildCache(ctx, cfg)
	if err != nil {
		return nil, err
	}

	storeOpts := []jwks.StoreOption{
		jwks.WithLogger(logger),
		jwks.WithRefreshObserver(a.metrics),
		jwks.WithMinRefetchInterval(cfg.JWKS.MinRefetchInterval),
	}
	if cache != nil {
		storeOpts = append(storeOpts, jwks.WithSnapshotCache(cache))
	}
	a.store = jwks.NewStore(cfg.JWKS.URL, jwks.NewFetcher(jwks.WithFetchTimeout(cfg.JWKS.FetchTimeout)), storeOpts...)
	a.svc.Add("jwks", a.store.Init, nil)

	if cfg.JWKS.RefreshSchedule != "" {
		refresher, err := jwks.NewRefresher(a.store, cfg.JWKS.RefreshSchedule, cfg.JWKS.FetchTimeout, logger)
		if err != nil {
			return nil, err
		}
		a.svc.Add("refresher", func(context.Context) error {
			refresher.Start()
			return nil
		}, refresher.Stop)
	}

	verifier, err := token.NewVerifier(cfg.Token)
	if err != nil {
		return nil, err
	}
	if verifier.Policy().Permissive() {
		logger.Warn("server: token expiry, issuer and audience are not validated",
			zap.String("service", name))
	}

	gateOpts := []auth.GateOption{
		auth.WithServiceName(name),
		auth.WithGateLogger(logger),
		auth.WithRefetchOnUnknownKey(cfg.JWKS.RefetchOnUnknownKID),
		auth.WithDecisionObserver(a.metrics),
	}
	if recorder != nil {
		gateOpts = append(gateOpts, auth.WithDecisionRecorder(recorder))
	}

	var ds *downstream.Client
	if cfg.Downstream.BaseURL != "" {
		client := auth.NewForwardingClient(cfg.Downstream.Timeout, nil, auth.WithForwardObserver(a.metrics))
		if ds, err = downstream.New(cfg.Downstream.BaseURL, client); err != nil {
			return nil, err
		}
	}

	handler := NewRouter(cfg.HTTP, Deps{
		Gate:       auth.NewGate(verifier, a.store, gateOpts...),
		Keys:       a.store,
		Health:     a.svc,
		Metrics:    a.metrics,
		Forecasts:  forecast.NewGenerator(nil, nil),
		Downstream: ds,
		Logger:     logger,
	})
	a.http = newHTTPServer(&http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	})
	a.svc.Add("http", a.http.start, a.http.stop)

	return a, nil
}

// buildRecorder connects the audit database when enabled. The returned
// recorder is nil when no decision is recorded.
func (a *App) buildRecorder(ctx context.Context, cfg Config) (auth.DecisionRecorder, error) {
	var recorders []audit.Recorder
	if cfg.Audit.Log {
		recorders = append(recorders, audit.NewLog(a.logger))
	}

	if cfg.Audit.Enabled {
		client, err := postgres.NewClient(ctx, cfg.Audit.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)

		store := audit.NewPostgres(client)
		async := audit.NewAsync(store, cfg.Audit.Buffer, a.logger)
		// Flush before the client closes.
		a.closers = append([]func() error{func() error {
			ctx, cancel := context.WithTimeout(context.Background(), a.flushTimeout())
			defer cancel()
			return async.Close(ctx)
		}}, a.closers...)

		a.svc.Add("audit", store.EnsureSchema, nil)
		recorders = append(recorders, async)
	}

	if len(recorders) == 0 {
		return nil, nil
	}
	recorder := audit.Multi(recorders...)
	if cfg.Audit.RejectionsOnly {
		recorder = audit.RejectionsOnly(recorder)
	}
	return recorder, nil
}

// buildCache connects the snapshot cache backend. It returns nil for
// the "none" backend.
func (a *App) buildCache(ctx context.Context, cfg Config) (jwks.SnapshotCache, error) {
	key := cfg.Cache.Key
	if key == "" {
		key = keycache.DefaultKey
	}

	switch cfg.Cache.Backend {
	case keycache.BackendRedis:
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return keycache.NewRedis(client, key, cfg.Cache.TTL), nil

	case keycache.BackendMinIO:
		client, err := minio.NewClient(ctx, cfg.MinIO)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		bucket := cfg.Cache.Bucket
		a.svc.Add("keycache", func(ctx context.Context) error {
			return client.EnsureBucket(ctx, bucket)
		}, nil)
		return keycache.NewObject(client, bucket, key), nil

	default:
		return nil, nil
	}
}

func (a *App) flushTimeout() time.Duration {
	if a.shutdownTimeout > 0 {
		return a.shutdownTimeout
	}
	return 5 * time.Second
}

func (a *App) closeClients() error {
	var err error
	a.closeOnce.Do(func() {
		var errs []error
		for _, c := range a.closers {
			errs = append(errs, c())
		}
		err = errors.Join(errs...)
	})
	return err
}

// Name returns the service name.
func (a *App) Name() string { return a.name }

// Service returns the lifecycle the app runs under.
func (a *App) Service() *lifecycle.Service { return a.svc }

// Store returns the key store.
func (a *App) Store() *jwks.Store { return a.store }

// Metrics returns the app's collectors.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Addr returns the listening address once started, or "".
func (a *App) Addr() string { return a.http.address() }

// Start runs every start hook. A key-set fetch failure with no cached
// snapshot fails the start.
func (a *App) Start(ctx context.Context) error {
	if err := a.svc.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("server: listening", zap.String("service", a.name), zap.String("addr", a.Addr()))
	return nil
}

// Stop runs every stop hook within the shutdown timeout.
func (a *App) Stop(ctx context.Context) error {
	if a.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.shutdownTimeout)
		defer cancel()
	}
	return a.svc.Stop(ctx)
}

// Run starts the app, serves until ctx is done or the listener fails,
// then stops.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("server: shutting down", zap.String("service", a.name))
	case serveErr = <-a.http.errs:
		a.logger.Error("server: listener failed", zap.String("service", a.name), zap.Error(serveErr))
	}
	return errors.Join(serveErr, a.Stop(context.WithoutCancel(ctx)))
}

type httpServer struct {
	srv  *http.Server
	errs chan error

	mu   sync.Mutex
	addr net.Addr
}

func newHTTPServer(srv *http.Server) *httpServer {
	return &httpServer{srv: srv, errs: make(chan error, 1)}
}

func (s *httpServer) start(context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeUnavailable, "server: failed to listen on %s", s.srv.Addr)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errs <- sserr.Wrap(err, sserr.CodeInternal, "server: serve failed")
		}
	}()
	return nil
}

func (s *httpServer) stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "server: graceful shutdown did not finish")
	}
	return nil
}

func (s *httpServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}
