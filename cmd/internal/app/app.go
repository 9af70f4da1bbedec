// Package app wires the vigil server runtime: config, logging, stores, HTTP
// routes, the presence feed and background workers.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	authapi "vigil/cmd/internal/auth/api"
	"vigil/cmd/internal/auth/presence"
	"vigil/cmd/internal/metrics"
	"vigil/cmd/internal/partner"
	"vigil/cmd/internal/realtime"
	"vigil/cmd/security/password"
	"vigil/cmd/security/token"
)

// App is the vigil server runtime.
type App struct {
	cfg Config
	log Logger

	backend    *backend
	metrics    *metrics.Metrics
	presence   *presence.Controller
	dispatcher *partner.Dispatcher
	hub        *realtime.Hub
	reaper     *presence.Reaper

	handler http.Handler
}

// New constructs a fully wired App. The security policy is checked first,
// then the store is opened and the bootstrap admin ensured.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}
	for _, w := range securityWarnings(cfg) {
		log.Warn("security.warning", "detail", w)
	}

	handles, err := token.NewHandleCodec(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("handle codec: %w", err)
	}
	revocations, err := token.NewRevocationCodec(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("revocation codec: %w", err)
	}

	m := metrics.New()

	var notifier partner.Notifier
	if cfg.Partner.Enabled() {
		n, err := partner.NewHTTPNotifier(cfg.Partner, nil)
		if err != nil {
			return nil, err
		}
		notifier = n
		log.Info("partner.enabled", "url", cfg.Partner.LogoutURL, "method", cfg.Partner.Method)
	} else {
		log.Info("partner.disabled")
	}
	dispatcher := partner.NewDispatcher(log, notifier, cfg.Partner, m)

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log, m)
	ctrl, err := presence.New(be.accounts, be.sessions, password.NewHasher(cfg.Password),
		presence.WithLogger(log),
		presence.WithRevocations(revocations),
		presence.WithDispatcher(dispatcher),
		presence.WithEventSink(hub),
		presence.WithMetrics(m),
		presence.WithConfig(cfg.Presence),
	)
	if err != nil {
		_ = be.Close(ctx)
		return nil, err
	}

	feed := realtime.NewWSGateway(log, hub, ctrl, cfg.Feed)
	auth, err := authapi.NewHandler(log, ctrl, handles, cfg.Auth,
		authapi.WithRevocationVerifier(revocations),
		authapi.WithFeed(feed),
		authapi.WithMetrics(m),
	)
	if err != nil {
		_ = be.Close(ctx)
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		log:        log,
		backend:    be,
		metrics:    m,
		presence:   ctrl,
		dispatcher: dispatcher,
		hub:        hub,
		reaper:     presence.NewReaper(ctrl, log, cfg.Presence.ReapInterval),
	}
	a.handler = a.routes(auth)

	if err := a.bootstrapAdmin(ctx); err != nil {
		_ = be.Close(ctx)
		return nil, err
	}
	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and runs the session reaper until ctx is cancelled or the
// server fails. Pending partner notices get the shutdown timeout to finish.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}
	shutdownTimeout := nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", a.backend.kind)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error { return a.reaper.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		a.log.Error("server.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Close drains partner notices and releases the store.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.dispatcher != nil {
		if derr := a.dispatcher.Close(ctx); derr != nil {
			err = errors.Join(err, fmt.Errorf("partner dispatcher: %w", derr))
		}
	}
	if a.backend != nil {
		if berr := a.backend.Close(ctx); berr != nil {
			err = errors.Join(err, fmt.Errorf("store: %w", berr))
		}
	}
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
