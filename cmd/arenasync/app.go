package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/rickgao/arena-sync/internal/api"
	"github.com/rickgao/arena-sync/internal/config"
	"github.com/rickgao/arena-sync/internal/connection"
	"github.com/rickgao/arena-sync/internal/events"
	"github.com/rickgao/arena-sync/internal/notify"
	"github.com/rickgao/arena-sync/internal/subscription"
	"github.com/rickgao/arena-sync/internal/userdata"
	"github.com/rickgao/arena-sync/internal/version"
)

const shutdownTimeout = 10 * time.Second

// app is the wired listen pipeline: one connection shared by the
// subscription registry and the event reconciler.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	auth   connection.AuthState

	client     *api.Client
	queue      *notify.Queue
	manager    *connection.Manager
	registry   *subscription.Registry
	store      *userdata.Store
	reconciler *events.Reconciler

	unlisten func()
}

// newApp builds every component. Nothing connects until run.
func newApp(cfg *config.Config, logger *slog.Logger, out io.Writer, opts ...connection.Option) (*app, error) {
	tag, err := language.Parse(cfg.Reconciler.Language)
	if err != nil {
		return nil, fmt.Errorf("reconciler.language: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		auth:   connection.AuthState{UserID: cfg.User.ID, Token: cfg.User.Token},
	}

	a.client = newAPIClient(cfg, logger)
	a.queue = notify.NewQueue(notify.Config{
		Capacity: cfg.Notify.Capacity,
		TTL:      cfg.Notify.TTL,
	}, logger)

	a.manager = connection.NewManager(managerConfig(cfg), logger, opts...)

	a.registry = subscription.NewRegistry(a.manager, logger)
	a.registry.Attach()

	a.store = userdata.NewStore(userdata.Config{
		ReconcileInterval: cfg.Reconciler.ReconcileInterval,
		LoadTimeout:       cfg.API.Timeout,
	}, a.client, a.registry, logger)

	a.reconciler = events.NewReconciler(events.Config{
		SettleDelay:    cfg.Reconciler.SettleDelay,
		ReloadDebounce: cfg.Reconciler.ReloadDebounce,
		RefetchTimeout: cfg.Reconciler.RefetchTimeout,
		Currency:       cfg.Reconciler.Currency,
		Language:       tag,
	}, a.store, printer{queue: a.queue, out: out}, logger)

	// A new session starts in Connecting with no handlers; bind the
	// reconciler before the first dial so no event is missed.
	a.unlisten = a.manager.AddStateListener(func(st connection.State) {
		if st.Status == connection.StatusConnecting {
			a.reconciler.Attach(a.manager)
		}
		a.reconciler.OnState(st)
	})

	return a, nil
}

// run connects and serves until ctx is cancelled or a component fails.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.store.Start(gctx); err != nil {
			return fmt.Errorf("start user data: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.manager.Initialize(gctx, a.auth); err != nil {
			return fmt.Errorf("initialize connection: %w", err)
		}
		return nil
	})

	if a.cfg.Health.Addr != "" {
		g.Go(func() error {
			return a.serveHealth(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	a.shutdown()

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveHealth runs the status server until ctx is done.
func (a *app) serveHealth(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Health.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.logger.Info("health server listening", "addr", a.cfg.Health.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// shutdown tears components down in reverse dependency order.
func (a *app) shutdown() {
	a.logger.Info("shutting down...")

	a.reconciler.Close()
	a.registry.Close()
	if a.unlisten != nil {
		a.unlisten()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.manager.Shutdown(ctx); err != nil {
		a.logger.Warn("connection shutdown incomplete", "error", err)
	}
	if err := a.store.Stop(ctx); err != nil {
		a.logger.Warn("user data shutdown incomplete", "error", err)
	}
	a.queue.Close()

	a.logger.Info("arenasync stopped")
}

// printer pushes notifications to the queue and echoes them to out.
type printer struct {
	queue *notify.Queue
	out   io.Writer
}

func (p printer) Push(message string, kind notify.Kind) notify.Record {
	rec := p.queue.Push(message, kind)
	if p.out != nil {
		fmt.Fprintf(p.out, "%s [%s] %s\n", rec.CreatedAt.Format(time.TimeOnly), rec.Kind, rec.Message)
	}
	return rec
}

func newAPIClient(cfg *config.Config, logger *slog.Logger) *api.Client {
	return api.NewClient(cfg.API.RestURL, cfg.User.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
	)
}

func managerConfig(cfg *config.Config) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.URL = cfg.Realtime.URL
	mc.Transports = cfg.Realtime.Transports
	if cfg.Realtime.WithCredentials != nil {
		mc.WithCredentials = *cfg.Realtime.WithCredentials
	}
	mc.CookieName = cfg.Realtime.CookieName
	mc.UserAgent = version.UserAgent()
	mc.ReconnectDelay = cfg.Realtime.ReconnectDelay
	mc.ReconnectDelayMax = cfg.Realtime.ReconnectDelayMax
	mc.ReconnectAttempts = cfg.Realtime.ReconnectAttempts
	mc.Timeout = cfg.Realtime.Timeout
	mc.StartupDelay = cfg.Realtime.StartupDelay
	return mc
}
