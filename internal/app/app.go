package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/metrics"
	"github.com/vovakirdan/chatrelay/internal/store"
	"github.com/vovakirdan/chatrelay/internal/store/bolt"
	"github.com/vovakirdan/chatrelay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/chatrelay/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.MessageStore
	log             *zerolog.Logger
}

// OpenStore opens the durable message store selected by cfg.StoreDriver.
func OpenStore(cfg *config.Config) (store.MessageStore, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverSQLite:
		st, err := sqlite.New(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreDriverBolt:
		st, err := bolt.New(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// JWTConfig returns the token settings, or nil when no secret is configured.
func JWTConfig(cfg *config.Config) *auth.JWTConfig {
	if cfg.JWTSecret == "" {
		return nil
	}
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      auth.DefaultTokenTTL,
	}
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().
		Str("driver", cfg.StoreDriver).
		Str("path", cfg.StorePath).
		Msg("message store initialized")

	feed := store.NewFeed(st)

	deps := transporthttp.Deps{Feed: feed, Auth: auth.Trusting{}}
	if jwtCfg := JWTConfig(cfg); jwtCfg != nil {
		deps.JWT = jwtCfg
		deps.Auth = auth.NewJWT(jwtCfg)
		logger.Info().Msg("jwt authentication enabled")
	} else {
		logger.Warn().Msg("no jwt_secret configured, join identities are trusted as sent")
	}

	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		deps.Metrics = metrics.New(reg)
		deps.Gatherer = reg
	}

	hub := core.NewHub(feed, core.Options{
		PersistTimeout:    cfg.PersistTimeout,
		TypingQuietWindow: cfg.TypingQuietWindow,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		HistoryLimit:      cfg.HistoryLimit,
	}, logger, deps.Metrics)
	deps.Hub = hub

	return &App{
		server:          transporthttp.NewServer(deps, cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(ctx)
	hubDone := make(chan struct{})
	go func() {
		a.hub.Run(hubCtx)
		close(hubDone)
	}()

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("relay listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		stopHub()
		<-hubDone
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Hijacked websocket connections are not tracked by Shutdown; the hub closes them.
		stopHub()
		<-hubDone
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
