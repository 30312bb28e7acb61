// Package app wires configuration, the store backend, the host machine and
// the HTTP surface into one runnable application.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quizlive/quizlive/internal/config"
	"github.com/quizlive/quizlive/internal/connection"
	"github.com/quizlive/quizlive/internal/game"
	"github.com/quizlive/quizlive/internal/host"
	"github.com/quizlive/quizlive/internal/logging"
	"github.com/quizlive/quizlive/internal/metrics"
	"github.com/quizlive/quizlive/internal/quiz"
	"github.com/quizlive/quizlive/internal/remote"
	"github.com/quizlive/quizlive/internal/server"
	"github.com/quizlive/quizlive/internal/store"
	"github.com/quizlive/quizlive/pkg/http/ws"
)

// Application aggregates shared infrastructure: store backend, host machine,
// connectivity monitor and the HTTP server.
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	st      store.Store
	runner  *remote.Runner
	machine *host.Machine
	monitor *connection.Monitor
	hub     *ws.Hub
	http    *http.Server

	pool *pgxpool.Pool
}

// New bootstraps the application from config. A non-nil cfgErr marks the
// configuration as invalid: the process still comes up so the health and
// state surfaces can report the error, but no real backend is dialed and the
// connectivity monitor latches the failure until an operator fixes the
// environment.
func New(ctx context.Context, cfg *config.App, cfgErr error) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env, cfg.LogLevel)
	logger.Info().Str("backend", cfg.Store.Backend).Msg("starting application bootstrap")

	m := metrics.New(prometheus.DefaultRegisterer)

	var (
		st          store.Store
		redisClient *redis.Client
	)
	switch {
	case cfgErr != nil:
		logger.Error().Err(cfgErr).Msg("configuration invalid; serving with latched config error")
		st = store.NewMemoryStore()
	case cfg.Store.Backend == "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		st = store.NewRedisStore(redisClient, "", logger)
	case cfg.Store.Backend == "memory":
		st = store.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	runner := remote.NewRunner(st, logger, m)

	var (
		loader quiz.Loader
		cache  quiz.Cache
		pool   *pgxpool.Pool
	)
	if cfgErr == nil && cfg.Postgres.Enabled() {
		var err error
		pool, err = pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		loader = quiz.NewPostgresLoader(pool)
	}
	if redisClient != nil && cfg.Quiz.RedisCache {
		cache = quiz.NewRedisCache(redisClient, cfg.Quiz.CacheTTL)
	}
	quizzes := quiz.NewService(loader, cache, logger, quiz.ServiceOptions{TTL: cfg.Quiz.CacheTTL})

	machine := host.NewMachine(runner, quizzes, logger, host.Options{GamePath: cfg.Store.GamePath})
	hub := ws.NewHub(logger)

	monitor := connection.NewMonitor(runner, logger, m, connection.Options{
		ProbePath:   cfg.Store.ProbePath,
		PresenceTTL: cfg.Store.PresenceTTL,
		ConfigError: cfgErr,
		OnChange: func(s connection.State) {
			hub.Broadcast(ws.ConnectionMessage(s.IsOnline, string(s.Quality)))
		},
	})

	httpSrv := server.New(server.Deps{
		Config:  cfg,
		Logger:  logger,
		Machine: machine,
		Quizzes: quizzes,
		Monitor: monitor,
		Hub:     hub,
	})

	return &Application{
		cfg:     cfg,
		logger:  logger,
		st:      st,
		runner:  runner,
		machine: machine,
		monitor: monitor,
		hub:     hub,
		http:    httpSrv,
		pool:    pool,
	}, nil
}

// Run starts the HTTP server, the connectivity monitor and the state pump,
// then blocks until a termination signal or a fatal component error.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.machine.EnsureGame(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("could not seed game document; continuing")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.monitor.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return a.pumpState(gctx)
	})

	g.Go(func() error {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("http shutdown error")
		}
		a.hub.CloseAll()
		return nil
	})

	err := g.Wait()
	a.close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info().Msg("shutdown complete")
	return nil
}

// pumpState forwards every game document push to the WebSocket hub. The
// subscription resubscribes on its own; this goroutine only ends with ctx.
func (a *Application) pumpState(ctx context.Context) error {
	unsub := a.runner.Subscribe(ctx, a.cfg.Store.GamePath, remote.SubscribeHandlers{
		OnValue: func(raw any) {
			gs := game.Normalize(raw)
			encoded, err := json.Marshal(gs)
			if err != nil {
				a.logger.Error().Err(err).Msg("encode state frame")
				return
			}
			a.hub.Broadcast(ws.StateMessage(encoded))
		},
		OnError: func(err *remote.Error) {
			g := remote.GuidanceFor(err.Code)
			a.hub.Broadcast(ws.ErrorMessage(string(err.Code), g.Title, g.Action))
		},
		OnConnectionLost: func() {
			a.logger.Warn().Msg("state stream lost, resubscribing")
		},
		OnConnectionRestored: func() {
			a.logger.Info().Msg("state stream restored")
		},
	})
	defer unsub()

	<-ctx.Done()
	return nil
}

// close releases backends. The store owns the redis client and closes it.
func (a *Application) close() {
	if err := a.st.Close(); err != nil {
		a.logger.Error().Err(err).Msg("store shutdown error")
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
