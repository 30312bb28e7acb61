// Package cli defines the quizlive command tree: the long-running server,
// host commands, player actions and database migrations.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/quizlive/quizlive/internal/config"
	"github.com/quizlive/quizlive/internal/logging"
	"github.com/quizlive/quizlive/internal/quiz"
	"github.com/quizlive/quizlive/internal/remote"
	"github.com/quizlive/quizlive/internal/store"
)

var envFile string

// Execute runs the CLI under ctx; cancellation aborts in-flight commands.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "quizlive",
		Short:         "Real-time synchronized quiz over a shared state store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if os.Getenv("APP_ENV") == "production" {
				return
			}
			if err := godotenv.Load(envFile); err != nil && envFile != defaultEnvFile {
				fmt.Fprintf(os.Stderr, "warning: could not load %s: %v\n", envFile, err)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "env file loaded outside production")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHostCmd())
	cmd.AddCommand(newPlayerCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

const defaultEnvFile = "configs/.env"

// runtime is the shared bootstrap for one-shot commands: config, logger and
// a retrying store wrapper, without the HTTP surface.
type runtime struct {
	cfg     *config.App
	logger  zerolog.Logger
	runner  *remote.Runner
	quizzes *quiz.Service

	st   store.Store
	pool *pgxpool.Pool
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Name, cfg.Env, cfg.LogLevel)

	var (
		st          store.Store
		redisClient *redis.Client
	)
	switch cfg.Store.Backend {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		st = store.NewRedisStore(redisClient, "", logger)
	default:
		st = store.NewMemoryStore()
	}

	var (
		loader quiz.Loader
		cache  quiz.Cache
		pool   *pgxpool.Pool
	)
	if cfg.Postgres.Enabled() {
		pool, err = pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		loader = quiz.NewPostgresLoader(pool)
	}
	if redisClient != nil && cfg.Quiz.RedisCache {
		cache = quiz.NewRedisCache(redisClient, cfg.Quiz.CacheTTL)
	}

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		runner:  remote.NewRunner(st, logger, nil),
		quizzes: quiz.NewService(loader, cache, logger, quiz.ServiceOptions{TTL: cfg.Quiz.CacheTTL}),
		st:      st,
		pool:    pool,
	}, nil
}

// close releases the store, which owns the redis client.
func (rt *runtime) close() {
	if err := rt.st.Close(); err != nil {
		rt.logger.Error().Err(err).Msg("store shutdown error")
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
}
