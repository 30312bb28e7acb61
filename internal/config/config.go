package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// App holds core runtime configuration shared across services.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"quizlive"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel                string        `env:"LOG_LEVEL" envDefault:"info"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Store    Store
	Redis    Redis
	Postgres Postgres
	Security Security
	Quiz     Quiz
}

// Store selects the shared-state backend and the well-known document paths.
type Store struct {
	// Backend is "redis" or "memory". Memory is single-process only and
	// exists for local development and tests.
	Backend string `env:"STORE_BACKEND" envDefault:"redis"`

	GamePath    string        `env:"STORE_GAME_PATH" envDefault:"games/main"`
	ProbePath   string        `env:"STORE_PROBE_PATH" envDefault:"sys/health"`
	PresenceTTL time.Duration `env:"STORE_PRESENCE_TTL" envDefault:"30s"`
}

// Redis holds shared-state and cache configuration.
type Redis struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// Postgres captures connection info for the quiz content database. All
// fields empty means no content database: the static fallback catalog is
// served instead.
type Postgres struct {
	Host     string `env:"PG_HOST"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER"`
	Password string `env:"PG_PASSWORD"`
	Database string `env:"PG_DATABASE"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
}

// Enabled reports whether a content database was configured.
func (p Postgres) Enabled() bool { return p.Host != "" }

// DSN renders the pgx connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// Security stores the host-side shared secret. Host commands over HTTP must
// present it; an empty value disables the remote host surface entirely.
type Security struct {
	AdminKey string `env:"ADMIN_KEY"`
}

// Quiz governs content caching.
type Quiz struct {
	CacheTTL   time.Duration `env:"QUIZ_CACHE_TTL" envDefault:"5m"`
	DefaultID  string        `env:"QUIZ_DEFAULT_ID" envDefault:"general-knowledge"`
	RedisCache bool          `env:"QUIZ_REDIS_CACHE" envDefault:"true"`
}

// Load parses environment variables into App config and validates it. On a
// validation failure the parsed config is returned alongside the error, so
// the server can still come up with the config error latched instead of
// crash-looping.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work. These are permanent
// errors; retrying with the same environment cannot help.
func (c *App) Validate() error {
	switch c.Store.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid config: STORE_BACKEND must be redis or memory, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("invalid config: REDIS_ADDR is required with the redis backend")
	}
	if c.Store.GamePath == "" || c.Store.ProbePath == "" {
		return fmt.Errorf("invalid config: store paths must not be empty")
	}
	if c.Store.PresenceTTL < 5*time.Second {
		return fmt.Errorf("invalid config: STORE_PRESENCE_TTL must be at least 5s")
	}
	if p := c.Postgres; p.Enabled() && (p.User == "" || p.Database == "") {
		return fmt.Errorf("invalid config: PG_USER and PG_DATABASE are required when PG_HOST is set")
	}
	return nil
}
