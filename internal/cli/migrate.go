package cli

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/quizlive/quizlive/internal/config"
	"github.com/quizlive/quizlive/internal/logging"
)

func newMigrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Run content database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			if !cfg.Postgres.Enabled() {
				return fmt.Errorf("no content database configured (set PG_HOST)")
			}
			logger := logging.New(cfg.Name, cfg.Env, cfg.LogLevel)

			migrationDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolve migration directory: %w", err)
			}
			if _, err := os.Stat(migrationDir); os.IsNotExist(err) {
				return fmt.Errorf("migration directory %s does not exist", migrationDir)
			}

			db, err := sql.Open("pgx", cfg.Postgres.DSN())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := db.PingContext(cmd.Context()); err != nil {
				return fmt.Errorf("ping database: %w", err)
			}

			goose.SetBaseFS(nil)
			goose.SetTableName("goose_db_version")

			switch args[0] {
			case "up":
				if err := goose.Up(db, migrationDir); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				logger.Info().Msg("migrations applied")
			case "down":
				if err := goose.Down(db, migrationDir); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info().Msg("migration rolled back")
			case "status":
				if err := goose.Status(db, migrationDir); err != nil {
					return fmt.Errorf("migration status: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "db/migrations", "directory containing migration files")
	return cmd
}
