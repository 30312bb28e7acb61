package cli

import (
	"github.com/spf13/cobra"

	"github.com/quizlive/quizlive/internal/app"
	"github.com/quizlive/quizlive/internal/config"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the quiz server (state stream, host API, health, metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, cfgErr := config.Load(ctx)
			if cfg == nil {
				// Unparseable environment; nothing sensible can serve.
				return cfgErr
			}
			// A validation failure still serves: the monitor latches it as
			// invalid-config and the health and state surfaces report it.
			instance, err := app.New(ctx, cfg, cfgErr)
			if err != nil {
				return err
			}
			return instance.Run(ctx)
		},
	}
}
