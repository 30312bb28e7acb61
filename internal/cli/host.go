package cli

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quizlive/quizlive/internal/host"
)

func newHostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Drive the game through its phases",
	}
	cmd.PersistentFlags().StringVar(&adminKey, "admin-key", "", "host shared secret (required when ADMIN_KEY is set)")

	var quizID string
	start := &cobra.Command{
		Use:   "start-question",
		Short: "Activate the current question, clearing stale answers",
		RunE: hostAction(func(cmd *cobra.Command, m *host.Machine, args []string) error {
			if quizID != "" {
				m.SelectQuiz(quizID)
			}
			return m.StartQuestion(cmd.Context())
		}),
	}
	start.Flags().StringVar(&quizID, "quiz", "", "select a quiz before starting")

	var confirmed bool
	reset := &cobra.Command{
		Use:   "reset-game",
		Short: "Wipe the game back to an empty lobby",
		RunE: hostAction(func(cmd *cobra.Command, m *host.Machine, args []string) error {
			return m.ResetGame(cmd.Context(), confirmed)
		}),
	}
	reset.Flags().BoolVar(&confirmed, "yes", false, "confirm the destructive reset")

	cmd.AddCommand(
		start,
		simpleHostCmd("reveal-answer", "Score submissions and reveal the correct answer",
			func(cmd *cobra.Command, m *host.Machine) error { return m.RevealAnswer(cmd.Context()) }),
		simpleHostCmd("next-question", "Advance to the next question",
			func(cmd *cobra.Command, m *host.Machine) error { return m.NextQuestion(cmd.Context()) }),
		simpleHostCmd("previous-question", "Step back to the previous question's reveal",
			func(cmd *cobra.Command, m *host.Machine) error { return m.PreviousQuestion(cmd.Context()) }),
		simpleHostCmd("show-leaderboard", "Overlay the leaderboard",
			func(cmd *cobra.Command, m *host.Machine) error { return m.ShowLeaderboard(cmd.Context()) }),
		simpleHostCmd("hide-leaderboard", "Return from the leaderboard overlay",
			func(cmd *cobra.Command, m *host.Machine) error { return m.HideLeaderboard(cmd.Context()) }),
		reset,
		playerArgHostCmd("override-answer", "Mark a player's text answer correct manually",
			func(cmd *cobra.Command, m *host.Machine, playerID string) error {
				return m.OverrideAnswer(cmd.Context(), playerID)
			}),
		playerArgHostCmd("clear-override", "Withdraw a manual correctness override",
			func(cmd *cobra.Command, m *host.Machine, playerID string) error {
				return m.ClearOverride(cmd.Context(), playerID)
			}),
		newHostStatusCmd(),
	)
	return cmd
}

var adminKey string

// hostAction wraps a machine call with the shared-secret check, runtime
// bootstrap and a state echo on success.
func hostAction(fn func(cmd *cobra.Command, m *host.Machine, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		if key := rt.cfg.Security.AdminKey; key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
				return errors.New("host commands require --admin-key matching ADMIN_KEY")
			}
		}

		machine := host.NewMachine(rt.runner, rt.quizzes, rt.logger, host.Options{GamePath: rt.cfg.Store.GamePath})
		if err := machine.EnsureGame(cmd.Context()); err != nil {
			return err
		}
		if err := fn(cmd, machine, args); err != nil {
			return err
		}
		return printSnapshot(cmd, machine)
	}
}

func simpleHostCmd(use, short string, fn func(*cobra.Command, *host.Machine) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: hostAction(func(cmd *cobra.Command, m *host.Machine, args []string) error {
			return fn(cmd, m)
		}),
	}
}

func playerArgHostCmd(use, short string, fn func(*cobra.Command, *host.Machine, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <player-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: hostAction(func(cmd *cobra.Command, m *host.Machine, args []string) error {
			return fn(cmd, m, args[0])
		}),
	}
}

func newHostStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current game document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			machine := host.NewMachine(rt.runner, rt.quizzes, rt.logger, host.Options{GamePath: rt.cfg.Store.GamePath})
			return printSnapshot(cmd, machine)
		},
	}
}

func printSnapshot(cmd *cobra.Command, m *host.Machine) error {
	gs, err := m.Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("read game state: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(gs)
}
