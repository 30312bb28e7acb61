package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quizlive/quizlive/internal/game"
	"github.com/quizlive/quizlive/internal/player"
)

func newPlayerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Join and play as a participant",
	}

	var identityFile string
	cmd.PersistentFlags().StringVar(&identityFile, "identity-file", "", "identity location (default: user config dir)")

	newSession := func(cmd *cobra.Command, rt *runtime, opts player.Options) (*player.Session, error) {
		ids, err := player.NewFileIdentityStore(identityFile)
		if err != nil {
			return nil, err
		}
		opts.GamePath = rt.cfg.Store.GamePath
		return player.NewSession(rt.runner, ids, rt.logger, opts)
	}

	join := &cobra.Command{
		Use:   "join <name>",
		Short: "Join the game with a display name (1-20 characters)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			session, err := newSession(cmd, rt, player.Options{})
			if err != nil {
				return err
			}
			defer session.Close()
			name := strings.Join(args, " ")
			if err := session.Join(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Printf("joined as %q (id %s)\n", name, session.Identity().ID)
			return nil
		},
	}

	typeCmd := &cobra.Command{
		Use:   "type <text>",
		Short: "Broadcast an in-progress answer preview",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			session, err := newSession(cmd, rt, player.Options{})
			if err != nil {
				return err
			}
			defer session.Close()
			session.UpdateLiveTyping(strings.Join(args, " "))
			session.FlushTyping()
			return nil
		},
	}

	submit := &cobra.Command{
		Use:   "submit <answer>",
		Short: "Lock in the final answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			session, err := newSession(cmd, rt, player.Options{})
			if err != nil {
				return err
			}
			defer session.Close()
			if err := session.SubmitAnswer(cmd.Context(), strings.Join(args, " ")); err != nil {
				return err
			}
			fmt.Println("answer submitted")
			return nil
		},
	}

	var asJSON bool
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Follow live game state until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			evicted := make(chan struct{}, 1)
			streamErr := make(chan error, 1)
			session, err := newSession(cmd, rt, player.Options{
				OnEvicted: func() {
					select {
					case evicted <- struct{}{}:
					default:
					}
				},
				OnState: func(gs game.GameState) { printState(gs, asJSON) },
				OnStreamError: func(err error) {
					select {
					case streamErr <- err:
					default:
					}
				},
			})
			if err != nil {
				return err
			}
			defer session.Close()

			stop := session.Watch(cmd.Context())
			defer stop()

			select {
			case <-cmd.Context().Done():
				return nil
			case <-evicted:
				fmt.Fprintln(os.Stderr, "the host reset the game; rejoin with a name")
				return nil
			case err := <-streamErr:
				return fmt.Errorf("state stream failed: %w", err)
			}
		},
	}
	watch.Flags().BoolVar(&asJSON, "json", false, "print raw JSON snapshots")

	cmd.AddCommand(join, typeCmd, submit, watch)
	return cmd
}

func printState(gs game.GameState, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.Encode(gs)
		return
	}

	fmt.Printf("[%s] question %d, %d players\n", gs.Status, gs.CurrentQuestionIndex+1, len(gs.Players))
	for _, p := range game.Leaderboard(gs) {
		fmt.Printf("  %-20s %4d\n", p.Name, p.Score)
	}
}
