// Package host implements the admin-side phase state machine. Every command
// is validated against an explicit transition table, guarded against
// concurrent host transitions from the same session, and applied as one
// atomic multi-path update against the shared document.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quizlive/quizlive/internal/game"
	"github.com/quizlive/quizlive/internal/game/scoring"
	"github.com/quizlive/quizlive/internal/quiz"
	"github.com/quizlive/quizlive/internal/remote"
)

// Command names the host-issued transitions.
type Command string

const (
	CmdStartQuestion    Command = "start-question"
	CmdRevealAnswer     Command = "reveal-answer"
	CmdNextQuestion     Command = "next-question"
	CmdPreviousQuestion Command = "previous-question"
	CmdShowLeaderboard  Command = "show-leaderboard"
	CmdHideLeaderboard  Command = "hide-leaderboard"
	CmdResetGame        Command = "reset-game"
	CmdOverrideAnswer   Command = "override-answer"
	CmdClearOverride    Command = "clear-override"
)

var (
	// ErrBusy rejects a transition while another is in flight from this
	// session. The in-flight one is not aborted.
	ErrBusy = errors.New("host: another transition is in progress")

	// ErrConfirmationRequired guards the destructive full reset.
	ErrConfirmationRequired = errors.New("host: reset requires confirmation")

	// ErrNoQuizSelected rejects starting a question with no quiz chosen.
	ErrNoQuizSelected = errors.New("host: no quiz selected")
)

// PreconditionError reports a command issued from a state that does not allow
// it. The transition is a no-op; no write occurs.
type PreconditionError struct {
	Command Command
	Status  game.Status
	Reason  string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("host: %s not allowed (status=%s): %s", e.Command, e.Status, e.Reason)
}

// transitionTable is the legal state set per command. A nil entry means the
// command is valid from any phase; commands with extra preconditions check
// them in their handlers after the phase gate passes.
var transitionTable = map[Command][]game.Status{
	CmdStartQuestion:    nil, // any phase, requires a selected quiz
	CmdRevealAnswer:     {game.StatusQuestionActive},
	CmdNextQuestion:     {game.StatusRevealAnswer, game.StatusLeaderboard},
	CmdPreviousQuestion: {game.StatusRevealAnswer, game.StatusLeaderboard},
	CmdShowLeaderboard:  {game.StatusLobby, game.StatusQuestionActive, game.StatusRevealAnswer},
	CmdHideLeaderboard:  {game.StatusLeaderboard},
	CmdResetGame:        nil,
	CmdOverrideAnswer:   {game.StatusQuestionActive, game.StatusRevealAnswer, game.StatusLeaderboard},
	CmdClearOverride:    {game.StatusQuestionActive, game.StatusRevealAnswer, game.StatusLeaderboard},
}

// Allowed reports whether cmd may be issued while the game is in status.
func Allowed(cmd Command, status game.Status) bool {
	states, ok := transitionTable[cmd]
	if !ok {
		return false
	}
	if states == nil {
		return true
	}
	for _, s := range states {
		if s == status {
			return true
		}
	}
	return false
}

func gate(cmd Command, gs game.GameState) error {
	if !Allowed(cmd, gs.Status) {
		return &PreconditionError{Command: cmd, Status: gs.Status, Reason: "phase does not permit this command"}
	}
	return nil
}

// Options configures a Machine.
type Options struct {
	// GamePath is the shared document location.
	GamePath string
}

// Machine drives the shared game document through its phases.
type Machine struct {
	runner   *remote.Runner
	quizzes  *quiz.Service
	logger   zerolog.Logger
	gamePath string

	mu       sync.Mutex
	inFlight bool

	// pendingQuizID is a locally selected quiz not yet persisted; it is
	// written on the next start-question.
	pendingQuizID string
}

// NewMachine builds the host controller.
func NewMachine(runner *remote.Runner, quizzes *quiz.Service, logger zerolog.Logger, opts Options) *Machine {
	if opts.GamePath == "" {
		opts.GamePath = "games/main"
	}
	return &Machine{
		runner:   runner,
		quizzes:  quizzes,
		logger:   logger.With().Str("component", "host").Logger(),
		gamePath: opts.GamePath,
	}
}

// SelectQuiz records a local quiz choice; it is persisted by the next
// start-question together with a question-index reset.
func (m *Machine) SelectQuiz(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingQuizID = id
}

// begin acquires the single-transition guard.
func (m *Machine) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight {
		return ErrBusy
	}
	m.inFlight = true
	return nil
}

func (m *Machine) end() {
	m.mu.Lock()
	m.inFlight = false
	m.mu.Unlock()
}

// Snapshot reads and normalizes the current shared state.
func (m *Machine) Snapshot(ctx context.Context) (game.GameState, error) {
	raw, err := m.runner.Get(ctx, m.gamePath, remote.DefaultOptions())
	if err != nil {
		return game.GameState{}, err
	}
	return game.Normalize(raw), nil
}

// EnsureGame lazily creates the default lobby document when none exists.
func (m *Machine) EnsureGame(ctx context.Context) error {
	raw, err := m.runner.Get(ctx, m.gamePath, remote.DefaultOptions())
	if err != nil {
		return err
	}
	if raw != nil {
		return nil
	}
	return m.runner.Set(ctx, m.gamePath, game.Default(), remote.DefaultOptions())
}

// clearPlayerFields resets every player's per-question fields in-place in an
// update map.
func clearPlayerFields(gs game.GameState, children map[string]any) {
	for id := range gs.Players {
		children["players/"+id+"/currentAnswer"] = ""
		children["players/"+id+"/liveTyping"] = ""
		children["players/"+id+"/manuallyCorrectAnswers"] = 0
	}
}

// bulkOptions covers the broad multi-path transitions.
func bulkOptions() remote.Options {
	return remote.Options{Timeout: remote.BulkTimeout, Retries: remote.DefaultRetries}
}

// StartQuestion opens live answering. Valid from the lobby for a first start
// and re-entrant from any phase once a quiz is selected. Clears every
// player's answer, typing preview and override flag; persists a pending local
// quiz selection together with an index reset.
func (m *Machine) StartQuestion(ctx context.Context) error {
	if err := m.begin(); err != nil {
		return err
	}
	defer m.end()

	gs, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := gate(CmdStartQuestion, gs); err != nil {
		return err
	}

	m.mu.Lock()
	pending := m.pendingQuizID
	m.mu.Unlock()

	quizID := gs.SelectedQuizID
	if pending != "" {
		quizID = pending
	}
	if quizID == "" {
		return ErrNoQuizSelected
	}
	if _, err := m.quizzes.Get(ctx, quizID); err != nil {
		return err
	}

	children := map[string]any{
		"status":         string(game.StatusQuestionActive),
		"previousStatus": nil,
	}
	clearPlayerFields(gs, children)
	if pending != "" && pending != gs.SelectedQuizID {
		children["selectedQuizId"] = pending
		children["currentQuestionIndex"] = 0
	}

	if err := m.runner.Update(ctx, m.gamePath, children, bulkOptions()); err != nil {
		return err
	}
	m.mu.Lock()
	m.pendingQuizID = ""
	m.mu.Unlock()
	m.logger.Info().Str("quiz_id", quizID).Msg("question started")
	return nil
}

// RevealAnswer scores the current question and transitions to reveal. Each
// retry attempt re-reads the server-side player snapshot rather than reusing
// a cached copy, so scoring never runs against stale state. This is the most
// retry-critical transition: a failure here risks an un-scored question.
func (m *Machine) RevealAnswer(ctx context.Context) error {
	if err := m.begin(); err != nil {
		return err
	}
	defer m.end()

	gs, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := gate(CmdRevealAnswer, gs); err != nil {
		return err
	}
	if gs.SelectedQuizID == "" {
		return ErrNoQuizSelected
	}
	selected, err := m.quizzes.Get(ctx, gs.SelectedQuizID)
	if err != nil {
		return err
	}

	err = m.runner.Do(ctx, "reveal-answer", m.gamePath, remote.CriticalOptions(), func(ctx context.Context) error {
		raw, err := m.runner.Store().Get(ctx, m.gamePath)
		if err != nil {
			return err
		}
		fresh := game.Normalize(raw)

		question, ok := selected.QuestionAt(fresh.CurrentQuestionIndex)
		if !ok {
			return &PreconditionError{Command: CmdRevealAnswer, Status: fresh.Status, Reason: "question index out of range"}
		}

		children := map[string]any{
			"status":         string(game.StatusRevealAnswer),
			"previousStatus": nil,
		}
		for id, p := range fresh.Players {
			correct := scoring.IsCorrect(p.CurrentAnswer, question, p.ManuallyCorrect == 1)
			children["players/"+id+"/score"] = scoring.Award(p.Score, correct)
		}
		return m.runner.Store().Update(ctx, m.gamePath, children)
	})
	if err != nil {
		return err
	}
	m.logger.Info().Int("question", gs.CurrentQuestionIndex).Msg("answer revealed, scores written")
	return nil
}

// NextQuestion advances to the next question and reopens live answering.
// A no-op when already at the last question.
func (m *Machine) NextQuestion(ctx context.Context) error {
	return m.step(ctx, CmdNextQuestion)
}

// PreviousQuestion steps back one question. It always lands on the reveal
// phase, since going back re-shows the prior answer state, never reopens live
// answering. A no-op at index zero.
func (m *Machine) PreviousQuestion(ctx context.Context) error {
	return m.step(ctx, CmdPreviousQuestion)
}

func (m *Machine) step(ctx context.Context, cmd Command) error {
	if err := m.begin(); err != nil {
		return err
	}
	defer m.end()

	gs, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := gate(cmd, gs); err != nil {
		return err
	}
	if gs.SelectedQuizID == "" {
		return ErrNoQuizSelected
	}
	selected, err := m.quizzes.Get(ctx, gs.SelectedQuizID)
	if err != nil {
		return err
	}

	var nextIndex int
	var nextStatus game.Status
	switch cmd {
	case CmdNextQuestion:
		if gs.CurrentQuestionIndex+1 >= len(selected.Questions) {
			return &PreconditionError{Command: cmd, Status: gs.Status, Reason: "already at the last question"}
		}
		nextIndex = gs.CurrentQuestionIndex + 1
		nextStatus = game.StatusQuestionActive
	case CmdPreviousQuestion:
		if gs.CurrentQuestionIndex == 0 {
			return &PreconditionError{Command: cmd, Status: gs.Status, Reason: "already at the first question"}
		}
		nextIndex = gs.CurrentQuestionIndex - 1
		nextStatus = game.StatusRevealAnswer
	default:
		return &PreconditionError{Command: cmd, Status: gs.Status, Reason: "unknown step"}
	}

	children := map[string]any{
		"status":               string(nextStatus),
		"currentQuestionIndex": nextIndex,
		"previousStatus":       nil,
	}
	clearPlayerFields(gs, children)

	if err := m.runner.Update(ctx, m.gamePath, children, bulkOptions()); err != nil {
		return err
	}
	m.logger.Info().Str("command", string(cmd)).Int("question", nextIndex).Msg("question changed")
	return nil
}

// ShowLeaderboard records the phase being left so hide can restore it.
func (m *Machine) ShowLeaderboard(ctx context.Context) error {
	if err := m.begin(); err != nil {
		return err
	}
	defer m.end()

	gs, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := gate(CmdShowLeaderboard, gs); err != nil {
		return err
	}

	return m.runner.Update(ctx, m.gamePath, map[string]any{
		"status":         string(game.StatusLeaderboard),
		"previousStatus": string(gs.Status),
	}, remote.DefaultOptions())
}

// HideLeaderboard restores the phase recorded at show time, defaulting to
// reveal when the marker is absent.
func (m *Machine) HideLeaderboard(ctx context.Context) error {
	if err := m.begin(); err != nil {
		return err
	}
	defer m.end()

	gs, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := gate(CmdHideLeaderboard, gs); err != nil {
		return err
	}

	restore := gs.PreviousStatus
	if !restore.Valid() || restore == game.StatusLeaderboard {
		restore = game.StatusRevealAnswer
	}
	return m.runner.Update(ctx, m.gamePath, map[string]any{
		"status":         string(restore),
		"previousStatus": nil,
	}, remote.DefaultOptions())
}

// ResetGame replaces the whole document with the default lobby state. A full
// overwrite, not a merge, so stale fields cannot survive.
func (m *Machine) ResetGame(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	if err := m.begin(); err != nil {
		return err
	}
	defer m.end()

	if err := m.runner.Set(ctx, m.gamePath, game.Default(), bulkOptions()); err != nil {
		return err
	}
	m.mu.Lock()
	m.pendingQuizID = ""
	m.mu.Unlock()
	m.logger.Info().Msg("game reset to lobby")
	return nil
}

// OverrideAnswer marks a player's text answer as correct for scoring. The
// flag alone is written; scores are only ever recomputed inside reveal, so
// an override after reveal takes effect the next time reveal runs.
func (m *Machine) OverrideAnswer(ctx context.Context, playerID string) error {
	return m.setOverride(ctx, CmdOverrideAnswer, playerID, 1)
}

// ClearOverride removes the manual-correct flag.
func (m *Machine) ClearOverride(ctx context.Context, playerID string) error {
	return m.setOverride(ctx, CmdClearOverride, playerID, 0)
}

func (m *Machine) setOverride(ctx context.Context, cmd Command, playerID string, flag int) error {
	if err := m.begin(); err != nil {
		return err
	}
	defer m.end()

	gs, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := gate(cmd, gs); err != nil {
		return err
	}
	if gs.SelectedQuizID == "" {
		return ErrNoQuizSelected
	}
	selected, err := m.quizzes.Get(ctx, gs.SelectedQuizID)
	if err != nil {
		return err
	}
	question, ok := selected.QuestionAt(gs.CurrentQuestionIndex)
	if !ok {
		return &PreconditionError{Command: cmd, Status: gs.Status, Reason: "question index out of range"}
	}
	if question.Type != quiz.TypeText {
		return &PreconditionError{Command: cmd, Status: gs.Status, Reason: "overrides apply to text questions only"}
	}
	player, ok := gs.Players[playerID]
	if !ok {
		return &PreconditionError{Command: cmd, Status: gs.Status, Reason: "unknown player " + playerID}
	}
	if player.CurrentAnswer == "" {
		return &PreconditionError{Command: cmd, Status: gs.Status, Reason: "player has not submitted an answer"}
	}

	return m.runner.Update(ctx, m.gamePath, map[string]any{
		"players/" + playerID + "/manuallyCorrectAnswers": flag,
	}, remote.DefaultOptions())
}
