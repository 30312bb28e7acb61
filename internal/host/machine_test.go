package host

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizlive/quizlive/internal/game"
	"github.com/quizlive/quizlive/internal/quiz"
	"github.com/quizlive/quizlive/internal/remote"
	"github.com/quizlive/quizlive/internal/store"
)

const gamePath = "games/main"

func newTestMachine(t *testing.T, st store.Store) *Machine {
	t.Helper()
	runner := remote.NewRunner(st, zerolog.Nop(), nil, remote.WithBackoffBase(time.Millisecond))
	quizzes := quiz.NewService(nil, nil, zerolog.Nop(), quiz.ServiceOptions{})
	return NewMachine(runner, quizzes, zerolog.Nop(), Options{GamePath: gamePath})
}

func seed(t *testing.T, st store.Store, gs game.GameState) {
	t.Helper()
	require.NoError(t, st.Set(context.Background(), gamePath, gs))
}

func snap(t *testing.T, st store.Store) game.GameState {
	t.Helper()
	raw, err := st.Get(context.Background(), gamePath)
	require.NoError(t, err)
	return game.Normalize(raw)
}

func activeState(index int, players map[string]game.Player) game.GameState {
	return game.GameState{
		Status:               game.StatusQuestionActive,
		CurrentQuestionIndex: index,
		SelectedQuizID:       quiz.DefaultQuizID,
		Players:              players,
	}
}

func TestTransitionTable(t *testing.T) {
	all := []game.Status{game.StatusLobby, game.StatusQuestionActive, game.StatusRevealAnswer, game.StatusLeaderboard}

	cases := []struct {
		cmd     Command
		allowed map[game.Status]bool
	}{
		{CmdStartQuestion, map[game.Status]bool{game.StatusLobby: true, game.StatusQuestionActive: true, game.StatusRevealAnswer: true, game.StatusLeaderboard: true}},
		{CmdRevealAnswer, map[game.Status]bool{game.StatusQuestionActive: true}},
		{CmdNextQuestion, map[game.Status]bool{game.StatusRevealAnswer: true, game.StatusLeaderboard: true}},
		{CmdPreviousQuestion, map[game.Status]bool{game.StatusRevealAnswer: true, game.StatusLeaderboard: true}},
		{CmdShowLeaderboard, map[game.Status]bool{game.StatusLobby: true, game.StatusQuestionActive: true, game.StatusRevealAnswer: true}},
		{CmdHideLeaderboard, map[game.Status]bool{game.StatusLeaderboard: true}},
		{CmdResetGame, map[game.Status]bool{game.StatusLobby: true, game.StatusQuestionActive: true, game.StatusRevealAnswer: true, game.StatusLeaderboard: true}},
		{CmdOverrideAnswer, map[game.Status]bool{game.StatusQuestionActive: true, game.StatusRevealAnswer: true, game.StatusLeaderboard: true}},
		{CmdClearOverride, map[game.Status]bool{game.StatusQuestionActive: true, game.StatusRevealAnswer: true, game.StatusLeaderboard: true}},
	}
	for _, tc := range cases {
		for _, st := range all {
			assert.Equal(t, tc.allowed[st], Allowed(tc.cmd, st), "%s from %s", tc.cmd, st)
		}
	}
	assert.False(t, Allowed(Command("bogus"), game.StatusLobby))
}

func TestStartQuestionRequiresQuiz(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	seed(t, ms, game.Default())

	err := m.StartQuestion(context.Background())
	assert.ErrorIs(t, err, ErrNoQuizSelected)
}

func TestStartQuestionPersistsSelectionAndClearsPlayers(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	seed(t, ms, game.GameState{
		Status: game.StatusLobby,
		Players: map[string]game.Player{
			"p1": {ID: "p1", Name: "alice", Score: 100, CurrentAnswer: "old", LiveTyping: "ol", ManuallyCorrect: 1},
		},
	})

	m.SelectQuiz(quiz.DefaultQuizID)
	require.NoError(t, m.StartQuestion(context.Background()))

	gs := snap(t, ms)
	assert.Equal(t, game.StatusQuestionActive, gs.Status)
	assert.Equal(t, quiz.DefaultQuizID, gs.SelectedQuizID)
	assert.Zero(t, gs.CurrentQuestionIndex)
	assert.Empty(t, gs.PreviousStatus)

	p := gs.Players["p1"]
	assert.Empty(t, p.CurrentAnswer)
	assert.Empty(t, p.LiveTyping)
	assert.Zero(t, p.ManuallyCorrect)
	assert.Equal(t, 100, p.Score, "scores survive a new question")
}

func TestRevealAnswerOnlyFromActiveQuestion(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	seed(t, ms, game.Default())

	err := m.RevealAnswer(context.Background())
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, CmdRevealAnswer, pre.Command)
}

func TestRevealAnswerScoresAllPlayers(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	// Question 0 of the fallback quiz: MCQ, correct answer "Mercury".
	seed(t, ms, activeState(0, map[string]game.Player{
		"alice": {ID: "alice", Name: "Alice", CurrentAnswer: "Mercury"},
		"bob":   {ID: "bob", Name: "Bob", CurrentAnswer: "Venus"},
	}))

	require.NoError(t, m.RevealAnswer(context.Background()))

	gs := snap(t, ms)
	assert.Equal(t, game.StatusRevealAnswer, gs.Status)
	assert.Empty(t, gs.PreviousStatus)
	assert.Equal(t, 100, gs.Players["alice"].Score)
	assert.Zero(t, gs.Players["bob"].Score)
}

func TestRevealAnswerHonorsManualOverride(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	// Question 1: text, correct answer "Paris".
	seed(t, ms, activeState(1, map[string]game.Player{
		"carol": {ID: "carol", Name: "Carol", CurrentAnswer: "the city of light", ManuallyCorrect: 1},
		"dave":  {ID: "dave", Name: "Dave", CurrentAnswer: "london"},
	}))

	require.NoError(t, m.RevealAnswer(context.Background()))

	gs := snap(t, ms)
	assert.Equal(t, 100, gs.Players["carol"].Score)
	assert.Zero(t, gs.Players["dave"].Score)
}

func TestRevealAnswerReadsFreshSnapshot(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	seed(t, ms, activeState(0, map[string]game.Player{
		"alice": {ID: "alice", Name: "Alice"},
	}))

	// A submission lands after the host's validation read; the scoring write
	// must still see it because each attempt re-reads the server snapshot.
	require.NoError(t, ms.Set(context.Background(), gamePath+"/players/alice/currentAnswer", "mercury"))

	require.NoError(t, m.RevealAnswer(context.Background()))
	assert.Equal(t, 100, snap(t, ms).Players["alice"].Score)
}

func TestNextQuestionAdvancesAndClears(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	gs := activeState(0, map[string]game.Player{
		"p1": {ID: "p1", Name: "alice", Score: 100, CurrentAnswer: "Mercury", ManuallyCorrect: 1},
	})
	gs.Status = game.StatusRevealAnswer
	seed(t, ms, gs)

	require.NoError(t, m.NextQuestion(context.Background()))

	got := snap(t, ms)
	assert.Equal(t, game.StatusQuestionActive, got.Status)
	assert.Equal(t, 1, got.CurrentQuestionIndex)
	assert.Empty(t, got.Players["p1"].CurrentAnswer)
	assert.Zero(t, got.Players["p1"].ManuallyCorrect)
}

func TestNextQuestionAtLastIndexIsNoOp(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	gs := activeState(2, nil) // last question of the 3-question fallback quiz
	gs.Status = game.StatusRevealAnswer
	seed(t, ms, gs)

	err := m.NextQuestion(context.Background())
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)

	got := snap(t, ms)
	assert.Equal(t, game.StatusRevealAnswer, got.Status, "no write occurred")
	assert.Equal(t, 2, got.CurrentQuestionIndex)
}

func TestPreviousQuestionLandsOnReveal(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	gs := activeState(1, nil)
	gs.Status = game.StatusLeaderboard
	gs.PreviousStatus = game.StatusRevealAnswer
	seed(t, ms, gs)

	require.NoError(t, m.PreviousQuestion(context.Background()))

	got := snap(t, ms)
	assert.Equal(t, game.StatusRevealAnswer, got.Status, "going back re-shows the answer, never reopens answering")
	assert.Zero(t, got.CurrentQuestionIndex)
	assert.Empty(t, got.PreviousStatus)
}

func TestPreviousQuestionAtZeroIsNoOp(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	gs := activeState(0, nil)
	gs.Status = game.StatusRevealAnswer
	seed(t, ms, gs)

	err := m.PreviousQuestion(context.Background())
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Zero(t, snap(t, ms).CurrentQuestionIndex)
}

func TestLeaderboardToggleRestoresEveryStatus(t *testing.T) {
	for _, status := range []game.Status{game.StatusLobby, game.StatusQuestionActive, game.StatusRevealAnswer} {
		t.Run(string(status), func(t *testing.T) {
			ms := store.NewMemoryStore()
			m := newTestMachine(t, ms)
			gs := activeState(0, nil)
			gs.Status = status
			seed(t, ms, gs)

			require.NoError(t, m.ShowLeaderboard(context.Background()))
			mid := snap(t, ms)
			assert.Equal(t, game.StatusLeaderboard, mid.Status)
			assert.Equal(t, status, mid.PreviousStatus)

			require.NoError(t, m.HideLeaderboard(context.Background()))
			final := snap(t, ms)
			assert.Equal(t, status, final.Status)
			assert.Empty(t, final.PreviousStatus)
		})
	}
}

func TestHideLeaderboardDefaultsToReveal(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	gs := activeState(0, nil)
	gs.Status = game.StatusLeaderboard
	gs.PreviousStatus = ""
	seed(t, ms, gs)

	require.NoError(t, m.HideLeaderboard(context.Background()))
	assert.Equal(t, game.StatusRevealAnswer, snap(t, ms).Status)
}

func TestResetGameRequiresConfirmation(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	seed(t, ms, activeState(2, map[string]game.Player{"p1": {ID: "p1", Name: "alice", Score: 300}}))

	err := m.ResetGame(context.Background(), false)
	assert.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Equal(t, 2, snap(t, ms).CurrentQuestionIndex, "no write without confirmation")

	require.NoError(t, m.ResetGame(context.Background(), true))
	gs := snap(t, ms)
	assert.Equal(t, game.StatusLobby, gs.Status)
	assert.Zero(t, gs.CurrentQuestionIndex)
	assert.Empty(t, gs.Players)
	assert.Empty(t, gs.SelectedQuizID, "full overwrite, stale fields gone")
}

func TestOverridePreconditions(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)

	// MCQ question: overrides rejected.
	seed(t, ms, activeState(0, map[string]game.Player{
		"p1": {ID: "p1", Name: "alice", CurrentAnswer: "Venus"},
	}))
	var pre *PreconditionError
	require.ErrorAs(t, m.OverrideAnswer(context.Background(), "p1"), &pre)

	// Text question but no submitted answer.
	seed(t, ms, activeState(1, map[string]game.Player{
		"p1": {ID: "p1", Name: "alice"},
	}))
	require.ErrorAs(t, m.OverrideAnswer(context.Background(), "p1"), &pre)

	// Unknown player.
	require.ErrorAs(t, m.OverrideAnswer(context.Background(), "ghost"), &pre)
}

func TestOverrideSetsAndClearsFlagOnly(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	seed(t, ms, activeState(1, map[string]game.Player{
		"p1": {ID: "p1", Name: "alice", CurrentAnswer: "city of light", Score: 40},
	}))

	require.NoError(t, m.OverrideAnswer(context.Background(), "p1"))
	gs := snap(t, ms)
	assert.Equal(t, 1, gs.Players["p1"].ManuallyCorrect)
	assert.Equal(t, 40, gs.Players["p1"].Score, "override never recomputes score directly")
	assert.Equal(t, "city of light", gs.Players["p1"].CurrentAnswer)

	require.NoError(t, m.ClearOverride(context.Background(), "p1"))
	assert.Zero(t, snap(t, ms).Players["p1"].ManuallyCorrect)
}

type blockingStore struct {
	*store.MemoryStore
	gate    chan struct{}
	blocked chan struct{}
	once    bool
}

func (b *blockingStore) Get(ctx context.Context, path string) (any, error) {
	if !b.once {
		b.once = true
		close(b.blocked)
		<-b.gate
	}
	return b.MemoryStore.Get(ctx, path)
}

func TestConcurrentTransitionRejected(t *testing.T) {
	bs := &blockingStore{
		MemoryStore: store.NewMemoryStore(),
		gate:        make(chan struct{}),
		blocked:     make(chan struct{}),
	}
	m := newTestMachine(t, bs)
	seed(t, bs, activeState(0, nil))

	done := make(chan error, 1)
	go func() { done <- m.ShowLeaderboard(context.Background()) }()

	<-bs.blocked
	err := m.ResetGame(context.Background(), true)
	assert.ErrorIs(t, err, ErrBusy)

	close(bs.gate)
	require.NoError(t, <-done)
}

func TestEnsureGameCreatesDefaultOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)

	require.NoError(t, m.EnsureGame(context.Background()))
	gs := snap(t, ms)
	assert.Equal(t, game.StatusLobby, gs.Status)

	// A second call must not clobber live state.
	seed(t, ms, activeState(1, nil))
	require.NoError(t, m.EnsureGame(context.Background()))
	assert.Equal(t, 1, snap(t, ms).CurrentQuestionIndex)
}

func TestEndToEndScenario(t *testing.T) {
	ms := store.NewMemoryStore()
	m := newTestMachine(t, ms)
	ctx := context.Background()

	require.NoError(t, m.EnsureGame(ctx))

	// Two players join.
	for _, p := range []game.Player{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob"},
	} {
		require.NoError(t, ms.Set(ctx, gamePath+"/players/"+p.ID, p))
	}

	// Host starts question 1 (MCQ, correct "Mercury").
	m.SelectQuiz(quiz.DefaultQuizID)
	require.NoError(t, m.StartQuestion(ctx))

	// Players answer.
	require.NoError(t, ms.Set(ctx, gamePath+"/players/alice/currentAnswer", "Mercury"))
	require.NoError(t, ms.Set(ctx, gamePath+"/players/bob/currentAnswer", "Venus"))

	require.NoError(t, m.RevealAnswer(ctx))
	gs := snap(t, ms)
	assert.Equal(t, game.StatusRevealAnswer, gs.Status)
	assert.Equal(t, 100, gs.Players["alice"].Score)
	assert.Zero(t, gs.Players["bob"].Score)

	require.NoError(t, m.ShowLeaderboard(ctx))
	gs = snap(t, ms)
	assert.Equal(t, game.StatusLeaderboard, gs.Status)
	assert.Equal(t, game.StatusRevealAnswer, gs.PreviousStatus)

	lb := game.Leaderboard(gs)
	require.Len(t, lb, 2)
	assert.Equal(t, "Alice", lb[0].Name)
	assert.Equal(t, 100, lb[0].Score)
	assert.Equal(t, "Bob", lb[1].Name)

	require.NoError(t, m.HideLeaderboard(ctx))
	gs = snap(t, ms)
	assert.Equal(t, game.StatusRevealAnswer, gs.Status)
	assert.Empty(t, gs.PreviousStatus)
}
