// Package game defines the shared game-state document and the normalizer
// that repairs raw store data before anything downstream trusts it.
package game

import (
	"sort"
)

// Status is the game phase.
type Status string

const (
	StatusLobby          Status = "lobby"
	StatusQuestionActive Status = "question_active"
	StatusRevealAnswer   Status = "reveal_answer"
	StatusLeaderboard    Status = "leaderboard"
)

// Valid reports whether s is one of the four phases.
func (s Status) Valid() bool {
	switch s {
	case StatusLobby, StatusQuestionActive, StatusRevealAnswer, StatusLeaderboard:
		return true
	}
	return false
}

// Player is one participant's record inside the shared document. Players own
// their CurrentAnswer/LiveTyping fields; the host owns Score and
// ManuallyCorrect during reveal and override transitions.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Score only decreases on an explicit game reset.
	Score int `json:"score"`

	// CurrentAnswer is the locked-in submission; empty means not submitted.
	CurrentAnswer string `json:"currentAnswer"`

	// LiveTyping is the best-effort preview of unsubmitted input.
	LiveTyping string `json:"liveTyping"`

	// ManuallyCorrect is the host override flag (0 or 1) treating an
	// otherwise-incorrect text answer as correct at scoring time.
	ManuallyCorrect int `json:"manuallyCorrectAnswers"`
}

// GameState is the single shared document, one instance per running game.
// Optional fields are omitted rather than stored as null sentinels; the store
// rejects explicit undefined values.
type GameState struct {
	Status               Status            `json:"status"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	Players              map[string]Player `json:"players,omitempty"`

	// PreviousStatus is set only while Status is leaderboard, recording the
	// phase to restore on hide-leaderboard.
	PreviousStatus Status `json:"previousStatus,omitempty"`

	// SelectedQuizID identifies the quiz in play; absent in the lobby until
	// the host starts the first question.
	SelectedQuizID string `json:"selectedQuizId,omitempty"`
}

// Default is the lobby state a fresh or reset game starts from.
func Default() GameState {
	return GameState{
		Status:               StatusLobby,
		CurrentQuestionIndex: 0,
		Players:              map[string]Player{},
	}
}

// Leaderboard returns players ordered by score descending, ties broken by
// name so the ordering is stable across snapshots.
func Leaderboard(gs GameState) []Player {
	out := make([]Player, 0, len(gs.Players))
	for _, p := range gs.Players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	return out
}
