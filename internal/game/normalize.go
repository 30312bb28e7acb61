package game

import (
	"encoding/json"
	"math"
)

// Normalize repairs a raw snapshot read from the store into a structurally
// valid GameState. It tolerates a missing document, wrong-typed fields and
// malformed player records.
//
// Player repair policy: a record missing id or name is dropped; identity
// fields key every downstream operation and cannot be guessed. Records with
// other invalid fields are sanitized in place, since numeric and text fields
// have safe zero values.
func Normalize(raw any) GameState {
	gs := Default()

	doc, ok := raw.(map[string]any)
	if !ok {
		return gs
	}

	if s, ok := asString(doc["status"]); ok && Status(s).Valid() {
		gs.Status = Status(s)
	}
	if n, ok := asNumber(doc["currentQuestionIndex"]); ok && n >= 0 {
		gs.CurrentQuestionIndex = int(n)
	}
	if s, ok := asString(doc["previousStatus"]); ok && Status(s).Valid() {
		// Never synthesized; included only when present and valid.
		gs.PreviousStatus = Status(s)
	}
	if s, ok := asString(doc["selectedQuizId"]); ok && s != "" {
		gs.SelectedQuizID = s
	}

	players, _ := doc["players"].(map[string]any)
	for _, rawPlayer := range players {
		p, ok := normalizePlayer(rawPlayer)
		if !ok {
			continue
		}
		gs.Players[p.ID] = p
	}

	return gs
}

func normalizePlayer(raw any) (Player, bool) {
	rec, ok := raw.(map[string]any)
	if !ok {
		return Player{}, false
	}

	id, _ := asString(rec["id"])
	name, _ := asString(rec["name"])
	if id == "" || name == "" {
		// Unsalvageable: identity fields are load-bearing and the map key is
		// not trusted as a substitute for the record's own id.
		return Player{}, false
	}

	p := Player{ID: id, Name: name}
	p.Score = CoerceScore(rec["score"])
	if s, ok := asString(rec["currentAnswer"]); ok {
		p.CurrentAnswer = s
	}
	if s, ok := asString(rec["liveTyping"]); ok {
		p.LiveTyping = s
	}
	if n, ok := asNumber(rec["manuallyCorrectAnswers"]); ok && n == 1 {
		p.ManuallyCorrect = 1
	}
	return p, true
}

// CoerceScore forces any stored score value into a finite non-negative int.
func CoerceScore(v any) int {
	n, ok := asNumber(v)
	if !ok || n < 0 {
		return 0
	}
	return int(n)
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
