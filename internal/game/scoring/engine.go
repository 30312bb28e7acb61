// Package scoring decides whether a submitted answer is correct and what it
// is worth. It is invoked only by the reveal-answer transition.
package scoring

import (
	"strconv"
	"strings"

	"github.com/quizlive/quizlive/internal/quiz"
)

// PointsPerCorrect is the fixed award for a correct answer.
const PointsPerCorrect = 100

// maxEditDistance is the typo tolerance for free-text answers.
const maxEditDistance = 1

// IsCorrect reports whether submitted answers question correctly.
//
// MCQ answers require exact (case-folded) equality; the options are
// constrained choices, so fuzziness would be meaningless. Text answers accept
// an exact match against any acceptable phrasing, or an edit distance of at
// most one for non-numeric submissions. Purely numeric submissions never get
// fuzzy credit: "56" must not match "156". The host's manual override flag
// forces a correct result regardless of the match outcome.
func IsCorrect(submitted string, question quiz.Question, manualOverride bool) bool {
	if manualOverride {
		return true
	}

	normalized := normalize(submitted)
	if normalized == "" {
		return false
	}

	if question.Type == quiz.TypeMCQ {
		for _, accept := range question.CorrectAnswers {
			if normalized == normalize(accept) {
				return true
			}
		}
		return false
	}

	fuzzyAllowed := !isNumeric(normalized)
	for _, accept := range question.CorrectAnswers {
		want := normalize(accept)
		if normalized == want {
			return true
		}
		if fuzzyAllowed && levenshtein(normalized, want) <= maxEditDistance {
			return true
		}
	}
	return false
}

// Award returns the player's new score. Correct answers add the fixed award;
// incorrect answers leave the score unchanged. Callers feed scores through
// game.CoerceScore first, so current is already finite and non-negative.
func Award(current int, correct bool) int {
	if current < 0 {
		current = 0
	}
	if !correct {
		return current
	}
	return current + PointsPerCorrect
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// levenshtein computes edit distance with the two-row dynamic programming
// form; answers are short so this stays tiny.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
