package quiz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizlive/quizlive/internal/store"
)

const (
	defaultTTL        = 5 * time.Minute
	defaultMaxEntries = 64
)

// Loader fetches quiz definitions from wherever content lives.
type Loader interface {
	Load(ctx context.Context, id string) (Quiz, error)
	LoadAll(ctx context.Context) ([]Quiz, error)
}

// Cache is an optional shared cache in front of the loader.
type Cache interface {
	Get(ctx context.Context, id string) (*Quiz, error)
	Set(ctx context.Context, q Quiz) error
}

// ServiceOptions tunes the content service.
type ServiceOptions struct {
	TTL        time.Duration
	MaxEntries int
}

// Service is the quiz content access object. It owns a bounded-TTL in-memory
// cache; there is no package-level state, the handle is passed through the
// component graph.
type Service struct {
	loader Loader
	cache  Cache
	logger zerolog.Logger
	ttl    time.Duration
	max    int

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	quiz    Quiz
	expires time.Time
}

// NewService builds a content service. cache may be nil; loader defaults to
// the built-in fallback quiz when nil.
func NewService(loader Loader, cache Cache, logger zerolog.Logger, opts ServiceOptions) *Service {
	if loader == nil {
		loader = NewStaticLoader(nil)
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	return &Service{
		loader:  loader,
		cache:   cache,
		logger:  logger.With().Str("component", "quiz").Logger(),
		ttl:     opts.TTL,
		max:     opts.MaxEntries,
		entries: map[string]cacheEntry{},
	}
}

// Get returns one quiz by id, consulting the memory cache, the shared cache,
// then the loader. A loader failure falls back to the built-in quiz when the
// id matches it, so a dead content database never blocks a running game.
func (s *Service) Get(ctx context.Context, id string) (Quiz, error) {
	if q, ok := s.fromMemory(id); ok {
		return q, nil
	}

	if s.cache != nil {
		q, err := s.cache.Get(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("quiz_id", id).Msg("shared cache read failed")
		} else if q != nil {
			s.remember(*q)
			return *q, nil
		}
	}

	q, err := s.loader.Load(ctx, id)
	if err != nil {
		if fb, ok := fallbackByID(id); ok {
			s.logger.Warn().Err(err).Str("quiz_id", id).Msg("loader failed, serving fallback quiz")
			return fb, nil
		}
		return Quiz{}, fmt.Errorf("load quiz %q: %w", id, err)
	}

	s.remember(q)
	if s.cache != nil {
		if err := s.cache.Set(ctx, q); err != nil {
			s.logger.Warn().Err(err).Str("quiz_id", id).Msg("shared cache write failed")
		}
	}
	return q, nil
}

// List returns all known quizzes, falling back to the built-in set when the
// loader is unavailable.
func (s *Service) List(ctx context.Context) ([]Quiz, error) {
	quizzes, err := s.loader.LoadAll(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("loader failed, listing fallback quizzes")
		return FallbackQuizzes(), nil
	}
	return quizzes, nil
}

func (s *Service) fromMemory(id string) (Quiz, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || time.Now().After(e.expires) {
		delete(s.entries, id)
		return Quiz{}, false
	}
	return e.quiz, true
}

func (s *Service) remember(q Quiz) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) >= s.max {
		// Bounded: evict the entry closest to expiry.
		var oldest string
		var when time.Time
		for id, e := range s.entries {
			if oldest == "" || e.expires.Before(when) {
				oldest, when = id, e.expires
			}
		}
		delete(s.entries, oldest)
	}
	s.entries[q.ID] = cacheEntry{quiz: q, expires: time.Now().Add(s.ttl)}
}

// StaticLoader serves a fixed in-memory quiz set; it backs tests and the
// no-database fallback path.
type StaticLoader struct {
	quizzes map[string]Quiz
}

// NewStaticLoader wraps the given set, defaulting to the built-in quizzes.
func NewStaticLoader(quizzes []Quiz) *StaticLoader {
	if quizzes == nil {
		quizzes = FallbackQuizzes()
	}
	byID := make(map[string]Quiz, len(quizzes))
	for _, q := range quizzes {
		byID[q.ID] = q
	}
	return &StaticLoader{quizzes: byID}
}

func (l *StaticLoader) Load(ctx context.Context, id string) (Quiz, error) {
	q, ok := l.quizzes[id]
	if !ok {
		return Quiz{}, fmt.Errorf("quiz %q: %w", id, store.ErrNotFound)
	}
	return q, nil
}

func (l *StaticLoader) LoadAll(ctx context.Context) ([]Quiz, error) {
	out := make([]Quiz, 0, len(l.quizzes))
	for _, q := range l.quizzes {
		out = append(out, q)
	}
	return out, nil
}

// DefaultQuizID is the id of the built-in fallback quiz.
const DefaultQuizID = "general-knowledge"

// FallbackQuizzes is the hardcoded content served when no database is
// configured or reachable.
func FallbackQuizzes() []Quiz {
	return []Quiz{
		{
			ID:          DefaultQuizID,
			Title:       "General Knowledge",
			Description: "A quick warm-up round.",
			Questions: []Question{
				{
					ID:             1,
					Text:           "Which planet is closest to the sun?",
					Type:           TypeMCQ,
					Options:        []string{"Mercury", "Venus", "Earth", "Mars"},
					CorrectAnswers: AnswerSet{"Mercury"},
				},
				{
					ID:             2,
					Text:           "What is the capital of France?",
					Type:           TypeText,
					CorrectAnswers: AnswerSet{"Paris"},
				},
				{
					ID:             3,
					Text:           "7 times 8?",
					Type:           TypeText,
					CorrectAnswers: AnswerSet{"56", "fifty-six"},
				},
			},
		},
	}
}

func fallbackByID(id string) (Quiz, bool) {
	for _, q := range FallbackQuizzes() {
		if q.ID == id {
			return q, true
		}
	}
	return Quiz{}, false
}
