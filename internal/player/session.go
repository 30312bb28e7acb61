// Package player implements the per-player session controller: identity
// bootstrap, live-typing broadcast, answer submission, and self-healing when
// the host resets the game out from under a connected player.
package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quizlive/quizlive/internal/game"
	"github.com/quizlive/quizlive/internal/remote"
)

const (
	minNameLen = 1
	maxNameLen = 20

	defaultDebounce = 300 * time.Millisecond
	defaultGrace    = 10 * time.Second

	joinRetries = 3
)

var (
	// ErrInvalidName rejects display names outside 1-20 characters.
	ErrInvalidName = errors.New("player: name must be 1-20 characters")

	// ErrEmptyAnswer rejects blank submissions before any remote work.
	ErrEmptyAnswer = errors.New("player: answer is empty")

	// ErrNotJoined rejects gameplay commands before a join.
	ErrNotJoined = errors.New("player: join with a name first")
)

// Options configures a Session.
type Options struct {
	GamePath string
	Debounce time.Duration

	// Grace is how long a named player may stay "connected but absent from
	// state" before the session concludes the host reset the game.
	Grace time.Duration

	// OnEvicted fires after local identity state is cleared by self-healing;
	// the caller routes the player back through name entry.
	OnEvicted func()

	// OnState observes every normalized snapshot.
	OnState func(game.GameState)

	// OnStreamError fires when the state stream fails terminally. No screen
	// can render without a valid stream, so callers treat this as blocking.
	OnStreamError func(err error)
}

// Session is one player's controller over the shared document.
type Session struct {
	runner *remote.Runner
	ids    IdentityStore
	logger zerolog.Logger
	opts   Options

	// ctx scopes background writes such as the debounced typing flush, so
	// nothing outlives Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	identity Identity
	seenSelf bool

	typingTimer *time.Timer
	pendingText string
	hasPending  bool
	lastState   game.GameState
	haveState   bool

	graceTimer *time.Timer
}

// NewSession loads (or lazily creates) the local identity and returns the
// controller. No remote I/O happens until Join or Watch.
func NewSession(runner *remote.Runner, ids IdentityStore, logger zerolog.Logger, opts Options) (*Session, error) {
	if opts.GamePath == "" {
		opts.GamePath = "games/main"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Grace <= 0 {
		opts.Grace = defaultGrace
	}

	identity, err := ids.Load()
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
		if err := ids.Save(identity); err != nil {
			return nil, fmt.Errorf("persist identity: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		runner:   runner,
		ids:      ids,
		logger:   logger.With().Str("component", "player").Str("player_id", identity.ID).Logger(),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		identity: identity,
	}, nil
}

// Close stops the session's background work. A typing preview still waiting
// out its debounce window is dropped rather than flushed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.hasPending = false
	s.mu.Unlock()
	s.cancel()
}

// Identity returns the current local identity.
func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) playerPath() string {
	return s.opts.GamePath + "/players/" + s.Identity().ID
}

// Join writes a fresh player record under the player's own subtree and
// persists the chosen name locally.
func (s *Session) Join(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if len(name) < minNameLen || len(name) > maxNameLen {
		return ErrInvalidName
	}

	id := s.Identity().ID
	record := game.Player{ID: id, Name: name}
	err := s.runner.Set(ctx, s.playerPath(), record, remote.Options{
		Timeout: remote.DefaultTimeout,
		Retries: joinRetries,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.identity.Name = name
	s.seenSelf = false
	identity := s.identity
	s.mu.Unlock()

	if err := s.ids.Save(identity); err != nil {
		return fmt.Errorf("persist identity: %w", err)
	}
	s.logger.Info().Str("name", name).Msg("joined game")
	return nil
}

// UpdateLiveTyping broadcasts the in-progress input preview. Writes are
// debounced, low priority and best effort: a failure is logged, never
// surfaced, the preview is cosmetic. Broadcasts stop once an answer is
// locked in or the question phase ends.
func (s *Session) UpdateLiveTyping(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity.Name == "" {
		return
	}
	if s.haveState {
		if s.lastState.Status != game.StatusQuestionActive {
			return
		}
		if p, ok := s.lastState.Players[s.identity.ID]; ok && p.CurrentAnswer != "" {
			return
		}
	}

	s.pendingText = text
	s.hasPending = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.opts.Debounce, s.flushTyping)
}

// FlushTyping sends any pending preview immediately. CLI one-shots call this
// before exiting instead of waiting out the debounce window.
func (s *Session) FlushTyping() {
	s.mu.Lock()
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()
	s.flushTyping()
}

func (s *Session) flushTyping() {
	if s.ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	if !s.hasPending {
		s.mu.Unlock()
		return
	}
	text := s.pendingText
	s.hasPending = false
	path := s.opts.GamePath + "/players/" + s.identity.ID + "/liveTyping"
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, remote.DefaultTimeout)
	defer cancel()
	if err := s.runner.Set(ctx, path, text, remote.BestEffortOptions()); err != nil {
		s.logger.Debug().Err(err).Msg("live typing broadcast failed")
	}
}

// SubmitAnswer locks in the trimmed answer and clears the typing preview in
// one atomic write. This is a critical operation: its failure is returned to
// the caller to surface as a blocking error, since a lost submission is data
// loss for the player.
func (s *Session) SubmitAnswer(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyAnswer
	}

	s.mu.Lock()
	if s.identity.Name == "" {
		s.mu.Unlock()
		return ErrNotJoined
	}
	// Drop any queued preview; the submit clears liveTyping itself.
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.hasPending = false
	id := s.identity.ID
	s.mu.Unlock()

	err := s.runner.Update(ctx, s.opts.GamePath, map[string]any{
		"players/" + id + "/currentAnswer": text,
		"players/" + id + "/liveTyping":    "",
	}, remote.CriticalOptions())
	if err != nil {
		return err
	}
	s.logger.Info().Msg("answer submitted")
	return nil
}

// Watch subscribes to the shared document and runs the self-healing check on
// every snapshot. The returned function cancels the watch.
func (s *Session) Watch(ctx context.Context) func() {
	return s.runner.Subscribe(ctx, s.opts.GamePath, remote.SubscribeHandlers{
		OnValue: func(raw any) { s.onSnapshot(raw) },
		OnError: func(err *remote.Error) {
			s.logger.Error().Err(err).Msg("game state stream failed")
			if s.opts.OnStreamError != nil {
				s.opts.OnStreamError(err)
			}
		},
		OnConnectionLost: func() {
			s.logger.Warn().Msg("game state stream lost, reconnecting")
		},
		OnConnectionRestored: func() {
			s.logger.Info().Msg("game state stream restored")
		},
	})
}

// onSnapshot applies one push update. A named player missing from the
// document means the host reset the game: if we had already been observed in
// state the eviction is immediate, otherwise a grace period covers the gap
// between a join write and its echo.
func (s *Session) onSnapshot(raw any) {
	gs := game.Normalize(raw)

	s.mu.Lock()
	s.lastState = gs
	s.haveState = true
	name := s.identity.Name
	id := s.identity.ID
	_, present := gs.Players[id]

	var evict bool
	switch {
	case name == "":
		// Not joined yet; nothing to heal.
	case present:
		s.seenSelf = true
		if s.graceTimer != nil {
			s.graceTimer.Stop()
			s.graceTimer = nil
		}
	case s.seenSelf:
		evict = true
	case s.graceTimer == nil:
		s.graceTimer = time.AfterFunc(s.opts.Grace, s.evictIfStillAbsent)
	}
	onState := s.opts.OnState
	s.mu.Unlock()

	if onState != nil {
		onState(gs)
	}
	if evict {
		s.evict()
	}
}

func (s *Session) evictIfStillAbsent() {
	s.mu.Lock()
	name := s.identity.Name
	_, present := s.lastState.Players[s.identity.ID]
	s.graceTimer = nil
	s.mu.Unlock()

	if name != "" && !present {
		s.evict()
	}
}

// evict clears all local identity state and routes the player back through
// name entry.
func (s *Session) evict() {
	s.mu.Lock()
	s.identity = Identity{ID: uuid.NewString()}
	s.seenSelf = false
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.hasPending = false
	identity := s.identity
	onEvicted := s.opts.OnEvicted
	s.mu.Unlock()

	if err := s.ids.Clear(); err != nil {
		s.logger.Warn().Err(err).Msg("clearing identity failed")
	}
	if err := s.ids.Save(identity); err != nil {
		s.logger.Warn().Err(err).Msg("persisting fresh identity failed")
	}
	s.logger.Info().Msg("host reset detected, local session cleared")
	if onEvicted != nil {
		onEvicted()
	}
}
