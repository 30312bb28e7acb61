// Package remote wraps every store read, write and subscription with
// timeouts, classified retries and observer hooks. Everything above the store
// goes through this layer; nothing above it sees a raw store error.
package remote

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/quizlive/quizlive/internal/metrics"
	"github.com/quizlive/quizlive/internal/store"
)

const (
	// DefaultTimeout bounds point operations.
	DefaultTimeout = 10 * time.Second

	// BulkTimeout bounds deliberately long-running multi-path transitions.
	BulkTimeout = 15 * time.Second

	// DefaultRetries is the standard retry budget.
	DefaultRetries = 3

	// CriticalRetries is the budget for mutations whose loss would un-score a
	// question or drop a player's answer.
	CriticalRetries = 5

	defaultBackoffBase = time.Second
	resubscribeMaxWait = 30 * time.Second
)

// Options tunes a single operation.
type Options struct {
	Timeout time.Duration
	Retries int

	// OnRetry fires before each backoff sleep with the 1-based attempt number
	// that just failed.
	OnRetry func(attempt int, err *Error)

	// OnError fires exactly once when the operation is abandoned.
	OnError func(err *Error)
}

// DefaultOptions is the budget for ordinary reads and writes.
func DefaultOptions() Options {
	return Options{Timeout: DefaultTimeout, Retries: DefaultRetries}
}

// CriticalOptions is the budget for answer submission and reveal-answer.
func CriticalOptions() Options {
	return Options{Timeout: BulkTimeout, Retries: CriticalRetries}
}

// BestEffortOptions is the budget for cosmetic writes (live typing).
func BestEffortOptions() Options {
	return Options{Timeout: 5 * time.Second, Retries: 2}
}

// Runner executes store operations under the retry policy.
type Runner struct {
	store   store.Store
	logger  zerolog.Logger
	metrics *metrics.Metrics
	base    time.Duration
}

// RunnerOption adjusts runner construction.
type RunnerOption func(*Runner)

// WithBackoffBase overrides the first backoff delay. Tests shrink it.
func WithBackoffBase(d time.Duration) RunnerOption {
	return func(r *Runner) { r.base = d }
}

// NewRunner wraps a store. metrics may be nil.
func NewRunner(st store.Store, logger zerolog.Logger, m *metrics.Metrics, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:   st,
		logger:  logger.With().Str("component", "remote").Logger(),
		metrics: m,
		base:    defaultBackoffBase,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store exposes the wrapped store for callers that compose their own
// per-attempt work (the reveal transition re-reads inside each attempt).
func (r *Runner) Store() store.Store { return r.store }

// Do runs fn under the operation's timeout and retry budget. Each attempt
// gets a fresh timeout context; only retryable classifications consume the
// budget, everything else fails after one classification pass. Backoff is
// exponential from the base delay (base * 2^attempt).
func (r *Runner) Do(ctx context.Context, op, path string, opts Options, fn func(ctx context.Context) error) error {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(opts.Retries), retry.NewExponential(r.base))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r.metrics.Attempt(op)
		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}

		werr := wrap(op, path, err)
		if !werr.Code.Retryable() {
			return werr
		}
		if attempt < opts.Retries {
			r.metrics.Retry(op, string(werr.Code))
			r.logger.Warn().Str("op", op).Str("path", path).Str("code", string(werr.Code)).
				Int("attempt", attempt+1).Msg("retrying remote operation")
			if opts.OnRetry != nil {
				opts.OnRetry(attempt+1, werr)
			}
		}
		attempt++
		return retry.RetryableError(werr)
	})
	if err == nil {
		return nil
	}

	werr := wrap(op, path, err)
	r.metrics.Failure(op, string(werr.Code))
	r.logger.Error().Str("op", op).Str("path", path).Str("code", string(werr.Code)).
		Int("attempts", attempt+1).Err(werr.Err).Msg("remote operation abandoned")
	if opts.OnError != nil {
		opts.OnError(werr)
	}
	return werr
}

// Get reads path under the retry policy.
func (r *Runner) Get(ctx context.Context, path string, opts Options) (any, error) {
	var out any
	err := r.Do(ctx, "get", path, opts, func(ctx context.Context) error {
		v, err := r.store.Get(ctx, path)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Set writes path under the retry policy.
func (r *Runner) Set(ctx context.Context, path string, value any, opts Options) error {
	return r.Do(ctx, "set", path, opts, func(ctx context.Context) error {
		return r.store.Set(ctx, path, value)
	})
}

// Update atomically applies children under the retry policy.
func (r *Runner) Update(ctx context.Context, path string, children map[string]any, opts Options) error {
	return r.Do(ctx, "update", path, opts, func(ctx context.Context) error {
		return r.store.Update(ctx, path, children)
	})
}

// Remove deletes path under the retry policy.
func (r *Runner) Remove(ctx context.Context, path string, opts Options) error {
	return r.Do(ctx, "remove", path, opts, func(ctx context.Context) error {
		return r.store.Remove(ctx, path)
	})
}

// SubscribeHandlers carries the callbacks for a resilient subscription.
type SubscribeHandlers struct {
	OnValue store.ValueFunc

	// OnError fires for terminal setup failures (invalid path); stream errors
	// are absorbed by resubscription instead.
	OnError func(err *Error)

	// OnConnectionLost / OnConnectionRestored fire at most once per
	// transition, around stream failures and successful resubscribes.
	OnConnectionLost     func()
	OnConnectionRestored func()
}

// Subscribe opens a long-lived subscription that re-subscribes automatically
// with exponential backoff when the underlying stream errors. The returned
// function cancels it. Subscriptions carry no timeout.
func (r *Runner) Subscribe(ctx context.Context, path string, h SubscribeHandlers) func() {
	ctx, cancel := context.WithCancel(ctx)
	go r.subscribeLoop(ctx, path, h)
	return cancel
}

func (r *Runner) subscribeLoop(ctx context.Context, path string, h SubscribeHandlers) {
	lost := false
	delay := r.base

	for ctx.Err() == nil {
		streamErr := make(chan error, 1)
		unsub, err := r.store.Subscribe(ctx, path, h.OnValue, func(err error) {
			select {
			case streamErr <- err:
			default:
			}
		})
		if err == nil {
			if lost {
				lost = false
				if h.OnConnectionRestored != nil {
					h.OnConnectionRestored()
				}
			}
			delay = r.base

			select {
			case <-ctx.Done():
				unsub()
				return
			case err = <-streamErr:
				unsub()
			}
		}

		werr := wrap("subscribe", path, err)
		if !werr.Code.Retryable() && werr.Code != CodeConnectionLost {
			r.metrics.Failure("subscribe", string(werr.Code))
			if h.OnError != nil {
				h.OnError(werr)
			}
			return
		}

		if !lost {
			lost = true
			if h.OnConnectionLost != nil {
				h.OnConnectionLost()
			}
		}
		r.metrics.Retry("subscribe", string(werr.Code))
		r.logger.Warn().Str("path", path).Str("code", string(werr.Code)).
			Dur("backoff", delay).Msg("subscription interrupted, resubscribing")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > resubscribeMaxWait {
			delay = resubscribeMaxWait
		}
	}
}
