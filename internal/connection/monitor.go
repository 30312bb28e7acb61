// Package connection supervises store health: connectivity transitions,
// round-trip quality, the retry ladder for a broken connection, and the
// ephemeral presence marker.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quizlive/quizlive/internal/metrics"
	"github.com/quizlive/quizlive/internal/remote"
)

// Quality classifies the round-trip probe latency.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
	QualityOffline   Quality = "offline"
)

const (
	excellentBelow = 500 * time.Millisecond
	goodBelow      = 1500 * time.Millisecond

	probeTimeout    = 3 * time.Second
	probeInterval   = 15 * time.Second
	defaultPresTTL  = 30 * time.Second
	maxRetryAttempt = 5
)

// RetryDelays is the reconnect ladder; attempts past the end reuse the last
// entry.
var RetryDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// State is the monitor's published view of the connection.
type State struct {
	IsConnected     bool
	IsOnline        bool
	LastConnectedAt time.Time
	Quality         Quality

	// Err holds the failure the retry ladder is working on, nil when healthy.
	Err *remote.Error

	// RetryAttempt counts ladder attempts so far, for "reconnecting (n/5)".
	RetryAttempt int
}

// Options configures a Monitor.
type Options struct {
	// ProbePath is the lightweight path timed by the quality probe.
	ProbePath string

	// PresencePath is the prefix presence markers are written under.
	PresencePath string

	PresenceTTL time.Duration

	// ClientID identifies this process's presence marker; generated when empty.
	ClientID string

	// ConfigError, when non-nil, marks the deployment as misconfigured:
	// probing and retries are suppressed entirely since no amount of retrying
	// recovers a bad config.
	ConfigError error

	// OnChange observes every published state transition.
	OnChange func(State)

	// RetryDelays overrides the ladder. Tests shrink it.
	RetryDelays []time.Duration
}

// Monitor tracks connectivity and drives presence registration.
type Monitor struct {
	runner  *remote.Runner
	logger  zerolog.Logger
	metrics *metrics.Metrics
	opts    Options

	mu         sync.Mutex
	state      State
	retryTimer *time.Timer

	heartbeatCancel context.CancelFunc
}

// NewMonitor builds a monitor. A configuration error is latched immediately
// as an invalid-config state.
func NewMonitor(runner *remote.Runner, logger zerolog.Logger, m *metrics.Metrics, opts Options) *Monitor {
	if opts.ProbePath == "" {
		opts.ProbePath = "sys/health"
	}
	if opts.PresencePath == "" {
		opts.PresencePath = "presence"
	}
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = defaultPresTTL
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if len(opts.RetryDelays) == 0 {
		opts.RetryDelays = RetryDelays
	}

	mon := &Monitor{
		runner:  runner,
		logger:  logger.With().Str("component", "connection").Logger(),
		metrics: m,
		opts:    opts,
		state:   State{Quality: QualityOffline},
	}
	if opts.ConfigError != nil {
		mon.state.Err = &remote.Error{Code: remote.CodeInvalidConfig, Op: "configure", Err: opts.ConfigError}
	}
	return mon
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run watches the store connectivity signal and probes quality periodically
// until ctx ends. It is a no-op under a configuration error.
func (m *Monitor) Run(ctx context.Context) error {
	if m.configured() != nil {
		m.logger.Error().Err(m.configured()).Msg("configuration invalid; connectivity monitoring disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	unsub, err := m.runner.Store().Connected(ctx, func(connected bool) {
		m.onConnectivity(ctx, connected)
	})
	if err != nil {
		return err
	}
	defer unsub()

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.stopHeartbeat()
			m.cancelRetry()
			return ctx.Err()
		case <-ticker.C:
			if m.State().IsConnected {
				m.Probe(ctx)
			}
		}
	}
}

func (m *Monitor) configured() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Err != nil && m.state.Err.Code == remote.CodeInvalidConfig {
		return m.state.Err
	}
	return nil
}

func (m *Monitor) onConnectivity(ctx context.Context, connected bool) {
	m.mu.Lock()
	m.state.IsConnected = connected
	if connected {
		m.state.LastConnectedAt = time.Now()
	} else {
		m.state.Quality = QualityOffline
	}
	snapshot := m.state
	m.mu.Unlock()
	m.publish(snapshot)

	if connected {
		m.startHeartbeat(ctx)
		m.Probe(ctx)
	} else {
		m.stopHeartbeat()
	}
}

// Probe times one lightweight round trip and derives quality from it.
// Returns the updated state.
func (m *Monitor) Probe(ctx context.Context) State {
	if err := m.configured(); err != nil {
		return m.State()
	}

	start := time.Now()
	_, err := m.runner.Get(ctx, m.opts.ProbePath, remote.Options{Timeout: probeTimeout, Retries: 0})
	rtt := time.Since(start)

	m.mu.Lock()
	if err != nil {
		code := remote.CodeOf(err)
		m.state.Quality = QualityOffline
		if code.NetworkClass() {
			m.state.IsOnline = false
		}
		if werr, ok := err.(*remote.Error); ok {
			m.state.Err = werr
		}
	} else {
		m.state.IsOnline = true
		m.state.LastConnectedAt = time.Now()
		switch {
		case rtt < excellentBelow:
			m.state.Quality = QualityExcellent
		case rtt < goodBelow:
			m.state.Quality = QualityGood
		default:
			m.state.Quality = QualityPoor
		}
	}
	snapshot := m.state
	m.mu.Unlock()

	m.metrics.SetQuality(qualityLevel(snapshot.Quality))
	m.publish(snapshot)
	return snapshot
}

// RetryConnection sleeps the ladder delay for the current attempt, re-probes,
// and either clears the error state or re-arms itself, up to five attempts.
func (m *Monitor) RetryConnection(ctx context.Context) {
	if m.configured() != nil {
		return
	}

	m.mu.Lock()
	attempt := m.state.RetryAttempt
	if attempt >= maxRetryAttempt {
		m.mu.Unlock()
		return
	}
	idx := attempt
	if idx >= len(m.opts.RetryDelays) {
		idx = len(m.opts.RetryDelays) - 1
	}
	delay := m.opts.RetryDelays[idx]
	m.cancelRetryLocked()
	m.retryTimer = time.AfterFunc(delay, func() {
		state := m.Probe(ctx)
		if state.Quality != QualityOffline {
			m.ClearError()
			return
		}
		m.mu.Lock()
		m.state.RetryAttempt++
		again := m.state.RetryAttempt < maxRetryAttempt
		snapshot := m.state
		m.mu.Unlock()
		m.publish(snapshot)
		if again {
			m.RetryConnection(ctx)
		} else {
			m.logger.Error().Int("attempts", maxRetryAttempt).Msg("reconnect ladder exhausted")
		}
	})
	m.mu.Unlock()

	m.logger.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("scheduling reconnect probe")
}

// ClearError resets error state and cancels any pending retry.
func (m *Monitor) ClearError() {
	m.mu.Lock()
	if m.state.Err != nil && m.state.Err.Code == remote.CodeInvalidConfig {
		m.mu.Unlock()
		return
	}
	m.cancelRetryLocked()
	m.state.Err = nil
	m.state.RetryAttempt = 0
	snapshot := m.state
	m.mu.Unlock()
	m.publish(snapshot)
}

func (m *Monitor) cancelRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelRetryLocked()
}

func (m *Monitor) cancelRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// startHeartbeat registers the presence marker and keeps refreshing it while
// connected. The store expires the marker on its own once refreshes stop, so
// a dropped connection needs no explicit cleanup.
func (m *Monitor) startHeartbeat(ctx context.Context) {
	m.mu.Lock()
	if m.heartbeatCancel != nil {
		m.mu.Unlock()
		return
	}
	hbCtx, cancel := context.WithCancel(ctx)
	m.heartbeatCancel = cancel
	m.mu.Unlock()

	path := m.opts.PresencePath + "/" + m.opts.ClientID
	ttl := m.opts.PresenceTTL
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		touch := func() {
			tctx, tcancel := context.WithTimeout(hbCtx, probeTimeout)
			defer tcancel()
			err := m.runner.Store().Touch(tctx, path, map[string]any{
				"online":   true,
				"lastSeen": time.Now().UTC().Format(time.RFC3339),
			}, ttl)
			if err != nil {
				m.logger.Warn().Err(err).Str("path", path).Msg("presence refresh failed")
			}
		}
		touch()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				touch()
			}
		}
	}()
}

func (m *Monitor) stopHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.heartbeatCancel != nil {
		m.heartbeatCancel()
		m.heartbeatCancel = nil
	}
}

func (m *Monitor) publish(s State) {
	if m.opts.OnChange != nil {
		m.opts.OnChange(s)
	}
}

func qualityLevel(q Quality) float64 {
	switch q {
	case QualityExcellent:
		return 3
	case QualityGood:
		return 2
	case QualityPoor:
		return 1
	default:
		return 0
	}
}
