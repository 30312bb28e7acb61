package app

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizlive/quizlive/internal/config"
	"github.com/quizlive/quizlive/internal/remote"
)

func TestNewLatchesConfigError(t *testing.T) {
	cfg := &config.App{
		Name:                    "quizlive",
		Env:                     "test",
		HTTPAddr:                "127.0.0.1:0",
		LogLevel:                "error",
		GracefulShutdownTimeout: time.Second,
		Store: config.Store{
			Backend:     "redis",
			GamePath:    "games/main",
			ProbePath:   "sys/health",
			PresenceTTL: 30 * time.Second,
		},
	}
	cfgErr := cfg.Validate()
	require.Error(t, cfgErr, "redis backend without an address is invalid")

	a, err := New(context.Background(), cfg, cfgErr)
	require.NoError(t, err, "an invalid config still bootstraps a serving process")
	defer a.close()

	state := a.monitor.State()
	require.NotNil(t, state.Err)
	assert.Equal(t, remote.CodeInvalidConfig, state.Err.Code)

	// Probing never clears a latched config error.
	a.monitor.Probe(context.Background())
	state = a.monitor.State()
	require.NotNil(t, state.Err)
	assert.Equal(t, remote.CodeInvalidConfig, state.Err.Code)

	// The health surface reports the degradation instead of pretending the
	// store is fine.
	rec := httptest.NewRecorder()
	a.http.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 503, rec.Code)
}
