package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizlive/quizlive/internal/config"
	"github.com/quizlive/quizlive/internal/connection"
	"github.com/quizlive/quizlive/internal/game"
	"github.com/quizlive/quizlive/internal/host"
	"github.com/quizlive/quizlive/internal/quiz"
	"github.com/quizlive/quizlive/internal/remote"
	"github.com/quizlive/quizlive/internal/store"
	"github.com/quizlive/quizlive/pkg/http/ws"
)

const testAdminKey = "sekrit"

func newTestServer(t *testing.T) (*http.Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	runner := remote.NewRunner(st, logger, nil, remote.WithBackoffBase(time.Millisecond))
	quizzes := quiz.NewService(nil, nil, logger, quiz.ServiceOptions{})
	machine := host.NewMachine(runner, quizzes, logger, host.Options{})
	require.NoError(t, machine.EnsureGame(context.Background()))

	monitor := connection.NewMonitor(runner, logger, nil, connection.Options{})

	cfg := &config.App{HTTPAddr: "127.0.0.1:0"}
	cfg.Security.AdminKey = testAdminKey

	return New(Deps{
		Config:  cfg,
		Logger:  logger,
		Machine: machine,
		Quizzes: quizzes,
		Monitor: monitor,
		Hub:     ws.NewHub(logger),
	}), st
}

func doRequest(t *testing.T, srv *http.Server, method, path, body string, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if admin {
		req.Header.Set("X-Admin-Key", testAdminKey)
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStateSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/v1/state", "", false)

	require.Equal(t, http.StatusOK, rec.Code)
	var gs game.GameState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gs))
	assert.Equal(t, game.StatusLobby, gs.Status)
}

func TestQuizList(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/v1/quizzes", "", false)

	require.Equal(t, http.StatusOK, rec.Code)
	var quizzes []quiz.Quiz
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quizzes))
	require.NotEmpty(t, quizzes)
	assert.Equal(t, quiz.DefaultQuizID, quizzes[0].ID)
}

func TestQuizNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/v1/quizzes/nope", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHostCommandRequiresAdminKey(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/host/show-leaderboard", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/host/show-leaderboard", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	rec2 := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestHostCommandDisabledWithoutKey(t *testing.T) {
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	logger := zerolog.Nop()
	runner := remote.NewRunner(st, logger, nil)
	quizzes := quiz.NewService(nil, nil, logger, quiz.ServiceOptions{})
	machine := host.NewMachine(runner, quizzes, logger, host.Options{})
	open := New(Deps{
		Config:  &config.App{},
		Logger:  logger,
		Machine: machine,
		Quizzes: quizzes,
		Monitor: connection.NewMonitor(runner, logger, nil, connection.Options{}),
		Hub:     ws.NewHub(logger),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/host/show-leaderboard", nil)
	req.Header.Set("X-Admin-Key", "")
	rec := httptest.NewRecorder()
	open.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHostTransition(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/host/show-leaderboard", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var gs game.GameState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gs))
	assert.Equal(t, game.StatusLeaderboard, gs.Status)
}

func TestHostTransitionRejectedFromWrongPhase(t *testing.T) {
	srv, _ := newTestServer(t)

	// reveal-answer is only legal while a question is active.
	rec := doRequest(t, srv, http.MethodPost, "/v1/host/reveal-answer", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHostResetRequiresConfirmation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/host/reset-game", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/host/reset-game", `{"confirm":true}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHostUnknownCommand(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/v1/host/do-magic", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartQuestionFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"quizId":"` + quiz.DefaultQuizID + `"}`
	rec := doRequest(t, srv, http.MethodPost, "/v1/host/start-question", body, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var gs game.GameState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gs))
	assert.Equal(t, game.StatusQuestionActive, gs.Status)
	assert.Equal(t, quiz.DefaultQuizID, gs.SelectedQuizID)
}
