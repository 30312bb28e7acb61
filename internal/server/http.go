// Package server exposes the HTTP surface: health and metrics, read-only
// game state, the host command API, and the WebSocket state stream.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/quizlive/quizlive/internal/config"
	"github.com/quizlive/quizlive/internal/connection"
	"github.com/quizlive/quizlive/internal/host"
	"github.com/quizlive/quizlive/internal/quiz"
	"github.com/quizlive/quizlive/internal/store"
	httperr "github.com/quizlive/quizlive/pkg/http/errors"
	"github.com/quizlive/quizlive/pkg/http/ws"
)

// WSUpgrader handles WebSocket upgrades for the state stream.
var WSUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the frontend host list is settled
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config  *config.App
	Logger  zerolog.Logger
	Machine *host.Machine
	Quizzes *quiz.Service
	Monitor *connection.Monitor
	Hub     *ws.Hub
}

// New wires the route table and returns the server.
func New(d Deps) *http.Server {
	mux := http.NewServeMux()
	logger := d.Logger.With().Str("component", "http").Logger()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		state := d.Monitor.Probe(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !state.IsOnline {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":     statusWord(state.IsOnline),
			"quality":    state.Quality,
			"spectators": d.Hub.Count(),
		})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/state", func(w http.ResponseWriter, r *http.Request) {
		gs, err := d.Machine.Snapshot(r.Context())
		if err != nil {
			httperr.RespondRemote(w, err)
			return
		}
		writeJSON(w, gs)
	})

	mux.HandleFunc("GET /v1/quizzes", func(w http.ResponseWriter, r *http.Request) {
		quizzes, err := d.Quizzes.List(r.Context())
		if err != nil {
			httperr.RespondRemote(w, err)
			return
		}
		writeJSON(w, quizzes)
	})

	mux.HandleFunc("GET /v1/quizzes/{id}", func(w http.ResponseWriter, r *http.Request) {
		q, err := d.Quizzes.Get(r.Context(), r.PathValue("id"))
		if errors.Is(err, store.ErrNotFound) {
			httperr.RespondNotFound(w, httperr.ErrCodeNotFound, "unknown quiz")
			return
		}
		if err != nil {
			httperr.RespondRemote(w, err)
			return
		}
		writeJSON(w, q)
	})

	mux.HandleFunc("POST /v1/host/{command}", hostHandler(d, logger))

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		sock, err := WSUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		conn := ws.NewConnection(sock, logger)
		id := d.Hub.Register(conn)
		go conn.WritePump()
		go func() {
			conn.ReadPump()
			d.Hub.Unregister(id)
		}()
	})

	return &http.Server{
		Addr:    d.Config.HTTPAddr,
		Handler: mux,
	}
}

// hostCommandRequest is the body for commands that carry arguments. Plain
// transitions send no body at all.
type hostCommandRequest struct {
	QuizID   string `json:"quizId,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
	Confirm  bool   `json:"confirm,omitempty"`
}

func hostHandler(d Deps, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorized(d.Config.Security.AdminKey, r) {
			httperr.RespondUnauthorized(w, httperr.ErrCodeUnauthorized, "missing or invalid admin key")
			return
		}

		var req hostCommandRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httperr.RespondBadRequest(w, httperr.ErrCodeInvalidRequest, "malformed body")
				return
			}
		}

		ctx := r.Context()
		command := r.PathValue("command")

		var err error
		switch host.Command(command) {
		case host.CmdStartQuestion:
			if req.QuizID != "" {
				d.Machine.SelectQuiz(req.QuizID)
			}
			err = d.Machine.StartQuestion(ctx)
		case host.CmdRevealAnswer:
			err = d.Machine.RevealAnswer(ctx)
		case host.CmdNextQuestion:
			err = d.Machine.NextQuestion(ctx)
		case host.CmdPreviousQuestion:
			err = d.Machine.PreviousQuestion(ctx)
		case host.CmdShowLeaderboard:
			err = d.Machine.ShowLeaderboard(ctx)
		case host.CmdHideLeaderboard:
			err = d.Machine.HideLeaderboard(ctx)
		case host.CmdResetGame:
			err = d.Machine.ResetGame(ctx, req.Confirm)
		case host.CmdOverrideAnswer:
			err = d.Machine.OverrideAnswer(ctx, req.PlayerID)
		case host.CmdClearOverride:
			err = d.Machine.ClearOverride(ctx, req.PlayerID)
		default:
			httperr.RespondNotFound(w, httperr.ErrCodeNotFound, "unknown host command")
			return
		}

		switch {
		case err == nil:
			gs, snapErr := d.Machine.Snapshot(ctx)
			if snapErr != nil {
				writeJSON(w, map[string]string{"result": "ok"})
				return
			}
			writeJSON(w, gs)
		case errors.Is(err, host.ErrBusy):
			httperr.RespondConflict(w, httperr.ErrCodeConflict, err.Error())
		case isRejection(err):
			httperr.RespondBadRequest(w, httperr.ErrCodeInvalidRequest, err.Error())
		default:
			logger.Error().Err(err).Str("command", command).Msg("host command failed")
			httperr.RespondRemote(w, err)
		}
	}
}

// authorized checks the shared secret in constant time. An empty configured
// key disables the host surface rather than leaving it open.
func authorized(adminKey string, r *http.Request) bool {
	if adminKey == "" {
		return false
	}
	presented := r.Header.Get("X-Admin-Key")
	return subtle.ConstantTimeCompare([]byte(adminKey), []byte(presented)) == 1
}

// isRejection distinguishes host-side validation failures (wrong phase,
// unknown player, unconfirmed reset) from transport errors.
func isRejection(err error) bool {
	var pre *host.PreconditionError
	return errors.As(err, &pre) ||
		errors.Is(err, host.ErrConfirmationRequired) ||
		errors.Is(err, host.ErrNoQuizSelected)
}

func statusWord(connected bool) string {
	if connected {
		return "ok"
	}
	return "degraded"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
