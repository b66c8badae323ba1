package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/peerball/peerball/internal/domain"
	"github.com/peerball/peerball/internal/infra/registry"
	"github.com/peerball/peerball/internal/infra/subnet"
	"github.com/peerball/peerball/internal/store"
)

// handleHealth answers GET /health for load balancers and local
// liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePing answers GET /api/ping — the probe discovery dials every
// host on the subnet with (spec §4.1).
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	var self string
	s.store.WithLock(func(g *store.GameState) { self = g.OwnID })

	var resp subnet.PingResponse
	resp.Message = "pong"
	resp.Identity = self
	writeJSON(w, http.StatusOK, resp)
}

// handleDiscover answers POST /api/discover: scan the subnet and
// register-back against every peer found, entirely in the background
// — the response carries no outcome (spec §6: "200 – (async)").
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var self string
	s.store.WithLock(func(g *store.GameState) { self = g.OwnID })
	ownIP, _, err := net.SplitHostPort(self)
	if err == nil {
		go s.registry.Discover(context.WithoutCancel(r.Context()), ownIP)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discovering"})
}

// handleRegister answers POST /api/register (spec §4.1): merge the
// submitted payload into our store, and if the peer is new to us,
// register back so it learns about us too.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload registry.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid register payload: "+err.Error())
		return
	}

	isNew := s.registry.Register(payload)
	if isNew && payload.IP != "" {
		go s.registry.RegisterBack(context.WithoutCancel(r.Context()), payload.IP)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// handleReady answers POST /api/ready (spec §4.7).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.lifecycle.Ready(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type notifyReadyBody struct {
	PlayerID string `json:"player_id"`
}

// handleNotifyReady answers POST /api/notify-ready, called by a peer
// that has just readied up (spec §4.7).
func (s *Server) handleNotifyReady(w http.ResponseWriter, r *http.Request) {
	var body notifyReadyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "player_id required")
		return
	}
	s.lifecycle.NotifyReady(r.Context(), body.PlayerID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReceiveBall answers POST /api/receive-ball: the ball payload
// is decoded and adopted as this peer's turn (spec §4.5 Receive-Ball).
func (s *Server) handleReceiveBall(w http.ResponseWriter, r *http.Request) {
	var ball domain.Ball
	if err := json.NewDecoder(r.Body).Decode(&ball); err != nil {
		writeError(w, http.StatusBadRequest, "invalid ball payload: "+err.Error())
		return
	}
	s.controller.ReceiveBall(r.Context(), ball)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

type passBallBody struct {
	NewWord           string `json:"newWord"`
	ClientTimestampMs int64  `json:"client_timestamp_ms"`
}

// handlePassBall answers POST /api/pass-ball (spec §4.5 Pass-Ball).
// A dead-letter submission still returns 200 — the game-over it
// triggers is reported over the WS broadcast, not the HTTP response —
// but the status field distinguishes the two so a synchronous caller
// doesn't have to wait on the socket to know it lost.
func (s *Server) handlePassBall(w http.ResponseWriter, r *http.Request) {
	var body passBallBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pass-ball payload: "+err.Error())
		return
	}

	var handledBefore bool
	s.store.WithLock(func(g *store.GameState) { handledBefore = g.GameOverHandled })

	err := s.controller.PassBall(r.Context(), body.NewWord, body.ClientTimestampMs)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoCurrentTurn):
			writeError(w, http.StatusRequestTimeout, err.Error())
		case errors.Is(err, domain.ErrInvalidWord), errors.Is(err, domain.ErrForcedLetterMismatch):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrLetterBlocked):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, domain.ErrWordContention):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	var handledAfter bool
	s.store.WithLock(func(g *store.GameState) { handledAfter = g.GameOverHandled })

	if handledAfter && !handledBefore {
		writeJSON(w, http.StatusOK, map[string]string{"status": "lost"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type gameOverBody struct {
	Loser  string `json:"loser"`
	Reason string `json:"reason"`
}

// handleGameOver answers POST /api/game-over: a remote peer has
// decided this peer (or another) lost and is broadcasting the
// decision (spec §4.7 GameOver).
func (s *Server) handleGameOver(w http.ResponseWriter, r *http.Request) {
	var body gameOverBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid game-over payload: "+err.Error())
		return
	}
	s.lifecycle.GameOver(body.Loser, body.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRematch answers both POST /api/rematch and POST
// /api/rematch-broadcast: both converge on the same archive-and-retry
// machine (spec §4.7 Rematch) since the distilled spec draws no
// behavioral line between the human-initiated and peer-propagated
// call (see DESIGN.md Open Questions).
func (s *Server) handleRematch(w http.ResponseWriter, r *http.Request) {
	s.lifecycle.Rematch(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePowerUp answers POST /api/power-up (spec §4.8).
func (s *Server) handlePowerUp(w http.ResponseWriter, r *http.Request) {
	err := s.controller.PowerUp(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoPhonePad):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrPowerUpNotReady):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type comboBody struct {
	ComboKey string `json:"combo_key"`
}

// handleCombo answers POST /api/combo (spec §4.8).
func (s *Server) handleCombo(w http.ResponseWriter, r *http.Request) {
	var body comboBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid combo payload: "+err.Error())
		return
	}

	err := s.controller.Combo(r.Context(), body.ComboKey)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownComboKey), errors.Is(err, domain.ErrComboNotReady):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
