// Package api exposes the peer's HTTP and WebSocket surface (spec §6):
// discovery, register, readiness, ball transfer, combos, and the live
// state feed. Routing is a chi.Router with the teacher's middleware
// stack (api/server.go: RequestID, RealIP, Recoverer, Timeout, CORS),
// and every handler collaborates with store/turn/lifecycle/registry
// purely through the types those packages already export — this
// package owns no game state of its own.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peerball/peerball/internal/infra/registry"
	"github.com/peerball/peerball/internal/lifecycle"
	"github.com/peerball/peerball/internal/store"
	"github.com/peerball/peerball/internal/turn"
)

// WebSocketHandler is satisfied by broadcast.Hub. Kept as an interface
// here rather than an import of the concrete type, consistent with
// spec §9's "pass them in by interface, not import".
type WebSocketHandler interface {
	http.Handler
}

// Server wires every component a peer's HTTP surface needs.
type Server struct {
	store      *store.Store
	controller *turn.Controller
	lifecycle  *lifecycle.Manager
	registry   *registry.Registry
	ws         WebSocketHandler

	metricsEnabled bool
}

// NewServer builds a Server. metricsEnabled mirrors config.Config's
// knob of the same name.
func NewServer(s *store.Store, c *turn.Controller, lc *lifecycle.Manager, reg *registry.Registry, ws WebSocketHandler, metricsEnabled bool) *Server {
	return &Server{
		store:          s,
		controller:     c,
		lifecycle:      lc,
		registry:       reg,
		ws:             ws,
		metricsEnabled: metricsEnabled,
	}
}

// Handler returns the fully mounted chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", s.handlePing)
		r.Post("/discover", s.handleDiscover)
		r.Post("/register", s.handleRegister)
		r.Post("/ready", s.handleReady)
		r.Post("/notify-ready", s.handleNotifyReady)
		r.Post("/receive-ball", s.handleReceiveBall)
		r.Post("/pass-ball", s.handlePassBall)
		r.Post("/game-over", s.handleGameOver)
		r.Post("/rematch", s.handleRematch)
		r.Post("/rematch-broadcast", s.handleRematch)
		r.Post("/power-up", s.handlePowerUp)
		r.Post("/combo", s.handleCombo)
	})

	if s.ws != nil {
		r.Get("/ws", s.ws.ServeHTTP)
	}

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// corsMiddleware allows the companion web UI to reach this peer's API
// from any origin — there is no session or credential to leak here,
// only derived game state.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
