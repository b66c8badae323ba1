package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peerball/peerball/internal/domain"
	"github.com/peerball/peerball/internal/infra/registry"
	"github.com/peerball/peerball/internal/lifecycle"
	"github.com/peerball/peerball/internal/store"
	"github.com/peerball/peerball/internal/turn"
)

type stubDispatcher struct{}

func (stubDispatcher) SendBall(ctx context.Context, peerAddr string, ball domain.Ball) error {
	return nil
}
func (stubDispatcher) HealthCheck(ctx context.Context, peerAddr string) bool  { return true }
func (stubDispatcher) NotifyReady(ctx context.Context, peerAddr string) error { return nil }

type stubHub struct{}

func (stubHub) Broadcast(snap domain.Snapshot)                   {}
func (stubHub) ServeHTTP(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	s := store.New("1:5000")
	ctrl := turn.New(s, stubDispatcher{}, stubHub{}, turn.DefaultConfig())
	lc := lifecycle.New(s, ctrl, stubDispatcher{}, stubHub{})
	reg := registry.New(s, registry.DefaultConfig(5000, "24"))
	srv := NewServer(s, ctrl, lc, reg, stubHub{}, false)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, s
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestHandlePing(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/ping")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	body := decodeBody(t, resp)
	if body["message"] != "pong" {
		t.Errorf("message = %q, want pong", body["message"])
	}
	if body["identity"] != "1:5000" {
		t.Errorf("identity = %q, want 1:5000", body["identity"])
	}
}

func TestHandleReady_AloneInjectsComputerAndStarts(t *testing.T) {
	ts, s := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/ready", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var players map[string]struct{}
	var word string
	s.WithLock(func(g *store.GameState) { players = g.Players; word = g.CurrentWord })
	if _, ok := players[domain.ComputerID]; !ok {
		t.Errorf("expected computer to be injected as a second player, players = %v", players)
	}
	if word == "" {
		t.Errorf("expected the game to start with an opening letter, CurrentWord is empty")
	}
}

func TestHandlePassBall_NoCurrentTurnReturns408(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/pass-ball", map[string]interface{}{
		"newWord":             "ca",
		"client_timestamp_ms": 0,
	})
	if resp.StatusCode != http.StatusRequestTimeout {
		t.Fatalf("status = %d, want 408", resp.StatusCode)
	}
}

func TestHandlePassBall_HappyPath(t *testing.T) {
	ts, s := newTestServer(t)

	postJSON(t, ts.URL+"/api/ready", nil)
	time.Sleep(50 * time.Millisecond)

	var currentWord string
	s.WithLock(func(g *store.GameState) { currentWord = g.CurrentWord })
	if currentWord == "" {
		t.Fatalf("expected a current word after starting, got empty")
	}

	resp := postJSON(t, ts.URL+"/api/pass-ball", map[string]interface{}{
		"newWord":             currentWord + "a",
		"client_timestamp_ms": time.Now().UnixMilli(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleCombo_UnknownKeyReturns400(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/combo", map[string]string{"combo_key": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandlePowerUp_NoPhonePadReturns404(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/power-up", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleGameOver(t *testing.T) {
	ts, s := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/game-over", map[string]string{
		"loser":  "1:5000",
		"reason": "Turn deadline expired",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var handled bool
	s.WithLock(func(g *store.GameState) { handled = g.GameOverHandled })
	if !handled {
		t.Error("expected GameOverHandled to be set after /api/game-over")
	}
}

func TestHandleRematch(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/rematch", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleRegister_MergesNewPeer(t *testing.T) {
	ts, s := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/register", registry.Payload{
		IP:             "2:5000",
		InitialPlayers: []string{"2:5000"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var players map[string]struct{}
	s.WithLock(func(g *store.GameState) { players = g.Players })
	if _, ok := players["2:5000"]; !ok {
		t.Errorf("expected 2:5000 to be merged into players, got %v", players)
	}
}

func TestHandleNotifyReady_RequiresPlayerID(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/notify-ready", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleReceiveBall(t *testing.T) {
	ts, s := newTestServer(t)

	ball := domain.Ball{
		ProtocolVersion:      domain.ProtocolVersion,
		Word:                 "c",
		TimeoutMs:            domain.BaseTimeoutMs,
		IncomingPlayers:      []string{"1:5000", "2:5000"},
		IncomingTurnCounts:   map[string]int{"2:5000": 1},
		IncomingReadyPlayers: []string{"2:5000"},
	}

	resp := postJSON(t, ts.URL+"/api/receive-ball", ball)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var currentWord string
	s.WithLock(func(g *store.GameState) { currentWord = g.CurrentWord })
	if currentWord != "c" {
		t.Errorf("current word = %q, want c", currentWord)
	}
}
