package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peerball/peerball/internal/domain"
	"github.com/peerball/peerball/internal/store"
	"github.com/peerball/peerball/internal/turn"
)

// stubDispatcher never actually reaches the network; every peer is
// considered healthy unless told otherwise.
type stubDispatcher struct {
	mu      sync.Mutex
	healthy map[string]bool
	sent    []string
}

func (d *stubDispatcher) SendBall(ctx context.Context, peerAddr string, ball domain.Ball) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, peerAddr)
	return nil
}

func (d *stubDispatcher) HealthCheck(ctx context.Context, peerAddr string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.healthy == nil {
		return true
	}
	return d.healthy[peerAddr]
}

// stubBroadcaster satisfies both turn.Broadcaster and lifecycle.Broadcaster
// (identical method shape) so a single stub wires both layers.
type stubBroadcaster struct {
	mu    sync.Mutex
	count int
}

func (b *stubBroadcaster) Broadcast(snap domain.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
}

type stubNotifier struct {
	mu     sync.Mutex
	notified []string
	err    error
}

func (n *stubNotifier) NotifyReady(ctx context.Context, peerAddr string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, peerAddr)
	return n.err
}

func newTestManager(ownID string) (*Manager, *store.Store, *stubDispatcher, *stubBroadcaster, *stubNotifier) {
	s := store.New(ownID)
	d := &stubDispatcher{}
	b := &stubBroadcaster{}
	n := &stubNotifier{}
	ctrl := turn.New(s, d, b, turn.DefaultConfig())
	m := New(s, ctrl, n, b)
	return m, s, d, b, n
}

func TestReady_AloneInjectsComputerAndStarts(t *testing.T) {
	m, s, _, _, _ := newTestManager("1")
	m.Ready(context.Background())

	time.Sleep(50 * time.Millisecond)

	s.WithLock(func(g *store.GameState) {
		if _, ok := g.Players[domain.ComputerID]; !ok {
			t.Fatalf("expected computer injected into players when alone")
		}
		if len(g.ActiveMissions) != 3 {
			t.Errorf("ActiveMissions len = %d, want 3", len(g.ActiveMissions))
		}
		if g.TurnCounts["1"] != 1 {
			t.Errorf("TurnCounts[1] = %d, want 1 (initiator starts)", g.TurnCounts["1"])
		}
	})
}

func TestNotifyReady_DoesNotStartUntilEveryPlayerReady(t *testing.T) {
	m, s, _, _, _ := newTestManager("1")
	s.WithLock(func(g *store.GameState) {
		g.Players["2"] = struct{}{}
		g.EnsureParticipant("2")
	})
	m.Ready(context.Background())

	s.WithLock(func(g *store.GameState) {
		if g.CurrentWord != "" {
			t.Fatalf("expected no game started before peer 2 readies up, got word %q", g.CurrentWord)
		}
	})

	m.NotifyReady(context.Background(), "2")
	time.Sleep(50 * time.Millisecond)

	s.WithLock(func(g *store.GameState) {
		if g.CurrentWord == "" {
			t.Errorf("expected game started once every player is ready")
		}
	})
}

func TestMaybeStart_OnlyInitiatorStarts(t *testing.T) {
	// self "2" is not the lexicographic minimum of {"1","2"}, so this
	// peer must not start the game even once everyone is ready.
	m, s, _, _, _ := newTestManager("2")
	s.WithLock(func(g *store.GameState) {
		g.Players["1"] = struct{}{}
		g.EnsureParticipant("1")
	})

	m.Ready(context.Background())
	m.NotifyReady(context.Background(), "1")
	time.Sleep(20 * time.Millisecond)

	s.WithLock(func(g *store.GameState) {
		if g.CurrentWord != "" {
			t.Errorf("non-initiator peer started the game, word = %q", g.CurrentWord)
		}
	})
}

func TestGameOver_IdempotentOnSecondCall(t *testing.T) {
	m, s, _, _, _ := newTestManager("1")
	s.WithLock(func(g *store.GameState) {
		g.History = []domain.HistoryEntry{{Player: "1", Word: "ab"}}
	})

	m.GameOver("1", "dead letter")
	m.GameOver("1", "dead letter")

	s.WithLock(func(g *store.GameState) {
		if len(g.Archive) != 1 {
			t.Errorf("Archive len = %d, want 1 (second GameOver call must be a no-op)", len(g.Archive))
		}
		if g.LastLoser != "1" {
			t.Errorf("LastLoser = %q, want 1", g.LastLoser)
		}
		if !g.GameOverHandled {
			t.Errorf("expected GameOverHandled set after GameOver")
		}
	})
}

func TestGameOver_NoHistoryDoesNotArchive(t *testing.T) {
	m, s, _, _, _ := newTestManager("1")
	m.GameOver("1", "turn deadline expired")
	s.WithLock(func(g *store.GameState) {
		if len(g.Archive) != 0 {
			t.Errorf("Archive len = %d, want 0 when history was empty", len(g.Archive))
		}
	})
}

func TestRematch_ArchivesAndRestartsForInitiator(t *testing.T) {
	m, s, _, _, _ := newTestManager("1")
	s.WithLock(func(g *store.GameState) {
		g.History = []domain.HistoryEntry{{Player: "1", Word: "ab"}}
	})

	m.Rematch(context.Background())
	time.Sleep(50 * time.Millisecond)

	s.WithLock(func(g *store.GameState) {
		if len(g.Archive) != 1 {
			t.Errorf("Archive len = %d, want 1", len(g.Archive))
		}
		if g.CurrentWord == "" {
			t.Errorf("expected rematch to start a fresh game for the sole initiator")
		}
	})
}

func TestInitiatorOf_LexicographicMinimum(t *testing.T) {
	players := map[string]struct{}{"10.0.0.5:5000": {}, "10.0.0.2:5000": {}}
	if got := initiatorOf(players); got != "10.0.0.2:5000" {
		t.Errorf("initiatorOf() = %q, want 10.0.0.2:5000", got)
	}
}

func TestNotifyPeers_SkipsSelfAndComputer(t *testing.T) {
	m, s, _, _, n := newTestManager("1")
	s.WithLock(func(g *store.GameState) {
		g.Players["2"] = struct{}{}
		g.Players[domain.ComputerID] = struct{}{}
	})
	m.notifyPeers(context.Background(), "1")
	time.Sleep(20 * time.Millisecond)

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notified) != 1 || n.notified[0] != "2" {
		t.Errorf("notified = %v, want [2]", n.notified)
	}
}

func TestNotifyPeers_ToleratesTransportFailure(t *testing.T) {
	m, s, _, _, n := newTestManager("1")
	n.err = errors.New("connection refused")
	s.WithLock(func(g *store.GameState) {
		g.Players["2"] = struct{}{}
	})
	m.notifyPeers(context.Background(), "1")
	time.Sleep(20 * time.Millisecond)
	// best-effort: no panic, no error surfaced to the caller.
}
