package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peerball/peerball/internal/domain"
	"github.com/peerball/peerball/internal/store"
)

// stubDispatcher records SendBall calls and lets tests control
// HealthCheck outcomes per peer.
type stubDispatcher struct {
	mu       sync.Mutex
	healthy  map[string]bool
	sent     []string
	sendErr  error
}

func (d *stubDispatcher) SendBall(ctx context.Context, peerAddr string, ball domain.Ball) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, peerAddr)
	return d.sendErr
}

func (d *stubDispatcher) HealthCheck(ctx context.Context, peerAddr string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.healthy == nil {
		return true
	}
	return d.healthy[peerAddr]
}

type stubBroadcaster struct {
	mu    sync.Mutex
	count int
	last  domain.Snapshot
}

func (b *stubBroadcaster) Broadcast(snap domain.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
	b.last = snap
}

type stubGameOver struct {
	mu     sync.Mutex
	loser  string
	reason string
	calls  int
}

func (g *stubGameOver) GameOver(loser, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loser = loser
	g.reason = reason
	g.calls++
}

func newTestController(ownID string) (*Controller, *store.Store, *stubDispatcher, *stubBroadcaster, *stubGameOver) {
	s := store.New(ownID)
	d := &stubDispatcher{}
	b := &stubBroadcaster{}
	go_ := &stubGameOver{}
	ctrl := New(s, d, b, DefaultConfig())
	ctrl.SetGameOverHandler(go_)
	return ctrl, s, d, b, go_
}

func TestPassBall_NoCurrentTurn(t *testing.T) {
	ctrl, _, _, _, _ := newTestController("p1")
	err := ctrl.PassBall(context.Background(), "a", 0)
	if !errors.Is(err, domain.ErrNoCurrentTurn) {
		t.Fatalf("err = %v, want ErrNoCurrentTurn", err)
	}
}

func TestPassBall_InvalidWord(t *testing.T) {
	ctrl, s, _, _, _ := newTestController("p1")
	s.WithLock(func(g *store.GameState) {
		g.CurrentWord = "ca"
		g.TurnStartTime = time.Now()
	})
	err := ctrl.PassBall(context.Background(), "cab extra", 0)
	if !errors.Is(err, domain.ErrInvalidWord) {
		t.Fatalf("err = %v, want ErrInvalidWord", err)
	}
}

func TestPassBall_ForcedLetterMismatch(t *testing.T) {
	ctrl, s, _, _, _ := newTestController("p1")
	s.WithLock(func(g *store.GameState) {
		g.CurrentWord = "c"
		g.ForcedLetter = "u"
		g.TurnStartTime = time.Now()
	})
	err := ctrl.PassBall(context.Background(), "ca", 0)
	if !errors.Is(err, domain.ErrForcedLetterMismatch) {
		t.Fatalf("err = %v, want ErrForcedLetterMismatch", err)
	}
}

func TestPassBall_LetterBlocked(t *testing.T) {
	ctrl, s, _, _, _ := newTestController("p1")
	s.WithLock(func(g *store.GameState) {
		g.CurrentWord = "c"
		g.EnsureParticipant("p1")
		g.PlayerInabilities["p1"] = map[string]struct{}{"a": {}}
		g.TurnStartTime = time.Now()
	})
	err := ctrl.PassBall(context.Background(), "ca", 0)
	if !errors.Is(err, domain.ErrLetterBlocked) {
		t.Fatalf("err = %v, want ErrLetterBlocked", err)
	}
}

func TestPassBall_DeadLetterCausesGameOver(t *testing.T) {
	ctrl, s, _, _, go_ := newTestController("p1")
	s.WithLock(func(g *store.GameState) {
		g.CurrentWord = "xyz"
		g.DeadLetters["q"] = struct{}{}
		g.TurnStartTime = time.Now()
	})
	err := ctrl.PassBall(context.Background(), "xyzq", 0)
	if err != nil {
		t.Fatalf("dead letter play should report success to the caller, got %v", err)
	}
	if go_.calls != 1 || go_.loser != "p1" {
		t.Errorf("GameOver called with loser=%q calls=%d, want p1/1", go_.loser, go_.calls)
	}
}

func TestPassBall_InabilitiesClearedAfterSuccess(t *testing.T) {
	ctrl, s, d, _, _ := newTestController("p1")
	d.healthy = map[string]bool{}
	s.WithLock(func(g *store.GameState) {
		g.Players = map[string]struct{}{"p1": {}}
		g.CurrentWord = "c"
		g.EnsureParticipant("p1")
		g.PlayerInabilities["p1"] = map[string]struct{}{"z": {}}
		g.TurnStartTime = time.Now()
	})
	if err := ctrl.PassBall(context.Background(), "ca", time.Now().UnixMilli()); err != nil {
		t.Fatalf("PassBall() error = %v", err)
	}
	s.WithLock(func(g *store.GameState) {
		if len(g.PlayerInabilities["p1"]) != 0 {
			t.Errorf("expected player_inabilities cleared after a successful pass-ball, got %v", g.PlayerInabilities["p1"])
		}
	})
}

func TestPassBall_CurseEscalatesToDeadOnSixthPlay(t *testing.T) {
	ctrl, s, d, _, _ := newTestController("p1")
	d.healthy = map[string]bool{}
	s.WithLock(func(g *store.GameState) {
		g.Players = map[string]struct{}{"p1": {}}
		g.EnsureParticipant("p1")
	})

	word := "z"
	for i := 0; i < 6; i++ {
		s.WithLock(func(g *store.GameState) {
			g.CurrentWord = word
			g.TurnStartTime = time.Now()
		})
		next := word + "s"
		if err := ctrl.PassBall(context.Background(), next, time.Now().UnixMilli()); err != nil {
			t.Fatalf("iteration %d: PassBall() error = %v", i, err)
		}
		word = next + "z" // a fresh word not ending in s, so the next iteration plays s again
		s.WithLock(func(g *store.GameState) {
			g.CurrentWord = word
			g.TurnStartTime = time.Now()
		})
	}

	s.WithLock(func(g *store.GameState) {
		if g.LetterCurseCounts["s"] != 1 && g.LetterCurseCounts["s"] != 2 {
			t.Errorf("expected letter s to have escalated at least once, got level %d", g.LetterCurseCounts["s"])
		}
	})
}

func TestCombo_NotReadyWhenColumnsEmpty(t *testing.T) {
	ctrl, s, _, _, _ := newTestController("p1")
	s.WithLock(func(g *store.GameState) {
		g.EnsureParticipant("p1")
	})
	err := ctrl.Combo(context.Background(), "*")
	if !errors.Is(err, domain.ErrComboNotReady) {
		t.Fatalf("err = %v, want ErrComboNotReady", err)
	}
}

func TestCombo_UnknownKey(t *testing.T) {
	ctrl, _, _, _, _ := newTestController("p1")
	err := ctrl.Combo(context.Background(), "$")
	if !errors.Is(err, domain.ErrUnknownComboKey) {
		t.Fatalf("err = %v, want ErrUnknownComboKey", err)
	}
}

func TestCombo_PurgeClearsCursedLetters(t *testing.T) {
	ctrl, s, d, _, _ := newTestController("p1")
	d.healthy = map[string]bool{}
	s.WithLock(func(g *store.GameState) {
		g.Players = map[string]struct{}{"p1": {}}
		g.EnsureParticipant("p1")
		g.PlayerPhonePads["p1"]["2"] = 1
		g.PlayerPhonePads["p1"]["3"] = 1
		g.PlayerPhonePads["p1"]["4"] = 1
		g.CursedLetters["s"] = struct{}{}
	})

	if err := ctrl.Combo(context.Background(), "*"); err != nil {
		t.Fatalf("Combo() error = %v", err)
	}
	s.WithLock(func(g *store.GameState) {
		if len(g.CursedLetters) != 0 {
			t.Errorf("expected CursedLetters emptied, got %v", g.CursedLetters)
		}
		if g.PlayerPhonePads["p1"]["2"] != 0 {
			t.Errorf("expected triggering columns reset to 0")
		}
	})
}

func TestPowerUp_RequiresAllColumns(t *testing.T) {
	ctrl, s, _, _, _ := newTestController("p1")
	s.WithLock(func(g *store.GameState) {
		g.EnsureParticipant("p1")
	})
	err := ctrl.PowerUp(context.Background())
	if !errors.Is(err, domain.ErrPowerUpNotReady) {
		t.Fatalf("err = %v, want ErrPowerUpNotReady", err)
	}
}

func TestReceiveBall_ArmsDeadlineAndBroadcasts(t *testing.T) {
	ctrl, s, _, b, _ := newTestController("p1")
	ball := domain.Ball{
		ProtocolVersion: domain.ProtocolVersion,
		Word:            "a",
		TimeoutMs:       50,
	}
	ctrl.ReceiveBall(context.Background(), ball)

	s.WithLock(func(g *store.GameState) {
		if g.CurrentWord != "a" {
			t.Errorf("CurrentWord = %q, want a", g.CurrentWord)
		}
		if g.DeadlineTimer == nil {
			t.Errorf("expected a deadline timer to be armed")
		}
	})
	if b.count == 0 {
		t.Errorf("expected at least one broadcast after receive-ball")
	}
}

func TestReceiveBall_DeadlineFiresCallsGameOver(t *testing.T) {
	ctrl, _, _, _, go_ := newTestController("p1")
	ball := domain.Ball{ProtocolVersion: domain.ProtocolVersion, Word: "a", TimeoutMs: 10}
	ctrl.ReceiveBall(context.Background(), ball)

	time.Sleep(100 * time.Millisecond)

	go_.mu.Lock()
	defer go_.mu.Unlock()
	if go_.calls == 0 {
		t.Errorf("expected the expired deadline to call GameOver")
	}
}
