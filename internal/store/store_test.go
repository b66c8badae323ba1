package store

import (
	"testing"
)

func newTestStore() *Store {
	return New("localhost:5000")
}

func TestNewGameState_SeedsOwner(t *testing.T) {
	s := newTestStore()
	s.WithLock(func(g *GameState) {
		if _, ok := g.Players[g.OwnID]; !ok {
			t.Errorf("owner %q missing from Players", g.OwnID)
		}
		if g.BaseTimeoutModifier != 1.0 {
			t.Errorf("BaseTimeoutModifier = %v, want 1.0", g.BaseTimeoutModifier)
		}
	})
}

func TestEnsureParticipant_PopulatesAllMaps(t *testing.T) {
	s := newTestStore()
	s.WithLock(func(g *GameState) {
		g.EnsureParticipant("10.0.0.2:5000")

		if len(g.PlayerVowelPowers["10.0.0.2:5000"]) != 6 {
			t.Errorf("expected 6 vowel entries, got %d", len(g.PlayerVowelPowers["10.0.0.2:5000"]))
		}
		for _, v := range g.PlayerVowelPowers["10.0.0.2:5000"] {
			if v != 1.0 {
				t.Errorf("initial vowel power = %v, want 1.0", v)
			}
		}
		if len(g.PlayerPhonePads["10.0.0.2:5000"]) != 8 {
			t.Errorf("expected 8 pad columns, got %d", len(g.PlayerPhonePads["10.0.0.2:5000"]))
		}
		if g.PlayerMaxTimeouts["10.0.0.2:5000"] == 0 {
			t.Errorf("expected a seeded base timeout")
		}
	})
}

func TestEnsureParticipant_Idempotent(t *testing.T) {
	s := newTestStore()
	s.WithLock(func(g *GameState) {
		g.EnsureParticipant("p1")
		g.PlayerPhonePads["p1"]["2"] = 3
		g.EnsureParticipant("p1")
		if g.PlayerPhonePads["p1"]["2"] != 3 {
			t.Errorf("EnsureParticipant clobbered existing state")
		}
	})
}

func TestSnapshot_KeySetsMatchParticipants(t *testing.T) {
	s := newTestStore()
	s.WithLock(func(g *GameState) {
		g.EnsureParticipant("p1")
		g.Players["p1"] = struct{}{}
		g.CursedLetters["s"] = struct{}{}
	})

	snap := s.Snapshot("localhost:5000")
	if snap.Self != "localhost:5000" {
		t.Errorf("Self = %q", snap.Self)
	}
	gotPlayers := map[string]bool{}
	for _, p := range snap.Players {
		gotPlayers[p] = true
	}
	if len(snap.Players) != 2 || !gotPlayers["localhost:5000"] || !gotPlayers["p1"] {
		t.Errorf("Players = %v, want localhost:5000 and p1", snap.Players)
	}
	if len(snap.CursedLetters) != 1 || snap.CursedLetters[0] != "s" {
		t.Errorf("CursedLetters = %v, want [s]", snap.CursedLetters)
	}
	if snap.ProtocolVersion != 1 {
		t.Errorf("ProtocolVersion = %d, want 1", snap.ProtocolVersion)
	}
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	s := newTestStore()
	s.WithLock(func(g *GameState) {
		g.EnsureParticipant("p1")
	})
	snap := s.Snapshot("localhost:5000")
	snap.PlayerVowelPowers["p1"]["a"] = 99

	s.WithLock(func(g *GameState) {
		if g.PlayerVowelPowers["p1"]["a"] == 99 {
			t.Errorf("mutating the snapshot leaked back into live state")
		}
	})
}
