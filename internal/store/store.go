// Package store holds the single shared game record every component
// reads and mutates. All public mutation is performed with the
// exclusion held for the duration of the call; anything dispatched
// to the network must first capture a snapshot and release the lock —
// see Snapshot.
package store

import (
	"sync"
	"time"

	"github.com/peerball/peerball/internal/domain"
)

// GameState is the single source of truth on one peer (spec §3).
type GameState struct {
	OwnID string

	Players      map[string]struct{}
	TurnCounts   map[string]int
	ReadyPlayers map[string]struct{}

	CurrentWord          string
	ActivePlayer         string
	TurnStartTime        time.Time
	CurrentTurnTimeoutMs int

	History []domain.HistoryEntry
	Archive [][]domain.HistoryEntry
	LastLoser string

	PlayerVowelPowers  map[string]map[string]float64
	PlayerPhonePads    map[string]map[string]int
	PlayerLetterCounts map[string]map[string]int
	PlayerMaxTimeouts  map[string]int
	PlayerInabilities  map[string]map[string]struct{}

	CursedLetters     map[string]struct{}
	DeadLetters       map[string]struct{}
	LetterCurseCounts map[string]int

	ActiveMissions    []domain.MissionInstance
	CompletedMissions []domain.MissionInstance

	ForcedLetter            string
	ScrambleUIForPlayer     string
	OpponentSpeedMultiplier map[string]float64
	BaseTimeoutModifier     float64
	AttackComboPlayer       string

	// DeadlineTimer is the single armed deadline for the current turn,
	// or nil. Cancellation is idempotent (spec §5): callers call the turn
	// package's cancelDeadline before arming a new one.
	DeadlineTimer *time.Timer

	// GameOverHandled tracks whether the current game has already been
	// archived and reset, so a second GameOver call on an already-reset
	// peer is a no-op instead of double-archiving.
	GameOverHandled bool
}

// NewGameState builds an empty state for a freshly started peer process
// identified by ownID. Modifier substate is populated lazily as peers
// join via EnsureParticipant.
func NewGameState(ownID string) *GameState {
	return &GameState{
		OwnID:                   ownID,
		Players:                 map[string]struct{}{ownID: {}},
		TurnCounts:              map[string]int{ownID: 0},
		ReadyPlayers:            map[string]struct{}{},
		PlayerVowelPowers:       map[string]map[string]float64{},
		PlayerPhonePads:         map[string]map[string]int{},
		PlayerLetterCounts:      map[string]map[string]int{},
		PlayerMaxTimeouts:       map[string]int{},
		PlayerInabilities:       map[string]map[string]struct{}{},
		CursedLetters:           map[string]struct{}{},
		DeadLetters:             map[string]struct{}{},
		LetterCurseCounts:       map[string]int{},
		OpponentSpeedMultiplier: map[string]float64{},
		BaseTimeoutModifier:     1.0,
	}
}

// EnsureParticipant makes sure every per-peer mapping has an entry for
// p, satisfying invariant 6 (key-set equals participants).
func (g *GameState) EnsureParticipant(p string) {
	if _, ok := g.TurnCounts[p]; !ok {
		g.TurnCounts[p] = 0
	}
	if _, ok := g.PlayerVowelPowers[p]; !ok {
		vp := make(map[string]float64, len(domain.Vowels))
		for i := 0; i < len(domain.Vowels); i++ {
			vp[string(domain.Vowels[i])] = 1.0
		}
		g.PlayerVowelPowers[p] = vp
	}
	if _, ok := g.PlayerPhonePads[p]; !ok {
		g.PlayerPhonePads[p] = map[string]int{"2": 0, "3": 0, "4": 0, "5": 0, "6": 0, "7": 0, "8": 0, "9": 0}
	}
	if _, ok := g.PlayerLetterCounts[p]; !ok {
		g.PlayerLetterCounts[p] = map[string]int{}
	}
	if _, ok := g.PlayerMaxTimeouts[p]; !ok {
		g.PlayerMaxTimeouts[p] = domain.BaseTimeoutMs
	}
	if _, ok := g.PlayerInabilities[p]; !ok {
		g.PlayerInabilities[p] = map[string]struct{}{}
	}
}

// Store guards one GameState behind a coarse mutex. This is the
// re-entrant-free "single shared record" of spec §4.2: every public
// operation serializes here, and nothing holds the lock across a
// suspension point (network I/O, WebSocket send, timer sleep).
type Store struct {
	mu    sync.Mutex
	state *GameState
}

func New(ownID string) *Store {
	return &Store{state: NewGameState(ownID)}
}

// WithLock runs fn with the exclusion held and the live state exposed.
// fn must not perform blocking I/O — see package doc.
func (s *Store) WithLock(fn func(*GameState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// Snapshot returns a deep-enough copy of derived state for broadcast,
// taken inside the critical section and safe to use after the lock is
// released (spec §5, §9: "snapshot, release, broadcast").
func (s *Store) Snapshot(self string) domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.state

	snap := domain.Snapshot{
		ProtocolVersion:     domain.ProtocolVersion,
		Self:                self,
		Players:             keys(g.Players),
		ReadyPlayers:        keys(g.ReadyPlayers),
		History:             append([]domain.HistoryEntry(nil), g.History...),
		Archive:             append([][]domain.HistoryEntry(nil), g.Archive...),
		Word:                g.CurrentWord,
		TimeoutMs:           g.CurrentTurnTimeoutMs,
		PlayerVowelPowers:   copyNestedFloat(g.PlayerVowelPowers),
		CursedLetters:       setToSlice(g.CursedLetters),
		DeadLetters:         setToSlice(g.DeadLetters),
		PlayerPhonePads:     copyNestedInt(g.PlayerPhonePads),
		PlayerMaxTimeouts:   copyFlatInt(g.PlayerMaxTimeouts),
		PlayerInabilities:   copyNestedSet(g.PlayerInabilities),
		ActivePlayer:        g.ActivePlayer,
		ActiveMissions:      append([]domain.MissionInstance(nil), g.ActiveMissions...),
		CompletedMissions:   append([]domain.MissionInstance(nil), g.CompletedMissions...),
		ScrambleUIForPlayer: g.ScrambleUIForPlayer,
		ForcedLetter:        g.ForcedLetter,
		GeneratedAt:         time.Now(),
	}
	return snap
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func setToSlice(m map[string]struct{}) []string { return keys(m) }

func copyFlatInt(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyNestedFloat(m map[string]map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(m))
	for k, inner := range m {
		c := make(map[string]float64, len(inner))
		for ik, iv := range inner {
			c[ik] = iv
		}
		out[k] = c
	}
	return out
}

func copyNestedInt(m map[string]map[string]int) map[string]map[string]int {
	out := make(map[string]map[string]int, len(m))
	for k, inner := range m {
		c := make(map[string]int, len(inner))
		for ik, iv := range inner {
			c[ik] = iv
		}
		out[k] = c
	}
	return out
}

func copyNestedSet(m map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, inner := range m {
		out[k] = keys(inner)
	}
	return out
}
