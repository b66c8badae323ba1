// Package lifecycle owns readiness and the game start/reset machine
// (spec §4.7): Ready, NotifyReady, the start-condition check and
// initiator election, StartGame, GameOver, Rematch. It implements
// turn.GameOverHandler so the turn controller never owns reset logic
// itself, mirroring the teacher's api/engagement.go lifecycle
// accessors (current -> progress -> next) adapted from a streak/level
// ladder to a ready-set -> initiator -> start/reset ladder.
package lifecycle

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/peerball/peerball/internal/domain"
	"github.com/peerball/peerball/internal/mission"
	"github.com/peerball/peerball/internal/observability"
	"github.com/peerball/peerball/internal/store"
	"github.com/peerball/peerball/internal/turn"
)

// PeerNotifier pushes a ready notification to one remote peer.
type PeerNotifier interface {
	NotifyReady(ctx context.Context, peerAddr string) error
}

// Broadcaster fans out the derived snapshot to UI subscribers. Kept as
// its own interface (rather than reusing turn.Broadcaster) so lifecycle
// never imports anything turn doesn't already export — spec §9's
// "pass them in by interface, not import" applies here too.
type Broadcaster interface {
	Broadcast(snap domain.Snapshot)
}

// Manager owns ready-set bookkeeping and the start/reset transitions
// for one peer.
type Manager struct {
	store       *store.Store
	controller  *turn.Controller
	notifier    PeerNotifier
	broadcaster Broadcaster
	rng         *rand.Rand
}

// New wires a Manager and completes the back-reference the turn
// controller needs to escalate a dead deadline or a failed dispatch
// into GameOver (turn.Controller.SetGameOverHandler).
func New(s *store.Store, c *turn.Controller, notifier PeerNotifier, b Broadcaster) *Manager {
	m := &Manager{
		store:       s,
		controller:  c,
		notifier:    notifier,
		broadcaster: b,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.SetGameOverHandler(m)
	return m
}

func (m *Manager) broadcastNow(self string) {
	if m.broadcaster == nil {
		return
	}
	m.broadcaster.Broadcast(m.store.Snapshot(self))
}

// Ready adds self to ready_players (spec §4.7). Alone, the single-peer
// AI opponent is injected as a ready participant so the start
// condition can be met without a second human. Otherwise every other
// known player is notified so their own ready-set converges.
func (m *Manager) Ready(ctx context.Context) {
	var self string
	var alone bool

	m.store.WithLock(func(g *store.GameState) {
		self = g.OwnID
		g.ReadyPlayers[self] = struct{}{}
		if len(g.Players) == 1 {
			g.Players[domain.ComputerID] = struct{}{}
			g.EnsureParticipant(domain.ComputerID)
			g.ReadyPlayers[domain.ComputerID] = struct{}{}
			alone = true
		}
	})

	if !alone {
		m.notifyPeers(ctx, self)
	}
	m.broadcastNow(self)
	m.maybeStart(ctx, self)
}

func (m *Manager) notifyPeers(ctx context.Context, self string) {
	if m.notifier == nil {
		return
	}
	var peers []string
	m.store.WithLock(func(g *store.GameState) {
		for p := range g.Players {
			if p != self && p != domain.ComputerID {
				peers = append(peers, p)
			}
		}
	})
	for _, peer := range peers {
		go func(peer string) {
			if err := m.notifier.NotifyReady(context.WithoutCancel(ctx), peer); err != nil {
				log.Printf("[lifecycle] notify-ready to %s failed: %v", peer, err)
			}
		}(peer)
	}
}

// NotifyReady records that peer has readied up (spec §4.7). Called by
// the HTTP layer when a remote peer's Ready call reaches this peer.
func (m *Manager) NotifyReady(ctx context.Context, peer string) {
	var self string
	m.store.WithLock(func(g *store.GameState) {
		self = g.OwnID
		g.EnsureParticipant(peer)
		g.ReadyPlayers[peer] = struct{}{}
	})
	m.broadcastNow(self)
	m.maybeStart(ctx, self)
}

// maybeStart evaluates the start condition (spec §4.7: players subset
// of ready_players, at least one ready player, no word in flight) and
// invokes StartGame only when self is the lexicographically smallest
// player — the sole initiator.
func (m *Manager) maybeStart(ctx context.Context, self string) {
	var start bool

	m.store.WithLock(func(g *store.GameState) {
		if g.CurrentWord != "" || len(g.ReadyPlayers) == 0 {
			return
		}
		for p := range g.Players {
			if _, ready := g.ReadyPlayers[p]; !ready {
				return
			}
		}
		start = initiatorOf(g.Players) == self
	})

	if start {
		m.StartGame(ctx)
	}
}

// initiatorOf returns the lexicographically smallest real peer in
// players. domain.ComputerID is excluded: it never runs a process, so
// electing it as initiator would mean StartGame is never called (spec
// §4.7's worked single-peer scenario requires the real peer to start
// the game even though "computer" sorts first against any hostname
// that compares greater than it, such as "localhost").
func initiatorOf(players map[string]struct{}) string {
	var min string
	for p := range players {
		if p == domain.ComputerID {
			continue
		}
		if min == "" || p < min {
			min = p
		}
	}
	return min
}

// StartGame reinitialises modifier substate, selects the opening
// missions, picks a random starting letter, and dispatches the first
// ball to the initiator (spec §4.7 StartGame). Only ever invoked when
// self is the initiator.
func (m *Manager) StartGame(ctx context.Context) {
	var self, holder string
	var ball domain.Ball

	m.store.WithLock(func(g *store.GameState) {
		self = g.OwnID
		holder = initiatorOf(g.Players)

		g.PlayerVowelPowers = map[string]map[string]float64{}
		g.PlayerPhonePads = map[string]map[string]int{}
		g.PlayerLetterCounts = map[string]map[string]int{}
		g.PlayerMaxTimeouts = map[string]int{}
		g.PlayerInabilities = map[string]map[string]struct{}{}
		g.CursedLetters = map[string]struct{}{}
		g.DeadLetters = map[string]struct{}{}
		g.LetterCurseCounts = map[string]int{}
		g.OpponentSpeedMultiplier = map[string]float64{}
		g.BaseTimeoutModifier = 1.0
		g.ForcedLetter = ""
		g.ScrambleUIForPlayer = ""
		g.AttackComboPlayer = ""
		g.GameOverHandled = false
		g.History = nil

		for p := range g.Players {
			g.EnsureParticipant(p)
		}

		g.ActiveMissions = mission.Sample(m.rng, nil, 3)
		g.CompletedMissions = nil

		g.CurrentWord = randomLowercaseLetter(m.rng)
		g.CurrentTurnTimeoutMs = domain.BaseTimeoutMs
		g.TurnCounts[holder]++
		g.ActivePlayer = holder
		g.PlayerMaxTimeouts[holder] = domain.BaseTimeoutMs

		ball = turn.BuildBall(g, domain.BaseTimeoutMs)
	})

	observability.GamesStarted.Inc()
	m.controller.DispatchFirstBall(ctx, holder, ball)
	m.broadcastNow(self)
}

// GameOver archives the current history (if any), records the loser,
// fully resets modifier and turn state, and broadcasts (spec §4.7).
// Idempotent: a second call against an already-reset peer is a no-op,
// satisfying spec §8's idempotence property.
func (m *Manager) GameOver(loser, reason string) {
	var self string
	var handled bool

	m.store.WithLock(func(g *store.GameState) {
		self = g.OwnID
		if g.GameOverHandled {
			handled = true
			return
		}
		if g.DeadlineTimer != nil {
			g.DeadlineTimer.Stop()
			g.DeadlineTimer = nil
		}
		if len(g.History) > 0 {
			g.Archive = append(g.Archive, g.History)
		}
		g.History = nil
		g.LastLoser = loser
		g.CurrentWord = ""
		g.ActivePlayer = ""
		g.ForcedLetter = ""
		g.ScrambleUIForPlayer = ""
		g.AttackComboPlayer = ""
		g.BaseTimeoutModifier = 1.0
		g.OpponentSpeedMultiplier = map[string]float64{}
		g.PlayerInabilities = map[string]map[string]struct{}{}
		g.PlayerVowelPowers = map[string]map[string]float64{}
		g.PlayerPhonePads = map[string]map[string]int{}
		g.PlayerLetterCounts = map[string]map[string]int{}
		g.PlayerMaxTimeouts = map[string]int{}
		g.CursedLetters = map[string]struct{}{}
		g.DeadLetters = map[string]struct{}{}
		g.LetterCurseCounts = map[string]int{}
		for p := range g.Players {
			g.EnsureParticipant(p)
		}
		g.ActiveMissions = nil
		g.CompletedMissions = nil
		g.ReadyPlayers = map[string]struct{}{}
		g.GameOverHandled = true
	})

	if handled {
		return
	}
	observability.GamesOver.WithLabelValues(reasonCategory(reason)).Inc()
	log.Printf("[lifecycle] game over: %s lost (%s)", loser, reason)
	m.broadcastNow(self)
}

// reasonCategory buckets a free-form GameOver reason into a small,
// bounded label so the metric's cardinality doesn't grow with every
// distinct dead letter or peer address mentioned in the reason text.
func reasonCategory(reason string) string {
	switch {
	case strings.Contains(reason, "dead letter"):
		return "dead_letter"
	case strings.Contains(reason, "deadline expired"):
		return "deadline_expired"
	case strings.Contains(reason, "Failed to deliver"):
		return "dispatch_failed"
	default:
		return "other"
	}
}

// Rematch archives the current game, keeps the player set, re-marks
// everyone ready, and lets the initiator start a fresh game (spec
// §4.7). Modifier reinitialisation and mission reselection happen
// inside StartGame, which maybeStart invokes when self is the
// initiator.
func (m *Manager) Rematch(ctx context.Context) {
	var self string

	m.store.WithLock(func(g *store.GameState) {
		self = g.OwnID
		if len(g.History) > 0 {
			g.Archive = append(g.Archive, g.History)
		}
		g.History = nil
		g.CurrentWord = ""
		g.ActivePlayer = ""
		g.ReadyPlayers = map[string]struct{}{}
		for p := range g.Players {
			g.ReadyPlayers[p] = struct{}{}
		}
		g.GameOverHandled = false
	})

	m.broadcastNow(self)
	m.maybeStart(ctx, self)
}

func randomLowercaseLetter(rng *rand.Rand) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	return string(alphabet[rng.Intn(len(alphabet))])
}
