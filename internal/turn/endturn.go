package turn

import (
	"context"
	"log"
	"math/rand"

	"github.com/peerball/peerball/internal/domain"
	"github.com/peerball/peerball/internal/store"
)

// endTurn implements spec §4.5 EndTurn: elect the next holder, update
// turn bookkeeping, dispatch, then reset local turn fields and
// broadcast. newInabilities (may be nil) is merged into the elected
// holder's inabilities — used by combo effects (spec §4.8).
//
// Health-checking a candidate is network I/O, so election happens in
// three phases: snapshot candidate order under the lock, health-check
// outside it, then commit the winner back under the lock (spec §5:
// "snapshots are taken inside the critical section and dispatched
// outside it").
func (c *Controller) endTurn(ctx context.Context, currentPlayer string, nextTimeout int, tags []string, ricochet, mirrorMove bool, newInabilities []string) error {
	var self string
	var order []string
	var resolvedAlready string // set when mirror/ricochet/computer decides the holder without a health check

	c.store.WithLock(func(g *store.GameState) {
		self = g.OwnID

		switch {
		case mirrorMove && len(g.History) > 0:
			last := g.History[len(g.History)-1]
			g.History = g.History[:len(g.History)-1]
			if len(g.History) > 0 {
				prev := g.History[len(g.History)-1]
				g.CurrentWord = prev.Word
				resolvedAlready = prev.Player
			} else {
				g.CurrentWord = ""
				resolvedAlready = last.Player
			}
		case ricochet:
			resolvedAlready = otherPlayer(g, currentPlayer)
		default:
			order = candidateOrder(g, currentPlayer, c.rng)
			for _, candidate := range order {
				if candidate == domain.ComputerID {
					resolvedAlready = domain.ComputerID
					break
				}
			}
		}
	})

	nextHolder := resolvedAlready
	if nextHolder == "" {
		nextHolder = c.healthCheckElection(ctx, order, currentPlayer)
	}

	var ball domain.Ball
	var dispatchKind string

	c.store.WithLock(func(g *store.GameState) {
		if nextHolder == "" {
			nextHolder = currentPlayer
		}

		g.TurnCounts[nextHolder]++
		g.ActivePlayer = nextHolder
		g.PlayerMaxTimeouts[nextHolder] = nextTimeout

		if len(newInabilities) > 0 {
			if g.PlayerInabilities[nextHolder] == nil {
				g.PlayerInabilities[nextHolder] = map[string]struct{}{}
			}
			for _, l := range newInabilities {
				g.PlayerInabilities[nextHolder][l] = struct{}{}
			}
		}
		g.PlayerInabilities[currentPlayer] = map[string]struct{}{}

		ball = BuildBall(g, nextTimeout)
		dispatchKind = dispatchKindFor(g, nextHolder)

		g.CurrentWord = ""
		g.ActivePlayer = ""
	})

	c.dispatch(ctx, dispatchKind, nextHolder, ball, self)
	c.broadcastNow(self)
	return nil
}

// dispatchKindFor classifies how a ball addressed to holder must leave
// this peer: handed to the in-process AI, looped back to self, or sent
// over the network. Must run inside the store's lock since it reads
// g.OwnID.
func dispatchKindFor(g *store.GameState, holder string) string {
	switch {
	case holder == domain.ComputerID:
		return "computer"
	case holder == g.OwnID:
		return "self"
	default:
		return "remote"
	}
}

// dispatch sends ball to holder according to kind, the same branching
// EndTurn and the lifecycle's initial kickoff both need (spec §4.5,
// §4.7: starting a game sends its first ball through this exact path).
func (c *Controller) dispatch(ctx context.Context, kind, holder string, ball domain.Ball, self string) {
	switch kind {
	case "computer":
		c.dispatchToComputer(context.Background(), ball)
	case "self":
		go c.ReceiveBall(context.Background(), ball)
	case "remote":
		go c.dispatchRemote(context.Background(), holder, ball, self)
	}
}

// DispatchFirstBall sends the opening ball of a freshly started game to
// holder, reusing EndTurn's dispatch classification so the lifecycle
// package never has to duplicate the computer/self/remote branch.
// ball must already be fully populated (spec §4.7 StartGame).
func (c *Controller) DispatchFirstBall(ctx context.Context, holder string, ball domain.Ball) {
	var self string
	var kind string
	c.store.WithLock(func(g *store.GameState) {
		self = g.OwnID
		kind = dispatchKindFor(g, holder)
	})
	c.dispatch(ctx, kind, holder, ball, self)
}

// candidateOrder returns every player but currentPlayer, grouped by
// ascending turn_counts and randomly shuffled within each group, so
// the caller can walk it in election-preference order (spec §4.5:
// "pick the candidate(s) with the minimum turn_counts... choose
// uniformly at random among them"). The turn-count ordering computed
// here is overridden by endTurn when domain.ComputerID
// appears anywhere in the result: spec §4.6 makes computer the next
// holder unconditionally whenever it's a candidate, regardless of its
// turn count.
func candidateOrder(g *store.GameState, currentPlayer string, rng *rand.Rand) []string {
	candidates := make([]string, 0, len(g.Players))
	for p := range g.Players {
		if p != currentPlayer {
			candidates = append(candidates, p)
		}
	}
	rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	// Stable-ish sort by turn count only (shuffle above already
	// randomized tie order; Go's sort is not guaranteed stable here but
	// a simple insertion sort over a pre-shuffled slice preserves the
	// random order within equal keys).
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && g.TurnCounts[candidates[j-1]] > g.TurnCounts[candidates[j]]; j-- {
			candidates[j-1], candidates[j] = candidates[j], candidates[j-1]
		}
	}
	return candidates
}

// healthCheckElection walks order, skipping candidates that fail a
// short health check, and returns the first one that answers.
func (c *Controller) healthCheckElection(ctx context.Context, order []string, fallback string) string {
	for _, candidate := range order {
		checkCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthCheckTimeout)
		ok := c.dispatcher.HealthCheck(checkCtx, candidate)
		cancel()
		if ok {
			return candidate
		}
		log.Printf("[turn] candidate %s failed health check, skipping", candidate)
	}
	return ""
}

// BuildBall captures the wire payload addressed to whoever holds the
// ball next, from the live state (must run inside the store's lock).
// Exported so lifecycle can build the opening ball of a fresh game
// with the exact same field-by-field shape EndTurn uses.
func BuildBall(g *store.GameState, timeoutMs int) domain.Ball {
	b := domain.Ball{
		ProtocolVersion:      domain.ProtocolVersion,
		Word:                 g.CurrentWord,
		TimeoutMs:            timeoutMs,
		PlayerVowelPowers:    g.PlayerVowelPowers,
		CursedLetters:        keysOf(g.CursedLetters),
		DeadLetters:          keysOf(g.DeadLetters),
		PlayerPhonePads:      g.PlayerPhonePads,
		PlayerLetterCounts:   g.PlayerLetterCounts,
		PlayerMaxTimeouts:    g.PlayerMaxTimeouts,
		PlayerInabilities:    inabilitiesToWire(g.PlayerInabilities),
		LetterCurseCounts:    g.LetterCurseCounts,
		IncomingPlayers:      keysOf(g.Players),
		IncomingTurnCounts:   g.TurnCounts,
		IncomingReadyPlayers: keysOf(g.ReadyPlayers),
		IncomingHistory:      g.History,
		ScrambleUIForPlayer:  g.ScrambleUIForPlayer,
		ForcedLetter:         g.ForcedLetter,
	}
	for _, m := range g.ActiveMissions {
		b.ActiveMissions = append(b.ActiveMissions, m.Ref())
	}
	for _, m := range g.CompletedMissions {
		b.CompletedMissions = append(b.CompletedMissions, m.Ref())
	}
	return b
}

func keysOf(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func inabilitiesToWire(m map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(m))
	for p, set := range m {
		out[p] = keysOf(set)
	}
	return out
}

// dispatchRemote POSTs Receive-Ball to the next holder (spec §4.5
// dispatch). A transport failure forfeits the game for self — the
// protocol cannot recover the ball once the sender has committed.
func (c *Controller) dispatchRemote(ctx context.Context, nextHolder string, ball domain.Ball, self string) {
	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendBallTimeout)
	defer cancel()

	if err := c.dispatcher.SendBall(sendCtx, nextHolder, ball); err != nil {
		log.Printf("[turn] send-ball to %s failed: %v", nextHolder, err)
		if c.gameOver != nil {
			c.gameOver.GameOver(self, "Failed to deliver the ball to "+nextHolder)
		}
	}
}
