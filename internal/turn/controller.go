// Package turn implements the per-turn lifecycle (spec §4.5): receive,
// validate, mutate modifiers, elect the next holder, dispatch. Every
// collaborator the controller needs — the outbound sender, the
// health-checker, the broadcaster, the game-over escalation path — is
// injected as an interface rather than imported directly, so tests can
// stub each of them (spec §9: "pass them in by interface, not
// import"). This mirrors executor.Executor's submit -> execute ->
// complete/fail lifecycle, generalized from a worker-count semaphore to
// a single-slot "one turn in flight" gate.
package turn

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/peerball/peerball/internal/domain"
	"github.com/peerball/peerball/internal/mission"
	"github.com/peerball/peerball/internal/observability"
	"github.com/peerball/peerball/internal/store"
	"github.com/peerball/peerball/internal/timeoutcalc"
)

// Dispatcher sends a ball to a remote peer and health-checks peers
// during next-holder election. Production implementations use bounded
// HTTP timeouts (spec §5: send_ball ~2s, health-check ~500ms).
type Dispatcher interface {
	SendBall(ctx context.Context, peerAddr string, ball domain.Ball) error
	HealthCheck(ctx context.Context, peerAddr string) bool
}

// Broadcaster fans out the derived state snapshot to UI subscribers.
type Broadcaster interface {
	Broadcast(snap domain.Snapshot)
}

// GameOverHandler is the lifecycle component's escalation path: the
// turn controller never owns game-over/reset itself (spec §4.7 does),
// it only calls into it.
type GameOverHandler interface {
	GameOver(loser, reason string)
}

// Config bounds the controller's own timers (spec §5).
type Config struct {
	SendBallTimeout    time.Duration
	HealthCheckTimeout time.Duration
	ComputerThink      time.Duration
}

func DefaultConfig() Config {
	return Config{
		SendBallTimeout:    2 * time.Second,
		HealthCheckTimeout: 500 * time.Millisecond,
		ComputerThink:      1 * time.Second,
	}
}

// Controller owns the turn lifecycle for one peer.
type Controller struct {
	store       *store.Store
	dispatcher  Dispatcher
	broadcaster Broadcaster
	gameOver    GameOverHandler
	cfg         Config
	rng         *rand.Rand
}

func New(s *store.Store, d Dispatcher, b Broadcaster, cfg Config) *Controller {
	return &Controller{
		store:       s,
		dispatcher:  d,
		broadcaster: b,
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetGameOverHandler completes the wiring between turn and lifecycle,
// which must be constructed after the controller since lifecycle
// itself depends on the controller to dispatch the first ball.
func (c *Controller) SetGameOverHandler(h GameOverHandler) { c.gameOver = h }

func (c *Controller) broadcastNow(self string) {
	if c.broadcaster == nil {
		return
	}
	snap := c.store.Snapshot(self)
	c.broadcaster.Broadcast(snap)
}

// ReceiveBall adopts an incoming ball as this peer's current turn
// (spec §4.5 Receive-Ball): cancel any prior deadline, merge state,
// arm a fresh single-shot deadline, broadcast.
func (c *Controller) ReceiveBall(ctx context.Context, ball domain.Ball) {
	if ball.ProtocolVersion != domain.ProtocolVersion {
		log.Printf("[turn] receive-ball: protocol version %d, expected %d", ball.ProtocolVersion, domain.ProtocolVersion)
	}
	var self string
	c.store.WithLock(func(g *store.GameState) {
		self = g.OwnID
		cancelDeadline(g)
		mergeBallIntoState(g, ball)
		g.GameOverHandled = false

		g.TurnStartTime = time.Now()
		g.ActivePlayer = g.OwnID
		g.CurrentWord = ball.Word
		g.CurrentTurnTimeoutMs = ball.TimeoutMs

		g.DeadlineTimer = time.AfterFunc(time.Duration(ball.TimeoutMs)*time.Millisecond, func() {
			c.HandleDeadlineExpiry(g.OwnID)
		})
	})
	c.broadcastNow(self)
}

func cancelDeadline(g *store.GameState) {
	if g.DeadlineTimer != nil {
		g.DeadlineTimer.Stop()
		g.DeadlineTimer = nil
	}
}

func mergeBallIntoState(g *store.GameState, ball domain.Ball) {
	for p, vp := range ball.PlayerVowelPowers {
		g.PlayerVowelPowers[p] = vp
	}
	for p, pads := range ball.PlayerPhonePads {
		g.PlayerPhonePads[p] = pads
	}
	for p, lc := range ball.PlayerLetterCounts {
		g.PlayerLetterCounts[p] = lc
	}
	for p, mt := range ball.PlayerMaxTimeouts {
		g.PlayerMaxTimeouts[p] = mt
	}
	for p, letters := range ball.PlayerInabilities {
		set := make(map[string]struct{}, len(letters))
		for _, l := range letters {
			set[l] = struct{}{}
		}
		g.PlayerInabilities[p] = set
	}
	for _, l := range ball.CursedLetters {
		g.CursedLetters[l] = struct{}{}
	}
	for _, l := range ball.DeadLetters {
		g.DeadLetters[l] = struct{}{}
	}
	for l, lvl := range ball.LetterCurseCounts {
		g.LetterCurseCounts[l] = lvl
	}

	g.ActiveMissions = reconstructMissions(ball.ActiveMissions)
	g.CompletedMissions = reconstructMissions(ball.CompletedMissions)

	for _, p := range ball.IncomingPlayers {
		g.Players[p] = struct{}{}
		g.EnsureParticipant(p)
	}
	for p, tc := range ball.IncomingTurnCounts {
		g.TurnCounts[p] = tc
	}
	for _, p := range ball.IncomingReadyPlayers {
		g.ReadyPlayers[p] = struct{}{}
	}
	if len(ball.IncomingHistory) > len(g.History) {
		g.History = ball.IncomingHistory
	}

	g.ForcedLetter = ball.ForcedLetter
	g.ScrambleUIForPlayer = ball.ScrambleUIForPlayer
}

func reconstructMissions(refs []domain.MissionRef) []domain.MissionInstance {
	out := make([]domain.MissionInstance, 0, len(refs))
	for _, ref := range refs {
		inst, ok := mission.Reinstantiate(ref)
		if !ok {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// HandleDeadlineExpiry is invoked when a turn's deadline timer fires
// uncancelled: the peer holding the ball loses (spec §4.5 step 4).
func (c *Controller) HandleDeadlineExpiry(self string) {
	observability.DeadlinesExpired.Inc()
	if c.gameOver == nil {
		log.Printf("[turn] deadline expired for %s but no game-over handler wired", self)
		return
	}
	c.gameOver.GameOver(self, "Turn deadline expired")
}

// PassBall validates and commits a pass-ball request (spec §4.5
// Pass-Ball). Preconditions fail the request with a sentinel error and
// leave state untouched, except where spec.md's dead-letter clause
// says otherwise.
func (c *Controller) PassBall(ctx context.Context, newWord string, clientTimestampMs int64) error {
	type precheck struct {
		letter       string
		deadLetter   bool
		reason       string
		responseMs   int64
		cursedMalus  bool
		padMalus     bool
	}

	var pc precheck
	var self string
	var commit bool
	var failErr error

	c.store.WithLock(func(g *store.GameState) {
		self = g.OwnID

		if g.CurrentWord == "" || g.CurrentWord == domain.GameStarting {
			failErr = domain.ErrNoCurrentTurn
			return
		}
		if len(newWord) != len(g.CurrentWord)+1 || newWord[:len(g.CurrentWord)] != g.CurrentWord {
			failErr = domain.ErrInvalidWord
			return
		}
		letter := domain.LastLetter(newWord)

		if g.ForcedLetter != "" && letter != g.ForcedLetter {
			failErr = domain.ErrForcedLetterMismatch
			return
		}

		if _, dead := g.DeadLetters[letter]; dead {
			pc.deadLetter = true
			pc.letter = letter
			pc.reason = fmt.Sprintf("Played dead letter %s", letter)
			cancelDeadline(g)
			return
		}

		if inab, ok := g.PlayerInabilities[self]; ok {
			if _, blocked := inab[letter]; blocked {
				failErr = domain.ErrLetterBlocked
				return
			}
		}

		// Committed path begins (spec §4.5 steps 1-6).
		cancelDeadline(g)
		g.PlayerInabilities[self] = map[string]struct{}{}
		if g.ForcedLetter == letter {
			g.ForcedLetter = ""
		}
		g.CurrentWord = newWord

		var responseMs int64
		if g.TurnStartTime.IsZero() {
			responseMs = int64(g.CurrentTurnTimeoutMs)
		} else {
			responseMs = clientTimestampMs - g.TurnStartTime.UnixMilli()
		}
		pc.responseMs = responseMs
		pc.letter = letter

		if _, cursed := g.CursedLetters[letter]; cursed {
			delete(g.CursedLetters, letter)
			g.PlayerPhonePads[self] = map[string]int{"2": 0, "3": 0, "4": 0, "5": 0, "6": 0, "7": 0, "8": 0, "9": 0}
			for p := range g.PlayerLetterCounts {
				delete(g.PlayerLetterCounts[p], letter)
			}
			pc.cursedMalus = true
		}

		col := letterToPad(letter)
		if col != "" {
			if g.PlayerPhonePads[self] == nil {
				g.PlayerPhonePads[self] = map[string]int{}
			}
			if g.PlayerPhonePads[self][col] < domain.PadChargeThreshold {
				g.PlayerPhonePads[self][col]++
			}
		}

		if g.AttackComboPlayer == self {
			pc.padMalus = true
			g.AttackComboPlayer = ""
		}

		commit = true
	})

	if failErr != nil {
		return failErr
	}

	if pc.deadLetter {
		observability.TurnsCompleted.WithLabelValues("dead_letter").Inc()
		if c.gameOver != nil {
			c.gameOver.GameOver(self, pc.reason)
		}
		return nil
	}

	if !commit {
		return domain.ErrWordContention
	}

	observability.TurnResponseTime.Observe(float64(pc.responseMs))
	return c.finishCommit(ctx, self, newWord, pc.letter, pc.responseMs, pc.cursedMalus, pc.padMalus)
}

// finishCommit runs steps 7-13 of Pass-Ball (timeout calc, curse
// escalation, missions, next-timeout adjustments) and hands off to
// EndTurn.
func (c *Controller) finishCommit(ctx context.Context, self, newWord, letter string, responseMs int64, cursedMalus, padMalus bool) error {
	var nextTimeout int
	var tags []string
	var ricochet, mirrorMove bool

	c.store.WithLock(func(g *store.GameState) {
		vp := g.PlayerVowelPowers[self]
		res := timeoutcalc.Compute(timeoutcalc.Input{
			ResponseTimeMs:   responseMs,
			NewWord:          newWord,
			PlayerVowelPower: vp,
			CursedMalus:      cursedMalus,
			PadComboMalus:    padMalus,
		})
		for v, p := range res.NewVowelPower {
			if g.PlayerVowelPowers[self] == nil {
				g.PlayerVowelPowers[self] = map[string]float64{}
			}
			g.PlayerVowelPowers[self][v] = p
		}
		nextTimeout = res.FinalTimeoutMs
		tags = append(tags, res.AppliedTags...)
		observability.TimeoutComputed.Observe(float64(res.FinalTimeoutMs))

		entry := domain.HistoryEntry{
			Player:           self,
			Word:             newWord,
			ResponseTimeMs:   responseMs,
			AppliedModifiers: append([]string(nil), tags...),
			TimeoutLog:       res.Log,
		}
		g.History = append(g.History, entry)
		observability.TurnsCompleted.WithLabelValues("normal").Inc()

		// Letter-count & curse escalation (spec §4.5 step 8).
		if g.PlayerLetterCounts[self] == nil {
			g.PlayerLetterCounts[self] = map[string]int{}
		}
		g.PlayerLetterCounts[self][letter]++
		if g.PlayerLetterCounts[self][letter] >= domain.CurseThreshold {
			switch g.LetterCurseCounts[letter] {
			case 0:
				g.CursedLetters[letter] = struct{}{}
				g.LetterCurseCounts[letter] = 1
			case 1:
				delete(g.CursedLetters, letter)
				g.DeadLetters[letter] = struct{}{}
				g.LetterCurseCounts[letter] = 2
			}
			g.PlayerLetterCounts[self][letter] = 0
		}

		// Mission progress & trigger (spec §4.5 steps 9-10).
		mctx := mission.Context{
			Player:               self,
			Letter:               letter,
			NewWord:              newWord,
			ResponseTimeMs:       responseMs,
			CurrentTurnTimeoutMs: g.CurrentTurnTimeoutMs,
			History:              g.History,
		}

		var stillActive []domain.MissionInstance
		var triggeredTags []string
		for _, inst := range g.ActiveMissions {
			inst = mission.Progress(inst, mctx)
			if mission.Trigger(inst, mctx) {
				eff := mission.ApplyEffect(inst, mctx)
				triggeredTags = append(triggeredTags, eff.Tag)
				observability.MissionsTriggered.WithLabelValues(inst.ID).Inc()
				applyMissionEffect(g, self, eff)
				if eff.Ricochet {
					ricochet = true
				}
				if eff.MirrorMove {
					mirrorMove = true
				}
				g.CompletedMissions = append(g.CompletedMissions, inst)
				if replacement, ok := sampleReplacement(c.rng, g); ok {
					stillActive = append(stillActive, replacement)
				}
			} else {
				stillActive = append(stillActive, inst)
			}
		}
		g.ActiveMissions = stillActive
		tags = append(tags, triggeredTags...)
		if len(g.History) > 0 {
			g.History[len(g.History)-1].AppliedModifiers = append(g.History[len(g.History)-1].AppliedModifiers, triggeredTags...)
		}

		// Speed multiplier & base decay (spec §4.5 steps 11-12).
		if mult, ok := g.OpponentSpeedMultiplier[self]; ok && mult != 0 {
			nextTimeout = int(float64(nextTimeout) / mult)
			delete(g.OpponentSpeedMultiplier, self)
		}
		nextTimeout = int(float64(nextTimeout) * g.BaseTimeoutModifier)
		if nextTimeout < domain.MinTimeoutMs {
			nextTimeout = domain.MinTimeoutMs
		}
	})

	return c.endTurn(ctx, self, nextTimeout, tags, ricochet, mirrorMove, nil)
}

func sampleReplacement(rng *rand.Rand, g *store.GameState) (domain.MissionInstance, bool) {
	seen := map[string]struct{}{}
	for _, m := range g.ActiveMissions {
		seen[m.ID] = struct{}{}
	}
	for _, m := range g.CompletedMissions {
		seen[m.ID] = struct{}{}
	}
	sampled := mission.Sample(rng, seen, 1)
	if len(sampled) == 0 {
		return domain.MissionInstance{}, false
	}
	return sampled[0], true
}

func applyMissionEffect(g *store.GameState, self string, eff mission.Effect) {
	if eff.OpponentSpeedMultiplierSelf != nil {
		g.OpponentSpeedMultiplier[self] = *eff.OpponentSpeedMultiplierSelf
	}
	if eff.PlayerMaxTimeoutMultiply != nil {
		g.PlayerMaxTimeouts[self] = int(float64(g.PlayerMaxTimeouts[self]) * *eff.PlayerMaxTimeoutMultiply)
	}
	if eff.PlayerMaxTimeoutSet != nil {
		g.PlayerMaxTimeouts[self] = *eff.PlayerMaxTimeoutSet
	}
	if eff.ScrambleUIForPlayer != nil {
		opponent := otherPlayer(g, self)
		g.ScrambleUIForPlayer = opponent
	}
	if eff.BaseTimeoutModifier != nil {
		g.BaseTimeoutModifier = *eff.BaseTimeoutModifier
	}
	if eff.ForcedLetter != nil {
		g.ForcedLetter = *eff.ForcedLetter
	}
}

func otherPlayer(g *store.GameState, self string) string {
	for p := range g.Players {
		if p != self {
			return p
		}
	}
	return ""
}

func letterToPad(letter string) string {
	pad := map[byte]string{
		'a': "2", 'b': "2", 'c': "2",
		'd': "3", 'e': "3", 'f': "3",
		'g': "4", 'h': "4", 'i': "4",
		'j': "5", 'k': "5", 'l': "5",
		'm': "6", 'n': "6", 'o': "6",
		'p': "7", 'q': "7", 'r': "7", 's': "7",
		't': "8", 'u': "8", 'v': "8",
		'w': "9", 'x': "9", 'y': "9", 'z': "9",
	}
	if len(letter) != 1 {
		return ""
	}
	return pad[letter[0]]
}
