package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/peerball/peerball/internal/domain"
	"github.com/peerball/peerball/internal/store"
)

// dispatchToComputer runs the single-peer AI opponent (spec §4.6):
// think for a beat, pick a uniformly random letter, and feed the
// result back through the same modifier pipeline a human's pass-ball
// would use, with a synthetic response time.
func (c *Controller) dispatchToComputer(ctx context.Context, ball domain.Ball) {
	go func() {
		select {
		case <-time.After(c.cfg.ComputerThink):
		case <-ctx.Done():
			return
		}

		letter := randomLowercaseLetter(c.rng)
		newWord := ball.Word + letter
		responseMs := int64(300 + c.rng.Intn(601))

		c.commitComputerMove(context.Background(), newWord, responseMs)
	}()
}

// commitComputerMove mirrors PassBall's committed path (spec §4.5
// steps 3-13) for the reserved "computer" player, which is subject to
// the same curse and dead-letter rules a human is (spec §4.6: "computes
// the next payload exactly as a human would"). A forced letter is not
// enforced: it is cleared only when the random letter happens to match.
func (c *Controller) commitComputerMove(ctx context.Context, newWord string, responseMs int64) {
	const player = domain.ComputerID

	var letter string
	var cursedMalus, padMalus bool
	var deadLetterReason string
	var commit bool

	c.store.WithLock(func(g *store.GameState) {
		letter = domain.LastLetter(newWord)

		if g.ForcedLetter != "" && letter == g.ForcedLetter {
			g.ForcedLetter = ""
		}

		if _, dead := g.DeadLetters[letter]; dead {
			deadLetterReason = fmt.Sprintf("Played dead letter %s", letter)
			cancelDeadline(g)
			return
		}

		cancelDeadline(g)
		g.PlayerInabilities[player] = map[string]struct{}{}

		if _, cursed := g.CursedLetters[letter]; cursed {
			delete(g.CursedLetters, letter)
			g.PlayerPhonePads[player] = map[string]int{"2": 0, "3": 0, "4": 0, "5": 0, "6": 0, "7": 0, "8": 0, "9": 0}
			for p := range g.PlayerLetterCounts {
				delete(g.PlayerLetterCounts[p], letter)
			}
			cursedMalus = true
		}

		if col := letterToPad(letter); col != "" {
			if g.PlayerPhonePads[player] == nil {
				g.PlayerPhonePads[player] = map[string]int{}
			}
			if g.PlayerPhonePads[player][col] < domain.PadChargeThreshold {
				g.PlayerPhonePads[player][col]++
			}
		}

		if g.AttackComboPlayer == player {
			padMalus = true
			g.AttackComboPlayer = ""
		}

		g.CurrentWord = newWord
		commit = true
	})

	if deadLetterReason != "" {
		if c.gameOver != nil {
			c.gameOver.GameOver(player, deadLetterReason)
		}
		return
	}
	if !commit {
		return
	}

	c.finishCommit(ctx, player, newWord, letter, responseMs, cursedMalus, padMalus)
}

func randomLowercaseLetter(rng interface{ Intn(int) int }) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	return string(alphabet[rng.Intn(len(alphabet))])
}
