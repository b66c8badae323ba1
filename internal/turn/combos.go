package turn

import (
	"context"

	"github.com/peerball/peerball/internal/domain"
	"github.com/peerball/peerball/internal/observability"
	"github.com/peerball/peerball/internal/store"
)

// comboColumns maps each combo key to the three phone-pad columns that
// must all have charge for it to be available (spec §4.8).
var comboColumns = map[string][3]string{
	"*": {"2", "3", "4"},
	"0": {"5", "6", "7"},
	"#": {"7", "8", "9"},
}

// Combo executes the phone-pad combo keyed by key for the current
// holder (spec §4.8): purge (*), recharge (0), or attack (#). Every
// triggered column's charge resets to zero and the turn ends
// immediately with BaseTimeoutMs.
func (c *Controller) Combo(ctx context.Context, key string) error {
	cols, ok := comboColumns[key]
	if !ok {
		return domain.ErrUnknownComboKey
	}

	var self string
	var ready bool
	var newInabilities []string

	c.store.WithLock(func(g *store.GameState) {
		self = g.OwnID
		pads := g.PlayerPhonePads[self]
		ready = true
		for _, col := range cols {
			if pads[col] < 1 {
				ready = false
				break
			}
		}
		if !ready {
			return
		}
		cancelDeadline(g)

		switch key {
		case "*":
			g.CursedLetters = map[string]struct{}{}
		case "0":
			vp := g.PlayerVowelPowers[self]
			if vp == nil {
				vp = map[string]float64{}
				g.PlayerVowelPowers[self] = vp
			}
			for i := 0; i < len(domain.Vowels); i++ {
				vp[string(domain.Vowels[i])] = domain.MaxVowelPower
			}
		case "#":
			letters := map[string]struct{}{}
			for _, col := range cols {
				for letter, letterCol := range padToLetters {
					if letterCol == col {
						letters[letter] = struct{}{}
					}
				}
			}
			for l := range letters {
				newInabilities = append(newInabilities, l)
			}
			g.AttackComboPlayer = self
		}

		for _, col := range cols {
			pads[col] = 0
		}
	})

	if !ready {
		return domain.ErrComboNotReady
	}

	observability.TurnsCompleted.WithLabelValues("combo").Inc()
	return c.endTurn(ctx, self, domain.BaseTimeoutMs, []string{"combo " + key}, false, false, newInabilities)
}

// PowerUp resets every peer's phone pads to zero and ends the turn at
// BaseTimeoutMs (spec §4.8), available only when every column 2..9 has
// charge on the current holder's pad.
func (c *Controller) PowerUp(ctx context.Context) error {
	var self string
	var ready, hasPad bool

	c.store.WithLock(func(g *store.GameState) {
		self = g.OwnID
		pads, ok := g.PlayerPhonePads[self]
		if !ok {
			return
		}
		hasPad = true
		ready = true
		for col := 2; col <= 9; col++ {
			if pads[digitString(col)] < 1 {
				ready = false
				break
			}
		}
		if !ready {
			return
		}
		cancelDeadline(g)
		for p := range g.PlayerPhonePads {
			for col := 2; col <= 9; col++ {
				g.PlayerPhonePads[p][digitString(col)] = 0
			}
		}
	})

	if !hasPad {
		return domain.ErrNoPhonePad
	}
	if !ready {
		return domain.ErrPowerUpNotReady
	}

	observability.TurnsCompleted.WithLabelValues("power_up").Inc()
	return c.endTurn(ctx, self, domain.BaseTimeoutMs, []string{"power-up"}, false, false, nil)
}

// padToLetters maps every letter to its phone-pad column, the same
// mapping letterToPad uses, keyed by string; the Attack combo scans it
// to resolve which letters become blocked.
var padToLetters = map[string]string{
	"a": "2", "b": "2", "c": "2",
	"d": "3", "e": "3", "f": "3",
	"g": "4", "h": "4", "i": "4",
	"j": "5", "k": "5", "l": "5",
	"m": "6", "n": "6", "o": "6",
	"p": "7", "q": "7", "r": "7", "s": "7",
	"t": "8", "u": "8", "v": "8",
	"w": "9", "x": "9", "y": "9", "z": "9",
}

func digitString(d int) string {
	return string(rune('0' + d))
}
