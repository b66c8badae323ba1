// Package timeoutcalc implements the pure timeout-calculation function
// that turns a response time and letter into the next turn's deadline.
// It has no side effects and touches no shared state: callers own all
// persistence of the returned vowel power.
package timeoutcalc

import (
	"math"
	"strconv"

	"github.com/peerball/peerball/internal/domain"
)

// Input is everything the calculator needs to produce one turn's
// timeout (spec §4.3).
type Input struct {
	ResponseTimeMs  int64
	NewWord         string
	PlayerVowelPower map[string]float64 // keyed by single-letter vowel, defaults to 1.0
	CursedMalus     bool
	PadComboMalus   bool
}

// Result carries the computed timeout plus every tag and log value
// needed for observability and for the caller to persist vowel power.
type Result struct {
	FinalTimeoutMs   int
	AppliedTags      []string
	NewVowelPower    map[string]float64 // only the entries touched; merge into caller's map
	Log              domain.TimeoutLog
}

// Compute implements spec §4.3's algorithm exactly, including its
// worked constants (BASE_TIMEOUT, MIN_TIMEOUT, MAX_TIMEOUT, the
// recharge rate) and its ordering of malus multipliers.
func Compute(in Input) Result {
	var tags []string
	newPower := map[string]float64{}

	speedBonus := float64(5000-in.ResponseTimeMs) * 1.5

	letter := domain.LastLetter(in.NewWord)
	var vowelBonus float64
	var vowelPowerUsed float64
	isVowel := domain.IsVowel(letter)

	if isVowel {
		p := 1.0
		if v, ok := in.PlayerVowelPower[letter]; ok {
			p = v
		}
		vowelPowerUsed = p
		vowelBonus = -7500 * p
		newPower[letter] = p / 2
		tags = append(tags, vowelTag(p))
	} else {
		recharged := false
		for i := 0; i < len(domain.Vowels); i++ {
			v := string(domain.Vowels[i])
			cur := 1.0
			if existing, ok := in.PlayerVowelPower[v]; ok {
				cur = existing
			}
			if cur < domain.MaxVowelPower {
				next := cur + domain.VowelPowerRechargeRate
				if next > domain.MaxVowelPower {
					next = domain.MaxVowelPower
				}
				newPower[v] = next
				recharged = true
			}
		}
		if recharged {
			tags = append(tags, "recharge")
		}
	}

	final := float64(domain.BaseTimeoutMs) + speedBonus + vowelBonus

	if in.CursedMalus {
		final *= 0.25
		tags = append(tags, "maudite")
	}
	if in.PadComboMalus {
		final *= 0.5
		tags = append(tags, "combo #")
	}
	if speedBonus > 0 {
		tags = append(tags, "vitesse")
	}

	preClamp := final
	final = math.Round(clamp(final, domain.MinTimeoutMs, domain.MaxTimeoutMs))

	return Result{
		FinalTimeoutMs: int(final),
		AppliedTags:    tags,
		NewVowelPower:  newPower,
		Log: domain.TimeoutLog{
			ResponseTimeMs: in.ResponseTimeMs,
			SpeedBonus:     speedBonus,
			Letter:         letter,
			IsVowel:        isVowel,
			VowelBonus:     vowelBonus,
			VowelPowerUsed: vowelPowerUsed,
			CursedMalus:    in.CursedMalus,
			PadComboMalus:  in.PadComboMalus,
			PreClamp:       preClamp,
			Final:          int(final),
		},
	}
}

func clamp(v float64, lo, hi int) float64 {
	if v < float64(lo) {
		return float64(lo)
	}
	if v > float64(hi) {
		return float64(hi)
	}
	return v
}

func vowelTag(power float64) string {
	pct := int(math.Round(power * 100))
	return "voyelle (" + strconv.Itoa(pct) + "%)"
}
