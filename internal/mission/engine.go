package mission

import (
	"math/rand"

	"github.com/peerball/peerball/internal/domain"
)

// Context carries everything a template's progress/trigger/effect
// functions need to evaluate one pass-ball (spec §4.5 step 10's
// context tuple).
type Context struct {
	Player               string
	Letter               string
	NewWord              string
	ResponseTimeMs       int64
	CurrentTurnTimeoutMs int
	History              []domain.HistoryEntry // includes the entry just appended
}

// Effect describes the one-shot state mutation a triggered mission
// wants applied. The turn controller owns the GameState and applies
// whichever fields are non-nil; this keeps the mission package free of
// a dependency on the store package.
type Effect struct {
	Tag string

	OpponentSpeedMultiplierSelf *float64
	PlayerMaxTimeoutMultiply    *float64
	PlayerMaxTimeoutSet         *int
	ScrambleUIForPlayer         *string
	BaseTimeoutModifier         *float64
	ForcedLetter                *string

	Ricochet   bool
	MirrorMove bool
}

// Sample draws n template ids uniformly at random without replacement
// from the ids not already present in exclude, and returns fresh
// instances for them.
func Sample(rng *rand.Rand, exclude map[string]struct{}, n int) []domain.MissionInstance {
	candidates := make([]string, 0, len(AllTemplateIDs))
	for _, id := range AllTemplateIDs {
		if _, skip := exclude[id]; !skip {
			candidates = append(candidates, id)
		}
	}
	rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]domain.MissionInstance, 0, n)
	for _, id := range candidates[:n] {
		out = append(out, NewInstance(id))
	}
	return out
}

// Progress returns inst with CurrentStep advanced per its template's
// progress rule (spec §4.4 table).
func Progress(inst domain.MissionInstance, ctx Context) domain.MissionInstance {
	switch inst.ID {
	case SuiteHarmonique:
		if domain.IsVowel(ctx.Letter) {
			inst.CurrentStep++
		} else {
			inst.CurrentStep = 0
		}
	case MurDeConsonnes:
		if !domain.IsVowel(ctx.Letter) {
			inst.CurrentStep++
		} else {
			inst.CurrentStep = 0
		}
	case FrappeEclair:
		if ctx.CurrentTurnTimeoutMs > 0 && ctx.ResponseTimeMs < int64(ctx.CurrentTurnTimeoutMs)/4 {
			inst.CurrentStep++
		} else {
			inst.CurrentStep = 0
		}
	}
	return inst
}

// Trigger reports whether inst's goal condition is met after the
// progress update (spec §4.4 table).
func Trigger(inst domain.MissionInstance, ctx Context) bool {
	switch inst.ID {
	case SuiteHarmonique:
		return inst.CurrentStep >= 3
	case MurDeConsonnes:
		return inst.CurrentStep >= 4
	case EchoParfait:
		return lastTwoShareEnding(ctx.History)
	case ProgressionAlphabetique:
		return isAlphabeticProgression(ctx.NewWord)
	case SymetrieInversee:
		return isPalindrome(ctx.NewWord) && len(ctx.NewWord) > 1
	case FrappeEclair:
		return inst.CurrentStep >= 3
	case AuBordDuPrecipice:
		return ctx.CurrentTurnTimeoutMs > 0 && float64(ctx.ResponseTimeMs) > 0.9*float64(ctx.CurrentTurnTimeoutMs)
	case PressionConstante:
		return len(ctx.History) > 0 && len(ctx.History)%10 == 0
	case CoupDuDictionnaire:
		return isRareLetter(ctx.Letter)
	case UnionForcee:
		return ctx.Letter == "q"
	default:
		return false
	}
}

// ApplyEffect computes the one-shot effect of a triggering mission.
func ApplyEffect(inst domain.MissionInstance, ctx Context) Effect {
	tag := "mission:" + inst.Name
	switch inst.ID {
	case SuiteHarmonique:
		v := 1.3
		return Effect{Tag: tag, OpponentSpeedMultiplierSelf: &v}
	case MurDeConsonnes:
		v := 1.5
		return Effect{Tag: tag, PlayerMaxTimeoutMultiply: &v}
	case EchoParfait:
		return Effect{Tag: tag, Ricochet: true}
	case ProgressionAlphabetique:
		opponent := "" // resolved by caller: opponent of ctx.Player
		return Effect{Tag: tag, ScrambleUIForPlayer: &opponent}
	case SymetrieInversee:
		return Effect{Tag: tag, MirrorMove: true}
	case FrappeEclair:
		v := 1.2
		return Effect{Tag: tag, OpponentSpeedMultiplierSelf: &v}
	case AuBordDuPrecipice:
		v := domain.MaxTimeoutMs
		return Effect{Tag: tag, PlayerMaxTimeoutSet: &v}
	case PressionConstante:
		v := 0.5
		return Effect{Tag: tag, BaseTimeoutModifier: &v}
	case CoupDuDictionnaire:
		return Effect{Tag: tag} // reserved; no direct state mutation
	case UnionForcee:
		u := "u"
		return Effect{Tag: tag, ForcedLetter: &u}
	default:
		return Effect{Tag: tag}
	}
}

func lastTwoShareEnding(history []domain.HistoryEntry) bool {
	if len(history) < 2 {
		return false
	}
	a := history[len(history)-1].Word
	b := history[len(history)-2].Word
	return domain.LastLetter(a) == domain.LastLetter(b) && domain.LastLetter(a) != ""
}

func isAlphabeticProgression(word string) bool {
	if len(word) < 2 {
		return false
	}
	a := word[len(word)-2]
	b := word[len(word)-1]
	return b == a+1
}

func isPalindrome(word string) bool {
	for i, j := 0, len(word)-1; i < j; i, j = i+1, j-1 {
		if word[i] != word[j] {
			return false
		}
	}
	return true
}

func isRareLetter(letter string) bool {
	switch letter {
	case "k", "w", "x", "y", "z":
		return true
	default:
		return false
	}
}
