// Package mission implements the mission engine (spec §4.4): a library
// of ten templates, progress tracking, trigger evaluation and one-shot
// effects. Each template's three behaviors are implemented as match
// arms over its ID — a tagged-variant instead of stored closures —
// per the redesign direction for a systems-language rewrite: the
// template table stays data-only and trivially serializable.
package mission

import "github.com/peerball/peerball/internal/domain"

// Template ids, stable across the wire (used as domain.MissionInstance.ID
// and domain.MissionRef.ID).
const (
	SuiteHarmonique        = "suite_harmonique"
	MurDeConsonnes         = "mur_de_consonnes"
	EchoParfait            = "echo_parfait"
	ProgressionAlphabetique = "progression_alphabetique"
	SymetrieInversee       = "symetrie_inversee"
	FrappeEclair           = "frappe_eclair"
	AuBordDuPrecipice      = "au_bord_du_precipice"
	PressionConstante      = "pression_constante"
	CoupDuDictionnaire     = "coup_du_dictionnaire"
	UnionForcee            = "union_forcee"
)

// AllTemplateIDs is the fixed template catalog (spec §4.4 table), used
// for initial sampling and for finding replacement candidates.
var AllTemplateIDs = []string{
	SuiteHarmonique,
	MurDeConsonnes,
	EchoParfait,
	ProgressionAlphabetique,
	SymetrieInversee,
	FrappeEclair,
	AuBordDuPrecipice,
	PressionConstante,
	CoupDuDictionnaire,
	UnionForcee,
}

type templateInfo struct {
	name        string
	description string
	goal        int
}

var catalog = map[string]templateInfo{
	SuiteHarmonique:         {"Suite harmonique", "Chain vowel endings to speed up your next turns", 3},
	MurDeConsonnes:          {"Mur de consonnes", "Chain consonant endings to stretch your own timeout", 4},
	EchoParfait:             {"Echo parfait", "End two words in a row on the same letter", 1},
	ProgressionAlphabetique: {"Progression alphabetique", "Play two consecutive letters of the alphabet", 1},
	SymetrieInversee:        {"Symetrie inversee", "Play a palindrome", 1},
	FrappeEclair:            {"Frappe eclair", "Answer fast three times in a row", 3},
	AuBordDuPrecipice:       {"Au bord du precipice", "Answer with almost no time left", 1},
	PressionConstante:       {"Pression constante", "Reach a round number of turns played", 1},
	CoupDuDictionnaire:      {"Coup du dictionnaire", "Play a rare letter", 1},
	UnionForcee:             {"Union forcee", "Play the letter q", 1},
}

// NewInstance builds a fresh MissionInstance for id with current_step 0.
func NewInstance(id string) domain.MissionInstance {
	info := catalog[id]
	return domain.MissionInstance{
		ID:          id,
		Name:        info.name,
		Description: info.description,
		Goal:        info.goal,
		CurrentStep: 0,
	}
}

// IsKnownTemplate reports whether id names one of the ten fixed
// templates. Incoming mission refs with unknown ids are discarded on
// register (spec §4.1).
func IsKnownTemplate(id string) bool {
	_, ok := catalog[id]
	return ok
}

// Reinstantiate rebuilds a live instance from a wire ref, looking up
// the template by id and cloning it with the reported current_step.
// Returns ok=false for an unknown id.
func Reinstantiate(ref domain.MissionRef) (domain.MissionInstance, bool) {
	if !IsKnownTemplate(ref.ID) {
		return domain.MissionInstance{}, false
	}
	inst := NewInstance(ref.ID)
	inst.CurrentStep = ref.CurrentStep
	return inst, true
}
