// Package domain contains pure business types for the word-ball game.
// Zero infrastructure imports: no net/http, no database driver, no
// concurrency primitives — those belong to the layers that use these
// types.
package domain

import "time"

// ProtocolVersion tags every Ball and Snapshot exchanged between peers.
// The source protocol this was distilled from carried no version field;
// peers here log a mismatch but never refuse a payload over it — there
// is no negotiation, only an observability hook for the operator.
const ProtocolVersion = 1

// ComputerID is the reserved peer identifier for the single-peer AI
// opponent.
const ComputerID = "computer"

// GameStarting is the sentinel value held by CurrentWord during the
// brief interval between a start decision and the first Receive-Ball.
const GameStarting = "game_starting"

// Vowels is the fixed vowel set used by the timeout calculator and the
// mission engine.
const Vowels = "aeiouy"

const (
	MaxVowelPower          = 2.0
	VowelPowerRechargeRate = 0.25
	PadChargeThreshold     = 3
	CurseThreshold         = 3

	BaseTimeoutMs = 15000
	MinTimeoutMs  = 3000
	MaxTimeoutMs  = 60000
)

// IsVowel reports whether the single-character letter l is a vowel.
func IsVowel(l string) bool {
	return len(l) == 1 && indexByte(Vowels, l[0]) >= 0
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// LastLetter returns the final character of word as a single-character
// string, or "" if word is empty.
func LastLetter(word string) string {
	if word == "" {
		return ""
	}
	return string(word[len(word)-1])
}

// ─── Peer & turn bookkeeping ────────────────────────────────────────────────

// TimeoutLog carries every intermediate value the timeout calculator
// produced, for observability (§4.3 log record).
type TimeoutLog struct {
	ResponseTimeMs int64   `json:"response_time_ms"`
	SpeedBonus     float64 `json:"speed_bonus"`
	Letter         string  `json:"letter"`
	IsVowel        bool    `json:"is_vowel"`
	VowelBonus     float64 `json:"vowel_bonus"`
	VowelPowerUsed float64 `json:"vowel_power_used,omitempty"`
	CursedMalus    bool    `json:"cursed_malus"`
	PadComboMalus  bool    `json:"pad_combo_malus"`
	PreClamp       float64 `json:"pre_clamp"`
	Final          int     `json:"final"`
}

// HistoryEntry records one committed turn.
type HistoryEntry struct {
	Player           string     `json:"player"`
	Word             string     `json:"word"`
	ResponseTimeMs   int64      `json:"response_time_ms"`
	AppliedModifiers []string   `json:"applied_modifiers"`
	TimeoutLog       TimeoutLog `json:"timeout_log"`
}

// MissionRef is the wire form of a mission instance: stable id plus
// progress. Reconstruction against the template table happens on
// receipt (§4.1, §4.4).
type MissionRef struct {
	ID          string `json:"id"`
	CurrentStep int    `json:"current_step,omitempty"`
}

// MissionInstance is a live, in-memory mission — a template id bound to
// a progress counter. The behavior (progress/trigger/effect) is looked
// up by ID in the mission package's template table; domain only carries
// the instance data.
type MissionInstance struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Goal        int    `json:"goal"`
	CurrentStep int    `json:"current_step"`
}

func (m MissionInstance) Ref() MissionRef {
	return MissionRef{ID: m.ID, CurrentStep: m.CurrentStep}
}

// ─── Ball payload (§6) ──────────────────────────────────────────────────────

// Ball is the coherent snapshot carried between peers on every turn
// transfer. It is intentionally "the entire game state" per spec — the
// protocol and the state machine are not separable.
type Ball struct {
	ProtocolVersion int `json:"protocol_version"`

	Word      string `json:"word"`
	TimeoutMs int    `json:"timeout_ms"`

	PlayerVowelPowers  map[string]map[string]float64  `json:"player_vowel_powers"`
	CursedLetters      []string                       `json:"cursed_letters"`
	DeadLetters        []string                       `json:"dead_letters"`
	PlayerPhonePads    map[string]map[string]int      `json:"player_phone_pads"`
	PlayerLetterCounts map[string]map[string]int      `json:"player_letter_counts"`
	PlayerMaxTimeouts  map[string]int                 `json:"player_max_timeouts"`
	PlayerInabilities  map[string][]string             `json:"player_inabilities"`
	ActiveMissions     []MissionRef                   `json:"active_missions"`
	CompletedMissions  []MissionRef                   `json:"completed_missions"`
	LetterCurseCounts  map[string]int                 `json:"letter_curse_counts"`

	IncomingPlayers      []string                 `json:"incomingPlayers"`
	IncomingTurnCounts   map[string]int           `json:"incomingTurnCounts"`
	IncomingReadyPlayers []string                 `json:"incomingReadyPlayers"`
	IncomingHistory      []HistoryEntry           `json:"incomingHistory"`

	ScrambleUIForPlayer string `json:"scramble_ui_for_player,omitempty"`
	ForcedLetter        string `json:"forced_letter,omitempty"`
}

// Snapshot is the WebSocket broadcast shape (§6): full derived state for
// UI observers, pushed after every mutation.
type Snapshot struct {
	ProtocolVersion int `json:"protocol_version"`

	Self         string `json:"self"`
	Players      []string `json:"players"`
	ReadyPlayers []string `json:"ready_players"`

	History []HistoryEntry   `json:"history"`
	Archive [][]HistoryEntry `json:"archive"`

	Word      string `json:"word"`
	TimeoutMs int    `json:"timeout_ms"`

	PlayerVowelPowers map[string]map[string]float64 `json:"player_vowel_powers"`
	CursedLetters     []string                      `json:"cursed_letters"`
	DeadLetters       []string                      `json:"dead_letters"`
	PlayerPhonePads   map[string]map[string]int     `json:"player_phone_pads"`
	PlayerMaxTimeouts map[string]int                `json:"player_max_timeouts"`
	PlayerInabilities map[string][]string            `json:"player_inabilities"`

	ActivePlayer string `json:"active_player"`

	ActiveMissions    []MissionInstance `json:"active_missions"`
	CompletedMissions []MissionInstance `json:"completed_missions"`

	ScrambleUIForPlayer string `json:"scramble_ui_for_player,omitempty"`
	ForcedLetter        string `json:"forced_letter,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}
