// Package registry implements peer discovery and the register/
// register-back handshake (spec §4.1). Its shape is the SWIM
// probe/merge pattern (infra/gossip.SWIM) reinterpreted over HTTP
// instead of UDP: a best-effort probe, a state merge guarded by the
// store's own exclusion, and a best-effort callback to the new peer.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/peerball/peerball/internal/domain"
	"github.com/peerball/peerball/internal/infra/subnet"
	"github.com/peerball/peerball/internal/mission"
	"github.com/peerball/peerball/internal/observability"
	"github.com/peerball/peerball/internal/store"
)

// Payload is the body of POST /api/register: the registering peer's
// identity plus every piece of submitted state spec §4.1 lists.
type Payload struct {
	IP string `json:"ip"`

	InitialPlayers       []string `json:"initialPlayers"`
	InitialReadyPlayers  []string `json:"initialReadyPlayers"`
	InitialTurnCounts    map[string]int `json:"initialTurnCounts"`
	InitialArchive       [][]domain.HistoryEntry `json:"initialArchive"`

	InitialPlayerVowelPowers  map[string]map[string]float64 `json:"initialPlayerVowelPowers"`
	InitialPlayerPhonePads    map[string]map[string]int     `json:"initialPlayerPhonePads"`
	InitialPlayerLetterCounts map[string]map[string]int     `json:"initialPlayerLetterCounts"`
	InitialPlayerMaxTimeouts  map[string]int                `json:"initialPlayerMaxTimeouts"`
	InitialPlayerInabilities  map[string][]string            `json:"initialPlayerInabilities"`
	InitialActiveMissions     []domain.MissionRef            `json:"initialActiveMissions"`
	InitialCompletedMissions  []domain.MissionRef            `json:"initialCompletedMissions"`
	InitialLetterCurseCounts  map[string]int                 `json:"initialLetterCurseCounts"`
	InitialCursedLetters      []string                       `json:"initialCursedLetters"`
	InitialDeadLetters        []string                       `json:"initialDeadLetters"`
}

// Config bounds every outbound call the registry makes (spec §5).
type Config struct {
	Port           int
	NetmaskCIDR    string
	ProbeTimeout   time.Duration
	RegisterTimeout time.Duration
}

func DefaultConfig(port int, cidr string) Config {
	return Config{
		Port:            port,
		NetmaskCIDR:     cidr,
		ProbeTimeout:    500 * time.Millisecond,
		RegisterTimeout: 1 * time.Second,
	}
}

// Registry owns discovery and the register handshake against the
// shared store.
type Registry struct {
	store  *store.Store
	prober *subnet.Prober
	client *http.Client
	cfg    Config
}

func New(s *store.Store, cfg Config) *Registry {
	prober := subnet.NewProber(cfg.Port)
	if cfg.ProbeTimeout > 0 {
		prober.ProbeTimeout = cfg.ProbeTimeout
	}
	return &Registry{
		store:  s,
		prober: prober,
		client: &http.Client{Timeout: cfg.RegisterTimeout},
		cfg:    cfg,
	}
}

// Discover scans the local subnet and, for every peer that answers the
// ping probe, sends it our current registration payload. Best-effort
// throughout: transport failures are logged and swallowed (spec §4.1,
// §7.4).
func (r *Registry) Discover(ctx context.Context, ownIP string) {
	hosts, err := subnet.Hosts(ownIP, r.cfg.NetmaskCIDR)
	if err != nil {
		log.Printf("[registry] discover: invalid subnet config: %v", err)
		return
	}

	live := r.prober.Scan(ctx, hosts)
	for _, host := range live {
		addr := fmt.Sprintf("%s:%d", host, r.cfg.Port)
		r.RegisterBack(ctx, addr)
	}
}

// RegisterBack POSTs our full registration payload to peer's
// /api/register endpoint. Failure is tolerated and logged (spec §4.1).
func (r *Registry) RegisterBack(ctx context.Context, peerAddr string) {
	payload := r.buildPayload()

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[registry] register-back to %s: marshal: %v", peerAddr, err)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RegisterTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/register", peerAddr)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Printf("[registry] register-back to %s: build request: %v", peerAddr, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		log.Printf("[registry] register-back to %s: %v", peerAddr, err)
		return
	}
	defer resp.Body.Close()
}

func (r *Registry) buildPayload() Payload {
	var p Payload
	r.store.WithLock(func(g *store.GameState) {
		p.IP = g.OwnID
		p.InitialPlayers = keys(g.Players)
		p.InitialReadyPlayers = keys(g.ReadyPlayers)
		p.InitialTurnCounts = copyInt(g.TurnCounts)
		p.InitialArchive = append([][]domain.HistoryEntry(nil), g.Archive...)
		p.InitialPlayerVowelPowers = copyNestedFloat(g.PlayerVowelPowers)
		p.InitialPlayerPhonePads = copyNestedInt(g.PlayerPhonePads)
		p.InitialPlayerLetterCounts = copyNestedInt(g.PlayerLetterCounts)
		p.InitialPlayerMaxTimeouts = copyInt(g.PlayerMaxTimeouts)
		p.InitialPlayerInabilities = copyNestedSetToSlice(g.PlayerInabilities)
		for _, m := range g.ActiveMissions {
			p.InitialActiveMissions = append(p.InitialActiveMissions, m.Ref())
		}
		for _, m := range g.CompletedMissions {
			p.InitialCompletedMissions = append(p.InitialCompletedMissions, m.Ref())
		}
		p.InitialLetterCurseCounts = copyInt(g.LetterCurseCounts)
		p.InitialCursedLetters = keys(g.CursedLetters)
		p.InitialDeadLetters = keys(g.DeadLetters)
	})
	return p
}

// Register merges an incoming peer's payload into the shared store
// (spec §4.1): new peers are unioned in; per-peer submitted maps
// overwrite our entry for that peer; cursed/dead letters union; the
// longer archive wins ties going to ours. Returns true if the peer is
// new to us and should receive a RegisterBack.
func (r *Registry) Register(payload Payload) (isNewPeer bool) {
	r.store.WithLock(func(g *store.GameState) {
		if _, known := g.Players[payload.IP]; payload.IP != "" && !known {
			isNewPeer = true
		}

		if payload.IP != "" {
			g.Players[payload.IP] = struct{}{}
			g.EnsureParticipant(payload.IP)
		}
		for _, p := range payload.InitialPlayers {
			g.Players[p] = struct{}{}
			g.EnsureParticipant(p)
		}
		for _, p := range payload.InitialReadyPlayers {
			g.ReadyPlayers[p] = struct{}{}
		}
		for p, c := range payload.InitialTurnCounts {
			g.TurnCounts[p] = c
		}
		for p, vp := range payload.InitialPlayerVowelPowers {
			g.PlayerVowelPowers[p] = vp
		}
		for p, pads := range payload.InitialPlayerPhonePads {
			g.PlayerPhonePads[p] = pads
		}
		for p, lc := range payload.InitialPlayerLetterCounts {
			g.PlayerLetterCounts[p] = lc
		}
		for p, mt := range payload.InitialPlayerMaxTimeouts {
			g.PlayerMaxTimeouts[p] = mt
		}
		for p, letters := range payload.InitialPlayerInabilities {
			g.PlayerInabilities[p] = sliceToSet(letters)
		}
		for _, l := range payload.InitialCursedLetters {
			g.CursedLetters[l] = struct{}{}
		}
		for _, l := range payload.InitialDeadLetters {
			g.DeadLetters[l] = struct{}{}
		}
		for l, lvl := range payload.InitialLetterCurseCounts {
			g.LetterCurseCounts[l] = lvl
		}

		g.ActiveMissions = reconstructMissions(payload.InitialActiveMissions)
		g.CompletedMissions = reconstructMissions(payload.InitialCompletedMissions)

		if len(payload.InitialArchive) > len(g.Archive) {
			g.Archive = payload.InitialArchive
		}
		observability.PeersKnown.Set(float64(len(g.Players)))
	})
	return isNewPeer
}

func reconstructMissions(refs []domain.MissionRef) []domain.MissionInstance {
	out := make([]domain.MissionInstance, 0, len(refs))
	for _, ref := range refs {
		inst, ok := mission.Reinstantiate(ref)
		if !ok {
			continue // unknown template id: discarded per spec §4.1
		}
		out = append(out, inst)
	}
	return out
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sliceToSet(s []string) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for _, v := range s {
		out[v] = struct{}{}
	}
	return out
}

func copyInt(m map[string]int) map[string]int {
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

func copyNestedSetToSlice(m map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, inner := range m {
		out[k] = keys(inner)
	}
	return out
}
