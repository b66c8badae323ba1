// Package subnet enumerates the local IPv4 subnet and probes each host
// for a peer, with a bounded-concurrency worker pool instead of
// launching one goroutine per address. The probe cycle borrows its
// shape — short deadline, best-effort, absorb all transport errors —
// from the SWIM probe cycle (gossip.SWIM.probeCycle); the pool sizing
// borrows executor.Config.MaxConcurrent's semaphore-channel idiom.
package subnet

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/peerball/peerball/internal/observability"
)

// MaxScanConcurrency bounds how many probes run at once, so discovery
// never exhausts local sockets (spec §9: "cap concurrency (~50)").
const MaxScanConcurrency = 50

// PingResponse is what a live peer answers on GET /api/ping.
type PingResponse struct {
	Message  string `json:"message"`
	Identity string `json:"identity"`
}

// Hosts enumerates every usable IPv4 address on ownIP's /cidr subnet,
// excluding the network and broadcast addresses and ownIP itself.
func Hosts(ownIP, cidr string) ([]string, error) {
	_, ipnet, err := net.ParseCIDR(ownIP + "/" + cidr)
	if err != nil {
		return nil, fmt.Errorf("subnet: parse CIDR %s/%s: %w", ownIP, cidr, err)
	}

	var out []string
	for ip := firstIP(ipnet); ipnet.Contains(ip); incIP(ip) {
		s := ip.String()
		if s == ownIP {
			continue
		}
		out = append(out, s)
	}
	// Drop network and broadcast addresses (first and last of the range).
	if len(out) > 2 {
		out = out[1 : len(out)-1]
	}
	return out, nil
}

func firstIP(ipnet *net.IPNet) net.IP {
	ip := make(net.IP, len(ipnet.IP))
	copy(ip, ipnet.IP)
	return ip
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}

// Prober issues the probe (GET /api/ping) that drives discovery. It is
// a thin HTTP client with a bounded timeout.
type Prober struct {
	Client      *http.Client
	Port        int
	ProbeTimeout time.Duration
}

// NewProber returns a Prober with sensible defaults for the probe
// timeout (spec §4.1: "≤500ms").
func NewProber(port int) *Prober {
	return &Prober{
		Client:       &http.Client{},
		Port:         port,
		ProbeTimeout: 500 * time.Millisecond,
	}
}

// Probe issues a short-timeout GET /api/ping against host. Returns the
// identity reported, or ok=false on any failure (transport errors are
// swallowed here; discovery is entirely best-effort per spec §4.1/§7.4).
func (p *Prober) Probe(ctx context.Context, host string) (identity string, ok bool) {
	url := fmt.Sprintf("http://%s:%d/api/ping", host, p.Port)

	reqCtx, cancel := context.WithTimeout(ctx, p.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		observability.DiscoveryProbes.WithLabelValues("unreachable").Inc()
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		observability.DiscoveryProbes.WithLabelValues("unreachable").Inc()
		return "", false
	}

	var pr PingResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		observability.DiscoveryProbes.WithLabelValues("unreachable").Inc()
		return "", false
	}
	if pr.Message != "pong" {
		observability.DiscoveryProbes.WithLabelValues("unreachable").Inc()
		return "", false
	}
	observability.DiscoveryProbes.WithLabelValues("alive").Inc()
	return pr.Identity, true
}

// Scan probes every host in hosts with up to MaxScanConcurrency
// in-flight probes at once, and returns the addresses that answered.
func (p *Prober) Scan(ctx context.Context, hosts []string) []string {
	sem := make(chan struct{}, MaxScanConcurrency)
	results := make(chan string, len(hosts))

	for _, h := range hosts {
		h := h
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			if _, ok := p.Probe(ctx, h); ok {
				results <- h
			} else {
				results <- ""
			}
		}()
	}

	live := make([]string, 0, len(hosts))
	for range hosts {
		if h := <-results; h != "" {
			live = append(live, h)
		}
	}
	return live
}
