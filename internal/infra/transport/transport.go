// Package transport implements turn.Dispatcher and lifecycle.PeerNotifier
// over plain HTTP, the only outbound channel a peer has to another
// (spec §4.5, §4.7). Its request-building style is lifted straight
// from registry.Registry.RegisterBack: bounded context timeout,
// json.Marshal into a bytes.Reader, Content-Type header, response body
// closed and otherwise ignored on success.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/peerball/peerball/internal/domain"
	"github.com/peerball/peerball/internal/infra/subnet"
)

// Config bounds every outbound call (spec §5: send_ball ~2s,
// health-check ~500ms, notify-ready reuses the register timeout).
type Config struct {
	OwnID              string
	SendBallTimeout    time.Duration
	HealthCheckTimeout time.Duration
	NotifyTimeout      time.Duration
}

// HTTPClient is the concrete transport a peer uses to reach every
// other peer it knows about.
type HTTPClient struct {
	client *http.Client
	cfg    Config
	prober *subnet.Prober
}

func New(cfg Config, port int) *HTTPClient {
	prober := subnet.NewProber(port)
	if cfg.HealthCheckTimeout > 0 {
		prober.ProbeTimeout = cfg.HealthCheckTimeout
	}
	return &HTTPClient{
		client: &http.Client{},
		cfg:    cfg,
		prober: prober,
	}
}

// SendBall implements turn.Dispatcher: POST the ball to peerAddr's
// /api/receive-ball (spec §4.5 step 13).
func (h *HTTPClient) SendBall(ctx context.Context, peerAddr string, ball domain.Ball) error {
	body, err := json.Marshal(ball)
	if err != nil {
		return fmt.Errorf("transport: marshal ball: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, h.cfg.SendBallTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/receive-ball", peerAddr)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: send ball to %s: %w", peerAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transport: %s rejected ball with status %d", peerAddr, resp.StatusCode)
	}
	return nil
}

// HealthCheck implements turn.Dispatcher: a short GET /api/ping,
// reused from the subnet prober that discovery already drives (spec
// §4.6's next-holder election: "health-check the chosen candidate
// with a short GET").
func (h *HTTPClient) HealthCheck(ctx context.Context, peerAddr string) bool {
	host, _, err := net.SplitHostPort(peerAddr)
	if err != nil {
		return false
	}
	_, ok := h.prober.Probe(ctx, host)
	return ok
}

// NotifyReady implements lifecycle.PeerNotifier: POST our own address
// to peerAddr's /api/notify-ready (spec §4.7 Ready).
func (h *HTTPClient) NotifyReady(ctx context.Context, peerAddr string) error {
	body, err := json.Marshal(map[string]string{"player_id": h.cfg.OwnID})
	if err != nil {
		return fmt.Errorf("transport: marshal notify-ready body: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, h.cfg.NotifyTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/notify-ready", peerAddr)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: notify-ready to %s: %w", peerAddr, err)
	}
	defer resp.Body.Close()
	return nil
}
