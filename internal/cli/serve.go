package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/peerball/peerball/internal/api"
	"github.com/peerball/peerball/internal/broadcast"
	"github.com/peerball/peerball/internal/config"
	"github.com/peerball/peerball/internal/infra/registry"
	"github.com/peerball/peerball/internal/infra/transport"
	"github.com/peerball/peerball/internal/lifecycle"
	"github.com/peerball/peerball/internal/store"
	"github.com/peerball/peerball/internal/turn"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start this peer's HTTP API, WebSocket feed, and an initial discovery scan",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ownAddr := cfg.OwnAddr()
	log.Printf("[peerball] starting peer %s", ownAddr)

	s := store.New(ownAddr)

	tc := transport.New(transport.Config{
		OwnID:              ownAddr,
		SendBallTimeout:    time.Duration(cfg.Timeouts.SendBallMs) * time.Millisecond,
		HealthCheckTimeout: time.Duration(cfg.Timeouts.HealthCheckMs) * time.Millisecond,
		NotifyTimeout:      time.Duration(cfg.Timeouts.RegisterMs) * time.Millisecond,
	}, cfg.Network.Port)

	hub := broadcast.NewHub()

	turnCfg := turn.DefaultConfig()
	turnCfg.SendBallTimeout = time.Duration(cfg.Timeouts.SendBallMs) * time.Millisecond
	turnCfg.HealthCheckTimeout = time.Duration(cfg.Timeouts.HealthCheckMs) * time.Millisecond
	turnCfg.ComputerThink = time.Duration(cfg.Timeouts.ComputerThinkMs) * time.Millisecond
	controller := turn.New(s, tc, hub, turnCfg)

	lc := lifecycle.New(s, controller, tc, hub)

	regCfg := registry.DefaultConfig(cfg.Network.Port, cfg.Network.NetmaskCIDR)
	regCfg.ProbeTimeout = time.Duration(cfg.Timeouts.PingMs) * time.Millisecond
	regCfg.RegisterTimeout = time.Duration(cfg.Timeouts.RegisterMs) * time.Millisecond
	reg := registry.New(s, regCfg)

	srv := api.NewServer(s, controller, lc, reg, hub, cfg.MetricsEnabled)

	go func() {
		time.Sleep(500 * time.Millisecond)
		reg.Discover(context.Background(), cfg.Network.OwnHost)
	}()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Network.Port),
		Handler: srv.Handler(),
	}

	log.Printf("[peerball] listening on %s", httpServer.Addr)
	return httpServer.ListenAndServe()
}
