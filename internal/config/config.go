// Package config loads peer configuration from an optional TOML file
// overlaid by environment variables, mirroring the teacher's nested
// per-concern config struct (internal/daemon's API/Models/Inference
// groups) sized down to this peer's two required knobs plus timeouts.
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/BurntSushi/toml"
)

// Network groups the peer's own address and subnet mask.
type Network struct {
	OwnHost     string `toml:"own_host"`
	NetmaskCIDR string `toml:"netmask_cidr"`
	Port        int    `toml:"port"`
}

// Timeouts groups every bounded-wait duration spec §5 names, in
// milliseconds.
type Timeouts struct {
	PingMs         int `toml:"ping_ms"`
	RegisterMs     int `toml:"register_ms"`
	SendBallMs     int `toml:"send_ball_ms"`
	HealthCheckMs  int `toml:"health_check_ms"`
	ComputerThinkMs int `toml:"computer_think_ms"`
}

// Config is the full peer configuration.
type Config struct {
	Network  Network  `toml:"network"`
	Timeouts Timeouts `toml:"timeouts"`

	MetricsEnabled bool `toml:"metrics_enabled"`
}

// DefaultConfig mirrors the constants spec.md §4.1/§5 names.
func DefaultConfig() Config {
	return Config{
		Network: Network{
			OwnHost:     "",
			NetmaskCIDR: "24",
			Port:        5000,
		},
		Timeouts: Timeouts{
			PingMs:          300,
			RegisterMs:      1000,
			SendBallMs:      2000,
			HealthCheckMs:   500,
			ComputerThinkMs: 1000,
		},
		MetricsEnabled: true,
	}
}

// Load reads path (if it exists) as TOML over DefaultConfig, then
// overlays OWN_HOST / NETMASK_CIDR environment variables, and finally
// resolves an empty OwnHost via FindOwnIP. A missing file is not an
// error: defaults plus environment apply on their own.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("OWN_HOST"); v != "" {
		cfg.Network.OwnHost = v
	}
	if v := os.Getenv("NETMASK_CIDR"); v != "" {
		cfg.Network.NetmaskCIDR = v
	}

	if cfg.Network.OwnHost == "" {
		cfg.Network.OwnHost = FindOwnIP()
	}

	return cfg, nil
}

// FindOwnIP discovers the outbound-facing local IPv4 address by
// dialing a UDP socket toward an unreachable broadcast address and
// reading back the chosen local source address — no packet is
// actually sent. Falls back to loopback on any failure. Adapted from
// the original source's find_own_ip() UDP-dial trick (see
// SPEC_FULL.md's supplemented-features section).
func FindOwnIP() string {
	conn, err := net.Dial("udp4", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

// OwnAddr returns the "host:port" peer identifier this config resolves
// to.
func (c Config) OwnAddr() string {
	return fmt.Sprintf("%s:%d", c.Network.OwnHost, c.Network.Port)
}
