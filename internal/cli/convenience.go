package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/peerball/peerball/internal/config"
)

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(readyCmd)
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Trigger this peer's own /api/discover without a browser",
	RunE:  runLocalPost("discover"),
}

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Trigger this peer's own /api/ready without a browser",
	RunE:  runLocalPost("ready"),
}

// runLocalPost returns a RunE that POSTs to this peer's own running
// server at the given /api/ route — a thin loopback convenience for
// exercising a peer from a second terminal during local testing,
// grounded on the teacher's agent.go subcommands that each wrap a
// single outbound call behind a cobra.Command.
func runLocalPost(route string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		url := fmt.Sprintf("http://localhost:%d/api/%s", cfg.Network.Port, route)
		resp, err := http.Post(url, "application/json", nil)
		if err != nil {
			return fmt.Errorf("post %s: %w", url, err)
		}
		defer resp.Body.Close()

		fmt.Printf("%s -> %s\n", url, resp.Status)
		return nil
	}
}
