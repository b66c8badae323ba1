// Package cli provides the peerball command-line entrypoint, grounded
// on the teacher's cobra.Command tree (internal/cli/agent.go):
// a root command with persistent flags, one subcommand per concern.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "peerball",
	Short: "A peer-to-peer word-ball game server",
	Long: `peerball runs one peer of a LAN word-ball game: peers discover each
other over the local subnet, pass a single ball carrying the whole
game state, and a web UI subscribes to each peer's live state feed
over WebSocket.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a peerball.toml config file")
}

// Execute runs the root command, exiting the process on error the way
// cobra's generated main() stubs do.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
