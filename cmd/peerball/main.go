// Command peerball runs one peer of the LAN word-ball game.
package main

import "github.com/peerball/peerball/internal/cli"

func main() {
	cli.Execute()
}
