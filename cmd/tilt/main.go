package main

import (
	"os"

	"github.com/tiltlab/tilt/cmd/tilt/commands"
)

// main is the entry point for the tilt CLI.
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
