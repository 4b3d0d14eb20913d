package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/lucasnoah/maestro/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	// Best effort: a missing .env is not an error.
	_ = godotenv.Load()

	cli.SetVersion(Version)
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
