// Command visiond serves a vision-language model through a supervised ollama
// backend behind a cog-style prediction API.
//
// The CLI is split across files:
//   - root.go    (command tree, persistent flags, config resolution)
//   - logger.go  (zerolog setup)
//   - serve.go   (HTTP server with background setup and graceful shutdown)
//   - setup.go   (one-shot setup run)
//   - predict.go (single prediction from the command line)
package main

import (
	"fmt"
	"os"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
