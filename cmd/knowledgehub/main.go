// Command knowledgehub ingests business files and serves them to voice agents.
package main

import (
	"os"

	"github.com/custodia-labs/knowledgehub/internal/adapters/driving/cli"
)

// version is set at build time via -ldflags "-X main.version=...".
var version string

func main() {
	cli.SetVersion(version)
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
