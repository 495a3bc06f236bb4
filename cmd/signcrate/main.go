package main

import (
	"github.com/signcrate/signcrate/internal/cmd"
	"github.com/signcrate/signcrate/internal/observability"
)

// Version information set via ldflags during build
// Example: go build -ldflags="-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2025-10-28"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Set version info for commands and the monitor's /version endpoint
	cmd.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		// Map the error onto a semantic exit code
		cmd.ExitWithCode(observability.CLILogger, cmd.ExitCodeFor(err), "Command failed", err)
	}
}
