// Package cli implements the PiWardrive command-line interface using
// Cobra. Each subcommand maps to an operational surface spec.md §6
// names: serve, migrate, export, sync, plus tile and logs, grounded on
// the teacher's internal/cli/root.go + serve.go cobra wiring shape.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "piwardrive",
	Short: "PiWardrive — field wireless-reconnaissance appliance",
	Long: `PiWardrive supervises scan collection, health telemetry, offline
tile caching, and remote synchronization for a field wireless-
reconnaissance appliance, and exposes it over a local HTTP/streaming API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from cmd/piwardrive/main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
