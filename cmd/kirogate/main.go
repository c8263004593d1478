// Package main provides the CLI entry point for the kirogate gateway.
//
// Kirogate fronts an Anthropic-style messages API and forwards requests to
// the Kiro upstream over a pool of managed accounts, handling model mapping,
// tool-name sanitizing, token refresh, and throttle-aware account rotation.
//
// # Basic Usage
//
// Start the gateway:
//
//	kirogate serve --config kirogate.yaml
//
// Manage the account roster:
//
//	kirogate accounts list
//	kirogate accounts add --name work
//	kirogate accounts disable <id>
//
// Manage model mapping rules:
//
//	kirogate mappings list
//	kirogate mappings add --pattern claude-sonnet --internal-id CLAUDE_SONNET_4_5_20250929_V1_0 --match prefix
//
// Check quota across the roster:
//
//	kirogate usage
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kirogate",
		Short: "Kirogate - Anthropic-to-Kiro translating gateway",
		Long: `Kirogate exposes an Anthropic-style messages endpoint and forwards
requests to the Kiro upstream over a pool of managed accounts.

The gateway handles model mapping, history normalization, tool-name
sanitizing, token refresh, and throttle-aware account rotation.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildAccountsCmd(),
		buildMappingsCmd(),
		buildUsageCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}
