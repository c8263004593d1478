// commands.go contains the cobra command definitions and their flag wiring.
// Each builder creates a command and delegates to its run* handler.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const defaultConfigName = "kirogate.yaml"

// buildServeCmd creates the "serve" command that runs the gateway.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long: `Start the gateway with the configured account roster and store.

The server will:
1. Load configuration from the specified file (or kirogate.yaml)
2. Load the account roster and start the file watcher if enabled
3. Open the request-log and model-mapping store
4. Schedule the usage sweep
5. Serve /v1/messages, /healthz, and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  kirogate serve

  # Start with custom config
  kirogate serve --config /etc/kirogate/production.yaml

  # Start with debug logging
  kirogate serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildAccountsCmd creates the "accounts" command group.
func buildAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the upstream account roster",
	}
	cmd.AddCommand(
		buildAccountsListCmd(),
		buildAccountsAddCmd(),
		buildAccountsEnableCmd(),
		buildAccountsDisableCmd(),
		buildAccountsInvalidateCmd(),
		buildAccountsRemoveCmd(),
	)
	return cmd
}

func buildAccountsListCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List roster accounts with status and counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsList(cmd, configPath, asJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func buildAccountsAddCmd() *cobra.Command {
	var (
		configPath string
		name       string
		authMethod string
		region     string
		profileArn string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account to the roster",
		Long: `Add an account. The refresh token is prompted for without echo;
IdC accounts are also asked for their client id and secret.`,
		Example: `  kirogate accounts add --name work
  kirogate accounts add --name build-farm --auth idc --region eu-west-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsAdd(cmd, configPath, name, authMethod, region, profileArn)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	cmd.Flags().StringVar(&name, "name", "", "Display name for the account")
	cmd.Flags().StringVar(&authMethod, "auth", "social", "Auth method: social or idc")
	cmd.Flags().StringVar(&region, "region", "", "Credential region (defaults to the upstream region)")
	cmd.Flags().StringVar(&profileArn, "profile-arn", "", "CodeWhisperer profile ARN")
	return cmd
}

func buildAccountsEnableCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "enable <id>",
		Short: "Re-enable a disabled or invalid account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsSetStatus(cmd, configPath, args[0], "active")
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	return cmd
}

func buildAccountsDisableCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "disable <id>",
		Short: "Take an account out of rotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsSetStatus(cmd, configPath, args[0], "disabled")
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	return cmd
}

func buildAccountsInvalidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "invalidate <id>",
		Short: "Mark an account's credentials as dead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsSetStatus(cmd, configPath, args[0], "invalid")
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	return cmd
}

func buildAccountsRemoveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete an account from the roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsRemove(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	return cmd
}

// buildMappingsCmd creates the "mappings" command group.
func buildMappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Manage model mapping rules",
		Long: `Manage the rule table that maps client model labels onto upstream
model identifiers. Rules are consulted by priority (highest first)
before the built-in sonnet/opus/haiku fallback.`,
	}
	cmd.AddCommand(
		buildMappingsListCmd(),
		buildMappingsAddCmd(),
		buildMappingsRemoveCmd(),
	)
	return cmd
}

func buildMappingsListCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mapping rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMappingsList(cmd, configPath, asJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func buildMappingsAddCmd() *cobra.Command {
	var (
		configPath string
		pattern    string
		internalID string
		matchType  string
		priority   int
		disabled   bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace a mapping rule",
		Example: `  kirogate mappings add --pattern claude-sonnet-4-5 --internal-id CLAUDE_SONNET_4_5_20250929_V1_0
  kirogate mappings add --pattern experimental- --internal-id CLAUDE_OPUS_4_1_20250805_V1_0 --match prefix --priority 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMappingsAdd(cmd, configPath, pattern, internalID, matchType, priority, !disabled)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	cmd.Flags().StringVar(&pattern, "pattern", "", "Pattern to match against the client model label")
	cmd.Flags().StringVar(&internalID, "internal-id", "", "Upstream model identifier")
	cmd.Flags().StringVar(&matchType, "match", "exact", "Match type: exact, prefix, or contains")
	cmd.Flags().IntVar(&priority, "priority", 0, "Rule priority (higher wins)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the rule disabled")
	cmd.MarkFlagRequired("pattern")
	cmd.MarkFlagRequired("internal-id")
	return cmd
}

func buildMappingsRemoveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "remove <pattern>",
		Short: "Delete a mapping rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMappingsRemove(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	return cmd
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "kirogate %s (commit: %s, built: %s)\n", version, commit, date)
			return err
		},
	}
}

// buildUsageCmd creates the "usage" command.
func buildUsageCmd() *cobra.Command {
	var (
		configPath string
		accountID  string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Probe upstream quota for roster accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(cmd, configPath, accountID, asJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	cmd.Flags().StringVar(&accountID, "account", "", "Probe a single account by id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}
