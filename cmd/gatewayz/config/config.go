// Package configcmder provides the config command for managing persistent
// gatewayz configuration stored in the .gatewayz/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent gatewayz configuration.

Configuration is stored as config.toml in the .gatewayz/ directory and
provides default values for command flags. CLI flags always take
precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  gateway.base_url,
  chat.model, chat.system_prompt, chat.show_reasoning, chat.markdown,
  timeouts.first_chunk_seconds, timeouts.inter_chunk_seconds,
  timeouts.total_seconds, timeouts.max_seconds,
  timeouts.mobile_multiplier, timeouts.slow_network_multiplier,
  timeouts.hidden_multiplier,
  retry.max_retries, retry.backoff_ms

Use subcommands to initialize, get, set, or list configuration values:
  gatewayz config init [preset]        Write a fresh config.toml
  gatewayz config set <key> <value>    Set a configuration value
  gatewayz config get <key>            Get a configuration value
  gatewayz config list                 List all configuration values

Examples:
  gatewayz config init local
  gatewayz config set chat.model deepseek/deepseek-r1
  gatewayz config set timeouts.total_seconds 600
  gatewayz config get gateway.base_url
  gatewayz config list`

const configShortDesc string = "Manage persistent gatewayz configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
