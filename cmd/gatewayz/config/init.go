package configcmder

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/cliui"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/config"
)

const initLongDesc string = `Write a fresh config.toml from a preset.

Presets bundle a gateway base URL with the default chat and timeout
settings. Available presets:

  production   https://api.gatewayz.ai (default)
  staging      https://staging-api.gatewayz.ai
  local        http://localhost:8000

The file is written to the .gatewayz/ directory. An existing config.toml
is not touched unless --force is passed.

Examples:
  gatewayz config init
  gatewayz config init local
  gatewayz config init staging --force`

const initShortDesc string = "Write a fresh config.toml from a preset"

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [preset]",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			preset := "production"
			if len(args) == 1 {
				preset = args[0]
			}

			configDir, _ := cmd.Flags().GetString("config-dir")
			return runInit(preset, configDir, force)
		},
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return config.ValidPresetNames(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config.toml")

	return cmd
}

func runInit(preset, configDir string, force bool) error {
	cfg, err := config.PresetConfig(preset)
	if err != nil {
		return fmt.Errorf("%w\n\nValid presets: %s",
			err, strings.Join(config.ValidPresetNames(), ", "))
	}

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	target := cfger.GetTarget()
	if _, err := os.Stat(target); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (pass --force to overwrite)", target)
	}

	if err := cfger.SaveConfig(cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("\n  %s Initialized %s config at %s\n\n",
		cliui.SuccessMark,
		cliui.NameStyle.Render(preset),
		cliui.DimStyle.Render(target),
	)
	return nil
}
