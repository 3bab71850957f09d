// Package gatewayzcmder
package gatewayzcmder

import (
	"github.com/spf13/cobra"

	askcmder "github.com/Alpaca-Network/gatewayz-frontend-sub017/cmd/gatewayz/ask"
	authcmder "github.com/Alpaca-Network/gatewayz-frontend-sub017/cmd/gatewayz/auth"
	chatcmder "github.com/Alpaca-Network/gatewayz-frontend-sub017/cmd/gatewayz/chat"
	configcmder "github.com/Alpaca-Network/gatewayz-frontend-sub017/cmd/gatewayz/config"
	versioncmder "github.com/Alpaca-Network/gatewayz-frontend-sub017/cmd/version"
)

const gatewayzLongDesc string = `Gatewayz is a terminal client for the Gatewayz inference gateway.

Stream chat completions from any model behind the gateway:
  gatewayz auth                Store your gateway API key
  gatewayz chat                Start an interactive chat session
  gatewayz ask "question"      Ask a one-shot question
  gatewayz config              Manage persistent configuration`

const gatewayzShortDesc string = "Gatewayz - stream chat completions from any model"

func NewGatewayzCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatewayz",
		Short: gatewayzShortDesc,
		Long:  gatewayzLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .gatewayz/ directory location")

	// Add subcommands
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(askcmder.NewAskCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
