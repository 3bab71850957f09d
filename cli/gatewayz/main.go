package main

import (
	"os"

	gatewayzcmder "github.com/Alpaca-Network/gatewayz-frontend-sub017/cmd/gatewayz"
)

func main() {
	cmd := gatewayzcmder.NewGatewayzCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
