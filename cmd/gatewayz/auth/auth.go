// Package authcmder provides the auth command for storing the gateway API key.
package authcmder

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/cliui"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/credentials"
)

const authLongDesc string = `Store your Gatewayz API key.

The key is stored in credentials.toml in the .gatewayz/ directory and sent
as a Bearer token on every gateway request. The ` + credentials.EnvAPIKey + `
environment variable, when set, takes precedence over the stored key.

Get an API key from your account page at gatewayz.ai.

Examples:
  gatewayz auth                  Prompt for the API key
  gatewayz auth --status         Show whether a key is stored
  gatewayz auth --remove         Remove the stored key
  echo $KEY | gatewayz auth      Pipe the API key from stdin`

const authShortDesc string = "Store your Gatewayz API key"

func NewAuthCmd() *cobra.Command {
	var statusFlag bool
	var removeFlag bool

	cmd := &cobra.Command{
		Use:   "auth",
		Short: authShortDesc,
		Long:  authLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			switch {
			case statusFlag:
				return runStatus(configDir)
			case removeFlag:
				return runRemove(configDir)
			default:
				return runAuth(configDir)
			}
		},
	}

	cmd.Flags().BoolVar(&statusFlag, "status", false, "Show whether a key is stored")
	cmd.Flags().BoolVar(&removeFlag, "remove", false, "Remove the stored API key")

	return cmd
}

func runAuth(configDir string) error {
	apiKey, err := readAPIKey()
	if err != nil {
		return err
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("API key cannot be empty")
	}

	mgr, err := credentials.NewManager(configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	if err := mgr.SetKey(apiKey); err != nil {
		return err
	}

	fmt.Printf("\n  %s Stored gateway API key %s\n\n",
		cliui.SuccessMark,
		cliui.DimStyle.Render("("+mgr.GetTarget()+")"),
	)

	return nil
}

func runStatus(configDir string) error {
	mgr, err := credentials.NewManager(configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	key, err := mgr.GetKey()
	if err != nil {
		return err
	}

	fmt.Println()
	if key == "" {
		fmt.Printf("  %s No stored API key.\n", cliui.DimStyle.Render("●"))
		fmt.Printf("  Use 'gatewayz auth' to store one.\n")
	} else {
		fmt.Printf("  %s API key stored %s\n",
			cliui.SuccessMark,
			cliui.DimStyle.Render("("+maskKey(key)+")"),
		)
	}

	if env := os.Getenv(credentials.EnvAPIKey); env != "" {
		fmt.Printf("  %s %s is set and takes precedence %s\n",
			cliui.WarnStyle.Render("!"),
			cliui.NameStyle.Render(credentials.EnvAPIKey),
			cliui.DimStyle.Render("("+maskKey(env)+")"),
		)
	}
	fmt.Println()

	return nil
}

func runRemove(configDir string) error {
	mgr, err := credentials.NewManager(configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	if err := mgr.RemoveKey(); err != nil {
		return err
	}

	fmt.Printf("\n  %s Removed stored API key.\n\n", cliui.SuccessMark)

	return nil
}

// maskKey shows only the last four characters of a key.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// readAPIKey reads an API key from stdin. If stdin is a pipe, it reads the
// first line. Otherwise, it prompts interactively with hidden input.
func readAPIKey() (string, error) {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return "", fmt.Errorf("checking stdin: %w", err)
	}

	// Piped input
	if (fi.Mode() & os.ModeCharDevice) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			return scanner.Text(), nil
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return "", errors.New("no input received on stdin")
	}

	// Interactive terminal
	fmt.Printf("Enter Gatewayz API key: ")

	keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println() // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("reading API key: %w", err)
	}

	return string(keyBytes), nil
}
