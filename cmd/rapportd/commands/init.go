package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rapportd/rapport/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample Rapport configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/rapport/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  rapportd init

  # Initialize with custom path
  rapportd init --config /etc/rapport/config.yaml

  # Force overwrite existing config
  rapportd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.GetDefaultConfig()

	secret, err := generateTicketSecret()
	if err != nil {
		return fmt.Errorf("failed to generate ticket secret: %w", err)
	}
	cfg.Auth.TicketSecret = secret

	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Declare your domain topology under the directory section")
	fmt.Println("  2. Start the daemon with: rapportd start")
	fmt.Printf("  3. Or specify custom config: rapportd start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  A random ticket secret has been generated. Every rapportd instance")
	fmt.Println("  serving the same portal must share it; for production, prefer an")
	fmt.Println("  environment variable over the config file:")
	fmt.Println("    export RAPPORT_AUTH_TICKET_SECRET=$(openssl rand -hex 32)")

	return nil
}

func generateTicketSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
