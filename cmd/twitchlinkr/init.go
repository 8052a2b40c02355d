package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <client-id> <access-token>",
	Short: "Store credentials in ~/.twitchlinkr/config.toml",
	Long:  "Initialize the twitchlinkr CLI by storing your application client id and user access token in the local configuration file.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.ClientID = args[0]
		cfg.Default.AccessToken = args[1]
		if cfg.Log.Level == "" {
			cfg.Log.Level = "info"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		success("Credentials saved to %s", path)
		return nil
	},
}
