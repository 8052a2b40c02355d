package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	twitchlinkr "github.com/twitchlinkr/twitchlinkr-go"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and token status",
	Long:  "Display the current configuration and validate the stored access token against Twitch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Client ID:    %s\n", valueOrDefault(cfg.Default.ClientID, "(not set)"))
		if cfg.Default.AccessToken != "" {
			fmt.Printf("  Access Token: %s\n", maskKey(cfg.Default.AccessToken))
		} else {
			fmt.Println("  Access Token: (not set)")
		}
		fmt.Printf("  EventSub URL: %s\n", valueOrDefault(cfg.Default.EventSubURL, twitchlinkr.DefaultEventSubURL))
		fmt.Printf("  Helix URL:    %s\n", valueOrDefault(cfg.Default.HelixURL, twitchlinkr.DefaultHelixURL))
		fmt.Printf("  Log Level:    %s\n", valueOrDefault(cfg.Log.Level, "info"))

		if cfg.Default.AccessToken == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Token:")

		client := twitchlinkr.NewClient(cfg.Default.ClientID, cfg.Default.AccessToken)
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		v, err := client.ValidateToken(ctx)
		if err != nil {
			failure("validation failed: %v", err)
			return nil
		}

		fmt.Printf("  Login:     %s (%s)\n", v.Login, v.UserID)
		fmt.Printf("  Client ID: %s\n", v.ClientID)
		fmt.Printf("  Scopes:    %s\n", valueOrDefault(strings.Join(v.Scopes, " "), "(none)"))
		expiry := v.Expiry(time.Now())
		fmt.Printf("  Expires:   %s (in %s)\n", expiry.Format(time.RFC3339), time.Until(expiry).Round(time.Minute))
		if cfg.Default.ClientID != "" && v.ClientID != cfg.Default.ClientID {
			warning("token belongs to client %s, config has %s", v.ClientID, cfg.Default.ClientID)
		}
		return nil
	},
}
