package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	twitchlinkr "github.com/twitchlinkr/twitchlinkr-go"
)

var (
	subsStatus string
	subsType   string
	subsUserID string
	subsAll    bool
)

func init() {
	rootCmd.AddCommand(subscriptionsCmd)
	subscriptionsCmd.AddCommand(subscriptionsListCmd)
	subscriptionsCmd.AddCommand(subscriptionsDeleteCmd)

	subscriptionsListCmd.Flags().StringVar(&subsStatus, "status", "", "filter by status, e.g. enabled, websocket_disconnected")
	subscriptionsListCmd.Flags().StringVar(&subsType, "type", "", "filter by subscription type")
	subscriptionsListCmd.Flags().StringVar(&subsUserID, "user-id", "", "filter by user id in the condition")
	subscriptionsListCmd.Flags().BoolVar(&subsAll, "all", false, "follow pagination cursors")
}

var subscriptionsCmd = &cobra.Command{
	Use:     "subscriptions",
	Aliases: []string{"subs"},
	Short:   "List or delete EventSub subscriptions",
}

var subscriptionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List EventSub subscriptions of the configured application",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client, err := getHelixClient(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		opts := &twitchlinkr.ListSubscriptionsOptions{Status: subsStatus, Type: subsType, UserID: subsUserID}
		var page *twitchlinkr.SubscriptionList
		count := 0
		for {
			page, err = client.ListEventSubSubscriptions(ctx, opts)
			if err != nil {
				return fmt.Errorf("list subscriptions: %w", err)
			}
			for _, sub := range page.Data {
				printSubscription(sub)
				count++
			}
			if !subsAll || page.Pagination.Cursor == "" {
				break
			}
			opts.After = page.Pagination.Cursor
		}

		fmt.Fprintln(stdout)
		info("%d shown, %d total, cost %d of %d", count, page.Total, page.TotalCost, page.MaxTotalCost)
		return nil
	},
}

var subscriptionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete EventSub subscriptions by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client, err := getHelixClient(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		var failed int
		for _, id := range args {
			if err := client.DeleteEventSubSubscription(ctx, id); err != nil {
				failure("%s: %v", id, err)
				failed++
				continue
			}
			success("deleted %s", id)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d deletions failed", failed, len(args))
		}
		return nil
	},
}

func printSubscription(sub twitchlinkr.Subscription) {
	status := green.Sprint(sub.Status)
	if sub.Status != "enabled" {
		status = yellow.Sprint(sub.Status)
	}
	bold.Fprintf(stdout, "%s", sub.ID)
	fmt.Fprintf(stdout, "  %s@%s  %s  %s\n", sub.Type, sub.Version, status, sub.Transport.Method)
	for k, v := range sub.Condition {
		gray.Fprintf(stdout, "    %s=%s\n", k, v)
	}
}
