package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shopbot/internal/app"
)

func newWebhookCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set",
			Short: "Register telegram.webhook.public_url + path with Telegram",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				url, err := app.Webhook(ctx, opts.configPath, true)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "webhook set: %s\n", url)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove the webhook registration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				if _, err := app.Webhook(ctx, opts.configPath, false); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
				return nil
			},
		},
	)
	return cmd
}
