// Package cli is the shopbot command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shopbot/internal/config"
)

type options struct {
	configPath string
	envFiles   []string
}

// NewRootCommand builds the command tree. serve is the default action.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "shopbot",
		Short: "Shop notification dispatcher for Telegram",
		Long: `shopbot relays new orders and new catalog rows to registered Telegram
chats and registers chats through bot commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(opts.envFiles...)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.json", "path to config (json or yaml)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config")

	serve := newServeCommand(opts)
	root.RunE = serve.RunE
	root.AddCommand(
		serve,
		newSyncCommand(opts),
		newSeedCommand(opts),
		newWebhookCommand(opts),
		newVersionCommand(version),
	)
	return root
}

// Execute runs the command tree with ctx and prints a failing error.
func Execute(ctx context.Context, version string) error {
	root := NewRootCommand(version)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
