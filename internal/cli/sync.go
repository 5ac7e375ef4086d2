package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"shopbot/internal/app"
)

func newSyncCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the whole catalog feed into the product store once",
		Long: `Reads every feed row and creates or re-prices the matching products.
No notification is sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := app.Sync(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rows:           %d\n", rep.Rows)
			fmt.Fprintf(out, "added:          %d\n", rep.Result.Added)
			fmt.Fprintf(out, "updated:        %d\n", rep.Result.Updated)
			fmt.Fprintf(out, "unchanged:      %d\n", rep.Result.Unchanged)
			fmt.Fprintf(out, "failed:         %d\n", rep.Result.Failed)
			fmt.Fprintf(out, "products:       %d\n", rep.Products)
			fmt.Fprintf(out, "pending orders: %d\n", rep.PendingOrders)
			return nil
		},
	}
}
