package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"shopbot/internal/app"
)

func newSeedCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the demo accounts and product",
		Long: `Creates admin/admin123 (role admin), user/user123 (role user) and one
sample product. Existing rows are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := app.Seed(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "accounts created: %d (kept %d)\n", rep.AccountsCreated, rep.AccountsKept)
			fmt.Fprintf(out, "product created:  %t\n", rep.ProductCreated)
			for _, a := range app.DefaultSeedAccounts {
				fmt.Fprintf(out, "  login: /login %s %s\n", a.Username, a.Password)
			}
			return nil
		},
	}
}
