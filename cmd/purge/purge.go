package purge

import (
	"context"
	"fmt"

	"github.com/fedspend/broker/internal/app"
	"github.com/fedspend/broker/pkg/env"
	"github.com/spf13/cobra"
)

var dryRun bool

// Cmd runs the stale test-submission purge once.
var Cmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete stale unpublished test submissions",
	Long:  "This command deletes unpublished test submissions not updated within BROKER_PURGE_AFTER, with their jobs, staged rows and files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		a, err := app.Open(ctx, env.Variables())
		if err != nil {
			return err
		}
		defer a.Close()

		if dryRun {
			stale, err := a.Manager.Stale(ctx)
			if err != nil {
				return err
			}
			for _, sub := range stale {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", sub.ID, sub.AgencyCode(), sub.UpdatedAt.Format("2006-01-02"))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d submission(s) would be purged\n", len(stale))
			return nil
		}

		n, err := a.Manager.Purge(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d submission(s)\n", n)
		return err
	},
}

func init() {
	Cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the submissions that would be purged")
}
