package validate

import (
	"context"
	"fmt"

	"github.com/fedspend/broker/internal/app"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/worker"
	"github.com/fedspend/broker/pkg/env"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Cmd runs one validation job in the foreground.
var Cmd = &cobra.Command{
	Use:     "validate <job-id>",
	Short:   "Run one validation job synchronously",
	Example: "broker validate 5b0d7c3e-8a8e-4f8e-9d61-1f0f2b3c4d5e",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		vars := env.Variables()
		a, err := app.Open(ctx, vars)
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.Manager.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if !job.JobType.Validation() {
			return fmt.Errorf("job %s is a %s job", id, job.JobType)
		}
		if job.Status != models.JobStatusReady {
			return fmt.Errorf("job %s is %s, not %s", id, job.Status, models.JobStatusReady)
		}
		if job, err = a.Manager.Transition(ctx, id, models.JobStatusRunning, ""); err != nil {
			return err
		}

		worker.NewValidationExecutor(a.DB, a.Engine, a.Manager, a.NodeID, 0, 1)(ctx, job)

		done, err := a.Manager.GetJob(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "job %s %s: rows=%d valid=%d errors=%d warnings=%d\n",
			done.ID, done.Status, done.NumberOfRows, done.NumberOfRowsValid, done.NumberOfErrors, done.NumberOfWarnings)
		if done.ErrorMessage != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "reason: %s\n", done.ErrorMessage)
		}
		return nil
	},
}
