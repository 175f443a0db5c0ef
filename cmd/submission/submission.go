package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/fedspend/broker/internal/app"
	"github.com/fedspend/broker/internal/models"
	sub "github.com/fedspend/broker/internal/submission"
	"github.com/fedspend/broker/pkg/env"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Cmd is the parent command for submission operations.
var Cmd = &cobra.Command{
	Use:     "submission",
	Aliases: []string{"sub"},
	Short:   "Manage submissions and their jobs",
}

var createReq sub.CreateRequest

var createCmd = &cobra.Command{
	Use:     "create",
	Short:   "Create a DABS or FABS submission",
	Example: "broker submission create --cgac 012 --fiscal-year 2024 --fiscal-period 6",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		s, err := a.Manager.CreateSubmission(ctx, createReq)
		if err != nil {
			return err
		}
		return printJSON(cmd, s)
	}),
}

var attachType string

var uploadCmd = &cobra.Command{
	Use:     "upload <submission-id> <file>",
	Short:   "Upload a file into a submission",
	Example: "broker submission upload 5b0d7c3e-8a8e-4f8e-9d61-1f0f2b3c4d5e ./award_financial.csv --type C",
	Args:    cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ft, err := models.ParseFileType(attachType)
		if err != nil {
			return err
		}

		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}

		name := filepath.Base(args[1])
		upload, err := uploadJob(ctx, a, id, ft, name)
		if err != nil {
			return err
		}
		done, err := a.Manager.UploadFileContent(ctx, upload.ID, name, f, info.Size())
		if err != nil {
			return err
		}
		return printJSON(cmd, done)
	}),
}

var publishCmd = &cobra.Command{
	Use:   "publish <submission-id>",
	Short: "Publish a submission",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, err := a.Manager.PublishSubmission(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(cmd, s)
	}),
}

var unpublishCmd = &cobra.Command{
	Use:   "unpublish <submission-id>",
	Short: "Revert a published DABS submission to unpublished",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, err := a.Manager.UnpublishSubmission(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(cmd, s)
	}),
}

var jobsCmd = &cobra.Command{
	Use:   "jobs <submission-id>",
	Short: "List the current jobs of a submission",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		jobs, err := a.Manager.ListJobs(ctx, id)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFILE\tTYPE\tSTATUS\tROWS\tERRORS\tWARNINGS")
		for _, j := range jobs {
			file := string(j.FileType)
			if j.FileType == models.FileTypeCross {
				file = fmt.Sprintf("%s/%s", j.SourceFileType.Letter(), j.TargetFileType.Letter())
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
				j.ID, file, j.JobType, j.Status, j.NumberOfRows, j.NumberOfErrors, j.NumberOfWarnings)
		}
		return w.Flush()
	}),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job that has not finished",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		job, err := a.Manager.CancelJob(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(cmd, job)
	}),
}

func init() {
	createCmd.Flags().StringVar(&createReq.CGACCode, "cgac", "", "CGAC code of the submitting agency")
	createCmd.Flags().StringVar(&createReq.FRECCode, "frec", "", "FREC code of the submitting agency")
	createCmd.Flags().IntVar(&createReq.FiscalYear, "fiscal-year", 0, "Reporting fiscal year")
	createCmd.Flags().IntVar(&createReq.FiscalPeriod, "fiscal-period", 0, "Reporting fiscal period (2-12)")
	createCmd.Flags().BoolVar(&createReq.Quarter, "quarter", false, "Quarterly submission")
	createCmd.Flags().BoolVar(&createReq.FABS, "fabs", false, "Financial assistance (FABS) submission")
	createCmd.Flags().BoolVar(&createReq.Test, "test", false, "Test submission, eligible for purge")

	uploadCmd.Flags().StringVarP(&attachType, "type", "t", "", "File type (A, B, C, D1, D2, fabs)")
	_ = uploadCmd.MarkFlagRequired("type")

	Cmd.AddCommand(createCmd, uploadCmd, publishCmd, unpublishCmd, jobsCmd, cancelCmd)
}

// uploadJob reuses the file's pending upload job, or attaches the file
// again when its previous upload already went through.
func uploadJob(ctx context.Context, a *app.App, id uuid.UUID, ft models.FileType, name string) (*models.Job, error) {
	jobs, err := a.Manager.ListJobs(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		j := &jobs[i]
		if j.FileType == ft && j.JobType == models.JobTypeUpload && j.Status == models.JobStatusReady {
			return j, nil
		}
	}
	return a.Manager.AttachFile(ctx, id, ft, name)
}

type runFunc func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error

func withApp(fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		a, err := app.Open(ctx, env.Variables())
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(ctx, cmd, a, args)
	}
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
