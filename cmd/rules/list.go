package rules

import (
	"text/tabwriter"

	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/rule"
	"github.com/fedspend/broker/pkg/env"
	"github.com/spf13/cobra"
)

var listFile string

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "Print a summary of the rule catalogue",
	Example: "broker rules list --file fabs",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalogue, err := rule.Load(env.Variables().RulePaths)
		if err != nil {
			return err
		}

		var only models.FileType
		if listFile != "" {
			if only, err = models.ParseFileType(listFile); err != nil {
				return err
			}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		if err := writeLine(w, "LABEL\tSEVERITY\tSCOPE\tFILE\tTARGET\tMESSAGE\n"); err != nil {
			return err
		}
		for _, r := range catalogue.Rules() {
			if only != "" && r.File != only && r.TargetFile != only {
				continue
			}
			if err := writeLine(w, r.Label+"\t"+string(r.Severity)+"\t"+string(r.Scope)+"\t"+
				string(r.File)+"\t"+string(r.TargetFile)+"\t"+r.Message+"\n"); err != nil {
				return err
			}
		}
		return w.Flush()
	},
}

func writeLine(w *tabwriter.Writer, line string) error {
	_, err := w.Write([]byte(line))
	return err
}

func init() {
	listCmd.Flags().StringVarP(&listFile, "file", "f", "", "Only rules that read this file type (A, B, C, D1, D2, fabs)")
}
