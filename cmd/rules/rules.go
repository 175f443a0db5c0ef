package rules

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Cmd is the parent command for rule catalogue operations.
var Cmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the validation rule catalogue",
}

func init() {
	Cmd.AddCommand(lintCmd, listCmd)
}

func writeCmdOut(cmd *cobra.Command, format string, args ...any) error {
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), format, args...); err != nil {
		cmd.PrintErrf("write output: %v\n", err)
		return err
	}
	return nil
}
