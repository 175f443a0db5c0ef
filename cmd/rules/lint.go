package rules

import (
	"github.com/fedspend/broker/internal/rule"
	"github.com/fedspend/broker/pkg/env"
	"github.com/spf13/cobra"
)

var lintPaths []string

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate rule catalogue files",
	RunE: func(cmd *cobra.Command, args []string) error {
		patterns := lintPaths
		if len(patterns) == 0 {
			patterns = env.Variables().RulePaths
		}

		files, err := rule.Match(patterns)
		if err != nil {
			return err
		}

		catalogue, err := rule.Load(patterns)
		if err != nil {
			return err
		}

		return writeCmdOut(cmd, "Validated %d rule(s) from the embedded catalogue and %d file(s)\n", len(catalogue.Rules()), len(files))
	},
}

func init() {
	lintCmd.Flags().StringSliceVarP(&lintPaths, "path", "p", nil, "Doublestar globs of extra rule files (default: BROKER_RULE_PATHS)")
}
