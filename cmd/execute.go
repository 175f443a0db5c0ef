package cmd

import (
	"github.com/fedspend/broker/cmd/purge"
	"github.com/fedspend/broker/cmd/rules"
	"github.com/fedspend/broker/cmd/start"
	"github.com/fedspend/broker/cmd/submission"
	"github.com/fedspend/broker/cmd/validate"
	"github.com/spf13/cobra"
)

var cmds = []*cobra.Command{
	start.Cmd,
	rules.Cmd,
	submission.Cmd,
	validate.Cmd,
	purge.Cmd,
}

// Execute builds the command tree and executes commands.
func Execute() error {
	command := &cobra.Command{
		Use:           "broker",
		Short:         "Federal spending submission broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	for _, c := range cmds {
		command.AddCommand(c)
	}

	return command.Execute()
}
