package cmd

import (
	"github.com/spf13/cobra"
)

var finishCmd = &cobra.Command{
	Use:     "finish [files... | branch]",
	Aliases: []string{"commit"},
	Short:   "Commit an approved changelist",
	Long: `Verify the changelist's review issue has an LGTM, commit with the
approval stamped into the message, then close the issue and publish the
commit information back to it.

With --force the approval check is skipped and the issue is left open;
reserve that for emergencies.`,
	RunE: runFinish,
}

func init() {
	rootCmd.AddCommand(finishCmd)
}

func runFinish(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	return a.service.Finish(cmd.Context(), buildOptions(args, false))
}
