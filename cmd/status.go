package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status [paths...]",
	Aliases: []string{"st"},
	Short:   "Show working copy status grouped by changelist",
	Long: `Show the backend's native status. For git, branches hidden with
"cr branch --hide" are filtered out of the listing.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	return a.backend.Status(cmd.Context(), args)
}
