package cmd

import (
	"github.com/spf13/cobra"

	"github.com/open42/cr/domain"
	"github.com/open42/cr/infrastructure/vcs/git"
)

var (
	hideBranch string
	showBranch string
)

var branchCmd = &cobra.Command{
	Use:   "branch --hide <name> | --show <name>",
	Short: "Hide or unhide a branch in status listings (git only)",
	Long: `Long-lived remote branches clutter the status listing. Hiding a branch
removes it from "cr status" output without touching the repository; --show
reverses it.`,
	RunE: runBranch,
}

func init() {
	branchCmd.Flags().StringVar(&hideBranch, "hide", "",
		"Hide the named branch from status listings")
	branchCmd.Flags().StringVar(&showBranch, "show", "",
		"Unhide the named branch")
	rootCmd.AddCommand(branchCmd)
}

func runBranch(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	backend, ok := a.backend.(*git.Backend)
	if !ok {
		return domain.Userf("branch visibility is only supported on git working copies")
	}

	switch {
	case hideBranch != "":
		return backend.Store().Hide(hideBranch)
	case showBranch != "":
		return backend.Store().Show(showBranch)
	default:
		return domain.Userf("specify either --hide or --show with a branch name")
	}
}
