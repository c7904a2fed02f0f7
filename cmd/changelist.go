package cmd

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/open42/cr/application"
	"github.com/open42/cr/domain"
)

var removeChangelist bool

var changelistCmd = &cobra.Command{
	Use:   "changelist [name] [files... | branch]",
	Short: "List changelists or assign files and branches to one",
	Long: `With no arguments, list the current changelists and their contents.
With a name and files (or a branch), assign them to that changelist,
removing them from any other. With --remove, drop the named changelist.`,
	RunE: runChangelist,
}

func init() {
	changelistCmd.Flags().BoolVar(&removeChangelist, "remove", false,
		"Remove the named changelist instead of assigning to it")
	rootCmd.AddCommand(changelistCmd)
}

func runChangelist(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if len(args) == 0 {
		return listChangelists(cmd, a)
	}

	name := args[0]
	if removeChangelist {
		return a.backend.RemoveChangelist(ctx, name)
	}
	if len(args) < 2 {
		return domain.Userf("specify the files (or the branch) to assign to %q", name)
	}

	members := args[1:]
	if len(members) == 1 {
		if pair, ok := a.backend.ResolveBranch(ctx, members[0]); ok {
			return a.backend.MoveBranchToChangelist(ctx, pair, name)
		}
	}
	return a.backend.MoveFilesToChangelist(ctx, members, name)
}

func listChangelists(cmd *cobra.Command, a *app) error {
	groups, err := a.backend.FileGroups(cmd.Context(), "")
	if err != nil {
		return err
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		group := groups[name]
		cmd.Printf("%s: %s\n", name, application.Describe(group))
		for _, file := range group.Files {
			cmd.Printf("  %c %s\n", file.Status, file.Name)
		}
	}
	return nil
}
