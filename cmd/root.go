package cmd

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	changelist string
	message    string
	reviewers  string
	cc         string
	revision   string
	force      bool
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "cr",
	Short: "Review-gated commit workflow for git and svn",
	Long: `cr layers changelist grouping and code-review gating on top of a git or
svn working copy. Changed files (or a feature branch) form a changelist;
"cr mail" uploads its diff to the review service and notifies a reviewer,
and "cr finish" commits it once the reviewer has responded with an LGTM.

Typical flow:
  cr mail -r reviewer@example.com -m "Add the frobnicator"
  ... wait for the LGTM ...
  cr finish`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if verbose {
			logger.SetLevel(logger.DebugLevel)
		}
	},
}

// Execute runs the root command under ctx, so an interrupt cancels any
// in-flight backend or review-service call.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&changelist, "changelist", "",
		"Changelist or branch to operate on (default: auto-detect)")
	flags.StringVar(&changelist, "cl", "",
		"Shorthand for --changelist")
	flags.StringVarP(&message, "message", "m", "",
		"Message describing the change")
	flags.StringVarP(&reviewers, "reviewers", "r", "",
		"Comma-separated reviewer email addresses")
	flags.StringVarP(&cc, "cc", "c", "",
		"Comma-separated addresses to CC on the review")
	flags.StringVarP(&revision, "revision", "R", "",
		"Review an explicit revision or rev1:rev2 range instead of local changes")
	flags.BoolVar(&force, "force", false,
		"Commit without an approved review (emergencies only)")
	flags.BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose output")
	flags.StringVar(&configPath, "config", "",
		"Path to config file (default: auto-detect)")
}
