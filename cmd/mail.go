package cmd

import (
	"github.com/spf13/cobra"
)

var mailCmd = &cobra.Command{
	Use:   "mail [files... | branch]",
	Short: "Upload a changelist for review and notify the reviewers",
	Long: `Upload the changelist's diff to the review service and send the review
request by email. A new changelist gets a fresh issue number and is renamed
after it; an already-uploaded one receives a new patchset.`,
	RunE: runMail,
}

var uploadCmd = &cobra.Command{
	Use:   "upload [files... | branch]",
	Short: "Upload a changelist for review without sending mail",
	Long: `Like "cr mail", but without emailing the reviewers. Useful for staging
work-in-progress patchsets on an existing issue.`,
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(mailCmd)
	rootCmd.AddCommand(uploadCmd)
}

func runMail(cmd *cobra.Command, args []string) error {
	return upload(cmd, args, true)
}

func runUpload(cmd *cobra.Command, args []string) error {
	return upload(cmd, args, false)
}

func upload(cmd *cobra.Command, args []string, sendMail bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	_, _, err = a.service.Upload(cmd.Context(), buildOptions(args, sendMail))
	return err
}
