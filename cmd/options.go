package cmd

import "github.com/open42/cr/application"

// buildOptions gathers the persistent flags and positional arguments into
// the per-invocation options the application layer consumes.
func buildOptions(args []string, sendMail bool) application.Options {
	return application.Options{
		Changelist: changelist,
		Message:    message,
		Reviewers:  reviewers,
		CC:         cc,
		Revision:   revision,
		Args:       args,
		SendMail:   sendMail,
		Force:      force,
	}
}
