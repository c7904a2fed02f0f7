package domain

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

// issueNamePattern matches issue-numbered changelist names ("issue123" or
// "issue123-mychanges").
var issueNamePattern = regexp.MustCompile(`^issue(\d+)`)

// IssueChangelistName builds the canonical changelist name for an uploaded
// issue, keeping the user's original name as a suffix when there was one.
func IssueChangelistName(issue int, original string) string {
	name := "issue" + strconv.Itoa(issue)
	if original != "" && original != Placeholder {
		name += "-" + original
	}
	return name
}

// IssueNumber extracts the issue number embedded in a changelist name.
// It returns 0 and false for names that are not issue-numbered yet.
func IssueNumber(changelist string) (int, bool) {
	m := issueNamePattern.FindStringSubmatch(changelist)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// DiffOptions selects what a VCS diff covers.
type DiffOptions struct {
	// Revision is an explicit revision or rev1:rev2 range. When set it
	// takes precedence over the group contents.
	Revision string
}

// VCS abstracts the two supported version-control backends (git and svn)
// behind one changelist-oriented contract. Implementations shell out to the
// backend binary; no state is cached across calls within one invocation
// beyond the persisted changelist store.
type VCS interface {
	// Name returns the backend identifier ("git" or "svn").
	Name() string

	// Status prints the backend's native status for the user, filtered
	// through any display settings (hidden branches for git).
	Status(ctx context.Context, args []string) error

	// Snapshot derives the current divergence state of the working tree.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// FileGroups assigns every changed file or branch to a changelist
	// name, defaulting ungrouped items to the Placeholder name. When
	// changelist is non-empty the result is narrowed to that changelist
	// where the backend supports it natively.
	FileGroups(ctx context.Context, changelist string) (map[string]*FileGroupInfo, error)

	// ResolveBranch reports whether arg names a known local branch and, if
	// so, returns its (remote, local) pair.
	ResolveBranch(ctx context.Context, arg string) (BranchPair, bool)

	// GenerateDiff produces a unified diff covering the group (or the
	// explicit revision range). For the git backend the diff spans both
	// staged and unstaged changes relative to the remote branch.
	GenerateDiff(ctx context.Context, group *FileGroupInfo, opts DiffOptions) (string, error)

	// SynthesizeMessage builds a commit message from recent history when
	// the user supplied none. Backends without usable history return "".
	SynthesizeMessage(ctx context.Context) (string, error)

	// BaseURL returns a display URL identifying what the review is
	// against, or "" when the backend cannot tell.
	BaseURL(ctx context.Context, branch string) string

	// Commit performs the final local commit (svn) or amend+push (git),
	// stamping approvalMarker into the message. It returns the text to
	// publish back to the review issue.
	Commit(ctx context.Context, changelist, approvalMarker, description string, force bool) (string, error)

	// MoveFilesToChangelist assigns files to a changelist, removing them
	// from any other. Idempotent.
	MoveFilesToChangelist(ctx context.Context, files []string, changelist string) error

	// MoveBranchToChangelist assigns a branch pair to a changelist,
	// stripping any prior entry for the pair or the name. Idempotent.
	MoveBranchToChangelist(ctx context.Context, pair BranchPair, changelist string) error

	// RemoveChangelist drops a changelist after its commit is published.
	RemoveChangelist(ctx context.Context, changelist string) error
}

// CommandError reports a backend binary exiting non-zero. It is terminal:
// backend failures are never retried.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("unable to execute %q: %v\n%s", e.Command, e.Err, e.Output)
}

func (e *CommandError) Unwrap() error { return e.Err }
