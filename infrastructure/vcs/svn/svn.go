// Package svn implements the files-only backend. Subversion has native
// changelists, so grouping and persistence are delegated to the svn binary
// itself and no local store is kept.
package svn

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	logger "github.com/sirupsen/logrus"

	"github.com/open42/cr/config"
	"github.com/open42/cr/domain"
	"github.com/open42/cr/infrastructure/vcs"
)

const svnCmd = "svn"

// statusFileOffset is where the filename starts on an `svn status` line;
// the first column is the item status character.
const statusFileOffset = 8

var (
	changelistHeader = regexp.MustCompile(`^--- Changelist '([\w\-]+)':`)
	committedRev     = regexp.MustCompile(`Committed revision (\d+)`)
)

// Backend implements domain.VCS on top of the svn binary.
type Backend struct {
	runner vcs.Runner
	cfg    *config.Config
}

var _ domain.VCS = (*Backend)(nil)

// NewBackend creates the svn backend.
func NewBackend(cfg *config.Config, runner vcs.Runner) *Backend {
	return &Backend{runner: runner, cfg: cfg}
}

func (b *Backend) Name() string { return svnCmd }

// Status is a passthrough to `svn st`.
func (b *Backend) Status(ctx context.Context, args []string) error {
	return b.runner.RunInteractive(ctx, svnCmd, append([]string{"st"}, args...)...)
}

// Snapshot parses `svn status` into per-file divergence records. There is
// no branch concept here, so the context fields stay empty.
func (b *Backend) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	groups, err := b.FileGroups(ctx, "")
	if err != nil {
		return nil, err
	}
	snap := &domain.Snapshot{Files: make(map[string]*domain.FileInfo)}
	for _, group := range groups {
		for _, info := range group.Files {
			snap.Files[info.Name] = info
		}
	}
	return snap, nil
}

// FileGroups parses the native changelist sections of `svn status` into
// groups; files above the first section header belong to the unnamed
// placeholder group.
func (b *Backend) FileGroups(ctx context.Context, changelist string) (map[string]*domain.FileGroupInfo, error) {
	args := []string{"status"}
	if changelist != "" {
		args = append(args, "--changelist", changelist)
	}
	out, err := b.runner.Run(ctx, svnCmd, args...)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*domain.FileGroupInfo)
	current := domain.Placeholder
	var files []*domain.FileInfo
	flush := func() {
		if len(files) == 0 {
			return
		}
		groups[current] = &domain.FileGroupInfo{
			Name:  current,
			Type:  domain.GroupFiles,
			Files: files,
		}
		files = nil
	}

	for _, line := range strings.Split(out, "\n") {
		if m := changelistHeader.FindStringSubmatch(line); m != nil {
			flush()
			current = m[1]
			continue
		}
		if len(line) <= statusFileOffset || line[0] == ' ' {
			continue
		}
		info := domain.NewFileInfo(line[statusFileOffset:], line[0], current)
		info.SetSlot(domain.SlotWorking, line[0])
		files = append(files, info)
	}
	flush()

	return groups, nil
}

// ResolveBranch never matches: branches are not meaningful for svn.
func (b *Backend) ResolveBranch(context.Context, string) (domain.BranchPair, bool) {
	return domain.BranchPair{}, false
}

// GenerateDiff shells out to `svn diff` for the group's files or an
// explicit revision range.
func (b *Backend) GenerateDiff(ctx context.Context, group *domain.FileGroupInfo, opts domain.DiffOptions) (string, error) {
	args := []string{"diff"}
	if opts.Revision != "" {
		args = append(args, "-r", opts.Revision)
	} else {
		args = append(args, group.FilePaths()...)
	}

	out, err := b.runner.Run(ctx, svnCmd, args...)
	if err != nil {
		return "", err
	}
	return out, nil
}

// SynthesizeMessage returns nothing: svn has no local commits to draw a
// message from, so the user must supply one.
func (b *Backend) SynthesizeMessage(context.Context) (string, error) {
	return "", nil
}

// BaseURL is not meaningful for the centralized backend.
func (b *Backend) BaseURL(context.Context, string) string { return "" }

// Commit runs `svn commit` on the changelist, stamping the approval marker
// into the log message, and returns the committed-revision summary for the
// publish step.
func (b *Backend) Commit(ctx context.Context, changelist, approvalMarker, description string, _ bool) (string, error) {
	message := description + " " + approvalMarker
	out, err := b.runner.Run(ctx, svnCmd,
		"commit", "--changelist", changelist, "--message", message)
	if err != nil {
		return "", fmt.Errorf("unable to commit changelist %q: %w", changelist, err)
	}

	m := committedRev.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unable to find the revision number in svn commit output:\n%s", out)
	}
	revision := m[1]

	summary := fmt.Sprintf("Committed revision %s.", revision)
	if b.cfg.SVNRepositoryURL != "" {
		summary += " " + strings.ReplaceAll(b.cfg.SVNRepositoryURL, "%d", revision)
	}
	return summary + "\n" + message, nil
}

// MoveFilesToChangelist uses svn's native changelist command, rolling the
// assignment back when it fails partway.
func (b *Backend) MoveFilesToChangelist(ctx context.Context, files []string, changelist string) error {
	if len(files) == 0 {
		return nil
	}
	logger.Infof("Moving files %v into changelist %q...", files, changelist)

	args := append([]string{"changelist", changelist}, files...)
	if _, err := b.runner.Run(ctx, svnCmd, args...); err != nil {
		rollback := append([]string{"changelist", "--remove"}, files...)
		if _, rbErr := b.runner.Run(ctx, svnCmd, rollback...); rbErr != nil {
			logger.Warnf("rollback of changelist assignment failed: %v", rbErr)
		}
		return fmt.Errorf("unable to move files %v into changelist %q: %w", files, changelist, err)
	}
	return nil
}

// MoveBranchToChangelist is not supported: svn changelists hold files only.
func (b *Backend) MoveBranchToChangelist(_ context.Context, pair domain.BranchPair, changelist string) error {
	return fmt.Errorf("svn changelists cannot hold a branch (%s -> %q)", pair, changelist)
}

// RemoveChangelist strips the changelist assignment from its members; svn
// deletes the changelist itself once it has no members.
func (b *Backend) RemoveChangelist(ctx context.Context, changelist string) error {
	groups, err := b.FileGroups(ctx, changelist)
	if err != nil {
		return err
	}
	group, ok := groups[changelist]
	if !ok {
		return nil
	}

	args := append([]string{"changelist", "--remove"}, group.FilePaths()...)
	if _, runErr := b.runner.Run(ctx, svnCmd, args...); runErr != nil {
		return fmt.Errorf("unable to remove changelist %q: %w", changelist, runErr)
	}
	return nil
}
