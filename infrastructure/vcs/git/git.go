// Package git implements the branch-capable backend. Git has no native
// changelist concept, so the persisted store maps changelist names to
// branch pairs and file sets on its behalf.
package git

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	logger "github.com/sirupsen/logrus"

	"github.com/open42/cr/config"
	"github.com/open42/cr/domain"
	"github.com/open42/cr/infrastructure/store"
	"github.com/open42/cr/infrastructure/vcs"
)

const (
	gitCmd = "git"

	// defaultRemoteBranch is the review context when the current branch
	// has no stored pair.
	defaultRemoteBranch = "remotes/origin/master"

	// Pretty-format markers for machine-readable commit log parsing.
	logID    = "__#id#__:"
	logDelim = "__#delim#__"
)

var (
	branchLinePattern = regexp.MustCompile(`^(\*)?\s+(.+)`)
	porcelainPattern  = regexp.MustCompile(`^(.)(.) (.+)`)
	markerPattern     = regexp.MustCompile(`\s*\(Code-reviewer.+\)\s*`)
	checkmarkPattern  = regexp.MustCompile(`^[✓✗]+`)
)

// Backend implements domain.VCS on top of the git binary, with the
// persisted changelist store supplying the grouping git lacks.
type Backend struct {
	runner vcs.Runner
	store  *store.Store
	cfg    *config.Config
	repo   *gogit.Repository
}

var _ domain.VCS = (*Backend)(nil)

// Open locates the enclosing repository, loads its changelist store from
// the metadata directory, and returns the backend.
func Open(cfg *config.Config, runner vcs.Runner) (*Backend, error) {
	repo, err := gogit.PlainOpenWithOptions(".", &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("not inside a git repository: %w", err)
	}

	gitDir, err := runner.Run(context.Background(), gitCmd, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return nil, fmt.Errorf("failed to locate the git metadata directory: %w", err)
	}
	st, err := store.Load(strings.TrimSpace(gitDir) + "/" + store.FileName)
	if err != nil {
		return nil, err
	}

	return &Backend{runner: runner, store: st, cfg: cfg, repo: repo}, nil
}

// NewBackend wires a backend from explicit collaborators; tests use this to
// inject a stub runner and a temp-dir store.
func NewBackend(cfg *config.Config, runner vcs.Runner, st *store.Store) *Backend {
	return &Backend{runner: runner, store: st, cfg: cfg}
}

func (b *Backend) Name() string { return gitCmd }

// Store exposes the persisted changelist store for the hide/show commands.
func (b *Backend) Store() *store.Store { return b.store }

// Status runs the native status display and summarizes the current
// changelist grouping, leaving hidden branches out.
func (b *Backend) Status(ctx context.Context, args []string) error {
	if err := b.runner.RunInteractive(ctx, gitCmd, append([]string{"status"}, args...)...); err != nil {
		return err
	}

	groups, err := b.FileGroups(ctx, "")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(groups))
	for name, g := range groups {
		if name == domain.Placeholder {
			continue
		}
		if g.Type == domain.GroupBranch && b.store.IsHidden(g.Branch.Local) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g := groups[name]
		if g.Type == domain.GroupBranch {
			logger.Infof("changelist %s: branch %s", name, g.Branch)
			continue
		}
		logger.Infof("changelist %s: %d file(s)", name, len(g.Files))
	}
	return nil
}

// Snapshot derives branch and per-file divergence state from `git branch`,
// `git status --porcelain`, and per-branch name-only diffs.
func (b *Backend) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	out, err := b.runner.Run(ctx, gitCmd, "branch", "-a", "--no-color")
	if err != nil {
		return nil, err
	}

	snap := &domain.Snapshot{Files: make(map[string]*domain.FileInfo)}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		// "remotes/origin/HEAD -> origin/master" is an alias, not a branch.
		if i := strings.Index(line, " -> "); i >= 0 {
			line = line[:i]
		}
		m := branchLinePattern.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("unable to parse branch listing line: %q", line)
		}
		snap.Branches = append(snap.Branches, m[2])
		if m[1] == "*" {
			snap.Current = m[2]
		}
	}
	if snap.Current == "" {
		return nil, fmt.Errorf("unable to determine the current branch")
	}

	out, err = b.runner.Run(ctx, gitCmd, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		m := porcelainPattern.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("unable to parse status --porcelain line: %q", line)
		}
		staged, working, name := m[1][0], m[2][0], m[3]
		info := snap.Files[name]
		if info == nil {
			status := byte('?')
			if staged != '?' && staged != ' ' {
				status = staged
			} else if working != '?' && working != ' ' {
				status = working
			}
			info = domain.NewFileInfo(name, status, "")
			snap.Files[name] = info
		}
		if staged != ' ' {
			info.SetSlot(domain.SlotStaged, staged)
		}
		if working != ' ' {
			info.SetSlot(domain.SlotWorking, working)
		}
	}

	// Record, per known branch, which files differ from it.
	for _, branch := range snap.Branches {
		if branch == snap.Current {
			continue
		}
		diffOut, diffErr := b.runner.Run(ctx, gitCmd,
			"diff", "--name-only", "--no-color", branch, snap.Current)
		if diffErr != nil {
			logger.Debugf("skipping branch %q: %v", branch, diffErr)
			continue
		}
		for _, name := range strings.Split(strings.TrimSpace(diffOut), "\n") {
			if name == "" {
				continue
			}
			info := snap.Files[name]
			if info == nil {
				info = domain.NewFileInfo(name, 0, "")
				snap.Files[name] = info
			}
			info.SetSlot(branch, '*')
		}
	}

	return snap, nil
}

// FileGroups combines the snapshot with the persisted store: stored file
// sets and branch pairs become named groups, the current branch becomes a
// group when it has unpushed commits, and any remaining changed files fall
// into the unnamed placeholder group.
func (b *Backend) FileGroups(ctx context.Context, changelist string) (map[string]*domain.FileGroupInfo, error) {
	snap, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*domain.FileGroupInfo)
	assigned := make(map[string]bool)

	for name, paths := range b.store.Files {
		group := &domain.FileGroupInfo{Name: name, Type: domain.GroupFiles}
		for _, path := range paths {
			assigned[path] = true
			info := snap.Files[path]
			if info == nil || !info.Changed() {
				continue
			}
			info.Changelist = name
			group.Files = append(group.Files, info)
		}
		if len(group.Files) > 0 {
			groups[name] = group
		}
	}

	for name, pair := range b.store.Branches {
		if !slices.Contains(snap.Branches, pair.Local) {
			logger.Debugf("stored branch %q for changelist %q no longer exists", pair.Local, name)
			continue
		}
		groups[name] = &domain.FileGroupInfo{Name: name, Type: domain.GroupBranch, Branch: pair}
	}

	// The current branch is a reviewable group once it carries commits
	// its remote context does not have.
	current := domain.BranchPair{Remote: b.remoteFor(snap.Current), Local: snap.Current}
	if _, held := b.store.BranchChangelist(current); !held {
		if ahead, aheadErr := b.commitsAhead(ctx, current); aheadErr == nil && ahead > 0 {
			groups[snap.Current] = &domain.FileGroupInfo{
				Name:   snap.Current,
				Type:   domain.GroupBranch,
				Branch: current,
			}
		}
	}

	placeholder := &domain.FileGroupInfo{Name: domain.Placeholder, Type: domain.GroupFiles}
	names := make([]string, 0, len(snap.Files))
	for name := range snap.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info := snap.Files[name]
		if assigned[name] || !hasWorkingChange(info) {
			continue
		}
		placeholder.Files = append(placeholder.Files, info)
	}
	if len(placeholder.Files) > 0 {
		groups[domain.Placeholder] = placeholder
	}

	if changelist != "" {
		if g, ok := groups[changelist]; ok {
			return map[string]*domain.FileGroupInfo{changelist: g}, nil
		}
		return map[string]*domain.FileGroupInfo{}, nil
	}
	return groups, nil
}

// ResolveBranch interprets a bare command-line argument as a branch: a
// remote branch name pairs with the current branch, a local branch name
// pairs with its stored or default remote context.
func (b *Backend) ResolveBranch(ctx context.Context, arg string) (domain.BranchPair, bool) {
	snap, err := b.Snapshot(ctx)
	if err != nil {
		return domain.BranchPair{}, false
	}

	candidates := []string{arg, "remotes/" + arg}
	for _, name := range candidates {
		if !slices.Contains(snap.Branches, name) {
			continue
		}
		if strings.HasPrefix(name, "remotes/") {
			return domain.BranchPair{Remote: name, Local: snap.Current}, true
		}
		return domain.BranchPair{Remote: b.remoteFor(name), Local: name}, true
	}
	return domain.BranchPair{}, false
}

// GenerateDiff produces a patch for the group, spanning both staged and
// unstaged changes by diffing against the merge base with the remote
// context rather than the index.
func (b *Backend) GenerateDiff(ctx context.Context, group *domain.FileGroupInfo, opts domain.DiffOptions) (string, error) {
	diffArgs := []string{"diff", "--no-ext-diff", "--no-color", "--full-index", "-M"}

	if opts.Revision != "" {
		if from, to, ok := strings.Cut(opts.Revision, ":"); ok {
			diffArgs = append(diffArgs, from, to)
		} else {
			diffArgs = append(diffArgs, opts.Revision)
		}
		return b.runner.Run(ctx, gitCmd, diffArgs...)
	}

	snap, err := b.Snapshot(ctx)
	if err != nil {
		return "", err
	}

	if group.Type == domain.GroupBranch && group.Branch.Local != snap.Current {
		diffArgs = append(diffArgs, group.Branch.Remote, group.Branch.Local)
		return b.runner.Run(ctx, gitCmd, diffArgs...)
	}

	remote := b.remoteFor(snap.Current)
	if group.Type == domain.GroupBranch {
		remote = group.Branch.Remote
	}
	base, err := b.runner.Run(ctx, gitCmd, "merge-base", remote, snap.Current)
	if err != nil {
		return "", err
	}
	diffArgs = append(diffArgs, strings.TrimSpace(base), "--")
	if group.Type == domain.GroupFiles {
		diffArgs = append(diffArgs, group.FilePaths()...)
	}
	return b.runner.Run(ctx, gitCmd, diffArgs...)
}

// SynthesizeMessage builds an upload message from the commits the remote
// context does not have yet, numbered when there is more than one.
func (b *Backend) SynthesizeMessage(ctx context.Context) (string, error) {
	snap, err := b.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	pair := domain.BranchPair{Remote: b.remoteFor(snap.Current), Local: snap.Current}

	log, err := b.commitLog(ctx, pair.Remote, pair.Local)
	if err != nil {
		return "", err
	}
	if len(log) == 0 {
		return "", nil
	}

	var msg strings.Builder
	for i := len(log) - 1; i >= 0; i-- {
		entry := log[i]
		n := len(log) - i
		if len(log) > 1 {
			fmt.Fprintf(&msg, "%d) ", n)
		}
		msg.WriteString(strings.TrimRight(entry.subject, ". \t"))
		if entry.body != "" {
			msg.WriteString("\n" + strings.TrimSpace(entry.body))
		}
		msg.WriteString(".")
		if i > 0 {
			msg.WriteString("\n")
		}
	}
	return msg.String(), nil
}

// BaseURL renders the configured base-URL template for the origin remote,
// so the reviewer can see which context the review targets.
func (b *Backend) BaseURL(ctx context.Context, branch string) string {
	if b.cfg.GitBaseURL == "" || b.cfg.GitRepoRegex == "" || b.repo == nil {
		return ""
	}

	repoCfg, err := b.repo.Config()
	if err != nil {
		return ""
	}
	origin, ok := repoCfg.Remotes["origin"]
	if !ok || len(origin.URLs) == 0 {
		return ""
	}
	repoPattern, err := regexp.Compile(b.cfg.GitRepoRegex)
	if err != nil {
		logger.Warnf("invalid git_repo_regex: %v", err)
		return ""
	}
	m := repoPattern.FindStringSubmatch(origin.URLs[0])
	if len(m) < 2 {
		return ""
	}

	hash, err := b.runner.Run(ctx, gitCmd, "log", "-1", "--pretty=%H")
	if err != nil {
		return ""
	}

	url := renderURLTemplate(b.cfg.GitBaseURL, m[1], strings.TrimSpace(hash))
	if after, isRemote := strings.CutPrefix(branch, "remotes/origin"); isRemote {
		url += "/tree" + after
	}
	return url
}

// Commit amends the tip commit with the approval marker, rebases onto the
// remote context, pushes, and returns the publish-back message listing the
// committed changes.
func (b *Backend) Commit(ctx context.Context, changelist, approvalMarker, description string, force bool) (string, error) {
	snap, err := b.Snapshot(ctx)
	if err != nil {
		return "", err
	}

	pair, held := b.store.Branches[changelist]
	if !held {
		pair = domain.BranchPair{Remote: b.remoteFor(snap.Current), Local: snap.Current}
	}
	if pair.Local != snap.Current {
		return "", domain.Userf(
			"changelist %q is bound to branch %s; check it out first", changelist, pair)
	}

	log, err := b.commitLog(ctx, pair.Remote, pair.Local)
	if err != nil {
		return "", err
	}
	if len(log) == 0 {
		return "", fmt.Errorf("the commit log from %s..%s is empty", pair.Remote, pair.Local)
	}

	// Amend the tip commit to carry the approval marker and a reviewed
	// (or forced) mark on the subject.
	mark := "✓"
	if force {
		mark = "✗"
	}
	subject := mark + checkmarkPattern.ReplaceAllString(log[0].subject, "")
	body := markerPattern.ReplaceAllString(log[0].body, "")
	body = strings.TrimRight(body, " \t\r\n")
	body = approvalMarker + "\n\n" + body

	if _, err = b.runner.Run(ctx, gitCmd, "commit", "--amend", "-m", subject+"\n\n"+body); err != nil {
		return "", err
	}

	if _, err = b.runner.Run(ctx, gitCmd, "fetch"); err != nil {
		return "", err
	}
	if _, err = b.runner.Run(ctx, gitCmd, "rebase", pair.Remote); err != nil {
		return "", err
	}

	// Rebase rewrites hashes; refetch the log before publishing.
	log, err = b.commitLog(ctx, pair.Remote, pair.Local)
	if err != nil {
		return "", err
	}
	if len(log) == 0 {
		return "", fmt.Errorf("the commit log from %s..%s is empty after rebase", pair.Remote, pair.Local)
	}

	remoteName := pair.Remote[strings.LastIndex(pair.Remote, "/")+1:]
	pushRef := snap.Current + ":" + remoteName
	if snap.Current == remoteName {
		pushRef = remoteName
	}
	if _, err = b.runner.Run(ctx, gitCmd, "push", "origin", pushRef); err != nil {
		return "", err
	}

	var published []string
	for _, entry := range log {
		ref := entry.hash
		if b.cfg.GitCommitURL != "" && b.cfg.GitRepoRegex != "" {
			if url := b.commitURL(ctx, entry.hash); url != "" {
				ref = url
			}
		}
		published = append(published, ref+"\n"+entry.subject+entry.body)
	}
	return strings.Join(published, "\n"), nil
}

func (b *Backend) MoveFilesToChangelist(_ context.Context, files []string, changelist string) error {
	logger.Infof("Moving files %v into changelist %q...", files, changelist)
	return b.store.AssignFiles(files, changelist)
}

func (b *Backend) MoveBranchToChangelist(_ context.Context, pair domain.BranchPair, changelist string) error {
	logger.Infof("Moving branch %s into changelist %q...", pair, changelist)
	return b.store.AssignBranch(pair, changelist)
}

func (b *Backend) RemoveChangelist(_ context.Context, changelist string) error {
	return b.store.Remove(changelist)
}

// remoteFor returns the stored remote context for a local branch, or the
// default when no changelist holds it.
func (b *Backend) remoteFor(local string) string {
	for _, pair := range b.store.Branches {
		if pair.Local == local {
			return pair.Remote
		}
	}
	return defaultRemoteBranch
}

func (b *Backend) commitsAhead(ctx context.Context, pair domain.BranchPair) (int, error) {
	out, err := b.runner.Run(ctx, gitCmd, "rev-list", "--count", pair.Remote+".."+pair.Local)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("unexpected rev-list output %q", out)
	}
	return n, nil
}

type logEntry struct {
	hash    string
	subject string
	body    string
}

// commitLog returns the from..to history, newest first.
func (b *Backend) commitLog(ctx context.Context, from, to string) ([]logEntry, error) {
	out, err := b.runner.Run(ctx, gitCmd, "log", from+".."+to,
		"--pretty="+logID+"%H"+logDelim+"%s"+logDelim+"%b")
	if err != nil {
		return nil, err
	}

	var entries []logEntry
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, logID); ok {
			parts := strings.SplitN(rest, logDelim, 3)
			if len(parts) != 3 {
				continue
			}
			entries = append(entries, logEntry{hash: parts[0], subject: parts[1], body: parts[2]})
			continue
		}
		if len(entries) > 0 && line != "" {
			last := &entries[len(entries)-1]
			last.body += "\n" + line
		}
	}
	return entries, nil
}

func (b *Backend) commitURL(_ context.Context, hash string) string {
	if b.repo == nil {
		return ""
	}
	repoCfg, err := b.repo.Config()
	if err != nil {
		return ""
	}
	origin, ok := repoCfg.Remotes["origin"]
	if !ok || len(origin.URLs) == 0 {
		return ""
	}
	repoPattern, err := regexp.Compile(b.cfg.GitRepoRegex)
	if err != nil {
		return ""
	}
	m := repoPattern.FindStringSubmatch(origin.URLs[0])
	if len(m) < 2 {
		return ""
	}
	return renderURLTemplate(b.cfg.GitCommitURL, m[1], hash)
}

// hasWorkingChange reports whether a file diverges in the staging area or
// the working tree, as opposed to only differing from some other branch.
func hasWorkingChange(info *domain.FileInfo) bool {
	_, staged := info.Slots[domain.SlotStaged]
	_, working := info.Slots[domain.SlotWorking]
	return staged || working
}

// renderURLTemplate substitutes the {repo} and {hash} placeholders.
func renderURLTemplate(template, repo, hash string) string {
	url := strings.ReplaceAll(template, "{repo}", repo)
	return strings.ReplaceAll(url, "{hash}", hash)
}
