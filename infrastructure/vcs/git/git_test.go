package git_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open42/cr/config"
	"github.com/open42/cr/domain"
	"github.com/open42/cr/infrastructure/store"
	"github.com/open42/cr/infrastructure/vcs/git"
	testdoubles "github.com/open42/cr/test"
)

// --- helpers ---

const branchListing = "* master\n" +
	"  feature\n" +
	"  remotes/origin/HEAD -> origin/master\n" +
	"  remotes/origin/master\n"

const porcelainListing = "M  staged.go\n" +
	" M working.go\n" +
	"?? untracked.go\n"

func buildBackend(t *testing.T, runner *testdoubles.StubRunner) (*git.Backend, *store.Store) {
	t.Helper()
	st, err := store.Load(filepath.Join(t.TempDir(), store.FileName))
	require.NoError(t, err)
	cfg := &config.Config{Server: "review.example.com"}
	return git.NewBackend(cfg, runner, st), st
}

func defaultRunner() *testdoubles.StubRunner {
	return &testdoubles.StubRunner{
		Responses: map[string]string{
			"git branch -a --no-color": branchListing,
			"git status --porcelain":   porcelainListing,
			"git diff --name-only":     "",
			"git rev-list --count":     "0\n",
		},
	}
}

func commandMatching(commands []string, prefix string) string {
	for _, line := range commands {
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
	return ""
}

// --- tests ---

func TestBackend_Snapshot(t *testing.T) {
	t.Parallel()

	t.Run("should parse branches and per-file divergence slots", func(t *testing.T) {
		t.Parallel()

		// given
		runner := defaultRunner()
		backend, _ := buildBackend(t, runner)

		// when
		snap, err := backend.Snapshot(context.Background())

		// then
		require.NoError(t, err)
		assert.Equal(t, "master", snap.Current)
		assert.Contains(t, snap.Branches, "feature")
		assert.Contains(t, snap.Branches, "remotes/origin/master")

		staged := snap.Files["staged.go"]
		require.NotNil(t, staged)
		assert.Equal(t, byte('M'), staged.Slots[domain.SlotStaged])

		working := snap.Files["working.go"]
		require.NotNil(t, working)
		assert.Equal(t, byte('M'), working.Slots[domain.SlotWorking])

		untracked := snap.Files["untracked.go"]
		require.NotNil(t, untracked)
		assert.Equal(t, byte('?'), untracked.Status)
	})

	t.Run("should fail on an unparsable status line", func(t *testing.T) {
		t.Parallel()

		// given
		runner := defaultRunner()
		runner.Responses["git status --porcelain"] = "garbage"
		backend, _ := buildBackend(t, runner)

		// when
		_, err := backend.Snapshot(context.Background())

		// then
		require.Error(t, err)
	})
}

func TestBackend_FileGroups(t *testing.T) {
	t.Parallel()

	t.Run("should collect unassigned changed files into the unnamed group", func(t *testing.T) {
		t.Parallel()

		// given
		backend, _ := buildBackend(t, defaultRunner())

		// when
		groups, err := backend.FileGroups(context.Background(), "")

		// then
		require.NoError(t, err)
		placeholder := groups[domain.Placeholder]
		require.NotNil(t, placeholder)
		names := make([]string, 0, len(placeholder.Files))
		for _, f := range placeholder.Files {
			names = append(names, f.Name)
		}
		assert.Equal(t, []string{"staged.go", "untracked.go", "working.go"}, names)
	})

	t.Run("should keep only changed members of a stored file group", func(t *testing.T) {
		t.Parallel()

		// given: one stored file still changed, one long since reverted
		backend, st := buildBackend(t, defaultRunner())
		require.NoError(t, st.AssignFiles([]string{"staged.go", "reverted.go"}, "issue5"))

		// when
		groups, err := backend.FileGroups(context.Background(), "")

		// then
		require.NoError(t, err)
		group := groups["issue5"]
		require.NotNil(t, group)
		require.Len(t, group.Files, 1)
		assert.Equal(t, "staged.go", group.Files[0].Name)
	})

	t.Run("should expose a stored branch pair as a branch group", func(t *testing.T) {
		t.Parallel()

		// given
		backend, st := buildBackend(t, defaultRunner())
		pair := domain.BranchPair{Remote: "remotes/origin/master", Local: "feature"}
		require.NoError(t, st.AssignBranch(pair, "issue9-feature"))

		// when
		groups, err := backend.FileGroups(context.Background(), "")

		// then
		require.NoError(t, err)
		group := groups["issue9-feature"]
		require.NotNil(t, group)
		assert.Equal(t, domain.GroupBranch, group.Type)
		assert.Equal(t, pair, group.Branch)
	})

	t.Run("should drop a stored branch group whose branch is gone", func(t *testing.T) {
		t.Parallel()

		// given
		backend, st := buildBackend(t, defaultRunner())
		pair := domain.BranchPair{Remote: "remotes/origin/master", Local: "deleted"}
		require.NoError(t, st.AssignBranch(pair, "issue9-deleted"))

		// when
		groups, err := backend.FileGroups(context.Background(), "")

		// then
		require.NoError(t, err)
		assert.NotContains(t, groups, "issue9-deleted")
	})

	t.Run("should group the current branch once it has unpushed commits", func(t *testing.T) {
		t.Parallel()

		// given
		runner := defaultRunner()
		runner.Responses["git rev-list --count"] = "2\n"
		backend, _ := buildBackend(t, runner)

		// when
		groups, err := backend.FileGroups(context.Background(), "")

		// then
		require.NoError(t, err)
		group := groups["master"]
		require.NotNil(t, group)
		assert.Equal(t, domain.GroupBranch, group.Type)
		assert.Equal(t, "remotes/origin/master", group.Branch.Remote)
	})

	t.Run("should narrow to the requested changelist", func(t *testing.T) {
		t.Parallel()

		// given
		backend, st := buildBackend(t, defaultRunner())
		require.NoError(t, st.AssignFiles([]string{"staged.go"}, "issue5"))

		// when
		groups, err := backend.FileGroups(context.Background(), "issue5")

		// then
		require.NoError(t, err)
		assert.Len(t, groups, 1)
		assert.Contains(t, groups, "issue5")
	})
}

func TestBackend_ResolveBranch(t *testing.T) {
	t.Parallel()

	t.Run("should pair a local branch with its remote context", func(t *testing.T) {
		t.Parallel()

		// given
		backend, _ := buildBackend(t, defaultRunner())

		// when
		pair, ok := backend.ResolveBranch(context.Background(), "feature")

		// then
		require.True(t, ok)
		assert.Equal(t, "feature", pair.Local)
		assert.Equal(t, "remotes/origin/master", pair.Remote)
	})

	t.Run("should pair a remote branch with the current branch", func(t *testing.T) {
		t.Parallel()

		// given
		backend, _ := buildBackend(t, defaultRunner())

		// when
		pair, ok := backend.ResolveBranch(context.Background(), "origin/master")

		// then
		require.True(t, ok)
		assert.Equal(t, "remotes/origin/master", pair.Remote)
		assert.Equal(t, "master", pair.Local)
	})

	t.Run("should not resolve an unknown name", func(t *testing.T) {
		t.Parallel()

		// given
		backend, _ := buildBackend(t, defaultRunner())

		// when
		_, ok := backend.ResolveBranch(context.Background(), "no-such-branch")

		// then
		assert.False(t, ok)
	})
}

func TestBackend_SynthesizeMessage(t *testing.T) {
	t.Parallel()

	t.Run("should number unpushed commits oldest first", func(t *testing.T) {
		t.Parallel()

		// given: newest-first log output with two commits
		runner := defaultRunner()
		runner.Responses["git log"] =
			"__#id#__:bbb__#delim#__Fix the lexer__#delim#__\n" +
				"__#id#__:aaa__#delim#__Add the parser__#delim#__\n"
		backend, _ := buildBackend(t, runner)

		// when
		msg, err := backend.SynthesizeMessage(context.Background())

		// then
		require.NoError(t, err)
		assert.Equal(t, "1) Add the parser.\n2) Fix the lexer.", msg)
	})

	t.Run("should return nothing when the branch has no unpushed commits", func(t *testing.T) {
		t.Parallel()

		// given
		runner := defaultRunner()
		runner.Responses["git log"] = "\n"
		backend, _ := buildBackend(t, runner)

		// when
		msg, err := backend.SynthesizeMessage(context.Background())

		// then
		require.NoError(t, err)
		assert.Empty(t, msg)
	})
}

func TestBackend_GenerateDiff(t *testing.T) {
	t.Parallel()

	t.Run("should diff an explicit revision range directly", func(t *testing.T) {
		t.Parallel()

		// given
		runner := defaultRunner()
		runner.Responses["git diff --no-ext-diff"] = "the diff"
		backend, _ := buildBackend(t, runner)
		group := &domain.FileGroupInfo{Name: domain.Placeholder, Type: domain.GroupFiles}

		// when
		diff, err := backend.GenerateDiff(context.Background(), group,
			domain.DiffOptions{Revision: "abc:def"})

		// then
		require.NoError(t, err)
		assert.Equal(t, "the diff", diff)
		line := commandMatching(runner.Commands, "git diff")
		assert.Contains(t, line, "abc def")
	})

	t.Run("should diff against the merge base for local changes", func(t *testing.T) {
		t.Parallel()

		// given
		runner := defaultRunner()
		runner.Responses["git merge-base"] = "basehash\n"
		runner.Responses["git diff --no-ext-diff"] = "the diff"
		backend, _ := buildBackend(t, runner)
		group := &domain.FileGroupInfo{
			Name: domain.Placeholder,
			Type: domain.GroupFiles,
			Files: []*domain.FileInfo{
				domain.NewFileInfo("staged.go", 'M', domain.Placeholder),
			},
		}

		// when
		_, err := backend.GenerateDiff(context.Background(), group, domain.DiffOptions{})

		// then
		require.NoError(t, err)
		line := commandMatching(runner.Commands, "git diff --no-ext-diff")
		assert.Contains(t, line, "basehash -- staged.go")
	})
}

func TestBackend_Commit(t *testing.T) {
	t.Parallel()

	commitLog := "__#id#__:ccc__#delim#__Add the parser__#delim#__\n"

	t.Run("should amend with the approval marker, rebase, and push", func(t *testing.T) {
		t.Parallel()

		// given
		runner := defaultRunner()
		runner.Responses["git log"] = commitLog
		backend, _ := buildBackend(t, runner)
		marker := "(Code-reviewer:alice LGTM'ed 2 hours ago. http://review.example.com/99)"

		// when
		published, err := backend.Commit(context.Background(),
			"issue99", marker, "Add the parser", false)

		// then
		require.NoError(t, err)
		assert.Contains(t, published, "ccc")
		assert.Contains(t, published, "Add the parser")

		amend := commandMatching(runner.Commands, "git commit --amend")
		assert.Contains(t, amend, "✓Add the parser")
		assert.Contains(t, amend, marker)
		assert.True(t, runner.Ran("git fetch"))
		assert.True(t, runner.Ran("git rebase remotes/origin/master"))
		assert.True(t, runner.Ran("git push origin master"))
	})

	t.Run("should mark a forced commit as unreviewed", func(t *testing.T) {
		t.Parallel()

		// given
		runner := defaultRunner()
		runner.Responses["git log"] = commitLog
		backend, _ := buildBackend(t, runner)

		// when
		_, err := backend.Commit(context.Background(),
			"issue99", "(Code-reviewer:UNAPPROVED FORCE CHECK IN now. http://review.example.com/99)",
			"Add the parser", true)

		// then
		require.NoError(t, err)
		amend := commandMatching(runner.Commands, "git commit --amend")
		assert.Contains(t, amend, "✗Add the parser")
	})

	t.Run("should refuse to commit a changelist bound to another branch", func(t *testing.T) {
		t.Parallel()

		// given
		runner := defaultRunner()
		backend, st := buildBackend(t, runner)
		pair := domain.BranchPair{Remote: "remotes/origin/master", Local: "feature"}
		require.NoError(t, st.AssignBranch(pair, "issue7"))

		// when
		_, err := backend.Commit(context.Background(), "issue7", "(marker)", "msg", false)

		// then
		require.Error(t, err)
		assert.True(t, domain.IsUserError(err))
		assert.False(t, runner.Ran("git commit"))
	})
}
