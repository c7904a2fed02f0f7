package application_test

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open42/cr/application"
	"github.com/open42/cr/config"
	"github.com/open42/cr/domain"
	testdoubles "github.com/open42/cr/test"
)

// --- helpers ---

const cleanDiff = "+++ b/main.go\n+func main() {}\n"

type submitFixture struct {
	vcs      *testdoubles.SpyVCS
	client   *testdoubles.SpyReviewClient
	parser   *testdoubles.StubPageParser
	uploader *testdoubles.SpyUploader
	service  *application.Service
}

func buildSubmitFixture(groups map[string]*domain.FileGroupInfo) *submitFixture {
	vcs := &testdoubles.SpyVCS{
		Groups:         groups,
		Diff:           cleanDiff,
		PublishMessage: "Committed revision 5.\nFix the parser",
	}
	client := &testdoubles.SpyReviewClient{Server: "review.example.com"}
	parser := &testdoubles.StubPageParser{}
	uploader := &testdoubles.SpyUploader{}
	cfg := &config.Config{Server: "review.example.com", Email: "dev@example.com"}
	return &submitFixture{
		vcs:      vcs,
		client:   client,
		parser:   parser,
		uploader: uploader,
		service:  application.NewService(vcs, client, parser, uploader, cfg),
	}
}

// approvedIssueFixture wires an already-uploaded changelist whose issue page
// carries the given messages, with the close and publish endpoints ready.
func approvedIssueFixture(messages ...domain.ReviewMessage) *submitFixture {
	f := buildSubmitFixture(map[string]*domain.FileGroupInfo{
		"issue99": fileGroup("issue99", "main.go"),
	})
	f.parser.Page = &domain.IssuePage{
		Title:       "Fix the parser",
		Description: "Fix the parser before the release",
		XSRFToken:   "tok123",
		Messages:    messages,
	}
	f.client.GetResponses = map[string]string{"/99": "<html/>", "/api/99": "{}"}
	f.client.PostResponses = map[string]string{"/99/close": "Issue closed."}
	f.client.PostErrs = map[string]error{"/99/publish": domain.ErrRedirect}
	return f
}

// --- tests ---

func TestService_Upload(t *testing.T) {
	t.Parallel()

	t.Run("should create a new issue and rename the changelist after it", func(t *testing.T) {
		t.Parallel()

		// given: one unnamed group with a single changed file
		f := buildSubmitFixture(map[string]*domain.FileGroupInfo{
			domain.Placeholder: fileGroup(domain.Placeholder, "main.go"),
		})
		f.uploader.Result = &domain.UploadResult{Issue: 4211, Patchset: 1}

		// when
		result, name, err := f.service.Upload(context.Background(), application.Options{
			Message:   "Add the thing",
			Reviewers: "bob@example.com",
		})

		// then: the group now carries the issue number
		require.NoError(t, err)
		assert.Equal(t, 4211, result.Issue)
		assert.Equal(t, "issue4211", name)
		require.Len(t, f.vcs.MovedFiles, 1)
		assert.Equal(t, []string{"main.go"}, f.vcs.MovedFiles[0].Files)
		assert.Equal(t, "issue4211", f.vcs.MovedFiles[0].Changelist)

		require.Len(t, f.uploader.Requests, 1)
		req := f.uploader.Requests[0]
		assert.Zero(t, req.Issue, "a new issue should be requested")
		assert.Equal(t, "bob@example.com", req.Reviewers)
		assert.Contains(t, req.Subject, "A wee bit code review")
		assert.Contains(t, req.Subject, "Add the thing")
	})

	t.Run("should add a patchset to the existing issue without renaming", func(t *testing.T) {
		t.Parallel()

		// given
		f := buildSubmitFixture(map[string]*domain.FileGroupInfo{
			"issue77-feature": fileGroup("issue77-feature", "main.go"),
		})
		f.uploader.Result = &domain.UploadResult{Issue: 77, Patchset: 3}

		// when: no reviewer needed the second time around
		_, name, err := f.service.Upload(context.Background(), application.Options{
			Message: "Address review comments",
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, "issue77-feature", name)
		assert.Empty(t, f.vcs.MovedFiles)
		require.Len(t, f.uploader.Requests, 1)
		assert.Equal(t, 77, f.uploader.Requests[0].Issue)
	})

	t.Run("should require a reviewer for a new issue", func(t *testing.T) {
		t.Parallel()

		// given
		f := buildSubmitFixture(map[string]*domain.FileGroupInfo{
			domain.Placeholder: fileGroup(domain.Placeholder, "main.go"),
		})

		// when
		_, _, err := f.service.Upload(context.Background(), application.Options{
			Message: "Add the thing",
		})

		// then
		require.Error(t, err)
		assert.True(t, domain.IsUserError(err))
		assert.Contains(t, err.Error(), "--reviewers")
		assert.Empty(t, f.uploader.Requests)
	})

	t.Run("should reject a contentless message", func(t *testing.T) {
		t.Parallel()

		// given
		f := buildSubmitFixture(map[string]*domain.FileGroupInfo{
			domain.Placeholder: fileGroup(domain.Placeholder, "main.go"),
		})

		// when
		_, _, err := f.service.Upload(context.Background(), application.Options{
			Message:   "wip",
			Reviewers: "bob@example.com",
		})

		// then
		require.Error(t, err)
		assert.True(t, domain.IsUserError(err))
		assert.Contains(t, err.Error(), "too short")
	})

	t.Run("should fall back to a message synthesized from history", func(t *testing.T) {
		t.Parallel()

		// given
		f := buildSubmitFixture(map[string]*domain.FileGroupInfo{
			domain.Placeholder: fileGroup(domain.Placeholder, "main.go"),
		})
		f.vcs.Synthesized = "1. Add the parser."
		f.uploader.Result = &domain.UploadResult{Issue: 8, Patchset: 1}

		// when
		_, _, err := f.service.Upload(context.Background(), application.Options{
			Reviewers: "bob@example.com",
		})

		// then
		require.NoError(t, err)
		require.Len(t, f.uploader.Requests, 1)
		assert.Equal(t, "1. Add the parser.", f.uploader.Requests[0].Description)
	})

	t.Run("should truncate an overlong subject on a character boundary", func(t *testing.T) {
		t.Parallel()

		// given: a message of multibyte characters well past the budget
		f := buildSubmitFixture(map[string]*domain.FileGroupInfo{
			domain.Placeholder: fileGroup(domain.Placeholder, "main.go"),
		})
		f.uploader.Result = &domain.UploadResult{Issue: 12, Patchset: 1}

		// when
		_, _, err := f.service.Upload(context.Background(), application.Options{
			Message:   strings.Repeat("é", 120),
			Reviewers: "bob@example.com",
		})

		// then: the subject is cut without splitting a character
		require.NoError(t, err)
		require.Len(t, f.uploader.Requests, 1)
		subject := f.uploader.Requests[0].Subject
		assert.True(t, utf8.ValidString(subject))
		assert.LessOrEqual(t, utf8.RuneCountInString(subject), 100)
	})

	t.Run("should refuse to upload a diff that introduces tabs", func(t *testing.T) {
		t.Parallel()

		// given
		f := buildSubmitFixture(map[string]*domain.FileGroupInfo{
			domain.Placeholder: fileGroup(domain.Placeholder, "main.go"),
		})
		f.vcs.Diff = "+++ b/main.go\n+\tindented with a tab\n"

		// when
		_, _, err := f.service.Upload(context.Background(), application.Options{
			Message:   "Add the thing",
			Reviewers: "bob@example.com",
		})

		// then
		require.Error(t, err)
		assert.True(t, domain.IsUserError(err))
		assert.Empty(t, f.uploader.Requests)
	})
}

func TestService_Finish(t *testing.T) {
	t.Parallel()

	t.Run("should commit once an approval from another commenter is found", func(t *testing.T) {
		t.Parallel()

		// given: a case-insensitive approval among the issue messages
		f := approvedIssueFixture(
			domain.ReviewMessage{Commenter: "me", Ago: "3 hours ago", Text: "PTAL"},
			domain.ReviewMessage{Commenter: "alice", Ago: "2 hours ago", Text: "lgtm, ship it"},
		)
		f.uploader.Result = &domain.UploadResult{Issue: 99, Patchset: 2}

		// when
		err := f.service.Finish(context.Background(), application.Options{})

		// then: exactly one commit stamped with the approver
		require.NoError(t, err)
		require.Len(t, f.vcs.CommitCalls, 1)
		commit := f.vcs.CommitCalls[0]
		assert.Equal(t, "issue99", commit.Changelist)
		assert.False(t, commit.Force)
		assert.Contains(t, commit.Marker, "alice")
		assert.Contains(t, commit.Marker, "LGTM'ed")
		assert.Contains(t, commit.Marker, "http://review.example.com/99")
		assert.Equal(t, "Fix the parser before the release", commit.Description)

		// and: the final patch was re-uploaded first
		require.Len(t, f.uploader.Requests, 1)
		assert.Equal(t, 99, f.uploader.Requests[0].Issue)
		assert.Equal(t, "Final version.", f.uploader.Requests[0].Description)

		// and: the issue was closed, the commit published, the group dropped
		assert.Equal(t, []string{"/99/close", "/99/publish"}, f.client.PostedPaths())
		assert.Contains(t, f.client.PostCalls[0].Payload, "tok123")
		assert.Equal(t, []string{"issue99"}, f.vcs.Removed)
	})

	t.Run("should refuse to commit without an approval", func(t *testing.T) {
		t.Parallel()

		// given
		f := approvedIssueFixture(
			domain.ReviewMessage{Commenter: "alice", Ago: "2 hours ago", Text: "needs work"},
		)

		// when
		err := f.service.Finish(context.Background(), application.Options{})

		// then: nothing was committed, uploaded, or posted
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNoApproval)
		assert.Contains(t, err.Error(), "does not yet have an LGTM")
		assert.Empty(t, f.vcs.CommitCalls)
		assert.Empty(t, f.uploader.Requests)
		assert.Empty(t, f.client.PostCalls)
	})

	t.Run("should not count the author's own approval", func(t *testing.T) {
		t.Parallel()

		// given
		f := approvedIssueFixture(
			domain.ReviewMessage{Commenter: "me", Ago: "1 hour ago", Text: "LGTM"},
		)

		// when
		err := f.service.Finish(context.Background(), application.Options{})

		// then
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNoApproval)
		assert.Empty(t, f.vcs.CommitCalls)
	})

	t.Run("should refuse a blind commit of the unnamed group", func(t *testing.T) {
		t.Parallel()

		// given
		f := buildSubmitFixture(map[string]*domain.FileGroupInfo{
			domain.Placeholder: fileGroup(domain.Placeholder, "main.go"),
		})

		// when
		err := f.service.Finish(context.Background(), application.Options{})

		// then
		require.Error(t, err)
		assert.True(t, domain.IsUserError(err))
		assert.Contains(t, err.Error(), "--force")
		assert.Empty(t, f.vcs.CommitCalls)
	})

	t.Run("should upload and commit in one pass under force, without closing", func(t *testing.T) {
		t.Parallel()

		// given: a changelist that was never uploaded
		f := buildSubmitFixture(map[string]*domain.FileGroupInfo{
			domain.Placeholder: fileGroup(domain.Placeholder, "hotfix.go"),
		})
		f.uploader.Result = &domain.UploadResult{Issue: 512, Patchset: 1}
		f.parser.Page = &domain.IssuePage{Title: "Emergency fix", XSRFToken: "tok512"}
		f.parser.Err = domain.ErrNoMessages
		f.client.GetResponses = map[string]string{"/512": "<html/>", "/api/512": "{}"}
		f.client.PostErrs = map[string]error{"/512/publish": domain.ErrRedirect}

		// when
		err := f.service.Finish(context.Background(), application.Options{
			Force:     true,
			Message:   "Emergency fix",
			Reviewers: "bob@example.com",
		})

		// then: one upload, one forced commit, no close, still published
		require.NoError(t, err)
		require.Len(t, f.uploader.Requests, 1)
		require.Len(t, f.vcs.CommitCalls, 1)
		commit := f.vcs.CommitCalls[0]
		assert.True(t, commit.Force)
		assert.Contains(t, commit.Marker, "UNAPPROVED")
		assert.Contains(t, commit.Marker, "FORCE CHECK IN")
		assert.Equal(t, []string{"/512/publish"}, f.client.PostedPaths())
		assert.Equal(t, []string{"issue512"}, f.vcs.Removed)
	})

	t.Run("should tolerate an already-closed issue when closing", func(t *testing.T) {
		t.Parallel()

		// given
		f := approvedIssueFixture(
			domain.ReviewMessage{Commenter: "alice", Ago: "2 hours ago", Text: "LGTM"},
		)
		f.uploader.Result = &domain.UploadResult{Issue: 99, Patchset: 2}
		f.client.PostErrs["/99/close"] = domain.ErrIssueNotFound

		// when
		err := f.service.Finish(context.Background(), application.Options{})

		// then
		require.NoError(t, err)
		require.Len(t, f.vcs.CommitCalls, 1)
	})

	t.Run("should fail when the publish endpoint does not redirect", func(t *testing.T) {
		t.Parallel()

		// given: a 200 from publish means the message did not land
		f := approvedIssueFixture(
			domain.ReviewMessage{Commenter: "alice", Ago: "2 hours ago", Text: "LGTM"},
		)
		f.uploader.Result = &domain.UploadResult{Issue: 99, Patchset: 2}
		delete(f.client.PostErrs, "/99/publish")
		f.client.PostResponses["/99/publish"] = "<html>form redisplayed</html>"

		// when
		err := f.service.Finish(context.Background(), application.Options{})

		// then: committed, but the failure is surfaced and the group kept
		require.Error(t, err)
		assert.Contains(t, err.Error(), "publish")
		assert.Empty(t, f.vcs.Removed)
	})
}
