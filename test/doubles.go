// Package testdoubles provides test doubles (spies, stubs, dummies) for domain
// interfaces. These are hand-crafted implementations — no mock frameworks.
package testdoubles

import (
	"context"
	"fmt"
	"strings"

	"github.com/open42/cr/domain"
)

// ---------------------------------------------------------------------------
// SpyVCS
// ---------------------------------------------------------------------------

// SpyVCS implements domain.VCS as a configurable spy.
// Configure the response fields for the methods your test exercises,
// then inspect the call-tracking fields to verify behavior.
type SpyVCS struct {
	// --- identity ---
	BackendName string

	// --- FileGroups ---
	Groups        map[string]*domain.FileGroupInfo
	FileGroupsErr error
	// spy: changelist filters that were requested
	FileGroupsFilters []string

	// --- ResolveBranch ---
	KnownBranches map[string]domain.BranchPair // arg -> pair

	// --- GenerateDiff ---
	Diff    string
	DiffErr error
	// spy: groups diffed
	DiffedGroups []string

	// --- SynthesizeMessage ---
	Synthesized   string
	SynthesizeErr error

	// --- BaseURL ---
	BaseURLResult string

	// --- Commit ---
	PublishMessage string
	CommitErr      error
	// spy: commits performed
	CommitCalls []CommitCall

	// --- MoveFilesToChangelist / MoveBranchToChangelist ---
	MoveErr error
	// spy: moves performed
	MovedFiles    []FileMove
	MovedBranches []BranchMove

	// --- RemoveChangelist ---
	RemoveErr error
	// spy: changelists removed
	Removed []string
}

// CommitCall records a single invocation of Commit.
type CommitCall struct {
	Changelist  string
	Marker      string
	Description string
	Force       bool
}

// FileMove records a single invocation of MoveFilesToChangelist.
type FileMove struct {
	Files      []string
	Changelist string
}

// BranchMove records a single invocation of MoveBranchToChangelist.
type BranchMove struct {
	Branch     domain.BranchPair
	Changelist string
}

var _ domain.VCS = (*SpyVCS)(nil)

func (v *SpyVCS) Name() string {
	if v.BackendName != "" {
		return v.BackendName
	}
	return "spy"
}

func (v *SpyVCS) Status(_ context.Context, _ []string) error { return nil }

func (v *SpyVCS) Snapshot(_ context.Context) (*domain.Snapshot, error) {
	return &domain.Snapshot{}, nil
}

func (v *SpyVCS) FileGroups(
	_ context.Context,
	changelist string,
) (map[string]*domain.FileGroupInfo, error) {
	v.FileGroupsFilters = append(v.FileGroupsFilters, changelist)
	return v.Groups, v.FileGroupsErr
}

func (v *SpyVCS) ResolveBranch(_ context.Context, arg string) (domain.BranchPair, bool) {
	pair, ok := v.KnownBranches[arg]
	return pair, ok
}

func (v *SpyVCS) GenerateDiff(
	_ context.Context,
	group *domain.FileGroupInfo,
	_ domain.DiffOptions,
) (string, error) {
	v.DiffedGroups = append(v.DiffedGroups, group.Name)
	return v.Diff, v.DiffErr
}

func (v *SpyVCS) SynthesizeMessage(_ context.Context) (string, error) {
	return v.Synthesized, v.SynthesizeErr
}

func (v *SpyVCS) BaseURL(_ context.Context, _ string) string {
	return v.BaseURLResult
}

func (v *SpyVCS) Commit(
	_ context.Context,
	changelist, approvalMarker, description string,
	force bool,
) (string, error) {
	v.CommitCalls = append(v.CommitCalls, CommitCall{
		Changelist:  changelist,
		Marker:      approvalMarker,
		Description: description,
		Force:       force,
	})
	return v.PublishMessage, v.CommitErr
}

func (v *SpyVCS) MoveFilesToChangelist(
	_ context.Context,
	files []string,
	changelist string,
) error {
	v.MovedFiles = append(v.MovedFiles, FileMove{Files: files, Changelist: changelist})
	return v.MoveErr
}

func (v *SpyVCS) MoveBranchToChangelist(
	_ context.Context,
	pair domain.BranchPair,
	changelist string,
) error {
	v.MovedBranches = append(v.MovedBranches, BranchMove{Branch: pair, Changelist: changelist})
	return v.MoveErr
}

func (v *SpyVCS) RemoveChangelist(_ context.Context, changelist string) error {
	v.Removed = append(v.Removed, changelist)
	return v.RemoveErr
}

// ---------------------------------------------------------------------------
// SpyReviewClient
// ---------------------------------------------------------------------------

// SpyReviewClient implements domain.ReviewClient as a configurable spy.
// Responses are keyed by request path; unknown paths return an error so a
// test never silently exercises an endpoint it did not set up.
type SpyReviewClient struct {
	Server string

	// --- Get ---
	GetResponses map[string]string
	GetErrs      map[string]error
	// spy: paths fetched
	GetPaths []string

	// --- Post ---
	PostResponses map[string]string
	PostErrs      map[string]error
	// spy: posts performed
	PostCalls []PostCall
}

// PostCall records a single invocation of Post.
type PostCall struct {
	Path        string
	ContentType string
	Payload     string
}

var _ domain.ReviewClient = (*SpyReviewClient)(nil)

func (c *SpyReviewClient) Get(_ context.Context, path string) (string, error) {
	c.GetPaths = append(c.GetPaths, path)
	if err, ok := c.GetErrs[path]; ok {
		return "", err
	}
	if body, ok := c.GetResponses[path]; ok {
		return body, nil
	}
	return "", fmt.Errorf("unexpected GET %s", path)
}

func (c *SpyReviewClient) Post(
	_ context.Context,
	path, contentType, payload string,
) (string, error) {
	c.PostCalls = append(c.PostCalls, PostCall{
		Path:        path,
		ContentType: contentType,
		Payload:     payload,
	})
	if err, ok := c.PostErrs[path]; ok {
		return "", err
	}
	if body, ok := c.PostResponses[path]; ok {
		return body, nil
	}
	return "", fmt.Errorf("unexpected POST %s", path)
}

func (c *SpyReviewClient) BaseURL() string {
	server := c.Server
	if server == "" {
		server = "review.example.com"
	}
	return "http://" + server
}

// PostedPaths returns the paths of all posts performed, in order.
func (c *SpyReviewClient) PostedPaths() []string {
	paths := make([]string, 0, len(c.PostCalls))
	for _, call := range c.PostCalls {
		paths = append(paths, call.Path)
	}
	return paths
}

// ---------------------------------------------------------------------------
// StubPageParser
// ---------------------------------------------------------------------------

// StubPageParser is a stub implementation of domain.PageParser.
type StubPageParser struct {
	Page       *domain.IssuePage
	Err        error
	ParseCalls int
}

var _ domain.PageParser = (*StubPageParser)(nil)

func (p *StubPageParser) Parse(_, _ string) (*domain.IssuePage, error) {
	p.ParseCalls++
	return p.Page, p.Err
}

// ---------------------------------------------------------------------------
// SpyUploader
// ---------------------------------------------------------------------------

// SpyUploader implements domain.DiffUploader as a configurable spy.
type SpyUploader struct {
	Result    *domain.UploadResult
	UploadErr error
	// spy: requests received
	Requests []domain.UploadRequest
}

var _ domain.DiffUploader = (*SpyUploader)(nil)

func (u *SpyUploader) Upload(
	_ context.Context,
	req domain.UploadRequest,
) (*domain.UploadResult, error) {
	u.Requests = append(u.Requests, req)
	if u.UploadErr != nil {
		return nil, u.UploadErr
	}
	if u.Result != nil {
		return u.Result, nil
	}
	return &domain.UploadResult{Issue: 1, Patchset: 1}, nil
}

// ---------------------------------------------------------------------------
// StubRunner — canned command output for the VCS backends
// ---------------------------------------------------------------------------

// StubRunner satisfies the backends' command runner with canned output.
// Responses are keyed by the space-joined command line; a key that is a
// prefix of the command line also matches, so tests can stub "git diff"
// without spelling every flag.
type StubRunner struct {
	Responses map[string]string
	Errs      map[string]error
	// spy: full command lines executed
	Commands []string
}

func (r *StubRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	r.Commands = append(r.Commands, line)

	if err := r.lookupErr(line); err != nil {
		return "", err
	}
	if out, ok := r.lookup(line); ok {
		return out, nil
	}
	return "", nil
}

func (r *StubRunner) RunInteractive(ctx context.Context, name string, args ...string) error {
	_, err := r.Run(ctx, name, args...)
	return err
}

// Ran reports whether any executed command line starts with prefix.
func (r *StubRunner) Ran(prefix string) bool {
	for _, line := range r.Commands {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func (r *StubRunner) lookup(line string) (string, bool) {
	if out, ok := r.Responses[line]; ok {
		return out, true
	}
	for key, out := range r.Responses {
		if strings.HasPrefix(line, key) {
			return out, true
		}
	}
	return "", false
}

func (r *StubRunner) lookupErr(line string) error {
	if err, ok := r.Errs[line]; ok {
		return err
	}
	for key, err := range r.Errs {
		if strings.HasPrefix(line, key) {
			return err
		}
	}
	return nil
}
