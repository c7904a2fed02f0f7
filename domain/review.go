package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the review-service collaborators. The submission flow
// distinguishes them to decide between retrying, failing, and succeeding.
var (
	// ErrIssueNotFound marks a 404 / "no issue exists" response. Terminal,
	// never retried: the issue is gone or was closed remotely.
	ErrIssueNotFound = errors.New("issue not found")

	// ErrRedirect marks an HTTP redirect response. The publish endpoint
	// signals success with a redirect, so callers treat it as such there.
	ErrRedirect = errors.New("server replied with a redirect")

	// ErrNoMessages marks an issue page where the metadata parsed but no
	// review messages could be extracted. The page structure is a
	// versioned external contract; this surfaces a break in it.
	ErrNoMessages = errors.New("issue page yielded no review messages")

	// ErrNoApproval is the review-gate failure: no approval marker was
	// found on the issue. Terminal unless the commit is forced.
	ErrNoApproval = errors.New("no approval found")
)

// ReviewMessage is one comment on a review issue.
type ReviewMessage struct {
	// Commenter is the display identity of the author. The review service
	// renders the acting user as the literal "me".
	Commenter string
	// Ago is the human-readable time-since label ("3 hours ago").
	Ago string
	// Text is the message body.
	Text string
}

// IssuePage is the structured view of a remote review issue, combining the
// scraped HTML page with the JSON API record.
type IssuePage struct {
	Title       string
	Description string
	// XSRFToken is the anti-forgery token embedded in the page's inline
	// script, required by the close and publish endpoints.
	XSRFToken string
	Messages  []ReviewMessage
}

// ReviewClient performs authenticated HTTP calls against the review service.
// Implementations apply the bounded retry policy: transient failures are
// retried a fixed number of times with a fixed delay; ErrIssueNotFound and
// ErrRedirect are surfaced immediately.
type ReviewClient interface {
	// Get fetches path and returns the response body.
	Get(ctx context.Context, path string) (string, error)

	// Post sends a form payload to path and returns the response body.
	Post(ctx context.Context, path, contentType, payload string) (string, error)

	// BaseURL returns the service URL for user-facing messages.
	BaseURL() string
}

// PageParser extracts structured data from the issue HTML page and the JSON
// API record. The exact page structure is an external contract that can
// break; ErrNoMessages reports extraction that found metadata but no
// messages.
type PageParser interface {
	Parse(html, apiJSON string) (*IssuePage, error)
}

// UploadRequest carries a diff and its metadata to the review service.
type UploadRequest struct {
	Diff        string
	Subject     string
	Description string
	Reviewers   string // comma-separated email addresses
	CC          string // comma-separated email addresses
	Issue       int    // 0 creates a new issue
	BaseURL     string
	SendMail    bool
}

// UploadResult identifies the issue and patchset an upload landed on. This
// is the only path by which a changelist acquires its issue number.
type UploadResult struct {
	Issue    int
	Patchset int
}

// DiffUploader pushes a patch to the review service.
type DiffUploader interface {
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
}

// UserError is a user-input problem (missing reviewer, ambiguous changelist,
// message too short...). Reported immediately with guidance, never retried.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

// Userf builds a UserError.
func Userf(format string, args ...any) error {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// IsUserError reports whether err is a user-input error.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}
