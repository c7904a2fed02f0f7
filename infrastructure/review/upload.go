package review

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	logger "github.com/sirupsen/logrus"

	"github.com/open42/cr/domain"
)

// FormContentType is the payload encoding the review service expects.
const FormContentType = "application/x-www-form-urlencoded"

// Upload response contract: the service answers with a line naming the
// issue URL and a line naming the patchset.
var (
	issueURLPattern = regexp.MustCompile(`(?i)Issue (?:created|updated)\. URL: https?://\S+/(\d+)`)
	patchsetPattern = regexp.MustCompile(`(?i)Patchset:?\s+(\d+)`)
)

// Uploader pushes diffs to the review service's /upload endpoint. This is
// the only path by which a changelist acquires its issue number.
type Uploader struct {
	client domain.ReviewClient
}

var _ domain.DiffUploader = (*Uploader)(nil)

// NewUploader creates an uploader on top of the given client.
func NewUploader(client domain.ReviewClient) *Uploader {
	return &Uploader{client: client}
}

// Upload posts the diff and its metadata, returning the issue and patchset
// the service assigned.
func (u *Uploader) Upload(ctx context.Context, req domain.UploadRequest) (*domain.UploadResult, error) {
	form := url.Values{}
	form.Set("subject", req.Subject)
	form.Set("description", req.Description)
	form.Set("data", req.Diff)
	form.Set("content_upload", "1")
	if req.Reviewers != "" {
		form.Set("reviewers", req.Reviewers)
	}
	if req.CC != "" {
		form.Set("cc", req.CC)
	}
	if req.Issue > 0 {
		form.Set("issue", strconv.Itoa(req.Issue))
	}
	if req.BaseURL != "" {
		form.Set("base", req.BaseURL)
	}
	if req.SendMail {
		form.Set("send_mail", "1")
	}

	body, err := u.client.Post(ctx, "/upload", FormContentType, form.Encode())
	if err != nil {
		return nil, fmt.Errorf("diff upload failed: %w", err)
	}

	result, err := parseUploadResponse(body)
	if err != nil {
		return nil, err
	}
	logger.Debugf("uploaded patchset %d to issue %d", result.Patchset, result.Issue)
	return result, nil
}

func parseUploadResponse(body string) (*domain.UploadResult, error) {
	m := issueURLPattern.FindStringSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("upload response did not name an issue:\n%s", body)
	}
	issue, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("upload response issue id %q is not a number", m[1])
	}

	patchset := 1
	if pm := patchsetPattern.FindStringSubmatch(body); pm != nil {
		if n, convErr := strconv.Atoi(pm[1]); convErr == nil {
			patchset = n
		}
	}
	return &domain.UploadResult{Issue: issue, Patchset: patchset}, nil
}
