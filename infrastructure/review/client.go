// Package review implements the collaborators for the Rietveld-style code
// review service: the retrying HTTP client, the issue-page extraction, and
// the diff uploader.
package review

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	logger "github.com/sirupsen/logrus"

	"github.com/open42/cr/domain"
)

const (
	retryMax  = 3
	retryWait = time.Second
)

// noIssuePattern matches the service's "issue is gone" body, which can come
// back under status codes other than 404.
var noIssuePattern = regexp.MustCompile(`(?i)^No issue exists`)

// Client performs HTTP calls against the review service with a bounded
// retry policy: transient failures (transport errors, 5xx) are retried up
// to 3 times with a fixed one-second delay; not-found responses and
// redirects are surfaced immediately without retrying.
type Client struct {
	server string
	http   *retryablehttp.Client
}

var _ domain.ReviewClient = (*Client)(nil)

// NewClient creates a client for the given review service host.
func NewClient(server string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = retryWait
	rc.RetryWaitMax = retryWait
	rc.Logger = nil
	rc.CheckRetry = checkRetry
	// Redirects are meaningful responses here (publish signals success
	// with one), so never follow them.
	rc.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Client{server: server, http: rc}
}

// BaseURL returns the service URL for user-facing messages.
func (c *Client) BaseURL() string {
	return "http://" + c.server
}

// Get fetches path and returns the response body.
func (c *Client) Get(ctx context.Context, path string) (string, error) {
	return c.do(ctx, http.MethodGet, path, "", "")
}

// Post sends a form payload to path and returns the response body.
func (c *Client) Post(ctx context.Context, path, contentType, payload string) (string, error) {
	return c.do(ctx, http.MethodPost, path, contentType, payload)
}

func (c *Client) do(ctx context.Context, method, path, contentType, payload string) (string, error) {
	url := c.BaseURL() + path

	var body io.Reader
	if payload != "" {
		body = strings.NewReader(payload)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %q: %w", url, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	logger.Debugf("%s %s", method, url)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("unable to reach server %q: %w", c.server, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response from %q: %w", url, err)
	}
	text := string(raw)

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return text, fmt.Errorf("%s returned %d: %w", url, resp.StatusCode, domain.ErrRedirect)
	case resp.StatusCode == http.StatusNotFound || noIssuePattern.MatchString(text):
		return text, fmt.Errorf("%s (maybe it is closed?): %w", url, domain.ErrIssueNotFound)
	case resp.StatusCode >= 400:
		return text, fmt.Errorf("%s returned %d:\n%s", url, resp.StatusCode, text)
	}
	return text, nil
}

// checkRetry retries transport errors and server-side failures only. A 404
// means the issue is gone and retrying cannot help; redirects are expected
// responses.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return resp.StatusCode >= http.StatusInternalServerError, nil
}
