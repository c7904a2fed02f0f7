// Package application holds the changelist resolver and the review-gated
// submission flow that drives a changelist from upload through approval,
// commit, and publish.
package application

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	logger "github.com/sirupsen/logrus"

	"github.com/open42/cr/config"
	"github.com/open42/cr/domain"
)

// State names a stage in the submission lifecycle. Transitions only ever
// move forward; --force is the one escape hatch, jumping from Unsubmitted
// or Uploaded straight to Committed past the approval gate.
type State string

const (
	StateUnsubmitted State = "unsubmitted"
	StateUploaded    State = "uploaded"
	StateApproved    State = "approved"
	StateCommitted   State = "committed"
	StatePublished   State = "published"
)

const (
	// minMessageLen guards against contentless upload messages.
	minMessageLen = 5
	// maxSubjectLen is the review service's subject budget.
	maxSubjectLen = 100

	finalVersionMessage = "Final version."
	formContentType     = "application/x-www-form-urlencoded"
)

// approvalPattern matches the reviewer's approval marker, including its
// popular misspelling.
var approvalPattern = regexp.MustCompile(`(?i)LGTM|LTGM|looks good to me`)

// closedPattern is the close endpoint's success signal; it must stay in
// sync with the service's close view.
var closedPattern = regexp.MustCompile(`(?i)Closed`)

// Options are the per-invocation knobs shared by the upload and finish
// flows, mirroring the command-line flags.
type Options struct {
	Changelist string
	Message    string
	Reviewers  string
	CC         string
	Revision   string
	Args       []string
	SendMail   bool
	Force      bool
}

// Service drives the review-gated submission flow over one backend and one
// review service. All calls are synchronous; ordering comes purely from
// call sequence.
type Service struct {
	vcs      domain.VCS
	client   domain.ReviewClient
	parser   domain.PageParser
	uploader domain.DiffUploader
	resolver *Resolver
	cfg      *config.Config
}

// NewService wires the submission flow.
func NewService(
	vcs domain.VCS,
	client domain.ReviewClient,
	parser domain.PageParser,
	uploader domain.DiffUploader,
	cfg *config.Config,
) *Service {
	return &Service{
		vcs:      vcs,
		client:   client,
		parser:   parser,
		uploader: uploader,
		resolver: NewResolver(vcs),
		cfg:      cfg,
	}
}

// Resolver exposes the service's resolver for read-only commands.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Upload pushes the changelist's diff to the review service, creating a new
// issue (renaming the changelist to its issue-numbered form) or adding a
// patchset to the existing one. It returns the upload result and the
// changelist's name afterwards.
func (s *Service) Upload(ctx context.Context, opts Options) (*domain.UploadResult, string, error) {
	group, err := s.resolver.Resolve(ctx, ResolveRequest{
		Changelist: opts.Changelist,
		Revision:   opts.Revision,
		Args:       opts.Args,
	})
	if err != nil {
		return nil, "", err
	}

	message, err := s.uploadMessage(ctx, opts)
	if err != nil {
		return nil, "", err
	}

	diff, err := s.vcs.GenerateDiff(ctx, group, domain.DiffOptions{Revision: opts.Revision})
	if err != nil {
		return nil, "", err
	}
	if err = s.checkDiff(diff); err != nil {
		return nil, "", err
	}

	req := domain.UploadRequest{
		Diff:        diff,
		Description: message,
		Reviewers:   opts.Reviewers,
		CC:          s.ccList(opts.CC),
		BaseURL:     s.baseURL(ctx, group, opts.Revision),
		SendMail:    opts.SendMail,
	}

	if issue, uploaded := domain.IssueNumber(group.Name); uploaded {
		logger.Infof("Re-uploading to issue %d...", issue)
		req.Issue = issue
		req.Subject = buildSubject("", message)
		result, upErr := s.uploader.Upload(ctx, req)
		if upErr != nil {
			return nil, "", upErr
		}
		return result, group.Name, nil
	}

	if opts.Reviewers == "" {
		return nil, "", domain.Userf("please specify at least one reviewer with --reviewers [short: -r]")
	}

	logger.Infof("Uploading diff and creating a new issue number on %s...", s.cfg.Server)
	req.Subject = buildSubject(domain.SubjectHeader(s.cfg.SubjectHeader, diff), message)
	result, err := s.uploader.Upload(ctx, req)
	if err != nil {
		return nil, "", err
	}

	newName := domain.IssueChangelistName(result.Issue, group.Name)
	if err = s.adoptIssueName(ctx, group, newName); err != nil {
		return nil, "", err
	}
	logger.Debugf("state: %s -> %s (%s)", StateUnsubmitted, StateUploaded, newName)
	logger.Infof("Uploaded patchset %d to new issue %d. Once your reviewer provides"+
		" an LGTM at %s/%d, finish submitting with: cr finish",
		result.Patchset, result.Issue, s.client.BaseURL(), result.Issue)
	return result, newName, nil
}

// Finish is the review gate: it verifies the issue carries an approval
// marker, re-uploads the final patch, commits with the approval stamp, then
// closes and publishes the issue and drops the changelist.
func (s *Service) Finish(ctx context.Context, opts Options) error {
	group, err := s.resolver.Resolve(ctx, ResolveRequest{
		Changelist: opts.Changelist,
		Revision:   opts.Revision,
		Args:       opts.Args,
	})
	if err != nil {
		return err
	}
	name := group.Name

	if name == domain.Placeholder && !opts.Force {
		return domain.Userf(
			"you should not commit blindly without a code review; try:\n" +
				"  cr mail -r reviewer -m \"My new feature\" [files...]\n" +
				"or, for emergencies only, add --force")
	}

	issue, uploaded := domain.IssueNumber(name)
	if !uploaded {
		if !opts.Force {
			return domain.Userf(
				"the changelist %q is not approved for check in;"+
					" run \"cr mail -r <reviewer> -m 'comment'\" first"+
					" (or use --force in an emergency)", name)
		}
		// Forced commit of a never-uploaded changelist: upload now so
		// the review record exists, then continue straight to commit.
		result, newName, upErr := s.Upload(ctx, opts)
		if upErr != nil {
			return upErr
		}
		issue, name = result.Issue, newName
	}

	if !opts.Force {
		logger.Infof("Checking for LGTM status from %s for changelist %q...", s.cfg.Server, name)
	}
	page, err := s.fetchIssuePage(ctx, issue, opts.Force)
	if err != nil {
		return err
	}

	description := opts.Message
	if description == "" {
		description = page.Description
	}
	if description == "" {
		description = page.Title
	}

	approvers, phrase, ago := []string{"UNAPPROVED"}, "FORCE CHECK IN", "now"
	if !opts.Force {
		approvers, ago = s.scanApprovals(page.Messages)
		phrase = "LGTM'ed"
		if len(approvers) == 0 {
			return fmt.Errorf(
				"changelist %q does not yet have an LGTM: %w\n"+
					"please ask your reviewer to review: %s/%d\n"+
					"if this is an emergency, use --force to commit",
				name, domain.ErrNoApproval, s.client.BaseURL(), issue)
		}
		logger.Debugf("state: %s -> %s", StateUploaded, StateApproved)

		// Push the final patch first so the remote record matches what
		// is committed.
		finalOpts := opts
		if finalOpts.Message == "" {
			finalOpts.Message = finalVersionMessage
		}
		finalOpts.Changelist = name
		finalOpts.SendMail = false
		if _, _, upErr := s.Upload(ctx, finalOpts); upErr != nil {
			return upErr
		}
	}

	// The marker's exact text is matched by a later "already reviewed"
	// check on the server side; do not reword it.
	marker := fmt.Sprintf("(Code-reviewer:%s %s %s. http://%s/%d)",
		strings.Join(approvers, ","), phrase, ago, s.cfg.Server, issue)

	logger.Infof("Committing changelist %q approved by %s (%s)...",
		name, strings.Join(approvers, ","), ago)
	publishMessage, err := s.vcs.Commit(ctx, name, marker, description, opts.Force)
	if err != nil {
		return err
	}
	logger.Debugf("state: %s -> %s", StateApproved, StateCommitted)

	if opts.Force {
		logger.Warn("Warning: issue not automatically closed because of --force.")
	} else if err = s.closeIssue(ctx, issue, page.XSRFToken); err != nil {
		return err
	}

	if err = s.publish(ctx, issue, page, publishMessage); err != nil {
		return err
	}
	logger.Debugf("state: %s -> %s", StateCommitted, StatePublished)

	return s.vcs.RemoveChangelist(ctx, name)
}

// uploadMessage settles the upload message: the user's, or one synthesized
// from recent history on backends that have it.
func (s *Service) uploadMessage(ctx context.Context, opts Options) (string, error) {
	if opts.Message != "" {
		if len(opts.Message) < minMessageLen {
			return "", domain.Userf("message too short; please add a more informative --message")
		}
		return opts.Message, nil
	}

	synthesized, err := s.vcs.SynthesizeMessage(ctx)
	if err != nil {
		return "", err
	}
	if synthesized == "" {
		return "", domain.Userf("please specify --message [short: -m]")
	}
	return synthesized, nil
}

// checkDiff applies the style rules: warnings are reported, errors abort
// the upload.
func (s *Service) checkDiff(diff string) error {
	rules := domain.DiffRules{MaxCols: s.cfg.MaxCols, AllowTabs: s.cfg.AllowTabs}
	errs, warns := domain.TriggerWarnings(diff, rules)
	for _, w := range warns {
		logger.Warnf("%s", w)
	}
	if len(errs) > 0 {
		for _, e := range errs {
			logger.Errorf("%s", e)
		}
		return domain.Userf("you must fix the problematic code above before uploading")
	}
	return nil
}

func (s *Service) ccList(cc string) string {
	parts := make([]string, 0, 2)
	if cc != "" {
		parts = append(parts, cc)
	}
	if s.cfg.DefaultCC != "" {
		parts = append(parts, s.cfg.DefaultCC)
	}
	return strings.Join(parts, ",")
}

func (s *Service) baseURL(ctx context.Context, group *domain.FileGroupInfo, revision string) string {
	if revision != "" {
		return "hash:unknown"
	}
	if group.Type == domain.GroupBranch {
		return s.vcs.BaseURL(ctx, group.Branch.Remote)
	}
	return ""
}

// adoptIssueName renames the freshly uploaded group to its issue-numbered
// form in the backend's changelist mechanism.
func (s *Service) adoptIssueName(ctx context.Context, group *domain.FileGroupInfo, newName string) error {
	if group.Type == domain.GroupBranch {
		logger.Infof("Moving branch %s to %q", group.Branch, newName)
		return s.vcs.MoveBranchToChangelist(ctx, group.Branch, newName)
	}
	files := group.FilePaths()
	if len(files) == 0 {
		return nil
	}
	return s.vcs.MoveFilesToChangelist(ctx, files, newName)
}

// fetchIssuePage pulls the issue HTML and its API record. A page with
// metadata but no extractable messages is only acceptable when forcing.
func (s *Service) fetchIssuePage(ctx context.Context, issue int, force bool) (*domain.IssuePage, error) {
	pageHTML, err := s.client.Get(ctx, fmt.Sprintf("/%d", issue))
	if err != nil {
		return nil, err
	}
	apiJSON, err := s.client.Get(ctx, fmt.Sprintf("/api/%d", issue))
	if err != nil {
		return nil, err
	}

	page, err := s.parser.Parse(pageHTML, apiJSON)
	if err != nil {
		if errors.Is(err, domain.ErrNoMessages) && force {
			return page, nil
		}
		return nil, fmt.Errorf("issue %d at %s/%d: %w", issue, s.client.BaseURL(), issue, err)
	}
	return page, nil
}

// scanApprovals collects the distinct approvers among the issue messages,
// skipping self-approvals unless they are explicitly allowed. The returned
// label is the time-since of the last matching message.
func (s *Service) scanApprovals(messages []domain.ReviewMessage) (approvers []string, ago string) {
	for _, msg := range messages {
		if !approvalPattern.MatchString(msg.Text) {
			continue
		}
		if s.isSelf(msg.Commenter) && !s.cfg.AllowSelfApproval {
			logger.Warn("You should not LGTM or solicit LGTM in your own comment!")
			continue
		}
		if !strings.Contains(","+strings.Join(approvers, ",")+",", ","+msg.Commenter+",") {
			approvers = append(approvers, msg.Commenter)
		}
		ago = msg.Ago
	}
	return approvers, ago
}

// isSelf reports whether the commenter is the acting user: the service
// renders the viewer as "me", and the configured email also counts.
func (s *Service) isSelf(commenter string) bool {
	return commenter == "me" || (s.cfg.Email != "" && commenter == s.cfg.Email)
}

// closeIssue closes the remote issue; a not-found/already-closed response
// is not an error.
func (s *Service) closeIssue(ctx context.Context, issue int, xsrfToken string) error {
	path := fmt.Sprintf("/%d/close", issue)
	body, err := s.client.Post(ctx, path, formContentType, "xsrf_token="+xsrfToken)
	if err != nil {
		if errors.Is(err, domain.ErrIssueNotFound) {
			logger.Infof("Issue %d is already closed.", issue)
			return nil
		}
		return fmt.Errorf("unable to close issue %d: %w", issue, err)
	}
	if !closedPattern.MatchString(body) {
		return fmt.Errorf("unable to close issue %d on %s%s:\n%s",
			issue, s.client.BaseURL(), path, body)
	}
	logger.Infof("Closed issue %d on %s/%d", issue, s.client.BaseURL(), issue)
	return nil
}

// publish posts the commit message back to the issue. The service answers
// a successful publish with a redirect, so that is the success signal; a
// plain 200 means the post did not land.
func (s *Service) publish(ctx context.Context, issue int, page *domain.IssuePage, message string) error {
	form := url.Values{}
	form.Set("xsrf_token", page.XSRFToken)
	form.Set("subject", page.Title)
	form.Set("message", message)
	form.Set("send_mail", "0")
	form.Set("message_only", "1")

	path := fmt.Sprintf("/%d/publish", issue)
	body, err := s.client.Post(ctx, path, formContentType, form.Encode())
	switch {
	case errors.Is(err, domain.ErrRedirect):
		logger.Infof("Published commit information to %s/%d", s.client.BaseURL(), issue)
		return nil
	case err != nil:
		return fmt.Errorf("unable to publish to %s%s: %w", s.client.BaseURL(), path, err)
	default:
		return fmt.Errorf("unable to publish to %s%s: expected a redirect, got:\n%s",
			s.client.BaseURL(), path, body)
	}
}

// buildSubject flattens the size header and message into the service's
// subject budget.
func buildSubject(header, message string) string {
	subject := header
	if subject != "" {
		subject += " "
	}
	subject += message
	subject = strings.ReplaceAll(subject, "\n", " ")
	if runes := []rune(subject); len(runes) > maxSubjectLen {
		subject = string(runes[:maxSubjectLen])
	}
	return strings.TrimSpace(subject)
}
