package review

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/open42/cr/domain"
)

// The issue page structure is a versioned external contract with the
// service's issue.html template. These patterns are the interface.
var (
	xsrfTokenPattern = regexp.MustCompile(`(?i)xsrfToken\s*=\s*['"](\w+)['"]`)
	msgIDPattern     = regexp.MustCompile(`^msg\d+$`)
)

// apiIssue is the subset of the /api/{issue} record the workflow reads.
type apiIssue struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// PageParser extracts the structured message list and the anti-forgery
// token from a fetched issue page.
type PageParser struct{}

var _ domain.PageParser = (*PageParser)(nil)

// NewPageParser creates a parser for issue pages.
func NewPageParser() *PageParser { return &PageParser{} }

// Parse combines the issue HTML with its JSON API record. When the metadata
// parses but no message blocks can be extracted, the returned page is still
// usable and the error is domain.ErrNoMessages.
func (p *PageParser) Parse(pageHTML, apiJSON string) (*domain.IssuePage, error) {
	var api apiIssue
	if err := json.Unmarshal([]byte(apiJSON), &api); err != nil {
		return nil, fmt.Errorf("failed to parse issue api record: %w", err)
	}

	page := &domain.IssuePage{
		Title:       api.Subject,
		Description: api.Description,
	}
	if m := xsrfTokenPattern.FindStringSubmatch(pageHTML); m != nil {
		page.XSRFToken = m[1]
	}

	root, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse issue page html: %w", err)
	}

	for _, node := range findMessageDivs(root) {
		page.Messages = append(page.Messages, extractMessage(node))
	}
	if len(page.Messages) == 0 {
		return page, domain.ErrNoMessages
	}
	return page, nil
}

// findMessageDivs collects the <div id="msgNNN" name="NNN"> blocks in
// document order.
func findMessageDivs(root *html.Node) []*html.Node {
	var divs []*html.Node
	walk(root, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "div" {
			return
		}
		if msgIDPattern.MatchString(attr(n, "id")) && attr(n, "name") != "" {
			divs = append(divs, n)
		}
	})
	return divs
}

// extractMessage pulls commenter, time label and body text out of one
// message block. The commenter is the first table cell, the "ago" label the
// fourth; the body lives in a div of class "message-body".
func extractMessage(msg *html.Node) domain.ReviewMessage {
	var cells []string
	var body string
	walk(msg, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch {
		case n.Data == "td":
			cells = append(cells, nodeText(n))
		case n.Data == "div" && attr(n, "class") == "message-body":
			body = nodeText(n)
		}
	})

	var out domain.ReviewMessage
	if len(cells) > 0 {
		out.Commenter = cells[0]
	}
	if len(cells) > 3 {
		out.Ago = cells[3]
	}
	out.Text = body
	return out
}

func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// nodeText flattens the text content of a subtree, joining fragments with
// single spaces the way the original template rendering did.
func nodeText(n *html.Node) string {
	var parts []string
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			if t := strings.TrimSpace(c.Data); t != "" {
				parts = append(parts, t)
			}
		}
	})
	return strings.Join(parts, " ")
}
