// Package issues mirrors escalated tickets into a GitHub repository so
// engineering work items leave the chat tooling.
package issues

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"
	"github.com/zulandar/waybill/internal/models"
	"golang.org/x/oauth2"
)

// issueService abstracts the GitHub API methods we use, enabling test mocks.
type issueService interface {
	Create(ctx context.Context, owner, repo string, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
	CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	Edit(ctx context.Context, owner, repo string, number int, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
}

// Client files GitHub issues for escalated tickets.
type Client struct {
	issues issueService
	owner  string
	repo   string
}

// ClientOpts holds parameters for creating an issues Client.
type ClientOpts struct {
	Token string
	Owner string
	Repo  string
	// For testing: inject a mock instead of the real GitHub API.
	Issues issueService
}

// New creates a GitHub issues client.
func New(opts ClientOpts) (*Client, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("issues: owner and repo are required")
	}
	if opts.Issues == nil && opts.Token == "" {
		return nil, fmt.Errorf("issues: github token is required")
	}
	c := &Client{issues: opts.Issues, owner: opts.Owner, repo: opts.Repo}
	if c.issues == nil {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		c.issues = github.NewClient(oauth2.NewClient(context.Background(), ts)).Issues
	}
	return c, nil
}

// FileEscalation opens an issue for an escalated ticket and returns its
// number and HTML URL.
func (c *Client) FileEscalation(ctx context.Context, t *models.Ticket) (int, string, error) {
	body := fmt.Sprintf("%s\n\n---\nUrgency: %s\nRequester: %s\nWaybill ticket: #%d",
		t.Description, t.Urgency, t.UserName, t.ID)
	req := &github.IssueRequest{
		Title:  github.Ptr(fmt.Sprintf("[ticket #%d] %s", t.ID, t.Title)),
		Body:   github.Ptr(body),
		Labels: &[]string{"support-escalation"},
	}

	issue, _, err := c.issues.Create(ctx, c.owner, c.repo, req)
	if err != nil {
		return 0, "", fmt.Errorf("issues: create issue for ticket %d: %w", t.ID, err)
	}
	return issue.GetNumber(), issue.GetHTMLURL(), nil
}

// CloseEscalation comments on and closes the issue that was filed for the
// ticket. Call it when the ticket itself closes.
func (c *Client) CloseEscalation(ctx context.Context, t *models.Ticket) error {
	if t.IssueNumber == 0 {
		return nil
	}
	comment := &github.IssueComment{
		Body: github.Ptr(fmt.Sprintf("Waybill ticket #%d was closed.", t.ID)),
	}
	if _, _, err := c.issues.CreateComment(ctx, c.owner, c.repo, t.IssueNumber, comment); err != nil {
		return fmt.Errorf("issues: comment on issue %d for ticket %d: %w", t.IssueNumber, t.ID, err)
	}
	req := &github.IssueRequest{State: github.Ptr("closed")}
	if _, _, err := c.issues.Edit(ctx, c.owner, c.repo, t.IssueNumber, req); err != nil {
		return fmt.Errorf("issues: close issue %d for ticket %d: %w", t.IssueNumber, t.ID, err)
	}
	return nil
}
