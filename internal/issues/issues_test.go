package issues

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/zulandar/waybill/internal/models"
)

// mockIssues records created issues, comments and edits.
type mockIssues struct {
	owner, repo string
	req         *github.IssueRequest
	comments    map[int][]string
	edits       map[int]*github.IssueRequest
	err         error
}

func newMockIssues() *mockIssues {
	return &mockIssues{
		comments: make(map[int][]string),
		edits:    make(map[int]*github.IssueRequest),
	}
}

func (m *mockIssues) Create(_ context.Context, owner, repo string, issue *github.IssueRequest) (*github.Issue, *github.Response, error) {
	m.owner, m.repo, m.req = owner, repo, issue
	if m.err != nil {
		return nil, nil, m.err
	}
	return &github.Issue{
		Number:  github.Ptr(12),
		HTMLURL: github.Ptr("https://github.com/acme/support/issues/12"),
	}, nil, nil
}

func (m *mockIssues) CreateComment(_ context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error) {
	m.owner, m.repo = owner, repo
	if m.err != nil {
		return nil, nil, m.err
	}
	m.comments[number] = append(m.comments[number], comment.GetBody())
	return comment, nil, nil
}

func (m *mockIssues) Edit(_ context.Context, owner, repo string, number int, issue *github.IssueRequest) (*github.Issue, *github.Response, error) {
	m.owner, m.repo = owner, repo
	if m.err != nil {
		return nil, nil, m.err
	}
	m.edits[number] = issue
	return &github.Issue{Number: github.Ptr(number)}, nil, nil
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(ClientOpts{Token: "t", Owner: "acme"}); err == nil {
		t.Error("expected error for missing repo")
	}
	if _, err := New(ClientOpts{Owner: "acme", Repo: "support"}); err == nil {
		t.Error("expected error for missing token and mock")
	}
}

func TestFileEscalation(t *testing.T) {
	m := newMockIssues()
	c, err := New(ClientOpts{Owner: "acme", Repo: "support", Issues: m})
	if err != nil {
		t.Fatal(err)
	}

	tk := &models.Ticket{ID: 9, Title: "VPN down", Description: "Nobody can connect", Urgency: "High", UserName: "alice"}
	number, url, err := c.FileEscalation(context.Background(), tk)
	if err != nil {
		t.Fatalf("FileEscalation: %v", err)
	}
	if number != 12 {
		t.Errorf("number = %d, want 12", number)
	}
	if url != "https://github.com/acme/support/issues/12" {
		t.Errorf("url = %q", url)
	}
	if m.owner != "acme" || m.repo != "support" {
		t.Errorf("filed against %s/%s, want acme/support", m.owner, m.repo)
	}
	if got := m.req.GetTitle(); !strings.Contains(got, "#9") || !strings.Contains(got, "VPN down") {
		t.Errorf("issue title = %q", got)
	}
	if got := m.req.GetBody(); !strings.Contains(got, "Urgency: High") || !strings.Contains(got, "alice") {
		t.Errorf("issue body = %q", got)
	}
}

func TestFileEscalation_Error(t *testing.T) {
	m := newMockIssues()
	m.err = errors.New("401 bad credentials")
	c, err := New(ClientOpts{Owner: "acme", Repo: "support", Issues: m})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.FileEscalation(context.Background(), &models.Ticket{ID: 9}); err == nil {
		t.Fatal("expected error from github client")
	}
}

func TestCloseEscalation(t *testing.T) {
	m := newMockIssues()
	c, err := New(ClientOpts{Owner: "acme", Repo: "support", Issues: m})
	if err != nil {
		t.Fatal(err)
	}

	tk := &models.Ticket{ID: 9, IssueNumber: 12}
	if err := c.CloseEscalation(context.Background(), tk); err != nil {
		t.Fatalf("CloseEscalation: %v", err)
	}
	if got := m.comments[12]; len(got) != 1 || !strings.Contains(got[0], "#9") {
		t.Errorf("comments on issue 12 = %v", got)
	}
	if edit := m.edits[12]; edit == nil || edit.GetState() != "closed" {
		t.Errorf("edit on issue 12 = %+v, want state closed", m.edits[12])
	}
}

func TestCloseEscalation_NoIssue(t *testing.T) {
	m := newMockIssues()
	c, err := New(ClientOpts{Owner: "acme", Repo: "support", Issues: m})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.CloseEscalation(context.Background(), &models.Ticket{ID: 9}); err != nil {
		t.Fatalf("CloseEscalation without issue: %v", err)
	}
	if len(m.comments) != 0 || len(m.edits) != 0 {
		t.Error("expected no API calls for a ticket without an issue")
	}
}
