// Package notify pushes ticket lifecycle events to the staff Slack channel.
package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/waybill/internal/models"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackNotifier implements workflow.Notifier against the Slack Web API.
// Tickets live on Discord; Slack is where staff actually sit, so lifecycle
// pings cross over.
type SlackNotifier struct {
	client  slackClient
	channel string
}

// SlackOpts holds parameters for creating a SlackNotifier.
type SlackOpts struct {
	BotToken string
	Channel  string // channel name or ID to post into
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// NewSlack creates a Slack notifier.
func NewSlack(opts SlackOpts) (*SlackNotifier, error) {
	if opts.Channel == "" {
		return nil, fmt.Errorf("notify: slack channel is required")
	}
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: slack bot token is required")
	}
	n := &SlackNotifier{client: opts.Client, channel: opts.Channel}
	if n.client == nil {
		n.client = slackapi.New(opts.BotToken)
	}
	return n, nil
}

// TicketSubmitted announces a freshly filed ticket.
func (n *SlackNotifier) TicketSubmitted(ctx context.Context, t *models.Ticket) error {
	att := slackapi.Attachment{
		Color: "#36a64f",
		Title: fmt.Sprintf("New ticket #%d: %s", t.ID, t.Title),
		Text:  t.Description,
		Fields: []slackapi.AttachmentField{
			{Title: "Urgency", Value: t.Urgency, Short: true},
			{Title: "Requester", Value: t.UserName, Short: true},
		},
	}
	return n.post(ctx, att)
}

// TicketEscalated flags a blocked ticket that needs senior eyes.
func (n *SlackNotifier) TicketEscalated(ctx context.Context, t *models.Ticket) error {
	att := slackapi.Attachment{
		Color: "#d00000",
		Title: fmt.Sprintf("Ticket #%d escalated: %s", t.ID, t.Title),
		Text:  t.Description,
		Fields: []slackapi.AttachmentField{
			{Title: "Urgency", Value: t.Urgency, Short: true},
			{Title: "Assigned", Value: orUnassigned(t.AssignedTo), Short: true},
		},
	}
	return n.post(ctx, att)
}

func (n *SlackNotifier) post(ctx context.Context, att slackapi.Attachment) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slackapi.MsgOptionAttachments(att))
	if err != nil {
		return fmt.Errorf("notify: post to slack channel %s: %w", n.channel, err)
	}
	return nil
}

func orUnassigned(s string) string {
	if s == "" {
		return "unassigned"
	}
	return s
}
