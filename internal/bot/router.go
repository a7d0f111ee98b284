package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/zulandar/waybill/internal/archive"
	"github.com/zulandar/waybill/internal/brain"
	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/convo"
	"github.com/zulandar/waybill/internal/issues"
	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/store"
	"github.com/zulandar/waybill/internal/workflow"
	"gorm.io/gorm"
)

// commandPrefix is the prefix that triggers command handling.
const commandPrefix = "!wb"

// Router classifies inbound events and routes them: commands to their
// handlers, draft-channel chatter to the proposal engine, everything else
// is ignored.
type Router struct {
	db           *gorm.DB
	platform     Platform
	workflow     *workflow.Engine
	brain        *brain.Engine // optional
	confirms     *workflow.ConfirmRegistry
	restorer     *archive.Restorer
	issues       *issues.Client // optional
	staffRoles   map[string]bool
	intake       string
	categories   config.Categories
	historyLimit int

	cardMu        sync.Mutex
	proposalCards map[string]string // channelID -> proposal card message ID
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	DB       *gorm.DB
	Platform Platform
	Workflow *workflow.Engine
	// Optional; nil answers draft interviews with a canned fallback so the
	// desk keeps running when no model is configured.
	Brain           *brain.Engine
	Confirms        *workflow.ConfirmRegistry
	Restorer        *archive.Restorer
	Issues          *issues.Client // optional; nil disables issue escalation
	StaffRoleIDs    []string
	IntakeChannelID string
	Categories      config.Categories
	HistoryLimit    int
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: router db is required")
	}
	if opts.Platform == nil {
		return nil, fmt.Errorf("bot: router platform is required")
	}
	if opts.Workflow == nil {
		return nil, fmt.Errorf("bot: router workflow engine is required")
	}
	if opts.Confirms == nil {
		opts.Confirms = workflow.NewConfirmRegistry(0)
	}
	staff := make(map[string]bool, len(opts.StaffRoleIDs))
	for _, id := range opts.StaffRoleIDs {
		staff[id] = true
	}
	return &Router{
		db:            opts.DB,
		platform:      opts.Platform,
		workflow:      opts.Workflow,
		brain:         opts.Brain,
		confirms:      opts.Confirms,
		restorer:      opts.Restorer,
		issues:        opts.Issues,
		staffRoles:    staff,
		intake:        opts.IntakeChannelID,
		categories:    opts.Categories,
		historyLimit:  opts.HistoryLimit,
		proposalCards: make(map[string]string),
	}, nil
}

// actorFor builds the workflow actor for an event author.
func (r *Router) actorFor(ev Event) workflow.Actor {
	a := workflow.Actor{ID: ev.UserID, Name: ev.UserName}
	for _, role := range ev.RoleIDs {
		if r.staffRoles[role] {
			a.Staff = true
			break
		}
	}
	return a
}

// Handle classifies and routes a single inbound event. Routing paths:
//  1. Pending confirmation in the channel and a yes/no answer → resolve
//  2. Command prefix "!wb" → command handler
//  3. Message in the intake channel → nudge toward !wb new
//  4. Message in a draft ticket channel → proposal engine
//  5. Everything else → ignore
func (r *Router) Handle(ctx context.Context, ev Event) {
	text := strings.TrimSpace(ev.Content)
	if text == "" {
		return
	}

	if r.confirms.Pending(ev.ChannelID) {
		if answer, ok := parseYesNo(text); ok {
			r.confirms.Resolve(ev.ChannelID, answer)
			return
		}
	}

	if strings.HasPrefix(text, commandPrefix) {
		args := strings.Fields(strings.TrimPrefix(text, commandPrefix))
		r.handleCommand(ctx, ev, args)
		return
	}

	if ev.ChannelID == r.intake {
		r.say(ctx, ev.ChannelID, "Hi! Type `!wb new` and I'll open a private ticket channel for you.")
		return
	}

	t, err := store.GetByChannel(r.db, ev.ChannelID)
	if err != nil {
		log.Printf("bot: lookup ticket for channel %s: %v", ev.ChannelID, err)
		return
	}
	if t == nil || t.Status != models.StatusDraft {
		return
	}
	r.handleDraftMessage(ctx, ev, t)
}

// handleDraftMessage runs one interview turn with the proposal engine.
// Without a brain the requester gets the canned fallback and can still
// submit by hand.
func (r *Router) handleDraftMessage(ctx context.Context, ev Event, t *models.Ticket) {
	history, err := convo.History(r.db, ev.ChannelID, r.historyLimit)
	if err != nil {
		log.Printf("bot: load history for channel %s: %v", ev.ChannelID, err)
	}
	if err := convo.AddUserMessage(r.db, ev.ChannelID, ev.Content); err != nil {
		log.Printf("bot: record user message in channel %s: %v", ev.ChannelID, err)
	}

	if r.brain == nil {
		r.say(ctx, ev.ChannelID, brain.FallbackReply)
		return
	}

	res, err := r.brain.Respond(ctx, history, ev.Content)
	if err != nil {
		log.Printf("bot: brain turn in channel %s: %v", ev.ChannelID, err)
		return
	}

	if res.Proposal != nil {
		if err := store.UpdateDetails(r.db, t.ID, res.Proposal.Title, res.Proposal.Description, res.Proposal.Urgency); err != nil {
			log.Printf("bot: save proposal on ticket %d: %v", t.ID, err)
		} else {
			r.sendProposalCard(ctx, ev.ChannelID, t.ID, res.Proposal)
		}
	}
	if res.Reply != "" {
		if err := convo.AddBotMessage(r.db, ev.ChannelID, res.Reply); err != nil {
			log.Printf("bot: record bot message in channel %s: %v", ev.ChannelID, err)
		}
		r.say(ctx, ev.ChannelID, res.Reply)
	}
}

// sendProposalCard posts the proposal embed, or updates the channel's
// existing card in place when the interview refines the draft, so the
// channel carries one card per ticket instead of a trail of stale ones.
func (r *Router) sendProposalCard(ctx context.Context, channelID string, ticketID uint, p *brain.Proposal) {
	embed := Embed{
		Title:       fmt.Sprintf("Draft ticket #%d: %s", ticketID, p.Title),
		Description: p.Description,
		Color:       "#3b82f6",
		Fields: []Field{
			{Name: "Urgency", Value: p.Urgency, Inline: true},
			{Name: "Next step", Value: "`!wb submit` to file it, or keep talking to refine", Inline: false},
		},
	}

	r.cardMu.Lock()
	msgID := r.proposalCards[channelID]
	r.cardMu.Unlock()
	if msgID != "" {
		err := r.platform.EditEmbed(ctx, channelID, msgID, embed)
		if err == nil {
			return
		}
		// The card may have been deleted by hand; post a fresh one.
		log.Printf("bot: update proposal card in channel %s: %v", channelID, err)
	}

	id, err := r.platform.SendEmbed(ctx, channelID, embed)
	if err != nil {
		log.Printf("bot: send proposal card to channel %s: %v", channelID, err)
		return
	}
	r.cardMu.Lock()
	r.proposalCards[channelID] = id
	r.cardMu.Unlock()
}

// handleCommand dispatches a "!wb ..." command.
func (r *Router) handleCommand(ctx context.Context, ev Event, args []string) {
	if len(args) == 0 {
		r.say(ctx, ev.ChannelID, helpText)
		return
	}
	cmd := strings.ToLower(args[0])
	actor := r.actorFor(ev)

	switch cmd {
	case "help":
		r.say(ctx, ev.ChannelID, helpText)
	case "new":
		r.cmdNew(ctx, ev)
	case "restore":
		r.cmdRestore(ctx, ev, actor, args[1:])
	case "queue":
		r.cmdQueue(ctx, ev, actor)
	case "mine":
		r.cmdMine(ctx, ev, actor)
	default:
		r.cmdOnTicket(ctx, ev, actor, cmd, args[1:])
	}
}

// cmdOnTicket handles the commands that operate on the channel's ticket.
func (r *Router) cmdOnTicket(ctx context.Context, ev Event, actor workflow.Actor, cmd string, rest []string) {
	t, err := store.GetByChannel(r.db, ev.ChannelID)
	if err != nil {
		log.Printf("bot: lookup ticket for channel %s: %v", ev.ChannelID, err)
		return
	}
	if t == nil {
		r.say(ctx, ev.ChannelID, "This channel has no ticket.")
		return
	}

	switch cmd {
	case "submit":
		err = r.workflow.Submit(ctx, actor, t)
		if err == nil {
			r.say(ctx, ev.ChannelID, fmt.Sprintf("Ticket #%d filed: **%s**. The team will pick it up from here.", t.ID, t.Title))
		}
	case "close":
		err = r.workflow.Close(ctx, actor, t)
		if err == nil {
			r.closeEscalationIssue(ctx, t)
			r.say(ctx, ev.ChannelID, fmt.Sprintf("Ticket #%d closed. Thanks!", t.ID))
		}
	case "abandon":
		// Close without the resolution message.
		err = r.workflow.Abandon(ctx, actor, t)
		if err == nil {
			r.closeEscalationIssue(ctx, t)
		}
	case "discard":
		err = r.workflow.Discard(ctx, actor, t)
	case "escalate":
		err = r.cmdEscalate(ctx, ev, actor, t, rest)
	case "return":
		err = r.workflow.ReturnToQueue(ctx, actor, t)
		if err == nil {
			r.say(ctx, ev.ChannelID, fmt.Sprintf("Ticket #%d is back in the queue.", t.ID))
		}
	case "assign":
		err = r.cmdAssign(ctx, ev, actor, t, rest)
	case "delete":
		r.cmdDelete(ctx, ev, actor, t)
	case "status":
		r.cmdStatus(ctx, ev, t)
	case "reset":
		r.cmdReset(ctx, ev)
	default:
		r.say(ctx, ev.ChannelID, fmt.Sprintf("Unknown command %q. Try `!wb help`.", cmd))
	}

	if err != nil {
		r.sayError(ctx, ev.ChannelID, err)
	}
}

// cmdNew opens a fresh draft ticket channel, visible only to the author
// and staff.
func (r *Router) cmdNew(ctx context.Context, ev Event) {
	name := fmt.Sprintf("ticket-%s", sanitizeChannelName(ev.UserName))
	channelID, err := r.platform.CreateChannel(ctx, name, r.categories.Inbox, ev.UserID)
	if err != nil {
		log.Printf("bot: create ticket channel for %s: %v", ev.UserName, err)
		r.say(ctx, ev.ChannelID, "Sorry, I couldn't open a ticket channel. Please try again.")
		return
	}

	t, err := store.CreateDraft(r.db, store.CreateDraftOpts{
		ChannelID: channelID,
		GuildID:   ev.GuildID,
		UserID:    ev.UserID,
		UserName:  ev.UserName,
	})
	if err != nil {
		log.Printf("bot: create draft for %s: %v", ev.UserName, err)
		return
	}

	r.say(ctx, channelID, fmt.Sprintf("Hi %s! Tell me what's going on and I'll draft ticket #%d for you. When the draft looks right, `!wb submit` files it.", ev.UserName, t.ID))
	if ev.ChannelID != channelID {
		r.say(ctx, ev.ChannelID, fmt.Sprintf("%s: your ticket channel is ready: <#%s>", ev.UserName, channelID))
	}
}

// cmdEscalate escalates to the mentioned staff member, defaulting to the
// acting one, and mirrors the ticket into a GitHub issue when configured.
func (r *Router) cmdEscalate(ctx context.Context, ev Event, actor workflow.Actor, t *models.Ticket, rest []string) error {
	assignee := actor.ID
	if len(rest) > 0 {
		assignee = strings.Trim(rest[0], "<@!>")
	}
	if err := r.workflow.Escalate(ctx, actor, t, assignee); err != nil {
		return err
	}
	msg := fmt.Sprintf("Ticket #%d escalated to <@%s>.", t.ID, assignee)
	if r.issues != nil {
		if number, url, err := r.issues.FileEscalation(ctx, t); err != nil {
			log.Printf("bot: file escalation issue for ticket %d: %v", t.ID, err)
		} else {
			if err := store.SetIssueNumber(r.db, t.ID, number); err != nil {
				log.Printf("bot: record issue number for ticket %d: %v", t.ID, err)
			}
			t.IssueNumber = number
			msg += " Tracking issue: " + url
		}
	}
	r.say(ctx, ev.ChannelID, msg)
	return nil
}

// closeEscalationIssue closes the tracking issue, when one was filed.
// Best effort; the ticket close already happened.
func (r *Router) closeEscalationIssue(ctx context.Context, t *models.Ticket) {
	if r.issues == nil || t.IssueNumber == 0 {
		return
	}
	if err := r.issues.CloseEscalation(ctx, t); err != nil {
		log.Printf("bot: close escalation issue for ticket %d: %v", t.ID, err)
	}
}

// cmdAssign parses the assignee argument: a mention, a raw user ID, "me",
// or nothing to unassign.
func (r *Router) cmdAssign(ctx context.Context, ev Event, actor workflow.Actor, t *models.Ticket, rest []string) error {
	assignee := ""
	if len(rest) > 0 {
		switch arg := rest[0]; {
		case arg == "me":
			assignee = ev.UserID
		case arg == "none":
			assignee = ""
		default:
			assignee = strings.Trim(arg, "<@!>")
		}
	}
	if err := r.workflow.Assign(ctx, actor, t, assignee); err != nil {
		return err
	}
	if assignee == "" {
		r.say(ctx, ev.ChannelID, fmt.Sprintf("Ticket #%d unassigned.", t.ID))
	} else {
		r.say(ctx, ev.ChannelID, fmt.Sprintf("Ticket #%d assigned to <@%s>.", t.ID, assignee))
	}
	return nil
}

// cmdDelete asks for confirmation, then tombstones the ticket. The wait
// runs off the event loop so other channels keep flowing.
func (r *Router) cmdDelete(ctx context.Context, ev Event, actor workflow.Actor, t *models.Ticket) {
	if !workflow.CanPerform(actor, workflow.TransitionDelete, t) {
		r.sayError(ctx, ev.ChannelID, workflow.ErrUnauthorized)
		return
	}

	answer := r.confirms.Request(ev.ChannelID)
	r.say(ctx, ev.ChannelID, fmt.Sprintf("Delete ticket #%d and this channel? This cannot be undone. Reply `yes` or `no` within a minute.", t.ID))

	go func() {
		if !<-answer {
			r.say(ctx, ev.ChannelID, "Deletion cancelled.")
			return
		}
		if err := r.workflow.Delete(ctx, actor, t); err != nil {
			r.sayError(ctx, ev.ChannelID, err)
		}
	}()
}

// cmdRestore brings an archived ticket back by ID.
func (r *Router) cmdRestore(ctx context.Context, ev Event, actor workflow.Actor, rest []string) {
	if !actor.Staff {
		r.sayError(ctx, ev.ChannelID, workflow.ErrUnauthorized)
		return
	}
	if r.restorer == nil {
		r.say(ctx, ev.ChannelID, "Restore is not configured.")
		return
	}
	if len(rest) != 1 {
		r.say(ctx, ev.ChannelID, "Usage: `!wb restore <ticket id>`")
		return
	}
	id, err := strconv.ParseUint(rest[0], 10, 32)
	if err != nil {
		r.say(ctx, ev.ChannelID, fmt.Sprintf("%q is not a ticket ID.", rest[0]))
		return
	}

	t, err := r.restorer.Restore(ctx, uint(id))
	if err != nil {
		r.sayError(ctx, ev.ChannelID, err)
		return
	}
	r.say(ctx, ev.ChannelID, fmt.Sprintf("Ticket #%d restored: <#%s>", t.ID, t.ChannelID))
}

// cmdQueue shows staff the oldest unassigned tickets.
func (r *Router) cmdQueue(ctx context.Context, ev Event, actor workflow.Actor) {
	if !actor.Staff {
		r.sayError(ctx, ev.ChannelID, workflow.ErrUnauthorized)
		return
	}
	queue, err := store.UnassignedQueue(r.db, 10)
	if err != nil {
		log.Printf("bot: load unassigned queue: %v", err)
		return
	}
	if len(queue) == 0 {
		r.say(ctx, ev.ChannelID, "The queue is empty.")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Unassigned tickets (%d oldest):**\n", len(queue))
	for _, t := range queue {
		fmt.Fprintf(&b, "· #%d %s — %s (<#%s>)\n", t.ID, t.Title, t.Urgency, t.ChannelID)
	}
	r.say(ctx, ev.ChannelID, b.String())
}

// cmdMine shows staff the tickets assigned to them.
func (r *Router) cmdMine(ctx context.Context, ev Event, actor workflow.Actor) {
	if !actor.Staff {
		r.sayError(ctx, ev.ChannelID, workflow.ErrUnauthorized)
		return
	}
	assigned, err := store.AssignedTo(r.db, actor.ID)
	if err != nil {
		log.Printf("bot: load assigned tickets for %s: %v", actor.ID, err)
		return
	}
	if len(assigned) == 0 {
		r.say(ctx, ev.ChannelID, "Nothing is assigned to you.")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Your tickets (%d):**\n", len(assigned))
	for _, t := range assigned {
		fmt.Fprintf(&b, "· #%d %s — %s (<#%s>)\n", t.ID, t.Title, t.Urgency, t.ChannelID)
	}
	r.say(ctx, ev.ChannelID, b.String())
}

// cmdStatus shows the ticket's current state.
func (r *Router) cmdStatus(ctx context.Context, ev Event, t *models.Ticket) {
	embed := Embed{
		Title: fmt.Sprintf("Ticket #%d: %s", t.ID, orDash(t.Title)),
		Color: "#64748b",
		Fields: []Field{
			{Name: "Status", Value: string(t.Status), Inline: true},
			{Name: "Urgency", Value: orDash(t.Urgency), Inline: true},
			{Name: "Requester", Value: t.UserName, Inline: true},
			{Name: "Assigned", Value: orDash(t.AssignedTo), Inline: true},
		},
	}
	if t.Description != "" {
		embed.Description = t.Description
	}
	if _, err := r.platform.SendEmbed(ctx, ev.ChannelID, embed); err != nil {
		log.Printf("bot: send status card to channel %s: %v", ev.ChannelID, err)
	}
}

// cmdReset wipes the draft interview and starts over. The proposal card
// is forgotten too, so the next proposal posts fresh.
func (r *Router) cmdReset(ctx context.Context, ev Event) {
	ok, err := convo.Reset(r.db, ev.ChannelID)
	if err != nil {
		log.Printf("bot: reset conversation in channel %s: %v", ev.ChannelID, err)
		return
	}
	r.cardMu.Lock()
	delete(r.proposalCards, ev.ChannelID)
	r.cardMu.Unlock()
	if ok {
		r.say(ctx, ev.ChannelID, "Conversation reset. Tell me about your issue from the top.")
	} else {
		r.say(ctx, ev.ChannelID, "Nothing to reset.")
	}
}

func (r *Router) say(ctx context.Context, channelID, content string) {
	if err := r.platform.SendMessage(ctx, channelID, content); err != nil {
		log.Printf("bot: send to channel %s: %v", channelID, err)
	}
}

// sayError translates workflow errors into user-facing replies.
func (r *Router) sayError(ctx context.Context, channelID string, err error) {
	if errors.Is(err, workflow.ErrUnauthorized) {
		r.say(ctx, channelID, "You don't have permission to do that.")
		return
	}
	log.Printf("bot: command failed in channel %s: %v", channelID, err)
	r.say(ctx, channelID, "That didn't work: "+userFacing(err))
}

// userFacing strips the package prefix from an error for display.
func userFacing(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 && !strings.Contains(msg[:i], " ") {
		msg = msg[i+2:]
	}
	return msg
}

func parseYesNo(text string) (answer, ok bool) {
	switch strings.ToLower(text) {
	case "yes", "y":
		return true, true
	case "no", "n", "cancel":
		return false, true
	}
	return false, false
}

func sanitizeChannelName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '.':
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

const helpText = "**Waybill commands**\n" +
	"`!wb new` — open a ticket channel\n" +
	"`!wb submit` — file the drafted ticket\n" +
	"`!wb status` — show this ticket\n" +
	"`!wb reset` — restart the draft interview\n" +
	"`!wb close` — close this ticket\n" +
	"`!wb abandon` — close this ticket without ceremony\n" +
	"`!wb discard` — drop an unfiled draft\n" +
	"Staff: `!wb assign <@user|me|none>` · `!wb escalate [@user]` · `!wb return` · `!wb queue` · `!wb mine` · `!wb delete` · `!wb restore <id>`"
