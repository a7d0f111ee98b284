// Package workflow enforces the ticket lifecycle and who may drive it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/convo"
	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/store"
	"gorm.io/gorm"
)

// Transition names a lifecycle operation for authorization checks.
type Transition string

const (
	TransitionSubmit   Transition = "submit"
	TransitionAssign   Transition = "assign"
	TransitionEscalate Transition = "escalate"
	TransitionReturn   Transition = "return"
	TransitionClose    Transition = "close"
	TransitionAbandon  Transition = "abandon"
	TransitionDiscard  Transition = "discard"
	TransitionDelete   Transition = "delete"
	TransitionRestore  Transition = "restore"
)

// staffOnly lists transitions the requester may not drive on their own
// ticket. Everything else is permitted to the ticket owner or staff.
var staffOnly = map[Transition]bool{
	TransitionAssign:   true,
	TransitionEscalate: true,
	TransitionReturn:   true,
	TransitionDelete:   true,
	TransitionRestore:  true,
}

// Actor is whoever is attempting a transition.
type Actor struct {
	ID    string
	Name  string
	Staff bool
}

// ErrUnauthorized is returned when the actor may not drive the transition.
var ErrUnauthorized = errors.New("workflow: not authorized")

// CanPerform reports whether the actor may drive the transition on the
// ticket.
func CanPerform(actor Actor, tr Transition, t *models.Ticket) bool {
	if actor.Staff {
		return true
	}
	if staffOnly[tr] {
		return false
	}
	return t != nil && t.UserID == actor.ID
}

// Containers is the slice of the chat platform the lifecycle needs: moving
// a ticket channel between category groupings, deleting it, and adjusting
// per-user channel permissions.
type Containers interface {
	MoveToCategory(ctx context.Context, channelID, category string) error
	DeleteChannel(ctx context.Context, channelID string) error
	SetUserWriteAccess(ctx context.Context, channelID, userID string, canWrite bool) error
	RemoveUserOverride(ctx context.Context, channelID, userID string) error
}

// Bundler writes a ticket's transcript bundle to disk and returns the
// bundle path. Closing a ticket bundles it right away, so the transcript
// survives even if the channel disappears before the retention sweep.
type Bundler interface {
	Archive(ctx context.Context, t *models.Ticket) (string, error)
}

// Notifier receives staff-facing lifecycle events. Implementations must not
// block the transition; failures are logged and swallowed.
type Notifier interface {
	TicketEscalated(ctx context.Context, t *models.Ticket) error
	TicketSubmitted(ctx context.Context, t *models.Ticket) error
}

// Engine applies lifecycle transitions: it validates the state change,
// persists it, and keeps the channel layout in step.
type Engine struct {
	db         *gorm.DB
	containers Containers
	categories config.Categories
	notifier   Notifier
	bundler    Bundler
}

// EngineOpts holds parameters for creating a workflow Engine.
type EngineOpts struct {
	DB         *gorm.DB
	Containers Containers
	Categories config.Categories
	// Optional; nil disables staff notifications.
	Notifier Notifier
	// Optional; nil skips the transcript bundle on close.
	Bundler Bundler
}

// NewEngine creates a workflow engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("workflow: db is required")
	}
	if opts.Containers == nil {
		return nil, fmt.Errorf("workflow: containers are required")
	}
	return &Engine{
		db:         opts.DB,
		containers: opts.Containers,
		categories: opts.Categories,
		notifier:   opts.Notifier,
		bundler:    opts.Bundler,
	}, nil
}

// Submit files a draft as an active ticket and moves its channel into the
// active grouping. The draft must already carry proposal details.
func (e *Engine) Submit(ctx context.Context, actor Actor, t *models.Ticket) error {
	if !CanPerform(actor, TransitionSubmit, t) {
		return ErrUnauthorized
	}
	if t.Status != models.StatusDraft {
		return fmt.Errorf("workflow: submit ticket %d: status is %s, want draft", t.ID, t.Status)
	}
	if t.Title == "" {
		return fmt.Errorf("workflow: submit ticket %d: no proposal on the draft yet", t.ID)
	}

	if err := store.SetStatus(e.db, t.ID, models.StatusActive); err != nil {
		return err
	}
	e.moveChannel(ctx, t.ChannelID, e.categories.Active)
	e.notify(ctx, func(n Notifier) error { return n.TicketSubmitted(ctx, t) })
	return nil
}

// Assign hands a ticket to a staff member. An empty assignee returns it to
// the unassigned queue.
func (e *Engine) Assign(ctx context.Context, actor Actor, t *models.Ticket, assignee string) error {
	if !CanPerform(actor, TransitionAssign, t) {
		return ErrUnauthorized
	}
	if !t.Status.Open() {
		return fmt.Errorf("workflow: assign ticket %d: status is %s, want an open status", t.ID, t.Status)
	}
	return store.SetAssignment(e.db, t.ID, assignee)
}

// Escalate flags an active ticket as blocked, hands it to the named staff
// member, and moves its channel into the escalated grouping. An empty
// assignee escalates without changing who holds the ticket.
func (e *Engine) Escalate(ctx context.Context, actor Actor, t *models.Ticket, assignee string) error {
	if !CanPerform(actor, TransitionEscalate, t) {
		return ErrUnauthorized
	}
	if t.Status != models.StatusActive {
		return fmt.Errorf("workflow: escalate ticket %d: status is %s, want active", t.ID, t.Status)
	}

	if err := store.SetStatus(e.db, t.ID, models.StatusEscalated); err != nil {
		return err
	}
	if assignee != "" {
		if err := store.SetAssignment(e.db, t.ID, assignee); err != nil {
			return err
		}
		t.AssignedTo = assignee
		// The assignee gets an override so they can see the private channel.
		if err := e.containers.SetUserWriteAccess(ctx, t.ChannelID, assignee, true); err != nil {
			log.Printf("workflow: grant channel access to %s for ticket %d: %v", assignee, t.ID, err)
		}
	}
	e.moveChannel(ctx, t.ChannelID, e.categories.Escalated)
	e.notify(ctx, func(n Notifier) error { return n.TicketEscalated(ctx, t) })
	return nil
}

// ReturnToQueue sends an open ticket back to the unassigned active pool.
// The previous assignee's channel override goes with it.
func (e *Engine) ReturnToQueue(ctx context.Context, actor Actor, t *models.Ticket) error {
	if !CanPerform(actor, TransitionReturn, t) {
		return ErrUnauthorized
	}
	if !t.Status.Open() {
		return fmt.Errorf("workflow: return ticket %d: status is %s, want an open status", t.ID, t.Status)
	}

	if err := store.SetStatus(e.db, t.ID, models.StatusActive); err != nil {
		return err
	}
	if prev := t.AssignedTo; prev != "" {
		if err := e.containers.RemoveUserOverride(ctx, t.ChannelID, prev); err != nil {
			log.Printf("workflow: remove channel override of %s for ticket %d: %v", prev, t.ID, err)
		}
	}
	if err := store.SetAssignment(e.db, t.ID, ""); err != nil {
		return err
	}
	e.moveChannel(ctx, t.ChannelID, e.categories.Active)
	return nil
}

// Close resolves an open ticket.
func (e *Engine) Close(ctx context.Context, actor Actor, t *models.Ticket) error {
	if !CanPerform(actor, TransitionClose, t) {
		return ErrUnauthorized
	}
	if !t.Status.Open() {
		return fmt.Errorf("workflow: close ticket %d: status is %s, want an open status", t.ID, t.Status)
	}
	return e.closeOut(ctx, t)
}

// Abandon closes an open ticket the requester walked away from. Same path
// as Close; the router just skips the resolution message.
func (e *Engine) Abandon(ctx context.Context, actor Actor, t *models.Ticket) error {
	if !CanPerform(actor, TransitionAbandon, t) {
		return ErrUnauthorized
	}
	if !t.Status.Open() {
		return fmt.Errorf("workflow: abandon ticket %d: status is %s, want an open status", t.ID, t.Status)
	}
	return e.closeOut(ctx, t)
}

// closeOut performs the shared closure work: stamp the closure, end the
// conversation, write the transcript bundle right away, lock the requester
// out of posting, and park the channel in the archives grouping until the
// retention sweep retires it.
func (e *Engine) closeOut(ctx context.Context, t *models.Ticket) error {
	if err := store.SetStatus(e.db, t.ID, models.StatusClosed); err != nil {
		return err
	}
	if err := convo.Close(e.db, t.ChannelID); err != nil {
		log.Printf("workflow: close conversation for ticket %d: %v", t.ID, err)
	}
	e.bundle(ctx, t.ID)
	if t.UserID != "" {
		if err := e.containers.SetUserWriteAccess(ctx, t.ChannelID, t.UserID, false); err != nil {
			log.Printf("workflow: lock channel %s for ticket %d: %v", t.ChannelID, t.ID, err)
		}
	}
	e.moveChannel(ctx, t.ChannelID, e.categories.Archives)
	return nil
}

// bundle writes the transcript bundle for a just-closed ticket. Best
// effort: the closure is committed and the retention sweep re-bundles
// anything that failed here.
func (e *Engine) bundle(ctx context.Context, id uint) {
	if e.bundler == nil {
		return
	}
	fresh, err := store.GetByID(e.db, id)
	if err != nil {
		log.Printf("workflow: reload ticket %d for bundling: %v", id, err)
		return
	}
	rel, err := e.bundler.Archive(ctx, fresh)
	if rel == "" {
		log.Printf("workflow: bundle ticket %d: %v", id, err)
		return
	}
	if err != nil {
		log.Printf("workflow: ticket %d bundled with warning: %v", id, err)
	}
	if err := store.SetArchivePath(e.db, id, rel); err != nil {
		log.Printf("workflow: record bundle path of ticket %d: %v", id, err)
	}
}

// Discard drops a draft without trace: the ticket is tombstoned, the
// conversation purged, the channel deleted.
func (e *Engine) Discard(ctx context.Context, actor Actor, t *models.Ticket) error {
	if !CanPerform(actor, TransitionDiscard, t) {
		return ErrUnauthorized
	}
	if t.Status != models.StatusDraft {
		return fmt.Errorf("workflow: discard ticket %d: status is %s, want draft", t.ID, t.Status)
	}

	if err := store.SetStatus(e.db, t.ID, models.StatusDeleted); err != nil {
		return err
	}
	if err := convo.Purge(e.db, t.ChannelID); err != nil {
		log.Printf("workflow: purge conversation for ticket %d: %v", t.ID, err)
	}
	e.deleteChannel(ctx, t.ChannelID)
	return nil
}

// Delete tombstones any ticket and removes its channel. Callers gate this
// behind an explicit confirmation; the engine only checks authority.
func (e *Engine) Delete(ctx context.Context, actor Actor, t *models.Ticket) error {
	if !CanPerform(actor, TransitionDelete, t) {
		return ErrUnauthorized
	}
	if t.Status == models.StatusDeleted {
		return fmt.Errorf("workflow: ticket %d is already deleted", t.ID)
	}

	if err := store.SetStatus(e.db, t.ID, models.StatusDeleted); err != nil {
		return err
	}
	if err := convo.Purge(e.db, t.ChannelID); err != nil {
		log.Printf("workflow: purge conversation for ticket %d: %v", t.ID, err)
	}
	e.deleteChannel(ctx, t.ChannelID)
	return nil
}

// moveChannel best-effort moves a channel; the database is the source of
// truth and a failed move must not roll back a committed transition.
func (e *Engine) moveChannel(ctx context.Context, channelID, category string) {
	if channelID == "" || category == "" {
		return
	}
	if err := e.containers.MoveToCategory(ctx, channelID, category); err != nil {
		log.Printf("workflow: move channel %s to %q: %v", channelID, category, err)
	}
}

func (e *Engine) deleteChannel(ctx context.Context, channelID string) {
	if channelID == "" {
		return
	}
	if err := e.containers.DeleteChannel(ctx, channelID); err != nil {
		log.Printf("workflow: delete channel %s: %v", channelID, err)
	}
}

func (e *Engine) notify(ctx context.Context, fn func(Notifier) error) {
	if e.notifier == nil {
		return
	}
	if err := fn(e.notifier); err != nil {
		log.Printf("workflow: notify: %v", err)
	}
}
