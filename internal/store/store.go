// Package store provides ticket persistence operations.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/waybill/internal/models"
	"gorm.io/gorm"
)

// CreateDraftOpts holds parameters for opening a new draft ticket.
type CreateDraftOpts struct {
	ChannelID string
	GuildID   string
	UserID    string
	UserName  string
}

// Filter holds optional filters for listing tickets.
type Filter struct {
	Statuses []models.TicketStatus
	UserID   string
	Search   string // matches title, requester name or description, LIKE semantics
	Urgency  string
	SortDesc bool
	Limit    int
	Offset   int
}

// Stats summarizes the open workload for the staff dashboard.
type Stats struct {
	TotalOpen  int64
	Unassigned int64
	Urgent     int64
	Escalated  int64
}

// urgentKeywords are matched against the urgency field with LIKE. The field
// is free text written by the proposal engine, so "High", "9/10" and
// "Critical - prod down" all count.
var urgentKeywords = []string{"High", "Critical", "Urgent", "9", "10"}

// CreateDraft opens a new draft ticket bound to a channel.
func CreateDraft(db *gorm.DB, opts CreateDraftOpts) (*models.Ticket, error) {
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("store: channel ID is required")
	}
	if opts.UserID == "" {
		return nil, fmt.Errorf("store: user ID is required")
	}

	t := models.Ticket{
		ChannelID: opts.ChannelID,
		GuildID:   opts.GuildID,
		UserID:    opts.UserID,
		UserName:  opts.UserName,
		Status:    models.StatusDraft,
	}
	if err := db.Create(&t).Error; err != nil {
		return nil, fmt.Errorf("store: create draft for channel %s: %w", opts.ChannelID, err)
	}
	return &t, nil
}

// GetByID returns the ticket with the given ID.
func GetByID(db *gorm.DB, id uint) (*models.Ticket, error) {
	var t models.Ticket
	if err := db.Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("store: ticket not found: %d", id)
		}
		return nil, fmt.Errorf("store: get ticket %d: %w", id, err)
	}
	return &t, nil
}

// GetByChannel returns the ticket bound to a channel, or (nil, nil) when the
// channel has none. Every guild message triggers this lookup, so a miss is
// the normal case rather than an error.
func GetByChannel(db *gorm.DB, channelID string) (*models.Ticket, error) {
	var t models.Ticket
	err := db.Where("channel_id = ?", channelID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get ticket for channel %s: %w", channelID, err)
	}
	return &t, nil
}

// UpdateDetails sets the proposal fields on a ticket. A missing row is a
// quiet no-op: the draft may have been discarded mid-interview, and a late
// proposal has nowhere to land.
func UpdateDetails(db *gorm.DB, id uint, title, description, urgency string) error {
	res := db.Model(&models.Ticket{}).Where("id = ?", id).Updates(map[string]interface{}{
		"title":       title,
		"description": description,
		"urgency":     urgency,
	})
	if res.Error != nil {
		return fmt.Errorf("store: update details of ticket %d: %w", id, res.Error)
	}
	return nil
}

// SetStatus moves a ticket to the given status. Moving to closed stamps
// ClosedAt; every other status leaves the existing stamp untouched, so a
// restored ticket keeps the timestamp of its last closure.
func SetStatus(db *gorm.DB, id uint, status models.TicketStatus) error {
	updates := map[string]interface{}{"status": status}
	if status == models.StatusClosed {
		updates["closed_at"] = time.Now()
	}
	res := db.Model(&models.Ticket{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("store: set status of ticket %d to %s: %w", id, status, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: ticket not found: %d", id)
	}
	return nil
}

// SetAssignment records the staff member working a ticket. An empty userID
// returns the ticket to the unassigned queue.
func SetAssignment(db *gorm.DB, id uint, userID string) error {
	res := db.Model(&models.Ticket{}).Where("id = ?", id).Update("assigned_to", userID)
	if res.Error != nil {
		return fmt.Errorf("store: assign ticket %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: ticket not found: %d", id)
	}
	return nil
}

// SetIssueNumber records the tracker issue filed for an escalation.
func SetIssueNumber(db *gorm.DB, id uint, number int) error {
	res := db.Model(&models.Ticket{}).Where("id = ?", id).Update("issue_number", number)
	if res.Error != nil {
		return fmt.Errorf("store: set issue number of ticket %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: ticket not found: %d", id)
	}
	return nil
}

// SetArchivePath records where a ticket's transcript bundle lives without
// touching the status. Closing writes the bundle inline; the retention
// sweep flips the ticket to archived later via MarkArchived.
func SetArchivePath(db *gorm.DB, id uint, archivePath string) error {
	res := db.Model(&models.Ticket{}).Where("id = ?", id).Update("archive_path", archivePath)
	if res.Error != nil {
		return fmt.Errorf("store: set archive path of ticket %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: ticket not found: %d", id)
	}
	return nil
}

// Relink points a ticket at a fresh channel and reactivates it. Used on
// restore from archive; ClosedAt is deliberately left in place.
func Relink(db *gorm.DB, id uint, newChannelID string) error {
	res := db.Model(&models.Ticket{}).Where("id = ?", id).Updates(map[string]interface{}{
		"channel_id": newChannelID,
		"status":     models.StatusActive,
	})
	if res.Error != nil {
		return fmt.Errorf("store: relink ticket %d to channel %s: %w", id, newChannelID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: ticket not found: %d", id)
	}
	return nil
}

// MarkArchived records the bundle path and moves the ticket to archived.
// Calling it again for an already archived ticket is a no-op so a crashed
// sweep can be re-run safely.
func MarkArchived(db *gorm.DB, id uint, archivePath string) error {
	t, err := GetByID(db, id)
	if err != nil {
		return err
	}
	if t.Status == models.StatusArchived {
		return nil
	}
	res := db.Model(&models.Ticket{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       models.StatusArchived,
		"archive_path": archivePath,
	})
	if res.Error != nil {
		return fmt.Errorf("store: mark ticket %d archived: %w", id, res.Error)
	}
	return nil
}

// Delete removes a ticket row entirely. Lifecycle soft-deletion goes through
// SetStatus(StatusDeleted); this is the admin purge behind it.
func Delete(db *gorm.DB, id uint) error {
	res := db.Where("id = ?", id).Delete(&models.Ticket{})
	if res.Error != nil {
		return fmt.Errorf("store: delete ticket %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: ticket not found: %d", id)
	}
	return nil
}

// applyFilter builds the WHERE clause shared by ListFiltered's row and
// count queries.
func applyFilter(q *gorm.DB, f Filter) *gorm.DB {
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Urgency != "" {
		q = q.Where("urgency LIKE ?", "%"+f.Urgency+"%")
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		q = q.Where("title LIKE ? OR user_name LIKE ? OR description LIKE ?", like, like, like)
	}
	return q
}

// ListFiltered returns tickets matching the filter plus the total match
// count before Limit/Offset, for pagination.
func ListFiltered(db *gorm.DB, f Filter) ([]models.Ticket, int64, error) {
	var total int64
	if err := applyFilter(db.Model(&models.Ticket{}), f).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("store: count tickets: %w", err)
	}

	order := "created_at ASC"
	if f.SortDesc {
		order = "created_at DESC"
	}
	q := applyFilter(db.Model(&models.Ticket{}), f).Order(order)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var tickets []models.Ticket
	if err := q.Find(&tickets).Error; err != nil {
		return nil, 0, fmt.Errorf("store: list tickets: %w", err)
	}
	return tickets, total, nil
}

// UnassignedQueue returns open tickets with no assignee, oldest first.
func UnassignedQueue(db *gorm.DB, limit int) ([]models.Ticket, error) {
	q := db.Where("status IN ?", []models.TicketStatus{models.StatusActive, models.StatusEscalated}).
		Where("assigned_to = ?", "").
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var tickets []models.Ticket
	if err := q.Find(&tickets).Error; err != nil {
		return nil, fmt.Errorf("store: unassigned queue: %w", err)
	}
	return tickets, nil
}

// AssignedTo returns open tickets assigned to one staff member, oldest first.
func AssignedTo(db *gorm.DB, userID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := db.Where("status IN ?", []models.TicketStatus{models.StatusActive, models.StatusEscalated}).
		Where("assigned_to = ?", userID).
		Order("created_at ASC").
		Find(&tickets).Error
	if err != nil {
		return nil, fmt.Errorf("store: tickets assigned to %s: %w", userID, err)
	}
	return tickets, nil
}

// ClosedByRecency returns closed tickets ordered most recently closed first.
// The retention sweep walks this list to decide what falls off the end.
func ClosedByRecency(db *gorm.DB) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := db.Where("status = ?", models.StatusClosed).
		Order("closed_at DESC").
		Find(&tickets).Error
	if err != nil {
		return nil, fmt.Errorf("store: closed tickets: %w", err)
	}
	return tickets, nil
}

// GetStats returns the workload summary shown on the dashboard and in the
// intake panel. Escalated tickets count toward TotalOpen, Unassigned and
// Urgent alongside active ones: they are unresolved work that is merely
// blocked, and leaving them out would make the desk look idle while its
// hardest tickets pile up. Escalated reports them separately on top.
func GetStats(db *gorm.DB) (Stats, error) {
	var s Stats
	open := []models.TicketStatus{models.StatusActive, models.StatusEscalated}

	if err := db.Model(&models.Ticket{}).Where("status IN ?", open).Count(&s.TotalOpen).Error; err != nil {
		return s, fmt.Errorf("store: count open tickets: %w", err)
	}
	if err := db.Model(&models.Ticket{}).Where("status IN ?", open).
		Where("assigned_to = ?", "").Count(&s.Unassigned).Error; err != nil {
		return s, fmt.Errorf("store: count unassigned tickets: %w", err)
	}
	if err := db.Model(&models.Ticket{}).Where("status = ?", models.StatusEscalated).
		Count(&s.Escalated).Error; err != nil {
		return s, fmt.Errorf("store: count escalated tickets: %w", err)
	}

	urgentQ := db.Model(&models.Ticket{}).Where("status IN ?", open)
	clause := ""
	args := make([]interface{}, 0, len(urgentKeywords))
	for i, kw := range urgentKeywords {
		if i > 0 {
			clause += " OR "
		}
		clause += "urgency LIKE ?"
		args = append(args, "%"+kw+"%")
	}
	if err := urgentQ.Where(clause, args...).Count(&s.Urgent).Error; err != nil {
		return s, fmt.Errorf("store: count urgent tickets: %w", err)
	}
	return s, nil
}
