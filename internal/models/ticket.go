package models

import (
	"fmt"
	"time"
)

// TicketStatus is the closed set of lifecycle states a ticket can be in.
// Statuses are parsed at the store boundary; unknown strings coming out of
// the database are surfaced as errors rather than propagated.
type TicketStatus string

const (
	StatusDraft     TicketStatus = "draft"
	StatusActive    TicketStatus = "active"
	StatusEscalated TicketStatus = "escalated"
	StatusClosed    TicketStatus = "closed"
	StatusArchived  TicketStatus = "archived"
	StatusDeleted   TicketStatus = "deleted"
)

// ParseTicketStatus validates a raw status string from storage or input.
func ParseTicketStatus(s string) (TicketStatus, error) {
	switch TicketStatus(s) {
	case StatusDraft, StatusActive, StatusEscalated, StatusClosed, StatusArchived, StatusDeleted:
		return TicketStatus(s), nil
	}
	return "", fmt.Errorf("models: unknown ticket status %q", s)
}

// Open reports whether the status represents a ticket staff still works on.
func (s TicketStatus) Open() bool {
	return s == StatusActive || s == StatusEscalated
}

// Ticket is the core work item in Waybill: one requester's issue tracked
// from draft interview through archival. The Discord channel standing in
// for the ticket is referenced by ChannelID; it changes when a ticket is
// restored from archive into a fresh channel.
type Ticket struct {
	ID          uint         `gorm:"primaryKey;autoIncrement"`
	ChannelID   string       `gorm:"size:32;index"`
	GuildID     string       `gorm:"size:32"`
	UserID      string       `gorm:"size:32;index"`
	UserName    string       `gorm:"size:64"`
	Status      TicketStatus `gorm:"size:16;default:draft;index"`
	Title       string       `gorm:"size:256"`
	Description string       `gorm:"type:text"`
	Urgency     string       `gorm:"size:64"`
	AssignedTo  string       `gorm:"size:32"`
	IssueNumber int          // escalation issue in the tracker, 0 when none
	ArchivePath string       `gorm:"size:512"`
	CreatedAt   time.Time
	ClosedAt    *time.Time
}
