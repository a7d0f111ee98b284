package models

import "time"

// Conversation statuses. At most one conversation per channel is active at
// a time; the invariant is enforced by the convo package, not the schema.
const (
	ConversationActive = "active"
	ConversationClosed = "closed"
)

// Message roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Conversation is one logical thread of dialogue between a requester and
// the assistant inside a ticket channel. Closing a ticket closes the
// conversation but keeps it for context; deletion is an explicit admin purge.
type Conversation struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ChannelID string `gorm:"size:32;index"`
	Topic     string `gorm:"size:64"`
	Status    string `gorm:"size:16;default:active;index"`
	CreatedAt time.Time
	ClosedAt  *time.Time

	Messages []ConversationMessage `gorm:"foreignKey:ConversationID"`
}

// ConversationMessage is a single role-tagged turn. History replay orders
// by CreatedAt ascending.
type ConversationMessage struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ConversationID uint   `gorm:"not null;index"`
	Role           string `gorm:"size:8;not null"`
	Content        string `gorm:"type:text;not null"`
	CreatedAt      time.Time
}
