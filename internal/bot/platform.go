// Package bot runs the ticket desk: it listens to the chat platform,
// routes commands and draft conversations, and keeps the guild's channel
// layout in step with the ticket store.
package bot

import (
	"context"
	"io"
	"time"

	"github.com/zulandar/waybill/internal/archive"
)

// Event is a single inbound message from the chat platform.
type Event struct {
	ChannelID string
	GuildID   string
	UserID    string
	UserName  string
	Content   string
	RoleIDs   []string // guild roles of the author, for staff checks
	Timestamp time.Time
}

// Field is a key-value pair displayed in an embed.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a structured card sent to a channel.
type Embed struct {
	Title       string
	Description string
	Color       string // hex, e.g. "#36a64f"
	Fields      []Field
}

// Platform is the interface a chat backend must satisfy. It deliberately
// covers the union of what the router, workflow, archiver and restorer
// need, so one adapter serves all of them.
type Platform interface {
	// Connect establishes the connection to the platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events. The channel closes when
	// the context is cancelled or the platform is closed. Must be called
	// after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// SendMessage posts plain text to a channel.
	SendMessage(ctx context.Context, channelID, content string) error

	// SendEmbed posts a structured card to a channel and returns the
	// message ID so the card can be edited later.
	SendEmbed(ctx context.Context, channelID string, embed Embed) (string, error)

	// EditEmbed replaces the card on an existing message in place.
	EditEmbed(ctx context.Context, channelID, messageID string, embed Embed) error

	// SendFile uploads a file to a channel.
	SendFile(ctx context.Context, channelID, filename string, r io.Reader) error

	// CreateChannel creates a text channel under the named category and
	// returns its ID. A non-empty forUser makes the channel private: only
	// that user and staff can see it.
	CreateChannel(ctx context.Context, name, category, forUser string) (string, error)

	// MoveToCategory reparents a channel under the named category.
	MoveToCategory(ctx context.Context, channelID, category string) error

	// DeleteChannel removes a channel.
	DeleteChannel(ctx context.Context, channelID string) error

	// ChannelExists reports whether a channel still exists.
	ChannelExists(ctx context.Context, channelID string) (bool, error)

	// ChannelHistory returns a channel's full message history, oldest
	// first, for transcript bundling.
	ChannelHistory(ctx context.Context, channelID string) ([]archive.ChannelMessage, error)

	// SetUserWriteAccess grants or revokes one user's permission to post
	// in a channel. The user keeps read access either way.
	SetUserWriteAccess(ctx context.Context, channelID, userID string, canWrite bool) error

	// RemoveUserOverride drops a user's per-channel permission override,
	// returning them to whatever their roles grant.
	RemoveUserOverride(ctx context.Context, channelID, userID string) error

	// EnsureCategories creates any missing category groupings.
	EnsureCategories(ctx context.Context, names []string) error

	// Close gracefully shuts down the connection.
	Close() error
}
