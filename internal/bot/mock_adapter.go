package bot

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/zulandar/waybill/internal/archive"
)

// MockPlatform implements Platform for testing. It records everything sent
// and created, and lets tests feed inbound events via SimulateInbound.
type MockPlatform struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan Event

	sent        []sentMessage
	embeds      map[string][]embedMessage
	files       map[string][]string
	created     []createdChannel
	moves       map[string]string
	deleted     []string
	categories  []string
	history     map[string][]archive.ChannelMessage
	writeAccess map[string]bool // "channel:user" -> canWrite
	removed     []string        // "channel:user" override removals
	nextChanID  int
	nextMsgID   int
}

type sentMessage struct {
	ChannelID string
	Content   string
}

type embedMessage struct {
	ID    string
	Embed Embed
}

type createdChannel struct {
	ID       string
	Name     string
	Category string
	ForUser  string
}

// NewMockPlatform creates a MockPlatform with a buffered inbound channel.
func NewMockPlatform() *MockPlatform {
	return &MockPlatform{
		inbound:     make(chan Event, 100),
		embeds:      make(map[string][]embedMessage),
		files:       make(map[string][]string),
		moves:       make(map[string]string),
		history:     make(map[string][]archive.ChannelMessage),
		writeAccess: make(map[string]bool),
	}
}

// Connect marks the platform as connected.
func (m *MockPlatform) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock platform: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockPlatform) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock platform: not connected")
	}
	return m.inbound, nil
}

// SimulateInbound feeds an event as if it arrived from the platform.
func (m *MockPlatform) SimulateInbound(ev Event) {
	m.inbound <- ev
}

// SendMessage records the outbound message.
func (m *MockPlatform) SendMessage(_ context.Context, channelID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{ChannelID: channelID, Content: content})
	return nil
}

// SendEmbed records the outbound embed and returns a synthetic message ID.
func (m *MockPlatform) SendEmbed(_ context.Context, channelID string, embed Embed) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMsgID++
	id := fmt.Sprintf("mock-msg-%d", m.nextMsgID)
	m.embeds[channelID] = append(m.embeds[channelID], embedMessage{ID: id, Embed: embed})
	return id, nil
}

// EditEmbed replaces a recorded embed in place.
func (m *MockPlatform) EditEmbed(_ context.Context, channelID, messageID string, embed Embed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, em := range m.embeds[channelID] {
		if em.ID == messageID {
			m.embeds[channelID][i].Embed = embed
			return nil
		}
	}
	return fmt.Errorf("mock platform: no embed message %s in channel %s", messageID, channelID)
}

// SendFile records the uploaded filename.
func (m *MockPlatform) SendFile(_ context.Context, channelID, filename string, _ io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[channelID] = append(m.files[channelID], filename)
	return nil
}

// CreateChannel records the request and returns a synthetic channel ID.
func (m *MockPlatform) CreateChannel(_ context.Context, name, category, forUser string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChanID++
	id := fmt.Sprintf("mock-chan-%d", m.nextChanID)
	m.created = append(m.created, createdChannel{ID: id, Name: name, Category: category, ForUser: forUser})
	return id, nil
}

// SetUserWriteAccess records the permission change.
func (m *MockPlatform) SetUserWriteAccess(_ context.Context, channelID, userID string, canWrite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeAccess[channelID+":"+userID] = canWrite
	return nil
}

// RemoveUserOverride records the override removal.
func (m *MockPlatform) RemoveUserOverride(_ context.Context, channelID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.writeAccess, channelID+":"+userID)
	m.removed = append(m.removed, channelID+":"+userID)
	return nil
}

// MoveToCategory records the move.
func (m *MockPlatform) MoveToCategory(_ context.Context, channelID, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves[channelID] = category
	return nil
}

// DeleteChannel records the deletion.
func (m *MockPlatform) DeleteChannel(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, channelID)
	return nil
}

// ChannelExists reports whether history was configured for the channel and
// it has not been deleted.
func (m *MockPlatform) ChannelExists(_ context.Context, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deleted {
		if d == channelID {
			return false, nil
		}
	}
	_, ok := m.history[channelID]
	return ok, nil
}

// ChannelHistory returns pre-configured history for a channel.
func (m *MockPlatform) ChannelHistory(_ context.Context, channelID string) ([]archive.ChannelMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history[channelID], nil
}

// SetChannelHistory seeds history for ChannelExists/ChannelHistory.
func (m *MockPlatform) SetChannelHistory(channelID string, msgs []archive.ChannelMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[channelID] = msgs
}

// EnsureCategories records the requested category names.
func (m *MockPlatform) EnsureCategories(_ context.Context, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories = append(m.categories, names...)
	return nil
}

// Close shuts down the mock and closes the inbound channel.
func (m *MockPlatform) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// LastSent returns the most recent plain message, or nil.
func (m *MockPlatform) LastSent() *sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	msg := m.sent[len(m.sent)-1]
	return &msg
}

// AllSent returns a copy of every plain message sent.
func (m *MockPlatform) AllSent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the plain messages sent to one channel.
func (m *MockPlatform) SentTo(channelID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.ChannelID == channelID {
			out = append(out, s.Content)
		}
	}
	return out
}

// EmbedsTo returns the current embeds in one channel, edits applied.
func (m *MockPlatform) EmbedsTo(channelID string) []Embed {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Embed, 0, len(m.embeds[channelID]))
	for _, em := range m.embeds[channelID] {
		out = append(out, em.Embed)
	}
	return out
}

// WriteAccess reports the last recorded write access for a user in a
// channel. ok is false when no override was ever set or it was removed.
func (m *MockPlatform) WriteAccess(channelID, userID string) (canWrite, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	canWrite, ok = m.writeAccess[channelID+":"+userID]
	return canWrite, ok
}

// OverrideRemoved reports whether a user's override was removed.
func (m *MockPlatform) OverrideRemoved(channelID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range m.removed {
		if key == channelID+":"+userID {
			return true
		}
	}
	return false
}

// CreatedChannels returns every channel created.
func (m *MockPlatform) CreatedChannels() []createdChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]createdChannel, len(m.created))
	copy(out, m.created)
	return out
}

// MovedTo returns the category a channel was last moved to.
func (m *MockPlatform) MovedTo(channelID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moves[channelID]
}

// Deleted returns every deleted channel ID.
func (m *MockPlatform) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.deleted))
	copy(out, m.deleted)
	return out
}
