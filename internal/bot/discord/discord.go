// Package discord implements the bot Platform for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/waybill/internal/archive"
	"github.com/zulandar/waybill/internal/bot"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// historyPageSize is the number of messages per page when reading a channel.
	historyPageSize = 100
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelFileSend(channelID, name string, r io.Reader, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error
	ChannelPermissionDelete(channelID, targetID string, options ...discordgo.RequestOption) error
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.Channel(channelID, options...)
}
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendEmbed(channelID, embed, options...)
}
func (r *realSession) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEditEmbed(channelID, messageID, embed, options...)
}
func (r *realSession) ChannelFileSend(channelID, name string, reader io.Reader, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelFileSend(channelID, name, reader, options...)
}
func (r *realSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	return r.s.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}
func (r *realSession) ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ChannelEditComplex(channelID, data, options...)
}
func (r *realSession) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ChannelDelete(channelID, options...)
}
func (r *realSession) ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error {
	return r.s.ChannelPermissionSet(channelID, targetID, targetType, allow, deny, options...)
}
func (r *realSession) ChannelPermissionDelete(channelID, targetID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelPermissionDelete(channelID, targetID, options...)
}
func (r *realSession) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return r.s.GuildChannels(guildID, options...)
}
func (r *realSession) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.GuildChannelCreateComplex(guildID, data, options...)
}

// Adapter implements bot.Platform for Discord via the Gateway WebSocket.
type Adapter struct {
	sess          session
	botToken      string
	guildID       string
	staffRoleIDs  []string
	mu            sync.Mutex
	botUserID     string
	connected     bool
	closed        bool
	inbound       chan bot.Event
	removeHandler func()
	categoryIDs   map[string]string // category name -> channel ID
	baseBackoff   time.Duration
	maxBackoff    time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	GuildID  string // guild the ticket desk lives in
	// StaffRoleIDs are granted access to private ticket channels.
	StaffRoleIDs []string
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.GuildID == "" {
		return nil, fmt.Errorf("discord: guild id is required")
	}

	a := &Adapter{
		botToken:     opts.BotToken,
		guildID:      opts.GuildID,
		staffRoleIDs: opts.StaffRoleIDs,
		inbound:      make(chan bot.Event, 100),
		categoryIDs:  make(map[string]string),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
	}

	if opts.Session != nil {
		a.sess = opts.Session
	}

	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	// Capture bot user ID on connect/reconnect for self-message filtering.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})

	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns a channel of inbound events from the guild. Registers a
// message handler on the Gateway session. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}

	a.removeHandler = a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	return a.inbound, nil
}

// handleMessage converts a Discord message event to a bot Event.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.GuildID != a.guildID {
		return
	}

	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID {
		return
	}

	var roles []string
	if m.Member != nil {
		roles = m.Member.Roles
	}
	ts, _ := discordgo.SnowflakeTimestamp(m.ID)

	a.inbound <- bot.Event{
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   m.Content,
		RoleIDs:   roles,
		Timestamp: ts,
	}
}

// SendMessage posts a plain message to a channel.
func (a *Adapter) SendMessage(ctx context.Context, channelID, content string) error {
	err := a.retryOnRateLimit(ctx, func() error {
		_, sendErr := a.sess.ChannelMessageSend(channelID, content)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// SendEmbed posts a rich card to a channel and returns the message ID.
func (a *Adapter) SendEmbed(ctx context.Context, channelID string, embed bot.Embed) (string, error) {
	var msg *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var sendErr error
		msg, sendErr = a.sess.ChannelMessageSendEmbed(channelID, toMessageEmbed(embed))
		return sendErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: send embed: %w", err)
	}
	return msg.ID, nil
}

// EditEmbed replaces the card on an existing message.
func (a *Adapter) EditEmbed(ctx context.Context, channelID, messageID string, embed bot.Embed) error {
	err := a.retryOnRateLimit(ctx, func() error {
		_, editErr := a.sess.ChannelMessageEditEmbed(channelID, messageID, toMessageEmbed(embed))
		return editErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit embed %s: %w", messageID, err)
	}
	return nil
}

// SendFile uploads a file to a channel.
func (a *Adapter) SendFile(ctx context.Context, channelID, filename string, r io.Reader) error {
	err := a.retryOnRateLimit(ctx, func() error {
		_, sendErr := a.sess.ChannelFileSend(channelID, filename, r)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send file: %w", err)
	}
	return nil
}

// CreateChannel creates a text channel under the named category and returns
// its ID. The category is created on demand. A non-empty forUser hides the
// channel from everyone except that user and the configured staff roles.
func (a *Adapter) CreateChannel(ctx context.Context, name, category, forUser string) (string, error) {
	parentID, err := a.ensureCategory(ctx, category)
	if err != nil {
		return "", err
	}

	var ch *discordgo.Channel
	err = a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.GuildChannelCreateComplex(a.guildID, discordgo.GuildChannelCreateData{
			Name:                 name,
			Type:                 discordgo.ChannelTypeGuildText,
			ParentID:             parentID,
			PermissionOverwrites: a.privateOverwrites(forUser),
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: create channel %s: %w", name, err)
	}
	return ch.ID, nil
}

// privateOverwrites builds the permission set for a private ticket channel:
// the @everyone role loses visibility, the requester and the staff roles get
// it back. The @everyone role ID equals the guild ID.
func (a *Adapter) privateOverwrites(forUser string) []*discordgo.PermissionOverwrite {
	if forUser == "" {
		return nil
	}
	view := int64(discordgo.PermissionViewChannel)
	write := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages)
	overwrites := []*discordgo.PermissionOverwrite{
		{ID: a.guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: view},
		{ID: forUser, Type: discordgo.PermissionOverwriteTypeMember, Allow: write},
	}
	for _, role := range a.staffRoleIDs {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID: role, Type: discordgo.PermissionOverwriteTypeRole, Allow: write,
		})
	}
	return overwrites
}

// SetUserWriteAccess grants or revokes one user's permission to post in a
// channel. Revoking keeps read access so a closed ticket stays visible to
// its requester.
func (a *Adapter) SetUserWriteAccess(ctx context.Context, channelID, userID string, canWrite bool) error {
	view := int64(discordgo.PermissionViewChannel)
	send := int64(discordgo.PermissionSendMessages)
	allow, deny := view|send, int64(0)
	if !canWrite {
		allow, deny = view, send
	}
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember, allow, deny)
	})
	if err != nil {
		return fmt.Errorf("discord: set write access for %s in channel %s: %w", userID, channelID, err)
	}
	return nil
}

// RemoveUserOverride drops a user's per-channel permission override.
func (a *Adapter) RemoveUserOverride(ctx context.Context, channelID, userID string) error {
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.ChannelPermissionDelete(channelID, userID)
	})
	if err != nil {
		return fmt.Errorf("discord: remove override for %s in channel %s: %w", userID, channelID, err)
	}
	return nil
}

// MoveToCategory re-parents a channel under the named category.
func (a *Adapter) MoveToCategory(ctx context.Context, channelID, category string) error {
	parentID, err := a.ensureCategory(ctx, category)
	if err != nil {
		return err
	}

	err = a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelEditComplex(channelID, &discordgo.ChannelEdit{ParentID: parentID})
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: move channel %s to %s: %w", channelID, category, err)
	}
	return nil
}

// DeleteChannel removes a channel from the guild.
func (a *Adapter) DeleteChannel(ctx context.Context, channelID string) error {
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelDelete(channelID)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: delete channel %s: %w", channelID, err)
	}
	return nil
}

// ChannelExists reports whether a channel is still reachable. A 404 or 403
// from the API means the channel is gone for our purposes.
func (a *Adapter) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	var found bool
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.Channel(channelID)
		if apiErr == nil {
			found = true
			return nil
		}
		if restErr, ok := apiErr.(*discordgo.RESTError); ok && restErr.Response != nil {
			code := restErr.Response.StatusCode
			if code == 404 || code == 403 {
				found = false
				return nil
			}
		}
		return apiErr
	})
	if err != nil {
		return false, fmt.Errorf("discord: check channel %s: %w", channelID, err)
	}
	return found, nil
}

// ChannelHistory reads the full message history of a channel, oldest first.
func (a *Adapter) ChannelHistory(ctx context.Context, channelID string) ([]archive.ChannelMessage, error) {
	var all []archive.ChannelMessage
	beforeID := ""

	for {
		var msgs []*discordgo.Message
		err := a.retryOnRateLimit(ctx, func() error {
			var apiErr error
			msgs, apiErr = a.sess.ChannelMessages(channelID, historyPageSize, beforeID, "", "")
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("discord: channel messages: %w", err)
		}
		if len(msgs) == 0 {
			break
		}

		// Discord returns newest first.
		for _, m := range msgs {
			all = append(all, toChannelMessage(m))
		}
		beforeID = msgs[len(msgs)-1].ID

		if len(msgs) < historyPageSize {
			break
		}
	}

	// Reverse into chronological order.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

// EnsureCategories creates any missing category channels up front.
func (a *Adapter) EnsureCategories(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := a.ensureCategory(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// ensureCategory resolves a category name to its channel ID, creating the
// category when the guild does not have it yet.
func (a *Adapter) ensureCategory(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", nil
	}

	a.mu.Lock()
	if id, ok := a.categoryIDs[name]; ok {
		a.mu.Unlock()
		return id, nil
	}
	a.mu.Unlock()

	var channels []*discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		channels, apiErr = a.sess.GuildChannels(a.guildID)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: list guild channels: %w", err)
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory && ch.Name == name {
			a.cacheCategory(name, ch.ID)
			return ch.ID, nil
		}
	}

	var created *discordgo.Channel
	err = a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		created, apiErr = a.sess.GuildChannelCreateComplex(a.guildID, discordgo.GuildChannelCreateData{
			Name: name,
			Type: discordgo.ChannelTypeGuildCategory,
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: create category %s: %w", name, err)
	}
	a.cacheCategory(name, created.ID)
	return created.ID, nil
}

func (a *Adapter) cacheCategory(name, id string) {
	a.mu.Lock()
	a.categoryIDs[name] = id
	a.mu.Unlock()
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.removeHandler != nil {
		a.removeHandler()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// toChannelMessage converts a Discord message to the archive history form.
func toChannelMessage(m *discordgo.Message) archive.ChannelMessage {
	msg := archive.ChannelMessage{
		ID:        m.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
	}
	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, archive.Attachment{
			ID:       att.ID,
			Filename: att.Filename,
			URL:      att.URL,
		})
	}
	return msg
}

// toMessageEmbed converts a bot Embed to a Discord embed.
func toMessageEmbed(embed bot.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       embed.Title,
		Description: embed.Description,
	}
	if embed.Color != "" {
		out.Color = parseHexColor(embed.Color)
	}
	for _, f := range embed.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return out
}

// parseHexColor converts a hex color string (e.g. "#3b82f6") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err // not a rate limit error
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
