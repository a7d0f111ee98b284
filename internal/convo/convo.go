// Package convo maintains the per-channel conversation log that feeds the
// proposal engine.
package convo

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zulandar/waybill/internal/models"
	"gorm.io/gorm"
)

// topicRunes is how much of the opening message becomes the conversation
// topic before truncation.
const topicRunes = 30

// DeriveTopic builds a short topic label from the opening message.
func DeriveTopic(firstMessage string) string {
	s := strings.TrimSpace(firstMessage)
	if s == "" {
		return "New Conversation"
	}
	r := []rune(s)
	if len(r) <= topicRunes {
		return s
	}
	return string(r[:topicRunes]) + "..."
}

// Active returns the channel's active conversation, or (nil, nil) when the
// channel has none.
func Active(db *gorm.DB, channelID string) (*models.Conversation, error) {
	var c models.Conversation
	err := db.Where("channel_id = ? AND status = ?", channelID, models.ConversationActive).
		Order("created_at DESC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("convo: get active conversation for channel %s: %w", channelID, err)
	}
	return &c, nil
}

// GetOrCreate returns the channel's active conversation, starting one with a
// topic derived from firstMessage when none exists.
func GetOrCreate(db *gorm.DB, channelID, firstMessage string) (*models.Conversation, error) {
	c, err := Active(db, channelID)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}

	fresh := models.Conversation{
		ChannelID: channelID,
		Topic:     DeriveTopic(firstMessage),
		Status:    models.ConversationActive,
	}
	if err := db.Create(&fresh).Error; err != nil {
		return nil, fmt.Errorf("convo: create conversation for channel %s: %w", channelID, err)
	}
	return &fresh, nil
}

// AddUserMessage appends a requester turn, starting a conversation if the
// channel has none.
func AddUserMessage(db *gorm.DB, channelID, content string) error {
	c, err := GetOrCreate(db, channelID, content)
	if err != nil {
		return err
	}
	return addMessage(db, c.ID, models.RoleUser, content)
}

// AddBotMessage appends an assistant turn to the active conversation. A bot
// turn with no active conversation means the reply raced a reset or close;
// it is logged and dropped rather than resurrecting the thread.
func AddBotMessage(db *gorm.DB, channelID, content string) error {
	c, err := Active(db, channelID)
	if err != nil {
		return err
	}
	if c == nil {
		log.Printf("convo: dropping bot message for channel %s: no active conversation", channelID)
		return nil
	}
	return addMessage(db, c.ID, models.RoleModel, content)
}

func addMessage(db *gorm.DB, conversationID uint, role, content string) error {
	m := models.ConversationMessage{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	if err := db.Create(&m).Error; err != nil {
		return fmt.Errorf("convo: append %s message to conversation %d: %w", role, conversationID, err)
	}
	return nil
}

// History returns the last limit turns of the active conversation, oldest
// first, each formatted as "User: ..." or "Bot: ...". A channel with no
// active conversation yields an empty slice.
func History(db *gorm.DB, channelID string, limit int) ([]string, error) {
	c, err := Active(db, channelID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}

	q := db.Where("conversation_id = ?", c.ID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var msgs []models.ConversationMessage
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("convo: load history for channel %s: %w", channelID, err)
	}

	// Reverse back to chronological order.
	lines := make([]string, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		prefix := "User"
		if msgs[i].Role == models.RoleModel {
			prefix = "Bot"
		}
		lines = append(lines, prefix+": "+msgs[i].Content)
	}
	return lines, nil
}

// Reset closes the channel's active conversation so the next message starts
// a fresh one. Returns whether there was a conversation to reset.
func Reset(db *gorm.DB, channelID string) (bool, error) {
	c, err := Active(db, channelID)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}
	err = db.Model(&models.Conversation{}).Where("id = ?", c.ID).
		Updates(map[string]interface{}{
			"status":    models.ConversationClosed,
			"closed_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}).Error
	if err != nil {
		return false, fmt.Errorf("convo: reset conversation for channel %s: %w", channelID, err)
	}
	return true, nil
}

// Close closes the channel's active conversation when the ticket itself is
// closed. Closing an already quiet channel is a no-op.
func Close(db *gorm.DB, channelID string) error {
	_, err := Reset(db, channelID)
	return err
}

// Purge removes every conversation and message for a channel. Used when a
// ticket is deleted outright.
func Purge(db *gorm.DB, channelID string) error {
	var convs []models.Conversation
	if err := db.Where("channel_id = ?", channelID).Find(&convs).Error; err != nil {
		return fmt.Errorf("convo: load conversations for channel %s: %w", channelID, err)
	}
	for _, c := range convs {
		if err := db.Where("conversation_id = ?", c.ID).
			Delete(&models.ConversationMessage{}).Error; err != nil {
			return fmt.Errorf("convo: purge messages of conversation %d: %w", c.ID, err)
		}
	}
	if err := db.Where("channel_id = ?", channelID).
		Delete(&models.Conversation{}).Error; err != nil {
		return fmt.Errorf("convo: purge conversations for channel %s: %w", channelID, err)
	}
	return nil
}
