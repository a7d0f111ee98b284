package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/waybill/internal/models"
	"gorm.io/gorm"
)

// escalationEvent holds data for an escalation SSE event.
type escalationEvent struct {
	ID        uint   `json:"id"`
	Title     string `json:"title"`
	Urgency   string `json:"urgency"`
	Requester string `json:"requester"`
	Count     int64  `json:"count"`
}

// handleSSE creates an SSE handler that polls for newly escalated tickets.
func handleSSE(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		if db == nil {
			return
		}

		// Only alert on tickets escalated after the client connected.
		var lastSeenID uint
		var latest models.Ticket
		if err := db.Where("status = ?", models.StatusEscalated).
			Order("id DESC").Limit(1).First(&latest).Error; err == nil {
			lastSeenID = latest.ID
		}

		ctx := c.Request.Context()
		ticker := time.NewTicker(3 * time.Second)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				var escalated []models.Ticket
				db.Where("status = ? AND id > ?", models.StatusEscalated, lastSeenID).
					Order("id ASC").
					Find(&escalated)
				if len(escalated) == 0 {
					continue
				}
				lastSeenID = escalated[len(escalated)-1].ID

				var count int64
				db.Model(&models.Ticket{}).
					Where("status = ?", models.StatusEscalated).
					Count(&count)

				newest := escalated[len(escalated)-1]
				writeSSE(c.Writer, "escalation", escalationEvent{
					ID:        newest.ID,
					Title:     newest.Title,
					Urgency:   newest.Urgency,
					Requester: newest.UserName,
					Count:     count,
				})
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
