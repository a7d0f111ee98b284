package dashboard

import (
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/waybill/internal/archive"
	"github.com/zulandar/waybill/internal/convo"
	"github.com/zulandar/waybill/internal/store"
	"gorm.io/gorm"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, archiveRoot string) {
	// Embedded static assets (served from assets/ subdir of the embed.FS).
	staticFS, _ := fs.Sub(assetsFS, "assets")
	router.StaticFS("/static", http.FS(staticFS))

	// Pages.
	router.GET("/", handleOverview(db))
	router.GET("/tickets", handleTicketList(db))
	router.GET("/tickets/:id", handleTicketDetail(db))
	router.GET("/archives", handleArchives(db))
	router.GET("/archives/:id/transcript", handleTranscript(db, archiveRoot))
	router.GET("/archives/:id/transcript.html", handleTranscriptHTML(db, archiveRoot))

	// JSON API.
	router.GET("/api/stats", handleStats(db))
	router.GET("/api/events", handleSSE(db))
}

func handleOverview(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := LoadOverview(db)
		if err != nil {
			c.String(http.StatusInternalServerError, "load overview: %v", err)
			return
		}
		c.HTML(http.StatusOK, "overview.html", data)
	}
}

func handleTicketList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.Query("page"))
		data, err := TicketList(db, c.Query("status"), c.Query("q"), c.Query("urgency"), page)
		if err != nil {
			c.String(http.StatusBadRequest, "list tickets: %v", err)
			return
		}
		c.HTML(http.StatusOK, "tickets.html", data)
	}
}

func handleTicketDetail(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.String(http.StatusBadRequest, "bad ticket id")
			return
		}
		t, err := store.GetByID(db, uint(id))
		if err != nil {
			c.String(http.StatusNotFound, "ticket not found")
			return
		}
		history, err := convo.History(db, t.ChannelID, 0)
		if err != nil {
			c.String(http.StatusInternalServerError, "load conversation: %v", err)
			return
		}
		c.HTML(http.StatusOK, "ticket.html", gin.H{
			"Ticket":  toRow(*t),
			"Detail":  t.Description,
			"History": history,
		})
	}
}

func handleArchives(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := ArchiveList(db)
		if err != nil {
			c.String(http.StatusInternalServerError, "list archives: %v", err)
			return
		}
		c.HTML(http.StatusOK, "archives.html", gin.H{"Archives": rows})
	}
}

// handleTranscript serves the archived transcript bundle as JSON.
func handleTranscript(db *gorm.DB, archiveRoot string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.String(http.StatusBadRequest, "bad ticket id")
			return
		}
		t, err := store.GetByID(db, uint(id))
		if err != nil || t.ArchivePath == "" {
			c.String(http.StatusNotFound, "no transcript for ticket")
			return
		}
		transcript, err := archive.ReadTranscript(archiveRoot, t.ArchivePath)
		if err != nil {
			c.String(http.StatusNotFound, "read transcript: %v", err)
			return
		}
		c.JSON(http.StatusOK, transcript)
	}
}

// handleTranscriptHTML serves the rendered transcript page from the bundle.
func handleTranscriptHTML(db *gorm.DB, archiveRoot string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.String(http.StatusBadRequest, "bad ticket id")
			return
		}
		t, err := store.GetByID(db, uint(id))
		if err != nil || t.ArchivePath == "" {
			c.String(http.StatusNotFound, "no transcript for ticket")
			return
		}
		path := filepath.Join(archiveRoot, filepath.FromSlash(t.ArchivePath), "transcript.html")
		if _, err := os.Stat(path); err != nil {
			c.String(http.StatusNotFound, "transcript file missing")
			return
		}
		c.File(path)
	}
}

func handleStats(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := store.GetStats(db)
		if err != nil {
			c.String(http.StatusInternalServerError, "load stats: %v", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"open":       stats.TotalOpen,
			"unassigned": stats.Unassigned,
			"urgent":     stats.Urgent,
			"escalated":  stats.Escalated,
		})
	}
}
