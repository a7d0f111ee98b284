package archive

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/store"
	"gorm.io/gorm"
)

// Replayer is the slice of the chat platform restoring needs: a fresh
// channel and a way to replay content into it. forUser keeps the restored
// channel private to the original requester.
type Replayer interface {
	CreateChannel(ctx context.Context, name, category, forUser string) (string, error)
	SendMessage(ctx context.Context, channelID, content string) error
	SendFile(ctx context.Context, channelID, filename string, r io.Reader) error
}

// Restorer brings an archived ticket back into a live channel.
type Restorer struct {
	db       *gorm.DB
	root     string
	replayer Replayer
	category string
}

// RestorerOpts holds parameters for creating a Restorer.
type RestorerOpts struct {
	DB       *gorm.DB
	Root     string
	Replayer Replayer
	// Category the restored channel is created under.
	Category string
}

// NewRestorer creates a restorer.
func NewRestorer(opts RestorerOpts) (*Restorer, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("archive: restorer db is required")
	}
	if opts.Root == "" {
		return nil, fmt.Errorf("archive: restorer root is required")
	}
	if opts.Replayer == nil {
		return nil, fmt.Errorf("archive: restorer replayer is required")
	}
	return &Restorer{
		db:       opts.DB,
		root:     opts.Root,
		replayer: opts.Replayer,
		category: opts.Category,
	}, nil
}

// Restore replays an archived ticket's transcript into a new channel and
// reactivates the ticket. The bundle on disk is left untouched, and the
// old closure timestamp stays on the record.
func (r *Restorer) Restore(ctx context.Context, ticketID uint) (*models.Ticket, error) {
	t, err := store.GetByID(r.db, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.StatusArchived {
		return nil, fmt.Errorf("archive: restore ticket %d: status is %s, want archived", t.ID, t.Status)
	}
	if t.ArchivePath == "" {
		return nil, fmt.Errorf("archive: restore ticket %d: no bundle recorded", t.ID)
	}

	tr, err := ReadTranscript(r.root, t.ArchivePath)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("ticket-%d-restored", t.ID)
	channelID, err := r.replayer.CreateChannel(ctx, name, r.category, t.UserID)
	if err != nil {
		return nil, fmt.Errorf("archive: create restore channel for ticket %d: %w", t.ID, err)
	}

	for _, m := range tr.Messages {
		content := fmt.Sprintf("**%s** `[%s]`:\n%s", m.AuthorName, m.Timestamp.Format("2006-01-02 15:04"), m.Content)
		if err := r.replayer.SendMessage(ctx, channelID, content); err != nil {
			return nil, fmt.Errorf("archive: replay message %s of ticket %d: %w", m.ID, t.ID, err)
		}
		for _, att := range m.Attachments {
			if att.Path == "" {
				continue
			}
			r.replayFile(ctx, channelID, t.ArchivePath, att)
		}
	}

	if err := store.Relink(r.db, t.ID, channelID); err != nil {
		return nil, err
	}
	return store.GetByID(r.db, t.ID)
}

// replayFile re-uploads one saved attachment. A file missing from the
// bundle is logged and skipped; the replayed transcript still names it.
func (r *Restorer) replayFile(ctx context.Context, channelID, bundlePath string, att TranscriptAttachment) {
	f, err := os.Open(filepath.Join(r.root, bundlePath, att.Path))
	if err != nil {
		log.Printf("archive: restore attachment %s: %v", att.Filename, err)
		return
	}
	defer f.Close()
	if err := r.replayer.SendFile(ctx, channelID, att.Filename, f); err != nil {
		log.Printf("archive: re-upload attachment %s: %v", att.Filename, err)
	}
}
