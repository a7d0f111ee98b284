package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/store"
	"gorm.io/gorm"
)

// fakeReplayer records the channel and content created during a restore.
type fakeReplayer struct {
	channelName string
	category    string
	forUser     string
	messages    []string
	files       map[string]string
}

func (f *fakeReplayer) CreateChannel(_ context.Context, name, category, forUser string) (string, error) {
	f.channelName = name
	f.category = category
	f.forUser = forUser
	return "restored-chan", nil
}

func (f *fakeReplayer) SendMessage(_ context.Context, _ string, content string) error {
	f.messages = append(f.messages, content)
	return nil
}

func (f *fakeReplayer) SendFile(_ context.Context, _ string, filename string, r io.Reader) error {
	if f.files == nil {
		f.files = make(map[string]string)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.files[filename] = string(data)
	return nil
}

// archiveTicket closes and bundles a ticket, returning its ID.
func archiveTicket(t *testing.T, db *gorm.DB, root string, msgs []ChannelMessage) uint {
	t.Helper()
	tk, err := store.CreateDraft(db, store.CreateDraftOpts{ChannelID: "chan-orig", UserID: "user-1", UserName: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateDetails(db, tk.ID, "VPN down", "desc", "High"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetStatus(db, tk.ID, models.StatusClosed); err != nil {
		t.Fatal(err)
	}

	a, err := NewArchiver(ArchiverOpts{Root: root, Transcripter: &fakeTranscripter{exists: true, messages: msgs}})
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := store.GetByID(db, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	rel, err := a.Archive(context.Background(), loaded)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if err := store.MarkArchived(db, tk.ID, rel); err != nil {
		t.Fatal(err)
	}
	return tk.ID
}

func TestRestore(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	when := time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC)
	id := archiveTicket(t, db, root, []ChannelMessage{
		{ID: "m1", AuthorName: "alice", Content: "it broke", Timestamp: when},
		{ID: "m2", AuthorName: "waybill", Content: "on it", Timestamp: when.Add(time.Minute)},
	})

	fr := &fakeReplayer{}
	r, err := NewRestorer(RestorerOpts{DB: db, Root: root, Replayer: fr, Category: "Active Tickets"})
	if err != nil {
		t.Fatalf("NewRestorer: %v", err)
	}

	tk, err := r.Restore(context.Background(), id)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if fr.channelName != fmt.Sprintf("ticket-%d-restored", id) {
		t.Errorf("channel name = %q", fr.channelName)
	}
	if fr.category != "Active Tickets" {
		t.Errorf("category = %q", fr.category)
	}
	if fr.forUser != "user-1" {
		t.Errorf("restored channel opened for %q, want private to user-1", fr.forUser)
	}
	if len(fr.messages) != 2 {
		t.Fatalf("replayed messages = %d, want 2", len(fr.messages))
	}
	if !strings.Contains(fr.messages[0], "**alice**") || !strings.Contains(fr.messages[0], "it broke") {
		t.Errorf("replayed message = %q, want author header and content", fr.messages[0])
	}
	if !strings.Contains(fr.messages[0], "`[2026-02-01 10:30]`") {
		t.Errorf("replayed message = %q, want bracketed timestamp", fr.messages[0])
	}

	if tk.ChannelID != "restored-chan" {
		t.Errorf("ChannelID = %q, want restored-chan", tk.ChannelID)
	}
	if tk.Status != models.StatusActive {
		t.Errorf("Status = %q, want active", tk.Status)
	}
	if tk.ClosedAt == nil {
		t.Error("ClosedAt cleared by restore, want last closure kept")
	}
}

func TestRestore_RequiresArchivedStatus(t *testing.T) {
	db := openTestDB(t)
	tk, err := store.CreateDraft(db, store.CreateDraftOpts{ChannelID: "chan-1", UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}

	r, err := NewRestorer(RestorerOpts{DB: db, Root: t.TempDir(), Replayer: &fakeReplayer{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Restore(context.Background(), tk.ID); err == nil {
		t.Fatal("expected error restoring a non-archived ticket")
	}
}

func TestRestore_MissingBundle(t *testing.T) {
	db := openTestDB(t)
	tk, err := store.CreateDraft(db, store.CreateDraftOpts{ChannelID: "chan-1", UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Model(&models.Ticket{}).Where("id = ?", tk.ID).
		Updates(map[string]interface{}{"status": models.StatusArchived, "archive_path": "2026/01/404"}).Error; err != nil {
		t.Fatal(err)
	}

	r, err := NewRestorer(RestorerOpts{DB: db, Root: t.TempDir(), Replayer: &fakeReplayer{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Restore(context.Background(), tk.ID); err == nil {
		t.Fatal("expected error for a missing bundle on disk")
	}
}
