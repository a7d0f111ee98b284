package store

import (
	"strings"
	"testing"
	"time"

	"github.com/zulandar/waybill/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Ticket{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func mustCreateDraft(t *testing.T, db *gorm.DB, channelID, userID string) *models.Ticket {
	t.Helper()
	tk, err := CreateDraft(db, CreateDraftOpts{
		ChannelID: channelID,
		GuildID:   "guild-1",
		UserID:    userID,
		UserName:  "tester",
	})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	return tk
}

func TestCreateDraft(t *testing.T) {
	db := openTestDB(t)
	tk := mustCreateDraft(t, db, "chan-1", "user-1")

	if tk.ID == 0 {
		t.Error("ID = 0, want auto-assigned")
	}
	if tk.Status != models.StatusDraft {
		t.Errorf("Status = %q, want %q", tk.Status, models.StatusDraft)
	}
	if tk.ClosedAt != nil {
		t.Errorf("ClosedAt = %v, want nil", tk.ClosedAt)
	}
}

func TestCreateDraft_MissingChannel(t *testing.T) {
	db := openTestDB(t)
	_, err := CreateDraft(db, CreateDraftOpts{UserID: "user-1"})
	if err == nil {
		t.Fatal("expected error for missing channel ID")
	}
	if !strings.Contains(err.Error(), "channel ID is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "channel ID is required")
	}
}

func TestCreateDraft_MissingUser(t *testing.T) {
	db := openTestDB(t)
	_, err := CreateDraft(db, CreateDraftOpts{ChannelID: "chan-1"})
	if err == nil {
		t.Fatal("expected error for missing user ID")
	}
}

func TestGetByChannel(t *testing.T) {
	db := openTestDB(t)
	created := mustCreateDraft(t, db, "chan-1", "user-1")

	got, err := GetByChannel(db, "chan-1")
	if err != nil {
		t.Fatalf("GetByChannel: %v", err)
	}
	if got == nil {
		t.Fatal("GetByChannel = nil, want ticket")
	}
	if got.ID != created.ID {
		t.Errorf("ID = %d, want %d", got.ID, created.ID)
	}
}

func TestGetByChannel_Miss(t *testing.T) {
	db := openTestDB(t)
	got, err := GetByChannel(db, "no-such-channel")
	if err != nil {
		t.Fatalf("GetByChannel: %v", err)
	}
	if got != nil {
		t.Errorf("GetByChannel = %+v, want nil for unknown channel", got)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := GetByID(db, 999)
	if err == nil {
		t.Fatal("expected error for unknown ID")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "not found")
	}
}

func TestUpdateDetails(t *testing.T) {
	db := openTestDB(t)
	tk := mustCreateDraft(t, db, "chan-1", "user-1")

	if err := UpdateDetails(db, tk.ID, "Login broken", "Cannot log in since the update", "High"); err != nil {
		t.Fatalf("UpdateDetails: %v", err)
	}
	got, err := GetByID(db, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Login broken" {
		t.Errorf("Title = %q, want %q", got.Title, "Login broken")
	}
	if got.Urgency != "High" {
		t.Errorf("Urgency = %q, want %q", got.Urgency, "High")
	}
}

func TestUpdateDetails_MissingRowIsNoOp(t *testing.T) {
	db := openTestDB(t)
	if err := UpdateDetails(db, 42, "a", "b", "c"); err != nil {
		t.Fatalf("UpdateDetails on missing row: %v, want quiet no-op", err)
	}
}

func TestSetArchivePath(t *testing.T) {
	db := openTestDB(t)
	tk := mustCreateDraft(t, db, "chan-1", "user-1")
	if err := SetStatus(db, tk.ID, models.StatusClosed); err != nil {
		t.Fatal(err)
	}

	if err := SetArchivePath(db, tk.ID, "2026/09/1"); err != nil {
		t.Fatalf("SetArchivePath: %v", err)
	}
	got, _ := GetByID(db, tk.ID)
	if got.ArchivePath != "2026/09/1" {
		t.Errorf("ArchivePath = %q, want %q", got.ArchivePath, "2026/09/1")
	}
	if got.Status != models.StatusClosed {
		t.Errorf("Status = %q, want closed left alone", got.Status)
	}

	if err := SetArchivePath(db, 999, "2026/09/999"); err == nil {
		t.Error("expected error for unknown ID")
	}
}

func TestSetStatus_ClosedStampsClosedAt(t *testing.T) {
	db := openTestDB(t)
	tk := mustCreateDraft(t, db, "chan-1", "user-1")

	if err := SetStatus(db, tk.ID, models.StatusActive); err != nil {
		t.Fatalf("SetStatus(active): %v", err)
	}
	got, _ := GetByID(db, tk.ID)
	if got.ClosedAt != nil {
		t.Errorf("ClosedAt = %v after activate, want nil", got.ClosedAt)
	}

	if err := SetStatus(db, tk.ID, models.StatusClosed); err != nil {
		t.Fatalf("SetStatus(closed): %v", err)
	}
	got, _ = GetByID(db, tk.ID)
	if got.ClosedAt == nil {
		t.Fatal("ClosedAt = nil after close, want timestamp")
	}
	if time.Since(*got.ClosedAt) > time.Minute {
		t.Errorf("ClosedAt = %v, want recent", got.ClosedAt)
	}
}

func TestSetStatus_ReactivateKeepsClosedAt(t *testing.T) {
	db := openTestDB(t)
	tk := mustCreateDraft(t, db, "chan-1", "user-1")

	if err := SetStatus(db, tk.ID, models.StatusClosed); err != nil {
		t.Fatal(err)
	}
	closed, _ := GetByID(db, tk.ID)
	if closed.ClosedAt == nil {
		t.Fatal("ClosedAt = nil after close")
	}

	if err := SetStatus(db, tk.ID, models.StatusActive); err != nil {
		t.Fatal(err)
	}
	reopened, _ := GetByID(db, tk.ID)
	if reopened.ClosedAt == nil {
		t.Error("ClosedAt cleared on reactivate, want last closure kept")
	}
}

func TestSetAssignment(t *testing.T) {
	db := openTestDB(t)
	tk := mustCreateDraft(t, db, "chan-1", "user-1")

	if err := SetAssignment(db, tk.ID, "staff-7"); err != nil {
		t.Fatalf("SetAssignment: %v", err)
	}
	got, _ := GetByID(db, tk.ID)
	if got.AssignedTo != "staff-7" {
		t.Errorf("AssignedTo = %q, want %q", got.AssignedTo, "staff-7")
	}

	if err := SetAssignment(db, tk.ID, ""); err != nil {
		t.Fatalf("SetAssignment(clear): %v", err)
	}
	got, _ = GetByID(db, tk.ID)
	if got.AssignedTo != "" {
		t.Errorf("AssignedTo = %q after clear, want empty", got.AssignedTo)
	}
}

func TestRelink(t *testing.T) {
	db := openTestDB(t)
	tk := mustCreateDraft(t, db, "chan-old", "user-1")
	if err := SetStatus(db, tk.ID, models.StatusClosed); err != nil {
		t.Fatal(err)
	}

	if err := Relink(db, tk.ID, "chan-new"); err != nil {
		t.Fatalf("Relink: %v", err)
	}
	got, _ := GetByID(db, tk.ID)
	if got.ChannelID != "chan-new" {
		t.Errorf("ChannelID = %q, want %q", got.ChannelID, "chan-new")
	}
	if got.Status != models.StatusActive {
		t.Errorf("Status = %q, want %q", got.Status, models.StatusActive)
	}
	if got.ClosedAt == nil {
		t.Error("ClosedAt = nil after relink, want last closure kept")
	}
}

func TestMarkArchived_Idempotent(t *testing.T) {
	db := openTestDB(t)
	tk := mustCreateDraft(t, db, "chan-1", "user-1")
	if err := SetStatus(db, tk.ID, models.StatusClosed); err != nil {
		t.Fatal(err)
	}

	if err := MarkArchived(db, tk.ID, "archives/2026/01/1"); err != nil {
		t.Fatalf("MarkArchived: %v", err)
	}
	got, _ := GetByID(db, tk.ID)
	if got.Status != models.StatusArchived {
		t.Errorf("Status = %q, want %q", got.Status, models.StatusArchived)
	}
	if got.ArchivePath != "archives/2026/01/1" {
		t.Errorf("ArchivePath = %q, want %q", got.ArchivePath, "archives/2026/01/1")
	}

	// Second call must not overwrite the recorded path.
	if err := MarkArchived(db, tk.ID, "archives/other"); err != nil {
		t.Fatalf("MarkArchived again: %v", err)
	}
	got, _ = GetByID(db, tk.ID)
	if got.ArchivePath != "archives/2026/01/1" {
		t.Errorf("ArchivePath = %q after second call, want original kept", got.ArchivePath)
	}
}

func TestDelete(t *testing.T) {
	db := openTestDB(t)
	tk := mustCreateDraft(t, db, "chan-1", "user-1")

	if err := Delete(db, tk.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := GetByChannel(db, "chan-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("ticket still present after delete: %+v", got)
	}

	if err := Delete(db, tk.ID); err == nil {
		t.Fatal("expected error deleting twice")
	}
}

func TestListFiltered(t *testing.T) {
	db := openTestDB(t)
	a := mustCreateDraft(t, db, "chan-a", "user-1")
	b := mustCreateDraft(t, db, "chan-b", "user-2")
	c := mustCreateDraft(t, db, "chan-c", "user-1")

	if err := SetStatus(db, a.ID, models.StatusActive); err != nil {
		t.Fatal(err)
	}
	if err := SetStatus(db, b.ID, models.StatusActive); err != nil {
		t.Fatal(err)
	}
	if err := SetStatus(db, c.ID, models.StatusClosed); err != nil {
		t.Fatal(err)
	}
	if err := UpdateDetails(db, a.ID, "Printer jam", "The office printer keeps jamming", "Low"); err != nil {
		t.Fatal(err)
	}
	if err := UpdateDetails(db, b.ID, "VPN down", "Cannot reach the VPN", "High"); err != nil {
		t.Fatal(err)
	}

	active, total, err := ListFiltered(db, Filter{Statuses: []models.TicketStatus{models.StatusActive}})
	if err != nil {
		t.Fatalf("ListFiltered: %v", err)
	}
	if total != 2 || len(active) != 2 {
		t.Errorf("active: total=%d len=%d, want 2/2", total, len(active))
	}

	mine, total, err := ListFiltered(db, Filter{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(mine) != 2 {
		t.Errorf("user-1: total=%d len=%d, want 2/2", total, len(mine))
	}

	found, total, err := ListFiltered(db, Filter{Search: "printer"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(found) != 1 {
		t.Fatalf("search printer: total=%d len=%d, want 1/1", total, len(found))
	}
	if found[0].ID != a.ID {
		t.Errorf("search hit = ticket %d, want %d", found[0].ID, a.ID)
	}

	byName, total, err := ListFiltered(db, Filter{Search: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(byName) != 3 {
		t.Errorf("search by requester: total=%d len=%d, want 3/3", total, len(byName))
	}

	urgent, _, err := ListFiltered(db, Filter{Urgency: "High"})
	if err != nil {
		t.Fatal(err)
	}
	if len(urgent) != 1 || urgent[0].ID != b.ID {
		t.Errorf("urgency High hit wrong rows: %+v", urgent)
	}
}

func TestSetIssueNumber(t *testing.T) {
	db := openTestDB(t)
	tk := mustCreateDraft(t, db, "chan-1", "user-1")

	if err := SetIssueNumber(db, tk.ID, 42); err != nil {
		t.Fatalf("SetIssueNumber: %v", err)
	}
	got, err := GetByID(db, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IssueNumber != 42 {
		t.Errorf("IssueNumber = %d, want 42", got.IssueNumber)
	}

	if err := SetIssueNumber(db, 999, 1); err == nil {
		t.Fatal("expected error for missing ticket")
	}
}

func TestListFiltered_Pagination(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 5; i++ {
		mustCreateDraft(t, db, "chan-"+string(rune('a'+i)), "user-1")
	}

	page, total, err := ListFiltered(db, Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListFiltered: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5 (pre-pagination count)", total)
	}
	if len(page) != 2 {
		t.Errorf("len(page) = %d, want 2", len(page))
	}
}

func TestUnassignedQueue(t *testing.T) {
	db := openTestDB(t)
	a := mustCreateDraft(t, db, "chan-a", "user-1")
	b := mustCreateDraft(t, db, "chan-b", "user-2")
	if err := SetStatus(db, a.ID, models.StatusActive); err != nil {
		t.Fatal(err)
	}
	if err := SetStatus(db, b.ID, models.StatusActive); err != nil {
		t.Fatal(err)
	}
	if err := SetAssignment(db, b.ID, "staff-1"); err != nil {
		t.Fatal(err)
	}

	queue, err := UnassignedQueue(db, 0)
	if err != nil {
		t.Fatalf("UnassignedQueue: %v", err)
	}
	if len(queue) != 1 || queue[0].ID != a.ID {
		t.Errorf("queue = %+v, want only ticket %d", queue, a.ID)
	}
}

func TestAssignedTo(t *testing.T) {
	db := openTestDB(t)
	a := mustCreateDraft(t, db, "chan-a", "user-1")
	if err := SetStatus(db, a.ID, models.StatusEscalated); err != nil {
		t.Fatal(err)
	}
	if err := SetAssignment(db, a.ID, "staff-1"); err != nil {
		t.Fatal(err)
	}

	got, err := AssignedTo(db, "staff-1")
	if err != nil {
		t.Fatalf("AssignedTo: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("AssignedTo = %+v, want only ticket %d", got, a.ID)
	}

	none, err := AssignedTo(db, "staff-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("AssignedTo(staff-2) = %+v, want empty", none)
	}
}

func TestClosedByRecency(t *testing.T) {
	db := openTestDB(t)
	old := mustCreateDraft(t, db, "chan-old", "user-1")
	recent := mustCreateDraft(t, db, "chan-new", "user-1")

	past := time.Now().Add(-48 * time.Hour)
	if err := db.Model(&models.Ticket{}).Where("id = ?", old.ID).
		Updates(map[string]interface{}{"status": models.StatusClosed, "closed_at": past}).Error; err != nil {
		t.Fatal(err)
	}
	if err := SetStatus(db, recent.ID, models.StatusClosed); err != nil {
		t.Fatal(err)
	}

	got, err := ClosedByRecency(db)
	if err != nil {
		t.Fatalf("ClosedByRecency: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != recent.ID || got[1].ID != old.ID {
		t.Errorf("order = [%d, %d], want [%d, %d]", got[0].ID, got[1].ID, recent.ID, old.ID)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	a := mustCreateDraft(t, db, "chan-a", "user-1")
	b := mustCreateDraft(t, db, "chan-b", "user-2")
	c := mustCreateDraft(t, db, "chan-c", "user-3")
	d := mustCreateDraft(t, db, "chan-d", "user-4")

	if err := SetStatus(db, a.ID, models.StatusActive); err != nil {
		t.Fatal(err)
	}
	if err := SetStatus(db, b.ID, models.StatusEscalated); err != nil {
		t.Fatal(err)
	}
	if err := SetStatus(db, c.ID, models.StatusClosed); err != nil {
		t.Fatal(err)
	}
	// d stays draft; drafts do not count as open workload.
	_ = d

	if err := SetAssignment(db, b.ID, "staff-1"); err != nil {
		t.Fatal(err)
	}
	if err := UpdateDetails(db, a.ID, "Outage", "prod is down", "Critical - prod down"); err != nil {
		t.Fatal(err)
	}

	s, err := GetStats(db)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if s.TotalOpen != 2 {
		t.Errorf("TotalOpen = %d, want 2", s.TotalOpen)
	}
	if s.Unassigned != 1 {
		t.Errorf("Unassigned = %d, want 1", s.Unassigned)
	}
	if s.Escalated != 1 {
		t.Errorf("Escalated = %d, want 1", s.Escalated)
	}
	if s.Urgent != 1 {
		t.Errorf("Urgent = %d, want 1", s.Urgent)
	}
}

func TestGetStats_UrgencyKeywords(t *testing.T) {
	db := openTestDB(t)
	tests := []struct {
		urgency string
		urgent  bool
	}{
		{"High", true},
		{"Urgent", true},
		{"9/10", true},
		{"10", true},
		{"Low", false},
		{"Medium", false},
		{"", false},
	}
	for i, tt := range tests {
		tk := mustCreateDraft(t, db, "chan-"+string(rune('a'+i)), "user-1")
		if err := SetStatus(db, tk.ID, models.StatusActive); err != nil {
			t.Fatal(err)
		}
		if err := UpdateDetails(db, tk.ID, "t", "d", tt.urgency); err != nil {
			t.Fatal(err)
		}
	}

	s, err := GetStats(db)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if s.Urgent != 4 {
		t.Errorf("Urgent = %d, want 4", s.Urgent)
	}
}
