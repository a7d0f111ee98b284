package dashboard

import (
	"fmt"
	"time"

	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/store"
	"gorm.io/gorm"
)

// pageSize is the number of tickets per list page.
const pageSize = 25

// TicketRow holds ticket data for display.
type TicketRow struct {
	ID         uint
	Title      string
	Status     string
	Urgency    string
	Requester  string
	AssignedTo string
	CreatedAt  time.Time
	ClosedAt   *time.Time
	Archived   bool
}

func toRow(t models.Ticket) TicketRow {
	return TicketRow{
		ID:         t.ID,
		Title:      t.Title,
		Status:     string(t.Status),
		Urgency:    t.Urgency,
		Requester:  t.UserName,
		AssignedTo: t.AssignedTo,
		CreatedAt:  t.CreatedAt,
		ClosedAt:   t.ClosedAt,
		Archived:   t.Status == models.StatusArchived,
	}
}

// ListPage is one page of the filtered ticket list.
type ListPage struct {
	Tickets  []TicketRow
	Total    int64
	Page     int
	LastPage int
	Status   string
	Search   string
	Urgency  string
}

// TicketList returns one page of tickets matching the query parameters.
func TicketList(db *gorm.DB, status, search, urgency string, page int) (*ListPage, error) {
	if page < 1 {
		page = 1
	}

	f := store.Filter{
		Search:   search,
		Urgency:  urgency,
		SortDesc: true,
		Limit:    pageSize,
		Offset:   (page - 1) * pageSize,
	}
	if status != "" {
		parsed, err := models.ParseTicketStatus(status)
		if err != nil {
			return nil, err
		}
		f.Statuses = []models.TicketStatus{parsed}
	}

	tickets, total, err := store.ListFiltered(db, f)
	if err != nil {
		return nil, err
	}

	rows := make([]TicketRow, len(tickets))
	for i, t := range tickets {
		rows[i] = toRow(t)
	}

	lastPage := int((total + pageSize - 1) / pageSize)
	if lastPage < 1 {
		lastPage = 1
	}
	return &ListPage{
		Tickets:  rows,
		Total:    total,
		Page:     page,
		LastPage: lastPage,
		Status:   status,
		Search:   search,
		Urgency:  urgency,
	}, nil
}

// Overview holds the front-page data: workload stats plus the most recent
// open tickets.
type Overview struct {
	Stats  store.Stats
	Recent []TicketRow
}

// LoadOverview gathers the front-page data.
func LoadOverview(db *gorm.DB) (*Overview, error) {
	stats, err := store.GetStats(db)
	if err != nil {
		return nil, err
	}

	tickets, _, err := store.ListFiltered(db, store.Filter{
		Statuses: []models.TicketStatus{models.StatusActive, models.StatusEscalated},
		SortDesc: true,
		Limit:    10,
	})
	if err != nil {
		return nil, err
	}

	rows := make([]TicketRow, len(tickets))
	for i, t := range tickets {
		rows[i] = toRow(t)
	}
	return &Overview{Stats: stats, Recent: rows}, nil
}

// ArchiveRow holds an archived ticket plus its bundle location.
type ArchiveRow struct {
	TicketRow
	ArchivePath string
}

// ArchiveList returns archived tickets, most recently closed first.
func ArchiveList(db *gorm.DB) ([]ArchiveRow, error) {
	tickets, _, err := store.ListFiltered(db, store.Filter{
		Statuses: []models.TicketStatus{models.StatusArchived},
		SortDesc: true,
		Limit:    200,
	})
	if err != nil {
		return nil, err
	}

	rows := make([]ArchiveRow, len(tickets))
	for i, t := range tickets {
		rows[i] = ArchiveRow{TicketRow: toRow(t), ArchivePath: t.ArchivePath}
	}
	return rows, nil
}

// TimeAgo renders a timestamp as a compact relative duration.
func TimeAgo(when time.Time) string {
	if when.IsZero() {
		return "—"
	}
	d := time.Since(when)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
