package archive

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/store"
	"gorm.io/gorm"
)

// ChannelDeleter removes a ticket channel once its bundle is on disk.
type ChannelDeleter interface {
	DeleteChannel(ctx context.Context, channelID string) error
}

// Sweeper applies the retention policy to closed tickets: the newest
// keepCount stay live, and anything closed longer than maxAge ago goes
// regardless of rank.
type Sweeper struct {
	db       *gorm.DB
	archiver *Archiver
	deleter  ChannelDeleter
	keep     int
	maxAge   time.Duration
	now      func() time.Time
}

// SweeperOpts holds parameters for creating a Sweeper.
type SweeperOpts struct {
	DB        *gorm.DB
	Archiver  *Archiver
	Deleter   ChannelDeleter
	KeepCount int
	MaxAge    time.Duration
	// For testing: override the clock.
	Now func() time.Time
}

// NewSweeper creates a retention sweeper.
func NewSweeper(opts SweeperOpts) (*Sweeper, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("archive: sweeper db is required")
	}
	if opts.Archiver == nil {
		return nil, fmt.Errorf("archive: sweeper archiver is required")
	}
	if opts.Deleter == nil {
		return nil, fmt.Errorf("archive: sweeper channel deleter is required")
	}
	s := &Sweeper{
		db:       opts.DB,
		archiver: opts.Archiver,
		deleter:  opts.Deleter,
		keep:     opts.KeepCount,
		maxAge:   opts.MaxAge,
		now:      opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run performs one sweep and returns how many tickets were archived. A
// failure on one ticket is logged and the sweep moves on; crashed or
// partial sweeps are safe to re-run because archiving is idempotent.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	closed, err := store.ClosedByRecency(s.db)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.maxAge)
	archived := 0
	for rank, t := range closed {
		if !s.due(rank, t, cutoff) {
			continue
		}
		done, err := s.archiveOne(ctx, t.ID)
		if err != nil {
			log.Printf("archive: sweep ticket %d: %v", t.ID, err)
			continue
		}
		if done {
			archived++
		}
	}
	if archived > 0 {
		log.Printf("archive: sweep archived %d ticket(s)", archived)
	}
	return archived, nil
}

// due decides whether a closed ticket falls to the policy. rank is the
// ticket's position in most-recently-closed-first order.
func (s *Sweeper) due(rank int, t models.Ticket, cutoff time.Time) bool {
	if rank >= s.keep {
		return true
	}
	return t.ClosedAt != nil && t.ClosedAt.Before(cutoff)
}

// archiveOne bundles a single ticket. The status is re-read first so a
// ticket restored mid-sweep is left alone.
func (s *Sweeper) archiveOne(ctx context.Context, id uint) (bool, error) {
	t, err := store.GetByID(s.db, id)
	if err != nil {
		return false, err
	}
	if t.Status != models.StatusClosed {
		return false, nil
	}

	rel, err := s.archiver.Archive(ctx, t)
	if rel == "" {
		return false, err
	}
	if err != nil {
		// Bundle written, upload failed. Still safe to retire the ticket.
		log.Printf("archive: ticket %d bundled with warning: %v", t.ID, err)
	}

	if err := store.MarkArchived(s.db, t.ID, rel); err != nil {
		return false, err
	}

	if t.ChannelID != "" {
		if err := s.deleter.DeleteChannel(ctx, t.ChannelID); err != nil {
			log.Printf("archive: delete channel %s of ticket %d: %v", t.ChannelID, t.ID, err)
		}
	}
	return true, nil
}
