package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zulandar/waybill/internal/archive"
	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/store"
	"gorm.io/gorm"
)

// panelMarker identifies the intake panel message so the presence check can
// find it again after restarts.
const panelMarker = "Waybill ticket desk"

// Daemon ties the platform, router and background loops together.
type Daemon struct {
	cfg      *config.Config
	db       *gorm.DB
	platform Platform
	router   *Router
	sweeper  *archive.Sweeper
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	Config   *config.Config
	DB       *gorm.DB
	Platform Platform
	Router   *Router
	// Optional; nil disables the retention sweep loop.
	Sweeper *archive.Sweeper
}

// NewDaemon creates a daemon.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: daemon config is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: daemon db is required")
	}
	if opts.Platform == nil {
		return nil, fmt.Errorf("bot: daemon platform is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("bot: daemon router is required")
	}
	return &Daemon{
		cfg:      opts.Config,
		db:       opts.DB,
		platform: opts.Platform,
		router:   opts.Router,
		sweeper:  opts.Sweeper,
	}, nil
}

// Run connects to the platform and processes events until the context is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.platform.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}
	defer d.platform.Close()

	if err := d.platform.EnsureCategories(ctx, d.cfg.Discord.Categories.All()); err != nil {
		log.Printf("bot: ensure categories: %v", err)
	}

	events, err := d.platform.Listen(ctx)
	if err != nil {
		return fmt.Errorf("bot: listen: %w", err)
	}

	if d.sweeper != nil {
		go d.sweepLoop(ctx)
	}
	if d.cfg.Discord.IntakeChannelID != "" {
		go d.panelLoop(ctx)
	}

	log.Printf("bot: ticket desk running")
	for {
		select {
		case <-ctx.Done():
			log.Printf("bot: shutting down")
			return nil
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("bot: event stream closed")
			}
			d.router.Handle(ctx, ev)
		}
	}
}

// sweepLoop runs the retention sweep on its cron schedule.
func (d *Daemon) sweepLoop(ctx context.Context) {
	for {
		wait := nextCronDuration(d.cfg.Archive.SweepCron)
		if wait <= 0 {
			log.Printf("bot: invalid sweep cron %q, sweep loop disabled", d.cfg.Archive.SweepCron)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if _, err := d.sweeper.Run(ctx); err != nil {
			log.Printf("bot: retention sweep: %v", err)
		}
	}
}

// panelLoop keeps the intake panel posted and its stats fresh.
func (d *Daemon) panelLoop(ctx context.Context) {
	// Post once at startup, then re-check on the cron schedule.
	d.checkPanel(ctx)
	for {
		wait := nextCronDuration(d.cfg.Discord.PanelCheckCron)
		if wait <= 0 {
			log.Printf("bot: invalid panel cron %q, panel loop disabled", d.cfg.Discord.PanelCheckCron)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		d.checkPanel(ctx)
	}
}

// checkPanel re-posts the intake panel when it has gone missing.
func (d *Daemon) checkPanel(ctx context.Context) {
	intake := d.cfg.Discord.IntakeChannelID
	msgs, err := d.platform.ChannelHistory(ctx, intake)
	if err != nil {
		log.Printf("bot: read intake channel: %v", err)
		return
	}
	for _, m := range msgs {
		if strings.Contains(m.Content, panelMarker) {
			return
		}
	}
	d.postPanel(ctx, intake)
}

// postPanel sends the intake panel with current workload stats.
func (d *Daemon) postPanel(ctx context.Context, intake string) {
	stats, err := store.GetStats(d.db)
	if err != nil {
		log.Printf("bot: load stats for panel: %v", err)
		return
	}
	if err := d.platform.SendMessage(ctx, intake, panelMarker+": type `!wb new` to open a ticket."); err != nil {
		log.Printf("bot: post intake panel: %v", err)
		return
	}
	embed := Embed{
		Title: "Current workload",
		Color: "#3b82f6",
		Fields: []Field{
			{Name: "Open", Value: fmt.Sprintf("%d", stats.TotalOpen), Inline: true},
			{Name: "Unassigned", Value: fmt.Sprintf("%d", stats.Unassigned), Inline: true},
			{Name: "Urgent", Value: fmt.Sprintf("%d", stats.Urgent), Inline: true},
			{Name: "Escalated", Value: fmt.Sprintf("%d", stats.Escalated), Inline: true},
		},
	}
	if _, err := d.platform.SendEmbed(ctx, intake, embed); err != nil {
		log.Printf("bot: post intake panel stats: %v", err)
	}
}
