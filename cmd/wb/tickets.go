package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/store"
	"golang.org/x/term"
)

func newTicketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Ticket inspection commands",
	}

	cmd.AddCommand(newTicketsListCmd())
	cmd.AddCommand(newTicketsShowCmd())
	return cmd
}

func newTicketsListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		user       string
		search     string
		urgency    string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		Long:  "Lists tickets with optional filters. Output is formatted as a table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTicketsList(cmd, configPath, status, user, search, urgency, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Waybill config file")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (draft, active, escalated, closed, archived, deleted)")
	cmd.Flags().StringVar(&user, "user", "", "filter by requester user ID")
	cmd.Flags().StringVar(&search, "search", "", "match title, requester or description")
	cmd.Flags().StringVar(&urgency, "urgency", "", "filter by urgency")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to print")
	return cmd
}

func runTicketsList(cmd *cobra.Command, configPath, status, user, search, urgency string, limit int) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	f := store.Filter{
		UserID:   user,
		Search:   search,
		Urgency:  urgency,
		SortDesc: true,
		Limit:    limit,
	}
	if status != "" {
		parsed, err := models.ParseTicketStatus(status)
		if err != nil {
			return err
		}
		f.Statuses = []models.TicketStatus{parsed}
	}

	tickets, total, err := store.ListFiltered(gormDB, f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(tickets) == 0 {
		fmt.Fprintln(out, "No tickets match.")
		return nil
	}

	titleWidth := titleColumnWidth()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tURGENCY\tREQUESTER\tASSIGNED\tTITLE")
	for _, t := range tickets {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Status, dash(t.Urgency), t.UserName, dash(t.AssignedTo), truncate(t.Title, titleWidth))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d of %d tickets shown\n", len(tickets), total)
	return nil
}

func newTicketsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <ticket id>",
		Short: "Show one ticket in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTicketsShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Waybill config file")
	return cmd
}

func runTicketsShow(cmd *cobra.Command, configPath, rawID string) error {
	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil {
		return fmt.Errorf("%q is not a ticket ID", rawID)
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	t, err := store.GetByID(gormDB, uint(id))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ticket #%d: %s\n", t.ID, dash(t.Title))
	fmt.Fprintf(out, "Status:    %s\n", t.Status)
	fmt.Fprintf(out, "Urgency:   %s\n", dash(t.Urgency))
	fmt.Fprintf(out, "Requester: %s (%s)\n", t.UserName, t.UserID)
	fmt.Fprintf(out, "Assigned:  %s\n", dash(t.AssignedTo))
	if t.IssueNumber != 0 {
		fmt.Fprintf(out, "Issue:     #%d\n", t.IssueNumber)
	}
	fmt.Fprintf(out, "Channel:   %s\n", dash(t.ChannelID))
	fmt.Fprintf(out, "Opened:    %s\n", t.CreatedAt.Format("2006-01-02 15:04"))
	if t.ClosedAt != nil {
		fmt.Fprintf(out, "Closed:    %s\n", t.ClosedAt.Format("2006-01-02 15:04"))
	}
	if t.ArchivePath != "" {
		fmt.Fprintf(out, "Archive:   %s\n", t.ArchivePath)
	}
	if t.Description != "" {
		fmt.Fprintf(out, "\n%s\n", t.Description)
	}
	return nil
}

// titleColumnWidth leaves room for the fixed columns within the terminal.
func titleColumnWidth() int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return 60
	}
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 60 {
		return 40
	}
	return width - 60
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
