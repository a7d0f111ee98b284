// Package archive bundles closed tickets to disk and brings them back.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/zulandar/waybill/internal/models"
)

// Attachment is a file a user uploaded to the ticket channel.
type Attachment struct {
	ID       string
	Filename string
	URL      string
}

// ChannelMessage is one message pulled from the ticket channel for the
// transcript.
type ChannelMessage struct {
	ID          string
	AuthorID    string
	AuthorName  string
	Content     string
	Timestamp   time.Time
	Attachments []Attachment
}

// Transcripter is the slice of the chat platform archiving needs.
type Transcripter interface {
	ChannelExists(ctx context.Context, channelID string) (bool, error)
	ChannelHistory(ctx context.Context, channelID string) ([]ChannelMessage, error)
}

// Transcript is the bundle's machine-readable form, written as
// transcript.json inside the bundle directory.
type Transcript struct {
	TicketID    uint                `json:"ticket_id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Urgency     string              `json:"urgency"`
	UserID      string              `json:"user_id"`
	UserName    string              `json:"user_name"`
	ClosedAt    *time.Time          `json:"closed_at,omitempty"`
	ArchivedAt  time.Time           `json:"archived_at"`
	Messages    []TranscriptMessage `json:"messages"`
}

// TranscriptMessage is one channel message in the bundle.
type TranscriptMessage struct {
	ID          string                 `json:"id"`
	AuthorID    string                 `json:"author_id"`
	AuthorName  string                 `json:"author_name"`
	Timestamp   time.Time              `json:"timestamp"`
	Content     string                 `json:"content"`
	Attachments []TranscriptAttachment `json:"attachments,omitempty"`
}

// TranscriptAttachment records one attachment, or the reason it could not
// be saved.
type TranscriptAttachment struct {
	Filename string `json:"filename"`
	Path     string `json:"path,omitempty"`
	URL      string `json:"url"`
	Error    string `json:"error,omitempty"`
}

// Archiver writes ticket bundles under a root directory, laid out as
// <root>/YYYY/MM/<ticket_id>/ with transcript.json, transcript.html and an
// attachments/ directory.
type Archiver struct {
	root         string
	transcripter Transcripter
	httpc        *http.Client
	uploader     Uploader
	now          func() time.Time
}

// ArchiverOpts holds parameters for creating an Archiver.
type ArchiverOpts struct {
	Root         string
	Transcripter Transcripter
	// Optional; nil disables off-site bundle upload.
	Uploader Uploader
	// For testing: inject an HTTP client for attachment downloads.
	HTTPClient *http.Client
	// For testing: override the clock.
	Now func() time.Time
}

// NewArchiver creates an archiver.
func NewArchiver(opts ArchiverOpts) (*Archiver, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("archive: root directory is required")
	}
	if opts.Transcripter == nil {
		return nil, fmt.Errorf("archive: transcripter is required")
	}
	a := &Archiver{
		root:         opts.Root,
		transcripter: opts.Transcripter,
		httpc:        opts.HTTPClient,
		uploader:     opts.Uploader,
		now:          opts.Now,
	}
	if a.httpc == nil {
		a.httpc = &http.Client{Timeout: 30 * time.Second}
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// BundlePath returns where a ticket's bundle lives relative to the root.
// The year/month comes from the closure time so bundles shelve by when the
// work ended, not when the sweep ran.
func (a *Archiver) BundlePath(t *models.Ticket) string {
	when := a.now()
	if t.ClosedAt != nil {
		when = *t.ClosedAt
	}
	return filepath.Join(fmt.Sprintf("%04d", when.Year()), fmt.Sprintf("%02d", when.Month()), fmt.Sprintf("%d", t.ID))
}

// Archive bundles a ticket's channel to disk and returns the bundle path
// relative to the root. A channel that no longer exists still produces a
// bundle with an empty transcript so the ticket can leave the live set.
func (a *Archiver) Archive(ctx context.Context, t *models.Ticket) (string, error) {
	rel := a.BundlePath(t)
	dir := filepath.Join(a.root, rel)
	if err := os.MkdirAll(filepath.Join(dir, "attachments"), 0o755); err != nil {
		return "", fmt.Errorf("archive: create bundle dir %s: %w", dir, err)
	}

	var msgs []ChannelMessage
	exists, err := a.transcripter.ChannelExists(ctx, t.ChannelID)
	if err != nil {
		return "", fmt.Errorf("archive: check channel %s: %w", t.ChannelID, err)
	}
	if exists {
		msgs, err = a.transcripter.ChannelHistory(ctx, t.ChannelID)
		if err != nil {
			return "", fmt.Errorf("archive: fetch history of channel %s: %w", t.ChannelID, err)
		}
	}

	tr := Transcript{
		TicketID:    t.ID,
		Title:       t.Title,
		Description: t.Description,
		Urgency:     t.Urgency,
		UserID:      t.UserID,
		UserName:    t.UserName,
		ClosedAt:    t.ClosedAt,
		ArchivedAt:  a.now(),
	}
	for _, m := range msgs {
		tm := TranscriptMessage{
			ID:         m.ID,
			AuthorID:   m.AuthorID,
			AuthorName: m.AuthorName,
			Timestamp:  m.Timestamp,
			Content:    m.Content,
		}
		for _, att := range m.Attachments {
			tm.Attachments = append(tm.Attachments, a.saveAttachment(ctx, dir, m.ID, att))
		}
		tr.Messages = append(tr.Messages, tm)
	}

	if err := writeJSON(filepath.Join(dir, "transcript.json"), tr); err != nil {
		return "", err
	}
	if err := writeHTML(filepath.Join(dir, "transcript.html"), tr); err != nil {
		return "", err
	}

	if a.uploader != nil {
		if err := a.uploader.UploadBundle(ctx, dir, rel); err != nil {
			// The bundle on disk is complete; upload is best effort.
			return rel, fmt.Errorf("archive: upload bundle %s: %w", rel, err)
		}
	}
	return rel, nil
}

// saveAttachment downloads one attachment into the bundle. A failed
// download is recorded in the transcript instead of failing the bundle, so
// one dead CDN link cannot wedge the sweep.
func (a *Archiver) saveAttachment(ctx context.Context, dir, msgID string, att Attachment) TranscriptAttachment {
	out := TranscriptAttachment{Filename: att.Filename, URL: att.URL}

	name := fmt.Sprintf("%s_%s", msgID, filepath.Base(att.Filename))
	rel := filepath.Join("attachments", name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	resp, err := a.httpc.Do(req)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		out.Error = fmt.Sprintf("download returned %d", resp.StatusCode)
		return out
	}

	f, err := os.Create(filepath.Join(dir, rel))
	if err != nil {
		out.Error = err.Error()
		return out
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		out.Error = err.Error()
		return out
	}

	out.Path = rel
	return out
}

// ReadTranscript loads a bundle's transcript.json.
func ReadTranscript(root, bundlePath string) (*Transcript, error) {
	data, err := os.ReadFile(filepath.Join(root, bundlePath, "transcript.json"))
	if err != nil {
		return nil, fmt.Errorf("archive: read transcript of bundle %s: %w", bundlePath, err)
	}
	var tr Transcript
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("archive: parse transcript of bundle %s: %w", bundlePath, err)
	}
	return &tr, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("archive: write %s: %w", path, err)
	}
	return nil
}
