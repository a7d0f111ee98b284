package archive

import (
	"fmt"
	"html/template"
	"os"
)

// transcriptHTML renders a bundle as a standalone page for humans browsing
// the archive tree without tooling.
var transcriptHTML = template.Must(template.New("transcript").Funcs(template.FuncMap{
	"fmtTime": func(t interface{ Format(string) string }) string {
		return t.Format("2006-01-02 15:04:05 MST")
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Ticket #{{.TicketID}} — {{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 56rem; margin: 2rem auto; padding: 0 1rem; color: #222; }
header { border-bottom: 2px solid #ddd; padding-bottom: 1rem; margin-bottom: 1.5rem; }
.meta { color: #666; font-size: 0.9rem; }
.msg { margin-bottom: 1rem; }
.author { font-weight: bold; }
.ts { color: #999; font-size: 0.8rem; margin-left: 0.5rem; }
.content { white-space: pre-wrap; margin: 0.25rem 0 0 0; }
.attachment { font-size: 0.85rem; color: #369; }
.attachment.failed { color: #b00; }
</style>
</head>
<body>
<header>
<h1>Ticket #{{.TicketID}}: {{.Title}}</h1>
<p class="meta">Opened by {{.UserName}} ({{.UserID}}) · Urgency: {{.Urgency}}{{if .ClosedAt}} · Closed {{fmtTime .ClosedAt}}{{end}} · Archived {{fmtTime .ArchivedAt}}</p>
<p>{{.Description}}</p>
</header>
{{range .Messages}}<div class="msg">
<span class="author">{{.AuthorName}}</span><span class="ts">{{fmtTime .Timestamp}}</span>
<p class="content">{{.Content}}</p>
{{range .Attachments}}{{if .Error}}<div class="attachment failed">attachment {{.Filename}} not saved: {{.Error}}</div>
{{else}}<div class="attachment"><a href="{{.Path}}">{{.Filename}}</a></div>
{{end}}{{end}}</div>
{{end}}
</body>
</html>
`))

func writeHTML(path string, tr Transcript) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: write %s: %w", path, err)
	}
	defer f.Close()
	if err := transcriptHTML.Execute(f, tr); err != nil {
		return fmt.Errorf("archive: render %s: %w", path, err)
	}
	return nil
}
