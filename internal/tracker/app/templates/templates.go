// Package templates renders the tracker HTML pages.
package templates

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/tracklight/tracklight/internal/tracker/domain"
	"github.com/tracklight/tracklight/internal/tracker/storage"
)

// PageContext provides shared layout context for pages.
type PageContext struct {
	Lang    string
	AppName string
	Title   string
}

func (p PageContext) appName() string {
	if strings.TrimSpace(p.AppName) == "" {
		return "Tracklight"
	}
	return p.AppName
}

func (p PageContext) lang() string {
	if strings.TrimSpace(p.Lang) == "" {
		return "en"
	}
	return p.Lang
}

func write(w io.Writer, s string) error {
	_, err := io.WriteString(w, s)
	return err
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

// layout wraps a body component with the shared document chrome and the
// live-refresh listener.
func layout(page PageContext, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := page.Title
		if strings.TrimSpace(title) == "" {
			title = page.appName()
		}
		if err := writef(w, `<!DOCTYPE html>
<html lang=%q>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
<style>
body{font-family:system-ui,sans-serif;max-width:48rem;margin:0 auto;padding:1rem}
nav{display:flex;gap:1rem;border-bottom:1px solid #ccc;padding-bottom:.5rem;margin-bottom:1rem}
.status{font-size:.8rem;border:1px solid #999;border-radius:.25rem;padding:0 .35rem}
.comment{border-left:3px solid #ccc;padding-left:.75rem;margin:.75rem 0}
form.inline{display:inline}
</style>
</head>
<body>
<nav><a href="/">Issues</a><a href="/audit">Audit</a></nav>
`, page.lang(), html.EscapeString(title)); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		return write(w, `<script>
(function(){
  var source = new EventSource("/events");
  source.onmessage = function(){ window.location.reload(); };
  source.addEventListener("issue.created", function(){ window.location.reload(); });
  source.addEventListener("issue.commented", function(){ window.location.reload(); });
  source.addEventListener("issue.status_changed", function(){ window.location.reload(); });
})();
</script>
</body>
</html>
`)
	})
}

// IssueListPage renders the index with every tracked issue and the
// create-issue form.
func IssueListPage(page PageContext, doc domain.Document) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if err := writef(w, "<h1>%s</h1>\n", html.EscapeString(page.appName())); err != nil {
			return err
		}
		if len(doc.Issues) == 0 {
			if err := write(w, "<p>No issues yet.</p>\n"); err != nil {
				return err
			}
		} else {
			if err := write(w, "<ul>\n"); err != nil {
				return err
			}
			for _, issue := range doc.Issues {
				if err := writef(w, "<li><a href=\"/issues/%d\">#%d %s</a> <span class=\"status\">%s</span> <small>%d comments</small></li>\n",
					issue.ID, issue.ID, html.EscapeString(issue.Title), html.EscapeString(string(issue.Status)), len(issue.Comments)); err != nil {
					return err
				}
			}
			if err := write(w, "</ul>\n"); err != nil {
				return err
			}
		}
		return write(w, `<h2>New issue</h2>
<form method="post" action="/issues">
<p><input name="title" placeholder="Title" required></p>
<p><textarea name="description" placeholder="Description"></textarea></p>
<p><input name="author" placeholder="Your name"></p>
<p><button type="submit">Create</button></p>
</form>
`)
	})
	return layout(page, body)
}

// IssueDetailPage renders one issue with its comments and the comment
// and status forms.
func IssueDetailPage(page PageContext, issue domain.Issue) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if err := writef(w, "<h1>#%d %s</h1>\n<p><span class=\"status\">%s</span> opened by %s</p>\n",
			issue.ID, html.EscapeString(issue.Title), html.EscapeString(string(issue.Status)), html.EscapeString(issue.CreatedBy)); err != nil {
			return err
		}
		if strings.TrimSpace(issue.Description) != "" {
			if err := writef(w, "<p>%s</p>\n", html.EscapeString(issue.Description)); err != nil {
				return err
			}
		}

		if err := writef(w, "<form class=\"inline\" method=\"post\" action=\"/issues/%d/status\">\n<select name=\"status\">\n", issue.ID); err != nil {
			return err
		}
		for _, status := range []domain.Status{domain.StatusOpen, domain.StatusInProgress, domain.StatusClosed} {
			selected := ""
			if status == issue.Status {
				selected = " selected"
			}
			if err := writef(w, "<option value=%q%s>%s</option>\n", status, selected, status); err != nil {
				return err
			}
		}
		if err := write(w, "</select>\n<button type=\"submit\">Update status</button>\n</form>\n"); err != nil {
			return err
		}

		if err := writef(w, "<h2>Comments (%d)</h2>\n", len(issue.Comments)); err != nil {
			return err
		}
		for _, comment := range issue.Comments {
			if err := writef(w, "<div class=\"comment\"><p>%s</p><small>%s, %s</small></div>\n",
				html.EscapeString(comment.Text), html.EscapeString(comment.Author), comment.CreatedAt.Format("2006-01-02 15:04")); err != nil {
				return err
			}
		}

		return writef(w, `<form method="post" action="/issues/%d/comments">
<p><textarea name="text" placeholder="Add a comment" required></textarea></p>
<p><input name="author" placeholder="Your name"></p>
<p><button type="submit">Comment</button></p>
</form>
`, issue.ID)
	})
	return layout(page, body)
}

// AuditPage renders the most recent audit trail entries, newest first.
func AuditPage(page PageContext, records []storage.AuditRecord) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if err := write(w, "<h1>Audit trail</h1>\n"); err != nil {
			return err
		}
		if len(records) == 0 {
			return write(w, "<p>No audit entries yet.</p>\n")
		}
		if err := write(w, "<table>\n<tr><th>#</th><th>When</th><th>What</th></tr>\n"); err != nil {
			return err
		}
		for _, record := range records {
			if err := writef(w, "<tr><td>%d</td><td>%s</td><td>%s</td></tr>\n",
				record.Seq, record.RecordedAt.Format("2006-01-02 15:04:05"), html.EscapeString(record.Label)); err != nil {
				return err
			}
		}
		return write(w, "</table>\n")
	})
	return layout(page, body)
}
