package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"

	apperrors "github.com/tracklight/tracklight/internal/platform/errors"
	"github.com/tracklight/tracklight/internal/tracker/app/templates"
	"github.com/tracklight/tracklight/internal/tracker/audit"
	"github.com/tracklight/tracklight/internal/tracker/broadcast"
	"github.com/tracklight/tracklight/internal/tracker/domain"
	"github.com/tracklight/tracklight/internal/tracker/writer"
)

const (
	defaultAuthor   = "anonymous"
	auditPageLimit  = 50
	maxFormBodySize = 64 * 1024
)

type handler struct {
	serializer *writer.Serializer
	auditLog   *audit.Logger
	hub        *broadcast.Hub
	logger     *log.Logger
	appName    string
}

// NewHandler creates the tracker routes. The hub and audit logger may
// be nil; the live feeds and audit page degrade accordingly.
func NewHandler(config Config, deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	h := &handler{
		serializer: deps.Serializer,
		auditLog:   deps.Audit,
		hub:        deps.Hub,
		logger:     logger,
		appName:    strings.TrimSpace(config.AppName),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleIndex)
	mux.HandleFunc("/issues", h.handleCreateIssue)
	mux.HandleFunc("/issues/", h.handleIssueSubroutes)
	mux.HandleFunc("/audit", h.handleAudit)
	mux.HandleFunc("/api/document", h.handleAPIDocument)
	mux.HandleFunc("/events", h.handleEvents)
	mux.Handle("/ws", h.wsHandler())
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return traceRequests(mux)
}

func (h *handler) pageContext(w http.ResponseWriter, r *http.Request, title string) templates.PageContext {
	return templates.PageContext{
		Lang:    resolveLang(w, r),
		AppName: h.appName,
		Title:   title,
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		status := appErr.Code.HTTPStatus()
		if status >= http.StatusInternalServerError {
			h.logger.Printf("tracker: %s %s failed: %v", r.Method, r.URL.Path, err)
		}
		http.Error(w, appErr.Message, status)
		return
	}
	h.logger.Printf("tracker: %s %s failed: %v", r.Method, r.URL.Path, err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doc := h.serializer.Document()
	page := h.pageContext(w, r, "Issues")
	templ.Handler(templates.IssueListPage(page, doc)).ServeHTTP(w, r)
}

func (h *handler) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}

	title := strings.TrimSpace(r.PostFormValue("title"))
	description := strings.TrimSpace(r.PostFormValue("description"))
	author := formAuthor(r)

	// Validation happens before Submit: a request that cannot succeed
	// must never occupy the pending slot, where it could displace a
	// valid coalesced mutation.
	if title == "" {
		h.writeError(w, r, domain.ErrEmptyTitle)
		return
	}

	event, err := h.serializer.Submit(r.Context(), createIssueMutation(title, description, author))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// A coalesced submission resolves without its own event; fall back
	// to the index.
	if event.Issue == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/issues/%d", event.Issue.ID), http.StatusSeeOther)
}

func (h *handler) handleIssueSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/issues/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil || id < 1 {
		h.writeError(w, r, apperrors.New(apperrors.CodeIssueInvalidID, "issue id must be a positive integer"))
		return
	}

	switch {
	case len(parts) == 1:
		h.handleIssueDetail(w, r, id)
	case len(parts) == 2 && parts[1] == "comments":
		h.handleAddComment(w, r, id)
	case len(parts) == 2 && parts[1] == "status":
		h.handleSetStatus(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *handler) handleIssueDetail(w http.ResponseWriter, r *http.Request, id int) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doc := h.serializer.Document()
	issue, ok := doc.Issue(id)
	if !ok {
		h.writeError(w, r, domain.ErrIssueNotFound)
		return
	}
	page := h.pageContext(w, r, fmt.Sprintf("#%d %s", issue.ID, issue.Title))
	templ.Handler(templates.IssueDetailPage(page, issue)).ServeHTTP(w, r)
}

func (h *handler) handleAddComment(w http.ResponseWriter, r *http.Request, id int) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}

	text := strings.TrimSpace(r.PostFormValue("text"))
	author := formAuthor(r)

	// Issue ids are never reused or deleted, so an existence check
	// against the current snapshot stays valid through the submit.
	if text == "" {
		h.writeError(w, r, domain.ErrEmptyCommentText)
		return
	}
	if _, ok := h.serializer.Document().Issue(id); !ok {
		h.writeError(w, r, domain.ErrIssueNotFound)
		return
	}

	if _, err := h.serializer.Submit(r.Context(), addCommentMutation(id, author, text)); err != nil {
		h.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/issues/%d", id), http.StatusSeeOther)
}

func (h *handler) handleSetStatus(w http.ResponseWriter, r *http.Request, id int) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}

	status, err := domain.ParseStatus(r.PostFormValue("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, ok := h.serializer.Document().Issue(id); !ok {
		h.writeError(w, r, domain.ErrIssueNotFound)
		return
	}

	if _, err := h.serializer.Submit(r.Context(), setStatusMutation(id, status)); err != nil {
		h.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/issues/%d", id), http.StatusSeeOther)
}

func (h *handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	records, err := h.auditLog.Recent(r.Context(), auditPageLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page := h.pageContext(w, r, "Audit trail")
	templ.Handler(templates.AuditPage(page, records)).ServeHTTP(w, r)
}

func (h *handler) handleAPIDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doc := h.serializer.Document()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		h.logger.Printf("tracker: encode document response: %v", err)
	}
}

func formAuthor(r *http.Request) string {
	author := strings.TrimSpace(r.PostFormValue("author"))
	if author == "" {
		return defaultAuthor
	}
	return author
}

func createIssueMutation(title, description, author string) writer.Mutation {
	return func(doc domain.Document) (domain.Document, domain.Event, string, error) {
		next, issue, err := doc.CreateIssue(title, description, author, time.Now().UTC())
		if err != nil {
			return domain.Document{}, domain.Event{}, "", err
		}
		label := fmt.Sprintf("create issue %q by %s", issue.Title, author)
		return next, domain.NewCreatedEvent(issue), label, nil
	}
}

func addCommentMutation(id int, author, text string) writer.Mutation {
	return func(doc domain.Document) (domain.Document, domain.Event, string, error) {
		next, comment, err := doc.AddComment(id, author, text, time.Now().UTC())
		if err != nil {
			return domain.Document{}, domain.Event{}, "", err
		}
		label := fmt.Sprintf("comment on issue %d by %s", id, author)
		return next, domain.NewCommentedEvent(id, comment), label, nil
	}
}

func setStatusMutation(id int, status domain.Status) writer.Mutation {
	return func(doc domain.Document) (domain.Document, domain.Event, string, error) {
		next, issue, err := doc.SetStatus(id, status, time.Now().UTC())
		if err != nil {
			return domain.Document{}, domain.Event{}, "", err
		}
		label := fmt.Sprintf("set issue %d status to %s", id, status)
		return next, domain.NewStatusChangedEvent(issue), label, nil
	}
}
