package app

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/net/websocket"

	"github.com/tracklight/tracklight/internal/tracker/audit"
	"github.com/tracklight/tracklight/internal/tracker/broadcast"
	"github.com/tracklight/tracklight/internal/tracker/domain"
	"github.com/tracklight/tracklight/internal/tracker/storage"
	"github.com/tracklight/tracklight/internal/tracker/writer"
)

type memDocStore struct {
	mu  sync.Mutex
	doc domain.Document

	// When release is non-nil, Save signals entered and then waits for
	// release to close before returning.
	entered chan struct{}
	release chan struct{}
}

func (m *memDocStore) Load(context.Context) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc.NextID == 0 {
		m.doc = domain.NewDocument()
	}
	return m.doc, nil
}

func (m *memDocStore) Save(_ context.Context, doc domain.Document) error {
	if m.release != nil {
		select {
		case m.entered <- struct{}{}:
		default:
		}
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc
	return nil
}

func (m *memDocStore) Close() error { return nil }

type memAuditStore struct {
	mu      sync.Mutex
	records []storage.AuditRecord
}

func (m *memAuditStore) AppendAuditRecord(_ context.Context, record storage.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.Seq = int64(len(m.records) + 1)
	m.records = append(m.records, record)
	return nil
}

func (m *memAuditStore) ListAuditRecords(_ context.Context, limit int) ([]storage.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.AuditRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *memAuditStore) Close() error { return nil }

func newTestHandler(t *testing.T) (http.Handler, *memAuditStore) {
	t.Helper()
	return newTestHandlerWithStore(t, &memDocStore{})
}

func newTestHandlerWithStore(t *testing.T, store *memDocStore) (http.Handler, *memAuditStore) {
	t.Helper()
	auditStore := &memAuditStore{}
	hub := broadcast.NewHub(16)
	serializer, err := writer.New(context.Background(), store, audit.NewLogger(auditStore), hub, log.New(testLogWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("new serializer: %v", err)
	}
	handler := NewHandler(Config{AppName: "Tracklight"}, Dependencies{
		Serializer: serializer,
		Audit:      audit.NewLogger(auditStore),
		Hub:        hub,
		Logger:     log.New(testLogWriter{t}, "", 0),
	})
	return handler, auditStore
}

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

func postForm(t *testing.T, handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createTestIssue(t *testing.T, handler http.Handler, title string) {
	t.Helper()
	rec := postForm(t, handler, "/issues", url.Values{"title": {title}, "author": {"alice"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("create issue status = %d, want %d: %s", rec.Code, http.StatusSeeOther, rec.Body.String())
	}
}

func TestIndexListsIssues(t *testing.T) {
	handler, _ := newTestHandler(t)
	createTestIssue(t, handler, "Bug A")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "Bug A") {
		t.Fatalf("index is missing the issue title: %s", body)
	}
}

func TestCreateIssueRedirectsToDetail(t *testing.T) {
	handler, auditStore := newTestHandler(t)

	rec := postForm(t, handler, "/issues", url.Values{"title": {"Bug A"}, "author": {"alice"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if location := rec.Header().Get("Location"); location != "/issues/1" {
		t.Fatalf("Location = %q, want /issues/1", location)
	}
	if len(auditStore.records) != 1 || auditStore.records[0].Label != `create issue "Bug A" by alice` {
		t.Fatalf("audit records = %+v", auditStore.records)
	}
}

func TestCreateIssueRejectsEmptyTitle(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := postForm(t, handler, "/issues", url.Values{"title": {"   "}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIssueDetailShowsComments(t *testing.T) {
	handler, _ := newTestHandler(t)
	createTestIssue(t, handler, "Bug A")

	rec := postForm(t, handler, "/issues/1/comments", url.Values{"text": {"looking into it"}, "author": {"bob"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("comment status = %d, want %d: %s", rec.Code, http.StatusSeeOther, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/issues/1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "looking into it") || !strings.Contains(body, "bob") {
		t.Fatalf("detail is missing the comment: %s", body)
	}
}

func TestIssueDetailNotFound(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/issues/42", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestIssueInvalidIDRejected(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/issues/not-a-number", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSetStatus(t *testing.T) {
	handler, _ := newTestHandler(t)
	createTestIssue(t, handler, "Bug A")

	rec := postForm(t, handler, "/issues/1/status", url.Values{"status": {"closed"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status update = %d, want %d: %s", rec.Code, http.StatusSeeOther, rec.Body.String())
	}

	rec = postForm(t, handler, "/issues/1/status", url.Values{"status": {"bogus"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status update = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/document", nil))
	var doc domain.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.Issues[0].Status != domain.StatusClosed {
		t.Fatalf("status = %q, want closed", doc.Issues[0].Status)
	}
}

func TestAPIDocument(t *testing.T) {
	handler, _ := newTestHandler(t)
	createTestIssue(t, handler, "Bug A")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/document", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type = %q", got)
	}

	var doc domain.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.NextID != 2 || len(doc.Issues) != 1 {
		t.Fatalf("document = %+v", doc)
	}
}

func TestAuditPageShowsTrail(t *testing.T) {
	handler, _ := newTestHandler(t)
	createTestIssue(t, handler, "Bug A")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "create issue") {
		t.Fatalf("audit page missing trail entry: %s", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/up", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("up = %d %q", rec.Code, rec.Body.String())
	}
}

func TestLangQuerySetsCookie(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?lang=pt-BR", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	cookies := rec.Result().Cookies()
	found := false
	for _, cookie := range cookies {
		if cookie.Name == langCookieName && cookie.Value == "pt-BR" {
			found = true
		}
	}
	if !found {
		t.Fatalf("language cookie not set: %+v", cookies)
	}
	if body := rec.Body.String(); !strings.Contains(body, `lang="pt-BR"`) {
		t.Fatal("page lang attribute not localized")
	}
}

func TestEventStreamDeliversEvents(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/events", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open event stream: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}

	reader := bufio.NewReader(resp.Body)
	// Consume the connected comment before mutating.
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("read stream preamble: %v", err)
	}

	createTestIssue(t, handler, "Bug A")

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event stream: %v", err)
		}
		if strings.HasPrefix(line, "event: ") {
			if got := strings.TrimSpace(strings.TrimPrefix(line, "event: ")); got != string(domain.EventIssueCreated) {
				t.Fatalf("event name = %q, want %q", got, domain.EventIssueCreated)
			}
			break
		}
	}
}

func TestCommentValidationHappensBeforeSubmit(t *testing.T) {
	handler, _ := newTestHandler(t)
	createTestIssue(t, handler, "Bug A")

	rec := postForm(t, handler, "/issues/1/comments", url.Values{"text": {"   "}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank comment status = %d, want 400", rec.Code)
	}

	rec = postForm(t, handler, "/issues/42/comments", url.Values{"text": {"hello"}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing issue comment status = %d, want 404", rec.Code)
	}

	rec = postForm(t, handler, "/issues/42/status", url.Values{"status": {"closed"}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing issue status update = %d, want 404", rec.Code)
	}
}

// An invalid request must be rejected before it reaches the write
// queue: if it were submitted, it could take the pending slot and
// displace a valid coalesced mutation.
func TestInvalidRequestDoesNotEnterWriteQueue(t *testing.T) {
	store := &memDocStore{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	handler, _ := newTestHandlerWithStore(t, store)

	firstDone := make(chan int, 1)
	go func() {
		rec := postForm(t, handler, "/issues", url.Values{"title": {"first"}, "author": {"alice"}})
		firstDone <- rec.Code
	}()
	<-store.entered // first create is mid-save

	secondDone := make(chan int, 1)
	go func() {
		rec := postForm(t, handler, "/issues", url.Values{"title": {"second"}, "author": {"bob"}})
		secondDone <- rec.Code
	}()

	// With the store still blocked, an empty-title request must fail
	// immediately instead of queueing behind the in-flight write.
	invalidDone := make(chan int, 1)
	go func() {
		rec := postForm(t, handler, "/issues", url.Values{"title": {"   "}})
		invalidDone <- rec.Code
	}()
	select {
	case code := <-invalidDone:
		if code != http.StatusBadRequest {
			t.Fatalf("invalid create status = %d, want 400", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("invalid request blocked on the write queue")
	}

	close(store.release)
	for _, done := range []chan int{firstDone, secondDone} {
		if code := <-done; code != http.StatusSeeOther {
			t.Fatalf("valid create status = %d, want %d", code, http.StatusSeeOther)
		}
	}

	// Both valid mutations were applied; neither was displaced.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/document", nil))
	var doc domain.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if len(doc.Issues) != 2 {
		t.Fatalf("issue count = %d, want 2: %+v", len(doc.Issues), doc.Issues)
	}
	titles := map[string]bool{}
	for _, issue := range doc.Issues {
		titles[issue.Title] = true
	}
	if !titles["first"] || !titles["second"] {
		t.Fatalf("issues = %+v, want first and second", doc.Issues)
	}
}

func TestRequestSpansParentSerializerTurns(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	handler, _ := newTestHandler(t)
	createTestIssue(t, handler, "Bug A")

	var requestSpan, turnSpan sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "POST /issues":
			requestSpan = span
		case "writer.turn":
			turnSpan = span
		}
	}
	if requestSpan == nil {
		t.Fatal("no span recorded for POST /issues")
	}
	if turnSpan == nil {
		t.Fatal("no span recorded for the serializer turn")
	}
	if turnSpan.Parent().SpanID() != requestSpan.SpanContext().SpanID() {
		t.Fatalf("turn span parent = %v, want the request span %v",
			turnSpan.Parent().SpanID(), requestSpan.SpanContext().SpanID())
	}
}

func TestWebSocketHelloAndEvents(t *testing.T) {
	handler, _ := newTestHandler(t)
	createTestIssue(t, handler, "Bug A")
	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, err := websocket.Dial(wsURL, "", server.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	var hello wsFrame
	if err := decoder.Decode(&hello); err != nil {
		t.Fatalf("read hello frame: %v", err)
	}
	if hello.Type != "tracker.hello" {
		t.Fatalf("frame type = %q, want tracker.hello", hello.Type)
	}
	var payload helloPayload
	if err := json.Unmarshal(hello.Payload, &payload); err != nil {
		t.Fatalf("decode hello payload: %v", err)
	}
	if len(payload.Document.Issues) != 1 {
		t.Fatalf("hello document = %+v, want one issue", payload.Document)
	}

	createTestIssue(t, handler, "Bug B")

	var frame wsFrame
	if err := decoder.Decode(&frame); err != nil {
		t.Fatalf("read event frame: %v", err)
	}
	if frame.Type != "tracker.event" {
		t.Fatalf("frame type = %q, want tracker.event", frame.Type)
	}
	var event domain.Event
	if err := json.Unmarshal(frame.Payload, &event); err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
	if event.Type != domain.EventIssueCreated || event.Issue == nil || event.Issue.Title != "Bug B" {
		t.Fatalf("event = %+v", event)
	}
}
