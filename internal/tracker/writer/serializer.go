// Package writer serializes document mutations into single-file turns.
//
// At most one write is in flight at a time. While a write is running,
// newer submissions collapse into a single pending slot: the newest
// submission wins the slot and earlier waiters ride along on its turn.
// A replaced mutation never runs; its callers are released when the
// subsuming turn resolves.
package writer

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/tracklight/tracklight/internal/platform/errors"
	"github.com/tracklight/tracklight/internal/tracker/audit"
	"github.com/tracklight/tracklight/internal/tracker/broadcast"
	"github.com/tracklight/tracklight/internal/tracker/domain"
	"github.com/tracklight/tracklight/internal/tracker/storage"
)

var tracer = otel.Tracer("github.com/tracklight/tracklight/internal/tracker/writer")

// Mutation derives the next document from the current one. It must be
// pure: no I/O, no retained references to the input. It returns the
// next document, the event describing the change, and the audit label
// for the trail.
type Mutation func(doc domain.Document) (domain.Document, domain.Event, string, error)

type outcome struct {
	event domain.Event
	err   error
}

type request struct {
	ctx context.Context
	fn  Mutation
	// owner is the caller whose mutation runs; riders were coalesced
	// away and only learn how the subsuming turn resolved.
	owner  chan outcome
	riders []chan outcome
}

// Serializer owns the canonical in-memory document and funnels every
// mutation through one turn at a time: apply, persist, audit, publish.
type Serializer struct {
	store  storage.DocumentStore
	audit  *audit.Logger
	hub    *broadcast.Hub
	logger *log.Logger

	mu       sync.Mutex
	doc      domain.Document
	inFlight bool
	pending  *request
}

// New loads the persisted document and returns a serializer seeded with
// it. The audit logger and hub may be nil; both degrade to no-ops.
func New(ctx context.Context, store storage.DocumentStore, auditLog *audit.Logger, hub *broadcast.Hub, logger *log.Logger) (*Serializer, error) {
	doc, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Serializer{
		store:  store,
		audit:  auditLog,
		hub:    hub,
		logger: logger,
		doc:    doc,
	}, nil
}

// Document returns the current canonical document snapshot.
func (s *Serializer) Document() domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Submit applies a mutation through the serializer and blocks until the
// turn that accounts for it resolves.
//
// When the serializer is idle the mutation runs immediately on the
// calling goroutine. When a write is in flight the submission takes the
// pending slot, displacing any earlier pending submission: the
// displaced mutation is discarded and its callers become riders of this
// one. On success every waiter receives the turn's event; on failure
// the error goes only to the caller whose mutation ran, and riders are
// released with a zero event and nil error.
func (s *Serializer) Submit(ctx context.Context, fn Mutation) (domain.Event, error) {
	req := &request{ctx: ctx, fn: fn, owner: make(chan outcome, 1)}

	s.mu.Lock()
	if s.inFlight {
		if displaced := s.pending; displaced != nil {
			req.riders = append(displaced.riders, displaced.owner)
		}
		s.pending = req
		s.mu.Unlock()
	} else {
		s.inFlight = true
		s.mu.Unlock()
		s.run(req)
	}

	select {
	case out := <-req.owner:
		return out.event, out.err
	case <-ctx.Done():
		return domain.Event{}, ctx.Err()
	}
}

// run drives turns on the calling goroutine until no work is pending.
// The goroutine that set inFlight is the only one executing here, so
// turns never overlap.
func (s *Serializer) run(req *request) {
	for {
		s.turn(req)

		s.mu.Lock()
		next := s.pending
		s.pending = nil
		if next == nil {
			s.inFlight = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		req = next
	}
}

func (s *Serializer) turn(req *request) {
	ctx, span := tracer.Start(req.ctx, "writer.turn",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if err := ctx.Err(); err != nil {
		s.fail(span, req, err)
		return
	}

	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()

	next, event, label, err := req.fn(doc)
	if err != nil {
		s.fail(span, req, err)
		return
	}
	span.SetAttributes(attribute.String("tracker.event", string(event.Type)))

	if err := s.store.Save(ctx, next); err != nil {
		s.fail(span, req, apperrors.Wrap(apperrors.CodeStoreUnavailable, "save document", err))
		return
	}

	s.mu.Lock()
	s.doc = next
	s.mu.Unlock()

	// Audit is best-effort: a trail failure never fails a persisted
	// write.
	if err := s.audit.Record(ctx, label); err != nil {
		s.logger.Printf("writer: audit record failed: %v", err)
	}
	if s.hub != nil {
		s.hub.Publish(event)
	}

	req.owner <- outcome{event: event}
	for _, rider := range req.riders {
		rider <- outcome{event: event}
	}
}

// fail reports the error to the owner only. Riders never ran a
// mutation, so they are released without an event or an error.
func (s *Serializer) fail(span trace.Span, req *request, err error) {
	span.SetStatus(codes.Error, err.Error())
	req.owner <- outcome{err: err}
	for _, rider := range req.riders {
		rider <- outcome{}
	}
}
