// Package storage defines the persistence seams for the tracker: the
// whole-document store the write serializer saves through, and the audit
// record journal the audit logger appends to.
package storage

import (
	"context"
	"time"

	apperrors "github.com/tracklight/tracklight/internal/platform/errors"
	"github.com/tracklight/tracklight/internal/tracker/domain"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrStoreUnavailable indicates the durable store could not serve a read or
// write. The serializer surfaces it to the caller whose mutation ran.
var ErrStoreUnavailable = apperrors.New(apperrors.CodeStoreUnavailable, "document store unavailable")

// DocumentStore persists the tracked-issue document as a whole. Save must be
// atomic with respect to any concurrent Load: a reader observes either the
// fully-old or fully-new document, never a partial write.
type DocumentStore interface {
	// Load returns the persisted document, initializing and persisting a
	// fresh empty document when none exists yet.
	Load(ctx context.Context) (domain.Document, error)
	// Save overwrites the persisted document with the given snapshot.
	Save(ctx context.Context, doc domain.Document) error
	Close() error
}

// AuditRecord is one human-readable audit trail entry, appended per
// successfully persisted mutation, in persisted order.
type AuditRecord struct {
	Seq        int64
	Label      string
	RecordedAt time.Time
}

// AuditStore owns the durable audit trail, kept separately from the
// document itself and allowed to be slower or less reliable.
type AuditStore interface {
	AppendAuditRecord(ctx context.Context, record AuditRecord) error
	// ListAuditRecords returns the most recent records, newest first.
	ListAuditRecords(ctx context.Context, limit int) ([]AuditRecord, error)
	Close() error
}
