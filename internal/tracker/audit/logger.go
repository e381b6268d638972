// Package audit records the human-readable trail of accepted mutations.
// The trail is best-effort: recording failures are reported to the caller
// for logging but must never block or roll back the document save they
// describe.
package audit

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/tracklight/tracklight/internal/platform/errors"
	"github.com/tracklight/tracklight/internal/tracker/storage"
)

// Logger appends audit labels to a backing store.
type Logger struct {
	store storage.AuditStore
	clock func() time.Time
}

// NewLogger creates a new audit logger.
func NewLogger(store storage.AuditStore) *Logger {
	return &Logger{store: store, clock: time.Now}
}

// Record appends one audit label. It is a no-op when the store is nil.
func (l *Logger) Record(ctx context.Context, label string) error {
	if l == nil || l.store == nil {
		return nil
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return apperrors.New(apperrors.CodeAuditLabelEmpty, "audit label is required")
	}

	now := time.Now
	if l.clock != nil {
		now = l.clock
	}
	record := storage.AuditRecord{
		Label:      label,
		RecordedAt: now().UTC(),
	}
	if err := l.store.AppendAuditRecord(ctx, record); err != nil {
		return apperrors.Wrap(apperrors.CodeAuditLogFailure, "append audit record", err)
	}
	return nil
}

// Recent returns the most recent audit records, newest first.
func (l *Logger) Recent(ctx context.Context, limit int) ([]storage.AuditRecord, error) {
	if l == nil || l.store == nil {
		return nil, nil
	}
	return l.store.ListAuditRecords(ctx, limit)
}
