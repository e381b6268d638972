// Package jsonfile provides a JSON-snapshot document store. Every save
// writes the full document to a temp file in the same directory, fsyncs it,
// and renames it over the previous snapshot, so a concurrent load observes
// either the old or the new document and never a torn write.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/tracklight/tracklight/internal/platform/errors"
	"github.com/tracklight/tracklight/internal/tracker/domain"
	"github.com/tracklight/tracklight/internal/tracker/storage"
)

// Store persists the document as a single JSON file on disk.
type Store struct {
	path string
}

// Open validates the snapshot path and returns a file-backed store. The
// file itself is created lazily on first Load or Save.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("document path is required")
	}
	return &Store{path: filepath.Clean(path)}, nil
}

// Close releases store resources. A file-backed store holds no open handle
// between operations, so Close only exists to satisfy the store contract.
func (s *Store) Close() error {
	return nil
}

// Load reads the persisted document. When no snapshot exists yet the store
// initializes a fresh empty document and persists it before returning. A
// snapshot that exists but cannot be read or decoded is surfaced as
// StoreUnavailable rather than silently reinitialized.
func (s *Store) Load(ctx context.Context) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}
	if s == nil || s.path == "" {
		return domain.Document{}, fmt.Errorf("storage is not configured")
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return domain.Document{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "read document snapshot", err)
		}
		doc := domain.NewDocument()
		if err := s.Save(ctx, doc); err != nil {
			return domain.Document{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "initialize document snapshot", err)
		}
		return doc, nil
	}

	var doc domain.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return domain.Document{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "decode document snapshot", err)
	}
	if doc.NextID < 1 {
		doc.NextID = 1
	}
	return doc, nil
}

// Save atomically replaces the persisted snapshot with the given document.
func (s *Store) Save(ctx context.Context, doc domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.path == "" {
		return fmt.Errorf("storage is not configured")
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "create document directory", err)
	}

	// The temp file must live in the target directory so the rename stays
	// on one filesystem and remains atomic.
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "create temp snapshot", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "write temp snapshot", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "sync temp snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "close temp snapshot", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "replace document snapshot", err)
	}
	return nil
}

var _ storage.DocumentStore = (*Store)(nil)
