// Package bbolt provides a BoltDB-backed document store. The whole document
// is kept JSON-encoded under a single bucket key; Bolt's transactions give
// the atomic save-versus-load guarantee the store contract requires.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	apperrors "github.com/tracklight/tracklight/internal/platform/errors"
	"github.com/tracklight/tracklight/internal/tracker/domain"
	"github.com/tracklight/tracklight/internal/tracker/storage"
)

const (
	documentBucket = "tracker"
	documentKey    = "document"
)

// Store provides a BoltDB-backed document store.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load fetches the persisted document, initializing and persisting a fresh
// empty document when none has been saved yet.
func (s *Store) Load(ctx context.Context) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}
	if s == nil || s.db == nil {
		return domain.Document{}, fmt.Errorf("storage is not configured")
	}

	var doc domain.Document
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentBucket))
		if bucket == nil {
			return fmt.Errorf("document bucket is missing")
		}
		payload := bucket.Get([]byte(documentKey))
		if payload == nil {
			return nil
		}
		if err := json.Unmarshal(payload, &doc); err != nil {
			return fmt.Errorf("unmarshal document: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return domain.Document{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "load document", err)
	}
	if !found {
		doc = domain.NewDocument()
		if err := s.Save(ctx, doc); err != nil {
			return domain.Document{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "initialize document", err)
		}
	}
	return doc, nil
}

// Save persists the document snapshot in a single write transaction.
func (s *Store) Save(ctx context.Context, doc domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentBucket))
		if bucket == nil {
			return fmt.Errorf("document bucket is missing")
		}
		return bucket.Put([]byte(documentKey), payload)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "save document", err)
	}
	return nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(documentBucket))
		if err != nil {
			return fmt.Errorf("create document bucket: %w", err)
		}
		return nil
	})
}

var _ storage.DocumentStore = (*Store)(nil)
