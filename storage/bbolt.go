package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

// BBolt is a file-backed Storage. Each namespace is a bucket.
type BBolt struct {
	db *bbolt.DB
}

// NewBBolt opens (or creates) the database at dbPath.
func NewBBolt(dbPath string) (*BBolt, error) {
	dir := filepath.Dir(dbPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.Debug().Str("dir", dir).Msg("storage: creating database directory")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to check database directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db at %s: %w", dbPath, err)
	}

	log.Debug().Str("path", dbPath).Msg("storage: bbolt opened")

	return &BBolt{db: db}, nil
}

// Get implements Storage.
func (s *BBolt) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	var value []byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		// The slice is only valid for the life of the transaction.
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s: %w", namespace, key, err)
	}

	return value, value != nil, nil
}

// Put implements Storage.
func (s *BBolt) Put(_ context.Context, namespace, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", namespace, err)
		}
		if err := b.Put([]byte(key), value); err != nil {
			return fmt.Errorf("failed to put %s/%s: %w", namespace, key, err)
		}
		return nil
	})
}

// Delete implements Storage.
func (s *BBolt) Delete(_ context.Context, namespace, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(key)); err != nil {
			return fmt.Errorf("failed to delete %s/%s: %w", namespace, key, err)
		}
		return nil
	})
}

// Close closes the database file.
func (s *BBolt) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ Storage = (*BBolt)(nil)
