package storage

import (
	"context"

	"github.com/jellydator/ttlcache/v3"
)

// Memory is a process-local Storage, mainly for tests and the demo CLI.
type Memory struct {
	cache *ttlcache.Cache[string, []byte]
}

// NewMemory creates an empty in-memory store. Entries never expire.
func NewMemory() *Memory {
	return &Memory{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, []byte](ttlcache.NoTTL),
			ttlcache.WithDisableTouchOnHit[string, []byte](),
		),
	}
}

func memoryKey(namespace, key string) string {
	return namespace + "/" + key
}

// Get implements Storage.
func (s *Memory) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	item := s.cache.Get(memoryKey(namespace, key))
	if item == nil {
		return nil, false, nil
	}

	stored := item.Value()
	value := make([]byte, len(stored))
	copy(value, stored)

	return value, true, nil
}

// Put implements Storage.
func (s *Memory) Put(_ context.Context, namespace, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.cache.Set(memoryKey(namespace, key), stored, ttlcache.NoTTL)

	return nil
}

// Delete implements Storage.
func (s *Memory) Delete(_ context.Context, namespace, key string) error {
	s.cache.Delete(memoryKey(namespace, key))

	return nil
}

// Close drops every entry.
func (s *Memory) Close() error {
	s.cache.DeleteAll()

	return nil
}

var _ Storage = (*Memory)(nil)
