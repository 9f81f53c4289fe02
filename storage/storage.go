// Package storage provides the durable key-value storage the encrypted token
// blob and the software keystore persist into. Values are opaque bytes addressed
// by a namespace and a key; a Put always replaces the previous value wholesale.
package storage

import (
	"context"
	"io"
)

// Storage is a namespaced byte store.
type Storage interface {
	io.Closer

	// Get returns the value stored under namespace/key. found is false when nothing
	// was ever stored there.
	Get(ctx context.Context, namespace, key string) (value []byte, found bool, err error)

	// Put stores value under namespace/key, overwriting any previous value.
	Put(ctx context.Context, namespace, key string, value []byte) error

	// Delete removes namespace/key. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error
}

// Backend names a Storage implementation.
type Backend string

const (
	BackendBBolt  Backend = "bbolt"
	BackendRedis  Backend = "redis"
	BackendMongo  Backend = "mongo"
	BackendMemory Backend = "memory"
)
