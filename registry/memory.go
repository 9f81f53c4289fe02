// Package registry holds the session token registry: the current token and the
// set of tokens it has superseded. Every rotation expires the previous token,
// which stands in for server-side token invalidation.
package registry

import (
	"context"
	"sync"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pilab-dev/biolock/domain"
	"github.com/rs/zerolog/log"
)

// Memory is an in-process TokenRegistry.
type Memory struct {
	mu      sync.Mutex
	current domain.Token
	expired *ttlcache.Cache[string, struct{}]
}

// NewMemory returns an empty registry.
func NewMemory() *Memory {
	// Expired tokens never leave the set, so there is no TTL and no cleanup loop.
	expired := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](ttlcache.NoTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)

	return &Memory{expired: expired}
}

// UpdateToken implements domain.TokenRegistry.
func (m *Memory) UpdateToken(_ context.Context, token domain.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == m.current {
		return nil
	}
	if !m.current.IsZero() {
		m.expired.Set(HashToken(m.current), struct{}{}, ttlcache.NoTTL)
	}
	m.current = token
	log.Debug().Int("expired", m.expired.Len()).Msg("registry: token rotated")

	return nil
}

// CurrentToken implements domain.TokenRegistry.
func (m *Memory) CurrentToken(_ context.Context) (domain.Token, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current, !m.current.IsZero(), nil
}

// IsExpired implements domain.TokenRegistry.
func (m *Memory) IsExpired(_ context.Context, token domain.Token) (bool, error) {
	return m.expired.Has(HashToken(token)), nil
}

// ExpiredCount returns how many tokens have been superseded.
func (m *Memory) ExpiredCount() int {
	return m.expired.Len()
}

var _ domain.TokenRegistry = (*Memory)(nil)
