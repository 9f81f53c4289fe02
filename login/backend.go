package login

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pilab-dev/biolock/domain"
)

// Backend is the server side of the login: it exchanges credentials for a fresh
// session token.
type Backend interface {
	LoginWithPassword(ctx context.Context, username, password string) (domain.Token, error)
	LoginWithPin(ctx context.Context, pin string) (domain.Token, error)
}

// FakeBackend stands in for the network. It accepts every credential and mints a
// random UUID token per call.
type FakeBackend struct {
	mu             sync.Mutex
	passwordLogins int
	pinLogins      int
	newToken       func() string
}

// NewFakeBackend creates a FakeBackend issuing UUIDv4 tokens.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{newToken: uuid.NewString}
}

// LoginWithPassword implements Backend.
func (b *FakeBackend) LoginWithPassword(ctx context.Context, _, _ string) (domain.Token, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.passwordLogins++

	return domain.Token(b.newToken()), nil
}

// LoginWithPin implements Backend.
func (b *FakeBackend) LoginWithPin(ctx context.Context, _ string) (domain.Token, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pinLogins++

	return domain.Token(b.newToken()), nil
}

// Calls returns how many password and PIN logins were served.
func (b *FakeBackend) Calls() (password, pin int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.passwordLogins, b.pinLogins
}

var _ Backend = (*FakeBackend)(nil)
