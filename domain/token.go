package domain

import "context"

// Token is an opaque session token issued by the backend.
type Token string

// String returns the raw token value.
func (t Token) String() string { return string(t) }

// IsZero reports whether the token is empty.
func (t Token) IsZero() bool { return t == "" }

// LoginResult is the outcome emitted once per login attempt.
type LoginResult int

const (
	// LoginResultSuccess means a session is established and the registry holds its token.
	LoginResultSuccess LoginResult = iota + 1
	// LoginResultRequirePin means the recovered token was rejected and the user must enter a PIN.
	LoginResultRequirePin
)

func (r LoginResult) String() string {
	switch r {
	case LoginResultSuccess:
		return "success"
	case LoginResultRequirePin:
		return "require_pin"
	default:
		return "unknown"
	}
}

// TokenRegistry tracks the current session token and every token it superseded.
//
// UpdateToken is a no-op when the new token equals the current one. Otherwise the
// previous non-empty token is marked expired before it is replaced. Expired tokens
// are never forgotten.
type TokenRegistry interface {
	UpdateToken(ctx context.Context, token Token) error
	CurrentToken(ctx context.Context) (Token, bool, error)
	IsExpired(ctx context.Context, token Token) (bool, error)
}
