package capability

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// PromptInfo describes the prompt shown to the user.
type PromptInfo struct {
	Title          string
	Subtitle       string
	Description    string
	NegativeButton string
	Purpose        Mode
	KeyName        string
}

// DefaultPromptInfo returns the prompt text used by the login flow.
func DefaultPromptInfo(purpose Mode, keyName string) PromptInfo {
	return PromptInfo{
		Title:          "Biometric login",
		Subtitle:       "Log in using your biometric credential",
		Description:    "Confirm your identity to unlock the stored session",
		NegativeButton: "Use account password",
		Purpose:        purpose,
		KeyName:        keyName,
	}
}

// Prompter asks the user to authenticate. A non-nil error is treated as OutcomeFailed.
type Prompter interface {
	Prompt(ctx context.Context, info PromptInfo) (Outcome, error)
}

// PrompterFunc adapts a function to a Prompter.
type PrompterFunc func(ctx context.Context, info PromptInfo) (Outcome, error)

// Prompt implements Prompter.
func (f PrompterFunc) Prompt(ctx context.Context, info PromptInfo) (Outcome, error) {
	return f(ctx, info)
}

// StaticPrompter always resolves to the same outcome.
type StaticPrompter Outcome

// Prompt implements Prompter.
func (p StaticPrompter) Prompt(ctx context.Context, _ PromptInfo) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return OutcomeCancelled, nil
	}
	return Outcome(p), nil
}

// CredentialHasher hashes and verifies device credentials.
type CredentialHasher interface {
	Hash(credential string) (string, error)
	Verify(hashedCredential, credential string) error
}

// BcryptHasher implements CredentialHasher with bcrypt.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher creates a BcryptHasher. bcrypt.DefaultCost is used if cost <= 0.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

// Hash generates a bcrypt hash for the credential.
func (h *BcryptHasher) Hash(credential string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(credential), h.Cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash generation failed: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when credential matches hashedCredential.
func (h *BcryptHasher) Verify(hashedCredential, credential string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedCredential), []byte(credential))
}

// CredentialReader collects the device credential from the user. ok is false
// when the user dismissed the prompt.
type CredentialReader func(ctx context.Context, info PromptInfo) (credential string, ok bool, err error)

type credentialKey struct{}

// WithCredential returns a copy of ctx carrying a device credential for
// ContextCredentialReader, e.g. one taken from a request header.
func WithCredential(ctx context.Context, credential string) context.Context {
	return context.WithValue(ctx, credentialKey{}, credential)
}

// ContextCredentialReader is a CredentialReader for non-interactive callers. A
// context without a credential dismisses the prompt.
func ContextCredentialReader(ctx context.Context, _ PromptInfo) (string, bool, error) {
	credential, ok := ctx.Value(credentialKey{}).(string)
	return credential, ok, nil
}

// DeviceCredentialPrompter is the device PIN fallback used when no biometric
// sensor is present. The entered PIN is checked against a stored hash.
type DeviceCredentialPrompter struct {
	hasher CredentialHasher
	hash   string
	read   CredentialReader
}

// NewDeviceCredentialPrompter hashes devicePIN and returns a prompter that accepts only it.
func NewDeviceCredentialPrompter(hasher CredentialHasher, devicePIN string, read CredentialReader) (*DeviceCredentialPrompter, error) {
	hash, err := hasher.Hash(devicePIN)
	if err != nil {
		return nil, fmt.Errorf("failed to hash device credential: %w", err)
	}

	return &DeviceCredentialPrompter{
		hasher: hasher,
		hash:   hash,
		read:   read,
	}, nil
}

// Prompt implements Prompter.
func (p *DeviceCredentialPrompter) Prompt(ctx context.Context, info PromptInfo) (Outcome, error) {
	credential, ok, err := p.read(ctx, info)
	if err != nil {
		return OutcomeFailed, err
	}
	if !ok || ctx.Err() != nil {
		return OutcomeCancelled, nil
	}

	if err := p.hasher.Verify(p.hash, credential); err != nil {
		log.Debug().Str("key", info.KeyName).Msg("capability: device credential rejected")
		return OutcomeFailed, nil
	}

	return OutcomeOK, nil
}

var _ CredentialHasher = (*BcryptHasher)(nil)
