// Package capability models the secure cipher capability: a platform service that
// hands out an initialized cipher only after the user passed a biometric or
// device-credential check.
//
// The unlock is the one blocking boundary of the login flow. It resolves to a
// Result that is either OutcomeOK with a usable cipher, OutcomeCancelled when the
// user dismissed the prompt (or the context ended), or OutcomeFailed with a reason.
// Callers never see a cipher on anything but OutcomeOK.
package capability

import "context"

// Mode is the direction a cipher was initialized for.
type Mode int

const (
	ModeEncrypt Mode = iota + 1
	ModeDecrypt
)

func (m Mode) String() string {
	switch m {
	case ModeEncrypt:
		return "encrypt"
	case ModeDecrypt:
		return "decrypt"
	default:
		return "unknown"
	}
}

// Cipher is a key-bound operator initialized for exactly one direction. A decrypt
// cipher is bound to the IV it was initialized with.
type Cipher interface {
	Mode() Mode
	IV() []byte
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// Outcome is how an authentication prompt resolved.
type Outcome int

const (
	OutcomeOK Outcome = iota + 1
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the resolution of an authenticate call. Cipher is only set when
// Outcome is OutcomeOK; Err explains OutcomeFailed.
type Result struct {
	Outcome Outcome
	Cipher  Cipher
	Err     error
}

// OK reports whether the result carries a usable cipher.
func (r Result) OK() bool {
	return r.Outcome == OutcomeOK && r.Cipher != nil
}

// Availability reports whether the capability can be used at all.
type Availability int

const (
	Available Availability = iota
	NoHardware
	NotEnrolled
)

func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case NoHardware:
		return "no_hardware"
	case NotEnrolled:
		return "not_enrolled"
	default:
		return "unknown"
	}
}

// Capability hands out ciphers gated behind user authentication.
type Capability interface {
	CanAuthenticate(ctx context.Context) Availability
	AuthenticateForEncryption(ctx context.Context, keyName string) Result
	AuthenticateForDecryption(ctx context.Context, keyName string, iv []byte) Result
}
