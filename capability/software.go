package capability

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	bioerrors "github.com/pilab-dev/biolock/errors"
	"github.com/pilab-dev/biolock/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeystoreNamespace is where key generations are persisted.
	KeystoreNamespace = "keystore"

	// IVSize is the size of the IV every cipher is initialized with.
	IVSize = chacha20poly1305.NonceSize

	// MinSecretSize is the minimum device secret length accepted.
	MinSecretSize = 32
)

var (
	// ErrCipherMode is returned when a cipher is used in the direction it was not initialized for.
	ErrCipherMode = errors.New("cipher used in the wrong mode")

	// ErrCipherUsed is returned when an encrypt-mode cipher is asked to seal a second time.
	// Each encryption unlock yields exactly one ciphertext under its IV.
	ErrCipherUsed = errors.New("cipher has already sealed a message")
)

// SoftwareKeystore is a Capability that stands in for secure hardware. Keys are
// derived from a device secret with HKDF and a per-key generation counter.
// Invalidating a key bumps its generation, so every cipher handed out before the
// bump fails closed from then on. Generations are read from storage on every
// unlock and every cipher use, so an invalidation made through another keystore
// sharing the storage takes effect immediately.
type SoftwareKeystore struct {
	mu           sync.Mutex
	secret       []byte
	store        storage.Storage
	prompter     Prompter
	availability Availability
	random       io.Reader
}

// KeystoreOption configures a SoftwareKeystore.
type KeystoreOption func(*SoftwareKeystore)

// WithAvailability overrides what CanAuthenticate reports.
func WithAvailability(a Availability) KeystoreOption {
	return func(ks *SoftwareKeystore) { ks.availability = a }
}

// WithRandom replaces the IV source.
func WithRandom(r io.Reader) KeystoreOption {
	return func(ks *SoftwareKeystore) { ks.random = r }
}

// NewSoftwareKeystore creates a keystore. secret must hold at least MinSecretSize bytes.
func NewSoftwareKeystore(secret []byte, store storage.Storage, prompter Prompter, opts ...KeystoreOption) (*SoftwareKeystore, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("device secret must be at least %d bytes, got %d", MinSecretSize, len(secret))
	}

	ks := &SoftwareKeystore{
		secret:       append([]byte(nil), secret...),
		store:        store,
		prompter:     prompter,
		availability: Available,
		random:       rand.Reader,
	}
	for _, opt := range opts {
		opt(ks)
	}

	return ks, nil
}

// SetAvailability changes what CanAuthenticate reports, e.g. after the user removed
// every enrolled fingerprint.
func (ks *SoftwareKeystore) SetAvailability(a Availability) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.availability = a
}

// CanAuthenticate implements Capability.
func (ks *SoftwareKeystore) CanAuthenticate(_ context.Context) Availability {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.availability
}

// AuthenticateForEncryption implements Capability. The key is created on first use.
func (ks *SoftwareKeystore) AuthenticateForEncryption(ctx context.Context, keyName string) Result {
	if a := ks.CanAuthenticate(ctx); a != Available {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %s", bioerrors.ErrCapabilityUnavailable, a)}
	}

	generation, err := ks.generation(ctx, keyName, true)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(ks.random, iv); err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("failed to generate iv: %w", err)}
	}

	c, err := ks.newCipher(keyName, generation, ModeEncrypt, iv)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	return ks.prompt(ctx, DefaultPromptInfo(ModeEncrypt, keyName), c)
}

// AuthenticateForDecryption implements Capability. iv must be the IV stored with the blob.
func (ks *SoftwareKeystore) AuthenticateForDecryption(ctx context.Context, keyName string, iv []byte) Result {
	if a := ks.CanAuthenticate(ctx); a != Available {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %s", bioerrors.ErrCapabilityUnavailable, a)}
	}
	if len(iv) != IVSize {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: iv must be %d bytes", bioerrors.ErrDecryption, IVSize)}
	}

	generation, err := ks.generation(ctx, keyName, false)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	c, err := ks.newCipher(keyName, generation, ModeDecrypt, append([]byte(nil), iv...))
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	return ks.prompt(ctx, DefaultPromptInfo(ModeDecrypt, keyName), c)
}

// InvalidateKey permanently invalidates keyName, as a biometric enrollment change would.
// Ciphers obtained earlier stop working; the next encryption unlock gets a fresh key.
func (ks *SoftwareKeystore) InvalidateKey(ctx context.Context, keyName string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	current, _, err := ks.loadGeneration(ctx, keyName)
	if err != nil {
		return err
	}
	next := current + 1
	if err := ks.storeGeneration(ctx, keyName, next); err != nil {
		return err
	}

	log.Info().Str("key", keyName).Uint64("generation", next).Msg("capability: key invalidated")

	return nil
}

func (ks *SoftwareKeystore) prompt(ctx context.Context, info PromptInfo, c Cipher) Result {
	outcome, err := ks.prompter.Prompt(ctx, info)
	switch {
	case ctx.Err() != nil:
		return Result{Outcome: OutcomeCancelled}
	case err != nil:
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %w", bioerrors.ErrCapabilityFailed, err)}
	case outcome == OutcomeOK:
		return Result{Outcome: OutcomeOK, Cipher: c}
	case outcome == OutcomeCancelled:
		return Result{Outcome: OutcomeCancelled}
	default:
		return Result{Outcome: OutcomeFailed, Err: bioerrors.ErrCapabilityDeclined}
	}
}

// generation returns the current generation of keyName. When create is set a
// missing key is created with generation 1.
func (ks *SoftwareKeystore) generation(ctx context.Context, keyName string, create bool) (uint64, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	g, found, err := ks.loadGeneration(ctx, keyName)
	if err != nil {
		return 0, err
	}
	if !found || g == 0 {
		if !create {
			return 0, fmt.Errorf("%w: key %q does not exist", bioerrors.ErrKeyInvalidated, keyName)
		}
		g = 1
		if err := ks.storeGeneration(ctx, keyName, g); err != nil {
			return 0, err
		}
	}
	return g, nil
}

func (ks *SoftwareKeystore) loadGeneration(ctx context.Context, keyName string) (uint64, bool, error) {
	raw, found, err := ks.store.Get(ctx, KeystoreNamespace, keyName)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load key %q: %w", keyName, err)
	}
	if !found {
		return 0, false, nil
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("corrupt generation for key %q", keyName)
	}

	return binary.BigEndian.Uint64(raw), true, nil
}

func (ks *SoftwareKeystore) storeGeneration(ctx context.Context, keyName string, g uint64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, g)
	if err := ks.store.Put(ctx, KeystoreNamespace, keyName, raw); err != nil {
		return fmt.Errorf("failed to store key %q: %w", keyName, err)
	}
	return nil
}

// checkGeneration fails unless generation is still the stored generation of keyName.
// Storage errors fail closed.
func (ks *SoftwareKeystore) checkGeneration(ctx context.Context, keyName string, generation uint64) error {
	current, found, err := ks.loadGeneration(ctx, keyName)
	if err != nil {
		return fmt.Errorf("%w: %w", bioerrors.ErrKeyInvalidated, err)
	}
	if !found || current != generation {
		return bioerrors.ErrKeyInvalidated
	}
	return nil
}

func (ks *SoftwareKeystore) newCipher(keyName string, generation uint64, mode Mode, iv []byte) (*aeadCipher, error) {
	info := make([]byte, 0, len(keyName)+9)
	info = append(info, keyName...)
	info = append(info, 0)
	info = binary.BigEndian.AppendUint64(info, generation)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ks.secret, nil, info), key); err != nil {
		return nil, fmt.Errorf("failed to derive key %q: %w", keyName, err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	return &aeadCipher{
		ks:         ks,
		keyName:    keyName,
		generation: generation,
		mode:       mode,
		iv:         iv,
		aead:       aead,
	}, nil
}

type aeadCipher struct {
	ks         *SoftwareKeystore
	keyName    string
	generation uint64
	mode       Mode
	iv         []byte
	aead       cipher.AEAD
	sealed     atomic.Bool
}

func (c *aeadCipher) Mode() Mode { return c.mode }

func (c *aeadCipher) IV() []byte { return append([]byte(nil), c.iv...) }

func (c *aeadCipher) additionalData() []byte {
	return []byte(c.keyName)
}

func (c *aeadCipher) Seal(plaintext []byte) ([]byte, error) {
	if c.mode != ModeEncrypt {
		return nil, ErrCipherMode
	}
	if err := c.ks.checkGeneration(context.Background(), c.keyName, c.generation); err != nil {
		return nil, err
	}
	if !c.sealed.CompareAndSwap(false, true) {
		return nil, ErrCipherUsed
	}

	return c.aead.Seal(nil, c.iv, plaintext, c.additionalData()), nil
}

func (c *aeadCipher) Open(ciphertext []byte) ([]byte, error) {
	if c.mode != ModeDecrypt {
		return nil, ErrCipherMode
	}
	if err := c.ks.checkGeneration(context.Background(), c.keyName, c.generation); err != nil {
		return nil, err
	}

	plaintext, err := c.aead.Open(nil, c.iv, ciphertext, c.additionalData())
	if err != nil {
		return nil, err
	}

	return plaintext, nil
}

// SameIV reports whether a and b are the same IV, in constant time.
func SameIV(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

var _ Capability = (*SoftwareKeystore)(nil)
