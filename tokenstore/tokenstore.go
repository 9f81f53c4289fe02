// Package tokenstore encrypts the session token with a capability-issued cipher
// and persists the result as a versioned blob.
//
// Decryption fails closed: on any mismatch (wrong mode, wrong IV, invalidated key,
// tampered ciphertext) the caller gets errors.ErrDecryption and never any plaintext.
package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pilab-dev/biolock/capability"
	"github.com/pilab-dev/biolock/domain"
	bioerrors "github.com/pilab-dev/biolock/errors"
	"github.com/pilab-dev/biolock/storage"
	"github.com/rs/zerolog/log"
)

// Encrypt seals token with an encrypt-mode cipher and returns the ciphertext together
// with the cipher's IV.
func Encrypt(token domain.Token, c capability.Cipher) (*domain.EncryptedBlob, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: no cipher", bioerrors.ErrEncryption)
	}
	if c.Mode() != capability.ModeEncrypt {
		return nil, fmt.Errorf("%w: %w", bioerrors.ErrEncryption, capability.ErrCipherMode)
	}

	ciphertext, err := c.Seal([]byte(token))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bioerrors.ErrEncryption, err)
	}

	return &domain.EncryptedBlob{
		Version:    domain.BlobVersion,
		Ciphertext: ciphertext,
		IV:         c.IV(),
	}, nil
}

// Decrypt opens blob with a decrypt-mode cipher that was initialized with blob.IV.
func Decrypt(blob *domain.EncryptedBlob, c capability.Cipher) (domain.Token, error) {
	if blob == nil || c == nil {
		return "", fmt.Errorf("%w: missing blob or cipher", bioerrors.ErrDecryption)
	}
	if c.Mode() != capability.ModeDecrypt {
		return "", fmt.Errorf("%w: %w", bioerrors.ErrDecryption, capability.ErrCipherMode)
	}
	if !capability.SameIV(c.IV(), blob.IV) {
		return "", fmt.Errorf("%w: cipher iv does not match blob", bioerrors.ErrDecryption)
	}

	plaintext, err := c.Open(blob.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %w", bioerrors.ErrDecryption, err)
	}

	return domain.Token(plaintext), nil
}

// Store persists encrypted blobs into a Storage.
type Store struct {
	storage storage.Storage
}

// New creates a Store on top of s.
func New(s storage.Storage) *Store {
	return &Store{storage: s}
}

// Persist writes blob to dest, replacing whatever was there.
func (s *Store) Persist(ctx context.Context, blob *domain.EncryptedBlob, dest domain.Destination) error {
	if blob == nil {
		return fmt.Errorf("cannot persist a nil blob")
	}

	record := *blob
	if record.Version == 0 {
		record.Version = domain.BlobVersion
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode blob: %w", err)
	}
	if err := s.storage.Put(ctx, dest.Namespace, dest.Key, raw); err != nil {
		return fmt.Errorf("failed to persist blob: %w", err)
	}

	log.Debug().Str("namespace", dest.Namespace).Str("key", dest.Key).Msg("tokenstore: blob persisted")

	return nil
}

// Load returns the blob stored at dest. found is false if nothing was ever persisted.
func (s *Store) Load(ctx context.Context, dest domain.Destination) (*domain.EncryptedBlob, bool, error) {
	raw, found, err := s.storage.Get(ctx, dest.Namespace, dest.Key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load blob: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	var blob domain.EncryptedBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, false, fmt.Errorf("failed to decode blob: %w", err)
	}
	if blob.Version != domain.BlobVersion {
		return nil, false, fmt.Errorf("%w: %d", bioerrors.ErrUnsupportedBlobVersion, blob.Version)
	}

	return &blob, true, nil
}

// Clear removes the blob at dest.
func (s *Store) Clear(ctx context.Context, dest domain.Destination) error {
	if err := s.storage.Delete(ctx, dest.Namespace, dest.Key); err != nil {
		return fmt.Errorf("failed to clear blob: %w", err)
	}
	return nil
}
