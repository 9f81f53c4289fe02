package tokenstore_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/pilab-dev/biolock/capability"
	"github.com/pilab-dev/biolock/domain"
	bioerrors "github.com/pilab-dev/biolock/errors"
	"github.com/pilab-dev/biolock/storage"
	"github.com/pilab-dev/biolock/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keyName = "biometric_sample_encryption_key"

type fixture struct {
	ks    *capability.SoftwareKeystore
	store *tokenstore.Store
	kv    storage.Storage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	kv := storage.NewMemory()
	ks, err := capability.NewSoftwareKeystore(bytes.Repeat([]byte{7}, 32), kv, capability.StaticPrompter(capability.OutcomeOK))
	require.NoError(t, err)

	return &fixture{ks: ks, store: tokenstore.New(kv), kv: kv}
}

func (f *fixture) encryptCipher(t *testing.T) capability.Cipher {
	t.Helper()
	res := f.ks.AuthenticateForEncryption(context.Background(), keyName)
	require.True(t, res.OK(), "unlock for encryption: %v", res.Err)
	return res.Cipher
}

func (f *fixture) decryptCipher(t *testing.T, iv []byte) capability.Cipher {
	t.Helper()
	res := f.ks.AuthenticateForDecryption(context.Background(), keyName, iv)
	require.True(t, res.OK(), "unlock for decryption: %v", res.Err)
	return res.Cipher
}

func TestRoundTripThroughStorage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, token := range []domain.Token{"3f1c5c2e-6a0b-4c1e-9a57-0d9f4b2f7e11", "x", ""} {
		blob, err := tokenstore.Encrypt(token, f.encryptCipher(t))
		require.NoError(t, err)
		assert.Equal(t, domain.BlobVersion, blob.Version)
		assert.NotEqual(t, []byte(token), blob.Ciphertext)

		require.NoError(t, f.store.Persist(ctx, blob, domain.DefaultDestination))

		loaded, found, err := f.store.Load(ctx, domain.DefaultDestination)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, blob, loaded)

		got, err := tokenstore.Decrypt(loaded, f.decryptCipher(t, loaded.IV))
		require.NoError(t, err)
		assert.Equal(t, token, got)
	}
}

func TestLoad_Absent(t *testing.T) {
	f := newFixture(t)

	blob, found, err := f.store.Load(context.Background(), domain.DefaultDestination)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, blob)
}

func TestPersist_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := tokenstore.Encrypt("first", f.encryptCipher(t))
	require.NoError(t, err)
	second, err := tokenstore.Encrypt("second", f.encryptCipher(t))
	require.NoError(t, err)

	require.NoError(t, f.store.Persist(ctx, first, domain.DefaultDestination))
	require.NoError(t, f.store.Persist(ctx, second, domain.DefaultDestination))

	loaded, _, err := f.store.Load(ctx, domain.DefaultDestination)
	require.NoError(t, err)
	got, err := tokenstore.Decrypt(loaded, f.decryptCipher(t, loaded.IV))
	require.NoError(t, err)
	assert.Equal(t, domain.Token("second"), got)
}

func TestDecrypt_DifferentIVFails(t *testing.T) {
	f := newFixture(t)

	blob, err := tokenstore.Encrypt("session", f.encryptCipher(t))
	require.NoError(t, err)

	otherIV := append([]byte(nil), blob.IV...)
	otherIV[len(otherIV)-1] ^= 0x01

	got, err := tokenstore.Decrypt(blob, f.decryptCipher(t, otherIV))
	assert.ErrorIs(t, err, bioerrors.ErrDecryption)
	assert.Empty(t, got)

	// Even if the blob's IV is rewritten to match the cipher, the AEAD check fails.
	tampered := *blob
	tampered.IV = otherIV
	got, err = tokenstore.Decrypt(&tampered, f.decryptCipher(t, otherIV))
	assert.ErrorIs(t, err, bioerrors.ErrDecryption)
	assert.Empty(t, got)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	f := newFixture(t)

	blob, err := tokenstore.Encrypt("session", f.encryptCipher(t))
	require.NoError(t, err)
	blob.Ciphertext[0] ^= 0xff

	got, err := tokenstore.Decrypt(blob, f.decryptCipher(t, blob.IV))
	assert.ErrorIs(t, err, bioerrors.ErrDecryption)
	assert.Empty(t, got)
}

func TestWrongModes(t *testing.T) {
	f := newFixture(t)

	enc := f.encryptCipher(t)
	blob, err := tokenstore.Encrypt("session", enc)
	require.NoError(t, err)

	_, err = tokenstore.Encrypt("session", f.decryptCipher(t, blob.IV))
	assert.ErrorIs(t, err, bioerrors.ErrEncryption)

	_, err = tokenstore.Decrypt(blob, enc)
	assert.ErrorIs(t, err, bioerrors.ErrDecryption)

	_, err = tokenstore.Encrypt("session", nil)
	assert.ErrorIs(t, err, bioerrors.ErrEncryption)
}

func TestKeyInvalidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	enc := f.encryptCipher(t)
	blob, err := tokenstore.Encrypt("session", enc)
	require.NoError(t, err)

	require.NoError(t, f.ks.InvalidateKey(ctx, keyName))

	_, err = tokenstore.Encrypt("session", enc)
	assert.ErrorIs(t, err, bioerrors.ErrEncryption)
	assert.ErrorIs(t, err, bioerrors.ErrKeyInvalidated)

	got, err := tokenstore.Decrypt(blob, f.decryptCipher(t, blob.IV))
	assert.ErrorIs(t, err, bioerrors.ErrDecryption)
	assert.Empty(t, got)
}

func TestLoad_RejectsUnknownVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.kv.Put(ctx, domain.DefaultDestination.Namespace, domain.DefaultDestination.Key,
		[]byte(`{"version":2,"ciphertext":"AAAA","iv":"AAAA"}`)))

	_, found, err := f.store.Load(ctx, domain.DefaultDestination)
	assert.ErrorIs(t, err, bioerrors.ErrUnsupportedBlobVersion)
	assert.False(t, found)

	require.NoError(t, f.kv.Put(ctx, domain.DefaultDestination.Namespace, domain.DefaultDestination.Key, []byte("not json")))
	_, _, err = f.store.Load(ctx, domain.DefaultDestination)
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	blob, err := tokenstore.Encrypt("session", f.encryptCipher(t))
	require.NoError(t, err)
	require.NoError(t, f.store.Persist(ctx, blob, domain.DefaultDestination))
	require.NoError(t, f.store.Clear(ctx, domain.DefaultDestination))

	_, found, err := f.store.Load(ctx, domain.DefaultDestination)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDecrypt_KeyInvalidatedByAnotherKeystore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	blob, err := tokenstore.Encrypt("tok", f.encryptCipher(t))
	require.NoError(t, err)
	dec := f.decryptCipher(t, blob.IV)

	other, err := capability.NewSoftwareKeystore(bytes.Repeat([]byte{7}, 32), f.kv, capability.StaticPrompter(capability.OutcomeOK))
	require.NoError(t, err)
	require.NoError(t, other.InvalidateKey(ctx, keyName))

	got, err := tokenstore.Decrypt(blob, dec)
	assert.ErrorIs(t, err, bioerrors.ErrDecryption)
	assert.Empty(t, got)

	got, err = tokenstore.Decrypt(blob, f.decryptCipher(t, blob.IV))
	assert.ErrorIs(t, err, bioerrors.ErrDecryption)
	assert.Empty(t, got)
}

func TestEncrypt_CipherSealsOnce(t *testing.T) {
	f := newFixture(t)
	enc := f.encryptCipher(t)

	_, err := tokenstore.Encrypt("first", enc)
	require.NoError(t, err)

	_, err = tokenstore.Encrypt("second", enc)
	assert.ErrorIs(t, err, bioerrors.ErrEncryption)
	assert.ErrorIs(t, err, capability.ErrCipherUsed)
}
