package capability_test

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/pilab-dev/biolock/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBcryptHasher(t *testing.T) {
	hasher := capability.NewBcryptHasher(0)

	hash, err := hasher.Hash("1234")
	require.NoError(t, err)
	assert.NoError(t, hasher.Verify(hash, "1234"))
	assert.Error(t, hasher.Verify(hash, "4321"))

	t.Run("too long credential", func(t *testing.T) {
		tooLong := make([]byte, 73)
		_, _ = rand.Read(tooLong)

		_, err := hasher.Hash(string(tooLong))
		assert.Error(t, err)
	})
}

func reader(credential string, ok bool, err error) capability.CredentialReader {
	return func(context.Context, capability.PromptInfo) (string, bool, error) {
		return credential, ok, err
	}
}

func TestDeviceCredentialPrompter(t *testing.T) {
	ctx := context.Background()
	hasher := capability.NewBcryptHasher(4)
	info := capability.DefaultPromptInfo(capability.ModeDecrypt, "token_key")

	tests := []struct {
		name    string
		read    capability.CredentialReader
		want    capability.Outcome
		wantErr bool
	}{
		{name: "correct pin", read: reader("2468", true, nil), want: capability.OutcomeOK},
		{name: "wrong pin", read: reader("0000", true, nil), want: capability.OutcomeFailed},
		{name: "dismissed", read: reader("", false, nil), want: capability.OutcomeCancelled},
		{name: "reader error", read: reader("", false, errors.New("tty gone")), want: capability.OutcomeFailed, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := capability.NewDeviceCredentialPrompter(hasher, "2468", tt.read)
			require.NoError(t, err)

			got, err := p.Prompt(ctx, info)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStaticPrompter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := capability.StaticPrompter(capability.OutcomeOK).Prompt(ctx, capability.PromptInfo{})
	require.NoError(t, err)
	assert.Equal(t, capability.OutcomeCancelled, got)
}

func TestContextCredentialReader(t *testing.T) {
	hasher := capability.NewBcryptHasher(4)
	p, err := capability.NewDeviceCredentialPrompter(hasher, "2468", capability.ContextCredentialReader)
	require.NoError(t, err)
	info := capability.DefaultPromptInfo(capability.ModeEncrypt, "token_key")

	got, err := p.Prompt(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, capability.OutcomeCancelled, got, "no credential in context dismisses the prompt")

	got, err = p.Prompt(capability.WithCredential(context.Background(), "2468"), info)
	require.NoError(t, err)
	assert.Equal(t, capability.OutcomeOK, got)

	got, err = p.Prompt(capability.WithCredential(context.Background(), "1111"), info)
	require.NoError(t, err)
	assert.Equal(t, capability.OutcomeFailed, got)
}
