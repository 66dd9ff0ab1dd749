package local

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/custodia-go/bundle"
	"github.com/custodia-labs/custodia-go/stamp"
	"github.com/custodia-labs/custodia-go/storage/memory"
)

func TestNew_RequiresStoreAndPassphrase(t *testing.T) {
	_, err := New(t.Context(), nil, "pass")
	assert.ErrorIs(t, err, stamp.ErrBackendUnavailable)

	_, err = New(t.Context(), memory.NewStore(), "")
	assert.Error(t, err)
}

func TestStamper_StampBeforeInjection(t *testing.T) {
	s, err := New(t.Context(), memory.NewStore(), "pass")
	require.NoError(t, err)
	assert.False(t, s.Injected())

	_, err = s.Stamp(t.Context(), "payload")
	assert.ErrorIs(t, err, stamp.ErrNotInitialized)
}

func TestStamper_InjectThenStamp(t *testing.T) {
	ctx := t.Context()
	s, err := New(ctx, memory.NewStore(), "pass")
	require.NoError(t, err)

	// Simulate the service issuing an API-key bundle to the device key.
	_, apiPriv, err := stamp.GenerateAPIKeyPair()
	require.NoError(t, err)
	encoded, err := bundle.Encrypt([]byte(apiPriv), s.PublicKeyHex())
	require.NoError(t, err)

	require.NoError(t, s.InjectCredentialBundle(ctx, encoded))
	assert.True(t, s.Injected())

	st, err := s.Stamp(ctx, "payload")
	require.NoError(t, err)
	assert.Equal(t, stamp.APIKeyHeader, st.HeaderName)
	assert.NoError(t, stamp.VerifyAPIKeyStamp(st.HeaderValue, "payload"))
}

func TestStamper_InjectWrongRecipient(t *testing.T) {
	ctx := t.Context()
	s, err := New(ctx, memory.NewStore(), "pass")
	require.NoError(t, err)

	other, err := bundle.NewKeyPair()
	require.NoError(t, err)
	_, apiPriv, err := stamp.GenerateAPIKeyPair()
	require.NoError(t, err)
	encoded, err := bundle.Encrypt([]byte(apiPriv), other.PublicKeyHex())
	require.NoError(t, err)

	err = s.InjectCredentialBundle(ctx, encoded)
	assert.ErrorIs(t, err, bundle.ErrDecryptFailed)
	assert.False(t, s.Injected())
}

func TestStamper_DeviceKeyPersists(t *testing.T) {
	ctx := t.Context()
	store := memory.NewStore()

	s1, err := New(ctx, store, "pass")
	require.NoError(t, err)
	pub := s1.PublicKeyHex()

	s2, err := New(ctx, store, "pass")
	require.NoError(t, err)
	assert.Equal(t, pub, s2.PublicKeyHex())
}

func TestStamper_WrongPassphrase(t *testing.T) {
	ctx := t.Context()
	store := memory.NewStore()

	_, err := New(ctx, store, "pass")
	require.NoError(t, err)

	_, err = New(ctx, store, "wrong")
	assert.Error(t, err)
}

func TestStamper_ReinjectionReplacesKey(t *testing.T) {
	ctx := t.Context()
	s, err := New(ctx, memory.NewStore(), "pass")
	require.NoError(t, err)

	_, priv1, err := stamp.GenerateAPIKeyPair()
	require.NoError(t, err)
	pub2, priv2, err := stamp.GenerateAPIKeyPair()
	require.NoError(t, err)

	b1, err := bundle.Encrypt([]byte(priv1), s.PublicKeyHex())
	require.NoError(t, err)
	b2, err := bundle.Encrypt([]byte(priv2), s.PublicKeyHex())
	require.NoError(t, err)

	require.NoError(t, s.InjectCredentialBundle(ctx, b1))
	require.NoError(t, s.InjectCredentialBundle(ctx, b2))

	st, err := s.Stamp(ctx, "payload")
	require.NoError(t, err)
	require.NoError(t, stamp.VerifyAPIKeyStamp(st.HeaderValue, "payload"))

	// The second injection wins: the stamp embeds the second public key.
	decoded, err := base64.RawURLEncoding.DecodeString(st.HeaderValue)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), pub2)
}
