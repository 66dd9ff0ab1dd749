package bundle

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	secrets := [][]byte{
		[]byte("a"),
		[]byte("31-byte-api-key-private-scalar!"),
		{0x00, 0xff, 0x10, 0x80},
		make([]byte, 1024),
	}
	for _, secret := range secrets {
		encoded, err := Encrypt(secret, kp.PublicKeyHex())
		require.NoError(t, err)

		decrypted, err := Decrypt(encoded, kp)
		require.NoError(t, err)
		assert.Equal(t, secret, decrypted)
	}
}

func TestDecrypt_WrongRecipientFails(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)
	other, err := NewKeyPair()
	require.NoError(t, err)

	encoded, err := Encrypt([]byte("secret"), kp.PublicKeyHex())
	require.NoError(t, err)

	_, err = Decrypt(encoded, other)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecrypt_TamperedChecksum(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	encoded, err := Encrypt([]byte("secret"), kp.PublicKeyHex())
	require.NoError(t, err)

	raw, err := base58.Decode(encoded)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01

	_, err = Decrypt(base58.Encode(raw), kp)
	assert.ErrorIs(t, err, ErrInvalidBundle)
}

func TestDecrypt_Malformed(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	for _, encoded := range []string{"", "not-base58-0OIl", "abc"} {
		_, err = Decrypt(encoded, kp)
		assert.ErrorIs(t, err, ErrInvalidBundle, "input %q", encoded)
	}
}

func TestEncryptMnemonic_Normalizes(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	// "é" as a single codepoint vs combining sequence.
	composed := "caf\u00e9 word"
	decomposed := "cafe\u0301 word"

	enc, err := EncryptMnemonic(composed, kp.PublicKeyHex())
	require.NoError(t, err)
	got, err := Decrypt(enc, kp)
	require.NoError(t, err)

	enc2, err := EncryptMnemonic(decomposed, kp.PublicKeyHex())
	require.NoError(t, err)
	got2, err := Decrypt(enc2, kp)
	require.NoError(t, err)

	assert.Equal(t, got, got2)
}

func TestKeyPairFromPrivate(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	raw, err := kp.PrivateKeyBytes()
	require.NoError(t, err)

	restored, err := KeyPairFromPrivate(raw)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKeyHex(), restored.PublicKeyHex())

	encoded, err := Encrypt([]byte("secret"), kp.PublicKeyHex())
	require.NoError(t, err)
	decrypted, err := Decrypt(encoded, restored)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), decrypted)
}
