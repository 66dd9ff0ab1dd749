package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptAES(t *testing.T) {
	key, err := RandomBytes(AESKeySize)
	require.NoError(t, err)

	plaintext := []byte("sensitive payload")
	ciphertext, err := EncryptAES(plaintext, key)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := DecryptAES(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptAES_WrongKey(t *testing.T) {
	key, err := RandomBytes(AESKeySize)
	require.NoError(t, err)
	otherKey, err := RandomBytes(AESKeySize)
	require.NoError(t, err)

	ciphertext, err := EncryptAES([]byte("secret"), key)
	require.NoError(t, err)

	_, err = DecryptAES(ciphertext, otherKey)
	assert.Error(t, err)
}

func TestEncryptAES_BadKeySize(t *testing.T) {
	_, err := EncryptAES([]byte("x"), []byte("short"))
	assert.Error(t, err)
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}

func TestBase64URLRoundTrip(t *testing.T) {
	in := []byte{0xff, 0x00, 0x7f, 0x80}
	out, err := Base64URLDecode(Base64URLEncode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDeriveArgon2idKey(t *testing.T) {
	salt, err := RandomBytes(16)
	require.NoError(t, err)

	k1, err := DeriveArgon2idKey("passphrase", salt, DefaultArgon2idParams())
	require.NoError(t, err)
	k2, err := DeriveArgon2idKey("passphrase", salt, DefaultArgon2idParams())
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveArgon2idKey("other", salt, DefaultArgon2idParams())
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}
