package relay_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/custodia-go/bundle"
	"github.com/custodia-labs/custodia-go/relay"
	"github.com/custodia-labs/custodia-go/stamp"
)

func newHostWithKey(t *testing.T) (*relay.Host, string) {
	t.Helper()
	h, err := relay.NewHost()
	require.NoError(t, err)
	t.Cleanup(h.Close)

	_, priv, err := stamp.GenerateAPIKeyPair()
	require.NoError(t, err)
	encoded, err := bundle.Encrypt([]byte(priv), h.PublicKeyHex())
	require.NoError(t, err)

	reply := h.Handle(relay.Message{Type: relay.TypeInjectKeyBundle, Value: encoded})
	require.Equal(t, relay.TypeBundleInjected, reply.Type)
	require.Equal(t, "true", reply.Value)
	return h, priv
}

func TestHost_StampBeforeInjection(t *testing.T) {
	h, err := relay.NewHost()
	require.NoError(t, err)
	t.Cleanup(h.Close)

	reply := h.Handle(relay.Message{Type: relay.TypeStampRequest, Value: "00"})
	assert.Equal(t, relay.TypeError, reply.Type)
}

func TestHost_InjectAndStamp(t *testing.T) {
	h, _ := newHostWithKey(t)

	digest := sha256.Sum256([]byte("payload"))
	reply := h.Handle(relay.Message{
		Type:  relay.TypeStampRequest,
		Value: hex.EncodeToString(digest[:]),
	})
	require.Equal(t, relay.TypeStamp, reply.Type)
	assert.NoError(t, stamp.VerifyAPIKeyStamp(reply.Value, "payload"))
	assert.Error(t, stamp.VerifyAPIKeyStamp(reply.Value, "other"))
}

func TestHost_InjectRecoveryThenStamp(t *testing.T) {
	h, err := relay.NewHost()
	require.NoError(t, err)
	t.Cleanup(h.Close)

	_, priv, err := stamp.GenerateAPIKeyPair()
	require.NoError(t, err)
	encoded, err := bundle.Encrypt([]byte(priv), h.PublicKeyHex())
	require.NoError(t, err)

	// Recovery bundles carry an API key; injecting one must arm the signer.
	reply := h.Handle(relay.Message{Type: relay.TypeInjectRecoveryBundle, Value: encoded})
	require.Equal(t, relay.TypeBundleInjected, reply.Type)

	digest := sha256.Sum256([]byte("recovery payload"))
	reply = h.Handle(relay.Message{
		Type:  relay.TypeStampRequest,
		Value: hex.EncodeToString(digest[:]),
	})
	require.Equal(t, relay.TypeStamp, reply.Type)
	assert.NoError(t, stamp.VerifyAPIKeyStamp(reply.Value, "recovery payload"))
}

func TestHost_InjectBadBundle(t *testing.T) {
	h, err := relay.NewHost()
	require.NoError(t, err)
	t.Cleanup(h.Close)

	reply := h.Handle(relay.Message{Type: relay.TypeInjectKeyBundle, Value: "garbage"})
	assert.Equal(t, relay.TypeError, reply.Type)
}

func TestHost_InjectWrongRecipient(t *testing.T) {
	h, err := relay.NewHost()
	require.NoError(t, err)
	t.Cleanup(h.Close)

	other, err := bundle.NewKeyPair()
	require.NoError(t, err)
	_, priv, err := stamp.GenerateAPIKeyPair()
	require.NoError(t, err)
	encoded, err := bundle.Encrypt([]byte(priv), other.PublicKeyHex())
	require.NoError(t, err)

	reply := h.Handle(relay.Message{Type: relay.TypeInjectKeyBundle, Value: encoded})
	assert.Equal(t, relay.TypeError, reply.Type)
}

func TestHost_ExportKeyHexAndSolana(t *testing.T) {
	h, priv := newHostWithKey(t)

	target, err := bundle.NewKeyPair()
	require.NoError(t, err)

	reply := h.Handle(relay.Message{
		Type:            relay.TypeExportKeyBundle,
		TargetPublicKey: target.PublicKeyHex(),
		KeyFormat:       relay.KeyFormatHexadecimal,
	})
	require.Equal(t, relay.TypeBundleExported, reply.Type)
	plain, err := bundle.Decrypt(reply.Value, target)
	require.NoError(t, err)
	assert.Equal(t, priv, string(plain))

	reply = h.Handle(relay.Message{
		Type:            relay.TypeExportKeyBundle,
		TargetPublicKey: target.PublicKeyHex(),
		KeyFormat:       relay.KeyFormatSolana,
	})
	require.Equal(t, relay.TypeBundleExported, reply.Type)
	plain, err = bundle.Decrypt(reply.Value, target)
	require.NoError(t, err)
	raw, err := base58.Decode(string(plain))
	require.NoError(t, err)
	assert.Equal(t, priv, hex.EncodeToString(raw))
}

func TestHost_ExportWithoutKey(t *testing.T) {
	h, err := relay.NewHost()
	require.NoError(t, err)
	t.Cleanup(h.Close)

	target, err := bundle.NewKeyPair()
	require.NoError(t, err)
	reply := h.Handle(relay.Message{
		Type:            relay.TypeExportKeyBundle,
		TargetPublicKey: target.PublicKeyHex(),
	})
	assert.Equal(t, relay.TypeError, reply.Type)
}

func TestHost_WalletRoundTrip(t *testing.T) {
	h, err := relay.NewHost()
	require.NoError(t, err)
	t.Cleanup(h.Close)

	const mnemonic = "legal winner thank year wave sausage worth useful legal winner thank yellow"
	encoded, err := bundle.EncryptMnemonic(mnemonic, h.PublicKeyHex())
	require.NoError(t, err)

	reply := h.Handle(relay.Message{Type: relay.TypeInjectWalletBundle, Value: encoded})
	require.Equal(t, relay.TypeBundleInjected, reply.Type)

	target, err := bundle.NewKeyPair()
	require.NoError(t, err)
	reply = h.Handle(relay.Message{
		Type:            relay.TypeExportWalletBundle,
		TargetPublicKey: target.PublicKeyHex(),
	})
	require.Equal(t, relay.TypeBundleExported, reply.Type)

	plain, err := bundle.Decrypt(reply.Value, target)
	require.NoError(t, err)
	assert.Equal(t, mnemonic, string(plain))
}

func TestHost_UnsupportedType(t *testing.T) {
	h, err := relay.NewHost()
	require.NoError(t, err)
	t.Cleanup(h.Close)

	reply := h.Handle(relay.Message{Type: relay.MessageType("NOPE")})
	assert.Equal(t, relay.TypeError, reply.Type)
}
