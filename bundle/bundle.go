// Package bundle implements the hybrid-encrypted credential bundle format
// used to move key material (raw private keys, seed mnemonics, API keys)
// to a single recipient public key.
//
// A bundle is HPKE ciphertext (DHKEM-P256, HKDF-SHA256, AES-256-GCM)
// prefixed with the encapsulated key, encoded as base58 with a 4-byte
// checksum. Decryption is a pure function of (bundle, recipient private
// key); with any other key it fails authentication rather than producing
// garbage.
package bundle

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
	"github.com/mr-tron/base58"

	"github.com/custodia-labs/custodia-go/internal/util"
)

const (
	kemID  = hpke.KEM_P256_HKDF_SHA256
	kdfID  = hpke.KDF_HKDF_SHA256
	aeadID = hpke.AEAD_AES256GCM

	// Uncompressed P-256 point.
	encapsulatedKeyLen = 65
	checksumLen        = 4
)

var bundleInfo = []byte("custodia-credential-bundle-v1")

var (
	// ErrInvalidBundle indicates the bundle text is not well formed
	// (bad encoding, bad checksum, truncated).
	ErrInvalidBundle = errors.New("invalid credential bundle")
	// ErrDecryptFailed indicates the bundle did not decrypt under the
	// provided recipient key.
	ErrDecryptFailed = errors.New("credential bundle decryption failed")
)

// KeyPair is an HPKE recipient key pair. The public key, hex encoded, is the
// address credential bundles are encrypted to.
type KeyPair struct {
	public  kem.PublicKey
	private kem.PrivateKey
}

// NewKeyPair generates a fresh recipient key pair.
func NewKeyPair() (*KeyPair, error) {
	pk, sk, err := kemID.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating recipient key pair: %w", err)
	}
	return &KeyPair{public: pk, private: sk}, nil
}

// KeyPairFromPrivate reconstructs a key pair from raw private key bytes,
// as produced by PrivateKeyBytes.
func KeyPairFromPrivate(raw []byte) (*KeyPair, error) {
	sk, err := kemID.Scheme().UnmarshalBinaryPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling private key: %w", err)
	}
	return &KeyPair{public: sk.Public(), private: sk}, nil
}

// PublicKeyHex returns the hex-encoded recipient public key.
func (kp *KeyPair) PublicKeyHex() string {
	raw, err := kp.public.MarshalBinary()
	if err != nil {
		// P-256 public keys always marshal; treat failure as a programming error.
		panic(fmt.Sprintf("marshaling public key: %v", err))
	}
	return util.HexEncode(raw)
}

// PrivateKeyBytes returns the raw private key for at-rest persistence.
// Callers are responsible for encrypting it before storage and wiping the
// returned slice.
func (kp *KeyPair) PrivateKeyBytes() ([]byte, error) {
	raw, err := kp.private.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}
	return raw, nil
}

// Encrypt seals secret to the recipient public key and returns the
// base58check bundle text.
func Encrypt(secret []byte, recipientPublicKeyHex string) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("secret must not be empty")
	}
	pkRaw, err := util.HexDecode(recipientPublicKeyHex)
	if err != nil {
		return "", fmt.Errorf("decoding recipient public key: %w", err)
	}
	pk, err := kemID.Scheme().UnmarshalBinaryPublicKey(pkRaw)
	if err != nil {
		return "", fmt.Errorf("unmarshaling recipient public key: %w", err)
	}

	suite := hpke.NewSuite(kemID, kdfID, aeadID)
	sender, err := suite.NewSender(pk, bundleInfo)
	if err != nil {
		return "", fmt.Errorf("creating HPKE sender: %w", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("HPKE setup: %w", err)
	}
	ct, err := sealer.Seal(secret, nil)
	if err != nil {
		return "", fmt.Errorf("sealing secret: %w", err)
	}

	raw := make([]byte, 0, len(enc)+len(ct)+checksumLen)
	raw = append(raw, enc...)
	raw = append(raw, ct...)
	raw = append(raw, checksum(raw)...)
	return base58.Encode(raw), nil
}

// EncryptMnemonic NFKD-normalizes a seed phrase before sealing it, so the
// same visible phrase always produces the same plaintext bytes.
func EncryptMnemonic(mnemonic, recipientPublicKeyHex string) (string, error) {
	return Encrypt([]byte(util.Normalize(mnemonic)), recipientPublicKeyHex)
}

// Decrypt opens a bundle with the recipient key pair and returns the secret.
// It never logs or retains the plaintext; the caller owns the returned slice
// and should wipe it when done.
func Decrypt(encoded string, kp *KeyPair) ([]byte, error) {
	if kp == nil {
		return nil, fmt.Errorf("recipient key pair must not be nil")
	}
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if len(raw) < encapsulatedKeyLen+checksumLen {
		return nil, fmt.Errorf("%w: too short", ErrInvalidBundle)
	}

	body, sum := raw[:len(raw)-checksumLen], raw[len(raw)-checksumLen:]
	if subtle.ConstantTimeCompare(checksum(body), sum) != 1 {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidBundle)
	}
	enc, ct := body[:encapsulatedKeyLen], body[encapsulatedKeyLen:]

	suite := hpke.NewSuite(kemID, kdfID, aeadID)
	receiver, err := suite.NewReceiver(kp.private, bundleInfo)
	if err != nil {
		return nil, fmt.Errorf("creating HPKE receiver: %w", err)
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	secret, err := opener.Open(ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return secret, nil
}

// checksum is the first four bytes of a double SHA-256 over body.
func checksum(body []byte) []byte {
	first := sha256.Sum256(body)
	second := sha256.Sum256(first[:])
	return second[:checksumLen]
}
