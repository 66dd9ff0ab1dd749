package stamp

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/awnumar/memguard"

	"github.com/custodia-labs/custodia-go/internal/util"
)

const (
	// APIKeyHeader is the header name carrying an API-key stamp.
	APIKeyHeader = "X-Stamp"
	// SchemeAPIKeyP256 identifies ECDSA P-256 over SHA-256 of the payload.
	SchemeAPIKeyP256 = "SIGNATURE_SCHEME_API_P256"
)

// apiKeyStampBody is the JSON serialized into the header value.
type apiKeyStampBody struct {
	PublicKey string `json:"publicKey"`
	Scheme    string `json:"scheme"`
	Signature string `json:"signature"`
}

// APIKeyStamper signs payloads with an ECDSA P-256 key held in memory.
// The private scalar lives in a memguard enclave between stamps.
type APIKeyStamper struct {
	publicKeyHex string
	pub          *ecdsa.PublicKey
	priv         *memguard.Enclave
}

var _ Stamper = (*APIKeyStamper)(nil)

// GenerateAPIKeyPair creates a fresh P-256 key pair and returns the
// compressed public key and the private scalar, both hex encoded.
func GenerateAPIKeyPair() (publicKeyHex, privateKeyHex string, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generating ECDSA P-256 key: %w", err)
	}
	pubBytes := elliptic.MarshalCompressed(elliptic.P256(), priv.X, priv.Y)
	scalar := make([]byte, 32)
	priv.D.FillBytes(scalar)
	defer util.WipeBytes(scalar)
	return util.HexEncode(pubBytes), util.HexEncode(scalar), nil
}

// NewAPIKeyStamper builds a stamper from a hex compressed public key and a
// hex private scalar. The pair is checked for consistency.
func NewAPIKeyStamper(publicKeyHex, privateKeyHex string) (*APIKeyStamper, error) {
	privBytes, err := util.HexDecode(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	if len(privBytes) != 32 {
		util.WipeBytes(privBytes)
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(privBytes))
	}

	s, err := newAPIKeyStamperFromScalar(privBytes)
	if err != nil {
		return nil, err
	}
	if s.publicKeyHex != publicKeyHex {
		return nil, fmt.Errorf("public key does not match private key")
	}
	return s, nil
}

// NewAPIKeyStamperFromPrivate builds a stamper from the hex private scalar
// alone, deriving the public key. Credential bundles transport only the
// scalar, so this is the constructor used after bundle decryption.
func NewAPIKeyStamperFromPrivate(privateKeyHex string) (*APIKeyStamper, error) {
	privBytes, err := util.HexDecode(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	if len(privBytes) != 32 {
		util.WipeBytes(privBytes)
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(privBytes))
	}
	return newAPIKeyStamperFromScalar(privBytes)
}

// newAPIKeyStamperFromScalar takes ownership of scalar; memguard wipes the
// source slice when the enclave is created.
func newAPIKeyStamperFromScalar(scalar []byte) (*APIKeyStamper, error) {
	d := new(big.Int).SetBytes(scalar)
	if d.Sign() == 0 || d.Cmp(elliptic.P256().Params().N) >= 0 {
		util.WipeBytes(scalar)
		return nil, fmt.Errorf("private scalar out of range")
	}
	x, y := elliptic.P256().ScalarBaseMult(scalar)
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	pubHex := util.HexEncode(elliptic.MarshalCompressed(elliptic.P256(), x, y))
	// Scrub the big.Int copy; the enclave keeps the only live scalar.
	d.SetInt64(0)
	return &APIKeyStamper{
		publicKeyHex: pubHex,
		pub:          pub,
		priv:         memguard.NewEnclave(scalar),
	}, nil
}

// PublicKeyHex returns the hex compressed public key this stamper signs under.
func (s *APIKeyStamper) PublicKeyHex() string {
	return s.publicKeyHex
}

// Stamp signs SHA-256(payload) and serializes the stamp header value.
func (s *APIKeyStamper) Stamp(ctx context.Context, payload string) (Stamp, error) {
	if payload == "" {
		return Stamp{}, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	digest := sha256.Sum256([]byte(payload))
	return s.StampDigest(ctx, digest[:])
}

// StampDigest signs a precomputed 32-byte digest. The relay frame protocol
// transports digests rather than payloads, so the frame host signs through
// this entry point.
func (s *APIKeyStamper) StampDigest(ctx context.Context, digest []byte) (Stamp, error) {
	if err := ctx.Err(); err != nil {
		return Stamp{}, err
	}
	if len(digest) != sha256.Size {
		return Stamp{}, fmt.Errorf("%w: digest must be %d bytes, got %d", ErrMalformedPayload, sha256.Size, len(digest))
	}
	if s.priv == nil {
		return Stamp{}, ErrNotInitialized
	}

	buf, err := s.priv.Open()
	if err != nil {
		return Stamp{}, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()

	d := new(big.Int).SetBytes(buf.Bytes())
	priv := &ecdsa.PrivateKey{PublicKey: *s.pub, D: d}
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest)
	d.SetInt64(0)
	if err != nil {
		return Stamp{}, fmt.Errorf("signing digest: %w", err)
	}

	return EncodeAPIKeyStamp(s.publicKeyHex, sig)
}

// EncodeAPIKeyStamp assembles the X-Stamp header value for an ECDSA P-256
// signature produced elsewhere, such as by an HSM-held key.
func EncodeAPIKeyStamp(publicKeyHex string, signature []byte) (Stamp, error) {
	body, err := json.Marshal(apiKeyStampBody{
		PublicKey: publicKeyHex,
		Scheme:    SchemeAPIKeyP256,
		Signature: util.HexEncode(signature),
	})
	if err != nil {
		return Stamp{}, fmt.Errorf("marshaling stamp: %w", err)
	}

	return Stamp{
		HeaderName:  APIKeyHeader,
		HeaderValue: util.Base64URLEncode(body),
	}, nil
}

// Destroy wipes the held private key. The stamper must not be reused after.
func (s *APIKeyStamper) Destroy() {
	s.priv = nil
	s.pub = nil
	s.publicKeyHex = ""
}

// VerifyAPIKeyStamp checks an X-Stamp header value against the payload it
// claims to authenticate, using the public key embedded in the stamp itself.
func VerifyAPIKeyStamp(headerValue, payload string) error {
	body, err := util.Base64URLDecode(headerValue)
	if err != nil {
		return fmt.Errorf("decoding stamp: %w", err)
	}
	var st apiKeyStampBody
	if err := json.Unmarshal(body, &st); err != nil {
		return fmt.Errorf("unmarshaling stamp: %w", err)
	}
	if st.Scheme != SchemeAPIKeyP256 {
		return fmt.Errorf("unsupported signature scheme %q", st.Scheme)
	}

	pubBytes, err := util.HexDecode(st.PublicKey)
	if err != nil {
		return fmt.Errorf("decoding public key: %w", err)
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), pubBytes)
	if x == nil {
		return fmt.Errorf("invalid compressed public key")
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	sig, err := util.HexDecode(st.Signature)
	if err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}

	digest := sha256.Sum256([]byte(payload))
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}
