package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/mr-tron/base58"

	"github.com/custodia-labs/custodia-go/bundle"
	"github.com/custodia-labs/custodia-go/internal/util"
	"github.com/custodia-labs/custodia-go/stamp"
)

// secretKind distinguishes the host's secret slots. At most one decrypted
// secret per kind is held at a time; reinjection replaces.
type secretKind int

const (
	kindRecovery secretKind = iota
	kindKey
	kindWallet
)

// Host is the frame-side protocol endpoint. It owns an ephemeral key pair
// generated at construction; bundles injected by the parent are decrypted
// into memguard enclaves and never leave the host as plaintext. Handle is
// not safe for concurrent use; the surface must serialize calls.
type Host struct {
	kp     *bundle.KeyPair
	logger *slog.Logger

	mu      sync.Mutex
	signer  *stamp.APIKeyStamper
	secrets map[secretKind]*memguard.Enclave
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the structured logger.
func WithHostLogger(logger *slog.Logger) HostOption {
	return func(h *Host) { h.logger = logger }
}

// NewHost generates the host's ephemeral key pair.
func NewHost(opts ...HostOption) (*Host, error) {
	kp, err := bundle.NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating host key pair: %w", err)
	}
	h := &Host{
		kp:      kp,
		logger:  slog.Default(),
		secrets: make(map[secretKind]*memguard.Enclave),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// PublicKeyHex returns the host public key, announced to the parent as
// PUBLIC_KEY_READY after mount.
func (h *Host) PublicKeyHex() string {
	return h.kp.PublicKeyHex()
}

// Handle processes one parent-to-host message and returns the reply.
// Failures become ERROR messages; the host never panics on bad input.
func (h *Host) Handle(msg Message) Message {
	reply, err := h.handle(msg)
	if err != nil {
		h.logger.Debug("request failed", "type", string(msg.Type), "error", err)
		return Message{Type: TypeError, Value: err.Error()}
	}
	return reply
}

func (h *Host) handle(msg Message) (Message, error) {
	switch msg.Type {
	case TypeInjectRecoveryBundle:
		if err := h.injectKey(kindRecovery, msg.Value); err != nil {
			return Message{}, err
		}
		return Message{Type: TypeBundleInjected, Value: "true"}, nil

	case TypeInjectKeyBundle:
		if err := h.injectKey(kindKey, msg.Value); err != nil {
			return Message{}, err
		}
		return Message{Type: TypeBundleInjected, Value: "true"}, nil

	case TypeInjectWalletBundle:
		if err := h.injectSecret(kindWallet, msg.Value); err != nil {
			return Message{}, err
		}
		return Message{Type: TypeBundleInjected, Value: "true"}, nil

	case TypeStampRequest:
		value, err := h.stampDigest(msg.Value)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeStamp, Value: value}, nil

	case TypeExportKeyBundle:
		encoded, err := h.exportKey(msg.TargetPublicKey, msg.KeyFormat)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeBundleExported, Value: encoded}, nil

	case TypeExportWalletBundle:
		encoded, err := h.exportWallet(msg.TargetPublicKey)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeBundleExported, Value: encoded}, nil

	default:
		return Message{}, fmt.Errorf("unsupported message type %q", msg.Type)
	}
}

// injectSecret decrypts a bundle addressed to the host key and stores the
// plaintext in the slot's enclave, replacing any previous secret of the kind.
func (h *Host) injectSecret(kind secretKind, encoded string) error {
	secret, err := bundle.Decrypt(encoded, h.kp)
	if err != nil {
		return err
	}
	// NewEnclave wipes the source slice.
	enclave := memguard.NewEnclave(secret)

	h.mu.Lock()
	h.secrets[kind] = enclave
	h.mu.Unlock()
	return nil
}

// injectKey decrypts a private-key bundle, arms the signer with it and keeps
// the raw scalar in the slot's enclave for later export. Recovery bundles
// carry an API key as well, so recovery injection arms the signer the same
// way and stamping works right after it.
func (h *Host) injectKey(kind secretKind, encoded string) error {
	secret, err := bundle.Decrypt(encoded, h.kp)
	if err != nil {
		return err
	}

	scalar := secret
	if len(secret) != 32 {
		// Hex text form of the scalar.
		scalar, err = util.HexDecode(string(secret))
		if err != nil {
			util.WipeBytes(secret)
			return fmt.Errorf("key bundle payload is neither raw nor hex: %w", err)
		}
		util.WipeBytes(secret)
	}

	signer, err := stamp.NewAPIKeyStamperFromPrivate(util.HexEncode(scalar))
	if err != nil {
		util.WipeBytes(scalar)
		return err
	}
	enclave := memguard.NewEnclave(scalar)

	h.mu.Lock()
	if h.signer != nil {
		h.signer.Destroy()
	}
	h.signer = signer
	h.secrets[kind] = enclave
	h.mu.Unlock()
	return nil
}

// stampDigest signs a hex-encoded 32-byte digest with the injected key and
// returns the stamp header value.
func (h *Host) stampDigest(hexDigest string) (string, error) {
	h.mu.Lock()
	signer := h.signer
	h.mu.Unlock()
	if signer == nil {
		return "", fmt.Errorf("no key bundle injected")
	}

	digest, err := util.HexDecode(hexDigest)
	if err != nil {
		return "", fmt.Errorf("decoding digest: %w", err)
	}
	st, err := signer.StampDigest(context.Background(), digest)
	if err != nil {
		return "", err
	}
	return st.HeaderValue, nil
}

// exportKey re-encrypts the held private key to targetPublicKey in the
// requested encoding. Plaintext exists only inside this call.
func (h *Host) exportKey(targetPublicKey string, format KeyFormat) (string, error) {
	h.mu.Lock()
	enclave := h.secrets[kindKey]
	h.mu.Unlock()
	if enclave == nil {
		return "", fmt.Errorf("no key bundle injected")
	}
	if targetPublicKey == "" {
		return "", fmt.Errorf("missing target public key")
	}

	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()

	var payload []byte
	switch format {
	case KeyFormatSolana:
		payload = []byte(base58.Encode(buf.Bytes()))
	case KeyFormatHexadecimal, "":
		payload = []byte(util.HexEncode(buf.Bytes()))
	default:
		return "", fmt.Errorf("unsupported key format %q", format)
	}
	defer util.WipeBytes(payload)

	return bundle.Encrypt(payload, targetPublicKey)
}

// exportWallet re-encrypts the held wallet seed to targetPublicKey.
func (h *Host) exportWallet(targetPublicKey string) (string, error) {
	h.mu.Lock()
	enclave := h.secrets[kindWallet]
	h.mu.Unlock()
	if enclave == nil {
		return "", fmt.Errorf("no wallet bundle injected")
	}
	if targetPublicKey == "" {
		return "", fmt.Errorf("missing target public key")
	}

	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("opening wallet enclave: %w", err)
	}
	defer buf.Destroy()

	return bundle.EncryptMnemonic(string(buf.Bytes()), targetPublicKey)
}

// Close destroys every held secret. The host must not be used afterwards.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.signer != nil {
		h.signer.Destroy()
		h.signer = nil
	}
	h.secrets = make(map[secretKind]*memguard.Enclave)
}
