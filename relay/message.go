// Package relay implements the relay frame protocol: a sandboxed frame (the
// host) holds decrypted credential material and signs on behalf of a parent
// that only ever sees ciphertext bundles and finished stamps. The parent and
// host exchange typed messages over a platform Surface; requests and
// responses are correlated by message type alone.
package relay

// MessageType discriminates protocol messages. Correlation is by type, so at
// most one request of a given type may be in flight at a time.
type MessageType string

const (
	// TypePublicKeyReady is posted by the host once after mount; its value
	// is the host public key bundles must be encrypted to.
	TypePublicKeyReady MessageType = "PUBLIC_KEY_READY"

	// TypeInjectRecoveryBundle carries an encrypted recovery bundle to the
	// host. Acknowledged by TypeBundleInjected.
	TypeInjectRecoveryBundle MessageType = "INJECT_RECOVERY_BUNDLE"

	// TypeInjectKeyBundle carries an encrypted private-key bundle to the
	// host; the host arms its signer with it. Acknowledged by
	// TypeBundleInjected.
	TypeInjectKeyBundle MessageType = "INJECT_KEY_BUNDLE"

	// TypeInjectWalletBundle carries an encrypted wallet seed bundle to the
	// host. Acknowledged by TypeBundleInjected.
	TypeInjectWalletBundle MessageType = "INJECT_WALLET_BUNDLE"

	// TypeBundleInjected acknowledges any injection; its value is "true".
	TypeBundleInjected MessageType = "BUNDLE_INJECTED"

	// TypeExportKeyBundle asks the host to re-encrypt its held private key
	// to TargetPublicKey. Answered by TypeBundleExported.
	TypeExportKeyBundle MessageType = "EXPORT_KEY_BUNDLE"

	// TypeExportWalletBundle asks the host to re-encrypt its held wallet
	// seed to TargetPublicKey. Answered by TypeBundleExported.
	TypeExportWalletBundle MessageType = "EXPORT_WALLET_BUNDLE"

	// TypeBundleExported carries the re-encrypted bundle back to the parent.
	TypeBundleExported MessageType = "BUNDLE_EXPORTED"

	// TypeStampRequest carries the hex SHA-256 digest of the payload to
	// sign. Answered by TypeStamp.
	TypeStampRequest MessageType = "STAMP_REQUEST"

	// TypeStamp carries the finished stamp header value.
	TypeStamp MessageType = "STAMP"

	// TypeError reports a host-side failure. The protocol has no
	// correlation ids, so an error fails every pending request.
	TypeError MessageType = "ERROR"
)

// KeyFormat selects the encoding of an exported private key.
type KeyFormat string

const (
	// KeyFormatHexadecimal exports the raw key bytes hex encoded.
	KeyFormatHexadecimal KeyFormat = "KEY_FORMAT_HEXADECIMAL"
	// KeyFormatSolana exports the raw key bytes base58 encoded.
	KeyFormatSolana KeyFormat = "KEY_FORMAT_SOLANA"
)

// Message is one protocol message. Value carries the type-specific payload:
// a public key, an encrypted bundle, a hex digest, or a stamp header value.
type Message struct {
	Type  MessageType `json:"type"`
	Value string      `json:"value"`

	// OrganizationID scopes injections and exports to a recipient context.
	OrganizationID string `json:"organizationId,omitempty"`

	// TargetPublicKey is the recipient key for export requests.
	TargetPublicKey string `json:"targetPublicKey,omitempty"`

	// KeyFormat selects the exported key encoding for TypeExportKeyBundle.
	KeyFormat KeyFormat `json:"keyFormat,omitempty"`
}
