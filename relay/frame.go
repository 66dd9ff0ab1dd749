package relay

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/custodia-labs/custodia-go/internal/util"
	"github.com/custodia-labs/custodia-go/stamp"
)

// Frame request errors.
var (
	// ErrFrameClosed is returned by every operation after Clear.
	ErrFrameClosed = errors.New("relay: frame cleared")
	// ErrFrameNotReady is returned when a request is made before Init has
	// observed PUBLIC_KEY_READY.
	ErrFrameNotReady = errors.New("relay: frame not initialized")
	// ErrRequestInFlight is returned when a request of the same message
	// type is already pending. The protocol correlates by type only, so a
	// second concurrent request of one type would steal the first's reply.
	ErrRequestInFlight = errors.New("relay: request of this type already in flight")
)

// RemoteError is a host-reported failure. With no correlation ids an ERROR
// message fails every pending request.
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("relay: frame reported error: %s", e.Reason)
}

// Frame is the parent-side handle on a relay frame. It mounts the frame on a
// Surface, filters inbound messages by origin, and exposes the protocol as
// request/response methods. Frame implements stamp.Stamper by delegating
// signing to the host.
type Frame struct {
	surface Surface
	url     string
	origin  string
	anchor  Anchor
	logger  *slog.Logger

	mu        sync.Mutex
	conn      Conn
	publicKey string
	closed    bool
	pending   map[MessageType]chan Message
}

var _ stamp.Stamper = (*Frame)(nil)

// FrameOption configures a Frame.
type FrameOption func(*Frame)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) FrameOption {
	return func(f *Frame) { f.logger = logger }
}

// NewFrame validates the anchor and resolves the frame origin from frameURL.
// It fails before any surface mutation: a missing container, an already-used
// element id, or an unusable surface all error here. Init mounts the frame.
func NewFrame(surface Surface, frameURL string, anchor Anchor, opts ...FrameOption) (*Frame, error) {
	if surface == nil {
		return nil, fmt.Errorf("%w: no surface", ErrSurfaceUnavailable)
	}
	u, err := url.Parse(frameURL)
	if err != nil {
		return nil, fmt.Errorf("parsing frame URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("frame URL %q must be absolute", frameURL)
	}
	if anchor.ContainerID == "" || anchor.ElementID == "" {
		return nil, fmt.Errorf("anchor container and element ids must not be empty")
	}
	if err := surface.Validate(anchor); err != nil {
		return nil, err
	}

	f := &Frame{
		surface: surface,
		url:     frameURL,
		origin:  u.Scheme + "://" + u.Host,
		anchor:  anchor,
		logger:  slog.Default(),
		pending: make(map[MessageType]chan Message),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Origin returns the origin inbound messages must carry, resolved from the
// frame URL at construction.
func (f *Frame) Origin() string {
	return f.origin
}

// Init mounts the frame and blocks until the host announces its public key.
// After Init returns, PublicKey is the address credential bundles for this
// frame must be encrypted to. If ctx expires before the announcement, the
// frame is unmounted and closed; retrying requires a new Frame.
func (f *Frame) Init(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFrameClosed
	}
	if f.conn != nil {
		f.mu.Unlock()
		return fmt.Errorf("relay: frame already initialized")
	}
	ready := make(chan Message, 1)
	f.pending[TypePublicKeyReady] = ready
	f.mu.Unlock()

	conn, err := f.surface.Mount(ctx, f.url, f.anchor)
	if err != nil {
		f.mu.Lock()
		delete(f.pending, TypePublicKeyReady)
		f.mu.Unlock()
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	go f.readLoop(conn)

	select {
	case <-ctx.Done():
		f.mu.Lock()
		delete(f.pending, TypePublicKeyReady)
		f.closed = true
		f.conn = nil
		f.mu.Unlock()
		if err := conn.Close(); err != nil {
			f.logger.Debug("closing connection after cancelled init", "error", err)
		}
		return ctx.Err()
	case msg, ok := <-ready:
		if !ok {
			return ErrFrameClosed
		}
		if msg.Type == TypeError {
			return &RemoteError{Reason: msg.Value}
		}
		return nil
	}
}

// readLoop dispatches inbound messages until the connection closes. Messages
// from any other origin are dropped without side effects; the shared channel
// is expected to carry unrelated traffic.
func (f *Frame) readLoop(conn Conn) {
	for in := range conn.Messages() {
		if in.Origin != f.origin {
			f.logger.Debug("dropping message from foreign origin",
				"origin", in.Origin, "type", string(in.Message.Type))
			continue
		}
		f.dispatch(in.Message)
	}
	f.failPending()
}

func (f *Frame) dispatch(msg Message) {
	f.mu.Lock()
	if msg.Type == TypePublicKeyReady {
		f.publicKey = msg.Value
	}
	if msg.Type == TypeError {
		// No correlation ids: an error fails everything pending.
		for t, ch := range f.pending {
			ch <- Message{Type: TypeError, Value: msg.Value}
			delete(f.pending, t)
		}
		f.mu.Unlock()
		return
	}
	ch, ok := f.pending[msg.Type]
	if ok {
		delete(f.pending, msg.Type)
	}
	f.mu.Unlock()

	if !ok {
		f.logger.Debug("dropping unsolicited message", "type", string(msg.Type))
		return
	}
	ch <- msg
}

// failPending closes every pending response channel; waiters observe the
// close and return ErrFrameClosed.
func (f *Frame) failPending() {
	f.mu.Lock()
	pending := f.pending
	f.pending = make(map[MessageType]chan Message)
	f.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// PublicKey returns the host public key announced during Init. It remains
// readable after Clear; the frame itself does not.
func (f *Frame) PublicKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.publicKey
}

// request posts msg and waits for the single response of type respType.
func (f *Frame) request(ctx context.Context, msg Message, respType MessageType) (Message, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return Message{}, ErrFrameClosed
	}
	if f.conn == nil || f.publicKey == "" {
		f.mu.Unlock()
		return Message{}, ErrFrameNotReady
	}
	if _, exists := f.pending[respType]; exists {
		f.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %s", ErrRequestInFlight, respType)
	}
	ch := make(chan Message, 1)
	f.pending[respType] = ch
	conn := f.conn
	f.mu.Unlock()

	if err := conn.Post(ctx, msg); err != nil {
		f.mu.Lock()
		delete(f.pending, respType)
		f.mu.Unlock()
		return Message{}, fmt.Errorf("posting %s: %w", msg.Type, err)
	}

	select {
	case <-ctx.Done():
		f.mu.Lock()
		delete(f.pending, respType)
		f.mu.Unlock()
		return Message{}, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return Message{}, ErrFrameClosed
		}
		if resp.Type == TypeError {
			return Message{}, &RemoteError{Reason: resp.Value}
		}
		return resp, nil
	}
}

// Stamp hashes the payload, sends the hex digest to the host for signing and
// returns the finished stamp. The plaintext key never crosses the boundary.
func (f *Frame) Stamp(ctx context.Context, payload string) (stamp.Stamp, error) {
	if payload == "" {
		return stamp.Stamp{}, fmt.Errorf("%w: empty payload", stamp.ErrMalformedPayload)
	}
	digest := sha256.Sum256([]byte(payload))
	resp, err := f.request(ctx, Message{
		Type:  TypeStampRequest,
		Value: util.HexEncode(digest[:]),
	}, TypeStamp)
	if err != nil {
		if errors.Is(err, ErrFrameNotReady) {
			return stamp.Stamp{}, fmt.Errorf("%w: frame not initialized", stamp.ErrNotInitialized)
		}
		return stamp.Stamp{}, err
	}
	return stamp.Stamp{
		HeaderName:  stamp.APIKeyHeader,
		HeaderValue: resp.Value,
	}, nil
}

// InjectRecoveryBundle hands an encrypted recovery bundle to the host and
// waits for the injection acknowledgement.
func (f *Frame) InjectRecoveryBundle(ctx context.Context, encoded, organizationID string) error {
	_, err := f.request(ctx, Message{
		Type:           TypeInjectRecoveryBundle,
		Value:          encoded,
		OrganizationID: organizationID,
	}, TypeBundleInjected)
	return err
}

// InjectKeyBundle hands an encrypted private-key bundle to the host. The
// host arms its signer with the decrypted key; subsequent Stamp calls use it.
func (f *Frame) InjectKeyBundle(ctx context.Context, encoded, organizationID string) error {
	_, err := f.request(ctx, Message{
		Type:           TypeInjectKeyBundle,
		Value:          encoded,
		OrganizationID: organizationID,
	}, TypeBundleInjected)
	return err
}

// InjectWalletBundle hands an encrypted wallet seed bundle to the host.
func (f *Frame) InjectWalletBundle(ctx context.Context, encoded, organizationID string) error {
	_, err := f.request(ctx, Message{
		Type:           TypeInjectWalletBundle,
		Value:          encoded,
		OrganizationID: organizationID,
	}, TypeBundleInjected)
	return err
}

// ExportKeyBundle asks the host to re-encrypt its held private key to
// targetPublicKey in the requested encoding. The parent receives ciphertext
// only.
func (f *Frame) ExportKeyBundle(ctx context.Context, targetPublicKey, organizationID string, format KeyFormat) (string, error) {
	resp, err := f.request(ctx, Message{
		Type:            TypeExportKeyBundle,
		OrganizationID:  organizationID,
		TargetPublicKey: targetPublicKey,
		KeyFormat:       format,
	}, TypeBundleExported)
	if err != nil {
		return "", err
	}
	return resp.Value, nil
}

// ExportWalletBundle asks the host to re-encrypt its held wallet seed to
// targetPublicKey.
func (f *Frame) ExportWalletBundle(ctx context.Context, targetPublicKey, organizationID string) (string, error) {
	resp, err := f.request(ctx, Message{
		Type:            TypeExportWalletBundle,
		OrganizationID:  organizationID,
		TargetPublicKey: targetPublicKey,
	}, TypeBundleExported)
	if err != nil {
		return "", err
	}
	return resp.Value, nil
}

// Clear unmounts the frame and fails pending requests. The frame must not be
// used afterwards; every subsequent call returns ErrFrameClosed. The public
// key resolved during Init stays readable.
func (f *Frame) Clear() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFrameClosed
	}
	f.closed = true
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
