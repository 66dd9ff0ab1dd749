// Package inproc hosts relay frames in-process: a goroutine runs the host
// event loop and channels stand in for the platform message bus. It backs
// tests and examples, and any embedding where parent and host share a
// process.
package inproc

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/custodia-labs/custodia-go/relay"
)

// Surface is an in-process relay.Surface. Containers are registered up
// front; mounting spawns a host goroutine whose replies are tagged with the
// frame URL's origin, the way a platform bus reports a sender.
type Surface struct {
	mu         sync.Mutex
	containers map[string]bool
	elements   map[string]bool
	hostOpts   []relay.HostOption
}

var _ relay.Surface = (*Surface)(nil)

// NewSurface creates a surface with the given container ids available.
func NewSurface(containerIDs ...string) *Surface {
	s := &Surface{
		containers: make(map[string]bool),
		elements:   make(map[string]bool),
	}
	for _, id := range containerIDs {
		s.containers[id] = true
	}
	return s
}

// WithHostOptions sets options passed to each mounted host.
func (s *Surface) WithHostOptions(opts ...relay.HostOption) *Surface {
	s.hostOpts = opts
	return s
}

// Validate checks the anchor without mutating the surface.
func (s *Surface) Validate(anchor relay.Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.containers[anchor.ContainerID] {
		return fmt.Errorf("%w: %q", relay.ErrContainerNotFound, anchor.ContainerID)
	}
	if s.elements[anchor.ElementID] {
		return fmt.Errorf("%w: %q", relay.ErrDuplicateElement, anchor.ElementID)
	}
	return nil
}

// Mount claims the element id, starts a host goroutine and announces its
// public key. The returned Conn delivers host replies tagged with the frame
// URL's origin.
func (s *Surface) Mount(ctx context.Context, frameURL string, anchor relay.Anchor) (relay.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(frameURL)
	if err != nil {
		return nil, fmt.Errorf("parsing frame URL: %w", err)
	}

	s.mu.Lock()
	if !s.containers[anchor.ContainerID] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", relay.ErrContainerNotFound, anchor.ContainerID)
	}
	if s.elements[anchor.ElementID] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", relay.ErrDuplicateElement, anchor.ElementID)
	}
	s.elements[anchor.ElementID] = true
	s.mu.Unlock()

	host, err := relay.NewHost(s.hostOpts...)
	if err != nil {
		s.release(anchor.ElementID)
		return nil, err
	}

	c := &conn{
		surface:   s,
		elementID: anchor.ElementID,
		host:      host,
		origin:    u.Scheme + "://" + u.Host,
		toHost:    make(chan relay.Message, 16),
		inbound:   make(chan relay.Inbound, 16),
		done:      make(chan struct{}),
	}
	go c.run()
	return c, nil
}

func (s *Surface) release(elementID string) {
	s.mu.Lock()
	delete(s.elements, elementID)
	s.mu.Unlock()
}

// conn couples the parent to one host goroutine.
type conn struct {
	surface   *Surface
	elementID string
	host      *relay.Host
	origin    string
	toHost    chan relay.Message
	inbound   chan relay.Inbound
	done      chan struct{}
	closeOnce sync.Once
}

// run is the host event loop: announce the public key, then serve requests
// one at a time until the connection closes.
func (c *conn) run() {
	defer close(c.inbound)
	defer c.host.Close()

	c.deliver(c.origin, relay.Message{
		Type:  relay.TypePublicKeyReady,
		Value: c.host.PublicKeyHex(),
	})
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.toHost:
			c.deliver(c.origin, c.host.Handle(msg))
		}
	}
}

func (c *conn) deliver(origin string, msg relay.Message) {
	select {
	case c.inbound <- relay.Inbound{Origin: origin, Message: msg}:
	case <-c.done:
	}
}

// Post queues a parent-to-host message.
func (c *conn) Post(ctx context.Context, msg relay.Message) error {
	select {
	case <-c.done:
		return fmt.Errorf("connection closed")
	case <-ctx.Done():
		return ctx.Err()
	case c.toHost <- msg:
		return nil
	}
}

// Messages returns the host-to-parent channel. Closed when the connection
// closes.
func (c *conn) Messages() <-chan relay.Inbound {
	return c.inbound
}

// Close stops the host goroutine and releases the element id.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.surface.release(c.elementID)
	})
	return nil
}

// InjectInbound delivers a message to the parent as if it arrived from the
// given origin. Tests use it to simulate unrelated traffic on the shared
// channel.
func (c *conn) InjectInbound(origin string, msg relay.Message) {
	c.deliver(origin, msg)
}

// InjectInbound exposes the foreign-traffic hook on a Conn mounted by this
// surface.
func InjectInbound(rc relay.Conn, origin string, msg relay.Message) bool {
	c, ok := rc.(*conn)
	if !ok {
		return false
	}
	c.InjectInbound(origin, msg)
	return true
}
