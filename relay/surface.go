package relay

import (
	"context"
	"errors"
)

// Surface validation and mount errors.
var (
	// ErrContainerNotFound means the anchor's container does not exist on
	// the surface.
	ErrContainerNotFound = errors.New("relay: container not found")
	// ErrDuplicateElement means an element with the anchor's id is already
	// mounted.
	ErrDuplicateElement = errors.New("relay: element id already in use")
	// ErrSurfaceUnavailable means the platform cannot host a relay frame at
	// all.
	ErrSurfaceUnavailable = errors.New("relay: surface unavailable")
)

// Anchor names where a frame mounts on a surface: an existing container and
// a fresh element id inside it.
type Anchor struct {
	ContainerID string
	ElementID   string
}

// Inbound is a host-to-parent message together with the origin it arrived
// from. Origin filtering is the receiver's job; the surface only reports.
type Inbound struct {
	Origin  string
	Message Message
}

// Conn is a mounted frame connection. Messages is closed when the connection
// closes.
type Conn interface {
	Post(ctx context.Context, msg Message) error
	Messages() <-chan Inbound
	Close() error
}

// Surface abstracts the platform that can host a relay frame. Validate must
// fail before any mutation; Mount inserts the frame element and opens the
// message channel.
type Surface interface {
	Validate(anchor Anchor) error
	Mount(ctx context.Context, frameURL string, anchor Anchor) (Conn, error)
}
