package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/custodia-go/internal/clock"
)

// Polling defaults.
const (
	DefaultInterval = 500 * time.Millisecond
	DefaultTimeout  = 3 * time.Minute
)

// ErrTimeout means no terminal status was reached before the overall
// polling timeout.
var ErrTimeout = errors.New("activity: polling timed out")

// Querier fetches the current state of an activity.
type Querier interface {
	GetActivity(ctx context.Context, organizationID, activityID string) (Activity, error)
}

// Poller drives one activity to a terminal status. It is an explicit state
// machine: Tick performs a single transition and Wait runs ticks on the
// configured interval. Transient transport errors are logged and retried;
// everything else ends the poll.
type Poller struct {
	querier        Querier
	organizationID string
	activityID     string
	interval       time.Duration
	timeout        time.Duration
	clk            clock.Clock
	logger         *slog.Logger

	mu       sync.Mutex
	started  bool
	done     bool
	last     Activity
	err      error
	deadline time.Time
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the delay between status queries.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithTimeout sets the overall polling deadline.
func WithTimeout(d time.Duration) PollerOption {
	return func(p *Poller) { p.timeout = d }
}

// WithClock injects the time source.
func WithClock(c clock.Clock) PollerOption {
	return func(p *Poller) { p.clk = c }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = logger }
}

// NewPoller creates a poller for one activity.
func NewPoller(querier Querier, organizationID, activityID string, opts ...PollerOption) *Poller {
	p := &Poller{
		querier:        querier,
		organizationID: organizationID,
		activityID:     activityID,
		interval:       DefaultInterval,
		timeout:        DefaultTimeout,
		clk:            clock.Real(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tick performs one state transition: arm the deadline on first use, check
// it, query once, classify the answer. It reports whether polling is over;
// the outcome is then available from Result.
func (p *Poller) Tick(ctx context.Context) bool {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return true
	}
	if !p.started {
		p.started = true
		p.deadline = p.clk.Now().Add(p.timeout)
	}
	deadline := p.deadline
	p.mu.Unlock()

	if !p.clk.Now().Before(deadline) {
		return p.finish(Activity{}, fmt.Errorf("%w: no terminal status for activity %s", ErrTimeout, p.activityID))
	}

	act, err := p.querier.GetActivity(ctx, p.organizationID, p.activityID)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return p.finish(Activity{}, err)
	case err != nil:
		// Transient transport fault; keep polling until the deadline.
		p.logger.Warn("activity query failed, retrying",
			"activity_id", p.activityID, "error", err)
		return false
	}

	switch {
	case act.ErrorMessage != "" && !act.Status.Terminal():
		// Error presence wins over a non-terminal status value.
		return p.finish(act, &FailureError{Activity: act})
	case act.Status.Succeeded():
		return p.finish(act, nil)
	case act.Status.Terminal():
		return p.finish(act, &FailureError{Activity: act})
	case act.Status == StatusPending:
		return false
	default:
		return p.finish(act, fmt.Errorf("activity %s has unknown status %q", p.activityID, act.Status))
	}
}

func (p *Poller) finish(act Activity, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	p.last = act
	p.err = err
	return true
}

// Result returns the terminal activity and error once Tick has reported
// done.
func (p *Poller) Result() (Activity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.err
}

// Wait runs ticks at the configured interval until the activity is
// terminal, the poll times out, or ctx ends. The interval timer is cleared
// on every exit path.
func (p *Poller) Wait(ctx context.Context) (Activity, error) {
	for {
		if p.Tick(ctx) {
			return p.Result()
		}

		fired := make(chan struct{}, 1)
		timer := p.clk.AfterFunc(p.interval, func() { fired <- struct{}{} })
		select {
		case <-ctx.Done():
			timer.Stop()
			return Activity{}, ctx.Err()
		case <-fired:
		}
	}
}
