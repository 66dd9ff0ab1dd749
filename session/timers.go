package session

import (
	"math"
	"sync"
	"time"

	"github.com/custodia-labs/custodia-go/internal/clock"
)

// DefaultMaxWait caps a single timer wait. Platform timers saturate around
// 2^31-1 milliseconds; longer delays are reached by chaining.
const DefaultMaxWait = time.Duration(math.MaxInt32) * time.Millisecond

// CancelFunc cancels a scheduled callback. It is idempotent and covers
// every chained wait.
type CancelFunc func()

// ScheduleAt invokes fn exactly once when the clock reaches target. The
// delay is covered by one or more waits of at most maxWait each; every wake
// re-evaluates the remaining real time against target, so a system sleep
// between wakes does not cause drift. The returned CancelFunc prevents the
// callback entirely when called before it fires.
func ScheduleAt(clk clock.Clock, target time.Time, maxWait time.Duration, fn func()) CancelFunc {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	s := &scheduled{clk: clk, target: target, maxWait: maxWait, fn: fn}
	s.arm()
	return s.cancel
}

type scheduled struct {
	clk     clock.Clock
	target  time.Time
	maxWait time.Duration
	fn      func()

	mu        sync.Mutex
	cancelled bool
	fired     bool
	timer     clock.Timer
}

// arm registers the next bounded wait toward the target.
func (s *scheduled) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || s.fired {
		return
	}
	remaining := s.target.Sub(s.clk.Now())
	if remaining > s.maxWait {
		s.timer = s.clk.AfterFunc(s.maxWait, s.arm)
		return
	}
	if remaining < 0 {
		remaining = 0
	}
	s.timer = s.clk.AfterFunc(remaining, s.wake)
}

// wake runs on the final wait's expiry. The remaining time is re-checked:
// if the wake is early relative to the target the wait is re-armed.
func (s *scheduled) wake() {
	s.mu.Lock()
	if s.cancelled || s.fired {
		s.mu.Unlock()
		return
	}
	if s.clk.Now().Before(s.target) {
		s.mu.Unlock()
		s.arm()
		return
	}
	s.fired = true
	s.mu.Unlock()
	s.fn()
}

func (s *scheduled) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || s.fired {
		return
	}
	s.cancelled = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

// ExpiryTimers owns the expiry schedule of live sessions, one timer per
// session key. The owner is the only mutator; callbacks remove their own
// entry when they fire.
type ExpiryTimers struct {
	clk     clock.Clock
	maxWait time.Duration

	mu     sync.Mutex
	timers map[string]*timerEntry
}

type timerEntry struct {
	cancel CancelFunc
}

// TimersOption configures ExpiryTimers.
type TimersOption func(*ExpiryTimers)

// WithMaxWait caps a single chained wait. Tests use small caps to exercise
// chaining.
func WithMaxWait(d time.Duration) TimersOption {
	return func(t *ExpiryTimers) { t.maxWait = d }
}

// NewExpiryTimers creates an empty schedule on the given clock.
func NewExpiryTimers(clk clock.Clock, opts ...TimersOption) *ExpiryTimers {
	t := &ExpiryTimers{
		clk:     clk,
		maxWait: DefaultMaxWait,
		timers:  make(map[string]*timerEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Put schedules fn for the session key at target, replacing and cancelling
// any previous schedule under the same key.
func (t *ExpiryTimers) Put(key string, target time.Time, fn func()) {
	entry := &timerEntry{}
	entry.cancel = ScheduleAt(t.clk, target, t.maxWait, func() {
		t.remove(key, entry)
		fn()
	})

	t.mu.Lock()
	old := t.timers[key]
	t.timers[key] = entry
	t.mu.Unlock()
	if old != nil {
		old.cancel()
	}
}

// remove deletes the entry if it is still the current one for the key.
func (t *ExpiryTimers) remove(key string, entry *timerEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timers[key] == entry {
		delete(t.timers, key)
	}
}

// Clear cancels and removes the schedule for one session key.
func (t *ExpiryTimers) Clear(key string) {
	t.mu.Lock()
	entry := t.timers[key]
	delete(t.timers, key)
	t.mu.Unlock()
	if entry != nil {
		entry.cancel()
	}
}

// ClearAll cancels and removes every schedule.
func (t *ExpiryTimers) ClearAll() {
	t.mu.Lock()
	entries := t.timers
	t.timers = make(map[string]*timerEntry)
	t.mu.Unlock()
	for _, entry := range entries {
		entry.cancel()
	}
}

// Len reports how many sessions have a pending expiry.
func (t *ExpiryTimers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
