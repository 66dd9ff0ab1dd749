package activity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/custodia-go/internal/clock"
)

// scriptedQuerier returns one scripted step per call. A step with err set is
// a transport failure.
type scriptedQuerier struct {
	steps []scriptedStep
	calls int
}

type scriptedStep struct {
	act Activity
	err error
}

func (q *scriptedQuerier) GetActivity(_ context.Context, _, _ string) (Activity, error) {
	if q.calls >= len(q.steps) {
		return Activity{}, errors.New("no more scripted responses")
	}
	step := q.steps[q.calls]
	q.calls++
	return step.act, step.err
}

func pending() scriptedStep {
	return scriptedStep{act: Activity{ID: "act-1", Status: StatusPending}}
}

func terminal(status Status) scriptedStep {
	return scriptedStep{act: Activity{
		ID:     "act-1",
		Status: status,
		Result: json.RawMessage(`{"signature":"abc"}`),
	}}
}

// waitForTimer blocks until the poller has armed its interval timer.
func waitForTimer(t *testing.T, fake *clock.Fake) {
	t.Helper()
	require.Eventually(t, func() bool { return fake.PendingTimers() >= 1 },
		time.Second, time.Millisecond)
}

// runWait drives Wait over a fake clock, advancing by the interval until it
// returns.
func runWait(t *testing.T, p *Poller, fake *clock.Fake, advances int) (Activity, error) {
	t.Helper()
	type outcome struct {
		act Activity
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		act, err := p.Wait(t.Context())
		done <- outcome{act, err}
	}()

	for i := 0; i < advances; i++ {
		select {
		case out := <-done:
			return out.act, out.err
		default:
		}
		waitForTimer(t, fake)
		fake.Advance(time.Second)
	}
	out := <-done
	return out.act, out.err
}

func TestPoller_ResolvesOnCompleted(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	q := &scriptedQuerier{steps: []scriptedStep{pending(), pending(), terminal(StatusCompleted)}}
	p := NewPoller(q, "org-1", "act-1",
		WithClock(fake), WithInterval(time.Second), WithTimeout(time.Minute))

	act, err := runWait(t, p, fake, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, act.Status)
	assert.JSONEq(t, `{"signature":"abc"}`, string(act.Result))
	assert.Equal(t, 3, q.calls, "exactly one query per tick")
	assert.Equal(t, 0, fake.PendingTimers(), "interval timer cleared on exit")
}

func TestPoller_RejectsOnFailed(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	q := &scriptedQuerier{steps: []scriptedStep{pending(), terminal(StatusFailed)}}
	p := NewPoller(q, "org-1", "act-1",
		WithClock(fake), WithInterval(time.Second), WithTimeout(time.Minute))

	_, err := runWait(t, p, fake, 1)
	var failure *FailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StatusFailed, failure.Activity.Status)
	assert.Equal(t, 2, q.calls, "no queries after a terminal status")
	assert.Equal(t, 0, fake.PendingTimers())
}

func TestPoller_TimesOut(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	q := &scriptedQuerier{steps: []scriptedStep{pending(), pending(), pending(), pending()}}
	p := NewPoller(q, "org-1", "act-1",
		WithClock(fake), WithInterval(time.Second), WithTimeout(2500*time.Millisecond))

	_, err := runWait(t, p, fake, 3)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 3, q.calls, "no query after the deadline passes")
	assert.Equal(t, 0, fake.PendingTimers())
}

func TestPoller_RetriesTransportErrors(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	q := &scriptedQuerier{steps: []scriptedStep{
		{err: errors.New("connection reset")},
		pending(),
		terminal(StatusIncluded),
	}}
	p := NewPoller(q, "org-1", "act-1",
		WithClock(fake), WithInterval(time.Second), WithTimeout(time.Minute))

	act, err := runWait(t, p, fake, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusIncluded, act.Status)
	assert.Equal(t, 3, q.calls)
}

func TestPoller_ErrorMessageOnPendingRejectsImmediately(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	q := &scriptedQuerier{steps: []scriptedStep{
		{act: Activity{ID: "act-1", Status: StatusPending, ErrorMessage: "quorum denied"}},
	}}
	p := NewPoller(q, "org-1", "act-1",
		WithClock(fake), WithInterval(time.Second), WithTimeout(time.Minute))

	_, err := runWait(t, p, fake, 0)
	var failure *FailureError
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, err.Error(), "quorum denied")
	assert.Equal(t, 1, q.calls)
}

func TestPoller_ContextCancellation(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	q := &scriptedQuerier{steps: []scriptedStep{pending(), pending(), pending()}}
	p := NewPoller(q, "org-1", "act-1",
		WithClock(fake), WithInterval(time.Second), WithTimeout(time.Minute))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		_, err := p.Wait(ctx)
		done <- err
	}()
	waitForTimer(t, fake)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, fake.PendingTimers(), "interval timer cleared on cancellation")
}

func TestPoller_UnknownStatus(t *testing.T) {
	q := &scriptedQuerier{steps: []scriptedStep{
		{act: Activity{ID: "act-1", Status: Status("WEIRD")}},
	}}
	p := NewPoller(q, "org-1", "act-1")

	require.True(t, p.Tick(t.Context()))
	_, err := p.Result()
	assert.ErrorContains(t, err, "unknown status")
}
