package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/core/pkg/device"
	"github.com/streamhub/core/pkg/model"
	"github.com/streamhub/core/pkg/safety"
)

func TestDispatchSuccess(t *testing.T) {
	sender := &fakeSender{}
	q, _, recorder := newTestQueue(fastConfig(), sender)
	q.Start()
	defer q.Stop()

	require.NoError(t, q.Submit(testItem("a", 5)))

	require.Eventually(t, func() bool {
		return len(recorder.byStatus(model.StatusDone)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	done := recorder.byStatus(model.StatusDone)[0]
	assert.Equal(t, "a", done.ID)
	assert.Equal(t, 1, done.Attempts)
	assert.Empty(t, done.DropReason)

	require.Equal(t, 1, sender.callCount())
	call := sender.call(0)
	assert.Equal(t, "dev-1", call.DeviceID)
	assert.Equal(t, model.CommandVibrate, call.Kind)
	assert.Equal(t, 50, call.Intensity)
	assert.Equal(t, time.Second, call.Duration)
}

func TestDispatchSendsClampedValues(t *testing.T) {
	sender := &fakeSender{}
	canceller := &fakeCanceller{}
	recorder := &fakeRecorder{}
	arbiter := safety.NewArbiter(safety.GlobalConfig{
		MaxIntensity: 60,
		MaxDuration:  500 * time.Millisecond,
	}, model.RealClock{})
	q := New(fastConfig(), arbiter, sender, canceller, recorder, model.RealClock{})
	q.Start()
	defer q.Stop()

	item := testItem("a", 5)
	item.Intensity = 100
	item.Duration = 10 * time.Second
	require.NoError(t, q.Submit(item))

	require.Eventually(t, func() bool {
		return sender.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	call := sender.call(0)
	assert.Equal(t, 60, call.Intensity, "intensity clamped to the global cap")
	assert.Equal(t, 500*time.Millisecond, call.Duration)
}

func TestDispatchRetriesTransientErrors(t *testing.T) {
	sender := &fakeSender{script: func(n int) error {
		if n < 2 {
			return device.NewClassifiedError(model.ReasonServerError, 0, errors.New("http 503"))
		}
		return nil
	}}
	q, _, recorder := newTestQueue(fastConfig(), sender)
	q.Start()
	defer q.Stop()

	require.NoError(t, q.Submit(testItem("a", 5)))

	require.Eventually(t, func() bool {
		return len(recorder.byStatus(model.StatusDone)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	done := recorder.byStatus(model.StatusDone)[0]
	assert.Equal(t, 3, done.Attempts)
	assert.Equal(t, 3, sender.callCount())
}

func TestDispatchAuthFailureDoesNotRetry(t *testing.T) {
	sender := &fakeSender{script: func(int) error {
		return device.NewClassifiedError(model.ReasonAuth, 0, errors.New("http 401"))
	}}
	q, _, recorder := newTestQueue(fastConfig(), sender)
	q.Start()
	defer q.Stop()

	require.NoError(t, q.Submit(testItem("a", 5)))

	require.Eventually(t, func() bool {
		return len(recorder.byStatus(model.StatusFailed)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	failed := recorder.byStatus(model.StatusFailed)[0]
	assert.Equal(t, model.ReasonAuth, failed.DropReason)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, 1, sender.callCount())
}

func TestDispatchExhaustsRetries(t *testing.T) {
	sender := &fakeSender{script: func(int) error {
		return device.NewClassifiedError(model.ReasonNetwork, 0, errors.New("connection refused"))
	}}
	cfg := fastConfig()
	cfg.MaxRetries = 2
	q, _, recorder := newTestQueue(cfg, sender)
	q.Start()
	defer q.Stop()

	require.NoError(t, q.Submit(testItem("a", 5)))

	require.Eventually(t, func() bool {
		return len(recorder.byStatus(model.StatusFailed)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	failed := recorder.byStatus(model.StatusFailed)[0]
	assert.Equal(t, model.ReasonExceededRetries, failed.DropReason)
	// MaxRetries bounds retries, so attempts = first try + retries.
	assert.Equal(t, 3, failed.Attempts)
}

func TestDispatchHonorsRetryAfter(t *testing.T) {
	retryAfter := 80 * time.Millisecond
	var times []time.Time
	sender := &fakeSender{script: func(n int) error {
		times = append(times, time.Now())
		if n == 0 {
			return device.NewClassifiedError(model.ReasonRateLimited, retryAfter, errors.New("http 429"))
		}
		return nil
	}}
	q, _, recorder := newTestQueue(fastConfig(), sender)
	q.Start()
	defer q.Stop()

	require.NoError(t, q.Submit(testItem("a", 5)))

	require.Eventually(t, func() bool {
		return len(recorder.byStatus(model.StatusDone)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Len(t, times, 2)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), retryAfter)
}

func TestDispatchDropsCancelledItem(t *testing.T) {
	sender := &fakeSender{}
	q, _, recorder := newTestQueue(fastConfig(), sender)

	tok := &cancelFlag{}
	tok.Cancel()
	item := testItem("a", 5)
	item.ExecutionID = "exec-1"
	item.CancelToken = tok
	require.NoError(t, q.Submit(item))

	q.Start()
	defer q.Stop()

	require.Eventually(t, func() bool {
		return len(recorder.byStatus(model.StatusDropped)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	droppedItem := recorder.byStatus(model.StatusDropped)[0]
	assert.Equal(t, model.ReasonCancelled, droppedItem.DropReason)
	assert.Zero(t, sender.callCount(), "cancelled items never reach the backend")
}

func TestDispatchDeniedBySafety(t *testing.T) {
	sender := &fakeSender{}
	canceller := &fakeCanceller{}
	recorder := &fakeRecorder{}
	arbiter := safety.NewArbiter(safety.GlobalConfig{
		MaxIntensity:    100,
		MaxDuration:     30 * time.Second,
		GlobalRateLimit: 1,
	}, model.RealClock{})
	q := New(fastConfig(), arbiter, sender, canceller, recorder, model.RealClock{})
	q.Start()
	defer q.Stop()

	require.NoError(t, q.Submit(testItem("a", 5)))
	require.Eventually(t, func() bool {
		return len(recorder.byStatus(model.StatusDone)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The global window is now full: the next item is denied, not sent.
	require.NoError(t, q.Submit(testItem("b", 5)))
	require.Eventually(t, func() bool {
		return len(recorder.byStatus(model.StatusDropped)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	droppedItem := recorder.byStatus(model.StatusDropped)[0]
	assert.Equal(t, model.ReasonGlobalRate, droppedItem.DropReason)
	assert.Equal(t, 1, sender.callCount())
}

func TestExecutionItemsDispatchInStepOrder(t *testing.T) {
	sender := &fakeSender{}
	q, _, recorder := newTestQueue(fastConfig(), sender)
	q.Start()
	defer q.Stop()

	now := time.Now()
	tok := &cancelFlag{}
	for i := 0; i < 3; i++ {
		stepIndex := i
		item := testItem("step", 5)
		item.ID = []string{"s0", "s1", "s2"}[i]
		item.ExecutionID = "exec-1"
		item.StepIndex = &stepIndex
		item.CancelToken = tok
		item.ScheduledNotBefore = now.Add(time.Duration(i*20) * time.Millisecond)
		require.NoError(t, q.Submit(item))
	}

	require.Eventually(t, func() bool {
		return len(recorder.byStatus(model.StatusDone)) == 3
	}, 2*time.Second, 10*time.Millisecond)

	done := recorder.byStatus(model.StatusDone)
	assert.Equal(t, "s0", done[0].ID)
	assert.Equal(t, "s1", done[1].ID)
	assert.Equal(t, "s2", done[2].ID)
}
