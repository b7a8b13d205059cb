package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestRunner_RetriesUntilBudgetExhausted(t *testing.T) {
	runner := NewRunner(2, 16)
	runner.Start()
	defer runner.Stop()

	var runs, retries, failures atomic.Int32
	var lastFailure atomic.Value

	err := runner.Register(Task{
		Name: "purge.test",
		Run: func(ctx context.Context, recordID string) error {
			runs.Add(1)
			return errTransient
		},
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
		Policy: RetryPolicy{
			BackoffBase: time.Millisecond,
			BackoffMax:  4 * time.Millisecond,
			MaxRetries:  3,
		},
		OnRetry: func(ctx context.Context, recordID string, cause error) {
			retries.Add(1)
		},
		OnFailure: func(ctx context.Context, recordID string, cause error) {
			lastFailure.Store(cause.Error())
			failures.Add(1)
		},
	})
	require.NoError(t, err)

	require.NoError(t, runner.Enqueue("purge.test", "rec-1"))

	require.Eventually(t, func() bool { return failures.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(4), runs.Load(), "initial attempt plus three retries")
	assert.Equal(t, int32(3), retries.Load())
	assert.Equal(t, "transient", lastFailure.Load())
}

func TestRunner_NonRetryableFailsImmediately(t *testing.T) {
	runner := NewRunner(1, 16)
	runner.Start()
	defer runner.Stop()

	var runs, retries, failures atomic.Int32

	require.NoError(t, runner.Register(Task{
		Name: "purge.fatal",
		Run: func(ctx context.Context, recordID string) error {
			runs.Add(1)
			return errors.New("boom")
		},
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
		Policy:    RetryPolicy{BackoffBase: time.Millisecond, MaxRetries: 5},
		OnRetry:   func(ctx context.Context, recordID string, cause error) { retries.Add(1) },
		OnFailure: func(ctx context.Context, recordID string, cause error) { failures.Add(1) },
	}))

	require.NoError(t, runner.Enqueue("purge.fatal", "rec-2"))

	require.Eventually(t, func() bool { return failures.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.Zero(t, retries.Load())
}

func TestRunner_SuccessCallsNoHooks(t *testing.T) {
	runner := NewRunner(1, 16)
	runner.Start()
	defer runner.Stop()

	var runs, hooks atomic.Int32

	require.NoError(t, runner.Register(Task{
		Name: "purge.ok",
		Run: func(ctx context.Context, recordID string) error {
			runs.Add(1)
			return nil
		},
		OnRetry:   func(ctx context.Context, recordID string, cause error) { hooks.Add(1) },
		OnFailure: func(ctx context.Context, recordID string, cause error) { hooks.Add(1) },
	}))

	require.NoError(t, runner.Enqueue("purge.ok", "rec-3"))

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, hooks.Load())
}

func TestRunner_RetryTimersAreReleasedAfterFiring(t *testing.T) {
	runner := NewRunner(1, 16)
	runner.Start()
	defer runner.Stop()

	var runs atomic.Int32

	require.NoError(t, runner.Register(Task{
		Name: "purge.flaky",
		Run: func(ctx context.Context, recordID string) error {
			if runs.Add(1) < 3 {
				return errTransient
			}
			return nil
		},
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
		Policy:    RetryPolicy{BackoffBase: time.Millisecond, MaxRetries: 5},
	}))

	require.NoError(t, runner.Enqueue("purge.flaky", "rec-5"))
	require.Eventually(t, func() bool { return runs.Load() == 3 }, time.Second, time.Millisecond)

	// Each fired retry must drop its own bookkeeping; nothing may linger
	// until shutdown.
	require.Eventually(t, func() bool {
		runner.timerMu.Lock()
		defer runner.timerMu.Unlock()
		return len(runner.timers) == 0
	}, time.Second, time.Millisecond)
}

func TestRunner_StopCancelsPendingRetryTimer(t *testing.T) {
	runner := NewRunner(1, 16)
	runner.Start()

	var retries atomic.Int32

	require.NoError(t, runner.Register(Task{
		Name: "purge.stuck",
		Run: func(ctx context.Context, recordID string) error {
			return errTransient
		},
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
		Policy:    RetryPolicy{BackoffBase: time.Hour, MaxRetries: 5},
		OnRetry:   func(ctx context.Context, recordID string, cause error) { retries.Add(1) },
	}))

	require.NoError(t, runner.Enqueue("purge.stuck", "rec-6"))
	require.Eventually(t, func() bool { return retries.Load() == 1 }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		runner.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop must not wait out the backoff of a pending retry")
	}
}

func TestRunner_EnqueueUnknownTask(t *testing.T) {
	runner := NewRunner(1, 16)
	assert.Error(t, runner.Enqueue("nope", "rec-4"))
}

func TestBackoffDelay(t *testing.T) {
	policy := RetryPolicy{
		BackoffBase: 60 * time.Second,
		BackoffMax:  600 * time.Second,
		MaxRetries:  5,
	}

	assert.Equal(t, 60*time.Second, backoffDelay(policy, 0))
	assert.Equal(t, 120*time.Second, backoffDelay(policy, 1))
	assert.Equal(t, 240*time.Second, backoffDelay(policy, 2))
	assert.Equal(t, 480*time.Second, backoffDelay(policy, 3))
	// Doubling past the cap pins to the cap.
	assert.Equal(t, 600*time.Second, backoffDelay(policy, 4))
	assert.Equal(t, 600*time.Second, backoffDelay(policy, 10))
}
