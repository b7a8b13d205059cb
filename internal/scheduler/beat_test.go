package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survey-platform/internal/model"
)

type fakeScheduleStore struct {
	tasks      []model.PeriodicTask
	changedAt  time.Time
	dispatched []string
	listCalls  int
}

func (f *fakeScheduleStore) List(ctx context.Context) ([]model.PeriodicTask, error) {
	f.listCalls++
	out := make([]model.PeriodicTask, len(f.tasks))
	copy(out, f.tasks)
	return out, nil
}

func (f *fakeScheduleStore) MarkDispatched(ctx context.Context, task model.PeriodicTask, now time.Time) error {
	f.dispatched = append(f.dispatched, task.Name)
	return nil
}

func (f *fakeScheduleStore) LastChanged(ctx context.Context) (time.Time, error) {
	return f.changedAt, nil
}

func TestBeat_DispatchesDueTasks(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	runner := NewRunner(1, 16)
	runner.Start()
	defer runner.Stop()

	var ran atomic.Int32
	var gotRecordID atomic.Value
	require.NoError(t, runner.Register(Task{
		Name: "trash.empty_account",
		Run: func(ctx context.Context, recordID string) error {
			gotRecordID.Store(recordID)
			ran.Add(1)
			return nil
		},
	}))

	store := &fakeScheduleStore{
		changedAt: now.Add(-time.Hour),
		tasks: []model.PeriodicTask{
			{
				ID:        "pt-1",
				Name:      "empty account trash abc",
				Task:      "trash.empty_account",
				RecordID:  "trash-abc",
				Enabled:   true,
				OneOff:    true,
				NextRunAt: now.Add(-time.Minute),
			},
			{
				ID:        "pt-2",
				Name:      "not due yet",
				Task:      "trash.empty_account",
				RecordID:  "trash-future",
				Enabled:   true,
				OneOff:    true,
				NextRunAt: now.Add(time.Hour),
			},
		},
	}

	beat := NewBeat(store, runner, time.Second)
	require.NoError(t, beat.Tick(context.Background(), now))

	require.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "trash-abc", gotRecordID.Load())
	assert.Equal(t, []string{"empty account trash abc"}, store.dispatched)

	// The one-off entry is disabled in the cache, so a second tick without a
	// sentinel change dispatches nothing.
	require.NoError(t, beat.Tick(context.Background(), now.Add(time.Minute)))
	assert.Len(t, store.dispatched, 1)
	assert.Equal(t, 1, store.listCalls)
}

func TestBeat_ReloadsWhenSentinelMoves(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	runner := NewRunner(1, 16)
	runner.Start()
	defer runner.Stop()
	require.NoError(t, runner.Register(Task{
		Name: "trash.garbage_collector",
		Run:  func(ctx context.Context, recordID string) error { return nil },
	}))

	store := &fakeScheduleStore{changedAt: now.Add(-time.Hour)}

	beat := NewBeat(store, runner, time.Second)
	require.NoError(t, beat.Tick(context.Background(), now))
	assert.Equal(t, 1, store.listCalls)

	// Unchanged sentinel: cache is reused.
	require.NoError(t, beat.Tick(context.Background(), now.Add(time.Second)))
	assert.Equal(t, 1, store.listCalls)

	// A failure hook bumps the sentinel; the next tick reloads.
	store.changedAt = now
	require.NoError(t, beat.Tick(context.Background(), now.Add(2*time.Second)))
	assert.Equal(t, 2, store.listCalls)
}

func TestBeat_RecurringEntryIsRearmed(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	runner := NewRunner(1, 16)
	runner.Start()
	defer runner.Stop()

	var ran atomic.Int32
	require.NoError(t, runner.Register(Task{
		Name: "trash.garbage_collector",
		Run: func(ctx context.Context, recordID string) error {
			ran.Add(1)
			return nil
		},
	}))

	store := &fakeScheduleStore{
		changedAt: now.Add(-time.Hour),
		tasks: []model.PeriodicTask{{
			ID:        "pt-gc",
			Name:      "garbage collector",
			Task:      "trash.garbage_collector",
			Enabled:   true,
			Interval:  time.Hour,
			NextRunAt: now.Add(-time.Second),
		}},
	}

	beat := NewBeat(store, runner, time.Second)
	require.NoError(t, beat.Tick(context.Background(), now))
	require.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, time.Millisecond)

	// Within the interval: nothing new.
	require.NoError(t, beat.Tick(context.Background(), now.Add(time.Minute)))
	assert.Len(t, store.dispatched, 1)

	// Past the interval: dispatched again.
	require.NoError(t, beat.Tick(context.Background(), now.Add(61*time.Minute)))
	require.Eventually(t, func() bool { return ran.Load() == 2 }, time.Second, time.Millisecond)
	assert.Len(t, store.dispatched, 2)
}
