package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"survey-platform/internal/event"
)

type fakeUsageCounters struct {
	mu     sync.Mutex
	rolled []string
}

func (f *fakeUsageCounters) Increment(ctx context.Context, userID string, yearMonth string, delta int64) error {
	return nil
}

func (f *fakeUsageCounters) RollIntoCatchAll(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolled = append(f.rolled, userID)
	return nil
}

func (f *fakeUsageCounters) rolledUsers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rolled...)
}

func TestUsageCounterService_RollsUpOnUserDeleted(t *testing.T) {
	t.Parallel()

	counters := &fakeUsageCounters{}
	bus := event.NewBus()
	svc := NewUsageCounterService(counters, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	unsubscribe := svc.Start(ctx)
	defer unsubscribe()

	bus.Publish(event.Event{Type: event.TypeUserDeleted, Payload: "user-1"})

	require.Eventually(t, func() bool {
		rolled := counters.rolledUsers()
		return len(rolled) == 1 && rolled[0] == "user-1"
	}, time.Second, 5*time.Millisecond)
}

func TestUsageCounterService_IgnoresMutedDeletions(t *testing.T) {
	t.Parallel()

	counters := &fakeUsageCounters{}
	bus := event.NewBus()
	svc := NewUsageCounterService(counters, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	unsubscribe := svc.Start(ctx)
	defer unsubscribe()

	unmute := bus.Mute(event.TypeUserDeleted)
	bus.Publish(event.Event{Type: event.TypeUserDeleted, Payload: "user-1"})
	unmute()

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, counters.rolledUsers())
}
