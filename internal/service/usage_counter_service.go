package service

import (
	"context"
	"log/slog"

	"survey-platform/internal/event"
)

type UsageCounterStore interface {
	Increment(ctx context.Context, userID string, yearMonth string, delta int64) error
	RollIntoCatchAll(ctx context.Context, userID string) error
}

// UsageCounterService keeps platform-wide submission totals stable across
// account deletions: when a user is deleted, their monthly counters are folded
// into the catch-all bucket. The purge folds counters inside its own
// transaction and keeps user.deleted muted while it runs; this reaction
// covers deletions announced from anywhere else.
type UsageCounterService struct {
	counters UsageCounterStore
	bus      event.Bus
}

func NewUsageCounterService(counters UsageCounterStore, bus event.Bus) *UsageCounterService {
	return &UsageCounterService{counters: counters, bus: bus}
}

// Start subscribes to user deletions and processes them until ctx is
// cancelled. It returns the unsubscribe function.
func (s *UsageCounterService) Start(ctx context.Context) func() {
	events, unsubscribe := s.bus.Subscribe(event.TypeUserDeleted)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				userID, ok := e.Payload.(string)
				if !ok || userID == "" {
					slog.Warn("user.deleted event without a user id payload")
					continue
				}
				if err := s.counters.RollIntoCatchAll(ctx, userID); err != nil {
					slog.Error("could not roll usage counters into catch-all",
						"user_id", userID, "error", err)
				}
			}
		}
	}()

	return unsubscribe
}

func (s *UsageCounterService) RecordSubmission(ctx context.Context, userID string, yearMonth string) error {
	return s.counters.Increment(ctx, userID, yearMonth, 1)
}
