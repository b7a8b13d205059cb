package scheduler

import (
	"context"
	"log/slog"
	"time"

	"survey-platform/internal/metrics"
	"survey-platform/internal/model"
)

// ScheduleStore is the slice of the periodic-task repository the beat needs.
type ScheduleStore interface {
	List(ctx context.Context) ([]model.PeriodicTask, error)
	MarkDispatched(ctx context.Context, task model.PeriodicTask, now time.Time) error
	LastChanged(ctx context.Context) (time.Time, error)
}

// Beat polls the schedule and enqueues due tasks on the runner. It keeps a
// cached copy of the schedule and reloads it only when the store's changed
// sentinel moves, so a failure hook bumping the sentinel forces the next
// tick to see the updated schedule.
type Beat struct {
	store    ScheduleStore
	runner   *Runner
	interval time.Duration

	cache       []model.PeriodicTask
	cacheLoaded bool
	lastChanged time.Time
}

func NewBeat(store ScheduleStore, runner *Runner, interval time.Duration) *Beat {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Beat{store: store, runner: runner, interval: interval}
}

func (b *Beat) Start(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	slog.Info("beat started", "interval", b.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("beat stopped")
			return
		case now := <-ticker.C:
			if err := b.Tick(ctx, now.UTC()); err != nil {
				slog.Error("beat tick failed", "error", err)
			}
		}
	}
}

// Tick runs one scheduling pass. Exported so tests can drive the beat with
// a synthetic clock.
func (b *Beat) Tick(ctx context.Context, now time.Time) error {
	if err := b.refreshCache(ctx); err != nil {
		return err
	}

	for i := range b.cache {
		entry := &b.cache[i]
		if !entry.Enabled || entry.NextRunAt.After(now) {
			continue
		}

		if err := b.runner.Enqueue(entry.Task, entry.RecordID); err != nil {
			slog.Error("beat could not enqueue task",
				"task", entry.Task, "name", entry.Name, "error", err)
			continue
		}
		metrics.BeatDispatches.WithLabelValues(entry.Task).Inc()

		if err := b.store.MarkDispatched(ctx, *entry, now); err != nil {
			return err
		}

		// Mirror the store update so the cache stays usable until the next
		// sentinel-driven reload.
		last := now
		entry.LastRunAt = &last
		if entry.OneOff {
			entry.Enabled = false
		} else {
			entry.NextRunAt = now.Add(entry.Interval)
		}
	}
	return nil
}

func (b *Beat) refreshCache(ctx context.Context) error {
	changedAt, err := b.store.LastChanged(ctx)
	if err != nil {
		return err
	}

	if b.cacheLoaded && !changedAt.After(b.lastChanged) {
		return nil
	}

	tasks, err := b.store.List(ctx)
	if err != nil {
		return err
	}

	b.cache = tasks
	b.cacheLoaded = true
	b.lastChanged = changedAt
	slog.Debug("beat schedule reloaded", "entries", len(tasks))
	return nil
}
