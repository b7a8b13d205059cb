// Package scheduler runs named, retryable units of work on a worker pool.
//
// Tasks are registered explicitly with their retry policy instead of being
// decorated at definition time, so the policy is configuration, not code.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"survey-platform/internal/metrics"
	"survey-platform/internal/model"
)

// RetryPolicy bounds the retry loop for one registered task.
// Delays double starting at BackoffBase and are capped at BackoffMax;
// jitter is deliberately disabled so retries stay predictable in tests
// and in the audit trail.
type RetryPolicy struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxRetries  int
}

// Hook observes a lifecycle event for a task invocation. Hooks receive the
// record id the task was enqueued with and the error that triggered them.
type Hook func(ctx context.Context, recordID string, cause error)

// Task is a named unit of work. Retryable classifies errors: when it returns
// true and the retry budget is not exhausted, the runner reschedules the
// invocation with backoff and calls OnRetry; otherwise OnFailure fires and
// the invocation is abandoned.
type Task struct {
	Name      string
	Run       func(ctx context.Context, recordID string) error
	Retryable func(err error) bool
	Policy    RetryPolicy
	OnRetry   Hook
	OnFailure Hook
}

type job struct {
	task     string
	recordID string
	attempt  int
}

type Runner struct {
	mu      sync.RWMutex
	tasks   map[string]Task
	queue   chan job
	workers int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Pending retry timers, keyed by an id so a fired timer can drop its
	// own entry. Stop drains whatever is left.
	timerMu  sync.Mutex
	timerSeq uint64
	timers   map[uint64]*time.Timer
	timerWG  sync.WaitGroup
}

func NewRunner(workers int, queueSize int) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		tasks:   map[string]Task{},
		queue:   make(chan job, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		timers:  map[uint64]*time.Timer{},
	}
}

func (r *Runner) Register(task Task) error {
	if task.Name == "" || task.Run == nil {
		return fmt.Errorf("task needs a name and a run function")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.Name]; exists {
		return fmt.Errorf("task %q is already registered", task.Name)
	}
	r.tasks[task.Name] = task
	return nil
}

func (r *Runner) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.workerLoop()
	}
}

// Stop cancels in-flight work, stops pending retry timers and waits for
// workers and any timer callbacks already running.
func (r *Runner) Stop() {
	r.cancel()

	r.timerMu.Lock()
	for id, timer := range r.timers {
		// A false Stop means the callback is running or done; it settles
		// its own waitgroup entry.
		if timer.Stop() {
			r.timerWG.Done()
		}
		delete(r.timers, id)
	}
	r.timerMu.Unlock()

	r.timerWG.Wait()
	r.wg.Wait()
}

// Enqueue schedules a fresh invocation of the named task.
func (r *Runner) Enqueue(name string, recordID string) error {
	r.mu.RLock()
	_, exists := r.tasks[name]
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", model.ErrTaskNotRegistered, name)
	}

	return r.push(job{task: name, recordID: recordID})
}

func (r *Runner) push(j job) error {
	select {
	case r.queue <- j:
		return nil
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

func (r *Runner) workerLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case j := <-r.queue:
			r.process(j)
		}
	}
}

func (r *Runner) process(j job) {
	r.mu.RLock()
	task, exists := r.tasks[j.task]
	r.mu.RUnlock()
	if !exists {
		slog.Error("dropping job for unregistered task", "task", j.task, "record_id", j.recordID)
		return
	}

	err := task.Run(r.ctx, j.recordID)
	if err == nil {
		metrics.TaskRuns.WithLabelValues(j.task, "success").Inc()
		return
	}

	if task.Retryable != nil && task.Retryable(err) && j.attempt < task.Policy.MaxRetries {
		delay := backoffDelay(task.Policy, j.attempt)
		metrics.TaskRuns.WithLabelValues(j.task, "retry").Inc()
		slog.Warn("task will be retried",
			"task", j.task, "record_id", j.recordID,
			"attempt", j.attempt+1, "delay", delay, "error", err)

		if task.OnRetry != nil {
			task.OnRetry(r.ctx, j.recordID, err)
		}

		r.scheduleRetry(job{task: j.task, recordID: j.recordID, attempt: j.attempt + 1}, delay)
		return
	}

	metrics.TaskRuns.WithLabelValues(j.task, "failure").Inc()
	slog.Error("task failed",
		"task", j.task, "record_id", j.recordID, "attempt", j.attempt, "error", err)

	if task.OnFailure != nil {
		task.OnFailure(r.ctx, j.recordID, err)
	}
}

// scheduleRetry arms a one-shot timer that requeues the job after the
// backoff delay. Arming and disarming both happen under timerMu: a timer
// registered here is visible to Stop's drain, and one armed during
// shutdown is refused outright.
func (r *Runner) scheduleRetry(next job, delay time.Duration) {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()

	if r.ctx.Err() != nil {
		slog.Warn("dropping retry on shutdown", "task", next.task, "record_id", next.recordID)
		return
	}

	r.timerWG.Add(1)
	id := r.timerSeq
	r.timerSeq++
	r.timers[id] = time.AfterFunc(delay, func() {
		defer r.timerWG.Done()

		r.timerMu.Lock()
		delete(r.timers, id)
		r.timerMu.Unlock()

		if pushErr := r.push(next); pushErr != nil {
			slog.Warn("dropping retry on shutdown", "task", next.task, "record_id", next.recordID)
		}
	})
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := policy.BackoffBase
	if delay <= 0 {
		delay = time.Minute
	}

	for i := 0; i < attempt; i++ {
		delay *= 2
		if policy.BackoffMax > 0 && delay >= policy.BackoffMax {
			return policy.BackoffMax
		}
	}
	if policy.BackoffMax > 0 && delay > policy.BackoffMax {
		return policy.BackoffMax
	}
	return delay
}
