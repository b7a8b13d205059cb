package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"survey-platform/internal/event"
	"survey-platform/internal/model"
	"survey-platform/internal/repository"
	"survey-platform/internal/scheduler"
)

type fakeAccountTrash struct {
	mu       sync.Mutex
	record   model.AccountTrash
	claimErr error
	retries  []string
	failures []string
	deleted  []string
	staleIDs []string
}

func (f *fakeAccountTrash) ClaimForPurge(ctx context.Context, id string) (model.AccountTrash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return f.record, f.claimErr
	}
	return f.record, nil
}

func (f *fakeAccountTrash) MarkRetry(ctx context.Context, id string, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, errText)
	return nil
}

func (f *fakeAccountTrash) MarkFailed(ctx context.Context, id string, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errText)
	return nil
}

func (f *fakeAccountTrash) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAccountTrash) ResetStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	return f.staleIDs, nil
}

func (f *fakeAccountTrash) lastFailure() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) == 0 {
		return ""
	}
	return f.failures[len(f.failures)-1]
}

func (f *fakeAccountTrash) retryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.retries)
}

type fakeProjectTrash struct {
	mu        sync.Mutex
	record    model.ProjectTrash
	claimErr  error
	retries   []string
	failures  []string
	completed []string
	staleIDs  []string
	dropped   int64
}

func (f *fakeProjectTrash) ClaimForPurge(ctx context.Context, id string) (model.ProjectTrash, error) {
	if f.claimErr != nil {
		return f.record, f.claimErr
	}
	return f.record, nil
}

func (f *fakeProjectTrash) MarkRetry(ctx context.Context, id string, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, errText)
	return nil
}

func (f *fakeProjectTrash) MarkFailed(ctx context.Context, id string, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errText)
	return nil
}

func (f *fakeProjectTrash) MarkComplete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeProjectTrash) ResetStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	return f.staleIDs, nil
}

func (f *fakeProjectTrash) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return f.dropped, nil
}

type fakeUsers struct {
	mu         sync.Mutex
	user       model.User
	findErr    error
	purged     []repository.PurgeParams
	purgeCalls int
}

func (f *fakeUsers) FindByID(ctx context.Context, id string) (model.User, error) {
	if f.findErr != nil {
		return model.User{}, f.findErr
	}
	return f.user, nil
}

func (f *fakeUsers) Purge(ctx context.Context, p repository.PurgeParams, beforeCommit func(ctx context.Context, tx repository.Tx) error) error {
	f.mu.Lock()
	f.purgeCalls++
	f.mu.Unlock()

	if beforeCommit != nil {
		if err := beforeCommit(ctx, nil); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.purged = append(f.purged, p)
	f.mu.Unlock()
	return nil
}

type fakeProjects struct {
	mu       sync.Mutex
	projects []model.Project
	deleted  []string
}

func (f *fakeProjects) FindByID(ctx context.Context, id string) (model.Project, error) {
	for _, p := range f.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Project{}, model.ErrProjectNotFound
}

func (f *fakeProjects) ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error) {
	owned := make([]model.Project, 0)
	for _, p := range f.projects {
		if p.OwnerID == ownerID {
			owned = append(owned, p)
		}
	}
	return owned, nil
}

func (f *fakeProjects) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)

	for i, p := range f.projects {
		if p.ID == id {
			f.projects = append(f.projects[:i], f.projects[i+1:]...)
			break
		}
	}
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func (f *fakeAudit) RecordTx(ctx context.Context, tx repository.Tx, entry model.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

type fakeLegacy struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeLegacy) DeleteUser(ctx context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, username)
	return f.err
}

type fakeCounterFolder struct {
	mu     sync.Mutex
	folded []string
}

func (f *fakeCounterFolder) RollIntoCatchAllTx(ctx context.Context, tx repository.Tx, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folded = append(f.folded, userID)
	return nil
}

func (f *fakeCounterFolder) RollIntoCatchAll(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folded = append(f.folded, userID)
	return nil
}

func (f *fakeCounterFolder) Increment(ctx context.Context, userID string, yearMonth string, delta int64) error {
	return nil
}

func (f *fakeCounterFolder) foldedUsers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.folded...)
}

type fakeSchedule struct {
	mu      sync.Mutex
	deleted []string
	changed int
}

func (f *fakeSchedule) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeSchedule) MarkChanged(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed++
	return nil
}

func (f *fakeSchedule) changedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
}

func (f *fakeQueue) Enqueue(name string, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, name+"/"+recordID)
	return nil
}

type purgeFixture struct {
	service      *PurgeService
	accountTrash *fakeAccountTrash
	projectTrash *fakeProjectTrash
	users        *fakeUsers
	projects     *fakeProjects
	audit        *fakeAudit
	legacy       *fakeLegacy
	counters     *fakeCounterFolder
	schedule     *fakeSchedule
	queue        *fakeQueue
	bus          *event.InMemoryBus
}

func newPurgeFixture() *purgeFixture {
	deactivated := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	f := &purgeFixture{
		accountTrash: &fakeAccountTrash{
			record: model.AccountTrash{
				ID:             "trash-1",
				UserID:         "user-1",
				Username:       "marta",
				RequestAuthor:  model.AuditActor{UserID: "admin-1", Username: "admin", Role: "admin"},
				DeleteAll:      true,
				Status:         model.TrashStatusInProgress,
				PeriodicTaskID: "task-1",
			},
		},
		projectTrash: &fakeProjectTrash{
			record: model.ProjectTrash{
				ID:             "ptrash-1",
				ProjectID:      "project-1",
				ProjectName:    "Household Survey",
				OwnerID:        "user-1",
				RequestAuthor:  model.AuditActor{UserID: "admin-1", Username: "admin", Role: "admin"},
				Status:         model.TrashStatusInProgress,
				PeriodicTaskID: "task-2",
			},
		},
		users: &fakeUsers{
			user: model.User{
				ID:              "user-1",
				Username:        "marta",
				Email:           "marta@example.org",
				PasswordHash:    "$2a$12$original",
				Role:            "member",
				IsActive:        false,
				DateJoined:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
				DateDeactivated: &deactivated,
			},
		},
		projects: &fakeProjects{
			projects: []model.Project{
				{ID: "project-1", OwnerID: "user-1", Name: "Household Survey"},
				{ID: "project-2", OwnerID: "user-1", Name: "Water Points"},
				{ID: "project-3", OwnerID: "user-2", Name: "Unrelated"},
			},
		},
		audit:    &fakeAudit{},
		legacy:   &fakeLegacy{},
		counters: &fakeCounterFolder{},
		schedule: &fakeSchedule{},
		queue:    &fakeQueue{},
		bus:      event.NewBus(),
	}

	cfg := PurgeConfig{
		RetryPolicy: scheduler.RetryPolicy{
			BackoffBase: time.Millisecond,
			BackoffMax:  2 * time.Millisecond,
			MaxRetries:  5,
		},
		StaleAfter:         time.Hour,
		CompletedRetention: 24 * time.Hour,
	}

	f.service = NewPurgeService(cfg,
		f.accountTrash, f.projectTrash, f.users, f.projects,
		NewProjectEraser(f.projects, f.bus),
		f.audit, f.legacy, f.counters, f.schedule, f.bus)
	f.service.queue = f.queue
	return f
}

func TestEmptyAccount_HardDelete(t *testing.T) {
	t.Parallel()

	f := newPurgeFixture()
	ctx := context.Background()

	deletions, unsubscribe := f.bus.Subscribe(event.TypeUserDeleted)
	defer unsubscribe()

	require.NoError(t, f.service.EmptyAccount(ctx, "trash-1"))

	require.ElementsMatch(t, []string{"project-1", "project-2"}, f.projects.deleted,
		"only the owner's projects are deleted")
	require.Equal(t, []string{"marta"}, f.legacy.calls)

	require.Len(t, f.users.purged, 1)
	require.Nil(t, f.users.purged[0].Placeholder, "delete_all leaves no placeholder")

	require.Len(t, f.audit.entries, 1)
	require.Equal(t, "account.purge", f.audit.entries[0].Action)
	require.Equal(t, model.AuditMethodHardDelete, f.audit.entries[0].Method)
	require.Equal(t, "user-1", f.audit.entries[0].TargetID)

	require.Equal(t, []string{"task-1"}, f.schedule.deleted)
	require.Equal(t, []string{"trash-1"}, f.accountTrash.deleted)

	// The purge handles the counter fold itself, so the event stays muted
	// for the whole deletion and no reaction fires.
	select {
	case e := <-deletions:
		t.Fatalf("unexpected user.deleted delivery: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

// The counters table has no foreign key to users, so the purge transaction
// must fold the deleted user's counters into the catch-all bucket itself.
// The muted event will not do it: nothing else cleans those rows up.
func TestEmptyAccount_FoldsUsageCountersIntoCatchAll(t *testing.T) {
	t.Parallel()

	f := newPurgeFixture()
	usageService := NewUsageCounterService(f.counters, f.bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	unsubscribe := usageService.Start(ctx)
	defer unsubscribe()

	require.NoError(t, f.service.EmptyAccount(ctx, "trash-1"))

	require.Equal(t, []string{"user-1"}, f.counters.foldedUsers(),
		"the purge itself must move the counters into the catch-all bucket")

	// Give the subscription a moment; it must not fold a second time.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"user-1"}, f.counters.foldedUsers())
}

func TestEmptyAccount_SoftDeleteReservesUsername(t *testing.T) {
	t.Parallel()

	f := newPurgeFixture()
	f.accountTrash.record.DeleteAll = false

	require.NoError(t, f.service.EmptyAccount(context.Background(), "trash-1"))

	require.Len(t, f.users.purged, 1)
	placeholder := f.users.purged[0].Placeholder
	require.NotNil(t, placeholder)
	require.Equal(t, "marta", placeholder.Username)
	require.False(t, placeholder.IsActive)
	require.NotEqual(t, "user-1", placeholder.ID)
	require.NotEqual(t, f.users.user.PasswordHash, placeholder.PasswordHash,
		"the reservation credential must be unusable")
	require.Equal(t, f.users.user.DateDeactivated, placeholder.DateDeactivated,
		"the original deactivation timestamp is preserved")

	require.Len(t, f.audit.entries, 1)
	require.Equal(t, model.AuditMethodSoftDelete, f.audit.entries[0].Method)
}

func TestEmptyAccount_ConcurrentClaimIsNoOp(t *testing.T) {
	t.Parallel()

	f := newPurgeFixture()
	f.accountTrash.claimErr = model.ErrTrashAlreadyInProgress

	require.NoError(t, f.service.EmptyAccount(context.Background(), "trash-1"),
		"losing the claim race is not an error")
	require.Empty(t, f.legacy.calls)
	require.Empty(t, f.users.purged)
	require.Empty(t, f.accountTrash.deleted)
}

func TestEmptyAccount_SiblingProjectPurgeIsRetryable(t *testing.T) {
	t.Parallel()

	f := newPurgeFixture()
	f.accountTrash.claimErr = model.ErrPurgeTaskInProgress

	err := f.service.EmptyAccount(context.Background(), "trash-1")
	require.ErrorIs(t, err, model.ErrPurgeTaskInProgress)
	require.True(t, isRetryable(err), "the account purge must wait for the project purge")
	require.Empty(t, f.users.purged)
}

func TestEmptyAccount_UserAlreadyGoneFinalizesOnly(t *testing.T) {
	t.Parallel()

	f := newPurgeFixture()
	f.users.findErr = model.ErrUserNotFound

	require.NoError(t, f.service.EmptyAccount(context.Background(), "trash-1"))
	require.Empty(t, f.legacy.calls)
	require.Empty(t, f.users.purged)
	require.Equal(t, []string{"task-1"}, f.schedule.deleted)
	require.Equal(t, []string{"trash-1"}, f.accountTrash.deleted)
}

func TestEmptyAccount_LegacyOutageRollsBack(t *testing.T) {
	t.Parallel()

	f := newPurgeFixture()
	f.legacy.err = fmt.Errorf("%w: bad gateway", model.ErrLegacyUnavailable)

	err := f.service.EmptyAccount(context.Background(), "trash-1")
	require.ErrorIs(t, err, model.ErrLegacyUnavailable)
	require.True(t, isRetryable(err))
	require.Empty(t, f.users.purged, "the user deletion must not commit")
	require.Empty(t, f.counters.foldedUsers(), "counters stay put when the purge rolls back")
	require.Empty(t, f.accountTrash.deleted, "the trash record survives for the retry")
}

func TestEmptyProject_MarksComplete(t *testing.T) {
	t.Parallel()

	f := newPurgeFixture()

	require.NoError(t, f.service.EmptyProject(context.Background(), "ptrash-1"))
	require.Equal(t, []string{"project-1"}, f.projects.deleted)
	require.Equal(t, []string{"task-2"}, f.schedule.deleted)
	require.Equal(t, []string{"ptrash-1"}, f.projectTrash.completed)
}

func TestEmptyProject_AlreadyDeletedStillCompletes(t *testing.T) {
	t.Parallel()

	f := newPurgeFixture()
	f.projectTrash.record.ProjectID = "nope"

	require.NoError(t, f.service.EmptyProject(context.Background(), "ptrash-1"))
	require.Empty(t, f.projects.deleted)
	require.Equal(t, []string{"ptrash-1"}, f.projectTrash.completed)
}

func TestEmptyProject_ConcurrentClaimIsNoOp(t *testing.T) {
	t.Parallel()

	f := newPurgeFixture()
	f.projectTrash.claimErr = model.ErrTrashAlreadyInProgress

	require.NoError(t, f.service.EmptyProject(context.Background(), "ptrash-1"))
	require.Empty(t, f.projects.deleted)
	require.Empty(t, f.projectTrash.completed)
}

func TestGarbageCollector_RequeuesStaleWork(t *testing.T) {
	t.Parallel()

	f := newPurgeFixture()
	f.accountTrash.staleIDs = []string{"trash-9"}
	f.projectTrash.staleIDs = []string{"ptrash-7", "ptrash-8"}
	f.projectTrash.dropped = 3

	require.NoError(t, f.service.GarbageCollector(context.Background()))
	require.Equal(t, []string{
		TaskEmptyAccount + "/trash-9",
		TaskEmptyProject + "/ptrash-7",
		TaskEmptyProject + "/ptrash-8",
	}, f.queue.enqueued)
}

func TestFailureHooksBumpScheduleSentinel(t *testing.T) {
	t.Parallel()

	f := newPurgeFixture()
	ctx := context.Background()
	cause := errors.New("kaboom")

	f.service.accountFailure(ctx, "trash-1", cause)
	f.service.projectFailure(ctx, "ptrash-1", cause)

	require.Equal(t, 2, f.schedule.changedCount())
	require.Equal(t, []string{"kaboom"}, f.accountTrash.failures)
	require.Equal(t, []string{"kaboom"}, f.projectTrash.failures)
}

// End to end through the runner: a persistent legacy outage exhausts the
// retry budget and the record ends up failed with the most recent error.
func TestEmptyAccount_RetryBudgetExhaustion(t *testing.T) {
	f := newPurgeFixture()
	f.service.cfg.RetryPolicy.MaxRetries = 3
	f.legacy.err = fmt.Errorf("%w: bad gateway", model.ErrLegacyUnavailable)

	runner := scheduler.NewRunner(1, 16)
	require.NoError(t, f.service.RegisterTasks(runner))
	runner.Start()
	defer runner.Stop()

	require.NoError(t, runner.Enqueue(TaskEmptyAccount, "trash-1"))

	require.Eventually(t, func() bool {
		return f.accountTrash.lastFailure() != ""
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 3, f.accountTrash.retryCount())
	require.Contains(t, f.accountTrash.lastFailure(), "bad gateway")
	require.Empty(t, f.accountTrash.deleted, "a failed purge keeps its record")
}
