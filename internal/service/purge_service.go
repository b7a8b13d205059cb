package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"survey-platform/internal/event"
	"survey-platform/internal/metrics"
	"survey-platform/internal/model"
	"survey-platform/internal/repository"
	"survey-platform/internal/scheduler"
)

// Task names registered on the runner.
const (
	TaskEmptyAccount     = "trash.empty_account"
	TaskEmptyProject     = "trash.empty_project"
	TaskGarbageCollector = "trash.garbage_collector"
)

type AccountTrashStore interface {
	ClaimForPurge(ctx context.Context, id string) (model.AccountTrash, error)
	MarkRetry(ctx context.Context, id string, errText string) error
	MarkFailed(ctx context.Context, id string, errText string) error
	Delete(ctx context.Context, id string) error
	ResetStale(ctx context.Context, cutoff time.Time) ([]string, error)
}

type ProjectTrashStore interface {
	ClaimForPurge(ctx context.Context, id string) (model.ProjectTrash, error)
	MarkRetry(ctx context.Context, id string, errText string) error
	MarkFailed(ctx context.Context, id string, errText string) error
	MarkComplete(ctx context.Context, id string) error
	ResetStale(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PurgeUserStore interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	Purge(ctx context.Context, p repository.PurgeParams, beforeCommit func(ctx context.Context, tx repository.Tx) error) error
}

type ProjectStore interface {
	FindByID(ctx context.Context, id string) (model.Project, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error)
	Delete(ctx context.Context, id string) error
}

type AuditTxStore interface {
	RecordTx(ctx context.Context, tx repository.Tx, entry model.AuditEntry) error
}

// UsageCounterFolder moves a user's counters into the catch-all bucket
// inside the purge transaction. The counters table has no foreign key to
// users, so the purge has to take them along explicitly or they stay
// behind as orphans.
type UsageCounterFolder interface {
	RollIntoCatchAllTx(ctx context.Context, tx repository.Tx, userID string) error
}

type LegacyStore interface {
	DeleteUser(ctx context.Context, username string) error
}

type PeriodicTaskReleaser interface {
	Delete(ctx context.Context, id string) error
	MarkChanged(ctx context.Context) error
}

type TaskQueue interface {
	Enqueue(name string, recordID string) error
}

// ProjectDeleter is the asset-deletion collaborator. Implementations must be
// idempotent: deleting a project that is already gone is not an error.
type ProjectDeleter interface {
	DeleteProject(ctx context.Context, actor model.AuditActor, project model.Project) error
}

// PurgeConfig tunes the pipeline's retry and sweep behavior.
type PurgeConfig struct {
	RetryPolicy        scheduler.RetryPolicy
	StaleAfter         time.Duration // in_progress records older than this are requeued by the sweep
	CompletedRetention time.Duration // complete project trash older than this is dropped by the sweep
}

// PurgeService executes trash records: it owns the account and project purge
// state machines, their failure/retry hooks, and the garbage-collector sweep.
type PurgeService struct {
	cfg          PurgeConfig
	accountTrash AccountTrashStore
	projectTrash ProjectTrashStore
	users        PurgeUserStore
	projects     ProjectStore
	deleter      ProjectDeleter
	audit        AuditTxStore
	legacy       LegacyStore
	counters     UsageCounterFolder
	schedule     PeriodicTaskReleaser
	queue        TaskQueue
	bus          event.Bus
}

func NewPurgeService(
	cfg PurgeConfig,
	accountTrash AccountTrashStore,
	projectTrash ProjectTrashStore,
	users PurgeUserStore,
	projects ProjectStore,
	deleter ProjectDeleter,
	audit AuditTxStore,
	legacy LegacyStore,
	counters UsageCounterFolder,
	schedule PeriodicTaskReleaser,
	bus event.Bus,
) *PurgeService {
	return &PurgeService{
		cfg:          cfg,
		accountTrash: accountTrash,
		projectTrash: projectTrash,
		users:        users,
		projects:     projects,
		deleter:      deleter,
		audit:        audit,
		legacy:       legacy,
		counters:     counters,
		schedule:     schedule,
		bus:          bus,
	}
}

// RegisterTasks wires the purge executors onto the runner with their retry
// policy and lifecycle hooks, and keeps the queue for requeues by the sweep.
func (s *PurgeService) RegisterTasks(runner *scheduler.Runner) error {
	s.queue = runner

	tasks := []scheduler.Task{
		{
			Name:      TaskEmptyAccount,
			Run:       s.EmptyAccount,
			Retryable: isRetryable,
			Policy:    s.cfg.RetryPolicy,
			OnRetry:   s.accountRetry,
			OnFailure: s.accountFailure,
		},
		{
			Name:      TaskEmptyProject,
			Run:       s.EmptyProject,
			Retryable: isRetryable,
			Policy:    s.cfg.RetryPolicy,
			OnRetry:   s.projectRetry,
			OnFailure: s.projectFailure,
		},
		{
			Name: TaskGarbageCollector,
			Run: func(ctx context.Context, _ string) error {
				return s.GarbageCollector(ctx)
			},
		},
	}

	for _, task := range tasks {
		if err := runner.Register(task); err != nil {
			return err
		}
	}
	return nil
}

func isRetryable(err error) bool {
	return errors.Is(err, model.ErrPurgeTaskInProgress) ||
		errors.Is(err, model.ErrLegacyUnavailable)
}

// EmptyAccount purges one account trash record: every project owned by the
// account is deleted first, then the user row together with its legacy-store
// copy and the audit entry, all within one transaction. When the record asks
// for a soft delete, a disabled placeholder keeps the username reserved.
func (s *PurgeService) EmptyAccount(ctx context.Context, accountTrashID string) error {
	rec, err := s.accountTrash.ClaimForPurge(ctx, accountTrashID)
	if errors.Is(err, model.ErrTrashAlreadyInProgress) {
		slog.Warn("account deletion is already in progress", "username", rec.Username)
		return nil
	}
	if err != nil {
		return err
	}

	projects, err := s.projects.ListByOwner(ctx, rec.UserID)
	if err != nil {
		return err
	}
	for _, project := range projects {
		if err := s.deleter.DeleteProject(ctx, rec.RequestAuthor, project); err != nil {
			return err
		}
	}

	user, err := s.users.FindByID(ctx, rec.UserID)
	if errors.Is(err, model.ErrUserNotFound) {
		// A previous attempt already removed the user; only finalization is
		// left to do.
		return s.finalizeAccount(ctx, rec)
	}
	if err != nil {
		return err
	}

	method := model.AuditMethodHardDelete
	params := repository.PurgeParams{UserID: user.ID}
	if !rec.DeleteAll {
		placeholder, err := reservationPlaceholder(user)
		if err != nil {
			return err
		}
		params.Placeholder = placeholder
		method = model.AuditMethodSoftDelete
	}

	// The counter fold happens inside the purge transaction, so the
	// counter-update reaction has nothing left to do for this deletion.
	// Keep user.deleted muted for the whole purge; the deferred unmute
	// runs on every exit path.
	unmute := s.bus.Mute(event.TypeUserDeleted)
	defer unmute()

	err = s.users.Purge(ctx, params, func(ctx context.Context, tx repository.Tx) error {
		if err := s.legacy.DeleteUser(ctx, user.Username); err != nil {
			return err
		}
		if err := s.counters.RollIntoCatchAllTx(ctx, tx, user.ID); err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, model.AuditEntry{
			Action:     "account.purge",
			OccurredAt: time.Now().UTC(),
			Actor:      rec.RequestAuthor,
			TargetType: "user",
			TargetID:   user.ID,
			Method:     method,
			Metadata:   map[string]string{"username": user.Username},
		})
	})
	if err != nil {
		return err
	}

	s.bus.Publish(event.Event{
		ID:        uuid.NewString(),
		Type:      event.TypeUserDeleted,
		Payload:   user.ID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ActorID:   rec.RequestAuthor.UserID,
	})

	if err := s.finalizeAccount(ctx, rec); err != nil {
		return err
	}

	slog.Info("user has been successfully deleted",
		"username", user.Username, "user_id", user.ID, "method", method)
	return nil
}

func (s *PurgeService) finalizeAccount(ctx context.Context, rec model.AccountTrash) error {
	if rec.PeriodicTaskID != "" {
		if err := s.schedule.Delete(ctx, rec.PeriodicTaskID); err != nil {
			return fmt.Errorf("release periodic task: %w", err)
		}
	}
	if err := s.accountTrash.Delete(ctx, rec.ID); err != nil {
		return err
	}
	metrics.PurgedRecords.WithLabelValues("account").Inc()
	return nil
}

// EmptyProject purges one project trash record. Projects have no children,
// so there is no sibling guard: claim, delete, finalize.
func (s *PurgeService) EmptyProject(ctx context.Context, projectTrashID string) error {
	rec, err := s.projectTrash.ClaimForPurge(ctx, projectTrashID)
	if errors.Is(err, model.ErrTrashAlreadyInProgress) {
		slog.Warn("project deletion is already in progress", "project", rec.ProjectName)
		return nil
	}
	if err != nil {
		return err
	}

	project, err := s.projects.FindByID(ctx, rec.ProjectID)
	switch {
	case errors.Is(err, model.ErrProjectNotFound):
		// Already deleted by an earlier attempt or by the account purge.
	case err != nil:
		return err
	default:
		if err := s.deleter.DeleteProject(ctx, rec.RequestAuthor, project); err != nil {
			return err
		}
	}

	if rec.PeriodicTaskID != "" {
		if err := s.schedule.Delete(ctx, rec.PeriodicTaskID); err != nil {
			return fmt.Errorf("release periodic task: %w", err)
		}
	}
	if err := s.projectTrash.MarkComplete(ctx, rec.ID); err != nil {
		return err
	}

	metrics.PurgedRecords.WithLabelValues("project").Inc()
	slog.Info("project has been successfully deleted",
		"project", rec.ProjectName, "project_id", rec.ProjectID)
	return nil
}

// Failure and retry hooks. On fatal failure the schedule sentinel is bumped
// so the beat reloads before its next tick; both hooks store only the most
// recent error.

func (s *PurgeService) accountFailure(ctx context.Context, id string, cause error) {
	if err := s.schedule.MarkChanged(ctx); err != nil {
		slog.Error("could not mark schedule changed", "error", err)
	}
	if err := s.accountTrash.MarkFailed(ctx, id, cause.Error()); err != nil {
		slog.Error("could not mark account trash failed", "trash_id", id, "error", err)
	}
}

func (s *PurgeService) accountRetry(ctx context.Context, id string, cause error) {
	if err := s.accountTrash.MarkRetry(ctx, id, cause.Error()); err != nil {
		slog.Error("could not mark account trash for retry", "trash_id", id, "error", err)
	}
}

func (s *PurgeService) projectFailure(ctx context.Context, id string, cause error) {
	if err := s.schedule.MarkChanged(ctx); err != nil {
		slog.Error("could not mark schedule changed", "error", err)
	}
	if err := s.projectTrash.MarkFailed(ctx, id, cause.Error()); err != nil {
		slog.Error("could not mark project trash failed", "trash_id", id, "error", err)
	}
}

func (s *PurgeService) projectRetry(ctx context.Context, id string, cause error) {
	if err := s.projectTrash.MarkRetry(ctx, id, cause.Error()); err != nil {
		slog.Error("could not mark project trash for retry", "trash_id", id, "error", err)
	}
}

// GarbageCollector is the periodic sweep: in_progress records that have not
// moved within StaleAfter (a crashed worker) go back to retry and are
// requeued, and complete project trash past the retention window is dropped.
func (s *PurgeService) GarbageCollector(ctx context.Context) error {
	now := time.Now().UTC()
	staleCutoff := now.Add(-s.cfg.StaleAfter)

	accountIDs, err := s.accountTrash.ResetStale(ctx, staleCutoff)
	if err != nil {
		return err
	}
	for _, id := range accountIDs {
		if err := s.queue.Enqueue(TaskEmptyAccount, id); err != nil {
			return err
		}
		metrics.GarbageCollected.WithLabelValues("account", "requeued").Inc()
		slog.Warn("requeued stale account purge", "trash_id", id)
	}

	projectIDs, err := s.projectTrash.ResetStale(ctx, staleCutoff)
	if err != nil {
		return err
	}
	for _, id := range projectIDs {
		if err := s.queue.Enqueue(TaskEmptyProject, id); err != nil {
			return err
		}
		metrics.GarbageCollected.WithLabelValues("project", "requeued").Inc()
		slog.Warn("requeued stale project purge", "trash_id", id)
	}

	dropped, err := s.projectTrash.DeleteCompletedBefore(ctx, now.Add(-s.cfg.CompletedRetention))
	if err != nil {
		return err
	}
	if dropped > 0 {
		metrics.GarbageCollected.WithLabelValues("project", "dropped").Add(float64(dropped))
		slog.Info("dropped completed project trash past retention", "count", dropped)
	}
	return nil
}

// reservationPlaceholder builds the disabled stand-in account that blocks
// re-registration of the username. The credential is random and never
// disclosed, so it cannot be used to log in; the original deactivation
// timestamp is preserved.
func reservationPlaceholder(user model.User) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("generate unusable credential: %w", err)
	}

	return &model.User{
		ID:              uuid.NewString(),
		Username:        user.Username,
		Email:           user.Email,
		PasswordHash:    string(hash),
		Role:            user.Role,
		IsActive:        false,
		DateJoined:      user.DateJoined,
		DateDeactivated: user.DateDeactivated,
	}, nil
}
