package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"survey-platform/internal/event"
	"survey-platform/internal/model"
	"survey-platform/pkg/apierror"
)

type TrashUserStore interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	Deactivate(ctx context.Context, id string) error
	Reactivate(ctx context.Context, id string) error
}

type TrashProjectStore interface {
	FindByID(ctx context.Context, id string) (model.Project, error)
}

type AccountTrashWriter interface {
	Create(ctx context.Context, rec model.AccountTrash) error
	FindByID(ctx context.Context, id string) (model.AccountTrash, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.AccountTrash, error)
}

type ProjectTrashWriter interface {
	Create(ctx context.Context, rec model.ProjectTrash) error
	FindByID(ctx context.Context, id string) (model.ProjectTrash, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, includeCompleted bool) ([]model.ProjectTrash, error)
}

type PeriodicTaskWriter interface {
	Create(ctx context.Context, task model.PeriodicTask) error
	Delete(ctx context.Context, id string) error
}

type AuditRecorder interface {
	Record(ctx context.Context, entry model.AuditEntry) error
}

// TrashService is the initiating action layer of the pipeline: it creates
// trash records with their grace-period schedule, restores records whose
// purge has not started, and requeues failed ones.
type TrashService struct {
	users        TrashUserStore
	projects     TrashProjectStore
	accountTrash AccountTrashWriter
	projectTrash ProjectTrashWriter
	schedule     PeriodicTaskWriter
	audit        AuditRecorder
	queue        TaskQueue
	bus          event.Bus
	gracePeriod  time.Duration
}

func NewTrashService(
	users TrashUserStore,
	projects TrashProjectStore,
	accountTrash AccountTrashWriter,
	projectTrash ProjectTrashWriter,
	schedule PeriodicTaskWriter,
	audit AuditRecorder,
	queue TaskQueue,
	bus event.Bus,
	gracePeriod time.Duration,
) *TrashService {
	if gracePeriod <= 0 {
		gracePeriod = 7 * 24 * time.Hour
	}
	return &TrashService{
		users:        users,
		projects:     projects,
		accountTrash: accountTrash,
		projectTrash: projectTrash,
		schedule:     schedule,
		audit:        audit,
		queue:        queue,
		bus:          bus,
		gracePeriod:  gracePeriod,
	}
}

// MoveAccountToTrash deactivates the account and creates a pending trash
// record whose purge fires after the grace period. A second request for the
// same user surfaces ErrAlreadyTrashed.
func (s *TrashService) MoveAccountToTrash(ctx context.Context, req model.AccountTrashRequest, actor model.AuditActor) (model.AccountTrash, error) {
	user, err := s.users.FindByID(ctx, strings.TrimSpace(req.UserID))
	if err != nil {
		return model.AccountTrash{}, err
	}

	grace, err := s.parseGrace(req.GracePeriod)
	if err != nil {
		return model.AccountTrash{}, err
	}

	rec := model.AccountTrash{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		Username:      user.Username,
		RequestAuthor: actor,
		DeleteAll:     req.DeleteAll,
		Status:        model.TrashStatusPending,
	}
	task := model.PeriodicTask{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("empty account trash %s", rec.ID),
		Task:      TaskEmptyAccount,
		RecordID:  rec.ID,
		Enabled:   true,
		OneOff:    true,
		NextRunAt: time.Now().UTC().Add(grace),
	}
	rec.PeriodicTaskID = task.ID

	// The record, its schedule entry and the deactivation are separate
	// writes; a partial failure must not leave a trash record behind, or
	// the per-user uniqueness check would block every retry of the move.
	if err := s.accountTrash.Create(ctx, rec); err != nil {
		return model.AccountTrash{}, err
	}
	if err := s.schedule.Create(ctx, task); err != nil {
		s.discardAccountMove(ctx, rec, false)
		return model.AccountTrash{}, err
	}
	if err := s.users.Deactivate(ctx, user.ID); err != nil {
		s.discardAccountMove(ctx, rec, true)
		return model.AccountTrash{}, err
	}

	s.recordAudit(ctx, actor, "account.trash", "user", user.ID,
		map[string]string{"username": user.Username, "trash_id": rec.ID})
	s.publish(event.TypeUserDeactivated, user.ID, actor)

	slog.Info("account moved to trash",
		"username", user.Username, "trash_id", rec.ID, "purge_after", task.NextRunAt)
	return rec, nil
}

// MoveProjectsToTrash creates a pending trash record per project. The whole
// request fails with ErrAlreadyTrashed if any project already has one.
func (s *TrashService) MoveProjectsToTrash(ctx context.Context, req model.ProjectTrashRequest, actor model.AuditActor) ([]model.ProjectTrash, error) {
	grace, err := s.parseGrace(req.GracePeriod)
	if err != nil {
		return nil, err
	}

	records := make([]model.ProjectTrash, 0, len(req.ProjectIDs))
	for _, projectID := range req.ProjectIDs {
		project, err := s.projects.FindByID(ctx, strings.TrimSpace(projectID))
		if err != nil {
			return nil, err
		}

		rec := model.ProjectTrash{
			ID:            uuid.NewString(),
			ProjectID:     project.ID,
			ProjectName:   project.Name,
			OwnerID:       project.OwnerID,
			RequestAuthor: actor,
			Status:        model.TrashStatusPending,
		}
		task := model.PeriodicTask{
			ID:        uuid.NewString(),
			Name:      fmt.Sprintf("empty project trash %s", rec.ID),
			Task:      TaskEmptyProject,
			RecordID:  rec.ID,
			Enabled:   true,
			OneOff:    true,
			NextRunAt: time.Now().UTC().Add(grace),
		}
		rec.PeriodicTaskID = task.ID

		if err := s.projectTrash.Create(ctx, rec); err != nil {
			return nil, err
		}
		if err := s.schedule.Create(ctx, task); err != nil {
			// Same cleanup as the account move: an orphaned record would
			// block retrying this project.
			if delErr := s.projectTrash.Delete(ctx, rec.ID); delErr != nil {
				slog.Error("could not discard partially created project trash",
					"trash_id", rec.ID, "error", delErr)
			}
			return nil, err
		}

		s.recordAudit(ctx, actor, "project.trash", "project", project.ID,
			map[string]string{"name": project.Name, "trash_id": rec.ID})
		s.publish(event.TypeProjectTrashed, project.ID, actor)
		records = append(records, rec)
	}

	return records, nil
}

// discardAccountMove undoes the writes a failed MoveAccountToTrash already
// made. Cleanup failures are logged, not returned: the caller's error is
// the one that matters.
func (s *TrashService) discardAccountMove(ctx context.Context, rec model.AccountTrash, withSchedule bool) {
	if withSchedule && rec.PeriodicTaskID != "" {
		if err := s.schedule.Delete(ctx, rec.PeriodicTaskID); err != nil {
			slog.Error("could not discard schedule entry of a failed move",
				"task_id", rec.PeriodicTaskID, "error", err)
		}
	}
	if err := s.accountTrash.Delete(ctx, rec.ID); err != nil {
		slog.Error("could not discard partially created account trash",
			"trash_id", rec.ID, "error", err)
	}
}

// PutBackAccount cancels a pending account deletion: the schedule entry and
// the trash record are removed and the account is reactivated. Records whose
// purge already started cannot be put back.
func (s *TrashService) PutBackAccount(ctx context.Context, trashID string, actor model.AuditActor) error {
	rec, err := s.accountTrash.FindByID(ctx, trashID)
	if err != nil {
		return err
	}
	if rec.Status == model.TrashStatusInProgress {
		return model.ErrTrashAlreadyInProgress
	}

	if rec.PeriodicTaskID != "" {
		if err := s.schedule.Delete(ctx, rec.PeriodicTaskID); err != nil {
			return err
		}
	}
	if err := s.accountTrash.Delete(ctx, rec.ID); err != nil {
		return err
	}
	if err := s.users.Reactivate(ctx, rec.UserID); err != nil {
		return err
	}

	s.recordAudit(ctx, actor, "account.put_back", "user", rec.UserID,
		map[string]string{"username": rec.Username})
	s.publish(event.TypeUserRestored, rec.UserID, actor)
	return nil
}

// PutBackProject cancels a pending project deletion.
func (s *TrashService) PutBackProject(ctx context.Context, trashID string, actor model.AuditActor) error {
	rec, err := s.projectTrash.FindByID(ctx, trashID)
	if err != nil {
		return err
	}
	if rec.Status == model.TrashStatusInProgress {
		return model.ErrTrashAlreadyInProgress
	}
	if rec.Status == model.TrashStatusComplete {
		return apierror.New("GONE", "project has already been purged", rec.ProjectID, http.StatusGone)
	}

	if rec.PeriodicTaskID != "" {
		if err := s.schedule.Delete(ctx, rec.PeriodicTaskID); err != nil {
			return err
		}
	}
	if err := s.projectTrash.Delete(ctx, rec.ID); err != nil {
		return err
	}

	s.recordAudit(ctx, actor, "project.put_back", "project", rec.ProjectID,
		map[string]string{"name": rec.ProjectName})
	s.publish(event.TypeProjectRestored, rec.ProjectID, actor)
	return nil
}

// RetryAccountPurge requeues a failed account purge immediately.
func (s *TrashService) RetryAccountPurge(ctx context.Context, trashID string) error {
	rec, err := s.accountTrash.FindByID(ctx, trashID)
	if err != nil {
		return err
	}
	if rec.Status != model.TrashStatusFailed {
		return apierror.New("CONFLICT", "only failed purges can be retried", string(rec.Status), http.StatusConflict)
	}
	return s.queue.Enqueue(TaskEmptyAccount, rec.ID)
}

// RetryProjectPurge requeues a failed project purge immediately.
func (s *TrashService) RetryProjectPurge(ctx context.Context, trashID string) error {
	rec, err := s.projectTrash.FindByID(ctx, trashID)
	if err != nil {
		return err
	}
	if rec.Status != model.TrashStatusFailed {
		return apierror.New("CONFLICT", "only failed purges can be retried", string(rec.Status), http.StatusConflict)
	}
	return s.queue.Enqueue(TaskEmptyProject, rec.ID)
}

func (s *TrashService) ListAccountTrash(ctx context.Context) ([]model.AccountTrash, error) {
	return s.accountTrash.List(ctx)
}

func (s *TrashService) ListProjectTrash(ctx context.Context, includeCompleted bool) ([]model.ProjectTrash, error) {
	return s.projectTrash.List(ctx, includeCompleted)
}

func (s *TrashService) parseGrace(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.gracePeriod, nil
	}

	grace, err := time.ParseDuration(raw)
	if err != nil || grace < 0 {
		return 0, apierror.New("BAD_REQUEST", "invalid grace period", raw, http.StatusBadRequest)
	}
	return grace, nil
}

func (s *TrashService) recordAudit(ctx context.Context, actor model.AuditActor, action string, targetType string, targetID string, metadata map[string]string) {
	entry := model.AuditEntry{
		Action:     action,
		OccurredAt: time.Now().UTC(),
		Actor:      actor,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		slog.Error("could not record audit entry", "action", action, "error", err)
	}
}

func (s *TrashService) publish(t event.Type, payload string, actor model.AuditActor) {
	s.bus.Publish(event.Event{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ActorID:   actor.UserID,
	})
}
