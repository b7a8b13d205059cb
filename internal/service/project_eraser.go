package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"survey-platform/internal/event"
	"survey-platform/internal/model"
)

// ProjectEraser is the default asset-deletion collaborator. Submissions go
// with the project row; deleting a project that is already gone is a no-op,
// which keeps account purges re-entrant.
type ProjectEraser struct {
	projects ProjectStore
	bus      event.Bus
}

func NewProjectEraser(projects ProjectStore, bus event.Bus) *ProjectEraser {
	return &ProjectEraser{projects: projects, bus: bus}
}

func (e *ProjectEraser) DeleteProject(ctx context.Context, actor model.AuditActor, project model.Project) error {
	if err := e.projects.Delete(ctx, project.ID); err != nil {
		return err
	}

	e.bus.Publish(event.Event{
		ID:        uuid.NewString(),
		Type:      event.TypeProjectDeleted,
		Payload:   project.ID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ActorID:   actor.UserID,
	})

	slog.Debug("project deleted", "project_id", project.ID, "name", project.Name)
	return nil
}
