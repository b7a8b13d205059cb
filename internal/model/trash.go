package model

import "time"

// TrashStatus tracks the lifecycle of a pending deletion.
// Transitions are monotonic except for the retry loop:
// pending -> in_progress -> {retry -> in_progress}* -> complete | failed.
type TrashStatus string

const (
	TrashStatusPending    TrashStatus = "pending"
	TrashStatusInProgress TrashStatus = "in_progress"
	TrashStatusRetry      TrashStatus = "retry"
	TrashStatusFailed     TrashStatus = "failed"
	TrashStatusComplete   TrashStatus = "complete"
)

// TrashMetadata carries per-record bookkeeping. FailureError holds only the
// most recent error; it is overwritten on every attempt, never appended.
type TrashMetadata struct {
	FailureError string            `json:"failure_error,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// AccountTrash is the persisted intent to delete a whole account.
type AccountTrash struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	Username       string        `json:"username"`
	RequestAuthor  AuditActor    `json:"request_author"`
	DeleteAll      bool          `json:"delete_all"`
	Status         TrashStatus   `json:"status"`
	Metadata       TrashMetadata `json:"metadata"`
	PeriodicTaskID string        `json:"periodic_task_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ProjectTrash is the persisted intent to delete a single project.
type ProjectTrash struct {
	ID             string        `json:"id"`
	ProjectID      string        `json:"project_id"`
	ProjectName    string        `json:"project_name"`
	OwnerID        string        `json:"owner_id"`
	RequestAuthor  AuditActor    `json:"request_author"`
	Status         TrashStatus   `json:"status"`
	Metadata       TrashMetadata `json:"metadata"`
	PeriodicTaskID string        `json:"periodic_task_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	EmptiedAt      *time.Time    `json:"emptied_at,omitempty"`
}
