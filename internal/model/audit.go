package model

import "time"

// AuditMethod distinguishes a full removal from a soft-delete reservation
// where the username is kept blocked against re-registration.
type AuditMethod string

const (
	AuditMethodHardDelete AuditMethod = "hard_delete"
	AuditMethodSoftDelete AuditMethod = "soft_delete"
)

type AuditActor struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	IP       string `json:"ip,omitempty"`
}

type AuditEntry struct {
	ID         int64             `json:"id,omitempty"`
	Action     string            `json:"action"`
	OccurredAt time.Time         `json:"occurred_at"`
	Actor      AuditActor        `json:"actor"`
	TargetType string            `json:"target_type"`
	TargetID   string            `json:"target_id"`
	Method     AuditMethod       `json:"method,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type AuditQuery struct {
	Action     string
	ActorID    string
	TargetType string
	TargetID   string
	Page       int
	Limit      int
}
