package event

type Type string

const (
	TypeUserDeleted     Type = "user.deleted"
	TypeUserDeactivated Type = "user.deactivated"
	TypeUserRestored    Type = "user.restored"
	TypeProjectDeleted  Type = "project.deleted"
	TypeProjectTrashed  Type = "project.trashed"
	TypeProjectRestored Type = "project.restored"
	TypeTrashEmptied    Type = "trash.emptied"
	TypeTrashFailed     Type = "trash.failed"
)

type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
	ActorID   string      `json:"actor_id,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(types ...Type) (<-chan Event, func())
	Mute(t Type) func()
}
