package model

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type AccountTrashRequest struct {
	UserID      string `json:"user_id"`
	DeleteAll   bool   `json:"delete_all"`
	GracePeriod string `json:"grace_period,omitempty"`
}

type ProjectTrashRequest struct {
	ProjectIDs  []string `json:"project_ids"`
	GracePeriod string   `json:"grace_period,omitempty"`
}
