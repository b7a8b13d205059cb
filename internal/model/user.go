package model

import "time"

type User struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	Email           string     `json:"email,omitempty"`
	PasswordHash    string     `json:"-"`
	Role            string     `json:"role"`
	IsActive        bool       `json:"is_active"`
	DateJoined      time.Time  `json:"date_joined"`
	DateDeactivated *time.Time `json:"date_deactivated,omitempty"`
}

type AuthClaims struct {
	UserID   string `json:"sub"`
	Username string `json:"username"`
	Role     string `json:"role"`
	TokenID  string `json:"jti"`
}

type AuthUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type AccessToken struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int64    `json:"expires_in"`
	User        AuthUser `json:"user"`
}
