package api

import (
	"encoding/json"
	"errors"
)

// Errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoRefreshToken   = errors.New("no refresh token")
)

// envelope wraps every dashboard API response.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// errorBody is the error shape returned with 4xx/5xx statuses.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// Session from POST /api/auth/login
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // Seconds
	User         User   `json:"user"`
}

// User from GET /api/auth/me and the login response.
type User struct {
	ID                 int     `json:"id"`
	Username           string  `json:"username"`
	Role               string  `json:"role"`
	IsActive           bool    `json:"is_active"`
	CreatedAt          *string `json:"created_at,omitempty"`
	LastLogin          *string `json:"last_login,omitempty"`
	MustChangePassword bool    `json:"must_change_password"`
}

// refreshData from POST /api/auth/refresh
type refreshData struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}
