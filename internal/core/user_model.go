package core

import (
	"context"
	"time"
)

// User represents an authenticated system user scoped to a company. ID is a
// time-ordered opaque identifier (spec §3); CompanyID keeps the teacher's
// billing/GL company association for resolveCompanyID-family helpers.
type User struct {
	ID           string
	CompanyID    int
	Username     string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}

// UserService provides user lookup and credential verification.
type UserService interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, userID string) (*User, error)
	// AuthenticateUser verifies a bcrypt password hash and returns the user
	// on success, or ErrInvalidCredentials.
	AuthenticateUser(ctx context.Context, username, password string) (*User, error)
}
