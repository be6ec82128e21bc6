package core

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

type userService struct {
	pool *pgxpool.Pool
}

// NewUserService constructs a UserService backed by PostgreSQL.
func NewUserService(pool *pgxpool.Pool) UserService {
	return &userService{pool: pool}
}

func (s *userService) GetByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, username, email, password_hash, is_active, created_at
		FROM users
		WHERE username = $1 AND is_active = true
		LIMIT 1`,
		username,
	).Scan(&u.ID, &u.CompanyID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInactiveUser()
		}
		return nil, ErrInfra("failed to fetch user by username", err)
	}
	return u, nil
}

func (s *userService) GetByID(ctx context.Context, userID string) (*User, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, username, email, password_hash, is_active, created_at
		FROM users
		WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.CompanyID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("User", userID)
		}
		return nil, ErrInfra("failed to fetch user", err)
	}
	return u, nil
}

func (s *userService) AuthenticateUser(ctx context.Context, username, password string) (*User, error) {
	u, err := s.GetByUsername(ctx, username)
	if err != nil {
		return nil, ErrInvalidCredentials()
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials()
	}
	return u, nil
}
