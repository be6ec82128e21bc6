package core

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SuperAdminPermission is the synthetic permission that grants every check,
// spec §4.10.
const SuperAdminPermission = "system:admin"

// Role is a company-scoped, named bundle of permissions. Membership is
// (user, store, role) per spec §3.
type Role struct {
	ID          string
	CompanyID   int
	Name        string
	Permissions []string // "module:action"
}

// UserContext is a frozen (user_id, store_id, permissions) snapshot computed
// once per request, spec §4.10. It is never mutated after construction;
// callers that need different permissions build a fresh context.
type UserContext struct {
	UserID      string
	StoreID     string
	Permissions map[string]struct{}
}

// Has reports whether perm is present in the frozen set, or the user holds
// the synthetic super-admin permission. A malformed permission code (not
// "module:action") is treated as absent, never as an error.
func (c *UserContext) Has(perm string) bool {
	if _, ok := c.Permissions[SuperAdminPermission]; ok {
		return true
	}
	if !isWellFormedPermission(perm) {
		return false
	}
	_, ok := c.Permissions[perm]
	return ok
}

func (c *UserContext) HasAll(perms []string) bool {
	for _, p := range perms {
		if !c.Has(p) {
			return false
		}
	}
	return true
}

func (c *UserContext) HasAny(perms []string) bool {
	for _, p := range perms {
		if c.Has(p) {
			return true
		}
	}
	return false
}

func isWellFormedPermission(perm string) bool {
	parts := strings.SplitN(perm, ":", 2)
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}

// IdentityService constructs a frozen UserContext and manages role/
// membership assignment.
type IdentityService interface {
	BuildUserContext(ctx context.Context, userID, storeID string) (*UserContext, error)
	CreateRole(ctx context.Context, companyCode, name string, permissions []string) (*Role, error)
	AssignRole(ctx context.Context, userID, storeID, roleID string) error
	UnassignRole(ctx context.Context, userID, storeID, roleID string) error
	AddPermission(ctx context.Context, roleID, permission string) error
	RemovePermission(ctx context.Context, roleID, permission string) error
}

type identityService struct {
	pool  *pgxpool.Pool
	users UserService
	audit AuditSink
}

func NewIdentityService(pool *pgxpool.Pool, users UserService, audit AuditSink) IdentityService {
	return &identityService{pool: pool, users: users, audit: audit}
}

// BuildUserContext verifies the user exists and is active, loads the
// deduplicated permission set across every role the user holds at storeID,
// and freezes it into a UserContext. Spec §4.10.
func (s *identityService) BuildUserContext(ctx context.Context, userID, storeID string) (*UserContext, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInactiveUser()
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT rp.permission
		FROM user_store_roles usr
		JOIN role_permissions rp ON rp.role_id = usr.role_id
		WHERE usr.user_id = $1 AND usr.store_id = $2
	`, userID, storeID)
	if err != nil {
		return nil, ErrInfra("failed to load permissions", err)
	}
	defer rows.Close()

	perms := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, ErrInfra("failed to scan permission", err)
		}
		perms[p] = struct{}{}
	}
	return &UserContext{UserID: userID, StoreID: storeID, Permissions: perms}, nil
}

func (s *identityService) CreateRole(ctx context.Context, companyCode, name string, permissions []string) (*Role, error) {
	companyID, err := resolveCompanyIDByCode(ctx, s.pool, companyCode)
	if err != nil {
		return nil, err
	}
	r := &Role{ID: newID(), CompanyID: companyID, Name: name, Permissions: permissions}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO roles (id, company_id, name) VALUES ($1, $2, $3)`, r.ID, r.CompanyID, r.Name); err != nil {
		return nil, ErrInfra("failed to insert role", err)
	}
	for _, p := range permissions {
		if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission) VALUES ($1, $2)`, r.ID, p); err != nil {
			return nil, ErrInfra("failed to insert role permission", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return r, nil
}

func (s *identityService) AssignRole(ctx context.Context, userID, storeID, roleID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_store_roles (user_id, store_id, role_id) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, userID, storeID, roleID)
	if err != nil {
		return ErrInfra("failed to assign role", err)
	}
	s.audit.Record(ctx, AuditEntry{EntityType: "user_store_role", EntityID: userID, Action: AuditActionRoleAssigned, ActorID: userID})
	return nil
}

func (s *identityService) UnassignRole(ctx context.Context, userID, storeID, roleID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_store_roles WHERE user_id = $1 AND store_id = $2 AND role_id = $3`, userID, storeID, roleID)
	if err != nil {
		return ErrInfra("failed to unassign role", err)
	}
	s.audit.Record(ctx, AuditEntry{EntityType: "user_store_role", EntityID: userID, Action: AuditActionRoleUnassigned, ActorID: userID})
	return nil
}

func (s *identityService) AddPermission(ctx context.Context, roleID, permission string) error {
	if !isWellFormedPermission(permission) {
		return ErrInvalidPermissionFormat(permission)
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO role_permissions (role_id, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, permission)
	if err != nil {
		return ErrInfra("failed to add permission", err)
	}
	return nil
}

func (s *identityService) RemovePermission(ctx context.Context, roleID, permission string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission = $2`, roleID, permission)
	if err != nil {
		return ErrInfra("failed to remove permission", err)
	}
	return nil
}
