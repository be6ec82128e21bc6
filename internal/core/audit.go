package core

import (
	"context"
	"encoding/json"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditAction enumerates the actions a significant entity mutation records,
// spec §4.11.
type AuditAction string

const (
	AuditActionCreated             AuditAction = "Created"
	AuditActionUpdated             AuditAction = "Updated"
	AuditActionDeleted             AuditAction = "Deleted"
	AuditActionPermissionAdded     AuditAction = "PermissionAdded"
	AuditActionPermissionRemoved   AuditAction = "PermissionRemoved"
	AuditActionRoleAssigned        AuditAction = "RoleAssigned"
	AuditActionRoleUnassigned      AuditAction = "RoleUnassigned"
	AuditActionUserAddedToStore    AuditAction = "UserAddedToStore"
	AuditActionUserRemovedFromStore AuditAction = "UserRemovedFromStore"
)

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	EntityType string
	EntityID   string
	Action     AuditAction
	Before     any
	After      any
	ActorID    string
}

// AuditSink appends audit entries. Writes are best-effort: per spec §4.11
// this is a deliberate availability tradeoff — Record surfaces the failure
// via its return value but callers in this module never unwind their
// business transaction because of it; they log and continue.
type AuditSink interface {
	Record(ctx context.Context, e AuditEntry) error
}

type auditSink struct {
	pool *pgxpool.Pool
}

func NewAuditSink(pool *pgxpool.Pool) AuditSink {
	return &auditSink{pool: pool}
}

func (s *auditSink) Record(ctx context.Context, e AuditEntry) error {
	before, err := marshalOrNil(e.Before)
	if err != nil {
		log.Printf("audit: failed to marshal before state for %s/%s: %v", e.EntityType, e.EntityID, err)
	}
	after, err := marshalOrNil(e.After)
	if err != nil {
		log.Printf("audit: failed to marshal after state for %s/%s: %v", e.EntityType, e.EntityID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_entries (id, entity_type, entity_id, action, before_state, after_state, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, newID(), e.EntityType, e.EntityID, e.Action, before, after, e.ActorID)
	if err != nil {
		log.Printf("audit: failed to record entry for %s/%s action=%s: %v", e.EntityType, e.EntityID, e.Action, err)
		return ErrInfra("failed to record audit entry", err)
	}
	return nil
}

func marshalOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
