package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type AdjustmentStatus string

const (
	AdjustmentDraft           AdjustmentStatus = "Draft"
	AdjustmentPendingApproval AdjustmentStatus = "PendingApproval"
	AdjustmentApproved        AdjustmentStatus = "Approved"
	AdjustmentApplied         AdjustmentStatus = "Applied"
	AdjustmentRejected        AdjustmentStatus = "Rejected"
	AdjustmentCancelled       AdjustmentStatus = "Cancelled"
)

type AdjustmentType string

const (
	AdjustmentIncrease AdjustmentType = "Increase"
	AdjustmentDecrease AdjustmentType = "Decrease"
	AdjustmentRecount  AdjustmentType = "Recount"
)

// AdjustmentReason groups why stock was adjusted; reasons that represent a
// financial variance (Damage, Theft, Expiry) get an optional GL posting on
// apply, per SPEC_FULL §3; Recount-for-audit reasons do not.
type AdjustmentReason string

const (
	ReasonDamage    AdjustmentReason = "Damage"
	ReasonTheft     AdjustmentReason = "Theft"
	ReasonExpiry    AdjustmentReason = "Expiry"
	ReasonRecount   AdjustmentReason = "Recount"
	ReasonCorrection AdjustmentReason = "Correction"
)

func (r AdjustmentReason) isFinancialVariance() bool {
	switch r {
	case ReasonDamage, ReasonTheft, ReasonExpiry:
		return true
	default:
		return false
	}
}

type AdjustmentItem struct {
	ID         string
	StockID    string
	Target     Target
	Quantity   decimal.Decimal // signed: positive for Increase, negative for Decrease
	UnitCost   *decimal.Decimal
	BeforeQty  decimal.Decimal
	AfterQty   decimal.Decimal
}

// StockAdjustment is a document-driven manual correction with an approval
// gate, spec §4.5.
type StockAdjustment struct {
	ID                 string
	StoreID            string
	AdjustmentNumber   string
	Type               AdjustmentType
	Reason             AdjustmentReason
	Status             AdjustmentStatus
	Notes              string
	CreatedBy          string
	ApprovedBy         *string
	Items              []AdjustmentItem
	CreatedAt          time.Time
	AppliedAt          *time.Time
}

type AdjustmentService interface {
	CreateDraft(ctx context.Context, storeID, createdBy string, adjType AdjustmentType, reason AdjustmentReason, notes string) (*StockAdjustment, error)
	AddItem(ctx context.Context, adjustmentID string, stockID string, quantity decimal.Decimal, unitCost *decimal.Decimal) error
	Submit(ctx context.Context, adjustmentID string) (*StockAdjustment, error)
	Approve(ctx context.Context, adjustmentID, approverID string) (*StockAdjustment, error)
	Reject(ctx context.Context, adjustmentID, approverID string) (*StockAdjustment, error)
	Cancel(ctx context.Context, adjustmentID string) (*StockAdjustment, error)
	Apply(ctx context.Context, adjustmentID, actorID string, ledger LedgerService, docService DocumentService) (*StockAdjustment, error)
	Get(ctx context.Context, adjustmentID string) (*StockAdjustment, error)
}

type adjustmentService struct {
	pool  *pgxpool.Pool
	audit AuditSink
	rules RuleEngine
}

func NewAdjustmentService(pool *pgxpool.Pool, audit AuditSink, rules RuleEngine) AdjustmentService {
	return &adjustmentService{pool: pool, audit: audit, rules: rules}
}

func (s *adjustmentService) CreateDraft(ctx context.Context, storeID, createdBy string, adjType AdjustmentType, reason AdjustmentReason, notes string) (*StockAdjustment, error) {
	a := &StockAdjustment{
		ID: newID(), StoreID: storeID, Type: adjType, Reason: reason,
		Status: AdjustmentDraft, Notes: notes, CreatedBy: createdBy,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stock_adjustments (id, store_id, type, reason, status, notes, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, a.ID, a.StoreID, a.Type, a.Reason, a.Status, a.Notes, a.CreatedBy)
	if err != nil {
		return nil, ErrInfra("failed to insert adjustment", err)
	}
	s.audit.Record(ctx, AuditEntry{EntityType: "stock_adjustment", EntityID: a.ID, Action: AuditActionCreated, After: a, ActorID: createdBy})
	return a, nil
}

// AddItem is only legal while the adjustment is Draft, per spec §4.5.
func (s *adjustmentService) AddItem(ctx context.Context, adjustmentID string, stockID string, quantity decimal.Decimal, unitCost *decimal.Decimal) error {
	a, err := s.Get(ctx, adjustmentID)
	if err != nil {
		return err
	}
	if a.Status != AdjustmentDraft {
		return ErrInvalidStatusTransition(string(a.Status), "item-add")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO stock_adjustment_items (id, adjustment_id, stock_id, quantity, unit_cost)
		VALUES ($1, $2, $3, $4, $5)
	`, newID(), adjustmentID, stockID, quantity, unitCost)
	if err != nil {
		return ErrInfra("failed to insert adjustment item", err)
	}
	return nil
}

func (s *adjustmentService) Submit(ctx context.Context, adjustmentID string) (*StockAdjustment, error) {
	return s.transition(ctx, adjustmentID, func(a *StockAdjustment) error {
		if a.Status != AdjustmentDraft {
			return ErrInvalidStatusTransition(string(a.Status), string(AdjustmentPendingApproval))
		}
		if len(a.Items) == 0 {
			return ErrInvalidQuantity("adjustment requires at least one item to submit")
		}
		return nil
	}, AdjustmentPendingApproval)
}

func (s *adjustmentService) Approve(ctx context.Context, adjustmentID, approverID string) (*StockAdjustment, error) {
	a, err := s.Get(ctx, adjustmentID)
	if err != nil {
		return nil, err
	}
	if a.CreatedBy == approverID {
		return nil, ErrCannotApproveSelfCreatedOrder()
	}
	return s.transitionWithApprover(ctx, adjustmentID, approverID, func(a *StockAdjustment) error {
		if a.Status != AdjustmentPendingApproval {
			return ErrInvalidStatusTransition(string(a.Status), string(AdjustmentApproved))
		}
		return nil
	}, AdjustmentApproved)
}

func (s *adjustmentService) Reject(ctx context.Context, adjustmentID, approverID string) (*StockAdjustment, error) {
	return s.transitionWithApprover(ctx, adjustmentID, approverID, func(a *StockAdjustment) error {
		if a.Status != AdjustmentPendingApproval {
			return ErrInvalidStatusTransition(string(a.Status), string(AdjustmentRejected))
		}
		return nil
	}, AdjustmentRejected)
}

func (s *adjustmentService) Cancel(ctx context.Context, adjustmentID string) (*StockAdjustment, error) {
	return s.transition(ctx, adjustmentID, func(a *StockAdjustment) error {
		if a.Status != AdjustmentDraft && a.Status != AdjustmentPendingApproval {
			return ErrInvalidStatusTransition(string(a.Status), string(AdjustmentCancelled))
		}
		return nil
	}, AdjustmentCancelled)
}

// Apply is the only stock writer for this workflow, spec §4.5: for each item
// it re-reads the stock, applies the signed quantity, records the balance
// before and after on the returned item (BeforeQty/AfterQty), writes an
// Adjustment kardex entry, all within one transaction covering every item.
// Reasons that represent a financial variance also post a GL entry via the
// caller-supplied ledger; docService is not used.
func (s *adjustmentService) Apply(ctx context.Context, adjustmentID, actorID string, ledger LedgerService, docService DocumentService) (*StockAdjustment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	a, err := lockAdjustmentForUpdateTx(ctx, tx, adjustmentID)
	if err != nil {
		return nil, err
	}
	if a.Status != AdjustmentApproved {
		return nil, ErrInvalidStatusTransition(string(a.Status), string(AdjustmentApplied))
	}

	companyID, err := resolveCompanyIDForStore(ctx, tx, a.StoreID)
	if err != nil {
		return nil, err
	}
	companyCode, err := resolveCompanyCodeForStore(ctx, tx, a.StoreID)
	if err != nil {
		return nil, err
	}

	totalVariance := decimal.Zero
	for i, item := range a.Items {
		reasonStr := string(a.Reason)
		st, err := applyDeltaTx(ctx, tx, item.StockID, item.Quantity, MovementAdjustment, &reasonStr, item.UnitCost, "HNL", ptr("adjustment"), &a.ID, actorID)
		if err != nil {
			return nil, err
		}
		if item.UnitCost != nil {
			totalVariance = totalVariance.Add(item.Quantity.Mul(*item.UnitCost))
		}
		a.Items[i].AfterQty = st.Quantity
		a.Items[i].BeforeQty = st.Quantity.Sub(item.Quantity)
	}

	if a.Reason.isFinancialVariance() && !totalVariance.IsZero() && ledger != nil {
		inventoryAcct, err := s.rules.ResolveAccount(ctx, companyID, "INVENTORY")
		if err != nil {
			return nil, err
		}
		varianceAcct, err := s.rules.ResolveAccount(ctx, companyID, "INVENTORY_VARIANCE")
		if err != nil {
			return nil, err
		}
		proposal := buildBalancedProposal("ADJ", companyCode, "Stock adjustment "+a.AdjustmentNumber, totalVariance.Abs(), inventoryAcct, varianceAcct, totalVariance.IsNegative())
		if err := ledger.CommitInTx(ctx, tx, proposal); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE stock_adjustments SET status = $1, applied_at = NOW() WHERE id = $2`, AdjustmentApplied, a.ID); err != nil {
		return nil, ErrInfra("failed to mark adjustment applied", err)
	}
	a.Status = AdjustmentApplied

	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	s.audit.Record(ctx, AuditEntry{EntityType: "stock_adjustment", EntityID: a.ID, Action: AuditActionUpdated, After: a, ActorID: actorID})
	return a, nil
}

func (s *adjustmentService) Get(ctx context.Context, adjustmentID string) (*StockAdjustment, error) {
	var a StockAdjustment
	err := s.pool.QueryRow(ctx, `
		SELECT id, store_id, COALESCE(adjustment_number, ''), type, reason, status, notes, created_by, created_at, applied_at
		FROM stock_adjustments WHERE id = $1
	`, adjustmentID).Scan(&a.ID, &a.StoreID, &a.AdjustmentNumber, &a.Type, &a.Reason, &a.Status, &a.Notes, &a.CreatedBy, &a.CreatedAt, &a.AppliedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("StockAdjustment", adjustmentID)
		}
		return nil, ErrInfra("failed to fetch adjustment", err)
	}
	rows, err := s.pool.Query(ctx, `SELECT id, stock_id, quantity, unit_cost FROM stock_adjustment_items WHERE adjustment_id = $1`, adjustmentID)
	if err != nil {
		return nil, ErrInfra("failed to query adjustment items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it AdjustmentItem
		if err := rows.Scan(&it.ID, &it.StockID, &it.Quantity, &it.UnitCost); err != nil {
			return nil, ErrInfra("failed to scan adjustment item", err)
		}
		a.Items = append(a.Items, it)
	}
	return &a, nil
}

func lockAdjustmentForUpdateTx(ctx context.Context, tx pgx.Tx, adjustmentID string) (*StockAdjustment, error) {
	var a StockAdjustment
	err := tx.QueryRow(ctx, `
		SELECT id, store_id, COALESCE(adjustment_number, ''), type, reason, status, notes, created_by, created_at, applied_at
		FROM stock_adjustments WHERE id = $1 FOR UPDATE
	`, adjustmentID).Scan(&a.ID, &a.StoreID, &a.AdjustmentNumber, &a.Type, &a.Reason, &a.Status, &a.Notes, &a.CreatedBy, &a.CreatedAt, &a.AppliedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("StockAdjustment", adjustmentID)
		}
		return nil, ErrInfra("failed to lock adjustment", err)
	}
	rows, err := tx.Query(ctx, `SELECT id, stock_id, quantity, unit_cost FROM stock_adjustment_items WHERE adjustment_id = $1`, adjustmentID)
	if err != nil {
		return nil, ErrInfra("failed to query adjustment items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it AdjustmentItem
		if err := rows.Scan(&it.ID, &it.StockID, &it.Quantity, &it.UnitCost); err != nil {
			return nil, ErrInfra("failed to scan adjustment item", err)
		}
		a.Items = append(a.Items, it)
	}
	return &a, nil
}

func (s *adjustmentService) transition(ctx context.Context, adjustmentID string, check func(*StockAdjustment) error, to AdjustmentStatus) (*StockAdjustment, error) {
	a, err := s.Get(ctx, adjustmentID)
	if err != nil {
		return nil, err
	}
	if err := check(a); err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, `UPDATE stock_adjustments SET status = $1 WHERE id = $2`, to, adjustmentID); err != nil {
		return nil, ErrInfra("failed to update adjustment status", err)
	}
	a.Status = to
	return a, nil
}

func (s *adjustmentService) transitionWithApprover(ctx context.Context, adjustmentID, approverID string, check func(*StockAdjustment) error, to AdjustmentStatus) (*StockAdjustment, error) {
	a, err := s.Get(ctx, adjustmentID)
	if err != nil {
		return nil, err
	}
	if err := check(a); err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, `UPDATE stock_adjustments SET status = $1, approved_by = $2 WHERE id = $3`, to, approverID, adjustmentID); err != nil {
		return nil, ErrInfra("failed to update adjustment status", err)
	}
	a.Status = to
	a.ApprovedBy = &approverID
	return a, nil
}

func ptr[T any](v T) *T { return &v }
