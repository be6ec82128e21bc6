package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type CreditNoteStatus string

const (
	CreditNoteDraft     CreditNoteStatus = "Draft"
	CreditNotePending   CreditNoteStatus = "Pending"
	CreditNoteApproved  CreditNoteStatus = "Approved"
	CreditNoteApplied   CreditNoteStatus = "Applied"
	CreditNoteCancelled CreditNoteStatus = "Cancelled"
)

// CreditNoteItem references an original sale item; return_quantity cannot
// exceed the original sale-item quantity, spec §4.9.
type CreditNoteItem struct {
	ID             string
	SaleItemID     string
	Target         Target
	ReturnQuantity decimal.Decimal
	Restock        bool
}

type CreditNote struct {
	ID           string
	SaleID       string
	Status       CreditNoteStatus
	CreatedBy    string
	RefundMethod PaymentMethod
	RefundAmount decimal.Decimal
	PaymentID    string
	Items        []CreditNoteItem
	CreatedAt    time.Time
	AppliedAt    *time.Time
}

type CreditNoteService interface {
	CreateDraft(ctx context.Context, saleID, paymentID, createdBy string, refundMethod PaymentMethod, items []CreditNoteItem) (*CreditNote, error)
	Submit(ctx context.Context, cnID string) (*CreditNote, error)
	Approve(ctx context.Context, cnID, approverID string) (*CreditNote, error)
	Cancel(ctx context.Context, cnID string) (*CreditNote, error)
	// Apply restocks lines with restock=true, writes the refund against the
	// referenced payment, and transitions the sale to Refunded when total
	// refunded equals total paid. Spec §4.9.
	Apply(ctx context.Context, cnID, actorID string, sales SaleService, shift ShiftService) (*CreditNote, error)
	Get(ctx context.Context, cnID string) (*CreditNote, error)
}

type creditNoteService struct {
	pool   *pgxpool.Pool
	audit  AuditSink
	ledger LedgerService
	rules  RuleEngine
}

func NewCreditNoteService(pool *pgxpool.Pool, audit AuditSink, ledger LedgerService, rules RuleEngine) CreditNoteService {
	return &creditNoteService{pool: pool, audit: audit, ledger: ledger, rules: rules}
}

func (s *creditNoteService) CreateDraft(ctx context.Context, saleID, paymentID, createdBy string, refundMethod PaymentMethod, items []CreditNoteItem) (*CreditNote, error) {
	var saleStatus SaleStatus
	if err := s.pool.QueryRow(ctx, `SELECT status FROM sales WHERE id = $1`, saleID).Scan(&saleStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Sale", saleID)
		}
		return nil, ErrInfra("failed to fetch sale", err)
	}
	if saleStatus != SaleCompleted {
		return nil, ErrInvalidStatus("credit note must reference a Completed sale")
	}

	for _, it := range items {
		var origQty decimal.Decimal
		if err := s.pool.QueryRow(ctx, `SELECT quantity FROM sale_items WHERE id = $1 AND sale_id = $2`, it.SaleItemID, saleID).Scan(&origQty); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound("SaleItem", it.SaleItemID)
			}
			return nil, ErrInfra("failed to fetch sale item", err)
		}
		if it.ReturnQuantity.GreaterThan(origQty) {
			return nil, ErrReturnQuantityExceedsSaleQuantity()
		}
	}

	cn := &CreditNote{ID: newID(), SaleID: saleID, Status: CreditNoteDraft, CreatedBy: createdBy, RefundMethod: refundMethod, PaymentID: paymentID}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_notes (id, sale_id, payment_id, status, created_by, refund_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, cn.ID, cn.SaleID, cn.PaymentID, cn.Status, cn.CreatedBy, cn.RefundMethod); err != nil {
		return nil, ErrInfra("failed to insert credit note", err)
	}
	for i := range items {
		items[i].ID = newID()
		if _, err := tx.Exec(ctx, `
			INSERT INTO credit_note_items (id, credit_note_id, sale_item_id, product_id, variant_id, return_quantity, restock)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, items[i].ID, cn.ID, items[i].SaleItemID, items[i].Target.ProductID, items[i].Target.VariantID, items[i].ReturnQuantity, items[i].Restock); err != nil {
			return nil, ErrInfra("failed to insert credit note item", err)
		}
	}
	cn.Items = items
	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return cn, nil
}

func (s *creditNoteService) Submit(ctx context.Context, cnID string) (*CreditNote, error) {
	return s.transition(ctx, cnID, CreditNoteDraft, CreditNotePending)
}

// Approve is gated unconditionally against the creator, spec §9 Open Question.
func (s *creditNoteService) Approve(ctx context.Context, cnID, approverID string) (*CreditNote, error) {
	cn, err := s.Get(ctx, cnID)
	if err != nil {
		return nil, err
	}
	if cn.Status != CreditNotePending {
		return nil, ErrInvalidStatusTransition(string(cn.Status), string(CreditNoteApproved))
	}
	if cn.CreatedBy == approverID {
		return nil, ErrCannotApproveSelfCreatedOrder()
	}
	return s.transition(ctx, cnID, CreditNotePending, CreditNoteApproved)
}

func (s *creditNoteService) Cancel(ctx context.Context, cnID string) (*CreditNote, error) {
	cn, err := s.Get(ctx, cnID)
	if err != nil {
		return nil, err
	}
	if cn.Status != CreditNoteDraft && cn.Status != CreditNotePending {
		return nil, ErrInvalidStatusTransition(string(cn.Status), string(CreditNoteCancelled))
	}
	return s.transition(ctx, cnID, cn.Status, CreditNoteCancelled)
}

func (s *creditNoteService) Apply(ctx context.Context, cnID, actorID string, sales SaleService, shift ShiftService) (*CreditNote, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	cn, err := lockCreditNoteForUpdateTx(ctx, tx, cnID)
	if err != nil {
		return nil, err
	}
	if cn.Status != CreditNoteApproved {
		return nil, ErrInvalidStatusTransition(string(cn.Status), string(CreditNoteApplied))
	}

	var storeID string
	if err := tx.QueryRow(ctx, `SELECT store_id FROM sales WHERE id = $1`, cn.SaleID).Scan(&storeID); err != nil {
		return nil, ErrInfra("failed to resolve sale's store", err)
	}

	refID := cn.ID
	totalRefund := decimal.Zero
	for _, it := range cn.Items {
		if !it.Restock {
			continue
		}
		st, err := lockStockByTargetForUpdateTx(ctx, tx, storeID, it.Target)
		if err != nil {
			return nil, err
		}
		if _, err := applyDeltaTx(ctx, tx, st.ID, it.ReturnQuantity, MovementIn, nil, nil, "HNL", ptr("credit_note"), &refID, actorID); err != nil {
			return nil, err
		}
	}

	var lineAmount decimal.Decimal
	for _, it := range cn.Items {
		var unitPrice decimal.Decimal
		if err := tx.QueryRow(ctx, `SELECT unit_price FROM sale_items WHERE id = $1`, it.SaleItemID).Scan(&unitPrice); err != nil {
			return nil, ErrInfra("failed to fetch sale item price", err)
		}
		lineAmount = lineAmount.Add(it.ReturnQuantity.Mul(unitPrice))
	}
	totalRefund = lineAmount

	sale, err := sales.recordRefund(ctx, tx, cn.SaleID, cn.PaymentID, totalRefund)
	if err != nil {
		return nil, err
	}

	if sale.ShiftID != nil {
		if err := shift.CreditRefund(ctx, tx, *sale.ShiftID, cn.RefundMethod, totalRefund); err != nil {
			return nil, err
		}
	}

	if s.ledger != nil && s.rules != nil && !totalRefund.IsZero() {
		if err := s.postCreditNoteRefundTx(ctx, tx, storeID, cn, totalRefund); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE credit_notes SET status = $1, refund_amount = $2, applied_at = NOW() WHERE id = $3`, CreditNoteApplied, totalRefund, cnID); err != nil {
		return nil, ErrInfra("failed to update credit note status", err)
	}
	cn.Status = CreditNoteApplied
	cn.RefundAmount = totalRefund

	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	s.audit.Record(ctx, AuditEntry{EntityType: "credit_note", EntityID: cn.ID, Action: AuditActionUpdated, ActorID: actorID})
	return cn, nil
}

// postCreditNoteRefundTx reverses the revenue side of the original sale and
// credits the refund method's account — the mirror image of
// saleService.postSaleCompletionTx, spec §4.9/§9 domain stack.
func (s *creditNoteService) postCreditNoteRefundTx(ctx context.Context, tx pgx.Tx, storeID string, cn *CreditNote, amount decimal.Decimal) error {
	companyID, err := resolveCompanyIDForStore(ctx, tx, storeID)
	if err != nil {
		return err
	}
	companyCode, err := resolveCompanyCodeForStore(ctx, tx, storeID)
	if err != nil {
		return err
	}
	revenueAcct, err := s.rules.ResolveAccount(ctx, companyID, "REVENUE")
	if err != nil {
		return ErrInfra("failed to resolve revenue account", err)
	}
	creditAcct, err := s.rules.ResolveAccount(ctx, companyID, accountRuleForPaymentMethod(cn.RefundMethod))
	if err != nil {
		return ErrInfra("failed to resolve refund account", err)
	}
	proposal := buildBalancedProposal("CRN", companyCode, "Credit note refund "+cn.ID, amount, revenueAcct, creditAcct, false)
	return s.ledger.CommitInTx(ctx, tx, proposal)
}

func (s *creditNoteService) Get(ctx context.Context, cnID string) (*CreditNote, error) {
	var cn CreditNote
	err := s.pool.QueryRow(ctx, `
		SELECT id, sale_id, payment_id, status, created_by, refund_method, COALESCE(refund_amount, 0), created_at, applied_at
		FROM credit_notes WHERE id = $1
	`, cnID).Scan(&cn.ID, &cn.SaleID, &cn.PaymentID, &cn.Status, &cn.CreatedBy, &cn.RefundMethod, &cn.RefundAmount, &cn.CreatedAt, &cn.AppliedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("CreditNote", cnID)
		}
		return nil, ErrInfra("failed to fetch credit note", err)
	}
	cn.Items, err = fetchCreditNoteItems(ctx, s.pool, cn.ID)
	if err != nil {
		return nil, err
	}
	return &cn, nil
}

func lockCreditNoteForUpdateTx(ctx context.Context, tx pgx.Tx, cnID string) (*CreditNote, error) {
	var cn CreditNote
	err := tx.QueryRow(ctx, `
		SELECT id, sale_id, payment_id, status, created_by, refund_method, COALESCE(refund_amount, 0), created_at, applied_at
		FROM credit_notes WHERE id = $1 FOR UPDATE
	`, cnID).Scan(&cn.ID, &cn.SaleID, &cn.PaymentID, &cn.Status, &cn.CreatedBy, &cn.RefundMethod, &cn.RefundAmount, &cn.CreatedAt, &cn.AppliedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("CreditNote", cnID)
		}
		return nil, ErrInfra("failed to lock credit note", err)
	}
	cn.Items, err = fetchCreditNoteItems(ctx, tx, cn.ID)
	if err != nil {
		return nil, err
	}
	return &cn, nil
}

func fetchCreditNoteItems(ctx context.Context, q pgxRowQuerier, cnID string) ([]CreditNoteItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, sale_item_id, product_id, variant_id, return_quantity, restock
		FROM credit_note_items WHERE credit_note_id = $1
	`, cnID)
	if err != nil {
		return nil, ErrInfra("failed to query credit note items", err)
	}
	defer rows.Close()
	var out []CreditNoteItem
	for rows.Next() {
		var it CreditNoteItem
		if err := rows.Scan(&it.ID, &it.SaleItemID, &it.Target.ProductID, &it.Target.VariantID, &it.ReturnQuantity, &it.Restock); err != nil {
			return nil, ErrInfra("failed to scan credit note item", err)
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *creditNoteService) transition(ctx context.Context, cnID string, from, to CreditNoteStatus) (*CreditNote, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE credit_notes SET status = $1 WHERE id = $2 AND status = $3`, to, cnID, from)
	if err != nil {
		return nil, ErrInfra("failed to update credit note status", err)
	}
	if tag.RowsAffected() == 0 {
		cn, getErr := s.Get(ctx, cnID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidStatusTransition(string(cn.Status), string(to))
	}
	return s.Get(ctx, cnID)
}
