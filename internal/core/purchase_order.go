package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type POStatus string

const (
	POStatusDraft             POStatus = "Draft"
	POStatusSubmitted         POStatus = "Submitted"
	POStatusApproved          POStatus = "Approved"
	POStatusPartiallyReceived POStatus = "PartiallyReceived"
	POStatusReceived          POStatus = "Received"
	POStatusClosed            POStatus = "Closed"
	POStatusCancelled         POStatus = "Cancelled"
)

// PurchaseOrderItem carries (ordered, received, unit_cost, discount%, tax%)
// per spec §3. LineTotal = qty·unit_cost·(1−discount%)·(1+tax%).
type PurchaseOrderItem struct {
	ID         string
	Target     Target
	Ordered    decimal.Decimal
	Received   decimal.Decimal
	UnitCost   decimal.Decimal
	DiscountPc decimal.Decimal
	TaxPc      decimal.Decimal
}

func (i PurchaseOrderItem) Subtotal() decimal.Decimal {
	return i.Ordered.Mul(i.UnitCost)
}

func (i PurchaseOrderItem) LineTotal() decimal.Decimal {
	one := decimal.NewFromInt(1)
	return i.Subtotal().Mul(one.Sub(i.DiscountPc)).Mul(one.Add(i.TaxPc))
}

type PurchaseOrder struct {
	ID         string
	PONumber   string
	CompanyID  int
	StoreID    string
	VendorID   int
	Status     POStatus
	CreatedBy  string
	Items      []PurchaseOrderItem
	CreatedAt  time.Time
	ApprovedAt *time.Time
}

func (po *PurchaseOrder) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range po.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}

type PurchaseOrderService interface {
	CreateDraft(ctx context.Context, storeID string, vendorID int, createdBy string, items []PurchaseOrderItem) (*PurchaseOrder, error)
	Submit(ctx context.Context, poID string) (*PurchaseOrder, error)
	Approve(ctx context.Context, poID, approverID string, docs DocumentService) (*PurchaseOrder, error)
	Reject(ctx context.Context, poID string) (*PurchaseOrder, error)
	Cancel(ctx context.Context, poID string) (*PurchaseOrder, error)
	Close(ctx context.Context, poID string) (*PurchaseOrder, error)
	Get(ctx context.Context, poID string) (*PurchaseOrder, error)
	List(ctx context.Context, storeID string, status POStatus) ([]PurchaseOrder, error)

	// applyReceipt is called by GoodsReceiptService on Confirm to advance the
	// per-item received_quantity and roll the header status forward.
	applyReceipt(ctx context.Context, tx pgx.Tx, poID string, received map[string]decimal.Decimal) (*PurchaseOrder, error)
}

type purchaseOrderService struct {
	pool  *pgxpool.Pool
	audit AuditSink
}

func NewPurchaseOrderService(pool *pgxpool.Pool, audit AuditSink) PurchaseOrderService {
	return &purchaseOrderService{pool: pool, audit: audit}
}

func (s *purchaseOrderService) CreateDraft(ctx context.Context, storeID string, vendorID int, createdBy string, items []PurchaseOrderItem) (*PurchaseOrder, error) {
	companyID, err := resolveCompanyIDForStore(ctx, s.pool, storeID)
	if err != nil {
		return nil, err
	}
	po := &PurchaseOrder{ID: newID(), CompanyID: companyID, StoreID: storeID, VendorID: vendorID, Status: POStatusDraft, CreatedBy: createdBy}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO purchase_orders (id, company_id, store_id, vendor_id, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, po.ID, po.CompanyID, po.StoreID, po.VendorID, po.Status, po.CreatedBy); err != nil {
		return nil, ErrInfra("failed to insert purchase order", err)
	}
	for i := range items {
		if err := items[i].Target.validate(); err != nil {
			return nil, err
		}
		items[i].ID = newID()
		if _, err := tx.Exec(ctx, `
			INSERT INTO purchase_order_items (id, po_id, product_id, variant_id, ordered_quantity, received_quantity, unit_cost, discount_pct, tax_pct)
			VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8)
		`, items[i].ID, po.ID, items[i].Target.ProductID, items[i].Target.VariantID, items[i].Ordered, items[i].UnitCost, items[i].DiscountPc, items[i].TaxPc); err != nil {
			return nil, ErrInfra("failed to insert purchase order item", err)
		}
	}
	po.Items = items
	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return po, nil
}

func (s *purchaseOrderService) Submit(ctx context.Context, poID string) (*PurchaseOrder, error) {
	return s.transition(ctx, poID, POStatusDraft, POStatusSubmitted)
}

// Approve assigns a gapless PO number via DocumentService and transitions
// Submitted -> Approved. CannotApproveSelfCreatedOrder is wired
// unconditionally, spec §9 Open Question.
func (s *purchaseOrderService) Approve(ctx context.Context, poID, approverID string, docs DocumentService) (*PurchaseOrder, error) {
	po, err := s.Get(ctx, poID)
	if err != nil {
		return nil, err
	}
	if po.Status != POStatusSubmitted {
		return nil, ErrInvalidStatusTransition(string(po.Status), string(POStatusApproved))
	}
	if po.CreatedBy == approverID {
		return nil, ErrCannotApproveSelfCreatedOrder()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var draftDocID int
	if err := tx.QueryRow(ctx, `
		INSERT INTO documents (company_id, type_code, status, financial_year, branch_id)
		VALUES ($1, $2, $3, NULL, NULL) RETURNING id
	`, po.CompanyID, "PO", string(DocumentStatusDraft)).Scan(&draftDocID); err != nil {
		return nil, ErrInfra("failed to create purchase order document", err)
	}
	if err := docs.PostDocumentTx(ctx, tx, draftDocID); err != nil {
		return nil, ErrInfra("failed to post purchase order document", err)
	}
	var number string
	if err := tx.QueryRow(ctx, `SELECT document_number FROM documents WHERE id = $1`, draftDocID).Scan(&number); err != nil {
		return nil, ErrInfra("failed to retrieve purchase order number", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE purchase_orders SET status = $1, po_number = $2, approved_at = NOW() WHERE id = $3`, POStatusApproved, number, poID); err != nil {
		return nil, ErrInfra("failed to update purchase order", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return s.Get(ctx, poID)
}

// Reject moves Submitted back to Draft for a second edit iteration, spec §4.7.
func (s *purchaseOrderService) Reject(ctx context.Context, poID string) (*PurchaseOrder, error) {
	return s.transition(ctx, poID, POStatusSubmitted, POStatusDraft)
}

func (s *purchaseOrderService) Cancel(ctx context.Context, poID string) (*PurchaseOrder, error) {
	po, err := s.Get(ctx, poID)
	if err != nil {
		return nil, err
	}
	if po.Status != POStatusDraft && po.Status != POStatusSubmitted {
		return nil, ErrInvalidStatusTransition(string(po.Status), string(POStatusCancelled))
	}
	return s.transition(ctx, poID, po.Status, POStatusCancelled)
}

func (s *purchaseOrderService) Close(ctx context.Context, poID string) (*PurchaseOrder, error) {
	return s.transition(ctx, poID, POStatusReceived, POStatusClosed)
}

// applyReceipt advances received_quantity per item and rolls the header
// status to PartiallyReceived or Received. Over-receipt at the item level is
// rejected with ExceedsOrderedQuantity, spec §4.7.
func (s *purchaseOrderService) applyReceipt(ctx context.Context, tx pgx.Tx, poID string, received map[string]decimal.Decimal) (*PurchaseOrder, error) {
	var status POStatus
	var companyID int
	if err := tx.QueryRow(ctx, `SELECT status, company_id FROM purchase_orders WHERE id = $1 FOR UPDATE`, poID).Scan(&status, &companyID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("PurchaseOrder", poID)
		}
		return nil, ErrInfra("failed to lock purchase order", err)
	}
	if status != POStatusApproved && status != POStatusPartiallyReceived {
		return nil, ErrInvalidStatusTransition(string(status), string(POStatusPartiallyReceived))
	}

	rows, err := tx.Query(ctx, `SELECT id, ordered_quantity, received_quantity FROM purchase_order_items WHERE po_id = $1`, poID)
	if err != nil {
		return nil, ErrInfra("failed to query purchase order items", err)
	}
	type itemState struct {
		id                 string
		ordered, receivedQ decimal.Decimal
	}
	var states []itemState
	for rows.Next() {
		var st itemState
		if err := rows.Scan(&st.id, &st.ordered, &st.receivedQ); err != nil {
			rows.Close()
			return nil, ErrInfra("failed to scan purchase order item", err)
		}
		states = append(states, st)
	}
	rows.Close()

	allReceived := true
	for _, st := range states {
		add, ok := received[st.id]
		newReceived := st.receivedQ
		if ok {
			newReceived = st.receivedQ.Add(add)
			if newReceived.GreaterThan(st.ordered) {
				return nil, ErrExceedsOrderedQuantity()
			}
			if _, err := tx.Exec(ctx, `UPDATE purchase_order_items SET received_quantity = $1 WHERE id = $2`, newReceived, st.id); err != nil {
				return nil, ErrInfra("failed to update received quantity", err)
			}
		}
		if newReceived.LessThan(st.ordered) {
			allReceived = false
		}
	}

	newStatus := POStatusPartiallyReceived
	if allReceived {
		newStatus = POStatusReceived
	}
	if _, err := tx.Exec(ctx, `UPDATE purchase_orders SET status = $1 WHERE id = $2`, newStatus, poID); err != nil {
		return nil, ErrInfra("failed to update purchase order status", err)
	}
	return &PurchaseOrder{ID: poID, CompanyID: companyID, Status: newStatus}, nil
}

func (s *purchaseOrderService) Get(ctx context.Context, poID string) (*PurchaseOrder, error) {
	po, err := scanPO(ctx, s.pool, poID)
	if err != nil {
		return nil, err
	}
	po.Items, err = fetchPOItems(ctx, s.pool, poID)
	if err != nil {
		return nil, err
	}
	return po, nil
}

func (s *purchaseOrderService) List(ctx context.Context, storeID string, status POStatus) ([]PurchaseOrder, error) {
	query := `SELECT id, company_id, store_id, vendor_id, COALESCE(po_number, ''), status, created_by, created_at, approved_at FROM purchase_orders WHERE store_id = $1`
	args := []any{storeID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, ErrInfra("failed to query purchase orders", err)
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(&po.ID, &po.CompanyID, &po.StoreID, &po.VendorID, &po.PONumber, &po.Status, &po.CreatedBy, &po.CreatedAt, &po.ApprovedAt); err != nil {
			return nil, ErrInfra("failed to scan purchase order", err)
		}
		out = append(out, po)
	}
	return out, nil
}

func (s *purchaseOrderService) transition(ctx context.Context, poID string, from, to POStatus) (*PurchaseOrder, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE purchase_orders SET status = $1 WHERE id = $2 AND status = $3`, to, poID, from)
	if err != nil {
		return nil, ErrInfra("failed to update purchase order status", err)
	}
	if tag.RowsAffected() == 0 {
		po, getErr := s.Get(ctx, poID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidStatusTransition(string(po.Status), string(to))
	}
	return s.Get(ctx, poID)
}

func scanPO(ctx context.Context, q pgxQuerier, poID string) (*PurchaseOrder, error) {
	var po PurchaseOrder
	err := q.QueryRow(ctx, `
		SELECT id, company_id, store_id, vendor_id, COALESCE(po_number, ''), status, created_by, created_at, approved_at
		FROM purchase_orders WHERE id = $1
	`, poID).Scan(&po.ID, &po.CompanyID, &po.StoreID, &po.VendorID, &po.PONumber, &po.Status, &po.CreatedBy, &po.CreatedAt, &po.ApprovedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("PurchaseOrder", poID)
		}
		return nil, ErrInfra("failed to fetch purchase order", err)
	}
	return &po, nil
}

func fetchPOItems(ctx context.Context, q pgxRowQuerier, poID string) ([]PurchaseOrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, product_id, variant_id, ordered_quantity, received_quantity, unit_cost, discount_pct, tax_pct
		FROM purchase_order_items WHERE po_id = $1
	`, poID)
	if err != nil {
		return nil, ErrInfra("failed to query purchase order items", err)
	}
	defer rows.Close()
	var out []PurchaseOrderItem
	for rows.Next() {
		var it PurchaseOrderItem
		if err := rows.Scan(&it.ID, &it.Target.ProductID, &it.Target.VariantID, &it.Ordered, &it.Received, &it.UnitCost, &it.DiscountPc, &it.TaxPc); err != nil {
			return nil, ErrInfra("failed to scan purchase order item", err)
		}
		out = append(out, it)
	}
	return out, nil
}
