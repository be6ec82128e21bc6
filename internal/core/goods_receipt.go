package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type GoodsReceiptStatus string

const (
	GoodsReceiptDraft     GoodsReceiptStatus = "Draft"
	GoodsReceiptConfirmed GoodsReceiptStatus = "Confirmed"
	GoodsReceiptCancelled GoodsReceiptStatus = "Cancelled"
)

// GoodsReceiptItem captures unit_cost from the PO line at receipt-creation
// time, so later re-pricing of the PO line never alters an already-confirmed
// receipt, spec §4.7.
type GoodsReceiptItem struct {
	ID       string
	POItemID string
	Target   Target
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
}

type GoodsReceipt struct {
	ID          string
	ReceiptNum  string
	POID        string
	StoreID     string
	Status      GoodsReceiptStatus
	Items       []GoodsReceiptItem
	CreatedAt   time.Time
	ConfirmedAt *time.Time
}

type GoodsReceiptService interface {
	CreateDraft(ctx context.Context, poID string, items []GoodsReceiptItem) (*GoodsReceipt, error)
	// Confirm is the only writer: it applies an In kardex entry per item
	// keyed (reference_type=goods_receipt, reference_id=receipt_id), updates
	// the PO line's received_quantity, and rolls the PO status forward.
	Confirm(ctx context.Context, receiptID, actorID string) (*GoodsReceipt, error)
	Cancel(ctx context.Context, receiptID string) (*GoodsReceipt, error)
	Get(ctx context.Context, receiptID string) (*GoodsReceipt, error)
}

type goodsReceiptService struct {
	pool   *pgxpool.Pool
	po     PurchaseOrderService
	audit  AuditSink
	ledger LedgerService
	rules  RuleEngine
}

func NewGoodsReceiptService(pool *pgxpool.Pool, po PurchaseOrderService, audit AuditSink, ledger LedgerService, rules RuleEngine) GoodsReceiptService {
	return &goodsReceiptService{pool: pool, po: po, audit: audit, ledger: ledger, rules: rules}
}

func (s *goodsReceiptService) CreateDraft(ctx context.Context, poID string, items []GoodsReceiptItem) (*GoodsReceipt, error) {
	po, err := s.po.Get(ctx, poID)
	if err != nil {
		return nil, err
	}
	if po.Status != POStatusApproved && po.Status != POStatusPartiallyReceived {
		return nil, ErrInvalidStatusTransition(string(po.Status), "receiving")
	}

	gr := &GoodsReceipt{ID: newID(), POID: poID, StoreID: po.StoreID, Status: GoodsReceiptDraft}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO goods_receipts (id, po_id, store_id, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, gr.ID, gr.POID, gr.StoreID, gr.Status); err != nil {
		return nil, ErrInfra("failed to insert goods receipt", err)
	}
	for i := range items {
		items[i].ID = newID()
		for _, line := range po.Items {
			if line.ID == items[i].POItemID {
				items[i].UnitCost = line.UnitCost
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO goods_receipt_items (id, receipt_id, po_item_id, product_id, variant_id, quantity, unit_cost)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, items[i].ID, gr.ID, items[i].POItemID, items[i].Target.ProductID, items[i].Target.VariantID, items[i].Quantity, items[i].UnitCost); err != nil {
			return nil, ErrInfra("failed to insert goods receipt item", err)
		}
	}
	gr.Items = items
	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return gr, nil
}

func (s *goodsReceiptService) Confirm(ctx context.Context, receiptID, actorID string) (*GoodsReceipt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	gr, err := lockGoodsReceiptForUpdateTx(ctx, tx, receiptID)
	if err != nil {
		return nil, err
	}
	if gr.Status != GoodsReceiptDraft {
		return nil, ErrInvalidStatusTransition(string(gr.Status), string(GoodsReceiptConfirmed))
	}

	received := make(map[string]decimal.Decimal, len(gr.Items))
	refID := gr.ID
	total := decimal.Zero
	for _, it := range gr.Items {
		st, err := lockStockByTargetForUpdateTx(ctx, tx, gr.StoreID, it.Target)
		if err != nil {
			var de *DomainError
			if errors.As(err, &de) && de.Category == CategoryNotFound {
				st, err = getOrCreateStockForTransferTx(ctx, tx, gr.StoreID, it.Target)
			}
			if err != nil {
				return nil, err
			}
		}
		cost := it.UnitCost
		if _, err := applyDeltaTx(ctx, tx, st.ID, it.Quantity, MovementIn, nil, &cost, "HNL", ptr("goods_receipt"), &refID, actorID); err != nil {
			return nil, err
		}
		received[it.POItemID] = received[it.POItemID].Add(it.Quantity)
		total = total.Add(it.Quantity.Mul(it.UnitCost))
	}

	po, err := s.po.applyReceipt(ctx, tx, gr.POID, received)
	if err != nil {
		return nil, err
	}

	if s.ledger != nil && !total.IsZero() {
		companyCode, err := resolveCompanyCodeForStore(ctx, tx, gr.StoreID)
		if err != nil {
			return nil, err
		}
		inventoryAcct, err := s.rules.ResolveAccount(ctx, po.CompanyID, "INVENTORY")
		if err != nil {
			return nil, ErrInfra("failed to resolve inventory account", err)
		}
		apAcct, err := s.rules.ResolveAccount(ctx, po.CompanyID, "ACCOUNTS_PAYABLE")
		if err != nil {
			return nil, ErrInfra("failed to resolve accounts payable account", err)
		}
		proposal := buildBalancedProposal("GR", companyCode, "Goods receipt "+gr.ReceiptNum, total, inventoryAcct, apAcct, false)
		if err := s.ledger.CommitInTx(ctx, tx, proposal); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE goods_receipts SET status = $1, confirmed_at = NOW() WHERE id = $2`, GoodsReceiptConfirmed, receiptID); err != nil {
		return nil, ErrInfra("failed to update goods receipt status", err)
	}
	gr.Status = GoodsReceiptConfirmed

	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	s.audit.Record(ctx, AuditEntry{EntityType: "goods_receipt", EntityID: gr.ID, Action: AuditActionUpdated, ActorID: actorID})
	return gr, nil
}

func (s *goodsReceiptService) Cancel(ctx context.Context, receiptID string) (*GoodsReceipt, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE goods_receipts SET status = $1 WHERE id = $2 AND status = $3`, GoodsReceiptCancelled, receiptID, GoodsReceiptDraft)
	if err != nil {
		return nil, ErrInfra("failed to cancel goods receipt", err)
	}
	if tag.RowsAffected() == 0 {
		gr, getErr := s.Get(ctx, receiptID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidStatusTransition(string(gr.Status), string(GoodsReceiptCancelled))
	}
	return s.Get(ctx, receiptID)
}

func (s *goodsReceiptService) Get(ctx context.Context, receiptID string) (*GoodsReceipt, error) {
	var gr GoodsReceipt
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(receipt_number, ''), po_id, store_id, status, created_at, confirmed_at
		FROM goods_receipts WHERE id = $1
	`, receiptID).Scan(&gr.ID, &gr.ReceiptNum, &gr.POID, &gr.StoreID, &gr.Status, &gr.CreatedAt, &gr.ConfirmedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("GoodsReceipt", receiptID)
		}
		return nil, ErrInfra("failed to fetch goods receipt", err)
	}
	gr.Items, err = fetchGoodsReceiptItems(ctx, s.pool, gr.ID)
	if err != nil {
		return nil, err
	}
	return &gr, nil
}

func lockGoodsReceiptForUpdateTx(ctx context.Context, tx pgx.Tx, receiptID string) (*GoodsReceipt, error) {
	var gr GoodsReceipt
	err := tx.QueryRow(ctx, `
		SELECT id, COALESCE(receipt_number, ''), po_id, store_id, status, created_at, confirmed_at
		FROM goods_receipts WHERE id = $1 FOR UPDATE
	`, receiptID).Scan(&gr.ID, &gr.ReceiptNum, &gr.POID, &gr.StoreID, &gr.Status, &gr.CreatedAt, &gr.ConfirmedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("GoodsReceipt", receiptID)
		}
		return nil, ErrInfra("failed to lock goods receipt", err)
	}
	gr.Items, err = fetchGoodsReceiptItems(ctx, tx, gr.ID)
	if err != nil {
		return nil, err
	}
	return &gr, nil
}

func fetchGoodsReceiptItems(ctx context.Context, q pgxRowQuerier, receiptID string) ([]GoodsReceiptItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, po_item_id, product_id, variant_id, quantity, unit_cost
		FROM goods_receipt_items WHERE receipt_id = $1
	`, receiptID)
	if err != nil {
		return nil, ErrInfra("failed to query goods receipt items", err)
	}
	defer rows.Close()
	var out []GoodsReceiptItem
	for rows.Next() {
		var it GoodsReceiptItem
		if err := rows.Scan(&it.ID, &it.POItemID, &it.Target.ProductID, &it.Target.VariantID, &it.Quantity, &it.UnitCost); err != nil {
			return nil, ErrInfra("failed to scan goods receipt item", err)
		}
		out = append(out, it)
	}
	return out, nil
}
