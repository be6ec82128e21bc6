package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type TransferStatus string

const (
	TransferDraft     TransferStatus = "Draft"
	TransferPending   TransferStatus = "Pending"
	TransferInTransit TransferStatus = "InTransit"
	TransferCompleted TransferStatus = "Completed"
	TransferCancelled TransferStatus = "Cancelled"
)

// TransferItem carries (requested, shipped?, received?) — discrepancy
// between shipped and received is preserved on the line, never silently
// reconciled, per spec §4.6.
type TransferItem struct {
	ID        string
	Target    Target
	Requested decimal.Decimal
	Shipped   *decimal.Decimal
	Received  *decimal.Decimal
}

type StockTransfer struct {
	ID             string
	TransferNumber string
	SourceStoreID  string
	DestStoreID    string
	Status         TransferStatus
	Items          []TransferItem
	CreatedAt      time.Time
	ShippedAt      *time.Time
	CompletedAt    *time.Time
}

type TransferService interface {
	CreateDraft(ctx context.Context, sourceStoreID, destStoreID string, items []TransferItem) (*StockTransfer, error)
	Submit(ctx context.Context, transferID string) (*StockTransfer, error)
	Ship(ctx context.Context, transferID string, shipped map[string]decimal.Decimal, actorID string) (*StockTransfer, error)
	Receive(ctx context.Context, transferID string, received map[string]decimal.Decimal, actorID string) (*StockTransfer, error)
	Cancel(ctx context.Context, transferID string) (*StockTransfer, error)
	Get(ctx context.Context, transferID string) (*StockTransfer, error)
}

type transferService struct {
	pool  *pgxpool.Pool
	docs  DocumentService
	audit AuditSink
}

func NewTransferService(pool *pgxpool.Pool, docs DocumentService, audit AuditSink) TransferService {
	return &transferService{pool: pool, docs: docs, audit: audit}
}

func (s *transferService) CreateDraft(ctx context.Context, sourceStoreID, destStoreID string, items []TransferItem) (*StockTransfer, error) {
	if sourceStoreID == destStoreID {
		return nil, ErrSameStoreTransfer()
	}
	t := &StockTransfer{ID: newID(), SourceStoreID: sourceStoreID, DestStoreID: destStoreID, Status: TransferDraft}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO stock_transfers (id, source_store_id, dest_store_id, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, t.ID, t.SourceStoreID, t.DestStoreID, t.Status); err != nil {
		return nil, ErrInfra("failed to insert transfer", err)
	}
	for i := range items {
		items[i].ID = newID()
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_transfer_items (id, transfer_id, product_id, variant_id, requested_quantity)
			VALUES ($1, $2, $3, $4, $5)
		`, items[i].ID, t.ID, items[i].Target.ProductID, items[i].Target.VariantID, items[i].Requested); err != nil {
			return nil, ErrInfra("failed to insert transfer item", err)
		}
	}
	t.Items = items
	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return t, nil
}

func (s *transferService) Submit(ctx context.Context, transferID string) (*StockTransfer, error) {
	return s.transition(ctx, transferID, TransferDraft, TransferPending)
}

func (s *transferService) Cancel(ctx context.Context, transferID string) (*StockTransfer, error) {
	t, err := s.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Status != TransferDraft && t.Status != TransferPending {
		return nil, ErrInvalidStatusTransition(string(t.Status), string(TransferCancelled))
	}
	return s.transition(ctx, transferID, t.Status, TransferCancelled)
}

// Ship (Pending -> InTransit) decrements source stock and writes
// TransferOut entries for every item; shipped quantities are recorded on
// the items. Spec §4.6.
func (s *transferService) Ship(ctx context.Context, transferID string, shipped map[string]decimal.Decimal, actorID string) (*StockTransfer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTransferForUpdateTx(ctx, tx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Status != TransferPending {
		return nil, ErrInvalidStatusTransition(string(t.Status), string(TransferInTransit))
	}

	refID := t.ID
	for i := range t.Items {
		qty, ok := shipped[t.Items[i].ID]
		if !ok {
			continue
		}
		st, err := lockStockByTargetForUpdateTx(ctx, tx, t.SourceStoreID, t.Items[i].Target)
		if err != nil {
			return nil, err
		}
		if _, err := applyDeltaTx(ctx, tx, st.ID, qty.Neg(), MovementTransferOut, nil, nil, "", ptr("stock_transfer"), &refID, actorID); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `UPDATE stock_transfer_items SET shipped_quantity = $1 WHERE id = $2`, qty, t.Items[i].ID); err != nil {
			return nil, ErrInfra("failed to record shipped quantity", err)
		}
		t.Items[i].Shipped = &qty
	}

	if _, err := tx.Exec(ctx, `UPDATE stock_transfers SET status = $1, shipped_at = NOW() WHERE id = $2`, TransferInTransit, t.ID); err != nil {
		return nil, ErrInfra("failed to update transfer status", err)
	}
	t.Status = TransferInTransit

	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return t, nil
}

// Receive (InTransit -> Completed) increments destination stock and writes
// TransferIn entries using the received quantities, which may differ from
// shipped. Spec §4.6.
func (s *transferService) Receive(ctx context.Context, transferID string, received map[string]decimal.Decimal, actorID string) (*StockTransfer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTransferForUpdateTx(ctx, tx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Status != TransferInTransit {
		return nil, ErrInvalidStatusTransition(string(t.Status), string(TransferCompleted))
	}

	refID := t.ID
	for i := range t.Items {
		qty, ok := received[t.Items[i].ID]
		if !ok {
			continue
		}
		st, err := getOrCreateStockForTransferTx(ctx, tx, t.DestStoreID, t.Items[i].Target)
		if err != nil {
			return nil, err
		}
		if _, err := applyDeltaTx(ctx, tx, st.ID, qty, MovementTransferIn, nil, nil, "", ptr("stock_transfer"), &refID, actorID); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `UPDATE stock_transfer_items SET received_quantity = $1 WHERE id = $2`, qty, t.Items[i].ID); err != nil {
			return nil, ErrInfra("failed to record received quantity", err)
		}
		t.Items[i].Received = &qty
	}

	if _, err := tx.Exec(ctx, `UPDATE stock_transfers SET status = $1, completed_at = NOW() WHERE id = $2`, TransferCompleted, t.ID); err != nil {
		return nil, ErrInfra("failed to update transfer status", err)
	}
	t.Status = TransferCompleted

	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return t, nil
}

// getOrCreateStockForTransferTx resolves the destination stock record,
// initializing a zero-quantity record if the destination store has never
// held this product/variant before (a transfer is a valid way to introduce
// a new item to a store, unlike most other writers).
func getOrCreateStockForTransferTx(ctx context.Context, tx pgx.Tx, storeID string, target Target) (*Stock, error) {
	st, err := lockStockByTargetForUpdateTx(ctx, tx, storeID, target)
	if err == nil {
		return st, nil
	}
	var de *DomainError
	if !errors.As(err, &de) || de.Category != CategoryNotFound {
		return nil, err
	}
	newSt := &Stock{ID: newID(), StoreID: storeID, ProductID: target.ProductID, VariantID: target.VariantID, Version: 1}
	_, err = tx.Exec(ctx, `
		INSERT INTO stock_records (id, store_id, product_id, variant_id, quantity, reserved_quantity, version, min_stock_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, 1, 0, NOW(), NOW())
	`, newSt.ID, newSt.StoreID, newSt.ProductID, newSt.VariantID)
	if err != nil {
		return nil, ErrInfra("failed to initialize destination stock", err)
	}
	return lockStockForUpdateTx(ctx, tx, newSt.ID)
}

func (s *transferService) Get(ctx context.Context, transferID string) (*StockTransfer, error) {
	var t StockTransfer
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(transfer_number, ''), source_store_id, dest_store_id, status, created_at, shipped_at, completed_at
		FROM stock_transfers WHERE id = $1
	`, transferID).Scan(&t.ID, &t.TransferNumber, &t.SourceStoreID, &t.DestStoreID, &t.Status, &t.CreatedAt, &t.ShippedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("StockTransfer", transferID)
		}
		return nil, ErrInfra("failed to fetch transfer", err)
	}
	t.Items, err = fetchTransferItems(ctx, s.pool, t.ID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func lockTransferForUpdateTx(ctx context.Context, tx pgx.Tx, transferID string) (*StockTransfer, error) {
	var t StockTransfer
	err := tx.QueryRow(ctx, `
		SELECT id, COALESCE(transfer_number, ''), source_store_id, dest_store_id, status, created_at, shipped_at, completed_at
		FROM stock_transfers WHERE id = $1 FOR UPDATE
	`, transferID).Scan(&t.ID, &t.TransferNumber, &t.SourceStoreID, &t.DestStoreID, &t.Status, &t.CreatedAt, &t.ShippedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("StockTransfer", transferID)
		}
		return nil, ErrInfra("failed to lock transfer", err)
	}
	t.Items, err = fetchTransferItems(ctx, tx, t.ID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func fetchTransferItems(ctx context.Context, q pgxRowQuerier, transferID string) ([]TransferItem, error) {
	rows, err := q.Query(ctx, `SELECT id, product_id, variant_id, requested_quantity, shipped_quantity, received_quantity FROM stock_transfer_items WHERE transfer_id = $1`, transferID)
	if err != nil {
		return nil, ErrInfra("failed to query transfer items", err)
	}
	defer rows.Close()
	var out []TransferItem
	for rows.Next() {
		var it TransferItem
		if err := rows.Scan(&it.ID, &it.Target.ProductID, &it.Target.VariantID, &it.Requested, &it.Shipped, &it.Received); err != nil {
			return nil, ErrInfra("failed to scan transfer item", err)
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *transferService) transition(ctx context.Context, transferID string, from, to TransferStatus) (*StockTransfer, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE stock_transfers SET status = $1 WHERE id = $2 AND status = $3`, to, transferID, from)
	if err != nil {
		return nil, ErrInfra("failed to update transfer status", err)
	}
	if tag.RowsAffected() == 0 {
		t, getErr := s.Get(ctx, transferID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidStatusTransition(string(t.Status), string(to))
	}
	return s.Get(ctx, transferID)
}
