package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Target is the tagged union "product XOR variant" spec §9 calls for on
// stock/recipe/transfer items. Exactly one of ProductID/VariantID is set;
// validate() reports ErrAmbiguousTarget when that does not hold.
type Target struct {
	ProductID *string
	VariantID *string
}

func NewProductTarget(productID string) Target { return Target{ProductID: &productID} }
func NewVariantTarget(variantID string) Target { return Target{VariantID: &variantID} }

func (t Target) validate() error {
	if (t.ProductID == nil) == (t.VariantID == nil) {
		return ErrAmbiguousTarget()
	}
	return nil
}

// Stock is the per-(store, product|variant) balance record, spec §3/§4.1.
type Stock struct {
	ID               string
	StoreID          string
	ProductID        *string
	VariantID        *string
	Quantity         decimal.Decimal
	ReservedQuantity decimal.Decimal
	Version          int
	MinStockLevel    decimal.Decimal
	MaxStockLevel    *decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (s *Stock) Available() decimal.Decimal {
	return s.Quantity.Sub(s.ReservedQuantity)
}

// StockService is the public contract for spec §4.1.
type StockService interface {
	Initialize(ctx context.Context, storeID string, target Target, minStock decimal.Decimal, maxStock *decimal.Decimal, initialQuantity decimal.Decimal, actorID string) (*Stock, error)
	Get(ctx context.Context, storeID string, target Target) (*Stock, error)
	GetByID(ctx context.Context, stockID string) (*Stock, error)
	ListLowStock(ctx context.Context, storeID string) ([]Stock, error)
	History(ctx context.Context, stockID string, before *time.Time, limit int) ([]Movement, error)
	Valuation(ctx context.Context, stockID string) (decimal.Decimal, decimal.Decimal, error) // qty, weighted-avg cost
}

type stockService struct {
	pool *pgxpool.Pool
}

func NewStockService(pool *pgxpool.Pool) StockService {
	return &stockService{pool: pool}
}

func (s *stockService) Initialize(ctx context.Context, storeID string, target Target, minStock decimal.Decimal, maxStock *decimal.Decimal, initialQuantity decimal.Decimal, actorID string) (*Stock, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var existing int
	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM stock_records
		WHERE store_id = $1
		  AND product_id IS NOT DISTINCT FROM $2
		  AND variant_id IS NOT DISTINCT FROM $3
	`, storeID, target.ProductID, target.VariantID).Scan(&existing)
	if err != nil {
		return nil, ErrInfra("failed to check existing stock", err)
	}
	if existing > 0 {
		return nil, ErrStockAlreadyExists()
	}

	st := &Stock{
		ID:               newID(),
		StoreID:          storeID,
		ProductID:        target.ProductID,
		VariantID:        target.VariantID,
		Quantity:         initialQuantity,
		ReservedQuantity: decimal.Zero,
		Version:          1,
		MinStockLevel:    minStock,
		MaxStockLevel:    maxStock,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO stock_records (id, store_id, product_id, variant_id, quantity, reserved_quantity, version, min_stock_level, max_stock_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 1, $6, $7, NOW(), NOW())
	`, st.ID, st.StoreID, st.ProductID, st.VariantID, st.Quantity, st.MinStockLevel, st.MaxStockLevel)
	if err != nil {
		return nil, ErrInfra("failed to insert stock record", err)
	}

	if initialQuantity.GreaterThan(decimal.Zero) {
		if err := insertMovement(ctx, tx, Movement{
			ID:           newID(),
			StockID:      st.ID,
			Type:         MovementIn,
			Quantity:     initialQuantity,
			BalanceAfter: initialQuantity,
			ActorID:      actorID,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return st, nil
}

func (s *stockService) Get(ctx context.Context, storeID string, target Target) (*Stock, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	return scanStock(ctx, s.pool, `
		SELECT id, store_id, product_id, variant_id, quantity, reserved_quantity, version, min_stock_level, max_stock_level, created_at, updated_at
		FROM stock_records
		WHERE store_id = $1 AND product_id IS NOT DISTINCT FROM $2 AND variant_id IS NOT DISTINCT FROM $3
	`, storeID, target.ProductID, target.VariantID)
}

func (s *stockService) GetByID(ctx context.Context, stockID string) (*Stock, error) {
	return scanStock(ctx, s.pool, `
		SELECT id, store_id, product_id, variant_id, quantity, reserved_quantity, version, min_stock_level, max_stock_level, created_at, updated_at
		FROM stock_records WHERE id = $1
	`, stockID)
}

func (s *stockService) ListLowStock(ctx context.Context, storeID string) ([]Stock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, store_id, product_id, variant_id, quantity, reserved_quantity, version, min_stock_level, max_stock_level, created_at, updated_at
		FROM stock_records
		WHERE store_id = $1 AND (quantity - reserved_quantity) <= min_stock_level
		ORDER BY updated_at DESC
	`, storeID)
	if err != nil {
		return nil, ErrInfra("failed to query low stock", err)
	}
	defer rows.Close()

	var out []Stock
	for rows.Next() {
		var st Stock
		if err := rows.Scan(&st.ID, &st.StoreID, &st.ProductID, &st.VariantID, &st.Quantity, &st.ReservedQuantity, &st.Version, &st.MinStockLevel, &st.MaxStockLevel, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, ErrInfra("failed to scan stock row", err)
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *stockService) History(ctx context.Context, stockID string, before *time.Time, limit int) ([]Movement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	cutoff := time.Now()
	if before != nil {
		cutoff = *before
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, stock_id, type, reason, quantity, unit_cost, currency, balance_after, reference_type, reference_id, actor_id, created_at
		FROM stock_movements
		WHERE stock_id = $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, stockID, cutoff, limit)
	if err != nil {
		return nil, ErrInfra("failed to query movements", err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.StockID, &m.Type, &m.Reason, &m.Quantity, &m.UnitCost, &m.Currency, &m.BalanceAfter, &m.ReferenceType, &m.ReferenceID, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, ErrInfra("failed to scan movement", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Valuation returns the current quantity and the weighted-average cost per
// spec §4.2: Σ(|qty_in| · unit_cost) / Σ|qty_in| over priced `In` movements.
func (s *stockService) Valuation(ctx context.Context, stockID string) (decimal.Decimal, decimal.Decimal, error) {
	st, err := s.GetByID(ctx, stockID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	var totalCostWeighted, totalQty decimal.Decimal
	rows, err := s.pool.Query(ctx, `
		SELECT quantity, unit_cost FROM stock_movements
		WHERE stock_id = $1 AND type = $2 AND unit_cost IS NOT NULL AND quantity > 0
	`, stockID, MovementIn)
	if err != nil {
		return decimal.Zero, decimal.Zero, ErrInfra("failed to query priced movements", err)
	}
	defer rows.Close()
	for rows.Next() {
		var qty, cost decimal.Decimal
		if err := rows.Scan(&qty, &cost); err != nil {
			return decimal.Zero, decimal.Zero, ErrInfra("failed to scan priced movement", err)
		}
		totalCostWeighted = totalCostWeighted.Add(qty.Mul(cost))
		totalQty = totalQty.Add(qty)
	}
	if totalQty.IsZero() {
		return st.Quantity, decimal.Zero, nil
	}
	return st.Quantity, totalCostWeighted.DivRound(totalQty, 8), nil
}

func scanStock(ctx context.Context, q pgxQuerier, query string, args ...any) (*Stock, error) {
	var st Stock
	err := q.QueryRow(ctx, query, args...).Scan(&st.ID, &st.StoreID, &st.ProductID, &st.VariantID, &st.Quantity, &st.ReservedQuantity, &st.Version, &st.MinStockLevel, &st.MaxStockLevel, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Stock", "")
		}
		return nil, ErrInfra("failed to fetch stock", err)
	}
	return &st, nil
}

// ── tx-scoped primitives shared by every stock-writing workflow ──────────────
// Grounded on original_source's pg_inventory_stock_repository.rs
// `update_with_version` (optimistic UPDATE ... WHERE version = $n) combined
// with the teacher's SELECT ... FOR UPDATE row-lock idiom from
// inventory_service.go for paths that need a hard lock instead of a retry.

// lockStockForUpdateTx row-locks a stock record within tx. Used by writers
// that need certainty of success within one transaction (goods receipt,
// sale complete, credit note apply, adjustment apply, transfer ship/receive)
// rather than the bounded optimistic-retry loop a standalone caller would use.
func lockStockForUpdateTx(ctx context.Context, tx pgx.Tx, stockID string) (*Stock, error) {
	var st Stock
	err := tx.QueryRow(ctx, `
		SELECT id, store_id, product_id, variant_id, quantity, reserved_quantity, version, min_stock_level, max_stock_level, created_at, updated_at
		FROM stock_records WHERE id = $1 FOR UPDATE
	`, stockID).Scan(&st.ID, &st.StoreID, &st.ProductID, &st.VariantID, &st.Quantity, &st.ReservedQuantity, &st.Version, &st.MinStockLevel, &st.MaxStockLevel, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Stock", stockID)
		}
		return nil, ErrInfra("failed to lock stock record", err)
	}
	return &st, nil
}

// lockStockByTargetForUpdateTx is the same lock, resolved by (store, target)
// rather than by stock id — used by writers that only know the product/variant.
func lockStockByTargetForUpdateTx(ctx context.Context, tx pgx.Tx, storeID string, target Target) (*Stock, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	var st Stock
	err := tx.QueryRow(ctx, `
		SELECT id, store_id, product_id, variant_id, quantity, reserved_quantity, version, min_stock_level, max_stock_level, created_at, updated_at
		FROM stock_records
		WHERE store_id = $1 AND product_id IS NOT DISTINCT FROM $2 AND variant_id IS NOT DISTINCT FROM $3
		FOR UPDATE
	`, storeID, target.ProductID, target.VariantID).Scan(&st.ID, &st.StoreID, &st.ProductID, &st.VariantID, &st.Quantity, &st.ReservedQuantity, &st.Version, &st.MinStockLevel, &st.MaxStockLevel, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Stock", "")
		}
		return nil, ErrInfra("failed to lock stock record", err)
	}
	return &st, nil
}

// persistStockTx writes st back with an optimistic version check. Callers
// that already hold the row lock (via lockStockForUpdateTx in the same tx)
// cannot lose the race, but the version check is kept as the single source
// of truth per spec §4.1 — a mismatch is still a programmer error worth
// surfacing rather than silently trusting the lock.
func persistStockTx(ctx context.Context, tx pgx.Tx, st *Stock) error {
	if st.Quantity.IsNegative() {
		return ErrInvalidQuantity("quantity must be >= 0")
	}
	if st.ReservedQuantity.IsNegative() || st.ReservedQuantity.GreaterThan(st.Quantity) {
		return ErrInvalidQuantity("reserved_quantity must be in [0, quantity]")
	}
	tag, err := tx.Exec(ctx, `
		UPDATE stock_records
		SET quantity = $1, reserved_quantity = $2, version = $3, min_stock_level = $4, max_stock_level = $5, updated_at = NOW()
		WHERE id = $6 AND version = $7
	`, st.Quantity, st.ReservedQuantity, st.Version+1, st.MinStockLevel, st.MaxStockLevel, st.ID, st.Version)
	if err != nil {
		return ErrInfra("failed to update stock record", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOptimisticLock()
	}
	st.Version++
	return nil
}

// applyDeltaTx re-reads (lock), mutates quantity by delta and persists, all
// within the caller's transaction, then writes the matching kardex entry.
// This is the one function every higher workflow (adjustment apply, transfer
// ship/receive, goods receipt confirm, sale complete, credit note apply)
// funnels its stock write through, so "every write also appends to the
// kardex atomically" (spec §2) is enforced in one place.
func applyDeltaTx(ctx context.Context, tx pgx.Tx, stockID string, delta decimal.Decimal, mType MovementType, reason *string, unitCost *decimal.Decimal, currency string, refType, refID *string, actorID string) (*Stock, error) {
	st, err := lockStockForUpdateTx(ctx, tx, stockID)
	if err != nil {
		return nil, err
	}
	st.Quantity = st.Quantity.Add(delta)
	if st.Quantity.IsNegative() {
		return nil, ErrInsufficientStock()
	}
	if err := persistStockTx(ctx, tx, st); err != nil {
		return nil, err
	}
	if err := insertMovement(ctx, tx, Movement{
		ID:            newID(),
		StockID:       stockID,
		Type:          mType,
		Reason:        reason,
		Quantity:      delta,
		UnitCost:      unitCost,
		Currency:      currency,
		BalanceAfter:  st.Quantity,
		ReferenceType: refType,
		ReferenceID:   refID,
		ActorID:       actorID,
	}); err != nil {
		return nil, err
	}
	return st, nil
}

// reserveQuantityTx implements spec §4.1 `reserve(Δ)`: available >= Δ
// required; increases reserved_quantity without touching quantity.
func reserveQuantityTx(ctx context.Context, tx pgx.Tx, stockID string, qty decimal.Decimal, refType, refID, actorID string) error {
	st, err := lockStockForUpdateTx(ctx, tx, stockID)
	if err != nil {
		return err
	}
	if st.Available().LessThan(qty) {
		return ErrInsufficientStock()
	}
	st.ReservedQuantity = st.ReservedQuantity.Add(qty)
	if err := persistStockTx(ctx, tx, st); err != nil {
		return err
	}
	rt, ri := refType, refID
	return insertMovement(ctx, tx, Movement{
		ID: newID(), StockID: stockID, Type: MovementReservation, Quantity: qty,
		BalanceAfter: st.Quantity, ReferenceType: &rt, ReferenceID: &ri, ActorID: actorID,
	})
}

// releaseQuantityTx implements spec §4.1 `release(Δ)`: reserved_quantity >= Δ
// required; decreases reserved_quantity only.
func releaseQuantityTx(ctx context.Context, tx pgx.Tx, stockID string, qty decimal.Decimal, refType, refID, actorID string) error {
	st, err := lockStockForUpdateTx(ctx, tx, stockID)
	if err != nil {
		return err
	}
	if st.ReservedQuantity.LessThan(qty) {
		return fmt.Errorf("%w", ErrInvalidQuantity("cannot release more than is reserved"))
	}
	st.ReservedQuantity = st.ReservedQuantity.Sub(qty)
	if err := persistStockTx(ctx, tx, st); err != nil {
		return err
	}
	rt, ri := refType, refID
	return insertMovement(ctx, tx, Movement{
		ID: newID(), StockID: stockID, Type: MovementRelease, Quantity: qty.Neg(),
		BalanceAfter: st.Quantity, ReferenceType: &rt, ReferenceID: &ri, ActorID: actorID,
	})
}

// commitReservedQuantityTx implements spec §4.1 `commit_reserved(Δ)`:
// atomically quantity -= Δ and reserved_quantity -= Δ, used when a
// reservation is consumed by a completed sale. Writes the Release kardex
// entry for the freed reservation and an Out entry for the quantity leaving.
func commitReservedQuantityTx(ctx context.Context, tx pgx.Tx, stockID string, qty decimal.Decimal, unitCost *decimal.Decimal, currency string, refType, refID, actorID string) (*Stock, error) {
	st, err := lockStockForUpdateTx(ctx, tx, stockID)
	if err != nil {
		return nil, err
	}
	if st.ReservedQuantity.LessThan(qty) || st.Quantity.LessThan(qty) {
		return nil, ErrInsufficientStock()
	}
	st.Quantity = st.Quantity.Sub(qty)
	st.ReservedQuantity = st.ReservedQuantity.Sub(qty)
	if err := persistStockTx(ctx, tx, st); err != nil {
		return nil, err
	}
	rt, ri := refType, refID
	if err := insertMovement(ctx, tx, Movement{
		ID: newID(), StockID: stockID, Type: MovementRelease, Quantity: qty.Neg(),
		BalanceAfter: st.Quantity.Add(qty), ReferenceType: &rt, ReferenceID: &ri, ActorID: actorID,
	}); err != nil {
		return nil, err
	}
	if err := insertMovement(ctx, tx, Movement{
		ID: newID(), StockID: stockID, Type: MovementOut, Quantity: qty.Neg(), UnitCost: unitCost, Currency: currency,
		BalanceAfter: st.Quantity, ReferenceType: &rt, ReferenceID: &ri, ActorID: actorID,
	}); err != nil {
		return nil, err
	}
	return st, nil
}
