package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// MovementType enumerates the kardex entry kinds, spec §3.
type MovementType string

const (
	MovementIn           MovementType = "In"
	MovementOut          MovementType = "Out"
	MovementAdjustment   MovementType = "Adjustment"
	MovementTransferOut  MovementType = "TransferOut"
	MovementTransferIn   MovementType = "TransferIn"
	MovementReservation  MovementType = "Reservation"
	MovementRelease      MovementType = "Release"
)

// Movement is one append-only kardex entry. Entries are never edited or
// deleted; balance_after always equals the stock's quantity immediately
// after this entry was applied (spec §3, checked invariant per §4.2).
type Movement struct {
	ID            string
	StockID       string
	Type          MovementType
	Reason        *string
	Quantity      decimal.Decimal
	UnitCost      *decimal.Decimal
	Currency      string
	BalanceAfter  decimal.Decimal
	ReferenceType *string
	ReferenceID   *string
	ActorID       string
	CreatedAt     time.Time
}

// insertMovement appends one kardex row within tx. This is the only place
// stock_movements is written; every stock-writing path in the package goes
// through it (directly or via the applyDeltaTx/reserveQuantityTx family in
// stock.go), so "every write also appends to the kardex atomically" holds.
func insertMovement(ctx context.Context, tx pgx.Tx, m Movement) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_movements (id, stock_id, type, reason, quantity, unit_cost, currency, balance_after, reference_type, reference_id, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`, m.ID, m.StockID, m.Type, m.Reason, m.Quantity, m.UnitCost, m.Currency, m.BalanceAfter, m.ReferenceType, m.ReferenceID, m.ActorID)
	if err != nil {
		return ErrInfra("failed to insert kardex entry", err)
	}
	return nil
}
