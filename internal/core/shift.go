package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type ShiftStatus string

const (
	ShiftOpen   ShiftStatus = "Open"
	ShiftClosed ShiftStatus = "Closed"
)

// CashierShift is the cash-drawer lifecycle aggregating POS sales, spec
// §4.8. Exactly one Open shift may exist per (terminal, cashier) pair.
type CashierShift struct {
	ID              string
	TerminalID      string
	CashierID       string
	Status          ShiftStatus
	OpeningBalance  decimal.Decimal
	ExpectedBalance decimal.Decimal
	ClosingBalance  *decimal.Decimal
	CashDifference  *decimal.Decimal
	CashSales       decimal.Decimal
	CardSales       decimal.Decimal
	OtherSales      decimal.Decimal
	TransactionCount int
	OpenedAt        time.Time
	ClosedAt        *time.Time
}

type ShiftService interface {
	Open(ctx context.Context, terminalID, cashierID string, openingBalance decimal.Decimal) (*CashierShift, error)
	// CreditSale increments exactly one of cash/card/other sales by amount
	// plus transaction_count; cash sales also raise expected_balance. Called
	// by SaleService.Complete within the sale's own transaction.
	CreditSale(ctx context.Context, tx pgx.Tx, shiftID string, method PaymentMethod, amount decimal.Decimal) error
	// CreditRefund lowers expected_balance for a cash refund processed
	// against a sale tied to this shift. Called by CreditNoteService.Apply.
	CreditRefund(ctx context.Context, tx pgx.Tx, shiftID string, method PaymentMethod, amount decimal.Decimal) error
	CashIn(ctx context.Context, shiftID string, amount decimal.Decimal) (*CashierShift, error)
	CashOut(ctx context.Context, shiftID string, amount decimal.Decimal) (*CashierShift, error)
	Close(ctx context.Context, shiftID string, closingBalance decimal.Decimal) (*CashierShift, error)
	Get(ctx context.Context, shiftID string) (*CashierShift, error)
	GetOpenForTerminal(ctx context.Context, terminalID string) (*CashierShift, error)
}

type shiftService struct {
	pool *pgxpool.Pool
}

func NewShiftService(pool *pgxpool.Pool) ShiftService {
	return &shiftService{pool: pool}
}

func (s *shiftService) Open(ctx context.Context, terminalID, cashierID string, openingBalance decimal.Decimal) (*CashierShift, error) {
	if openingBalance.IsNegative() {
		return nil, ErrInvalidQuantity("opening_balance must be >= 0")
	}
	var existing int
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM cashier_shifts WHERE terminal_id = $1 AND cashier_id = $2 AND status = $3
	`, terminalID, cashierID, ShiftOpen).Scan(&existing); err != nil {
		return nil, ErrInfra("failed to check for open shift", err)
	}
	if existing > 0 {
		return nil, ErrTerminalHasOpenShift()
	}

	sh := &CashierShift{
		ID: newID(), TerminalID: terminalID, CashierID: cashierID, Status: ShiftOpen,
		OpeningBalance: openingBalance, ExpectedBalance: openingBalance,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cashier_shifts (id, terminal_id, cashier_id, status, opening_balance, expected_balance, cash_sales, card_sales, other_sales, transaction_count, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, 0, NOW())
	`, sh.ID, sh.TerminalID, sh.CashierID, sh.Status, sh.OpeningBalance, sh.ExpectedBalance)
	if err != nil {
		return nil, ErrInfra("failed to insert cashier shift", err)
	}
	return sh, nil
}

func (s *shiftService) CreditSale(ctx context.Context, tx pgx.Tx, shiftID string, method PaymentMethod, amount decimal.Decimal) error {
	column := salesColumnFor(method)
	query := `UPDATE cashier_shifts SET ` + column + ` = ` + column + ` + $1, transaction_count = transaction_count + 1 WHERE id = $2 AND status = $3`
	if method == PaymentCash {
		query = `UPDATE cashier_shifts SET ` + column + ` = ` + column + ` + $1, transaction_count = transaction_count + 1, expected_balance = expected_balance + $1 WHERE id = $2 AND status = $3`
	}
	tag, err := tx.Exec(ctx, query, amount, shiftID, ShiftOpen)
	if err != nil {
		return ErrInfra("failed to credit shift", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidStatus("shift is not open")
	}
	return nil
}

func (s *shiftService) CreditRefund(ctx context.Context, tx pgx.Tx, shiftID string, method PaymentMethod, amount decimal.Decimal) error {
	if method != PaymentCash {
		return nil
	}
	tag, err := tx.Exec(ctx, `UPDATE cashier_shifts SET expected_balance = expected_balance - $1 WHERE id = $2 AND status = $3`, amount, shiftID, ShiftOpen)
	if err != nil {
		return ErrInfra("failed to debit shift for refund", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidStatus("shift is not open")
	}
	return nil
}

func salesColumnFor(method PaymentMethod) string {
	switch method {
	case PaymentCash:
		return "cash_sales"
	case PaymentCard:
		return "card_sales"
	default:
		return "other_sales"
	}
}

func (s *shiftService) CashIn(ctx context.Context, shiftID string, amount decimal.Decimal) (*CashierShift, error) {
	return s.adjustExpected(ctx, shiftID, amount)
}

func (s *shiftService) CashOut(ctx context.Context, shiftID string, amount decimal.Decimal) (*CashierShift, error) {
	return s.adjustExpected(ctx, shiftID, amount.Neg())
}

func (s *shiftService) adjustExpected(ctx context.Context, shiftID string, delta decimal.Decimal) (*CashierShift, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE cashier_shifts SET expected_balance = expected_balance + $1 WHERE id = $2 AND status = $3`, delta, shiftID, ShiftOpen)
	if err != nil {
		return nil, ErrInfra("failed to adjust shift balance", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrInvalidStatus("shift is not open")
	}
	return s.Get(ctx, shiftID)
}

func (s *shiftService) Close(ctx context.Context, shiftID string, closingBalance decimal.Decimal) (*CashierShift, error) {
	sh, err := s.Get(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if sh.Status != ShiftOpen {
		return nil, ErrInvalidStatusTransition(string(sh.Status), string(ShiftClosed))
	}
	diff := closingBalance.Sub(sh.ExpectedBalance)
	_, err = s.pool.Exec(ctx, `
		UPDATE cashier_shifts SET status = $1, closing_balance = $2, cash_difference = $3, closed_at = NOW() WHERE id = $4
	`, ShiftClosed, closingBalance, diff, shiftID)
	if err != nil {
		return nil, ErrInfra("failed to close shift", err)
	}
	return s.Get(ctx, shiftID)
}

func (s *shiftService) Get(ctx context.Context, shiftID string) (*CashierShift, error) {
	return scanShift(ctx, s.pool, `
		SELECT id, terminal_id, cashier_id, status, opening_balance, expected_balance, closing_balance, cash_difference, cash_sales, card_sales, other_sales, transaction_count, opened_at, closed_at
		FROM cashier_shifts WHERE id = $1
	`, shiftID)
}

func (s *shiftService) GetOpenForTerminal(ctx context.Context, terminalID string) (*CashierShift, error) {
	return scanShift(ctx, s.pool, `
		SELECT id, terminal_id, cashier_id, status, opening_balance, expected_balance, closing_balance, cash_difference, cash_sales, card_sales, other_sales, transaction_count, opened_at, closed_at
		FROM cashier_shifts WHERE terminal_id = $1 AND status = $2
	`, terminalID, ShiftOpen)
}

func scanShift(ctx context.Context, q pgxQuerier, query string, args ...any) (*CashierShift, error) {
	var sh CashierShift
	err := q.QueryRow(ctx, query, args...).Scan(&sh.ID, &sh.TerminalID, &sh.CashierID, &sh.Status, &sh.OpeningBalance, &sh.ExpectedBalance, &sh.ClosingBalance, &sh.CashDifference, &sh.CashSales, &sh.CardSales, &sh.OtherSales, &sh.TransactionCount, &sh.OpenedAt, &sh.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("CashierShift", "")
		}
		return nil, ErrInfra("failed to fetch shift", err)
	}
	return &sh, nil
}
