package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CaiRange is a fiscal invoice-authorization range for one terminal, spec
// §4.4. A terminal has zero or one *current* range plus history; history is
// never deleted, and assigning a new range only flips which one is current.
type CaiRange struct {
	ID             string
	TerminalID     string
	CaiNumber      string
	RangeStart     int64
	RangeEnd       int64
	CurrentNumber  int64
	ExpirationDate time.Time
	IsCurrent      bool
	CreatedAt      time.Time
}

func (c *CaiRange) IsExhausted() bool {
	return c.CurrentNumber > c.RangeEnd
}

func (c *CaiRange) ExpiringSoon(asOf time.Time) bool {
	return c.ExpirationDate.Before(asOf.AddDate(0, 0, 30))
}

type CaiService interface {
	AssignRange(ctx context.Context, terminalID, caiNumber string, rangeStart, rangeEnd int64, expirationDate time.Time) (*CaiRange, error)
	// NextInvoiceNumber is the single atomic read+increment operation spec
	// §4.4/§5 requires: a row-level lock, not optimistic retry, because a
	// sequence generator cannot safely retry on conflict.
	NextInvoiceNumber(ctx context.Context, terminalID string) (int64, *CaiRange, error)
	Current(ctx context.Context, terminalID string) (*CaiRange, error)
	History(ctx context.Context, terminalID string) ([]CaiRange, error)
}

type caiService struct {
	pool *pgxpool.Pool
}

func NewCaiService(pool *pgxpool.Pool) CaiService {
	return &caiService{pool: pool}
}

func (s *caiService) AssignRange(ctx context.Context, terminalID, caiNumber string, rangeStart, rangeEnd int64, expirationDate time.Time) (*CaiRange, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE cai_ranges SET is_current = false WHERE terminal_id = $1 AND is_current = true`, terminalID); err != nil {
		return nil, ErrInfra("failed to retire previous CAI range", err)
	}

	r := &CaiRange{
		ID: newID(), TerminalID: terminalID, CaiNumber: caiNumber,
		RangeStart: rangeStart, RangeEnd: rangeEnd, CurrentNumber: rangeStart,
		ExpirationDate: expirationDate, IsCurrent: true,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO cai_ranges (id, terminal_id, cai_number, range_start, range_end, current_number, expiration_date, is_current, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, NOW())
	`, r.ID, r.TerminalID, r.CaiNumber, r.RangeStart, r.RangeEnd, r.CurrentNumber, r.ExpirationDate)
	if err != nil {
		return nil, ErrInfra("failed to insert CAI range", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return r, nil
}

// NextInvoiceNumber locks the current CAI row, validates it, hands out
// current_number, and increments — the row is locked with SELECT ... FOR
// UPDATE and then incremented by an UPDATE in the same transaction, so
// concurrent callers can never receive the same number (spec §5).
func (s *caiService) NextInvoiceNumber(ctx context.Context, terminalID string) (int64, *CaiRange, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var r CaiRange
	err = tx.QueryRow(ctx, `
		SELECT id, terminal_id, cai_number, range_start, range_end, current_number, expiration_date, is_current, created_at
		FROM cai_ranges WHERE terminal_id = $1 AND is_current = true
		FOR UPDATE
	`, terminalID).Scan(&r.ID, &r.TerminalID, &r.CaiNumber, &r.RangeStart, &r.RangeEnd, &r.CurrentNumber, &r.ExpirationDate, &r.IsCurrent, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, ErrNoCaiAssigned()
		}
		return 0, nil, ErrInfra("failed to lock CAI range", err)
	}
	if time.Now().After(r.ExpirationDate) {
		return 0, nil, ErrCaiExpired()
	}
	if r.IsExhausted() {
		return 0, nil, ErrCaiRangeExhausted()
	}

	issued := r.CurrentNumber
	_, err = tx.Exec(ctx, `UPDATE cai_ranges SET current_number = current_number + 1 WHERE id = $1`, r.ID)
	if err != nil {
		return 0, nil, ErrInfra("failed to increment CAI range", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, nil, ErrInfra("failed to commit transaction", err)
	}
	r.CurrentNumber++
	return issued, &r, nil
}

func (s *caiService) Current(ctx context.Context, terminalID string) (*CaiRange, error) {
	var r CaiRange
	err := s.pool.QueryRow(ctx, `
		SELECT id, terminal_id, cai_number, range_start, range_end, current_number, expiration_date, is_current, created_at
		FROM cai_ranges WHERE terminal_id = $1 AND is_current = true
	`, terminalID).Scan(&r.ID, &r.TerminalID, &r.CaiNumber, &r.RangeStart, &r.RangeEnd, &r.CurrentNumber, &r.ExpirationDate, &r.IsCurrent, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoCaiAssigned()
		}
		return nil, ErrInfra("failed to fetch current CAI range", err)
	}
	return &r, nil
}

func (s *caiService) History(ctx context.Context, terminalID string) ([]CaiRange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, terminal_id, cai_number, range_start, range_end, current_number, expiration_date, is_current, created_at
		FROM cai_ranges WHERE terminal_id = $1 ORDER BY created_at DESC
	`, terminalID)
	if err != nil {
		return nil, ErrInfra("failed to query CAI history", err)
	}
	defer rows.Close()

	var out []CaiRange
	for rows.Next() {
		var r CaiRange
		if err := rows.Scan(&r.ID, &r.TerminalID, &r.CaiNumber, &r.RangeStart, &r.RangeEnd, &r.CurrentNumber, &r.ExpirationDate, &r.IsCurrent, &r.CreatedAt); err != nil {
			return nil, ErrInfra("failed to scan CAI range", err)
		}
		out = append(out, r)
	}
	return out, nil
}
