package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ReservationStatus is the sum type for a Reservation's lifecycle, spec §4.3.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "Pending"
	ReservationConfirmed ReservationStatus = "Confirmed"
	ReservationCancelled ReservationStatus = "Cancelled"
	ReservationExpired   ReservationStatus = "Expired"
)

// Reservation is a short-lived hold on stock backing a cart, order, or
// quote. Grounded on original_source's pg_reservation_repository.rs.
type Reservation struct {
	ID            string
	StockID       string
	ReferenceType string // "cart", "order", "quote", ...
	ReferenceID   string
	Quantity      decimal.Decimal
	Status        ReservationStatus
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExpireScanResult reports a batch-expiration pass, spec §4.3.
type ExpireScanResult struct {
	Scanned int
	Expired int
	Errors  []error
}

type ReservationService interface {
	Create(ctx context.Context, stockID, referenceType, referenceID string, quantity decimal.Decimal, expiresAt time.Time, actorID string) (*Reservation, error)
	Confirm(ctx context.Context, reservationID, actorID string) (*Reservation, error)
	Cancel(ctx context.Context, reservationID, actorID string) (*Reservation, error)
	Get(ctx context.Context, reservationID string) (*Reservation, error)
	ListByReference(ctx context.Context, referenceType, referenceID string) ([]Reservation, error)
	ExpireDue(ctx context.Context) (*ExpireScanResult, error)
}

type reservationService struct {
	pool *pgxpool.Pool
}

func NewReservationService(pool *pgxpool.Pool) ReservationService {
	return &reservationService{pool: pool}
}

func (s *reservationService) Create(ctx context.Context, stockID, referenceType, referenceID string, quantity decimal.Decimal, expiresAt time.Time, actorID string) (*Reservation, error) {
	if !expiresAt.After(time.Now()) {
		return nil, ErrReservationExpired()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := reserveQuantityTx(ctx, tx, stockID, quantity, referenceType, referenceID, actorID); err != nil {
		return nil, err
	}

	r := &Reservation{
		ID: newID(), StockID: stockID, ReferenceType: referenceType, ReferenceID: referenceID,
		Quantity: quantity, Status: ReservationPending, ExpiresAt: expiresAt,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO reservations (id, stock_id, reference_type, reference_id, quantity, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, r.ID, r.StockID, r.ReferenceType, r.ReferenceID, r.Quantity, r.Status, r.ExpiresAt)
	if err != nil {
		return nil, ErrInfra("failed to insert reservation", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return r, nil
}

// Confirm consumes a Pending reservation: writes a Release-typed kardex entry
// for the reserved amount then commits the stock (quantity -= Δ,
// reserved -= Δ), status -> Confirmed. Spec §4.3.
func (s *reservationService) Confirm(ctx context.Context, reservationID, actorID string) (*Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	r, err := lockReservationForUpdateTx(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.Status != ReservationPending {
		return nil, ErrInvalidReservationStatus()
	}
	if _, err := commitReservedQuantityTx(ctx, tx, r.StockID, r.Quantity, nil, "", r.ReferenceType, r.ReferenceID, actorID); err != nil {
		return nil, err
	}
	if err := setReservationStatusTx(ctx, tx, r, ReservationConfirmed); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return r, nil
}

func (s *reservationService) Cancel(ctx context.Context, reservationID, actorID string) (*Reservation, error) {
	return s.terminalTransition(ctx, reservationID, actorID, ReservationCancelled)
}

func (s *reservationService) terminalTransition(ctx context.Context, reservationID, actorID string, to ReservationStatus) (*Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	r, err := lockReservationForUpdateTx(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.Status != ReservationPending {
		return nil, ErrInvalidReservationStatus()
	}
	if err := releaseQuantityTx(ctx, tx, r.StockID, r.Quantity, r.ReferenceType, r.ReferenceID, actorID); err != nil {
		return nil, err
	}
	if err := setReservationStatusTx(ctx, tx, r, to); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return r, nil
}

func (s *reservationService) Get(ctx context.Context, reservationID string) (*Reservation, error) {
	return scanReservation(ctx, s.pool, `
		SELECT id, stock_id, reference_type, reference_id, quantity, status, expires_at, created_at, updated_at
		FROM reservations WHERE id = $1
	`, reservationID)
}

func (s *reservationService) ListByReference(ctx context.Context, referenceType, referenceID string) ([]Reservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, stock_id, reference_type, reference_id, quantity, status, expires_at, created_at, updated_at
		FROM reservations WHERE reference_type = $1 AND reference_id = $2
		ORDER BY created_at
	`, referenceType, referenceID)
	if err != nil {
		return nil, ErrInfra("failed to query reservations", err)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.StockID, &r.ReferenceType, &r.ReferenceID, &r.Quantity, &r.Status, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, ErrInfra("failed to scan reservation", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ExpireDue scans Pending reservations whose expires_at < now and expires
// each under its own transaction, per spec §5 (one unit of work per
// transaction so an abort loses at most one reservation).
func (s *reservationService) ExpireDue(ctx context.Context) (*ExpireScanResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM reservations WHERE status = $1 AND expires_at < NOW()`, ReservationPending)
	if err != nil {
		return nil, ErrInfra("failed to scan expired reservations", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, ErrInfra("failed to scan reservation id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	result := &ExpireScanResult{Scanned: len(ids)}
	for _, id := range ids {
		if _, err := s.terminalTransition(ctx, id, "system:reservation-expiry", ReservationExpired); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Expired++
	}
	return result, nil
}

func lockReservationForUpdateTx(ctx context.Context, tx pgx.Tx, reservationID string) (*Reservation, error) {
	var r Reservation
	err := tx.QueryRow(ctx, `
		SELECT id, stock_id, reference_type, reference_id, quantity, status, expires_at, created_at, updated_at
		FROM reservations WHERE id = $1 FOR UPDATE
	`, reservationID).Scan(&r.ID, &r.StockID, &r.ReferenceType, &r.ReferenceID, &r.Quantity, &r.Status, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Reservation", reservationID)
		}
		return nil, ErrInfra("failed to lock reservation", err)
	}
	return &r, nil
}

func setReservationStatusTx(ctx context.Context, tx pgx.Tx, r *Reservation, status ReservationStatus) error {
	tag, err := tx.Exec(ctx, `UPDATE reservations SET status = $1, updated_at = NOW() WHERE id = $2`, status, r.ID)
	if err != nil {
		return ErrInfra("failed to update reservation status", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound("Reservation", r.ID)
	}
	r.Status = status
	return nil
}

func scanReservation(ctx context.Context, q pgxQuerier, query string, args ...any) (*Reservation, error) {
	var r Reservation
	err := q.QueryRow(ctx, query, args...).Scan(&r.ID, &r.StockID, &r.ReferenceType, &r.ReferenceID, &r.Quantity, &r.Status, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Reservation", "")
		}
		return nil, ErrInfra("failed to fetch reservation", err)
	}
	return &r, nil
}
