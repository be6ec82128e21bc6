package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a tenant-scoped physical or virtual selling location — the
// `store_id` spec §3/§6 refers to throughout. It is owned by a company (the
// teacher's existing billing/GL entity), so GL postings can resolve a
// company_id from a store_id via resolveCompanyIDForStore below.
type Store struct {
	ID        string
	CompanyID int
	Code      string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// Terminal belongs to a store and owns zero-or-one current CAI range plus a
// cashier shift lifecycle (spec §4.4/§4.8).
type Terminal struct {
	ID        string
	StoreID   string
	Code      string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

type StoreService interface {
	CreateStore(ctx context.Context, companyCode, code, name string) (*Store, error)
	GetStore(ctx context.Context, storeID string) (*Store, error)
	GetStoreByCode(ctx context.Context, companyCode, code string) (*Store, error)
	ListStores(ctx context.Context, companyCode string) ([]Store, error)
	CreateTerminal(ctx context.Context, storeID, code, name string) (*Terminal, error)
	GetTerminal(ctx context.Context, terminalID string) (*Terminal, error)
	ListTerminals(ctx context.Context, storeID string) ([]Terminal, error)
}

type storeService struct {
	pool *pgxpool.Pool
}

func NewStoreService(pool *pgxpool.Pool) StoreService {
	return &storeService{pool: pool}
}

func (s *storeService) CreateStore(ctx context.Context, companyCode, code, name string) (*Store, error) {
	companyID, err := resolveCompanyIDByCode(ctx, s.pool, companyCode)
	if err != nil {
		return nil, err
	}
	st := &Store{ID: newID(), CompanyID: companyID, Code: code, Name: name, IsActive: true}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO stores (id, company_id, code, name, is_active, created_at)
		VALUES ($1, $2, $3, $4, true, NOW())
	`, st.ID, st.CompanyID, st.Code, st.Name)
	if err != nil {
		return nil, ErrInfra("failed to insert store", err)
	}
	return st, nil
}

func (s *storeService) GetStore(ctx context.Context, storeID string) (*Store, error) {
	return scanStoreRow(ctx, s.pool, `SELECT id, company_id, code, name, is_active, created_at FROM stores WHERE id = $1`, storeID)
}

func (s *storeService) GetStoreByCode(ctx context.Context, companyCode, code string) (*Store, error) {
	return scanStoreRow(ctx, s.pool, `
		SELECT s.id, s.company_id, s.code, s.name, s.is_active, s.created_at
		FROM stores s JOIN companies c ON c.id = s.company_id
		WHERE c.company_code = $1 AND s.code = $2
	`, companyCode, code)
}

func (s *storeService) ListStores(ctx context.Context, companyCode string) ([]Store, error) {
	companyID, err := resolveCompanyIDByCode(ctx, s.pool, companyCode)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT id, company_id, code, name, is_active, created_at FROM stores WHERE company_id = $1 ORDER BY code`, companyID)
	if err != nil {
		return nil, ErrInfra("failed to query stores", err)
	}
	defer rows.Close()
	var out []Store
	for rows.Next() {
		var st Store
		if err := rows.Scan(&st.ID, &st.CompanyID, &st.Code, &st.Name, &st.IsActive, &st.CreatedAt); err != nil {
			return nil, ErrInfra("failed to scan store", err)
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *storeService) CreateTerminal(ctx context.Context, storeID, code, name string) (*Terminal, error) {
	t := &Terminal{ID: newID(), StoreID: storeID, Code: code, Name: name, IsActive: true}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO terminals (id, store_id, code, name, is_active, created_at)
		VALUES ($1, $2, $3, $4, true, NOW())
	`, t.ID, t.StoreID, t.Code, t.Name)
	if err != nil {
		return nil, ErrInfra("failed to insert terminal", err)
	}
	return t, nil
}

func (s *storeService) GetTerminal(ctx context.Context, terminalID string) (*Terminal, error) {
	var t Terminal
	err := s.pool.QueryRow(ctx, `SELECT id, store_id, code, name, is_active, created_at FROM terminals WHERE id = $1`, terminalID).
		Scan(&t.ID, &t.StoreID, &t.Code, &t.Name, &t.IsActive, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Terminal", terminalID)
		}
		return nil, ErrInfra("failed to fetch terminal", err)
	}
	return &t, nil
}

func (s *storeService) ListTerminals(ctx context.Context, storeID string) ([]Terminal, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, store_id, code, name, is_active, created_at FROM terminals WHERE store_id = $1 ORDER BY code`, storeID)
	if err != nil {
		return nil, ErrInfra("failed to query terminals", err)
	}
	defer rows.Close()
	var out []Terminal
	for rows.Next() {
		var t Terminal
		if err := rows.Scan(&t.ID, &t.StoreID, &t.Code, &t.Name, &t.IsActive, &t.CreatedAt); err != nil {
			return nil, ErrInfra("failed to scan terminal", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func scanStoreRow(ctx context.Context, q pgxQuerier, query string, args ...any) (*Store, error) {
	var st Store
	err := q.QueryRow(ctx, query, args...).Scan(&st.ID, &st.CompanyID, &st.Code, &st.Name, &st.IsActive, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Store", "")
		}
		return nil, ErrInfra("failed to fetch store", err)
	}
	return &st, nil
}

func resolveCompanyIDByCode(ctx context.Context, q pgxQuerier, companyCode string) (int, error) {
	var id int
	err := q.QueryRow(ctx, `SELECT id FROM companies WHERE company_code = $1`, companyCode).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound("Company", companyCode)
		}
		return 0, ErrInfra("failed to resolve company", err)
	}
	return id, nil
}

// resolveCompanyIDForStore resolves the owning company of a store, so a
// workflow holding only a store_id can still post through Ledger/
// DocumentService/RuleEngine, which are keyed by company_id.
func resolveCompanyIDForStore(ctx context.Context, q pgxQuerier, storeID string) (int, error) {
	var id int
	err := q.QueryRow(ctx, `SELECT company_id FROM stores WHERE id = $1`, storeID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound("Store", storeID)
		}
		return 0, ErrInfra("failed to resolve store's company", err)
	}
	return id, nil
}

func resolveCompanyCodeForStore(ctx context.Context, q pgxQuerier, storeID string) (string, error) {
	var code string
	err := q.QueryRow(ctx, `SELECT c.company_code FROM stores s JOIN companies c ON c.id = s.company_id WHERE s.id = $1`, storeID).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound("Store", storeID)
		}
		return "", ErrInfra("failed to resolve store's company code", err)
	}
	return code, nil
}
