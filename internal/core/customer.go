package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Customer is a sales customer master record, scoped to a company. Carts and
// sales may reference one, or none for an unauthenticated e-commerce cart.
type Customer struct {
	ID          string
	CompanyID   int
	Code        string
	Name        string
	Email       string
	Phone       string
	CreditLimit decimal.Decimal
	CreatedAt   time.Time
}

type CustomerService interface {
	Create(ctx context.Context, companyCode, code, name, email, phone string, creditLimit decimal.Decimal) (*Customer, error)
	Get(ctx context.Context, customerID string) (*Customer, error)
	GetByCode(ctx context.Context, companyCode, code string) (*Customer, error)
	List(ctx context.Context, companyCode string) ([]Customer, error)
}

type customerService struct {
	pool *pgxpool.Pool
}

func NewCustomerService(pool *pgxpool.Pool) CustomerService {
	return &customerService{pool: pool}
}

func (s *customerService) Create(ctx context.Context, companyCode, code, name, email, phone string, creditLimit decimal.Decimal) (*Customer, error) {
	companyID, err := resolveCompanyIDByCode(ctx, s.pool, companyCode)
	if err != nil {
		return nil, err
	}
	c := &Customer{ID: newID(), CompanyID: companyID, Code: code, Name: name, Email: email, Phone: phone, CreditLimit: creditLimit}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO customers (id, company_id, code, name, email, phone, credit_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, c.ID, c.CompanyID, c.Code, c.Name, c.Email, c.Phone, c.CreditLimit)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateCode("Customer", code)
		}
		return nil, ErrInfra("failed to insert customer", err)
	}
	return c, nil
}

func (s *customerService) Get(ctx context.Context, customerID string) (*Customer, error) {
	return scanCustomer(ctx, s.pool, `
		SELECT id, company_id, code, name, email, phone, credit_limit, created_at FROM customers WHERE id = $1
	`, customerID)
}

func (s *customerService) GetByCode(ctx context.Context, companyCode, code string) (*Customer, error) {
	companyID, err := resolveCompanyIDByCode(ctx, s.pool, companyCode)
	if err != nil {
		return nil, err
	}
	return scanCustomer(ctx, s.pool, `
		SELECT id, company_id, code, name, email, phone, credit_limit, created_at FROM customers WHERE company_id = $1 AND code = $2
	`, companyID, code)
}

func (s *customerService) List(ctx context.Context, companyCode string) ([]Customer, error) {
	companyID, err := resolveCompanyIDByCode(ctx, s.pool, companyCode)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT id, company_id, code, name, email, phone, credit_limit, created_at FROM customers WHERE company_id = $1 ORDER BY name`, companyID)
	if err != nil {
		return nil, ErrInfra("failed to query customers", err)
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.Code, &c.Name, &c.Email, &c.Phone, &c.CreditLimit, &c.CreatedAt); err != nil {
			return nil, ErrInfra("failed to scan customer", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func scanCustomer(ctx context.Context, q pgxQuerier, query string, args ...any) (*Customer, error) {
	var c Customer
	err := q.QueryRow(ctx, query, args...).Scan(&c.ID, &c.CompanyID, &c.Code, &c.Name, &c.Email, &c.Phone, &c.CreditLimit, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Customer", "")
		}
		return nil, ErrInfra("failed to fetch customer", err)
	}
	return &c, nil
}
