package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type vendorService struct {
	pool *pgxpool.Pool
}

// NewVendorService constructs a VendorService backed by PostgreSQL.
func NewVendorService(pool *pgxpool.Pool) VendorService {
	return &vendorService{pool: pool}
}

var vendorColumns = `id, company_id, code, tax_id, name, contact_person, email, phone, address,
	          payment_terms_days, ap_account_code, default_expense_account_code, is_active, created_at`

func scanVendor(row interface {
	Scan(dest ...any) error
}, v *Vendor) error {
	return row.Scan(
		&v.ID, &v.CompanyID, &v.Code, &v.TaxID, &v.Name,
		&v.ContactPerson, &v.Email, &v.Phone, &v.Address,
		&v.PaymentTermsDays, &v.APAccountCode, &v.DefaultExpenseAccountCode,
		&v.IsActive, &v.CreatedAt,
	)
}

// CreateVendor inserts a new vendor record for the given company. Code and
// TaxID must be unique across the whole deployment.
func (s *vendorService) CreateVendor(ctx context.Context, companyID int, input VendorInput) (*Vendor, error) {
	apAccountCode := input.APAccountCode
	if apAccountCode == "" {
		apAccountCode = "2000"
	}
	paymentTerms := input.PaymentTermsDays
	if paymentTerms == 0 {
		paymentTerms = 30
	}

	var expenseCode *string
	if input.DefaultExpenseAccountCode != "" {
		expenseCode = &input.DefaultExpenseAccountCode
	}

	toPtr := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}

	v := &Vendor{}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO vendors (company_id, code, tax_id, name, contact_person, email, phone, address,
		                     payment_terms_days, ap_account_code, default_expense_account_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+vendorColumns,
		companyID, input.Code, input.TaxID, input.Name, toPtr(input.ContactPerson), toPtr(input.Email),
		toPtr(input.Phone), toPtr(input.Address), paymentTerms, apAccountCode, expenseCode,
	)
	if err := scanVendor(row, v); err != nil {
		return nil, fmt.Errorf("create vendor %q: %w", input.Code, err)
	}
	return v, nil
}

// GetVendors returns all active vendors for a company, ordered by code.
func (s *vendorService) GetVendors(ctx context.Context, companyID int) ([]Vendor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+vendorColumns+`
		FROM vendors
		WHERE company_id = $1 AND is_active = true
		ORDER BY code`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("get vendors: %w", err)
	}
	defer rows.Close()

	var vendors []Vendor
	for rows.Next() {
		var v Vendor
		if err := scanVendor(rows, &v); err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		vendors = append(vendors, v)
	}
	return vendors, nil
}

// GetVendorByCode returns a vendor by code. Vendor codes are unique across
// the whole deployment.
func (s *vendorService) GetVendorByCode(ctx context.Context, code string) (*Vendor, error) {
	v := &Vendor{}
	row := s.pool.QueryRow(ctx, `
		SELECT `+vendorColumns+`
		FROM vendors
		WHERE code = $1`,
		code,
	)
	if err := scanVendor(row, v); err != nil {
		return nil, fmt.Errorf("vendor %q not found: %w", code, err)
	}
	return v, nil
}

// GetVendorByTaxID returns a vendor by tax identifier. Tax IDs are unique
// across the whole deployment.
func (s *vendorService) GetVendorByTaxID(ctx context.Context, taxID string) (*Vendor, error) {
	v := &Vendor{}
	row := s.pool.QueryRow(ctx, `
		SELECT `+vendorColumns+`
		FROM vendors
		WHERE tax_id = $1`,
		taxID,
	)
	if err := scanVendor(row, v); err != nil {
		return nil, fmt.Errorf("vendor with tax id %q not found: %w", taxID, err)
	}
	return v, nil
}

// SetActive toggles a vendor's active flag, backing the activate/deactivate
// routes.
func (s *vendorService) SetActive(ctx context.Context, vendorID int, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE vendors SET is_active = $2 WHERE id = $1`, vendorID, active)
	if err != nil {
		return fmt.Errorf("set vendor %d active=%v: %w", vendorID, active, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("vendor %d not found", vendorID)
	}
	return nil
}
