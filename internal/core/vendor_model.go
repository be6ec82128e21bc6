package core

import (
	"context"
	"time"
)

// Vendor represents a supplier or service provider in the accounts payable system.
// Code and TaxID are unique across the whole deployment, not just within a company
// (spec's global vendor_code/vendor_tax_id constraints), since the same legal
// entity is never re-onboarded per company.
type Vendor struct {
	ID                        int
	CompanyID                 int
	Code                      string
	TaxID                     string
	Name                      string
	ContactPerson             *string
	Email                     *string
	Phone                     *string
	Address                   *string
	PaymentTermsDays          int
	APAccountCode             string
	DefaultExpenseAccountCode *string
	IsActive                  bool
	CreatedAt                 time.Time
}

// VendorInput holds the fields required to create a new vendor.
type VendorInput struct {
	Code                      string
	TaxID                     string
	Name                      string
	ContactPerson             string
	Email                     string
	Phone                     string
	Address                   string
	PaymentTermsDays          int
	APAccountCode             string
	DefaultExpenseAccountCode string
}

// VendorService provides vendor master data operations.
type VendorService interface {
	// CreateVendor creates a new vendor record for the given company.
	CreateVendor(ctx context.Context, companyID int, input VendorInput) (*Vendor, error)

	// GetVendors returns all active vendors for a company.
	GetVendors(ctx context.Context, companyID int) ([]Vendor, error)

	// GetVendorByCode returns a specific vendor by its code, which is unique
	// deployment-wide.
	GetVendorByCode(ctx context.Context, code string) (*Vendor, error)

	// GetVendorByTaxID returns a specific vendor by its tax identifier, which
	// is unique deployment-wide.
	GetVendorByTaxID(ctx context.Context, taxID string) (*Vendor, error)

	// SetActive activates or deactivates a vendor.
	SetActive(ctx context.Context, vendorID int, active bool) error
}
