package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Category is store-scoped CRUD, explicitly out of core scope per spec §1
// but still a foreign key product rows reference.
type Category struct {
	ID       string
	StoreID  string
	Slug     string
	Name     string
	ParentID *string
}

// Product is the sellable catalog entry. VariantsEnabled gates whether
// ProductVariant rows may be created under it, per original_source's
// VariantsNotEnabled error.
type Product struct {
	ID                 string
	StoreID            string
	CategoryID         *string
	Sku                string
	Barcode            *string
	Name               string
	Description        string
	UnitPrice          decimal.Decimal
	Unit               string
	RevenueAccountCode string
	VariantsEnabled    bool
	CreatedAt          time.Time
}

// ProductVariant is a priced sub-item of a variants-enabled product (e.g.
// size/color); it gets its own stock record via Target.VariantID.
type ProductVariant struct {
	ID        string
	ProductID string
	Sku       string
	Name      string
	UnitPrice decimal.Decimal
	CreatedAt time.Time
}

type ProductService interface {
	CreateCategory(ctx context.Context, storeID, slug, name string, parentID *string) (*Category, error)
	CreateProduct(ctx context.Context, storeID string, categoryID *string, sku, barcode, name, description string, unitPrice decimal.Decimal, unit, revenueAccountCode string, variantsEnabled bool) (*Product, error)
	GetProduct(ctx context.Context, productID string) (*Product, error)
	GetProductBySku(ctx context.Context, storeID, sku string) (*Product, error)
	ListProducts(ctx context.Context, storeID string) ([]Product, error)
	CreateVariant(ctx context.Context, productID, sku, name string, unitPrice decimal.Decimal) (*ProductVariant, error)
	ListVariants(ctx context.Context, productID string) ([]ProductVariant, error)
}

type productService struct {
	pool *pgxpool.Pool
}

func NewProductService(pool *pgxpool.Pool) ProductService {
	return &productService{pool: pool}
}

func (s *productService) CreateCategory(ctx context.Context, storeID, slug, name string, parentID *string) (*Category, error) {
	if parentID != nil {
		var count int
		if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM categories WHERE id = $1`, *parentID).Scan(&count); err != nil {
			return nil, ErrInfra("failed to check parent category", err)
		}
		if count == 0 {
			return nil, ErrNotFound("ParentCategory", *parentID)
		}
	}
	c := &Category{ID: newID(), StoreID: storeID, Slug: slug, Name: name, ParentID: parentID}
	_, err := s.pool.Exec(ctx, `INSERT INTO categories (id, store_id, slug, name, parent_id) VALUES ($1, $2, $3, $4, $5)`, c.ID, c.StoreID, c.Slug, c.Name, c.ParentID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, newErr("DuplicateCategorySlug", CategoryConflict, "category slug already exists")
		}
		return nil, ErrInfra("failed to insert category", err)
	}
	return c, nil
}

func (s *productService) CreateProduct(ctx context.Context, storeID string, categoryID *string, sku, barcode, name, description string, unitPrice decimal.Decimal, unit, revenueAccountCode string, variantsEnabled bool) (*Product, error) {
	if unitPrice.IsNegative() {
		return nil, ErrInvalidPrice("unit_price must be >= 0")
	}
	p := &Product{
		ID: newID(), StoreID: storeID, CategoryID: categoryID, Sku: sku, Name: name,
		Description: description, UnitPrice: unitPrice, Unit: unit,
		RevenueAccountCode: revenueAccountCode, VariantsEnabled: variantsEnabled,
	}
	var barcodePtr *string
	if barcode != "" {
		barcodePtr = &barcode
	}
	p.Barcode = barcodePtr
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (id, store_id, category_id, sku, barcode, name, description, unit_price, unit, revenue_account_code, variants_enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`, p.ID, p.StoreID, p.CategoryID, p.Sku, p.Barcode, p.Name, p.Description, p.UnitPrice, p.Unit, p.RevenueAccountCode, p.VariantsEnabled)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateSku(sku)
		}
		return nil, ErrInfra("failed to insert product", err)
	}
	return p, nil
}

func (s *productService) GetProduct(ctx context.Context, productID string) (*Product, error) {
	return scanProduct(ctx, s.pool, `
		SELECT id, store_id, category_id, sku, barcode, name, description, unit_price, unit, revenue_account_code, variants_enabled, created_at
		FROM products WHERE id = $1
	`, productID)
}

func (s *productService) GetProductBySku(ctx context.Context, storeID, sku string) (*Product, error) {
	return scanProduct(ctx, s.pool, `
		SELECT id, store_id, category_id, sku, barcode, name, description, unit_price, unit, revenue_account_code, variants_enabled, created_at
		FROM products WHERE store_id = $1 AND sku = $2
	`, storeID, sku)
}

func (s *productService) ListProducts(ctx context.Context, storeID string) ([]Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, store_id, category_id, sku, barcode, name, description, unit_price, unit, revenue_account_code, variants_enabled, created_at
		FROM products WHERE store_id = $1 ORDER BY name
	`, storeID)
	if err != nil {
		return nil, ErrInfra("failed to query products", err)
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.StoreID, &p.CategoryID, &p.Sku, &p.Barcode, &p.Name, &p.Description, &p.UnitPrice, &p.Unit, &p.RevenueAccountCode, &p.VariantsEnabled, &p.CreatedAt); err != nil {
			return nil, ErrInfra("failed to scan product", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *productService) CreateVariant(ctx context.Context, productID, sku, name string, unitPrice decimal.Decimal) (*ProductVariant, error) {
	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.VariantsEnabled {
		return nil, newErr("VariantsNotEnabled", CategoryValidation, "product does not have variants enabled")
	}
	v := &ProductVariant{ID: newID(), ProductID: productID, Sku: sku, Name: name, UnitPrice: unitPrice}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO product_variants (id, product_id, sku, name, unit_price, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, v.ID, v.ProductID, v.Sku, v.Name, v.UnitPrice)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateSku(sku)
		}
		return nil, ErrInfra("failed to insert variant", err)
	}
	return v, nil
}

func (s *productService) ListVariants(ctx context.Context, productID string) ([]ProductVariant, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, product_id, sku, name, unit_price, created_at FROM product_variants WHERE product_id = $1 ORDER BY name`, productID)
	if err != nil {
		return nil, ErrInfra("failed to query variants", err)
	}
	defer rows.Close()
	var out []ProductVariant
	for rows.Next() {
		var v ProductVariant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Sku, &v.Name, &v.UnitPrice, &v.CreatedAt); err != nil {
			return nil, ErrInfra("failed to scan variant", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func scanProduct(ctx context.Context, q pgxQuerier, query string, args ...any) (*Product, error) {
	var p Product
	err := q.QueryRow(ctx, query, args...).Scan(&p.ID, &p.StoreID, &p.CategoryID, &p.Sku, &p.Barcode, &p.Name, &p.Description, &p.UnitPrice, &p.Unit, &p.RevenueAccountCode, &p.VariantsEnabled, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Product", "")
		}
		return nil, ErrInfra("failed to fetch product", err)
	}
	return &p, nil
}

// isUniqueViolation checks for Postgres SQLSTATE 23505 without importing the
// full pgconn error-code switch the teacher doesn't otherwise use.
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
