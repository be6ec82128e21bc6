package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const cartDefaultTTL = 24 * time.Hour

// CartItem mirrors SaleItem minus invoice-tied fields; each may hold a
// reservation id, spec §4.8.
type CartItem struct {
	ID            string
	Target        Target
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
	ReservationID *string
}

type Cart struct {
	ID              string
	StoreID         string
	CustomerID      *string
	Items           []CartItem
	ExpiresAt       time.Time
	ConvertedToSale bool
	SaleID          *string
	CreatedAt       time.Time
}

func (c *Cart) isExpired(asOf time.Time) bool {
	return asOf.After(c.ExpiresAt)
}

type CartService interface {
	Create(ctx context.Context, storeID string, customerID *string, ttl time.Duration) (*Cart, error)
	// AddItem reserves the requested quantity against the store's stock so
	// the item survives until checkout or expiry.
	AddItem(ctx context.Context, cartID string, target Target, quantity, unitPrice decimal.Decimal) (*Cart, error)
	RemoveItem(ctx context.Context, cartID, itemID string, actorID string) (*Cart, error)
	// Checkout materializes a Draft sale, transferring reservations intact,
	// and flips converted_to_sale.
	Checkout(ctx context.Context, cartID string, sales SaleService) (*Sale, error)
	Get(ctx context.Context, cartID string) (*Cart, error)
	// PurgeExpired deletes carts past their expiration, releasing any
	// reservations they still hold.
	PurgeExpired(ctx context.Context, reservations ReservationService) (int, error)
}

type cartService struct {
	pool  *pgxpool.Pool
	res   ReservationService
}

func NewCartService(pool *pgxpool.Pool, res ReservationService) CartService {
	return &cartService{pool: pool, res: res}
}

func (s *cartService) Create(ctx context.Context, storeID string, customerID *string, ttl time.Duration) (*Cart, error) {
	if ttl <= 0 {
		ttl = cartDefaultTTL
	}
	c := &Cart{ID: newID(), StoreID: storeID, CustomerID: customerID, ExpiresAt: time.Now().Add(ttl)}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO carts (id, store_id, customer_id, expires_at, converted_to_sale, created_at)
		VALUES ($1, $2, $3, $4, false, NOW())
	`, c.ID, c.StoreID, c.CustomerID, c.ExpiresAt)
	if err != nil {
		return nil, ErrInfra("failed to insert cart", err)
	}
	return c, nil
}

func (s *cartService) AddItem(ctx context.Context, cartID string, target Target, quantity, unitPrice decimal.Decimal) (*Cart, error) {
	c, err := s.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if c.isExpired(time.Now()) {
		return nil, ErrCartExpired()
	}
	if err := target.validate(); err != nil {
		return nil, err
	}

	stock, err := scanStock(ctx, s.pool, `
		SELECT id, store_id, product_id, variant_id, quantity, reserved_quantity, version, min_stock_level, max_stock_level, created_at, updated_at
		FROM stock_records WHERE store_id = $1 AND product_id IS NOT DISTINCT FROM $2 AND variant_id IS NOT DISTINCT FROM $3
	`, c.StoreID, target.ProductID, target.VariantID)
	if err != nil {
		return nil, err
	}

	reservation, err := s.res.Create(ctx, stock.ID, "cart", cartID, quantity, c.ExpiresAt, "cart:"+cartID)
	if err != nil {
		return nil, err
	}

	itemID := newID()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, variant_id, quantity, unit_price, reservation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, itemID, cartID, target.ProductID, target.VariantID, quantity, unitPrice, reservation.ID)
	if err != nil {
		return nil, ErrInfra("failed to insert cart item", err)
	}
	return s.Get(ctx, cartID)
}

func (s *cartService) RemoveItem(ctx context.Context, cartID, itemID, actorID string) (*Cart, error) {
	c, err := s.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if c.isExpired(time.Now()) {
		return nil, ErrCartExpired()
	}
	for _, it := range c.Items {
		if it.ID == itemID && it.ReservationID != nil {
			if _, err := s.res.Cancel(ctx, *it.ReservationID, actorID); err != nil {
				return nil, err
			}
		}
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, itemID, cartID); err != nil {
		return nil, ErrInfra("failed to remove cart item", err)
	}
	return s.Get(ctx, cartID)
}

// Checkout materializes a Draft sale from the cart, copying each item's
// reservation id intact so the sale's Complete step can confirm it later.
func (s *cartService) Checkout(ctx context.Context, cartID string, sales SaleService) (*Sale, error) {
	c, err := s.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if c.isExpired(time.Now()) {
		return nil, ErrCartExpired()
	}
	if c.ConvertedToSale {
		return nil, ErrInvalidStatus("cart already converted to a sale")
	}

	sale, err := sales.CreateDraft(ctx, c.StoreID, SaleTypeEcommerce, c.CustomerID)
	if err != nil {
		return nil, err
	}
	for _, it := range c.Items {
		item := SaleItem{Target: it.Target, Quantity: it.Quantity, UnitPrice: it.UnitPrice, ReservationID: it.ReservationID}
		if sale, err = sales.AddItem(ctx, sale.ID, item); err != nil {
			return nil, err
		}
	}
	saleID := sale.ID
	if _, err := s.pool.Exec(ctx, `UPDATE carts SET converted_to_sale = true, sale_id = $1 WHERE id = $2`, saleID, cartID); err != nil {
		return nil, ErrInfra("failed to mark cart converted", err)
	}
	return sale, nil
}

func (s *cartService) Get(ctx context.Context, cartID string) (*Cart, error) {
	var c Cart
	err := s.pool.QueryRow(ctx, `
		SELECT id, store_id, customer_id, expires_at, converted_to_sale, sale_id, created_at FROM carts WHERE id = $1
	`, cartID).Scan(&c.ID, &c.StoreID, &c.CustomerID, &c.ExpiresAt, &c.ConvertedToSale, &c.SaleID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Cart", cartID)
		}
		return nil, ErrInfra("failed to fetch cart", err)
	}
	rows, err := s.pool.Query(ctx, `SELECT id, product_id, variant_id, quantity, unit_price, reservation_id FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return nil, ErrInfra("failed to query cart items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it CartItem
		if err := rows.Scan(&it.ID, &it.Target.ProductID, &it.Target.VariantID, &it.Quantity, &it.UnitPrice, &it.ReservationID); err != nil {
			return nil, ErrInfra("failed to scan cart item", err)
		}
		c.Items = append(c.Items, it)
	}
	return &c, nil
}

// PurgeExpired deletes carts past their expiration, releasing any
// reservations they still hold — a janitor task, spec §4.8.
func (s *cartService) PurgeExpired(ctx context.Context, reservations ReservationService) (int, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM carts WHERE expires_at < NOW() AND converted_to_sale = false`)
	if err != nil {
		return 0, ErrInfra("failed to query expired carts", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, ErrInfra("failed to scan expired cart", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	purged := 0
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		for _, it := range c.Items {
			if it.ReservationID != nil {
				_, _ = reservations.Cancel(ctx, *it.ReservationID, "janitor")
			}
		}
		if _, err := s.pool.Exec(ctx, `DELETE FROM carts WHERE id = $1`, id); err == nil {
			purged++
		}
	}
	return purged, nil
}
