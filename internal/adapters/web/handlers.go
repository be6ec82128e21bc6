package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"accounting-agent/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Handler wires every SPEC_FULL.md core service into a chi router. It holds
// no business logic of its own — each method decodes the request, calls a
// single core operation, and maps the result or error to JSON.
type Handler struct {
	router chi.Router

	jwtSecret string

	Users          core.UserService
	Identity       core.IdentityService
	Audit          core.AuditSink
	Stores         core.StoreService
	Products       core.ProductService
	Recipes        core.RecipeService
	Stock          core.StockService
	Reservations   core.ReservationService
	Cai            core.CaiService
	Adjustments    core.AdjustmentService
	Transfers      core.TransferService
	PurchaseOrders core.PurchaseOrderService
	GoodsReceipts  core.GoodsReceiptService
	Vendors        core.VendorService
	Customers      core.CustomerService
	Carts          core.CartService
	Shifts         core.ShiftService
	Sales          core.SaleService
	CreditNotes    core.CreditNoteService
	Ledger         core.LedgerService
	Documents      core.DocumentService
}

// NewHandler constructs the Handler and wires the chi router with all routes.
func NewHandler(deps Handler, allowedOrigins, jwtSecret string) http.Handler {
	h := deps
	h.jwtSecret = jwtSecret

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(CORS(allowedOrigins))

	r.Get("/api/health", h.health)
	r.Post("/api/auth/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(RequestBodyLimit(1 << 20))

		r.Get("/api/auth/me", h.me)

		r.Route("/api/stores", func(r chi.Router) {
			r.Post("/", h.createStore)
			r.Get("/{storeID}", h.getStore)
			r.Post("/{storeID}/terminals", h.createTerminal)
		})

		r.Route("/api/products", func(r chi.Router) {
			r.Post("/", h.createProduct)
			r.Get("/", h.listProducts)
			r.Get("/{productID}", h.getProduct)
			r.Post("/{productID}/variants", h.createVariant)
			r.Get("/{productID}/variants", h.listVariants)
		})
		r.Post("/api/categories", h.createCategory)

		r.Route("/api/recipes", func(r chi.Router) {
			r.Post("/", h.createRecipe)
			r.Get("/", h.getActiveRecipe)
			r.Delete("/{recipeID}", h.deactivateRecipe)
		})

		r.Route("/api/stock", func(r chi.Router) {
			r.Post("/", h.initializeStock)
			r.Get("/", h.getStock)
			r.Get("/{stockID}", h.getStockByID)
			r.Get("/{stockID}/history", h.stockHistory)
			r.Get("/{stockID}/valuation", h.stockValuation)
			r.Get("/low", h.listLowStock)
		})

		r.Route("/api/adjustments", func(r chi.Router) {
			r.Post("/", h.createAdjustmentDraft)
			r.Get("/{id}", h.getAdjustment)
			r.Post("/{id}/items", h.addAdjustmentItem)
			r.Post("/{id}/submit", h.submitAdjustment)
			r.With(RequirePermission("inventory:approve_adjustment")).Post("/{id}/approve", h.approveAdjustment)
			r.Post("/{id}/reject", h.rejectAdjustment)
			r.Post("/{id}/cancel", h.cancelAdjustment)
			r.With(RequirePermission("inventory:apply_adjustment")).Post("/{id}/apply", h.applyAdjustment)
		})

		r.Route("/api/transfers", func(r chi.Router) {
			r.Post("/", h.createTransferDraft)
			r.Get("/{id}", h.getTransfer)
			r.Post("/{id}/submit", h.submitTransfer)
			r.Post("/{id}/ship", h.shipTransfer)
			r.Post("/{id}/receive", h.receiveTransfer)
			r.Post("/{id}/cancel", h.cancelTransfer)
		})

		r.Route("/api/vendors", func(r chi.Router) {
			r.Post("/", h.createVendor)
			r.Get("/", h.listVendors)
			r.Get("/{code}", h.getVendorByCode)
			r.Post("/{id}/activate", h.activateVendor)
			r.Post("/{id}/deactivate", h.deactivateVendor)
		})

		r.Route("/api/purchase-orders", func(r chi.Router) {
			r.Post("/", h.createPODraft)
			r.Get("/", h.listPOs)
			r.Get("/{id}", h.getPO)
			r.Post("/{id}/submit", h.submitPO)
			r.With(RequirePermission("purchasing:approve_order")).Post("/{id}/approve", h.approvePO)
			r.Post("/{id}/reject", h.rejectPO)
			r.Post("/{id}/cancel", h.cancelPO)
			r.Post("/{id}/close", h.closePO)
		})

		r.Route("/api/goods-receipts", func(r chi.Router) {
			r.Post("/", h.createGoodsReceiptDraft)
			r.Get("/{id}", h.getGoodsReceipt)
			r.Post("/{id}/confirm", h.confirmGoodsReceipt)
			r.Post("/{id}/cancel", h.cancelGoodsReceipt)
		})

		r.Route("/api/customers", func(r chi.Router) {
			r.Post("/", h.createCustomer)
			r.Get("/", h.listCustomers)
			r.Get("/{code}", h.getCustomerByCode)
		})

		r.Route("/api/carts", func(r chi.Router) {
			r.Post("/", h.createCart)
			r.Get("/{id}", h.getCart)
			r.Post("/{id}/items", h.addCartItem)
			r.Delete("/{id}/items/{itemID}", h.removeCartItem)
			r.Post("/{id}/checkout", h.checkoutCart)
		})

		r.Route("/api/shifts", func(r chi.Router) {
			r.Post("/", h.openShift)
			r.Get("/{id}", h.getShift)
			r.Post("/{id}/cash-in", h.shiftCashIn)
			r.Post("/{id}/cash-out", h.shiftCashOut)
			r.Post("/{id}/close", h.closeShift)
		})

		r.Route("/api/sales", func(r chi.Router) {
			r.Post("/", h.createSaleDraft)
			r.Get("/{id}", h.getSale)
			r.Post("/{id}/items", h.addSaleItem)
			r.Delete("/{id}/items/{itemID}", h.removeSaleItem)
			r.Post("/{id}/discount", h.applySaleDiscount)
			r.Post("/{id}/payments", h.addSalePayment)
			r.Post("/{id}/complete", h.completeSale)
			r.With(RequirePermission("sales:void_sale")).Post("/{id}/void", h.voidSale)
		})

		r.Route("/api/credit-notes", func(r chi.Router) {
			r.Post("/", h.createCreditNoteDraft)
			r.Get("/{id}", h.getCreditNote)
			r.Post("/{id}/submit", h.submitCreditNote)
			r.With(RequirePermission("sales:approve_credit_note")).Post("/{id}/approve", h.approveCreditNote)
			r.Post("/{id}/cancel", h.cancelCreditNote)
			r.With(RequirePermission("sales:apply_credit_note")).Post("/{id}/apply", h.applyCreditNote)
		})

	})

	h.router = r
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// targetJSON is the wire shape of core.Target.
type targetJSON struct {
	ProductID *string `json:"product_id,omitempty"`
	VariantID *string `json:"variant_id,omitempty"`
}

func (t targetJSON) toCore() core.Target {
	return core.Target{ProductID: t.ProductID, VariantID: t.VariantID}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// ── Stores ──────────────────────────────────────────────────────────────

func (h *Handler) createStore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyCode string `json:"company_code"`
		Code        string `json:"code"`
		Name        string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	store, err := h.Stores.CreateStore(r.Context(), req.CompanyCode, req.Code, req.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, store)
}

func (h *Handler) getStore(w http.ResponseWriter, r *http.Request) {
	store, err := h.Stores.GetStore(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, store)
}

func (h *Handler) createTerminal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.Stores.CreateTerminal(r.Context(), chi.URLParam(r, "storeID"), req.Code, req.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, t)
}

// ── Products / categories / variants ───────────────────────────────────

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreID  string  `json:"store_id"`
		Slug     string  `json:"slug"`
		Name     string  `json:"name"`
		ParentID *string `json:"parent_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.Products.CreateCategory(r.Context(), req.StoreID, req.Slug, req.Name, req.ParentID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, c)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreID            string          `json:"store_id"`
		CategoryID         *string         `json:"category_id"`
		Sku                string          `json:"sku"`
		Barcode            string          `json:"barcode"`
		Name               string          `json:"name"`
		Description        string          `json:"description"`
		UnitPrice          decimal.Decimal `json:"unit_price"`
		Unit               string          `json:"unit"`
		RevenueAccountCode string          `json:"revenue_account_code"`
		VariantsEnabled    bool            `json:"variants_enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.Products.CreateProduct(r.Context(), req.StoreID, req.CategoryID, req.Sku, req.Barcode, req.Name, req.Description, req.UnitPrice, req.Unit, req.RevenueAccountCode, req.VariantsEnabled)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Products.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store_id")
	products, err := h.Products.ListProducts(r.Context(), storeID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, products)
}

func (h *Handler) createVariant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sku       string          `json:"sku"`
		Name      string          `json:"name"`
		UnitPrice decimal.Decimal `json:"unit_price"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := h.Products.CreateVariant(r.Context(), chi.URLParam(r, "productID"), req.Sku, req.Name, req.UnitPrice)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, v)
}

func (h *Handler) listVariants(w http.ResponseWriter, r *http.Request) {
	variants, err := h.Products.ListVariants(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, variants)
}

// ── Recipes ─────────────────────────────────────────────────────────────

func (h *Handler) createRecipe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target targetJSON        `json:"target"`
		Lines  []core.RecipeLine `json:"lines"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.Recipes.CreateRecipe(r.Context(), req.Target.toCore(), req.Lines)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, rec)
}

func (h *Handler) getActiveRecipe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var target core.Target
	if pid := q.Get("product_id"); pid != "" {
		target = core.NewProductTarget(pid)
	} else {
		target = core.NewVariantTarget(q.Get("variant_id"))
	}
	rec, err := h.Recipes.GetActiveRecipe(r.Context(), target)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, rec)
}

func (h *Handler) deactivateRecipe(w http.ResponseWriter, r *http.Request) {
	if err := h.Recipes.Deactivate(r.Context(), chi.URLParam(r, "recipeID")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Stock ───────────────────────────────────────────────────────────────

func (h *Handler) initializeStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreID         string           `json:"store_id"`
		Target          targetJSON       `json:"target"`
		MinStock        decimal.Decimal  `json:"min_stock"`
		MaxStock        *decimal.Decimal `json:"max_stock"`
		InitialQuantity decimal.Decimal  `json:"initial_quantity"`
		ActorID         string           `json:"actor_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.Stock.Initialize(r.Context(), req.StoreID, req.Target.toCore(), req.MinStock, req.MaxStock, req.InitialQuantity, req.ActorID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, st)
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var target core.Target
	if pid := q.Get("product_id"); pid != "" {
		target = core.NewProductTarget(pid)
	} else {
		target = core.NewVariantTarget(q.Get("variant_id"))
	}
	st, err := h.Stock.Get(r.Context(), q.Get("store_id"), target)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, st)
}

func (h *Handler) getStockByID(w http.ResponseWriter, r *http.Request) {
	st, err := h.Stock.GetByID(r.Context(), chi.URLParam(r, "stockID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, st)
}

func (h *Handler) listLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.Stock.ListLowStock(r.Context(), r.URL.Query().Get("store_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, items)
}

func (h *Handler) stockHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	movements, err := h.Stock.History(r.Context(), chi.URLParam(r, "stockID"), nil, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, movements)
}

func (h *Handler) stockValuation(w http.ResponseWriter, r *http.Request) {
	qty, cost, err := h.Stock.Valuation(r.Context(), chi.URLParam(r, "stockID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, map[string]decimal.Decimal{"quantity": qty, "weighted_average_cost": cost})
}

// ── Adjustments ─────────────────────────────────────────────────────────

func (h *Handler) createAdjustmentDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreID   string               `json:"store_id"`
		CreatedBy string               `json:"created_by"`
		Type      core.AdjustmentType  `json:"type"`
		Reason    core.AdjustmentReason `json:"reason"`
		Notes     string               `json:"notes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	adj, err := h.Adjustments.CreateDraft(r.Context(), req.StoreID, req.CreatedBy, req.Type, req.Reason, req.Notes)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, adj)
}

func (h *Handler) getAdjustment(w http.ResponseWriter, r *http.Request) {
	adj, err := h.Adjustments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, adj)
}

func (h *Handler) addAdjustmentItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StockID  string           `json:"stock_id"`
		Quantity decimal.Decimal  `json:"quantity"`
		UnitCost *decimal.Decimal `json:"unit_cost"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Adjustments.AddItem(r.Context(), chi.URLParam(r, "id"), req.StockID, req.Quantity, req.UnitCost); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submitAdjustment(w http.ResponseWriter, r *http.Request) {
	adj, err := h.Adjustments.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, adj)
}

func (h *Handler) approveAdjustment(w http.ResponseWriter, r *http.Request) {
	uc := userContextFromRequest(r.Context())
	adj, err := h.Adjustments.Approve(r.Context(), chi.URLParam(r, "id"), uc.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, adj)
}

func (h *Handler) rejectAdjustment(w http.ResponseWriter, r *http.Request) {
	uc := userContextFromRequest(r.Context())
	adj, err := h.Adjustments.Reject(r.Context(), chi.URLParam(r, "id"), uc.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, adj)
}

func (h *Handler) cancelAdjustment(w http.ResponseWriter, r *http.Request) {
	adj, err := h.Adjustments.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, adj)
}

func (h *Handler) applyAdjustment(w http.ResponseWriter, r *http.Request) {
	uc := userContextFromRequest(r.Context())
	adj, err := h.Adjustments.Apply(r.Context(), chi.URLParam(r, "id"), uc.UserID, h.Ledger, h.Documents)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, adj)
}

// ── Transfers ───────────────────────────────────────────────────────────

func (h *Handler) createTransferDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceStoreID string               `json:"source_store_id"`
		DestStoreID   string               `json:"dest_store_id"`
		Items         []core.TransferItem  `json:"items"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.Transfers.CreateDraft(r.Context(), req.SourceStoreID, req.DestStoreID, req.Items)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, t)
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Transfers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, t)
}

func (h *Handler) submitTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Transfers.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, t)
}

func (h *Handler) shipTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Shipped map[string]decimal.Decimal `json:"shipped"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	uc := userContextFromRequest(r.Context())
	t, err := h.Transfers.Ship(r.Context(), chi.URLParam(r, "id"), req.Shipped, uc.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, t)
}

func (h *Handler) receiveTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Received map[string]decimal.Decimal `json:"received"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	uc := userContextFromRequest(r.Context())
	t, err := h.Transfers.Receive(r.Context(), chi.URLParam(r, "id"), req.Received, uc.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, t)
}

func (h *Handler) cancelTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Transfers.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, t)
}

// ── Vendors ─────────────────────────────────────────────────────────────

func (h *Handler) createVendor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyID int             `json:"company_id"`
		Input     core.VendorInput `json:"input"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := h.Vendors.CreateVendor(r.Context(), req.CompanyID, req.Input)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, v)
}

func (h *Handler) listVendors(w http.ResponseWriter, r *http.Request) {
	companyID := queryInt(r, "company_id", 0)
	vendors, err := h.Vendors.GetVendors(r.Context(), companyID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, vendors)
}

func (h *Handler) getVendorByCode(w http.ResponseWriter, r *http.Request) {
	v, err := h.Vendors.GetVendorByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, v)
}

func (h *Handler) activateVendor(w http.ResponseWriter, r *http.Request) {
	h.setVendorActive(w, r, true)
}

func (h *Handler) deactivateVendor(w http.ResponseWriter, r *http.Request) {
	h.setVendorActive(w, r, false)
}

func (h *Handler) setVendorActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "invalid vendor id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if err := h.Vendors.SetActive(r.Context(), id, active); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Purchase orders ───────────────────────────────────────────────────

func (h *Handler) createPODraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreID string                    `json:"store_id"`
		VendorID int                      `json:"vendor_id"`
		Items   []core.PurchaseOrderItem `json:"items"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	uc := userContextFromRequest(r.Context())
	po, err := h.PurchaseOrders.CreateDraft(r.Context(), req.StoreID, req.VendorID, uc.UserID, req.Items)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, po)
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store_id")
	status := core.POStatus(r.URL.Query().Get("status"))
	pos, err := h.PurchaseOrders.List(r.Context(), storeID, status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, pos)
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	po, err := h.PurchaseOrders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, po)
}

func (h *Handler) submitPO(w http.ResponseWriter, r *http.Request) {
	po, err := h.PurchaseOrders.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, po)
}

func (h *Handler) approvePO(w http.ResponseWriter, r *http.Request) {
	uc := userContextFromRequest(r.Context())
	po, err := h.PurchaseOrders.Approve(r.Context(), chi.URLParam(r, "id"), uc.UserID, h.Documents)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, po)
}

func (h *Handler) rejectPO(w http.ResponseWriter, r *http.Request) {
	po, err := h.PurchaseOrders.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, po)
}

func (h *Handler) cancelPO(w http.ResponseWriter, r *http.Request) {
	po, err := h.PurchaseOrders.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, po)
}

func (h *Handler) closePO(w http.ResponseWriter, r *http.Request) {
	po, err := h.PurchaseOrders.Close(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, po)
}

// ── Goods receipts ──────────────────────────────────────────────────────

func (h *Handler) createGoodsReceiptDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		POID  string                   `json:"po_id"`
		Items []core.GoodsReceiptItem `json:"items"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	gr, err := h.GoodsReceipts.CreateDraft(r.Context(), req.POID, req.Items)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, gr)
}

func (h *Handler) getGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	gr, err := h.GoodsReceipts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, gr)
}

func (h *Handler) confirmGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	uc := userContextFromRequest(r.Context())
	gr, err := h.GoodsReceipts.Confirm(r.Context(), chi.URLParam(r, "id"), uc.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, gr)
}

func (h *Handler) cancelGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	gr, err := h.GoodsReceipts.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, gr)
}

// ── Customers ───────────────────────────────────────────────────────────

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyCode string          `json:"company_code"`
		Code        string          `json:"code"`
		Name        string          `json:"name"`
		Email       string          `json:"email"`
		Phone       string          `json:"phone"`
		CreditLimit decimal.Decimal `json:"credit_limit"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.Customers.Create(r.Context(), req.CompanyCode, req.Code, req.Name, req.Email, req.Phone, req.CreditLimit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, c)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Customers.List(r.Context(), r.URL.Query().Get("company_code"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, customers)
}

func (h *Handler) getCustomerByCode(w http.ResponseWriter, r *http.Request) {
	c, err := h.Customers.GetByCode(r.Context(), r.URL.Query().Get("company_code"), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, c)
}

// ── Carts ───────────────────────────────────────────────────────────────

func (h *Handler) createCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreID    string  `json:"store_id"`
		CustomerID *string `json:"customer_id"`
		TTLSeconds int     `json:"ttl_seconds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.Carts.Create(r.Context(), req.StoreID, req.CustomerID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, c)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, c)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target    targetJSON      `json:"target"`
		Quantity  decimal.Decimal `json:"quantity"`
		UnitPrice decimal.Decimal `json:"unit_price"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.Carts.AddItem(r.Context(), chi.URLParam(r, "id"), req.Target.toCore(), req.Quantity, req.UnitPrice)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, c)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	uc := userContextFromRequest(r.Context())
	c, err := h.Carts.RemoveItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), uc.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, c)
}

func (h *Handler) checkoutCart(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Carts.Checkout(r.Context(), chi.URLParam(r, "id"), h.Sales)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sale)
}

// ── Shifts ──────────────────────────────────────────────────────────────

func (h *Handler) openShift(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TerminalID     string          `json:"terminal_id"`
		CashierID      string          `json:"cashier_id"`
		OpeningBalance decimal.Decimal `json:"opening_balance"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sh, err := h.Shifts.Open(r.Context(), req.TerminalID, req.CashierID, req.OpeningBalance)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sh)
}

func (h *Handler) getShift(w http.ResponseWriter, r *http.Request) {
	sh, err := h.Shifts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sh)
}

func (h *Handler) shiftCashIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sh, err := h.Shifts.CashIn(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sh)
}

func (h *Handler) shiftCashOut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sh, err := h.Shifts.CashOut(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sh)
}

func (h *Handler) closeShift(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClosingBalance decimal.Decimal `json:"closing_balance"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sh, err := h.Shifts.Close(r.Context(), chi.URLParam(r, "id"), req.ClosingBalance)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sh)
}

// ── Sales ───────────────────────────────────────────────────────────────

func (h *Handler) createSaleDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreID    string        `json:"store_id"`
		SaleType   core.SaleType `json:"sale_type"`
		CustomerID *string       `json:"customer_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sale, err := h.Sales.CreateDraft(r.Context(), req.StoreID, req.SaleType, req.CustomerID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sale)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Sales.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sale)
}

func (h *Handler) addSaleItem(w http.ResponseWriter, r *http.Request) {
	var item core.SaleItem
	if !decodeJSON(w, r, &item) {
		return
	}
	sale, err := h.Sales.AddItem(r.Context(), chi.URLParam(r, "id"), item)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sale)
}

func (h *Handler) removeSaleItem(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Sales.RemoveItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sale)
}

func (h *Handler) applySaleDiscount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type  core.DiscountType `json:"type"`
		Value decimal.Decimal   `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sale, err := h.Sales.ApplyDiscount(r.Context(), chi.URLParam(r, "id"), req.Type, req.Value)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sale)
}

func (h *Handler) addSalePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method         core.PaymentMethod `json:"method"`
		Amount         decimal.Decimal    `json:"amount"`
		AmountTendered *decimal.Decimal   `json:"amount_tendered"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sale, err := h.Sales.AddPayment(r.Context(), chi.URLParam(r, "id"), req.Method, req.Amount, req.AmountTendered)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sale)
}

func (h *Handler) completeSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TerminalID string `json:"terminal_id"`
		ShiftID    string `json:"shift_id"`
		CashierID  string `json:"cashier_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	uc := userContextFromRequest(r.Context())
	sale, err := h.Sales.Complete(r.Context(), chi.URLParam(r, "id"), req.TerminalID, req.ShiftID, req.CashierID, uc.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sale)
}

func (h *Handler) voidSale(w http.ResponseWriter, r *http.Request) {
	uc := userContextFromRequest(r.Context())
	sale, err := h.Sales.Void(r.Context(), chi.URLParam(r, "id"), uc.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sale)
}

// ── Credit notes ─────────────────────────────────────────────────────

func (h *Handler) createCreditNoteDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SaleID       string                  `json:"sale_id"`
		PaymentID    string                  `json:"payment_id"`
		RefundMethod core.PaymentMethod      `json:"refund_method"`
		Items        []core.CreditNoteItem   `json:"items"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	uc := userContextFromRequest(r.Context())
	cn, err := h.CreditNotes.CreateDraft(r.Context(), req.SaleID, req.PaymentID, uc.UserID, req.RefundMethod, req.Items)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, cn)
}

func (h *Handler) getCreditNote(w http.ResponseWriter, r *http.Request) {
	cn, err := h.CreditNotes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, cn)
}

func (h *Handler) submitCreditNote(w http.ResponseWriter, r *http.Request) {
	cn, err := h.CreditNotes.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, cn)
}

func (h *Handler) approveCreditNote(w http.ResponseWriter, r *http.Request) {
	uc := userContextFromRequest(r.Context())
	cn, err := h.CreditNotes.Approve(r.Context(), chi.URLParam(r, "id"), uc.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, cn)
}

func (h *Handler) cancelCreditNote(w http.ResponseWriter, r *http.Request) {
	cn, err := h.CreditNotes.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, cn)
}

func (h *Handler) applyCreditNote(w http.ResponseWriter, r *http.Request) {
	uc := userContextFromRequest(r.Context())
	cn, err := h.CreditNotes.Apply(r.Context(), chi.URLParam(r, "id"), uc.UserID, h.Sales, h.Shifts)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, cn)
}

