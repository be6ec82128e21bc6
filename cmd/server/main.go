package main

import (
	"context"
	"log"
	"net/http"
	"os"

	webAdapter "accounting-agent/internal/adapters/web"
	"accounting-agent/internal/core"
	"accounting-agent/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	docService := core.NewDocumentService(pool)
	ledger := core.NewLedger(pool, docService)
	rules := core.NewRuleEngine(pool)
	auditSink := core.NewAuditSink(pool)
	users := core.NewUserService(pool)
	identity := core.NewIdentityService(pool, users, auditSink)
	stores := core.NewStoreService(pool)
	products := core.NewProductService(pool)
	recipes := core.NewRecipeService(pool)
	stock := core.NewStockService(pool)
	reservations := core.NewReservationService(pool)
	cai := core.NewCaiService(pool)
	adjustments := core.NewAdjustmentService(pool, auditSink, rules)
	transfers := core.NewTransferService(pool, docService, auditSink)
	vendors := core.NewVendorService(pool)
	purchaseOrders := core.NewPurchaseOrderService(pool, auditSink)
	goodsReceipts := core.NewGoodsReceiptService(pool, purchaseOrders, auditSink, ledger, rules)
	customers := core.NewCustomerService(pool)
	shifts := core.NewShiftService(pool)
	sales := core.NewSaleService(pool, cai, shifts, auditSink, ledger, rules)
	carts := core.NewCartService(pool, reservations)
	creditNotes := core.NewCreditNoteService(pool, auditSink, ledger, rules)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Println("Warning: JWT_SECRET is not set")
	}
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")

	handler := webAdapter.NewHandler(webAdapter.Handler{
		Users:          users,
		Identity:       identity,
		Audit:          auditSink,
		Stores:         stores,
		Products:       products,
		Recipes:        recipes,
		Stock:          stock,
		Reservations:   reservations,
		Cai:            cai,
		Adjustments:    adjustments,
		Transfers:      transfers,
		Vendors:        vendors,
		PurchaseOrders: purchaseOrders,
		GoodsReceipts:  goodsReceipts,
		Customers:      customers,
		Carts:          carts,
		Shifts:         shifts,
		Sales:          sales,
		CreditNotes:    creditNotes,
		Ledger:         ledger,
		Documents:      docService,
	}, allowedOrigins, jwtSecret)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("server starting on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("server: %v", err)
	}
}
