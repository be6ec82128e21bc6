package core_test

import (
	"context"
	"testing"

	"accounting-agent/internal/core"

	"github.com/shopspring/decimal"
)

// TestGoodsReceipt_Confirm_PostsInventoryVsAccountsPayable exercises spec §8
// end-to-end scenario 3 (PO partial receipt) and verifies the GL side
// effect wired into goods_receipt.go this pass: a balanced DR Inventory /
// CR Accounts Payable posting per confirmed receipt.
func TestGoodsReceipt_Confirm_PostsInventoryVsAccountsPayable(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	pool.Exec(ctx, `TRUNCATE TABLE journal_lines, journal_entries, documents, purchase_order_items, purchase_orders, goods_receipt_items, goods_receipts, stock_movements, stock_records, vendors, stores, account_rules CASCADE`)
	pool.Exec(ctx, `INSERT INTO stores (id, company_id, code, name) VALUES ('store-1', 1, 'S1', 'Store One')`)
	pool.Exec(ctx, `
		INSERT INTO accounts (company_id, code, name, type) VALUES
		(1, '1300', 'Inventory', 'asset'),
		(1, '2000', 'Accounts Payable', 'liability')
		ON CONFLICT DO NOTHING
	`)
	pool.Exec(ctx, `
		INSERT INTO account_rules (company_id, rule_type, account_code, priority) VALUES
		(1, 'INVENTORY', '1300', 0),
		(1, 'ACCOUNTS_PAYABLE', '2000', 0)
		ON CONFLICT DO NOTHING
	`)

	vendors := core.NewVendorService(pool)
	vendor, err := vendors.CreateVendor(ctx, 1, core.VendorInput{Code: "V1", TaxID: "TAX-V1", Name: "Supplier", APAccountCode: "2000"})
	if err != nil {
		t.Fatalf("CreateVendor: %v", err)
	}

	docs := core.NewDocumentService(pool)
	purchaseOrders := core.NewPurchaseOrderService(pool, core.NewAuditSink(pool))
	goodsReceipts := core.NewGoodsReceiptService(pool, purchaseOrders, core.NewAuditSink(pool), core.NewLedger(pool, docs), core.NewRuleEngine(pool))

	po, err := purchaseOrders.CreateDraft(ctx, "store-1", vendor.ID, "buyer", []core.PurchaseOrderItem{
		{Target: core.NewProductTarget("prod-1"), Ordered: decimal.NewFromInt(10), UnitCost: decimal.NewFromInt(10)},
	})
	if err != nil {
		t.Fatalf("CreateDraft PO: %v", err)
	}
	if _, err := purchaseOrders.Submit(ctx, po.ID); err != nil {
		t.Fatalf("Submit PO: %v", err)
	}
	if _, err := purchaseOrders.Approve(ctx, po.ID, "approver", docs); err != nil {
		t.Fatalf("Approve PO: %v", err)
	}

	po, err = purchaseOrders.Get(ctx, po.ID)
	if err != nil {
		t.Fatalf("Get PO: %v", err)
	}

	receiptA, err := goodsReceipts.CreateDraft(ctx, po.ID, []core.GoodsReceiptItem{
		{POItemID: po.Items[0].ID, Target: core.NewProductTarget("prod-1"), Quantity: decimal.NewFromInt(6), UnitCost: decimal.NewFromInt(10)},
	})
	if err != nil {
		t.Fatalf("CreateDraft receipt A: %v", err)
	}
	if _, err := goodsReceipts.Confirm(ctx, receiptA.ID, "receiver"); err != nil {
		t.Fatalf("Confirm receipt A: %v", err)
	}

	poAfterA, err := purchaseOrders.Get(ctx, po.ID)
	if err != nil {
		t.Fatalf("Get PO after A: %v", err)
	}
	if poAfterA.Status != core.POStatusPartiallyReceived {
		t.Errorf("expected PartiallyReceived after 6/10, got %s", poAfterA.Status)
	}

	var debit, credit decimal.Decimal
	err = pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(jl.debit_base::numeric), 0), COALESCE(SUM(jl.credit_base::numeric), 0)
		FROM journal_lines jl
	`).Scan(&debit, &credit)
	if err != nil {
		t.Fatalf("query journal_lines: %v", err)
	}
	want := decimal.NewFromInt(60) // 6 units * 10.00
	if !debit.Equal(want) || !credit.Equal(want) {
		t.Errorf("expected balanced 60.00 DR/CR for receipt A, got debit=%s credit=%s", debit, credit)
	}

	receiptB, err := goodsReceipts.CreateDraft(ctx, po.ID, []core.GoodsReceiptItem{
		{POItemID: po.Items[0].ID, Target: core.NewProductTarget("prod-1"), Quantity: decimal.NewFromInt(4), UnitCost: decimal.NewFromInt(10)},
	})
	if err != nil {
		t.Fatalf("CreateDraft receipt B: %v", err)
	}
	if _, err := goodsReceipts.Confirm(ctx, receiptB.ID, "receiver"); err != nil {
		t.Fatalf("Confirm receipt B: %v", err)
	}

	poAfterB, err := purchaseOrders.Get(ctx, po.ID)
	if err != nil {
		t.Fatalf("Get PO after B: %v", err)
	}
	if poAfterB.Status != core.POStatusReceived {
		t.Errorf("expected Received after 10/10, got %s", poAfterB.Status)
	}
	for _, it := range poAfterB.Items {
		if !it.Received.Equal(it.Ordered) {
			t.Errorf("expected received == ordered, got received=%s ordered=%s", it.Received, it.Ordered)
		}
	}

	err = pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(jl.debit_base::numeric), 0), COALESCE(SUM(jl.credit_base::numeric), 0)
		FROM journal_lines jl
	`).Scan(&debit, &credit)
	if err != nil {
		t.Fatalf("query journal_lines after B: %v", err)
	}
	wantTotal := decimal.NewFromInt(100) // full 10 units * 10.00 across both receipts
	if !debit.Equal(wantTotal) || !credit.Equal(wantTotal) {
		t.Errorf("expected balanced 100.00 DR/CR across both receipts, got debit=%s credit=%s", debit, credit)
	}
}

// TestSaleComplete_PostsRevenueAndCreditNoteReversesIt covers spec §8
// end-to-end scenario 5 (credit note with restock) plus this pass's GL
// wiring in sale.go and credit_note.go: completing a cash sale posts DR
// Cash / CR Revenue + Tax Payable, and applying a credit note against it
// posts the mirror-image DR Revenue / CR Cash for the refunded amount.
func TestSaleComplete_PostsRevenueAndCreditNoteReversesIt(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	pool.Exec(ctx, `TRUNCATE TABLE journal_lines, journal_entries, documents, credit_note_items, credit_notes, payments, sale_items, sales, stock_movements, stock_records, stores, account_rules CASCADE`)
	pool.Exec(ctx, `INSERT INTO stores (id, company_id, code, name) VALUES ('store-1', 1, 'S1', 'Store One')`)
	pool.Exec(ctx, `
		INSERT INTO accounts (company_id, code, name, type) VALUES
		(1, '1100', 'Cash', 'asset'),
		(1, '4000', 'Revenue', 'revenue'),
		(1, '2200', 'Tax Payable', 'liability')
		ON CONFLICT DO NOTHING
	`)
	pool.Exec(ctx, `
		INSERT INTO account_rules (company_id, rule_type, account_code, priority) VALUES
		(1, 'CASH', '1100', 0),
		(1, 'REVENUE', '4000', 0),
		(1, 'TAX_PAYABLE', '2200', 0)
		ON CONFLICT DO NOTHING
	`)

	docs := core.NewDocumentService(pool)
	ledger := core.NewLedger(pool, docs)
	rules := core.NewRuleEngine(pool)
	stock := core.NewStockService(pool)
	cai := core.NewCaiService(pool)
	shifts := core.NewShiftService(pool)
	sales := core.NewSaleService(pool, cai, shifts, core.NewAuditSink(pool), ledger, rules)
	creditNotes := core.NewCreditNoteService(pool, core.NewAuditSink(pool), ledger, rules)

	if _, err := stock.Initialize(ctx, "store-1", core.NewProductTarget("prod-1"), decimal.Zero, nil, decimal.NewFromInt(100), "tester"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	sale, err := sales.CreateDraft(ctx, "store-1", core.SaleTypeEcommerce, nil)
	if err != nil {
		t.Fatalf("CreateDraft sale: %v", err)
	}
	sale, err = sales.AddItem(ctx, sale.ID, core.SaleItem{
		Target: core.NewProductTarget("prod-1"), Quantity: decimal.NewFromInt(5), UnitPrice: decimal.NewFromInt(10), TaxPc: decimal.NewFromFloat(0.15),
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if sale.Total.Cmp(decimal.NewFromFloat(57.50)) != 0 {
		t.Fatalf("expected sale total 57.50, got %s", sale.Total)
	}

	tendered := decimal.NewFromFloat(57.50)
	if _, err := sales.AddPayment(ctx, sale.ID, core.PaymentCash, decimal.NewFromFloat(57.50), &tendered); err != nil {
		t.Fatalf("AddPayment: %v", err)
	}
	sale, err = sales.Complete(ctx, sale.ID, "", "", "", "cashier")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var debit, credit decimal.Decimal
	if err := pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(jl.debit_base::numeric), 0), COALESCE(SUM(jl.credit_base::numeric), 0) FROM journal_lines jl
	`).Scan(&debit, &credit); err != nil {
		t.Fatalf("query journal_lines after complete: %v", err)
	}
	if !debit.Equal(decimal.NewFromFloat(57.50)) || !credit.Equal(decimal.NewFromFloat(57.50)) {
		t.Errorf("expected balanced 57.50 DR/CR after sale completion, got debit=%s credit=%s", debit, credit)
	}

	cn, err := creditNotes.CreateDraft(ctx, sale.ID, sale.Payments[0].ID, "creator", core.PaymentCash, []core.CreditNoteItem{
		{SaleItemID: sale.Items[0].ID, Target: core.NewProductTarget("prod-1"), ReturnQuantity: decimal.NewFromInt(2), Restock: true},
	})
	if err != nil {
		t.Fatalf("CreateDraft credit note: %v", err)
	}
	if _, err := creditNotes.Submit(ctx, cn.ID); err != nil {
		t.Fatalf("Submit credit note: %v", err)
	}
	if _, err := creditNotes.Approve(ctx, cn.ID, "approver"); err != nil {
		t.Fatalf("Approve credit note: %v", err)
	}
	cn, err = creditNotes.Apply(ctx, cn.ID, "applier", sales, shifts)
	if err != nil {
		t.Fatalf("Apply credit note: %v", err)
	}
	if !cn.RefundAmount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected refund_amount 20 (2 units * 10), got %s", cn.RefundAmount)
	}

	stockAfter, err := stock.Get(ctx, "store-1", core.NewProductTarget("prod-1"))
	if err != nil {
		t.Fatalf("Get stock after credit note: %v", err)
	}
	if !stockAfter.Quantity.Equal(decimal.NewFromInt(97)) {
		t.Errorf("expected quantity 97 (100 - 5 sold + 2 restocked), got %s", stockAfter.Quantity)
	}

	if err := pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(jl.debit_base::numeric), 0), COALESCE(SUM(jl.credit_base::numeric), 0) FROM journal_lines jl
	`).Scan(&debit, &credit); err != nil {
		t.Fatalf("query journal_lines after credit note: %v", err)
	}
	wantTotal := decimal.NewFromFloat(77.50) // 57.50 sale + 20.00 reversal
	if !debit.Equal(wantTotal) || !credit.Equal(wantTotal) {
		t.Errorf("expected balanced 77.50 DR/CR total after credit note apply, got debit=%s credit=%s", debit, credit)
	}
}
