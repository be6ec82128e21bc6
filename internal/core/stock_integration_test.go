package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"accounting-agent/internal/core"

	"github.com/shopspring/decimal"
)

// TestStock_ConcurrentAdjustmentApplies_BothSucceed applies two approved
// adjustments against the same stock record concurrently. applyDeltaTx locks
// the stock row with SELECT ... FOR UPDATE, so the second Apply waits for the
// first to commit and both succeed; the final quantity reflects both and
// reserved_quantity never exceeds quantity.
func TestStock_ConcurrentAdjustmentApplies_BothSucceed(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	pool.Exec(ctx, `TRUNCATE TABLE stock_adjustment_items, stock_adjustments, stock_movements, stock_records, stores CASCADE`)
	pool.Exec(ctx, `INSERT INTO stores (id, company_id, code, name) VALUES ('store-1', 1, 'S1', 'Store One')`)

	stock := core.NewStockService(pool)
	adj := core.NewAdjustmentService(pool, core.NewAuditSink(pool), core.NewRuleEngine(pool))
	ledger := core.NewLedger(pool, core.NewDocumentService(pool))
	docs := core.NewDocumentService(pool)

	st, err := stock.Initialize(ctx, "store-1", core.NewProductTarget("prod-1"), decimal.Zero, nil, decimal.NewFromInt(100), "tester")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	newAdjustment := func() string {
		a, err := adj.CreateDraft(ctx, "store-1", "creator", core.AdjustmentIncrease, core.ReasonRecount, "concurrent bump")
		if err != nil {
			t.Fatalf("CreateDraft: %v", err)
		}
		if err := adj.AddItem(ctx, a.ID, st.ID, decimal.NewFromInt(1), nil); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
		if _, err := adj.Submit(ctx, a.ID); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if _, err := adj.Approve(ctx, a.ID, "approver"); err != nil {
			t.Fatalf("Approve: %v", err)
		}
		return a.ID
	}

	id1 := newAdjustment()
	id2 := newAdjustment()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{id1, id2} {
		wg.Add(1)
		go func(i int, adjustmentID string) {
			defer wg.Done()
			_, err := adj.Apply(ctx, adjustmentID, "tester", ledger, docs)
			errs[i] = err
		}(i, id)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("apply %d: unexpected error (both should succeed via per-row locking): %v", i, err)
		}
	}

	got, err := stock.GetByID(ctx, st.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.Quantity.Equal(decimal.NewFromInt(102)) {
		t.Errorf("expected quantity 102 after two +1 adjustments, got %s", got.Quantity)
	}
	if got.ReservedQuantity.GreaterThan(got.Quantity) {
		t.Errorf("reserved_quantity %s must never exceed quantity %s", got.ReservedQuantity, got.Quantity)
	}
}

// TestReservation_ReserveThenCancel_IsNoOp is the spec §8 law: reserve then
// cancel leaves quantity unchanged and restores reserved_quantity.
func TestReservation_ReserveThenCancel_IsNoOp(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	pool.Exec(ctx, `TRUNCATE TABLE reservations, stock_movements, stock_records, stores CASCADE`)
	pool.Exec(ctx, `INSERT INTO stores (id, company_id, code, name) VALUES ('store-1', 1, 'S1', 'Store One')`)

	stock := core.NewStockService(pool)
	reservations := core.NewReservationService(pool)

	st, err := stock.Initialize(ctx, "store-1", core.NewProductTarget("prod-1"), decimal.Zero, nil, decimal.NewFromInt(50), "tester")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	beforeQty := st.Quantity
	beforeReserved := st.ReservedQuantity

	r, err := reservations.Create(ctx, st.ID, "cart", "cart-1", decimal.NewFromInt(5), time.Now().Add(24*time.Hour), "tester")
	if err != nil {
		t.Fatalf("Create reservation: %v", err)
	}
	if _, err := reservations.Cancel(ctx, r.ID, "tester"); err != nil {
		t.Fatalf("Cancel reservation: %v", err)
	}

	after, err := stock.GetByID(ctx, st.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !after.Quantity.Equal(beforeQty) {
		t.Errorf("quantity changed across reserve+cancel: before=%s after=%s", beforeQty, after.Quantity)
	}
	if !after.ReservedQuantity.Equal(beforeReserved) {
		t.Errorf("reserved_quantity changed across reserve+cancel: before=%s after=%s", beforeReserved, after.ReservedQuantity)
	}
}

// TestReservation_ReserveThenConfirm_DecreasesQuantityByReservedAmount is the
// matching spec §8 law for the confirm path.
func TestReservation_ReserveThenConfirm_DecreasesQuantityByReservedAmount(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	pool.Exec(ctx, `TRUNCATE TABLE reservations, stock_movements, stock_records, stores CASCADE`)
	pool.Exec(ctx, `INSERT INTO stores (id, company_id, code, name) VALUES ('store-1', 1, 'S1', 'Store One')`)

	stock := core.NewStockService(pool)
	reservations := core.NewReservationService(pool)

	st, err := stock.Initialize(ctx, "store-1", core.NewProductTarget("prod-1"), decimal.Zero, nil, decimal.NewFromInt(50), "tester")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	beforeReserved := st.ReservedQuantity

	r, err := reservations.Create(ctx, st.ID, "cart", "cart-2", decimal.NewFromInt(5), time.Now().Add(24*time.Hour), "tester")
	if err != nil {
		t.Fatalf("Create reservation: %v", err)
	}
	if _, err := reservations.Confirm(ctx, r.ID, "tester"); err != nil {
		t.Fatalf("Confirm reservation: %v", err)
	}

	after, err := stock.GetByID(ctx, st.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !after.Quantity.Equal(decimal.NewFromInt(45)) {
		t.Errorf("expected quantity 45 after confirming a 5-unit reservation, got %s", after.Quantity)
	}
	if !after.ReservedQuantity.Equal(beforeReserved) {
		t.Errorf("reserved_quantity should return to pre-reserve value %s, got %s", beforeReserved, after.ReservedQuantity)
	}
}

// TestReservation_ExpiresAtNow_Fails is the spec §8 boundary behavior.
func TestReservation_ExpiresAtNow_Fails(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	pool.Exec(ctx, `TRUNCATE TABLE reservations, stock_movements, stock_records, stores CASCADE`)
	pool.Exec(ctx, `INSERT INTO stores (id, company_id, code, name) VALUES ('store-1', 1, 'S1', 'Store One')`)

	stock := core.NewStockService(pool)
	reservations := core.NewReservationService(pool)

	st, err := stock.Initialize(ctx, "store-1", core.NewProductTarget("prod-1"), decimal.Zero, nil, decimal.NewFromInt(10), "tester")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := reservations.Create(ctx, st.ID, "cart", "cart-3", decimal.NewFromInt(1), time.Now(), "tester"); err == nil {
		t.Error("expected reservation with expires_at == now to fail")
	}
}
