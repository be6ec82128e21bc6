package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type SaleType string

const (
	SaleTypePOS       SaleType = "POS"
	SaleTypeEcommerce SaleType = "Ecommerce"
)

type SaleStatus string

const (
	SaleDraft     SaleStatus = "Draft"
	SalePending   SaleStatus = "Pending"
	SaleCompleted SaleStatus = "Completed"
	SaleVoided    SaleStatus = "Voided"
	SaleRefunded  SaleStatus = "Refunded"
)

type DiscountType string

const (
	DiscountNone    DiscountType = ""
	DiscountPercent DiscountType = "Percent"
	DiscountFixed   DiscountType = "Fixed"
)

// SaleItem is one line of a sale or cart. ReservationID is set when the
// item's quantity was reserved ahead of completion (the normal e-commerce
// cart path); nil means Complete must decrement stock directly.
type SaleItem struct {
	ID            string
	Target        Target
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
	DiscountPc    decimal.Decimal
	TaxPc         decimal.Decimal
	ReservationID *string
}

func (i SaleItem) Subtotal() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

func (i SaleItem) LineTotal() decimal.Decimal {
	one := decimal.NewFromInt(1)
	return i.Subtotal().Mul(one.Sub(i.DiscountPc)).Mul(one.Add(i.TaxPc))
}

type Sale struct {
	ID             string
	InvoiceNumber  *string
	SaleType       SaleType
	Status         SaleStatus
	StoreID        string
	TerminalID     *string
	ShiftID        *string
	CashierID      *string
	CustomerID     *string
	Items          []SaleItem
	Payments       []Payment
	DiscountType   DiscountType
	DiscountValue  decimal.Decimal
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
	CreatedAt      time.Time
	CompletedAt    *time.Time
	VoidedAt       *time.Time
}

// recompute derives subtotal/discount_amount/tax_amount/total from items and
// the sale-level discount, spec §4.8. A fixed sale-level discount is capped
// at subtotal.
func (s *Sale) recompute() {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, it := range s.Items {
		subtotal = subtotal.Add(it.Subtotal().Mul(decimal.NewFromInt(1).Sub(it.DiscountPc)))
		tax = tax.Add(it.LineTotal().Sub(it.Subtotal().Mul(decimal.NewFromInt(1).Sub(it.DiscountPc))))
	}
	s.Subtotal = subtotal

	discount := decimal.Zero
	switch s.DiscountType {
	case DiscountPercent:
		discount = subtotal.Mul(s.DiscountValue)
	case DiscountFixed:
		discount = s.DiscountValue
		if discount.GreaterThan(subtotal) {
			discount = subtotal
		}
	}
	s.DiscountAmount = discount
	s.TaxAmount = tax
	s.Total = subtotal.Sub(discount).Add(tax)
}

// AmountPaid, AmountDue, IsFullyPaid are derived from the payments
// collection per spec §4.8.
func (s *Sale) AmountPaid() decimal.Decimal {
	paid := decimal.Zero
	for _, p := range s.Payments {
		if p.Status == PaymentCompleted {
			paid = paid.Add(p.Amount).Sub(p.RefundedAmount)
		}
	}
	return paid
}

func (s *Sale) AmountDue() decimal.Decimal {
	return s.Total.Sub(s.AmountPaid())
}

func (s *Sale) IsFullyPaid() bool {
	return !s.AmountDue().GreaterThan(decimal.Zero)
}

func (s *Sale) TotalRefunded() decimal.Decimal {
	refunded := decimal.Zero
	for _, p := range s.Payments {
		refunded = refunded.Add(p.RefundedAmount)
	}
	return refunded
}

type SaleService interface {
	CreateDraft(ctx context.Context, storeID string, saleType SaleType, customerID *string) (*Sale, error)
	AddItem(ctx context.Context, saleID string, item SaleItem) (*Sale, error)
	RemoveItem(ctx context.Context, saleID, itemID string) (*Sale, error)
	ApplyDiscount(ctx context.Context, saleID string, discountType DiscountType, value decimal.Decimal) (*Sale, error)
	AddPayment(ctx context.Context, saleID string, method PaymentMethod, amount decimal.Decimal, amountTendered *decimal.Decimal) (*Sale, error)
	// Complete requires >=1 item and is_fully_paid; POS sales additionally
	// require a valid open shift/terminal/CAI. Spec §4.8.
	Complete(ctx context.Context, saleID, terminalID, shiftID, cashierID, actorID string) (*Sale, error)
	Void(ctx context.Context, saleID, actorID string) (*Sale, error)
	Get(ctx context.Context, saleID string) (*Sale, error)

	// recordRefund is called by CreditNoteService.Apply within its own
	// transaction to post a refund against a payment.
	recordRefund(ctx context.Context, tx pgx.Tx, saleID, paymentID string, amount decimal.Decimal) (*Sale, error)
}

type saleService struct {
	pool   *pgxpool.Pool
	cai    CaiService
	shift  ShiftService
	audit  AuditSink
	ledger LedgerService
	rules  RuleEngine
}

func NewSaleService(pool *pgxpool.Pool, cai CaiService, shift ShiftService, audit AuditSink, ledger LedgerService, rules RuleEngine) SaleService {
	return &saleService{pool: pool, cai: cai, shift: shift, audit: audit, ledger: ledger, rules: rules}
}

// accountRuleForPaymentMethod maps a payment method to the account_rules
// rule_type resolved for its debit side of a sale-completion posting.
func accountRuleForPaymentMethod(method PaymentMethod) string {
	switch method {
	case PaymentCash:
		return "CASH"
	case PaymentCard:
		return "CARD_CLEARING"
	case PaymentTransfer:
		return "BANK"
	case PaymentCredit:
		return "ACCOUNTS_RECEIVABLE"
	default:
		return "OTHER_RECEIVABLE"
	}
}

func (s *saleService) CreateDraft(ctx context.Context, storeID string, saleType SaleType, customerID *string) (*Sale, error) {
	sale := &Sale{ID: newID(), SaleType: saleType, Status: SaleDraft, StoreID: storeID, CustomerID: customerID}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sales (id, sale_type, status, store_id, customer_id, discount_type, discount_value, created_at)
		VALUES ($1, $2, $3, $4, $5, '', 0, NOW())
	`, sale.ID, sale.SaleType, sale.Status, sale.StoreID, sale.CustomerID)
	if err != nil {
		return nil, ErrInfra("failed to insert sale", err)
	}
	return sale, nil
}

func (s *saleService) AddItem(ctx context.Context, saleID string, item SaleItem) (*Sale, error) {
	sale, err := s.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status != SaleDraft {
		return nil, ErrInvalidStatus("sale must be Draft to edit items")
	}
	if err := item.Target.validate(); err != nil {
		return nil, err
	}
	item.ID = newID()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sale_items (id, sale_id, product_id, variant_id, quantity, unit_price, discount_pct, tax_pct, reservation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, saleID, item.Target.ProductID, item.Target.VariantID, item.Quantity, item.UnitPrice, item.DiscountPc, item.TaxPc, item.ReservationID)
	if err != nil {
		return nil, ErrInfra("failed to insert sale item", err)
	}
	return s.recomputeAndPersist(ctx, saleID)
}

func (s *saleService) RemoveItem(ctx context.Context, saleID, itemID string) (*Sale, error) {
	sale, err := s.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status != SaleDraft {
		return nil, ErrInvalidStatus("sale must be Draft to edit items")
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM sale_items WHERE id = $1 AND sale_id = $2`, itemID, saleID); err != nil {
		return nil, ErrInfra("failed to remove sale item", err)
	}
	return s.recomputeAndPersist(ctx, saleID)
}

func (s *saleService) ApplyDiscount(ctx context.Context, saleID string, discountType DiscountType, value decimal.Decimal) (*Sale, error) {
	sale, err := s.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status != SaleDraft {
		return nil, ErrInvalidStatus("sale must be Draft to apply a discount")
	}
	if _, err := s.pool.Exec(ctx, `UPDATE sales SET discount_type = $1, discount_value = $2 WHERE id = $3`, discountType, value, saleID); err != nil {
		return nil, ErrInfra("failed to apply discount", err)
	}
	return s.recomputeAndPersist(ctx, saleID)
}

func (s *saleService) recomputeAndPersist(ctx context.Context, saleID string) (*Sale, error) {
	sale, err := s.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}
	sale.recompute()
	_, err = s.pool.Exec(ctx, `
		UPDATE sales SET subtotal = $1, discount_amount = $2, tax_amount = $3, total = $4 WHERE id = $5
	`, sale.Subtotal, sale.DiscountAmount, sale.TaxAmount, sale.Total, saleID)
	if err != nil {
		return nil, ErrInfra("failed to persist sale totals", err)
	}
	return sale, nil
}

func (s *saleService) AddPayment(ctx context.Context, saleID string, method PaymentMethod, amount decimal.Decimal, amountTendered *decimal.Decimal) (*Sale, error) {
	sale, err := s.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status != SaleDraft {
		return nil, ErrInvalidStatus("sale must be Draft to accept payment")
	}
	change, err := computeChange(method, amount, amountTendered)
	if err != nil {
		return nil, err
	}
	p := Payment{ID: newID(), SaleID: saleID, Method: method, Status: PaymentCompleted, Amount: amount, AmountTendered: amountTendered, ChangeGiven: change}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO payments (id, sale_id, method, status, amount, amount_tendered, change_given, refunded_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NOW())
	`, p.ID, p.SaleID, p.Method, p.Status, p.Amount, p.AmountTendered, p.ChangeGiven)
	if err != nil {
		return nil, ErrInfra("failed to insert payment", err)
	}
	return s.Get(ctx, saleID)
}

// Complete pulls an invoice number from the terminal's CAI (POS only),
// confirms each item's reservation or writes a direct stock decrement,
// credits the shift, and materializes the invoice. Spec §4.8.
func (s *saleService) Complete(ctx context.Context, saleID, terminalID, shiftID, cashierID, actorID string) (*Sale, error) {
	sale, err := s.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status != SaleDraft {
		return nil, ErrInvalidStatusTransition(string(sale.Status), string(SaleCompleted))
	}
	if len(sale.Items) == 0 {
		return nil, ErrInvalidStatus("sale must have at least one item")
	}
	if !sale.IsFullyPaid() {
		return nil, ErrInsufficientAmountTendered()
	}

	var invoiceNumber *string
	if sale.SaleType == SaleTypePOS {
		if terminalID == "" || shiftID == "" {
			return nil, ErrInvalidStatus("POS sale requires an open shift and terminal")
		}
		sh, err := s.shift.Get(ctx, shiftID)
		if err != nil {
			return nil, err
		}
		if sh.Status != ShiftOpen || sh.TerminalID != terminalID {
			return nil, ErrInvalidStatus("shift is not open for this terminal")
		}
		number, _, err := s.cai.NextInvoiceNumber(ctx, terminalID)
		if err != nil {
			return nil, err
		}
		formatted := formatInvoiceNumber(number)
		invoiceNumber = &formatted
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	refID := sale.ID
	for _, it := range sale.Items {
		if it.ReservationID != nil {
			st, err := lockStockByTargetForUpdateTx(ctx, tx, sale.StoreID, it.Target)
			if err != nil {
				return nil, err
			}
			if _, err := commitReservedQuantityTx(ctx, tx, st.ID, it.Quantity, nil, "HNL", "sale", refID, actorID); err != nil {
				return nil, err
			}
		} else {
			st, err := lockStockByTargetForUpdateTx(ctx, tx, sale.StoreID, it.Target)
			if err != nil {
				return nil, err
			}
			if _, err := applyDeltaTx(ctx, tx, st.ID, it.Quantity.Neg(), MovementOut, nil, nil, "HNL", ptr("sale"), &refID, actorID); err != nil {
				return nil, err
			}
		}
	}

	if sale.SaleType == SaleTypePOS {
		for _, p := range sale.Payments {
			if p.Status != PaymentCompleted {
				continue
			}
			if err := s.shift.CreditSale(ctx, tx, shiftID, p.Method, p.Amount); err != nil {
				return nil, err
			}
		}
	}

	if s.ledger != nil && s.rules != nil {
		if err := s.postSaleCompletionTx(ctx, tx, sale); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE sales SET status = $1, invoice_number = $2, terminal_id = $3, shift_id = $4, cashier_id = $5, completed_at = NOW()
		WHERE id = $6
	`, SaleCompleted, invoiceNumber, nullableStr(terminalID), nullableStr(shiftID), nullableStr(cashierID), saleID); err != nil {
		return nil, ErrInfra("failed to update sale status", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	s.audit.Record(ctx, AuditEntry{EntityType: "sale", EntityID: saleID, Action: AuditActionUpdated, ActorID: actorID})
	return s.Get(ctx, saleID)
}

// postSaleCompletionTx posts the mechanical GL side effect of a completed
// sale: one debit line per distinct tendered payment method (cash, card
// clearing, bank, receivable), against revenue (subtotal less discount) and,
// if any line carries tax, a tax-payable credit — spec §4.8/§9 domain stack.
func (s *saleService) postSaleCompletionTx(ctx context.Context, tx pgx.Tx, sale *Sale) error {
	companyID, err := resolveCompanyIDForStore(ctx, tx, sale.StoreID)
	if err != nil {
		return err
	}
	companyCode, err := resolveCompanyCodeForStore(ctx, tx, sale.StoreID)
	if err != nil {
		return err
	}

	debitByRule := map[string]decimal.Decimal{}
	for _, p := range sale.Payments {
		if p.Status != PaymentCompleted {
			continue
		}
		rule := accountRuleForPaymentMethod(p.Method)
		debitByRule[rule] = debitByRule[rule].Add(p.Amount)
	}
	if len(debitByRule) == 0 {
		return nil
	}

	revenueAcct, err := s.rules.ResolveAccount(ctx, companyID, "REVENUE")
	if err != nil {
		return ErrInfra("failed to resolve revenue account", err)
	}

	revenue := sale.Total.Sub(sale.TaxAmount)
	lines := make([]ProposalLine, 0, len(debitByRule)+2)
	for rule, amount := range debitByRule {
		acct, err := s.rules.ResolveAccount(ctx, companyID, rule)
		if err != nil {
			return ErrInfra("failed to resolve "+rule+" account", err)
		}
		lines = append(lines, ProposalLine{AccountCode: acct, IsDebit: true, Amount: amount.StringFixed(2)})
	}
	lines = append(lines, ProposalLine{AccountCode: revenueAcct, IsDebit: false, Amount: revenue.StringFixed(2)})
	if !sale.TaxAmount.IsZero() {
		taxAcct, err := s.rules.ResolveAccount(ctx, companyID, "TAX_PAYABLE")
		if err != nil {
			return ErrInfra("failed to resolve tax payable account", err)
		}
		lines = append(lines, ProposalLine{AccountCode: taxAcct, IsDebit: false, Amount: sale.TaxAmount.StringFixed(2)})
	}

	proposal := Proposal{
		DocumentTypeCode:    "SAL",
		CompanyCode:         companyCode,
		IdempotencyKey:      newID(),
		TransactionCurrency: "HNL",
		ExchangeRate:        "1.0",
		Summary:             "Sale completion " + sale.ID,
		PostingDate:         time.Now().Format("2006-01-02"),
		DocumentDate:        time.Now().Format("2006-01-02"),
		Lines:               lines,
	}
	return s.ledger.CommitInTx(ctx, tx, proposal)
}

// Void reverses a Completed sale's inventory effect with compensating
// kardex entries and releases any remaining obligations. Invoice numbers
// are never recycled. Spec §4.8.
func (s *saleService) Void(ctx context.Context, saleID, actorID string) (*Sale, error) {
	sale, err := s.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status != SaleCompleted {
		return nil, ErrInvalidStatusTransition(string(sale.Status), string(SaleVoided))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	refID := sale.ID
	for _, it := range sale.Items {
		st, err := lockStockByTargetForUpdateTx(ctx, tx, sale.StoreID, it.Target)
		if err != nil {
			return nil, err
		}
		if _, err := applyDeltaTx(ctx, tx, st.ID, it.Quantity, MovementAdjustment, ptr("sale_void"), nil, "HNL", ptr("sale"), &refID, actorID); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE sales SET status = $1, voided_at = NOW() WHERE id = $2`, SaleVoided, saleID); err != nil {
		return nil, ErrInfra("failed to update sale status", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	s.audit.Record(ctx, AuditEntry{EntityType: "sale", EntityID: saleID, Action: AuditActionUpdated, ActorID: actorID})
	return s.Get(ctx, saleID)
}

// recordRefund posts a refund against a payment inside the caller's
// transaction (CreditNoteService.Apply); the sale becomes Refunded only
// once total refunded equals total paid.
func (s *saleService) recordRefund(ctx context.Context, tx pgx.Tx, saleID, paymentID string, amount decimal.Decimal) (*Sale, error) {
	var status SaleStatus
	var total decimal.Decimal
	if err := tx.QueryRow(ctx, `SELECT status, total FROM sales WHERE id = $1 FOR UPDATE`, saleID).Scan(&status, &total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Sale", saleID)
		}
		return nil, ErrInfra("failed to lock sale", err)
	}
	if status != SaleCompleted {
		return nil, ErrInvalidStatus("sale must be Completed to refund")
	}

	var payAmount, refunded decimal.Decimal
	if err := tx.QueryRow(ctx, `SELECT amount, refunded_amount FROM payments WHERE id = $1 AND sale_id = $2 FOR UPDATE`, paymentID, saleID).Scan(&payAmount, &refunded); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Payment", paymentID)
		}
		return nil, ErrInfra("failed to lock payment", err)
	}
	newRefunded := refunded.Add(amount)
	if newRefunded.GreaterThan(payAmount) {
		newRefunded = payAmount
	}
	payStatus := PaymentPartiallyRefunded
	if newRefunded.GreaterThanOrEqual(payAmount) {
		payStatus = PaymentRefunded
	}
	if _, err := tx.Exec(ctx, `UPDATE payments SET refunded_amount = $1, status = $2 WHERE id = $3`, newRefunded, payStatus, paymentID); err != nil {
		return nil, ErrInfra("failed to update payment refund", err)
	}

	var totalPaid, totalRefunded decimal.Decimal
	rows, err := tx.Query(ctx, `SELECT amount, refunded_amount FROM payments WHERE sale_id = $1 AND status IN ($2, $3, $4)`, saleID, PaymentCompleted, PaymentRefunded, PaymentPartiallyRefunded)
	if err != nil {
		return nil, ErrInfra("failed to query sale payments", err)
	}
	for rows.Next() {
		var amt, ref decimal.Decimal
		if err := rows.Scan(&amt, &ref); err != nil {
			rows.Close()
			return nil, ErrInfra("failed to scan payment", err)
		}
		totalPaid = totalPaid.Add(amt)
		totalRefunded = totalRefunded.Add(ref)
	}
	rows.Close()

	if totalRefunded.GreaterThanOrEqual(totalPaid) {
		if _, err := tx.Exec(ctx, `UPDATE sales SET status = $1 WHERE id = $2`, SaleRefunded, saleID); err != nil {
			return nil, ErrInfra("failed to update sale status", err)
		}
	}
	return s.Get(ctx, saleID)
}

func (s *saleService) Get(ctx context.Context, saleID string) (*Sale, error) {
	var sale Sale
	err := s.pool.QueryRow(ctx, `
		SELECT id, invoice_number, sale_type, status, store_id, terminal_id, shift_id, cashier_id, customer_id,
		       discount_type, discount_value, subtotal, discount_amount, tax_amount, total, created_at, completed_at, voided_at
		FROM sales WHERE id = $1
	`, saleID).Scan(&sale.ID, &sale.InvoiceNumber, &sale.SaleType, &sale.Status, &sale.StoreID, &sale.TerminalID, &sale.ShiftID, &sale.CashierID, &sale.CustomerID,
		&sale.DiscountType, &sale.DiscountValue, &sale.Subtotal, &sale.DiscountAmount, &sale.TaxAmount, &sale.Total, &sale.CreatedAt, &sale.CompletedAt, &sale.VoidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Sale", saleID)
		}
		return nil, ErrInfra("failed to fetch sale", err)
	}

	items, err := s.pool.Query(ctx, `SELECT id, product_id, variant_id, quantity, unit_price, discount_pct, tax_pct, reservation_id FROM sale_items WHERE sale_id = $1`, saleID)
	if err != nil {
		return nil, ErrInfra("failed to query sale items", err)
	}
	for items.Next() {
		var it SaleItem
		if err := items.Scan(&it.ID, &it.Target.ProductID, &it.Target.VariantID, &it.Quantity, &it.UnitPrice, &it.DiscountPc, &it.TaxPc, &it.ReservationID); err != nil {
			items.Close()
			return nil, ErrInfra("failed to scan sale item", err)
		}
		sale.Items = append(sale.Items, it)
	}
	items.Close()

	pays, err := s.pool.Query(ctx, `SELECT id, sale_id, method, status, amount, amount_tendered, change_given, refunded_amount, created_at FROM payments WHERE sale_id = $1`, saleID)
	if err != nil {
		return nil, ErrInfra("failed to query payments", err)
	}
	for pays.Next() {
		var p Payment
		if err := pays.Scan(&p.ID, &p.SaleID, &p.Method, &p.Status, &p.Amount, &p.AmountTendered, &p.ChangeGiven, &p.RefundedAmount, &p.CreatedAt); err != nil {
			pays.Close()
			return nil, ErrInfra("failed to scan payment", err)
		}
		sale.Payments = append(sale.Payments, p)
	}
	pays.Close()

	return &sale, nil
}

func formatInvoiceNumber(n int64) string {
	return time.Now().Format("20060102") + "-" + decimal.NewFromInt(n).String()
}

func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
