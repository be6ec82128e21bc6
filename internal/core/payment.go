package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "Cash"
	PaymentCard     PaymentMethod = "Card"
	PaymentTransfer PaymentMethod = "Transfer"
	PaymentCredit   PaymentMethod = "Credit"
	PaymentOther    PaymentMethod = "Other"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "Pending"
	PaymentCompleted         PaymentStatus = "Completed"
	PaymentFailed            PaymentStatus = "Failed"
	PaymentRefunded          PaymentStatus = "Refunded"
	PaymentPartiallyRefunded PaymentStatus = "PartiallyRefunded"
)

// Payment is owned by its Sale, spec §3/§4.8.
type Payment struct {
	ID             string
	SaleID         string
	Method         PaymentMethod
	Status         PaymentStatus
	Amount         decimal.Decimal
	AmountTendered *decimal.Decimal
	ChangeGiven    *decimal.Decimal
	RefundedAmount decimal.Decimal
	CreatedAt      time.Time
}

// computeChange computes change_given = amount_tendered - amount for cash
// payments; fails with ErrInsufficientAmountTendered if tender is short.
func computeChange(method PaymentMethod, amount decimal.Decimal, amountTendered *decimal.Decimal) (*decimal.Decimal, error) {
	if method != PaymentCash || amountTendered == nil {
		return nil, nil
	}
	if amountTendered.LessThan(amount) {
		return nil, ErrInsufficientAmountTendered()
	}
	change := amountTendered.Sub(amount)
	return &change, nil
}
