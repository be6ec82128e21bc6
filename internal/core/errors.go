package core

import "fmt"

// ErrorCategory groups a DomainError for status mapping at the HTTP boundary.
// Grounded on original_source/modules/*/src/error.rs's per-module error enums,
// collapsed into one taxonomy shared by all four cores per spec §7.
type ErrorCategory string

const (
	CategoryValidation   ErrorCategory = "validation"
	CategoryNotFound     ErrorCategory = "not_found"
	CategoryConflict     ErrorCategory = "conflict"
	CategoryInsufficient ErrorCategory = "insufficient_resource"
	CategoryAuthz        ErrorCategory = "authorization"
	CategoryInfra        ErrorCategory = "infrastructure"
)

// DomainError is the single error type returned by every internal/core
// operation. Code is the stable taxonomy value from spec §6/§7's error body;
// Category drives HTTP status mapping in internal/adapters/web/errors.go.
type DomainError struct {
	Code     string
	Category ErrorCategory
	Message  string
	Err      error // wrapped cause, if any (e.g. an infrastructure error)
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Err }

func newErr(code string, cat ErrorCategory, msg string) *DomainError {
	return &DomainError{Code: code, Category: cat, Message: msg}
}

func wrapErr(code string, cat ErrorCategory, msg string, err error) *DomainError {
	return &DomainError{Code: code, Category: cat, Message: msg, Err: err}
}

// Validation
func ErrInvalidCurrency(code string) error {
	return newErr("InvalidCurrency", CategoryValidation, fmt.Sprintf("invalid ISO-4217 currency code %q", code))
}
func ErrInvalidQuantity(msg string) error {
	return newErr("InvalidQuantity", CategoryValidation, msg)
}
func ErrInvalidPrice(msg string) error { return newErr("InvalidPrice", CategoryValidation, msg) }
func ErrInvalidStatus(msg string) error {
	return newErr("InvalidStatus", CategoryValidation, msg)
}
func ErrInvalidPermissionFormat(code string) error {
	return newErr("InvalidPermissionFormat", CategoryValidation, fmt.Sprintf("malformed permission %q", code))
}
func ErrAmbiguousTarget() error {
	return newErr("AmbiguousTarget", CategoryValidation, "exactly one of product_id or variant_id must be set")
}
func ErrSameStoreTransfer() error {
	return newErr("SameStoreTransfer", CategoryValidation, "source and destination store must differ")
}

// Not found
func ErrNotFound(entity, id string) error {
	return newErr(entity+"NotFound", CategoryNotFound, fmt.Sprintf("%s %s not found", entity, id))
}

// Conflict
func ErrDuplicateSku(sku string) error {
	return newErr("DuplicateSku", CategoryConflict, fmt.Sprintf("sku %q already exists", sku))
}
func ErrDuplicateCode(entity, code string) error {
	return newErr(entity+"DuplicateCode", CategoryConflict, fmt.Sprintf("%s code %q already exists", entity, code))
}
func ErrStockAlreadyExists() error {
	return newErr("StockAlreadyExists", CategoryConflict, "stock record already exists for this store/item")
}
func ErrOptimisticLock() error {
	return newErr("OptimisticLockError", CategoryConflict, "record was modified by another process; re-read and retry")
}
func ErrInvalidStatusTransition(from, to string) error {
	return newErr("InvalidStatusTransition", CategoryConflict, fmt.Sprintf("cannot transition from %s to %s", from, to))
}
func ErrInvalidReservationStatus() error {
	return newErr("InvalidReservationStatus", CategoryConflict, "reservation is not in a state that allows this transition")
}
func ErrCartExpired() error {
	return newErr("CartExpired", CategoryConflict, "cart has expired")
}
func ErrReservationExpired() error {
	return newErr("ReservationExpired", CategoryConflict, "expires_at must be in the future")
}
func ErrNoCaiAssigned() error {
	return newErr("NoCaiAssigned", CategoryConflict, "terminal has no active CAI range")
}
func ErrCaiExpired() error {
	return newErr("CaiExpired", CategoryConflict, "active CAI range has expired")
}
func ErrCaiRangeExhausted() error {
	return newErr("CaiRangeExhausted", CategoryConflict, "CAI range is exhausted")
}
func ErrTerminalHasOpenShift() error {
	return newErr("TerminalHasOpenShift", CategoryConflict, "terminal/cashier already has an open shift")
}
func ErrCannotApproveSelfCreatedOrder() error {
	return newErr("CannotApproveSelfCreatedOrder", CategoryConflict, "the creator of a document may not approve it")
}

// Insufficient resource
func ErrInsufficientStock() error {
	return newErr("InsufficientStock", CategoryInsufficient, "not enough available stock")
}
func ErrInsufficientAmountTendered() error {
	return newErr("InsufficientAmountTendered", CategoryInsufficient, "amount tendered is less than the amount due")
}
func ErrExceedsOrderedQuantity() error {
	return newErr("ExceedsOrderedQuantity", CategoryInsufficient, "received quantity would exceed ordered quantity")
}
func ErrReturnQuantityExceedsSaleQuantity() error {
	return newErr("ReturnQuantityExceedsSaleQuantity", CategoryInsufficient, "return quantity exceeds the original sale item quantity")
}

// Authorization
func ErrMissingPermission(perm string) error {
	return newErr("MissingPermission", CategoryAuthz, fmt.Sprintf("missing permission %q", perm))
}
func ErrInactiveUser() error {
	return newErr("InactiveUser", CategoryAuthz, "user account is not active")
}
func ErrUnauthenticated() error {
	return newErr("Unauthenticated", CategoryAuthz, "missing or invalid bearer token")
}
func ErrInvalidCredentials() error {
	return newErr("InvalidCredentials", CategoryAuthz, "invalid username or password")
}

// Infrastructure
func ErrInfra(msg string, err error) error {
	return wrapErr("InfrastructureError", CategoryInfra, msg, err)
}
