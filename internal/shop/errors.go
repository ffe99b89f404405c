package shop

import (
	"context"
	"errors"
	"fmt"

	"nexuspay/internal/catalog"
	"nexuspay/internal/ledger"
)

var (
	ErrProductUnavailable = errors.New("product unavailable")
	ErrOrderEventMissing  = errors.New("ProductOrdered event missing from receipt")
	ErrValidationFailed   = errors.New("validation failed")

	// Precondition rejections. They never reach the ledger.
	ErrBusy               = errors.New("another request is in progress")
	ErrInvalidState       = errors.New("not allowed in the current state")
	ErrSessionInvalidated = errors.New("session invalidated by wallet account change")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrSessionInvalidated, "SessionInvalidated"},
	{ErrBusy, "Busy"},
	{ErrInvalidState, "InvalidState"},
	{ErrValidationFailed, "ValidationFailed"},
	{ErrProductUnavailable, "ProductUnavailable"},
	{ErrOrderEventMissing, "OrderEventMissing"},
	{catalog.ErrCatalogLoadFailed, "CatalogLoadFailed"},
	{ledger.ErrWalletUnavailable, "WalletUnavailable"},
	{ledger.ErrUserRejected, "UserRejected"},
	{ledger.ErrAlreadyPending, "AlreadyPending"},
	{ledger.ErrTransactionReverted, "TransactionReverted"},
	{ledger.ErrTransactionTimeout, "TransactionTimeout"},
}

// ErrorKind names the failure class of err for presentation, or "" when err
// is nil or unclassified.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

// classify makes sure a ledger round-trip failure carries a known kind.
func classify(err error) error {
	if err == nil || ErrorKind(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ledger.ErrTransactionTimeout, err)
	}
	return fmt.Errorf("%w: %v", ledger.ErrTransactionReverted, err)
}
