package repositories

import (
	"errors"
	"fmt"
)

// LedgerErrorCode enumerates repository error causes for stock and credit ledgers.
type LedgerErrorCode string

const (
	// LedgerErrorUnknown represents an unspecified failure.
	LedgerErrorUnknown LedgerErrorCode = "ledger_unknown"
	// LedgerErrorInsufficientStock indicates a lot no longer holds the requested quantity.
	LedgerErrorInsufficientStock LedgerErrorCode = "ledger_insufficient_stock"
	// LedgerErrorLotNotFound indicates the referenced lot does not exist.
	LedgerErrorLotNotFound LedgerErrorCode = "ledger_lot_not_found"
	// LedgerErrorNotInTransaction indicates a locking read was attempted outside RunInTx.
	LedgerErrorNotInTransaction LedgerErrorCode = "ledger_not_in_transaction"
)

// LedgerError wraps ledger failures with machine readable codes.
type LedgerError struct {
	Op      string
	Code    LedgerErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *LedgerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *LedgerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewLedgerError constructs a typed ledger error.
func NewLedgerError(op string, code LedgerErrorCode, message string, err error) *LedgerError {
	if message == "" {
		message = string(code)
	}
	return &LedgerError{Op: op, Code: code, Message: message, Err: err}
}

// LedgerErrorCodeOf extracts the ledger code from err, or "" when err is not a LedgerError.
func LedgerErrorCodeOf(err error) LedgerErrorCode {
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		return ledgerErr.Code
	}
	return ""
}
