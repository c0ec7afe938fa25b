package models

import "errors"

// Core failure kinds. Every ledger operation reports one of these so callers
// can branch with errors.Is instead of parsing messages.
var (
	// ErrInsufficientBalance indicates a debit would exceed the locked balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientLiquidity indicates the liquidity gate denied a payout.
	ErrInsufficientLiquidity = errors.New("insufficient system liquidity")
	// ErrInvalidStateTransition indicates an approval was attempted on a record
	// whose current status does not permit it.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrLockTimeout indicates the store could not grant a row lock in time.
	ErrLockTimeout = errors.New("lock acquisition timed out")
	// ErrNotFound indicates a missing account, record, or treasury row.
	// Treated as fail-closed, never as infinite liquidity.
	ErrNotFound = errors.New("not found")
)
