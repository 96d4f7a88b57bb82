package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InsufficientStockError is returned when a requested quantity would exceed a
// product's tracked stock ceiling. The triggering operation is rejected and
// no state is changed.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s): requested %s, available %s",
		e.ProductName, e.ProductID, e.Requested, e.Available)
}

// ValidationError reports a precondition failure at the checkout boundary.
// Recoverable; no state is mutated.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }

// PauseInvariantError is returned when a session cannot be paused because it
// has no cart lines or no selected customer.
type PauseInvariantError struct {
	Reason string
}

func (e PauseInvariantError) Error() string { return e.Reason }

// PersistenceError wraps any failure from the persistence gateway. Session
// state is left exactly as it was before the failed call.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// ErrNotFound is returned when reference validation fails within
// transactional helpers.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
