package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStaleData          = errors.New("stale data")
	ErrInsufficientData   = errors.New("insufficient history")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrOrderAmbiguous     = errors.New("order in ambiguous state")
	ErrPersistence        = errors.New("persistence failure")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrHedgeFailed        = errors.New("hedge leg failed")
)

// StaleDataError is raised when the two legs are too far apart in time.
type StaleDataError struct {
	Symbol string
	Skew   time.Duration
	Limit  time.Duration
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("%s: leg skew %s exceeds %s", e.Symbol, e.Skew, e.Limit)
}

func (e *StaleDataError) Unwrap() error { return ErrStaleData }

// InsufficientHistoryError means the band cannot be trusted. Callers keep the previous band.
type InsufficientHistoryError struct {
	Symbol   string
	Samples  int
	Earliest time.Time
	Reason   string
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("%s: insufficient history (%d samples, earliest %s): %s",
		e.Symbol, e.Samples, e.Earliest.Format(time.RFC3339), e.Reason)
}

func (e *InsufficientHistoryError) Unwrap() error { return ErrInsufficientData }

// InsufficientMarginError is returned by gateways when the exchange refuses an order for margin.
type InsufficientMarginError struct {
	Code    string
	Message string
}

func (e *InsufficientMarginError) Error() string {
	return fmt.Sprintf("insufficient margin [%s]: %s", e.Code, e.Message)
}

func (e *InsufficientMarginError) Unwrap() error { return ErrInsufficientMargin }

// OrderAmbiguousStateError is logged when an order is still NEW or partially filled past its checks.
type OrderAmbiguousStateError struct {
	ClientOrderID string
	Status        OrderStatus
	Attempts      int
}

func (e *OrderAmbiguousStateError) Error() string {
	return fmt.Sprintf("order %s still %s after %d checks", e.ClientOrderID, e.Status, e.Attempts)
}

func (e *OrderAmbiguousStateError) Unwrap() error { return ErrOrderAmbiguous }

// PersistenceError wraps a store failure. The ledger is left unchanged when it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// InvariantViolation is fatal for the symbol that raised it.
type InvariantViolation struct {
	Symbol string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("%s: invariant violation: %s", e.Symbol, e.Detail)
}

func (e *InvariantViolation) Unwrap() error { return ErrInvariantViolation }

// IsFatal reports errors that must stop the engine of the affected symbol.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrPersistence) || errors.Is(err, ErrHedgeFailed)
}
