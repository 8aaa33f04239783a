package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Reconciliation errors
	ErrConcurrentUpdate  = errors.New("subscription changed concurrently, retry")
	ErrTrialUnavailable  = errors.New("trial already used")
	ErrTariffInactive    = errors.New("tariff is not active")
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	ErrForbidden         = errors.New("forbidden")
	ErrLockNotAcquired   = errors.New("lock not acquired")
)

// ValidationError rejects input at the boundary; no state is changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }

// AdapterError wraps a failed remote call to a payment gateway or the
// provisioning panel. A transition aborted with it was not committed and
// the triggering event should be redelivered.
type AdapterError struct {
	Adapter string
	Op      string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Adapter, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func NewAdapterError(adapter, op string, err error) error {
	if err == nil {
		return nil
	}
	return &AdapterError{Adapter: adapter, Op: op, Err: err}
}

// ConsistencyViolation means a row referenced by a payment is gone. It points
// at earlier corruption and is not retried.
type ConsistencyViolation struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("consistency violation: %s %s: %s", e.Entity, e.ID, e.Reason)
}

func IsAdapterError(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae)
}

func IsConsistencyViolation(err error) bool {
	var cv *ConsistencyViolation
	return errors.As(err, &cv)
}
