package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure that crosses a component boundary wraps one of
// the first five so loops can pick a retry policy with errors.Is.
var (
	ErrTransientIO      = errors.New("transient io failure")
	ErrValidation       = errors.New("validation failed")
	ErrInsufficientData = errors.New("insufficient data")
	ErrRiskBreach       = errors.New("risk limit breached")
	ErrConsistency      = errors.New("consistency violation")
)

var (
	ErrDuplicatePosition = fmt.Errorf("%w: position already open", ErrConsistency)
	ErrUnknownOrder      = fmt.Errorf("%w: fill reported for unknown order", ErrConsistency)
	ErrNoPosition        = fmt.Errorf("%w: no open position", ErrConsistency)
	ErrDuplicateOrder    = fmt.Errorf("%w: client order id already used", ErrConsistency)
	ErrOrderUnknown      = fmt.Errorf("%w: order outcome unknown", ErrConsistency)
	ErrOrderHeld         = fmt.Errorf("%w: symbol held for an unresolved order", ErrConsistency)

	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidTransition = errors.New("invalid engine state transition")
	ErrNegativeCapital   = fmt.Errorf("%w: capital would become negative", ErrValidation)
	ErrBelowMinNotional  = fmt.Errorf("%w: order below minimum notional", ErrValidation)
	ErrZeroQuantity      = fmt.Errorf("%w: quantity truncates to zero", ErrValidation)
	ErrLockHeld          = errors.New("lock already held")
	ErrNotFilled         = errors.New("order not filled")
)

// Transient marks err as a retryable boundary failure. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransientIO) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientIO, err)
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientIO) || errors.Is(err, ErrRateLimited)
}

// RiskBreach is returned when an aggregate risk metric exceeds its limit.
type RiskBreach struct {
	Metric string
	Value  float64
	Limit  float64
}

func (b *RiskBreach) Error() string {
	return fmt.Sprintf("%s %.4f exceeds limit %.4f", b.Metric, b.Value, b.Limit)
}

func (b *RiskBreach) Unwrap() error { return ErrRiskBreach }
