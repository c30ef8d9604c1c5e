package payment

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrCheckoutNotFound is returned when no checkout exists for a gateway
	// order id.
	ErrCheckoutNotFound = errors.New("checkout not found")
	// ErrCheckoutClosed is returned when dismissing a checkout that was
	// already paid.
	ErrCheckoutClosed = errors.New("checkout already finalized")
	// ErrLocked is returned by Locker when the key is held elsewhere.
	ErrLocked = errors.New("lock is held")
)

// GatewayUnavailableError indicates the payment gateway could not be reached
// or failed. The caller may retry the whole checkout.
type GatewayUnavailableError struct {
	Op  string
	Err error
}

func (e *GatewayUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("payment gateway unavailable: %s", e.Op)
	}
	return fmt.Sprintf("payment gateway unavailable: %s: %v", e.Op, e.Err)
}

func (e *GatewayUnavailableError) Unwrap() error { return e.Err }

// Temporary reports that the failure is retryable.
func (e *GatewayUnavailableError) Temporary() bool { return true }

// PaymentVerificationFailedError indicates a callback that must not create an
// order: a bad signature, an unknown gateway order, or a bill that does not
// match the amount the gateway was asked to charge.
type PaymentVerificationFailedError struct {
	GatewayOrderID  string
	AttemptedAmount decimal.Decimal
	Reason          string
}

func (e *PaymentVerificationFailedError) Error() string {
	return fmt.Sprintf("payment verification failed for %s: %s", e.GatewayOrderID, e.Reason)
}
