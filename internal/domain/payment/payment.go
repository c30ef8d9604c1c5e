// Package payment verifies gateway payments and turns them into orders
// exactly once.
package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/feast/internal/domain/identity"
	"github.com/xenking/feast/internal/domain/pricing"
)

// Gateway is the external payment processor.
type Gateway interface {
	// CreateOrder registers a chargeable amount with the gateway and returns
	// its handle. Failures to reach the gateway are *GatewayUnavailableError.
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*Handle, error)
}

// Handle identifies a gateway order created for one checkout attempt.
type Handle struct {
	GatewayOrderID string          `json:"gatewayOrderId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Receipt        string          `json:"receipt,omitempty"`
}

// Callback is the client-reported result of a gateway payment.
type Callback struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Checkout is everything needed to create an order once payment succeeds.
// It is frozen when the gateway order is created.
type Checkout struct {
	CustomerID     string                    `json:"customerId"`
	CustomerName   string                    `json:"customerName"`
	RestaurantID   string                    `json:"restaurantId"`
	RestaurantName string                    `json:"restaurantName"`
	Items          []pricing.LineItem        `json:"items"`
	Bill           pricing.Bill              `json:"bill"`
	OfferID        string                    `json:"offerId,omitempty"`
	Premium        *pricing.PremiumBreakdown `json:"premium,omitempty"`
	Address        identity.Address          `json:"address"`
	PaymentMethod  string                    `json:"paymentMethod"`
}

// CheckoutStatus tracks a pending checkout through payment.
type CheckoutStatus string

const (
	CheckoutPending   CheckoutStatus = "pending"
	CheckoutFinalized CheckoutStatus = "finalized"
	CheckoutAbandoned CheckoutStatus = "abandoned"
)

// PendingCheckout is a checkout waiting for its payment callback.
type PendingCheckout struct {
	Handle    Handle
	Checkout  Checkout
	Status    CheckoutStatus
	OrderID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CheckoutStore persists pending checkouts keyed by gateway order id.
type CheckoutStore interface {
	Save(ctx context.Context, pc *PendingCheckout) error
	Get(ctx context.Context, gatewayOrderID string) (*PendingCheckout, error)
	// MarkFinalized records the created order. It is a no-op for an already
	// finalized checkout.
	MarkFinalized(ctx context.Context, gatewayOrderID, orderID string, at time.Time) error
	// MarkAbandoned reports false when the checkout is no longer pending.
	MarkAbandoned(ctx context.Context, gatewayOrderID string, at time.Time) (bool, error)
	// AbandonExpired marks pending checkouts created before cutoff as
	// abandoned and returns how many were changed.
	AbandonExpired(ctx context.Context, cutoff, at time.Time) (int, error)
}

// Locker provides a lock shared between service instances.
type Locker interface {
	// Lock acquires key for at most ttl. It returns ErrLocked when another
	// holder owns the key.
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// NopLocker always succeeds. Use it when a single instance serves traffic.
type NopLocker struct{}

// Lock implements Locker.
func (NopLocker) Lock(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
