package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/feast/internal/domain/identity"
	"github.com/xenking/feast/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicatePayment is returned by Repository.Create when an order
	// already exists for the same gateway order id.
	ErrDuplicatePayment = errors.New("order already exists for gateway order")
	// ErrConcurrentUpdate is returned when a compare-and-set keeps losing to
	// concurrent writers.
	ErrConcurrentUpdate = errors.New("order was modified concurrently")
)

// PaymentStatus is the settlement state of an order's payment.
type PaymentStatus string

// PaymentPaid is the only status an order can be created with.
const PaymentPaid PaymentStatus = "paid"

// PaymentDetails holds the verified gateway transaction. Written once at
// creation.
type PaymentDetails struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

// Order is a paid customer order. Items, bill, premium breakdown and delivery
// address are frozen copies taken at checkout.
type Order struct {
	ID              string
	CustomerID      string
	CustomerName    string
	RestaurantID    string
	RestaurantName  string
	Items           []pricing.LineItem
	Bill            pricing.Bill
	OfferID         string
	Premium         *pricing.PremiumBreakdown
	PaymentMethod   string
	PaymentStatus   PaymentStatus
	Payment         PaymentDetails
	DeliveryAddress identity.Address
	Status          Status
	DeliveryAgentID string
	Timeline        Timeline
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

// Transition moves the order to status to, recording the transition time.
func (o *Order) Transition(to Status, at time.Time) error {
	if err := CanTransition(o.Status, to); err != nil {
		return err
	}
	o.enter(to, at)
	return nil
}

// AssignAgent assigns a delivery agent and moves the order to
// StatusOutForDelivery in one step. An order accepts at most one agent.
func (o *Order) AssignAgent(agentID string, at time.Time) error {
	if o.Status.Terminal() {
		return &InvalidTransitionError{From: o.Status, To: StatusOutForDelivery, Reason: "order is " + string(o.Status)}
	}
	if o.DeliveryAgentID != "" {
		return &AlreadyAssignedError{OrderID: o.ID, AgentID: o.DeliveryAgentID}
	}
	if !o.Status.Assignable() {
		return &InvalidTransitionError{From: o.Status, To: StatusOutForDelivery, Reason: "agent can not be assigned in this state"}
	}
	o.DeliveryAgentID = agentID
	o.enter(StatusOutForDelivery, at)
	return nil
}

func (o *Order) enter(s Status, at time.Time) {
	o.Status = s
	o.Timeline.mark(s, at)
	if s.Terminal() {
		t := at
		o.ResolvedAt = &t
	}
}

// Timeline records when the order entered each state. States the order
// skipped stay nil.
type Timeline struct {
	PlacedAt         time.Time
	PreparingAt      *time.Time
	ReadyAt          *time.Time
	OutForDeliveryAt *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
}

// TimelineEntry is one entered state for display.
type TimelineEntry struct {
	Status Status
	At     time.Time
}

func (t *Timeline) mark(s Status, at time.Time) {
	ts := at
	switch s {
	case StatusPending:
		t.PlacedAt = at
	case StatusPreparing:
		t.PreparingAt = &ts
	case StatusReady:
		t.ReadyAt = &ts
	case StatusOutForDelivery:
		t.OutForDeliveryAt = &ts
	case StatusDelivered:
		t.DeliveredAt = &ts
	case StatusCancelled:
		t.CancelledAt = &ts
	}
}

// Entries returns the states actually entered, in lifecycle order.
func (t Timeline) Entries() []TimelineEntry {
	entries := []TimelineEntry{{Status: StatusPending, At: t.PlacedAt}}
	for _, e := range []struct {
		s  Status
		at *time.Time
	}{
		{StatusPreparing, t.PreparingAt},
		{StatusReady, t.ReadyAt},
		{StatusOutForDelivery, t.OutForDeliveryAt},
		{StatusDelivered, t.DeliveredAt},
		{StatusCancelled, t.CancelledAt},
	} {
		if e.at != nil {
			entries = append(entries, TimelineEntry{Status: e.s, At: *e.at})
		}
	}
	return entries
}

// ListFilter narrows Repository.List. Zero value lists every order.
type ListFilter struct {
	CustomerID string
}

// Repository defines persistence operations for orders. Status changes are
// compare-and-set operations: they report false without writing when the
// stored order no longer satisfies the precondition.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
	// UpdateStatus sets status to `to` only if the stored status is `from`.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)
	// AssignAgent sets the agent and StatusOutForDelivery only if no agent is
	// assigned and the stored status is assignable.
	AssignAgent(ctx context.Context, id, agentID string, at time.Time) (bool, error)
}
