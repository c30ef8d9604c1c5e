package order

import (
	"context"
	"time"
)

// StatusChanged is emitted after every committed lifecycle change, including
// order creation (From is empty).
type StatusChanged struct {
	OrderID    string    `json:"orderId"`
	CustomerID string    `json:"customerId"`
	From       Status    `json:"from,omitempty"`
	To         Status    `json:"to"`
	AgentID    string    `json:"agentId,omitempty"`
	At         time.Time `json:"at"`
}

// EventPublisher delivers lifecycle events to downstream consumers such as
// tracking views. Publishing is best-effort and never rolls back a change.
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, ev StatusChanged) error
}

// NopPublisher discards events.
type NopPublisher struct{}

// PublishStatusChanged implements EventPublisher.
func (NopPublisher) PublishStatusChanged(context.Context, StatusChanged) error { return nil }
