package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Status is a fulfillment state.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// AssignableStatuses are the states in which a delivery agent may be assigned.
var AssignableStatuses = []Status{StatusPending, StatusPreparing, StatusReady}

// rank orders the happy path. Cancelled sorts last.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusPreparing:
		return 1
	case StatusReady:
		return 2
	case StatusOutForDelivery:
		return 3
	case StatusDelivered:
		return 4
	case StatusCancelled:
		return 5
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Assignable reports whether an agent may be assigned in this state.
func (s Status) Assignable() bool {
	return s == StatusPending || s == StatusPreparing || s == StatusReady
}

// ErrUnknownStatus is returned by ParseStatus.
var ErrUnknownStatus = errors.New("unknown order status")

// ParseStatus converts a wire value into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", errors.Wrapf(ErrUnknownStatus, "%q", v)
	}
	return s, nil
}

// InvalidTransitionError indicates a status change that the lifecycle forbids.
type InvalidTransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// AlreadyAssignedError indicates the order already has a delivery agent.
type AlreadyAssignedError struct {
	OrderID string
	AgentID string
}

func (e *AlreadyAssignedError) Error() string {
	return fmt.Sprintf("order %s already assigned to agent %s", e.OrderID, e.AgentID)
}

// CanTransition validates a status change requested outside agent
// assignment. Transitions only move forward; out_for_delivery is entered
// only through agent assignment and delivered only from out_for_delivery.
// Cancellation is allowed from every non-terminal state.
func CanTransition(from, to Status) error {
	if !to.Valid() {
		return &InvalidTransitionError{From: from, To: to, Reason: "unknown target status"}
	}
	if from.Terminal() {
		return &InvalidTransitionError{From: from, To: to, Reason: "order is " + string(from)}
	}
	switch {
	case to == StatusCancelled:
		return nil
	case to == StatusOutForDelivery:
		return &InvalidTransitionError{From: from, To: to, Reason: "requires agent assignment"}
	case to == StatusDelivered && from != StatusOutForDelivery:
		return &InvalidTransitionError{From: from, To: to, Reason: "order is not out for delivery"}
	case to.rank() <= from.rank():
		return &InvalidTransitionError{From: from, To: to, Reason: "status can not move backward"}
	}
	return nil
}
