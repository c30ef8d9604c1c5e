// Package order models paid orders, their fulfillment lifecycle, and the
// query layer used by list views.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/feast/internal/domain/agent"
)

// maxCASAttempts bounds how often a status change is retried after losing a
// compare-and-set to a concurrent writer.
const maxCASAttempts = 3

// Service encapsulates order lifecycle operations.
type Service struct {
	orders Repository
	agents agent.Repository
	events EventPublisher
	now    func() time.Time
}

// NewService creates an order Service. A nil publisher discards events.
func NewService(orders Repository, agents agent.Repository, events EventPublisher) *Service {
	if events == nil {
		events = NopPublisher{}
	}
	return &Service{
		orders: orders,
		agents: agents,
		events: events,
		now:    time.Now,
	}
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

// List loads the orders matching f and applies search, sort, and pagination.
func (s *Service) List(ctx context.Context, f ListFilter, p QueryParams) (Page, error) {
	orders, err := s.orders.List(ctx, f)
	if err != nil {
		return Page{}, errors.Wrap(err, "list orders")
	}
	return Query(orders, p), nil
}

// Advance moves an order to the given status. Agent assignment is the only
// way into StatusOutForDelivery; see AssignAgent.
func (s *Service) Advance(ctx context.Context, id string, to Status) (*Order, error) {
	for range maxCASAttempts {
		o, err := s.orders.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		from := o.Status
		at := s.now()
		if err := o.Transition(to, at); err != nil {
			return nil, err
		}

		ok, err := s.orders.UpdateStatus(ctx, id, from, to, at)
		if err != nil {
			return nil, errors.Wrap(err, "update status")
		}
		if ok {
			s.publish(ctx, StatusChanged{
				OrderID:    o.ID,
				CustomerID: o.CustomerID,
				From:       from,
				To:         to,
				AgentID:    o.DeliveryAgentID,
				At:         at,
			})
			return o, nil
		}

		zctx.From(ctx).Debug("Status compare-and-set lost, retrying",
			zap.String("order_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
	return nil, errors.Wrapf(ErrConcurrentUpdate, "order %s", id)
}

// Cancel moves a non-terminal order to StatusCancelled. The frozen bill is
// retained.
func (s *Service) Cancel(ctx context.Context, id string) (*Order, error) {
	return s.Advance(ctx, id, StatusCancelled)
}

// AssignAgent assigns a delivery agent and moves the order to
// StatusOutForDelivery atomically. Of several concurrent attempts on one
// order exactly one succeeds; the rest get AlreadyAssignedError.
func (s *Service) AssignAgent(ctx context.Context, id, agentID string) (*Order, error) {
	if _, err := s.agents.GetByID(ctx, agentID); err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get agent")
	}

	for range maxCASAttempts {
		before, err := s.orders.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		at := s.now()
		next := *before
		if err := next.AssignAgent(agentID, at); err != nil {
			return nil, err
		}

		ok, err := s.orders.AssignAgent(ctx, id, agentID, at)
		if err != nil {
			return nil, errors.Wrap(err, "assign agent")
		}
		if ok {
			s.publish(ctx, StatusChanged{
				OrderID:    next.ID,
				CustomerID: next.CustomerID,
				From:       before.Status,
				To:         StatusOutForDelivery,
				AgentID:    agentID,
				At:         at,
			})
			return &next, nil
		}

		// Lost to a concurrent write. The next read reports AlreadyAssignedError
		// or a transition error if the order is no longer assignable.
		zctx.From(ctx).Debug("Agent compare-and-set lost, retrying",
			zap.String("order_id", id),
			zap.String("agent_id", agentID),
		)
	}
	return nil, errors.Wrapf(ErrConcurrentUpdate, "order %s", id)
}

func (s *Service) publish(ctx context.Context, ev StatusChanged) {
	if err := s.events.PublishStatusChanged(ctx, ev); err != nil {
		zctx.From(ctx).Warn("Publish status change failed",
			zap.String("order_id", ev.OrderID),
			zap.String("to", string(ev.To)),
			zap.Error(err),
		)
	}
}
