// Package memory provides in-process stores that satisfy the domain
// repository interfaces. Lookups return copies so callers can not mutate
// stored state.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/feast/internal/domain/order"
)

var _ order.Repository = (*OrderStore)(nil)

// OrderStore implements order.Repository on a mutex-guarded map.
type OrderStore struct {
	mu        sync.Mutex
	byID      map[string]*order.Order
	byGateway map[string]string
}

// NewOrderStore returns an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		byID:      make(map[string]*order.Order),
		byGateway: make(map[string]string),
	}
}

// Create stores a copy of o. Gateway order ids are unique.
func (s *OrderStore) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gw := o.Payment.GatewayOrderID; gw != "" {
		if _, ok := s.byGateway[gw]; ok {
			return order.ErrDuplicatePayment
		}
		s.byGateway[gw] = o.ID
	}
	s.byID[o.ID] = cloneOrder(o)
	return nil
}

// GetByID returns a copy of the stored order.
func (s *OrderStore) GetByID(_ context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

// GetByGatewayOrderID returns the order created for a gateway order.
func (s *OrderStore) GetByGatewayOrderID(_ context.Context, gatewayOrderID string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byGateway[gatewayOrderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(s.byID[id]), nil
}

// List returns copies of the orders matching f, oldest first.
func (s *OrderStore) List(_ context.Context, f order.ListFilter) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]order.Order, 0, len(s.byID))
	for _, o := range s.byID {
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	slices.SortFunc(out, func(a, b order.Order) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// UpdateStatus implements order.Repository.
func (s *OrderStore) UpdateStatus(_ context.Context, id string, from, to order.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[id]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.Status != from {
		return false, nil
	}
	if err := o.Transition(to, at); err != nil {
		return false, nil
	}
	return true, nil
}

// AssignAgent implements order.Repository.
func (s *OrderStore) AssignAgent(_ context.Context, id, agentID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[id]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.DeliveryAgentID != "" || !o.Status.Assignable() {
		return false, nil
	}
	if err := o.AssignAgent(agentID, at); err != nil {
		return false, nil
	}
	return true, nil
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	if o.Premium != nil {
		p := *o.Premium
		c.Premium = &p
	}
	return &c
}
