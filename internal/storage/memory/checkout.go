package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/feast/internal/domain/payment"
)

var _ payment.CheckoutStore = (*CheckoutStore)(nil)

// CheckoutStore implements payment.CheckoutStore on a mutex-guarded map.
type CheckoutStore struct {
	mu   sync.Mutex
	byID map[string]*payment.PendingCheckout
}

// NewCheckoutStore returns an empty CheckoutStore.
func NewCheckoutStore() *CheckoutStore {
	return &CheckoutStore{byID: make(map[string]*payment.PendingCheckout)}
}

// Save stores a copy of pc, replacing any previous checkout with the same
// gateway order id.
func (s *CheckoutStore) Save(_ context.Context, pc *payment.PendingCheckout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[pc.Handle.GatewayOrderID] = cloneCheckout(pc)
	return nil
}

// Get returns a copy of the stored checkout.
func (s *CheckoutStore) Get(_ context.Context, gatewayOrderID string) (*payment.PendingCheckout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc, ok := s.byID[gatewayOrderID]
	if !ok {
		return nil, payment.ErrCheckoutNotFound
	}
	return cloneCheckout(pc), nil
}

// MarkFinalized implements payment.CheckoutStore.
func (s *CheckoutStore) MarkFinalized(_ context.Context, gatewayOrderID, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc, ok := s.byID[gatewayOrderID]
	if !ok {
		return payment.ErrCheckoutNotFound
	}
	if pc.Status == payment.CheckoutFinalized {
		return nil
	}
	pc.Status = payment.CheckoutFinalized
	pc.OrderID = orderID
	pc.UpdatedAt = at
	return nil
}

// MarkAbandoned implements payment.CheckoutStore.
func (s *CheckoutStore) MarkAbandoned(_ context.Context, gatewayOrderID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc, ok := s.byID[gatewayOrderID]
	if !ok {
		return false, payment.ErrCheckoutNotFound
	}
	if pc.Status != payment.CheckoutPending {
		return false, nil
	}
	pc.Status = payment.CheckoutAbandoned
	pc.UpdatedAt = at
	return true, nil
}

// AbandonExpired implements payment.CheckoutStore.
func (s *CheckoutStore) AbandonExpired(_ context.Context, cutoff, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, pc := range s.byID {
		if pc.Status == payment.CheckoutPending && pc.CreatedAt.Before(cutoff) {
			pc.Status = payment.CheckoutAbandoned
			pc.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func cloneCheckout(pc *payment.PendingCheckout) *payment.PendingCheckout {
	c := *pc
	c.Checkout.Items = slices.Clone(pc.Checkout.Items)
	if pc.Checkout.Premium != nil {
		p := *pc.Checkout.Premium
		c.Checkout.Premium = &p
	}
	return &c
}
