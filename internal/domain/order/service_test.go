package order_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/feast/internal/domain/agent"
	"github.com/xenking/feast/internal/domain/order"
	"github.com/xenking/feast/internal/domain/pricing"
	"github.com/xenking/feast/internal/storage/memory"
)

// --- Mock implementations ---

type mockAgentRepo struct {
	byID map[string]agent.Agent
}

func (m *mockAgentRepo) List(_ context.Context) ([]agent.Agent, error) {
	out := make([]agent.Agent, 0, len(m.byID))
	for _, a := range m.byID {
		out = append(out, a)
	}
	return out, nil
}

func (m *mockAgentRepo) GetByID(_ context.Context, id string) (*agent.Agent, error) {
	a, ok := m.byID[id]
	if !ok {
		return nil, agent.ErrNotFound
	}
	return &a, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []order.StatusChanged
	err    error
}

func (p *recordingPublisher) PublishStatusChanged(_ context.Context, ev order.StatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Events() []order.StatusChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]order.StatusChanged(nil), p.events...)
}

// --- Helpers ---

// contendedStore reports its next `lost` conditional writes as lost, as if
// another writer changed the order between read and write.
type contendedStore struct {
	*memory.OrderStore
	lost int
}

func (s *contendedStore) UpdateStatus(ctx context.Context, id string, from, to order.Status, at time.Time) (bool, error) {
	if s.lost > 0 {
		s.lost--
		return false, nil
	}
	return s.OrderStore.UpdateStatus(ctx, id, from, to, at)
}

func (s *contendedStore) AssignAgent(ctx context.Context, id, agentID string, at time.Time) (bool, error) {
	if s.lost > 0 {
		s.lost--
		return false, nil
	}
	return s.OrderStore.AssignAgent(ctx, id, agentID, at)
}

func newAgents(ids ...string) *mockAgentRepo {
	m := &mockAgentRepo{byID: make(map[string]agent.Agent, len(ids))}
	for _, id := range ids {
		m.byID[id] = agent.Agent{ID: id, Name: "Agent " + id}
	}
	return m
}

func seedOrder(t *testing.T, store *memory.OrderStore, id string, status order.Status) {
	t.Helper()
	placed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(context.Background(), &order.Order{
		ID:            id,
		CustomerID:    "cust-1",
		Items:         []pricing.LineItem{{MenuItemID: "m1", UnitPrice: decimal.NewFromInt(100), Quantity: 1}},
		Bill:          pricing.Bill{Subtotal: decimal.NewFromInt(100), TotalPayable: decimal.NewFromInt(108)},
		PaymentStatus: order.PaymentPaid,
		Payment:       order.PaymentDetails{GatewayOrderID: "gw-" + id},
		Status:        status,
		Timeline:      order.Timeline{PlacedAt: placed},
		CreatedAt:     placed,
	}))
}

// --- Tests ---

func TestService_Advance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	events := &recordingPublisher{}
	svc := order.NewService(store, newAgents(), events)
	seedOrder(t, store, "o1", order.StatusPending)

	o, err := svc.Advance(ctx, "o1", order.StatusPreparing)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPreparing, o.Status)

	stored, err := store.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPreparing, stored.Status)
	require.NotNil(t, stored.Timeline.PreparingAt)

	evs := events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, order.StatusPending, evs[0].From)
	assert.Equal(t, order.StatusPreparing, evs[0].To)
	assert.Equal(t, "cust-1", evs[0].CustomerID)
}

func TestService_AdvanceRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	events := &recordingPublisher{}
	svc := order.NewService(store, newAgents(), events)
	seedOrder(t, store, "o1", order.StatusReady)

	tests := []order.Status{order.StatusPending, order.StatusOutForDelivery, order.StatusDelivered}
	for _, to := range tests {
		_, err := svc.Advance(ctx, "o1", to)
		var te *order.InvalidTransitionError
		require.True(t, errors.As(err, &te), "to %s: %v", to, err)
	}

	stored, err := store.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusReady, stored.Status)
	assert.Empty(t, events.Events())
}

func TestService_AdvanceNotFound(t *testing.T) {
	svc := order.NewService(memory.NewOrderStore(), newAgents(), nil)
	_, err := svc.Advance(context.Background(), "missing", order.StatusPreparing)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	svc := order.NewService(store, newAgents(), nil)
	seedOrder(t, store, "o1", order.StatusPreparing)

	o, err := svc.Cancel(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)
	require.NotNil(t, o.ResolvedAt)
	assert.True(t, decimal.NewFromInt(108).Equal(o.Bill.TotalPayable), "bill must be retained")

	_, err = svc.Cancel(ctx, "o1")
	var te *order.InvalidTransitionError
	require.True(t, errors.As(err, &te))

	_, err = svc.Advance(ctx, "o1", order.StatusReady)
	require.True(t, errors.As(err, &te))
}

func TestService_AssignAgent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	events := &recordingPublisher{}
	svc := order.NewService(store, newAgents("a1", "a2"), events)
	seedOrder(t, store, "o1", order.StatusReady)

	o, err := svc.AssignAgent(ctx, "o1", "a1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusOutForDelivery, o.Status)
	assert.Equal(t, "a1", o.DeliveryAgentID)

	_, err = svc.AssignAgent(ctx, "o1", "a2")
	var ae *order.AlreadyAssignedError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "a1", ae.AgentID)

	delivered, err := svc.Advance(ctx, "o1", order.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, delivered.Status)
	assert.Equal(t, "a1", delivered.DeliveryAgentID)

	evs := events.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, order.StatusOutForDelivery, evs[0].To)
	assert.Equal(t, "a1", evs[0].AgentID)
}

func TestService_RetriesLostWrites(t *testing.T) {
	ctx := context.Background()

	t.Run("AssignAgent", func(t *testing.T) {
		store := &contendedStore{OrderStore: memory.NewOrderStore(), lost: 2}
		seedOrder(t, store.OrderStore, "o1", order.StatusReady)
		svc := order.NewService(store, newAgents("a1"), nil)

		o, err := svc.AssignAgent(ctx, "o1", "a1")
		require.NoError(t, err)
		assert.Equal(t, order.StatusOutForDelivery, o.Status)
		assert.Equal(t, "a1", o.DeliveryAgentID)
	})

	t.Run("Advance", func(t *testing.T) {
		store := &contendedStore{OrderStore: memory.NewOrderStore(), lost: 2}
		seedOrder(t, store.OrderStore, "o1", order.StatusPending)
		svc := order.NewService(store, newAgents(), nil)

		o, err := svc.Advance(ctx, "o1", order.StatusPreparing)
		require.NoError(t, err)
		assert.Equal(t, order.StatusPreparing, o.Status)
	})

	t.Run("GivesUp", func(t *testing.T) {
		store := &contendedStore{OrderStore: memory.NewOrderStore(), lost: 1000}
		seedOrder(t, store.OrderStore, "o1", order.StatusReady)
		svc := order.NewService(store, newAgents("a1"), nil)

		_, err := svc.AssignAgent(ctx, "o1", "a1")
		require.ErrorIs(t, err, order.ErrConcurrentUpdate)

		stored, err := store.GetByID(ctx, "o1")
		require.NoError(t, err)
		assert.Empty(t, stored.DeliveryAgentID)
		assert.Equal(t, order.StatusReady, stored.Status)
	})
}

func TestService_AssignAgentErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	svc := order.NewService(store, newAgents("a1"), nil)
	seedOrder(t, store, "cancelled", order.StatusCancelled)
	seedOrder(t, store, "pending", order.StatusPending)

	_, err := svc.AssignAgent(ctx, "pending", "ghost")
	require.ErrorIs(t, err, agent.ErrNotFound)

	_, err = svc.AssignAgent(ctx, "missing", "a1")
	require.ErrorIs(t, err, order.ErrNotFound)

	_, err = svc.AssignAgent(ctx, "cancelled", "a1")
	var te *order.InvalidTransitionError
	require.True(t, errors.As(err, &te))

	stored, err := store.GetByID(ctx, "cancelled")
	require.NoError(t, err)
	assert.Empty(t, stored.DeliveryAgentID)
}

func TestService_AssignAgentConcurrent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	agentIDs := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8"}
	events := &recordingPublisher{}
	svc := order.NewService(store, newAgents(agentIDs...), events)
	seedOrder(t, store, "o1", order.StatusPreparing)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		assigned int
	)
	for _, id := range agentIDs {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			_, err := svc.AssignAgent(ctx, "o1", agentID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, agentID)
				return
			}
			var ae *order.AlreadyAssignedError
			var te *order.InvalidTransitionError
			if errors.As(err, &ae) || errors.As(err, &te) {
				assigned++
				return
			}
			t.Errorf("unexpected error: %v", err)
		}(id)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, len(agentIDs)-1, assigned)

	stored, err := store.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], stored.DeliveryAgentID)
	assert.Equal(t, order.StatusOutForDelivery, stored.Status)
	assert.Len(t, events.Events(), 1)
}

func TestService_PublishFailureDoesNotFailChange(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	events := &recordingPublisher{err: errors.New("broker down")}
	svc := order.NewService(store, newAgents(), events)
	seedOrder(t, store, "o1", order.StatusPending)

	o, err := svc.Advance(ctx, "o1", order.StatusPreparing)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPreparing, o.Status)
}

func TestService_List(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	svc := order.NewService(store, newAgents(), nil)
	seedOrder(t, store, "o1", order.StatusPending)
	seedOrder(t, store, "o2", order.StatusPending)
	require.NoError(t, store.Create(ctx, &order.Order{
		ID:         "o3",
		CustomerID: "cust-2",
		Status:     order.StatusPending,
		Payment:    order.PaymentDetails{GatewayOrderID: "gw-o3"},
	}))

	page, err := svc.List(ctx, order.ListFilter{CustomerID: "cust-1"}, order.QueryParams{SortOrder: order.SortAsc})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)

	page, err = svc.List(ctx, order.ListFilter{}, order.QueryParams{PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	assert.Len(t, page.Items, 2)
}
