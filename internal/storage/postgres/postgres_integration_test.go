//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/feast/internal/domain/agent"
	"github.com/xenking/feast/internal/domain/catalog"
	"github.com/xenking/feast/internal/domain/identity"
	"github.com/xenking/feast/internal/domain/order"
	"github.com/xenking/feast/internal/domain/payment"
	"github.com/xenking/feast/internal/domain/pricing"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "feast",
				"POSTGRES_PASSWORD": "feast",
				"POSTGRES_DB":       "feast",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := NewPool(ctx, fmt.Sprintf("postgres://feast:feast@%s:%s/feast?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// Migrations are idempotent.
	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func testOrder(id, gatewayOrderID string, at time.Time) *order.Order {
	return &order.Order{
		ID:             id,
		CustomerID:     "cust-1",
		CustomerName:   "Asha Rao",
		RestaurantID:   "r1",
		RestaurantName: "Spice Route",
		Items: []pricing.LineItem{
			{MenuItemID: "m1", Name: "Paneer Tikka", UnitPrice: decimal.RequireFromString("299"), Quantity: 2},
			{MenuItemID: "m2", Name: "Garlic Naan", UnitPrice: decimal.RequireFromString("149"), Quantity: 1},
		},
		Bill: pricing.Bill{
			Subtotal:             decimal.RequireFromString("747"),
			Tax:                  decimal.RequireFromString("59.76"),
			OriginalDeliveryFee:  decimal.Zero,
			EffectiveDeliveryFee: decimal.Zero,
			Discount:             decimal.Zero,
			PremiumExtraDiscount: decimal.Zero,
			PremiumCashback:      decimal.Zero,
			TotalPayable:         decimal.RequireFromString("806.76"),
		},
		Premium: &pricing.PremiumBreakdown{
			Snapshot: pricing.Premium{PlanID: "gold", FreeDelivery: true},
		},
		PaymentMethod:   "card",
		PaymentStatus:   order.PaymentPaid,
		Payment:         order.PaymentDetails{GatewayOrderID: gatewayOrderID, GatewayPaymentID: "pay_1", Signature: "sig"},
		DeliveryAddress: identity.Address{ID: "home", CustomerID: "cust-1", Line1: "12 MG Road", City: "Pune", PostalCode: "411001"},
		Status:          order.StatusPending,
		Timeline:        order.Timeline{PlacedAt: at},
		CreatedAt:       at,
	}
}

func TestPostgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seeder := NewSeeder(pool)
	for i := range 6 {
		require.NoError(t, seeder.UpsertAgent(ctx, agent.Agent{ID: fmt.Sprintf("a%d", i), Name: fmt.Sprintf("Agent %d", i)}))
	}

	t.Run("OrderRoundTrip", func(t *testing.T) {
		repo := NewOrderRepository(pool)
		o := testOrder("ord-1", "gw-1", at)
		require.NoError(t, repo.Create(ctx, o))

		got, err := repo.GetByID(ctx, "ord-1")
		require.NoError(t, err)
		assert.True(t, o.Bill.Equal(got.Bill))
		assert.Equal(t, o.Items[0].Name, got.Items[0].Name)
		assert.True(t, o.Items[1].UnitPrice.Equal(got.Items[1].UnitPrice))
		assert.Equal(t, "411001", got.DeliveryAddress.PostalCode)
		require.NotNil(t, got.Premium)
		assert.Equal(t, "gold", got.Premium.Snapshot.PlanID)
		assert.Empty(t, got.DeliveryAgentID)

		byGateway, err := repo.GetByGatewayOrderID(ctx, "gw-1")
		require.NoError(t, err)
		assert.Equal(t, "ord-1", byGateway.ID)

		_, err = repo.GetByID(ctx, "missing")
		require.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("DuplicateGatewayOrder", func(t *testing.T) {
		repo := NewOrderRepository(pool)
		require.NoError(t, repo.Create(ctx, testOrder("ord-dup-1", "gw-dup", at)))
		err := repo.Create(ctx, testOrder("ord-dup-2", "gw-dup", at))
		require.ErrorIs(t, err, order.ErrDuplicatePayment)
	})

	t.Run("UpdateStatusCompareAndSet", func(t *testing.T) {
		repo := NewOrderRepository(pool)
		require.NoError(t, repo.Create(ctx, testOrder("ord-cas", "gw-cas", at)))

		ok, err := repo.UpdateStatus(ctx, "ord-cas", order.StatusPending, order.StatusPreparing, at.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.UpdateStatus(ctx, "ord-cas", order.StatusPending, order.StatusCancelled, at.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "stale from status must not write")

		ok, err = repo.UpdateStatus(ctx, "ord-cas", order.StatusPreparing, order.StatusCancelled, at.Add(3*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(ctx, "ord-cas")
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, got.Status)
		require.NotNil(t, got.Timeline.PreparingAt)
		require.NotNil(t, got.ResolvedAt)
		assert.True(t, at.Add(3*time.Minute).Equal(*got.ResolvedAt))

		_, err = repo.UpdateStatus(ctx, "missing", order.StatusPending, order.StatusPreparing, at)
		require.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("AssignAgentConcurrent", func(t *testing.T) {
		repo := NewOrderRepository(pool)
		require.NoError(t, repo.Create(ctx, testOrder("ord-assign", "gw-assign", at)))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := range 6 {
			wg.Add(1)
			go func(agentID string) {
				defer wg.Done()
				ok, err := repo.AssignAgent(ctx, "ord-assign", agentID, at)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(fmt.Sprintf("a%d", i))
		}
		wg.Wait()
		assert.Equal(t, 1, wins)

		got, err := repo.GetByID(ctx, "ord-assign")
		require.NoError(t, err)
		assert.Equal(t, order.StatusOutForDelivery, got.Status)
		assert.NotEmpty(t, got.DeliveryAgentID)
	})

	t.Run("Checkouts", func(t *testing.T) {
		repo := NewCheckoutRepository(pool)
		pc := &payment.PendingCheckout{
			Handle: payment.Handle{GatewayOrderID: "gw-co", Amount: decimal.RequireFromString("806.76"), Currency: "INR", Receipt: "r1"},
			Checkout: payment.Checkout{
				CustomerID: "cust-1",
				Items:      testOrder("x", "x", at).Items,
				Bill:       testOrder("x", "x", at).Bill,
			},
			Status:    payment.CheckoutPending,
			CreatedAt: at,
			UpdatedAt: at,
		}
		require.NoError(t, repo.Save(ctx, pc))

		got, err := repo.Get(ctx, "gw-co")
		require.NoError(t, err)
		assert.True(t, pc.Checkout.Bill.Equal(got.Checkout.Bill))
		assert.Equal(t, payment.CheckoutPending, got.Status)

		n, err := repo.AbandonExpired(ctx, at.Add(time.Hour), at.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ok, err := repo.MarkAbandoned(ctx, "gw-co", at)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, repo.MarkFinalized(ctx, "gw-co", "ord-1", at))
		got, err = repo.Get(ctx, "gw-co")
		require.NoError(t, err)
		assert.Equal(t, payment.CheckoutFinalized, got.Status)
		assert.Equal(t, "ord-1", got.OrderID)

		_, err = repo.Get(ctx, "gw-missing")
		require.True(t, errors.Is(err, payment.ErrCheckoutNotFound))
	})

	t.Run("CatalogAndCustomers", func(t *testing.T) {
		require.NoError(t, seeder.UpsertRestaurant(ctx, catalog.Restaurant{ID: "r1", Name: "Spice Route"}, []catalog.MenuItem{
			{ID: "m1", Name: "Paneer Tikka", Price: decimal.RequireFromString("299"), Available: true},
			{ID: "m2", Name: "Garlic Naan", Price: decimal.RequireFromString("149"), Available: false},
		}))
		cat := NewCatalogRepository(pool)
		items, err := cat.GetMenuItems(ctx, []string{"m1", "m2", "nope"})
		require.NoError(t, err)
		assert.Len(t, items, 2)

		_, err = cat.GetRestaurant(ctx, "r404")
		require.ErrorIs(t, err, catalog.ErrNotFound)

		require.NoError(t, seeder.UpsertCustomer(ctx, identity.Customer{ID: "cust-1", Name: "Asha Rao"}, []identity.Address{
			{ID: "home", Line1: "12 MG Road", City: "Pune", PostalCode: "411001"},
		}))
		customers := NewCustomerRepository(pool)
		addr, err := customers.GetAddress(ctx, "cust-1", "home")
		require.NoError(t, err)
		assert.Equal(t, "cust-1", addr.CustomerID)

		_, err = customers.GetAddress(ctx, "cust-2", "home")
		require.ErrorIs(t, err, identity.ErrAddressNotFound)

		snap, err := customers.ActiveSnapshot(ctx, "cust-1")
		require.NoError(t, err)
		assert.Nil(t, snap)

		require.NoError(t, seeder.UpsertMembership(ctx, "cust-1", pricing.Premium{
			PlanID:        "gold",
			FreeDelivery:  true,
			ExtraDiscount: pricing.Benefit{Kind: pricing.BenefitPercentage, Value: decimal.NewFromInt(5)},
		}, time.Now().Add(-time.Hour), nil))
		snap, err = customers.ActiveSnapshot(ctx, "cust-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.True(t, snap.FreeDelivery)
		assert.Equal(t, pricing.BenefitPercentage, snap.ExtraDiscount.Kind)
	})
}
