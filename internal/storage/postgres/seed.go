package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/feast/internal/domain/agent"
	"github.com/xenking/feast/internal/domain/catalog"
	"github.com/xenking/feast/internal/domain/identity"
	"github.com/xenking/feast/internal/domain/pricing"
)

const (
	upsertRestaurantSQL = `INSERT INTO restaurants (id, name, active) VALUES ($1, $2, TRUE)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = TRUE`
	upsertMenuItemSQL = `INSERT INTO menu_items (id, restaurant_id, name, price, available)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		restaurant_id = EXCLUDED.restaurant_id,
		name = EXCLUDED.name,
		price = EXCLUDED.price,
		available = EXCLUDED.available`
	upsertCustomerSQL = `INSERT INTO customers (id, name, email) VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`
	upsertAddressSQL = `INSERT INTO addresses (id, customer_id, label, line1, line2, city, postal_code, phone)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		label = EXCLUDED.label,
		line1 = EXCLUDED.line1,
		line2 = EXCLUDED.line2,
		city = EXCLUDED.city,
		postal_code = EXCLUDED.postal_code,
		phone = EXCLUDED.phone`
	upsertMembershipSQL = `INSERT INTO memberships (customer_id, plan_id, free_delivery,
		extra_discount_kind, extra_discount_value, cashback_kind, cashback_value, valid_from, valid_to)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (customer_id) DO UPDATE SET
		plan_id = EXCLUDED.plan_id,
		free_delivery = EXCLUDED.free_delivery,
		extra_discount_kind = EXCLUDED.extra_discount_kind,
		extra_discount_value = EXCLUDED.extra_discount_value,
		cashback_kind = EXCLUDED.cashback_kind,
		cashback_value = EXCLUDED.cashback_value,
		valid_from = EXCLUDED.valid_from,
		valid_to = EXCLUDED.valid_to`
	upsertAgentSQL = `INSERT INTO delivery_agents (id, name, phone, active) VALUES ($1, $2, $3, TRUE)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone, active = TRUE`
)

// Seeder writes reference data owned by other services (catalog, identity,
// agent directory) into the local read tables.
type Seeder struct {
	pool *pgxpool.Pool
}

// NewSeeder returns a Seeder that uses the given pool.
func NewSeeder(pool *pgxpool.Pool) *Seeder {
	return &Seeder{pool: pool}
}

// UpsertRestaurant stores a restaurant and its menu.
func (s *Seeder) UpsertRestaurant(ctx context.Context, r catalog.Restaurant, menu []catalog.MenuItem) error {
	if _, err := s.pool.Exec(ctx, upsertRestaurantSQL, r.ID, r.Name); err != nil {
		return fmt.Errorf("upserting restaurant %q: %w", r.ID, err)
	}
	for _, m := range menu {
		if _, err := s.pool.Exec(ctx, upsertMenuItemSQL, m.ID, r.ID, m.Name, m.Price, m.Available); err != nil {
			return fmt.Errorf("upserting menu item %q: %w", m.ID, err)
		}
	}
	return nil
}

// UpsertCustomer stores a customer and their address book.
func (s *Seeder) UpsertCustomer(ctx context.Context, c identity.Customer, addresses []identity.Address) error {
	if _, err := s.pool.Exec(ctx, upsertCustomerSQL, c.ID, c.Name, c.Email); err != nil {
		return fmt.Errorf("upserting customer %q: %w", c.ID, err)
	}
	for _, a := range addresses {
		if _, err := s.pool.Exec(ctx, upsertAddressSQL,
			a.ID, c.ID, a.Label, a.Line1, a.Line2, a.City, a.PostalCode, a.Phone,
		); err != nil {
			return fmt.Errorf("upserting address %q: %w", a.ID, err)
		}
	}
	return nil
}

// UpsertMembership stores a customer's premium plan.
func (s *Seeder) UpsertMembership(ctx context.Context, customerID string, p pricing.Premium, from time.Time, to *time.Time) error {
	_, err := s.pool.Exec(ctx, upsertMembershipSQL,
		customerID, p.PlanID, p.FreeDelivery,
		string(p.ExtraDiscount.Kind), p.ExtraDiscount.Value,
		string(p.Cashback.Kind), p.Cashback.Value,
		from, to,
	)
	if err != nil {
		return fmt.Errorf("upserting membership for %q: %w", customerID, err)
	}
	return nil
}

// UpsertAgent stores a delivery agent.
func (s *Seeder) UpsertAgent(ctx context.Context, a agent.Agent) error {
	if _, err := s.pool.Exec(ctx, upsertAgentSQL, a.ID, a.Name, a.Phone); err != nil {
		return fmt.Errorf("upserting agent %q: %w", a.ID, err)
	}
	return nil
}
