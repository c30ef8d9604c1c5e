package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/feast/internal/domain/identity"
	"github.com/xenking/feast/internal/domain/membership"
	"github.com/xenking/feast/internal/domain/pricing"
)

const (
	getCustomerSQL = `SELECT id, name, email FROM customers WHERE id = $1`
	getAddressSQL  = `SELECT id, customer_id, label, line1, line2, city, postal_code, phone
	FROM addresses WHERE customer_id = $1 AND id = $2`
	activeMembershipSQL = `SELECT plan_id, free_delivery,
		extra_discount_kind, extra_discount_value, cashback_kind, cashback_value
	FROM memberships
	WHERE customer_id = $1 AND valid_from <= now() AND (valid_to IS NULL OR valid_to > now())`
)

var (
	_ identity.Repository   = (*CustomerRepository)(nil)
	_ membership.Repository = (*CustomerRepository)(nil)
)

// CustomerRepository implements identity.Repository and
// membership.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// GetCustomer returns a customer profile.
func (r *CustomerRepository) GetCustomer(ctx context.Context, id string) (*identity.Customer, error) {
	var c identity.Customer
	if err := r.pool.QueryRow(ctx, getCustomerSQL, id).Scan(&c.ID, &c.Name, &c.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("getting customer %q: %w", id, err)
	}
	return &c, nil
}

// GetAddress returns an entry of the customer's address book.
func (r *CustomerRepository) GetAddress(ctx context.Context, customerID, addressID string) (*identity.Address, error) {
	var a identity.Address
	err := r.pool.QueryRow(ctx, getAddressSQL, customerID, addressID).Scan(
		&a.ID, &a.CustomerID, &a.Label, &a.Line1, &a.Line2, &a.City, &a.PostalCode, &a.Phone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrAddressNotFound
		}
		return nil, fmt.Errorf("getting address %q: %w", addressID, err)
	}
	return &a, nil
}

// ActiveSnapshot returns the customer's current premium benefits, or nil.
func (r *CustomerRepository) ActiveSnapshot(ctx context.Context, customerID string) (*pricing.Premium, error) {
	var (
		p                   pricing.Premium
		extraKind, cashKind string
	)
	err := r.pool.QueryRow(ctx, activeMembershipSQL, customerID).Scan(
		&p.PlanID, &p.FreeDelivery,
		&extraKind, &p.ExtraDiscount.Value, &cashKind, &p.Cashback.Value,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting membership for %q: %w", customerID, err)
	}
	p.ExtraDiscount.Kind = pricing.BenefitKind(extraKind)
	p.Cashback.Kind = pricing.BenefitKind(cashKind)
	return &p, nil
}
