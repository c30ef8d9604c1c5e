package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/feast/internal/domain/offer"
	"github.com/xenking/feast/internal/domain/pricing"
)

const (
	offerColumns        = `id, kind, value, min_order_amount, valid_from, valid_to, description`
	findOfferSQL        = `SELECT ` + offerColumns + ` FROM offers WHERE id = $1 AND active = TRUE`
	listActiveOffersSQL = `SELECT ` + offerColumns + ` FROM offers
	WHERE active = TRUE AND (valid_to IS NULL OR valid_to > now())
	ORDER BY id`
	upsertOfferSQL = `INSERT INTO offers (` + offerColumns + `, active)
	VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
	ON CONFLICT (id) DO UPDATE SET
		kind = EXCLUDED.kind,
		value = EXCLUDED.value,
		min_order_amount = EXCLUDED.min_order_amount,
		valid_from = EXCLUDED.valid_from,
		valid_to = EXCLUDED.valid_to,
		description = EXCLUDED.description,
		active = TRUE`
)

var _ offer.Repository = (*OfferRepository)(nil)

// OfferRepository implements offer.Repository backed by PostgreSQL.
type OfferRepository struct {
	pool *pgxpool.Pool
}

// NewOfferRepository returns an OfferRepository that uses the given pool.
func NewOfferRepository(pool *pgxpool.Pool) *OfferRepository {
	return &OfferRepository{pool: pool}
}

// FindByID returns an active offer. Validity windows are checked by the
// pricing engine, not here.
func (r *OfferRepository) FindByID(ctx context.Context, id string) (*pricing.Offer, error) {
	o, err := scanOffer(r.pool.QueryRow(ctx, findOfferSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, offer.ErrNotFound
		}
		return nil, fmt.Errorf("finding offer %q: %w", id, err)
	}
	return &o, nil
}

// ListActive returns offers that have not expired.
func (r *OfferRepository) ListActive(ctx context.Context) ([]pricing.Offer, error) {
	rows, err := r.pool.Query(ctx, listActiveOffersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing offers: %w", err)
	}
	offers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pricing.Offer, error) {
		return scanOffer(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning offers: %w", err)
	}
	return offers, nil
}

// Upsert creates or replaces an offer and marks it active.
func (r *OfferRepository) Upsert(ctx context.Context, o pricing.Offer) error {
	_, err := r.pool.Exec(ctx, upsertOfferSQL,
		o.ID, string(o.Kind), o.Value, o.MinOrderAmount, o.ValidFrom, o.ValidTo, o.Description,
	)
	if err != nil {
		return fmt.Errorf("upserting offer %q: %w", o.ID, err)
	}
	return nil
}

func scanOffer(row pgx.Row) (pricing.Offer, error) {
	var (
		o    pricing.Offer
		kind string
	)
	err := row.Scan(&o.ID, &kind, &o.Value, &o.MinOrderAmount, &o.ValidFrom, &o.ValidTo, &o.Description)
	o.Kind = pricing.OfferKind(kind)
	return o, err
}
