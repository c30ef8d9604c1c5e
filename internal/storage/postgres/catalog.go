package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/feast/internal/domain/catalog"
)

const (
	getRestaurantSQL = `SELECT id, name FROM restaurants WHERE id = $1 AND active = TRUE`
	getMenuItemsSQL  = `SELECT id, restaurant_id, name, price, available
	FROM menu_items WHERE id = ANY($1)`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetRestaurant returns an active restaurant.
func (r *CatalogRepository) GetRestaurant(ctx context.Context, id string) (*catalog.Restaurant, error) {
	var rest catalog.Restaurant
	if err := r.pool.QueryRow(ctx, getRestaurantSQL, id).Scan(&rest.ID, &rest.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting restaurant %q: %w", id, err)
	}
	return &rest, nil
}

// GetMenuItems returns the menu items with the given ids. Unknown ids are
// omitted from the result.
func (r *CatalogRepository) GetMenuItems(ctx context.Context, ids []string) ([]catalog.MenuItem, error) {
	rows, err := r.pool.Query(ctx, getMenuItemsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting menu items: %w", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.MenuItem, error) {
		var m catalog.MenuItem
		err := row.Scan(&m.ID, &m.RestaurantID, &m.Name, &m.Price, &m.Available)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning menu items: %w", err)
	}
	return items, nil
}
