// Package catalog describes the restaurant and menu data consumed at cart-build time.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested restaurant does not exist.
var ErrNotFound = errors.New("restaurant not found")

// Restaurant is a venue customers can order from.
type Restaurant struct {
	ID   string
	Name string
}

// MenuItem is a purchasable dish.
type MenuItem struct {
	ID           string
	RestaurantID string
	Name         string
	Price        decimal.Decimal
	Available    bool
}

// Repository defines read operations for the catalog.
type Repository interface {
	GetRestaurant(ctx context.Context, id string) (*Restaurant, error)
	GetMenuItems(ctx context.Context, ids []string) ([]MenuItem, error)
}
