// Package offer provides read access to promotional offers.
package offer

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/feast/internal/domain/pricing"
)

// ErrNotFound is returned when an offer id does not match an active offer.
var ErrNotFound = errors.New("offer not found")

// Repository provides lookup of active offers.
type Repository interface {
	FindByID(ctx context.Context, id string) (*pricing.Offer, error)
	ListActive(ctx context.Context) ([]pricing.Offer, error)
}
