// Package membership provides the premium membership snapshot for a customer.
package membership

import (
	"context"

	"github.com/xenking/feast/internal/domain/pricing"
)

// Repository returns the active premium snapshot for a customer, or nil when
// the customer has no active membership.
type Repository interface {
	ActiveSnapshot(ctx context.Context, customerID string) (*pricing.Premium, error)
}
