package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InvalidCartError indicates the cart cannot be priced.
type InvalidCartError struct {
	MenuItemID string
	Reason     string
}

func (e *InvalidCartError) Error() string {
	if e.MenuItemID == "" {
		return fmt.Sprintf("invalid cart: %s", e.Reason)
	}
	return fmt.Sprintf("invalid cart: %s for item %s", e.Reason, e.MenuItemID)
}

// OfferNotEligibleError indicates the selected offer cannot be applied to
// this order. It is never silently ignored.
type OfferNotEligibleError struct {
	OfferID        string
	Reason         string
	MinOrderAmount decimal.Decimal
}

func (e *OfferNotEligibleError) Error() string {
	return fmt.Sprintf("offer %s not eligible: %s", e.OfferID, e.Reason)
}
