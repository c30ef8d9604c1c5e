package pricing

import "github.com/shopspring/decimal"

// TaxPolicy computes the tax owed on a subtotal.
type TaxPolicy interface {
	Tax(subtotal decimal.Decimal) decimal.Decimal
}

// DeliveryFeePolicy computes the delivery fee charged for a subtotal before
// offers and premium benefits are applied.
type DeliveryFeePolicy interface {
	Fee(subtotal decimal.Decimal) decimal.Decimal
}

// PercentageTax charges Rate percent of the subtotal.
type PercentageTax struct {
	Rate decimal.Decimal
}

// Tax implements TaxPolicy.
func (p PercentageTax) Tax(subtotal decimal.Decimal) decimal.Decimal {
	return floorAtZero(subtotal.Mul(p.Rate).Div(hundred)).Round(2)
}

// ThresholdDeliveryFee charges a flat Amount, waived once the subtotal reaches
// FreeAbove. A zero FreeAbove disables the waiver.
type ThresholdDeliveryFee struct {
	Amount    decimal.Decimal
	FreeAbove decimal.Decimal
}

// Fee implements DeliveryFeePolicy.
func (p ThresholdDeliveryFee) Fee(subtotal decimal.Decimal) decimal.Decimal {
	if p.FreeAbove.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeAbove) {
		return zero
	}
	return floorAtZero(p.Amount).Round(2)
}
