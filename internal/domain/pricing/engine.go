package pricing

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Engine computes bills. It holds only immutable policies and is safe for
// concurrent use.
type Engine struct {
	tax      TaxPolicy
	delivery DeliveryFeePolicy
	now      func() time.Time
}

// NewEngine creates an Engine with the given tax and delivery fee policies.
func NewEngine(tax TaxPolicy, delivery DeliveryFeePolicy) *Engine {
	return &Engine{tax: tax, delivery: delivery, now: time.Now}
}

// ComputeBill prices the cart. The offer is applied first, then premium
// benefits. offer and premium may be nil.
func (e *Engine) ComputeBill(items []LineItem, offer *Offer, premium *Premium) (Bill, error) {
	b, _, err := e.Compute(items, offer, premium)
	return b, err
}

// Compute is like ComputeBill but also returns the premium breakdown that
// gets frozen into the order.
func (e *Engine) Compute(items []LineItem, offer *Offer, premium *Premium) (Bill, PremiumBreakdown, error) {
	subtotal, err := calcSubtotal(items)
	if err != nil {
		return Bill{}, PremiumBreakdown{}, err
	}

	b := Bill{
		Subtotal:             subtotal,
		Tax:                  e.tax.Tax(subtotal),
		OriginalDeliveryFee:  e.delivery.Fee(subtotal),
		Discount:             zero,
		PremiumExtraDiscount: zero,
		PremiumCashback:      zero,
	}
	b.EffectiveDeliveryFee = b.OriginalDeliveryFee

	if offer != nil {
		if err := e.applyOffer(&b, offer); err != nil {
			return Bill{}, PremiumBreakdown{}, err
		}
	}

	var pb PremiumBreakdown
	if premium != nil {
		pb = applyPremium(&b, *premium)
	}

	b.TotalPayable = payable(b.Subtotal, b.Tax, b.EffectiveDeliveryFee, b.Discount, b.PremiumExtraDiscount)
	return b, pb, nil
}

func (e *Engine) applyOffer(b *Bill, o *Offer) error {
	now := e.now()
	if o.ValidFrom != nil && now.Before(*o.ValidFrom) {
		return &OfferNotEligibleError{OfferID: o.ID, Reason: "offer is not active yet", MinOrderAmount: o.MinOrderAmount}
	}
	if o.ValidTo != nil && now.After(*o.ValidTo) {
		return &OfferNotEligibleError{OfferID: o.ID, Reason: "offer has expired", MinOrderAmount: o.MinOrderAmount}
	}
	if b.Subtotal.LessThan(o.MinOrderAmount) {
		return &OfferNotEligibleError{
			OfferID:        o.ID,
			Reason:         "order total is below the minimum of " + o.MinOrderAmount.StringFixed(2),
			MinOrderAmount: o.MinOrderAmount,
		}
	}

	switch o.Kind {
	case OfferPercentage:
		b.Discount = floorAtZero(b.Subtotal.Mul(o.Value).Div(hundred)).Round(2)
	case OfferFlatAmount:
		b.Discount = floorAtZero(decimal.Min(o.Value, b.Subtotal)).Round(2)
	case OfferFreeDelivery:
		b.EffectiveDeliveryFee = zero
	default:
		return errors.Errorf("unsupported offer kind: %q", o.Kind)
	}
	return nil
}

// applyPremium applies premium benefits after the offer. The percentage base
// for extra discount and cashback is the subtotal net of the offer discount.
func applyPremium(b *Bill, p Premium) PremiumBreakdown {
	pb := PremiumBreakdown{Snapshot: p}
	base := floorAtZero(b.Subtotal.Sub(b.Discount))

	if p.FreeDelivery {
		pb.FreeDeliveryApplied = b.EffectiveDeliveryFee.IsPositive()
		b.EffectiveDeliveryFee = zero
	}

	b.PremiumExtraDiscount = benefitAmount(p.ExtraDiscount, base)
	b.PremiumCashback = benefitAmount(p.Cashback, base)

	pb.ExtraDiscount = b.PremiumExtraDiscount
	pb.Cashback = b.PremiumCashback
	return pb
}

func benefitAmount(bf Benefit, base decimal.Decimal) decimal.Decimal {
	switch bf.Kind {
	case BenefitPercentage:
		return floorAtZero(base.Mul(bf.Value).Div(hundred)).Round(2)
	case BenefitFlat:
		return floorAtZero(decimal.Min(bf.Value, base)).Round(2)
	default:
		return zero
	}
}

// calcSubtotal returns the sum of price * quantity across all items.
func calcSubtotal(items []LineItem) (decimal.Decimal, error) {
	if len(items) == 0 {
		return zero, &InvalidCartError{Reason: "cart is empty"}
	}
	sum := zero
	for _, item := range items {
		if item.Quantity <= 0 {
			return zero, &InvalidCartError{MenuItemID: item.MenuItemID, Reason: "quantity must be greater than 0"}
		}
		if item.UnitPrice.IsNegative() {
			return zero, &InvalidCartError{MenuItemID: item.MenuItemID, Reason: "price must not be negative"}
		}
		sum = sum.Add(item.Total())
	}
	return sum.Round(2), nil
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
