// Package pricing turns a cart, an optional offer, and an optional premium
// membership snapshot into an itemized Bill.
package pricing

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// OfferKind enumerates the supported promotional offer strategies.
type OfferKind string

const (
	// OfferPercentage discounts a percentage of the subtotal.
	OfferPercentage OfferKind = "percentage"
	// OfferFlatAmount discounts a fixed amount capped at the subtotal.
	OfferFlatAmount OfferKind = "flat_amount"
	// OfferFreeDelivery waives the delivery fee instead of discounting money.
	OfferFreeDelivery OfferKind = "free_delivery"
)

// Valid reports whether k is a known offer kind.
func (k OfferKind) Valid() bool {
	switch k {
	case OfferPercentage, OfferFlatAmount, OfferFreeDelivery:
		return true
	default:
		return false
	}
}

// BenefitKind enumerates how a premium benefit value is interpreted.
type BenefitKind string

const (
	BenefitPercentage BenefitKind = "percentage"
	BenefitFlat       BenefitKind = "flat"
)

// LineItem is a single cart entry. It is copied by value into orders, so later
// catalog edits never change historical orders.
type LineItem struct {
	MenuItemID string          `json:"menuItemId"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Quantity   int             `json:"quantity"`
	Note       string          `json:"note,omitempty"`
}

// Total returns unit price times quantity.
func (li LineItem) Total() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Offer is a promotional offer. At most one applies per order.
type Offer struct {
	ID             string
	Kind           OfferKind
	Value          decimal.Decimal
	ValidFrom      *time.Time
	ValidTo        *time.Time
	MinOrderAmount decimal.Decimal
	Description    string
}

// Benefit is a single premium membership benefit.
type Benefit struct {
	Kind  BenefitKind     `json:"kind,omitempty"`
	Value decimal.Decimal `json:"value"`
}

// IsZero reports whether the benefit grants nothing.
func (b Benefit) IsZero() bool {
	return b.Kind == "" || b.Value.IsZero()
}

// Premium is a subscriber's benefits at the moment of checkout. It is captured
// by value into the order so later plan changes do not alter history.
type Premium struct {
	PlanID        string  `json:"planId,omitempty"`
	FreeDelivery  bool    `json:"freeDelivery"`
	ExtraDiscount Benefit `json:"extraDiscount"`
	Cashback      Benefit `json:"cashback"`
}

// PremiumBreakdown records how a premium snapshot affected one bill.
type PremiumBreakdown struct {
	Snapshot            Premium         `json:"snapshot"`
	FreeDeliveryApplied bool            `json:"freeDeliveryApplied"`
	ExtraDiscount       decimal.Decimal `json:"extraDiscount"`
	Cashback            decimal.Decimal `json:"cashback"`
}

// Bill is the itemized computation of everything a customer owes for one order.
type Bill struct {
	Subtotal             decimal.Decimal `json:"subtotal"`
	Tax                  decimal.Decimal `json:"tax"`
	OriginalDeliveryFee  decimal.Decimal `json:"originalDeliveryFee"`
	EffectiveDeliveryFee decimal.Decimal `json:"effectiveDeliveryFee"`
	Discount             decimal.Decimal `json:"discount"`
	PremiumExtraDiscount decimal.Decimal `json:"premiumExtraDiscount"`
	PremiumCashback      decimal.Decimal `json:"premiumCashback"`
	TotalPayable         decimal.Decimal `json:"totalPayable"`
}

// ErrInvalidBill is returned by Bill.Validate when the stored or supplied
// fields are inconsistent.
var ErrInvalidBill = errors.New("invalid bill")

// Validate checks that every field is non-negative and that TotalPayable
// matches the other fields.
func (b Bill) Validate() error {
	for name, v := range map[string]decimal.Decimal{
		"subtotal":             b.Subtotal,
		"tax":                  b.Tax,
		"originalDeliveryFee":  b.OriginalDeliveryFee,
		"effectiveDeliveryFee": b.EffectiveDeliveryFee,
		"discount":             b.Discount,
		"premiumExtraDiscount": b.PremiumExtraDiscount,
		"premiumCashback":      b.PremiumCashback,
		"totalPayable":         b.TotalPayable,
	} {
		if v.IsNegative() {
			return errors.Wrapf(ErrInvalidBill, "%s is negative", name)
		}
	}
	if b.EffectiveDeliveryFee.GreaterThan(b.OriginalDeliveryFee) {
		return errors.Wrap(ErrInvalidBill, "effective delivery fee exceeds original")
	}
	want := payable(b.Subtotal, b.Tax, b.EffectiveDeliveryFee, b.Discount, b.PremiumExtraDiscount)
	if !want.Equal(b.TotalPayable) {
		return errors.Wrapf(ErrInvalidBill, "total payable %s, want %s", b.TotalPayable, want)
	}
	return nil
}

// Equal reports whether two bills carry the same amounts.
func (b Bill) Equal(o Bill) bool {
	return b.Subtotal.Equal(o.Subtotal) &&
		b.Tax.Equal(o.Tax) &&
		b.OriginalDeliveryFee.Equal(o.OriginalDeliveryFee) &&
		b.EffectiveDeliveryFee.Equal(o.EffectiveDeliveryFee) &&
		b.Discount.Equal(o.Discount) &&
		b.PremiumExtraDiscount.Equal(o.PremiumExtraDiscount) &&
		b.PremiumCashback.Equal(o.PremiumCashback) &&
		b.TotalPayable.Equal(o.TotalPayable)
}

// Savings is what the customer saved at the point of sale: offer discount,
// premium extra discount, and any waived delivery fee. Cashback is a
// post-payment credit and is not included.
func (b Bill) Savings() decimal.Decimal {
	waived := b.OriginalDeliveryFee.Sub(b.EffectiveDeliveryFee)
	return b.Discount.Add(b.PremiumExtraDiscount).Add(waived)
}

func payable(subtotal, tax, fee, discount, extra decimal.Decimal) decimal.Decimal {
	return floorAtZero(subtotal.Add(tax).Add(fee).Sub(discount).Sub(extra)).Round(2)
}
