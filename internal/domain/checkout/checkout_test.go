package checkout_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/feast/internal/domain/catalog"
	"github.com/xenking/feast/internal/domain/checkout"
	"github.com/xenking/feast/internal/domain/identity"
	"github.com/xenking/feast/internal/domain/offer"
	"github.com/xenking/feast/internal/domain/order"
	"github.com/xenking/feast/internal/domain/payment"
	"github.com/xenking/feast/internal/domain/pricing"
	"github.com/xenking/feast/internal/storage/memory"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// --- Mock implementations ---

type mockCatalog struct {
	restaurants map[string]catalog.Restaurant
	items       map[string]catalog.MenuItem
}

func (m *mockCatalog) GetRestaurant(_ context.Context, id string) (*catalog.Restaurant, error) {
	r, ok := m.restaurants[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &r, nil
}

func (m *mockCatalog) GetMenuItems(_ context.Context, ids []string) ([]catalog.MenuItem, error) {
	var out []catalog.MenuItem
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

type mockOffers struct {
	byID map[string]pricing.Offer
}

func (m *mockOffers) FindByID(_ context.Context, id string) (*pricing.Offer, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, offer.ErrNotFound
	}
	return &o, nil
}

func (m *mockOffers) ListActive(_ context.Context) ([]pricing.Offer, error) {
	out := make([]pricing.Offer, 0, len(m.byID))
	for _, o := range m.byID {
		out = append(out, o)
	}
	return out, nil
}

type mockMembership struct {
	byCustomer map[string]pricing.Premium
}

func (m *mockMembership) ActiveSnapshot(_ context.Context, customerID string) (*pricing.Premium, error) {
	p, ok := m.byCustomer[customerID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type mockIdentity struct{}

func (mockIdentity) GetCustomer(_ context.Context, id string) (*identity.Customer, error) {
	switch id {
	case "cust-1":
		return &identity.Customer{ID: id, Name: "Asha Rao"}, nil
	case "cust-2":
		return &identity.Customer{ID: id, Name: "Neha Shah"}, nil
	}
	return nil, identity.ErrCustomerNotFound
}

func (mockIdentity) GetAddress(_ context.Context, customerID, addressID string) (*identity.Address, error) {
	if addressID != "home" {
		return nil, identity.ErrAddressNotFound
	}
	return &identity.Address{ID: "home", CustomerID: customerID, Line1: "12 MG Road", City: "Pune", PostalCode: "411001"}, nil
}

type mockGateway struct{ n int }

func (g *mockGateway) CreateOrder(_ context.Context, amount decimal.Decimal, currency, receipt string) (*payment.Handle, error) {
	g.n++
	return &payment.Handle{GatewayOrderID: "gw_" + receipt, Amount: amount, Currency: currency, Receipt: receipt}, nil
}

// --- Helpers ---

type fixture struct {
	svc    *checkout.Service
	signer *payment.Signer
	orders *memory.OrderStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := &mockCatalog{
		restaurants: map[string]catalog.Restaurant{
			"r1": {ID: "r1", Name: "Spice Route"},
			"r2": {ID: "r2", Name: "Burger Barn"},
		},
		items: map[string]catalog.MenuItem{
			"m1": {ID: "m1", RestaurantID: "r1", Name: "Paneer Tikka", Price: d("299"), Available: true},
			"m2": {ID: "m2", RestaurantID: "r1", Name: "Garlic Naan", Price: d("149"), Available: true},
			"m3": {ID: "m3", RestaurantID: "r1", Name: "Seasonal Thali", Price: d("399"), Available: false},
			"b1": {ID: "b1", RestaurantID: "r2", Name: "Classic Burger", Price: d("199"), Available: true},
		},
	}
	from := time.Now().Add(-time.Hour)
	offers := &mockOffers{byID: map[string]pricing.Offer{
		"TENOFF":  {ID: "TENOFF", Kind: pricing.OfferPercentage, Value: d("10"), ValidFrom: &from},
		"BIGONLY": {ID: "BIGONLY", Kind: pricing.OfferFlatAmount, Value: d("100"), MinOrderAmount: d("1000")},
	}}
	members := &mockMembership{byCustomer: map[string]pricing.Premium{
		"cust-2": {
			PlanID:        "gold",
			FreeDelivery:  true,
			ExtraDiscount: pricing.Benefit{Kind: pricing.BenefitPercentage, Value: d("5")},
			Cashback:      pricing.Benefit{Kind: pricing.BenefitFlat, Value: d("20")},
		},
	}}

	engine := pricing.NewEngine(
		pricing.PercentageTax{Rate: d("8")},
		pricing.ThresholdDeliveryFee{Amount: d("40"), FreeAbove: d("500")},
	)
	signer := payment.NewSigner([]byte("secret"))
	orders := memory.NewOrderStore()
	payments, err := payment.NewService(&mockGateway{}, memory.NewCheckoutStore(), orders, signer,
		memory.NewLocker(), nil, noop.NewMeterProvider().Meter("test"), payment.Config{Currency: "INR"})
	require.NoError(t, err)

	return &fixture{
		svc:    checkout.NewService(cat, offers, members, mockIdentity{}, engine, payments),
		signer: signer,
		orders: orders,
	}
}

func request(customerID string, lines ...checkout.CartLine) checkout.Request {
	return checkout.Request{
		CustomerID:    customerID,
		RestaurantID:  "r1",
		Lines:         lines,
		AddressID:     "home",
		PaymentMethod: "card",
	}
}

// --- Tests ---

func TestQuote(t *testing.T) {
	f := newFixture(t)
	q, err := f.svc.Quote(context.Background(), request("cust-1",
		checkout.CartLine{MenuItemID: "m1", Quantity: 2},
		checkout.CartLine{MenuItemID: "m2", Quantity: 1, Note: "extra butter"},
	))
	require.NoError(t, err)

	assert.Equal(t, "Spice Route", q.Restaurant.Name)
	require.Len(t, q.Items, 2)
	assert.Equal(t, "Paneer Tikka", q.Items[0].Name)
	assert.Equal(t, "extra butter", q.Items[1].Note)
	assert.True(t, d("806.76").Equal(q.Bill.TotalPayable), "total %s", q.Bill.TotalPayable)
	assert.Nil(t, q.Premium)
}

func TestOffers(t *testing.T) {
	f := newFixture(t)
	offers, err := f.svc.Offers(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(offers))
	for _, o := range offers {
		ids = append(ids, o.ID)
	}
	assert.ElementsMatch(t, []string{"TENOFF", "BIGONLY"}, ids)
}

func TestQuote_OfferAndPremium(t *testing.T) {
	f := newFixture(t)
	req := request("cust-2", checkout.CartLine{MenuItemID: "m2", Quantity: 2})
	req.OfferID = "TENOFF"

	q, err := f.svc.Quote(context.Background(), req)
	require.NoError(t, err)

	// subtotal 298, tax 23.84, fee 40 waived by premium, offer 29.80,
	// premium 5% of 268.20 = 13.41.
	assert.True(t, d("29.8").Equal(q.Bill.Discount), "discount %s", q.Bill.Discount)
	assert.True(t, d("40").Equal(q.Bill.OriginalDeliveryFee))
	assert.True(t, q.Bill.EffectiveDeliveryFee.IsZero())
	assert.True(t, d("13.41").Equal(q.Bill.PremiumExtraDiscount), "extra %s", q.Bill.PremiumExtraDiscount)
	assert.True(t, d("20").Equal(q.Bill.PremiumCashback))
	assert.True(t, d("278.63").Equal(q.Bill.TotalPayable), "total %s", q.Bill.TotalPayable)
	require.NotNil(t, q.Premium)
	assert.True(t, q.Premium.FreeDeliveryApplied)
	require.NoError(t, q.Bill.Validate())
}

func TestQuote_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*checkout.Request)
		check  func(t *testing.T, err error)
	}{
		{
			name:   "empty cart",
			mutate: func(r *checkout.Request) { r.Lines = nil },
			check: func(t *testing.T, err error) {
				var ce *pricing.InvalidCartError
				require.True(t, errors.As(err, &ce))
			},
		},
		{
			name:   "unknown restaurant",
			mutate: func(r *checkout.Request) { r.RestaurantID = "r9" },
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, catalog.ErrNotFound)
			},
		},
		{
			name:   "item from another restaurant",
			mutate: func(r *checkout.Request) { r.Lines = []checkout.CartLine{{MenuItemID: "b1", Quantity: 1}} },
			check: func(t *testing.T, err error) {
				var ce *pricing.InvalidCartError
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, "b1", ce.MenuItemID)
			},
		},
		{
			name:   "unavailable item",
			mutate: func(r *checkout.Request) { r.Lines = []checkout.CartLine{{MenuItemID: "m3", Quantity: 1}} },
			check: func(t *testing.T, err error) {
				var ce *pricing.InvalidCartError
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, "m3", ce.MenuItemID)
			},
		},
		{
			name:   "unknown item",
			mutate: func(r *checkout.Request) { r.Lines = []checkout.CartLine{{MenuItemID: "zz", Quantity: 1}} },
			check: func(t *testing.T, err error) {
				var ce *pricing.InvalidCartError
				require.True(t, errors.As(err, &ce))
			},
		},
		{
			name:   "zero quantity",
			mutate: func(r *checkout.Request) { r.Lines = []checkout.CartLine{{MenuItemID: "m1", Quantity: 0}} },
			check: func(t *testing.T, err error) {
				var ce *pricing.InvalidCartError
				require.True(t, errors.As(err, &ce))
			},
		},
		{
			name:   "unknown offer",
			mutate: func(r *checkout.Request) { r.OfferID = "NOPE" },
			check: func(t *testing.T, err error) {
				var oe *pricing.OfferNotEligibleError
				require.True(t, errors.As(err, &oe))
				assert.Equal(t, "NOPE", oe.OfferID)
			},
		},
		{
			name:   "offer below minimum",
			mutate: func(r *checkout.Request) { r.OfferID = "BIGONLY" },
			check: func(t *testing.T, err error) {
				var oe *pricing.OfferNotEligibleError
				require.True(t, errors.As(err, &oe))
				assert.True(t, d("1000").Equal(oe.MinOrderAmount))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := request("cust-1", checkout.CartLine{MenuItemID: "m1", Quantity: 1})
			tt.mutate(&req)
			_, err := f.svc.Quote(context.Background(), req)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestBeginAndComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	h, q, err := f.svc.Begin(ctx, request("cust-1", checkout.CartLine{MenuItemID: "m1", Quantity: 2}))
	require.NoError(t, err)
	assert.True(t, q.Bill.TotalPayable.Equal(h.Amount))

	cb := payment.Callback{
		GatewayOrderID:   h.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        f.signer.Sign(h.GatewayOrderID, "pay_1"),
	}

	_, err = f.svc.Complete(ctx, "cust-2", cb)
	var ve *payment.PaymentVerificationFailedError
	require.True(t, errors.As(err, &ve))

	o, err := f.svc.Complete(ctx, "cust-1", cb)
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", o.CustomerName)
	assert.Equal(t, "Spice Route", o.RestaurantName)
	assert.Equal(t, "411001", o.DeliveryAddress.PostalCode)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.True(t, q.Bill.Equal(o.Bill))

	again, err := f.svc.Complete(ctx, "cust-1", cb)
	require.NoError(t, err)
	assert.Equal(t, o.ID, again.ID)
}

func TestBegin_UnknownAddress(t *testing.T) {
	f := newFixture(t)
	req := request("cust-1", checkout.CartLine{MenuItemID: "m1", Quantity: 1})
	req.AddressID = "office"

	_, _, err := f.svc.Begin(context.Background(), req)
	require.ErrorIs(t, err, identity.ErrAddressNotFound)
}

func TestDismiss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h, _, err := f.svc.Begin(ctx, request("cust-1", checkout.CartLine{MenuItemID: "m2", Quantity: 1}))
	require.NoError(t, err)

	amount, err := f.svc.Dismiss(ctx, "cust-1", h.GatewayOrderID)
	require.NoError(t, err)
	assert.True(t, h.Amount.Equal(amount))
}
