// Package checkout turns a customer's cart into a priced, paid order. It
// resolves the cart against the catalog, prices it, and hands payment to the
// payment service.
package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/feast/internal/domain/catalog"
	"github.com/xenking/feast/internal/domain/identity"
	"github.com/xenking/feast/internal/domain/membership"
	"github.com/xenking/feast/internal/domain/offer"
	"github.com/xenking/feast/internal/domain/order"
	"github.com/xenking/feast/internal/domain/payment"
	"github.com/xenking/feast/internal/domain/pricing"
)

// CartLine is one requested menu item.
type CartLine struct {
	MenuItemID string
	Quantity   int
	Note       string
}

// Request describes a cart at checkout.
type Request struct {
	CustomerID    string
	RestaurantID  string
	Lines         []CartLine
	OfferID       string
	AddressID     string
	PaymentMethod string
}

// Quote is a priced cart.
type Quote struct {
	Restaurant catalog.Restaurant
	Items      []pricing.LineItem
	Offer      *pricing.Offer
	Bill       pricing.Bill
	Premium    *pricing.PremiumBreakdown
}

// Service orchestrates quoting, payment start, and payment completion.
type Service struct {
	catalog   catalog.Repository
	offers    offer.Repository
	members   membership.Repository
	customers identity.Repository
	engine    *pricing.Engine
	payments  *payment.Service
}

// NewService creates a checkout Service.
func NewService(
	cat catalog.Repository,
	offers offer.Repository,
	members membership.Repository,
	customers identity.Repository,
	engine *pricing.Engine,
	payments *payment.Service,
) *Service {
	return &Service{
		catalog:   cat,
		offers:    offers,
		members:   members,
		customers: customers,
		engine:    engine,
		payments:  payments,
	}
}

// Quote prices the cart without starting payment.
func (s *Service) Quote(ctx context.Context, req Request) (*Quote, error) {
	rest, err := s.catalog.GetRestaurant(ctx, req.RestaurantID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get restaurant")
	}

	items, err := s.buildCart(ctx, req.RestaurantID, req.Lines)
	if err != nil {
		return nil, err
	}

	var selected *pricing.Offer
	if req.OfferID != "" {
		selected, err = s.offers.FindByID(ctx, req.OfferID)
		if err != nil {
			if errors.Is(err, offer.ErrNotFound) {
				return nil, &pricing.OfferNotEligibleError{OfferID: req.OfferID, Reason: "unknown offer"}
			}
			return nil, errors.Wrap(err, "find offer")
		}
	}

	premium, err := s.members.ActiveSnapshot(ctx, req.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "get membership")
	}

	bill, breakdown, err := s.engine.Compute(items, selected, premium)
	if err != nil {
		return nil, err
	}

	q := &Quote{
		Restaurant: *rest,
		Items:      items,
		Offer:      selected,
		Bill:       bill,
	}
	if premium != nil {
		q.Premium = &breakdown
	}
	return q, nil
}

// Begin prices the cart, freezes it with the delivery address, and creates
// the gateway order the client pays against.
func (s *Service) Begin(ctx context.Context, req Request) (*payment.Handle, *Quote, error) {
	customer, err := s.customers.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		if errors.Is(err, identity.ErrCustomerNotFound) {
			return nil, nil, err
		}
		return nil, nil, errors.Wrap(err, "get customer")
	}
	addr, err := s.customers.GetAddress(ctx, req.CustomerID, req.AddressID)
	if err != nil {
		if errors.Is(err, identity.ErrAddressNotFound) {
			return nil, nil, err
		}
		return nil, nil, errors.Wrap(err, "get address")
	}

	q, err := s.Quote(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	co := payment.Checkout{
		CustomerID:     customer.ID,
		CustomerName:   customer.Name,
		RestaurantID:   q.Restaurant.ID,
		RestaurantName: q.Restaurant.Name,
		Items:          q.Items,
		Bill:           q.Bill,
		Premium:        q.Premium,
		Address:        *addr,
		PaymentMethod:  req.PaymentMethod,
	}
	if q.Offer != nil {
		co.OfferID = q.Offer.ID
	}

	h, err := s.payments.CreateGatewayOrder(ctx, co)
	if err != nil {
		return nil, nil, err
	}
	return h, q, nil
}

// Complete verifies the payment callback for the customer's own checkout and
// returns the resulting order.
func (s *Service) Complete(ctx context.Context, customerID string, cb payment.Callback) (*order.Order, error) {
	pc, err := s.payments.Pending(ctx, cb.GatewayOrderID)
	switch {
	case errors.Is(err, payment.ErrCheckoutNotFound):
		return nil, &payment.PaymentVerificationFailedError{
			GatewayOrderID:  cb.GatewayOrderID,
			AttemptedAmount: decimal.Zero,
			Reason:          "unknown gateway order",
		}
	case err != nil:
		return nil, errors.Wrap(err, "get checkout")
	}
	if pc.Checkout.CustomerID != customerID {
		zctx.From(ctx).Warn("Payment callback from another customer",
			zap.String("gateway_order_id", cb.GatewayOrderID),
			zap.String("customer_id", customerID),
		)
		return nil, &payment.PaymentVerificationFailedError{
			GatewayOrderID:  cb.GatewayOrderID,
			AttemptedAmount: decimal.Zero,
			Reason:          "unknown gateway order",
		}
	}
	return s.payments.VerifyAndFinalize(ctx, cb, pc.Checkout)
}

// Dismiss abandons the customer's checkout and returns the amount that was
// never charged.
func (s *Service) Dismiss(ctx context.Context, customerID, gatewayOrderID string) (decimal.Decimal, error) {
	return s.payments.Abandon(ctx, customerID, gatewayOrderID)
}

// Offers lists the offers a customer can currently apply, ordered by id.
func (s *Service) Offers(ctx context.Context) ([]pricing.Offer, error) {
	offers, err := s.offers.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list offers")
	}
	return offers, nil
}

// buildCart resolves menu item ids into line items priced from the catalog.
func (s *Service) buildCart(ctx context.Context, restaurantID string, lines []CartLine) ([]pricing.LineItem, error) {
	if len(lines) == 0 {
		return nil, &pricing.InvalidCartError{Reason: "cart is empty"}
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.MenuItemID)
	}
	menu, err := s.catalog.GetMenuItems(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get menu items")
	}
	byID := make(map[string]catalog.MenuItem, len(menu))
	for _, m := range menu {
		byID[m.ID] = m
	}

	items := make([]pricing.LineItem, 0, len(lines))
	for _, l := range lines {
		m, ok := byID[l.MenuItemID]
		switch {
		case !ok:
			return nil, &pricing.InvalidCartError{MenuItemID: l.MenuItemID, Reason: "unknown menu item"}
		case m.RestaurantID != restaurantID:
			return nil, &pricing.InvalidCartError{MenuItemID: l.MenuItemID, Reason: "item is not on this restaurant's menu"}
		case !m.Available:
			return nil, &pricing.InvalidCartError{MenuItemID: l.MenuItemID, Reason: "item is unavailable"}
		}
		items = append(items, pricing.LineItem{
			MenuItemID: m.ID,
			Name:       m.Name,
			UnitPrice:  m.Price,
			Quantity:   l.Quantity,
			Note:       l.Note,
		})
	}
	return items, nil
}
