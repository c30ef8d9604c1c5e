// Package handler exposes checkout, order tracking and the admin console over
// JSON HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/feast/internal/domain/agent"
	"github.com/xenking/feast/internal/domain/checkout"
	"github.com/xenking/feast/internal/domain/order"
	"github.com/xenking/feast/internal/domain/payment"
	"github.com/xenking/feast/internal/domain/pricing"
)

// CheckoutService is implemented by *checkout.Service.
type CheckoutService interface {
	Quote(ctx context.Context, req checkout.Request) (*checkout.Quote, error)
	Begin(ctx context.Context, req checkout.Request) (*payment.Handle, *checkout.Quote, error)
	Complete(ctx context.Context, customerID string, cb payment.Callback) (*order.Order, error)
	Dismiss(ctx context.Context, customerID, gatewayOrderID string) (decimal.Decimal, error)
	Offers(ctx context.Context) ([]pricing.Offer, error)
}

// OrderService is implemented by *order.Service.
type OrderService interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	List(ctx context.Context, f order.ListFilter, p order.QueryParams) (order.Page, error)
	Advance(ctx context.Context, id string, to order.Status) (*order.Order, error)
	Cancel(ctx context.Context, id string) (*order.Order, error)
	AssignAgent(ctx context.Context, id, agentID string) (*order.Order, error)
}

var (
	_ CheckoutService = (*checkout.Service)(nil)
	_ OrderService    = (*order.Service)(nil)
)

// Handler serves the API routes.
type Handler struct {
	checkout CheckoutService
	orders   OrderService
	agents   agent.Repository
	security *Security
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(co CheckoutService, orders OrderService, agents agent.Repository, sec *Security) *Handler {
	return &Handler{
		checkout: co,
		orders:   orders,
		agents:   agents,
		security: sec,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	customer := h.security.Customer
	admin := h.security.Admin

	mux.Handle("GET /api/offers", customer(h.ListOffers))
	mux.Handle("POST /api/checkout/quote", customer(h.Quote))
	mux.Handle("POST /api/checkout/payments", customer(h.StartPayment))
	mux.Handle("POST /api/checkout/payments/verify", customer(h.VerifyPayment))
	mux.Handle("POST /api/checkout/payments/{gatewayOrderId}/dismiss", customer(h.DismissPayment))
	mux.Handle("GET /api/orders", customer(h.ListMyOrders))
	mux.Handle("GET /api/orders/{id}", customer(h.GetMyOrder))

	mux.Handle("GET /api/admin/orders", admin(h.ListOrders))
	mux.Handle("GET /api/admin/orders/{id}", admin(h.GetOrder))
	mux.Handle("POST /api/admin/orders/{id}/status", admin(h.UpdateStatus))
	mux.Handle("POST /api/admin/orders/{id}/cancel", admin(h.CancelOrder))
	mux.Handle("POST /api/admin/orders/{id}/agent", admin(h.AssignAgent))
	mux.Handle("GET /api/admin/agents", admin(h.ListAgents))
}
