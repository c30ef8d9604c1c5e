package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/feast/internal/domain/payment"
)

// ListOffers returns the offers open for checkout.
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.checkout.Offers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOffers(e, offers) })
}

// Quote prices a cart for the checkout screen.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := readBody(w, r, func(d *jx.Decoder) error { return decodeCart(d, &req) }); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.StructCtx(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}

	q, err := h.checkout.Quote(r.Context(), req.toDomain(principal(r).CustomerID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, q) })
}

// StartPayment creates a gateway order for the priced cart.
func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := readBody(w, r, func(d *jx.Decoder) error { return decodePayment(d, &req) }); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.StructCtx(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}

	creq := req.toDomain(principal(r).CustomerID)
	creq.AddressID = req.AddressID
	creq.PaymentMethod = req.PaymentMethod

	handle, q, err := h.checkout.Begin(r.Context(), creq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Payment started",
		zap.String("gateway_order_id", handle.GatewayOrderID),
		zap.Stringer("amount", handle.Amount),
	)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeHandle(e, handle, q) })
}

// VerifyPayment handles the client-relayed gateway callback and returns the
// created order. Replays return the same order.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := readBody(w, r, func(d *jx.Decoder) error {
		return decodeStrings(d, map[string]*string{
			"gatewayOrderId":   &req.GatewayOrderID,
			"gatewayPaymentId": &req.GatewayPaymentID,
			"signature":        &req.Signature,
		})
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.StructCtx(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.checkout.Complete(r.Context(), principal(r).CustomerID, payment.Callback{
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// DismissPayment abandons a checkout the customer closed without paying and
// returns the amount for the failure view.
func (h *Handler) DismissPayment(w http.ResponseWriter, r *http.Request) {
	amount, err := h.checkout.Dismiss(r.Context(), principal(r).CustomerID, r.PathValue("gatewayOrderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		moneyField(e, "attemptedAmount", amount)
		e.ObjEnd()
	})
}
