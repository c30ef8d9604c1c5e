package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/feast/internal/domain/agent"
	"github.com/xenking/feast/internal/domain/catalog"
	"github.com/xenking/feast/internal/domain/identity"
	"github.com/xenking/feast/internal/domain/order"
	"github.com/xenking/feast/internal/domain/payment"
	"github.com/xenking/feast/internal/domain/pricing"
)

// badRequestError wraps malformed input: undecodable JSON, bad query values.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

type apiError struct {
	status    int
	code      string
	message   string
	retryable bool
	attempted *decimal.Decimal
}

// classify maps a domain error to its HTTP representation.
func classify(err error) apiError {
	var (
		badReq      *badRequestError
		invalid     validator.ValidationErrors
		cart        *pricing.InvalidCartError
		offerErr    *pricing.OfferNotEligibleError
		verify      *payment.PaymentVerificationFailedError
		unavailable *payment.GatewayUnavailableError
		transition  *order.InvalidTransitionError
		assigned    *order.AlreadyAssignedError
	)
	switch {
	case errors.As(err, &badReq):
		return apiError{status: http.StatusBadRequest, code: "invalid_request", message: badReq.msg}
	case errors.As(err, &invalid):
		return apiError{status: http.StatusBadRequest, code: "invalid_request", message: validationMessage(invalid)}
	case errors.Is(err, order.ErrInvalidQuery), errors.Is(err, order.ErrUnknownStatus):
		return apiError{status: http.StatusBadRequest, code: "invalid_request", message: err.Error()}
	case errors.Is(err, errUnauthorized):
		return apiError{status: http.StatusUnauthorized, code: "unauthorized", message: "authentication required"}
	case errors.Is(err, errForbidden):
		return apiError{status: http.StatusForbidden, code: "forbidden", message: "insufficient scope"}
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, agent.ErrNotFound),
		errors.Is(err, identity.ErrAddressNotFound),
		errors.Is(err, identity.ErrCustomerNotFound),
		errors.Is(err, payment.ErrCheckoutNotFound):
		return apiError{status: http.StatusNotFound, code: "not_found", message: err.Error()}
	case errors.As(err, &assigned):
		return apiError{status: http.StatusConflict, code: "already_assigned", message: assigned.Error()}
	case errors.As(err, &transition):
		return apiError{status: http.StatusConflict, code: "invalid_transition", message: transition.Error()}
	case errors.Is(err, order.ErrConcurrentUpdate):
		return apiError{status: http.StatusConflict, code: "conflict", message: err.Error(), retryable: true}
	case errors.Is(err, payment.ErrCheckoutClosed):
		return apiError{status: http.StatusConflict, code: "checkout_closed", message: err.Error()}
	case errors.As(err, &cart):
		return apiError{status: http.StatusUnprocessableEntity, code: "invalid_cart", message: cart.Error()}
	case errors.As(err, &offerErr):
		return apiError{status: http.StatusUnprocessableEntity, code: "offer_not_eligible", message: offerErr.Error()}
	case errors.Is(err, pricing.ErrInvalidBill):
		return apiError{status: http.StatusUnprocessableEntity, code: "invalid_bill", message: err.Error()}
	case errors.As(err, &verify):
		amount := verify.AttemptedAmount
		return apiError{
			status:    http.StatusUnprocessableEntity,
			code:      "payment_verification_failed",
			message:   verify.Error(),
			attempted: &amount,
		}
	case errors.As(err, &unavailable):
		return apiError{
			status:    http.StatusServiceUnavailable,
			code:      "gateway_unavailable",
			message:   "payment gateway is unavailable, please retry",
			retryable: true,
		}
	default:
		return apiError{status: http.StatusInternalServerError, code: "internal", message: "internal server error"}
	}
}

func validationMessage(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "invalid request"
	}
	fe := errs[0]
	return "field " + fe.Namespace() + " failed on '" + fe.Tag() + "'"
}

// writeError writes {"error":{"code","message","retryable","attemptedAmount"?}}.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	lg := zctx.From(r.Context())
	if e.status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Error(err), zap.Int("status", e.status))
	} else {
		lg.Debug("Request rejected", zap.Error(err), zap.Int("status", e.status))
	}

	writeJSON(w, e.status, func(enc *jx.Encoder) {
		enc.ObjStart()
		enc.FieldStart("error")
		enc.ObjStart()
		enc.FieldStart("code")
		enc.Str(e.code)
		enc.FieldStart("message")
		enc.Str(e.message)
		enc.FieldStart("retryable")
		enc.Bool(e.retryable)
		if e.attempted != nil {
			enc.FieldStart("attemptedAmount")
			encodeMoney(enc, *e.attempted)
		}
		enc.ObjEnd()
		enc.ObjEnd()
	})
}
