package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/feast/internal/domain/order"
)

const (
	defaultLockTTL   = 30 * time.Second
	lockPollInterval = 50 * time.Millisecond
)

// Config holds payment settings.
type Config struct {
	Currency string
	// LockTTL bounds how long one instance may hold the finalization lock
	// for a gateway order.
	LockTTL time.Duration
}

// Service creates gateway orders and finalizes verified payments into orders.
// Finalization of one gateway order id happens at most once: concurrent calls
// in this process share one execution, instances are serialized by Locker,
// and the order store rejects a second order for the same gateway order id.
type Service struct {
	gateway   Gateway
	checkouts CheckoutStore
	orders    order.Repository
	events    order.EventPublisher
	signer    *Signer
	locker    Locker
	cfg       Config

	group singleflight.Group
	now   func() time.Time
	newID func() string

	finalized metric.Int64Counter
	failed    metric.Int64Counter
}

// NewService creates a payment Service. A nil locker or publisher falls back
// to the no-op implementation.
func NewService(
	gw Gateway,
	checkouts CheckoutStore,
	orders order.Repository,
	signer *Signer,
	locker Locker,
	events order.EventPublisher,
	meter metric.Meter,
	cfg Config,
) (*Service, error) {
	if locker == nil {
		locker = NopLocker{}
	}
	if events == nil {
		events = order.NopPublisher{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}

	finalized, err := meter.Int64Counter("feast.payment.finalized",
		metric.WithDescription("Orders created from verified payments"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create finalized counter")
	}
	failed, err := meter.Int64Counter("feast.payment.verification_failed",
		metric.WithDescription("Payment callbacks rejected by verification"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create failed counter")
	}

	return &Service{
		gateway:   gw,
		checkouts: checkouts,
		orders:    orders,
		events:    events,
		signer:    signer,
		locker:    locker,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
		finalized: finalized,
		failed:    failed,
	}, nil
}

// CreateGatewayOrder asks the gateway to charge exactly the checkout's total
// payable and remembers the checkout until the payment callback arrives.
func (s *Service) CreateGatewayOrder(ctx context.Context, co Checkout) (*Handle, error) {
	if err := co.Bill.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate bill")
	}

	h, err := s.gateway.CreateOrder(ctx, co.Bill.TotalPayable, s.cfg.Currency, s.newID())
	if err != nil {
		var unavailable *GatewayUnavailableError
		if errors.As(err, &unavailable) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create gateway order")
	}
	if !h.Amount.Equal(co.Bill.TotalPayable) {
		return nil, &GatewayUnavailableError{
			Op:  "create order",
			Err: errors.Errorf("gateway accepted %s, requested %s", h.Amount, co.Bill.TotalPayable),
		}
	}

	now := s.now()
	if err := s.checkouts.Save(ctx, &PendingCheckout{
		Handle:    *h,
		Checkout:  co,
		Status:    CheckoutPending,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, errors.Wrap(err, "save checkout")
	}

	zctx.From(ctx).Info("Gateway order created",
		zap.String("gateway_order_id", h.GatewayOrderID),
		zap.String("customer_id", co.CustomerID),
		zap.Stringer("amount", h.Amount),
	)
	return h, nil
}

// Pending returns the checkout stored for a gateway order.
func (s *Service) Pending(ctx context.Context, gatewayOrderID string) (*PendingCheckout, error) {
	return s.checkouts.Get(ctx, gatewayOrderID)
}

// Finalize verifies a callback against the checkout stored when the gateway
// order was created.
func (s *Service) Finalize(ctx context.Context, cb Callback) (*order.Order, error) {
	pc, err := s.checkouts.Get(ctx, cb.GatewayOrderID)
	if err != nil {
		if errors.Is(err, ErrCheckoutNotFound) {
			return nil, s.reject(ctx, cb.GatewayOrderID, decimal.Zero, "unknown gateway order")
		}
		return nil, errors.Wrap(err, "get checkout")
	}
	return s.VerifyAndFinalize(ctx, cb, pc.Checkout)
}

// VerifyAndFinalize checks the callback signature and that co matches the
// checkout the gateway was asked to charge, then creates the order. A replay
// of an already finalized payment returns the existing order.
func (s *Service) VerifyAndFinalize(ctx context.Context, cb Callback, co Checkout) (*order.Order, error) {
	attempted := co.Bill.TotalPayable
	if cb.GatewayOrderID == "" || cb.GatewayPaymentID == "" {
		return nil, s.reject(ctx, cb.GatewayOrderID, attempted, "missing payment identifiers")
	}
	if !s.signer.Verify(cb.GatewayOrderID, cb.GatewayPaymentID, cb.Signature) {
		return nil, s.reject(ctx, cb.GatewayOrderID, attempted, "signature mismatch")
	}

	v, err, shared := s.group.Do(cb.GatewayOrderID, func() (any, error) {
		return s.finalize(ctx, cb, co)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		zctx.From(ctx).Debug("Finalization shared with concurrent callback",
			zap.String("gateway_order_id", cb.GatewayOrderID),
		)
	}
	return v.(*order.Order), nil
}

func (s *Service) finalize(ctx context.Context, cb Callback, co Checkout) (*order.Order, error) {
	lg := zctx.From(ctx).With(zap.String("gateway_order_id", cb.GatewayOrderID))

	if o, err := s.existing(ctx, cb.GatewayOrderID); err != nil || o != nil {
		return o, err
	}

	unlock, err := s.acquire(ctx, "payment:finalize:"+cb.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			lg.Warn("Release finalization lock", zap.Error(err))
		}
	}()

	// Another instance may have finished while we waited for the lock.
	if o, err := s.existing(ctx, cb.GatewayOrderID); err != nil || o != nil {
		return o, err
	}

	pc, err := s.checkouts.Get(ctx, cb.GatewayOrderID)
	if err != nil {
		if errors.Is(err, ErrCheckoutNotFound) {
			return nil, s.reject(ctx, cb.GatewayOrderID, co.Bill.TotalPayable, "unknown gateway order")
		}
		return nil, errors.Wrap(err, "get checkout")
	}
	if reason := mismatch(pc, co); reason != "" {
		return nil, s.reject(ctx, cb.GatewayOrderID, co.Bill.TotalPayable, reason)
	}

	now := s.now()
	o := &order.Order{
		ID:              s.newID(),
		CustomerID:      pc.Checkout.CustomerID,
		CustomerName:    pc.Checkout.CustomerName,
		RestaurantID:    pc.Checkout.RestaurantID,
		RestaurantName:  pc.Checkout.RestaurantName,
		Items:           pc.Checkout.Items,
		Bill:            pc.Checkout.Bill,
		OfferID:         pc.Checkout.OfferID,
		Premium:         pc.Checkout.Premium,
		PaymentMethod:   pc.Checkout.PaymentMethod,
		PaymentStatus:   order.PaymentPaid,
		DeliveryAddress: pc.Checkout.Address,
		Status:          order.StatusPending,
		Timeline:        order.Timeline{PlacedAt: now},
		CreatedAt:       now,
		Payment: order.PaymentDetails{
			GatewayOrderID:   cb.GatewayOrderID,
			GatewayPaymentID: cb.GatewayPaymentID,
			Signature:        cb.Signature,
		},
	}
	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, order.ErrDuplicatePayment) {
			lg.Info("Order already created for gateway order")
			return s.orders.GetByGatewayOrderID(ctx, cb.GatewayOrderID)
		}
		return nil, errors.Wrap(err, "create order")
	}

	if err := s.checkouts.MarkFinalized(ctx, cb.GatewayOrderID, o.ID, now); err != nil {
		lg.Warn("Mark checkout finalized", zap.String("order_id", o.ID), zap.Error(err))
	}
	if pc.Status == CheckoutAbandoned {
		lg.Warn("Payment arrived for abandoned checkout", zap.String("order_id", o.ID))
	}

	s.finalized.Add(ctx, 1)
	lg.Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
		zap.Stringer("total", o.Bill.TotalPayable),
	)
	if err := s.events.PublishStatusChanged(ctx, order.StatusChanged{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		To:         order.StatusPending,
		At:         now,
	}); err != nil {
		lg.Warn("Publish order created", zap.String("order_id", o.ID), zap.Error(err))
	}
	return o, nil
}

// Abandon marks a checkout the customer dismissed or failed to pay and
// returns the amount that was never charged.
func (s *Service) Abandon(ctx context.Context, customerID, gatewayOrderID string) (decimal.Decimal, error) {
	pc, err := s.checkouts.Get(ctx, gatewayOrderID)
	if err != nil {
		return decimal.Zero, err
	}
	if pc.Checkout.CustomerID != customerID {
		return decimal.Zero, ErrCheckoutNotFound
	}

	switch pc.Status {
	case CheckoutFinalized:
		return decimal.Zero, ErrCheckoutClosed
	case CheckoutAbandoned:
		return pc.Handle.Amount, nil
	}

	ok, err := s.checkouts.MarkAbandoned(ctx, gatewayOrderID, s.now())
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "mark abandoned")
	}
	if !ok {
		// Lost to a concurrent finalization or sweep; report the current state.
		return s.Abandon(ctx, customerID, gatewayOrderID)
	}
	return pc.Handle.Amount, nil
}

// AbandonExpired marks checkouts pending for longer than ttl as abandoned.
func (s *Service) AbandonExpired(ctx context.Context, ttl time.Duration) (int, error) {
	now := s.now()
	n, err := s.checkouts.AbandonExpired(ctx, now.Add(-ttl), now)
	if err != nil {
		return 0, errors.Wrap(err, "abandon expired checkouts")
	}
	return n, nil
}

func (s *Service) existing(ctx context.Context, gatewayOrderID string) (*order.Order, error) {
	o, err := s.orders.GetByGatewayOrderID(ctx, gatewayOrderID)
	switch {
	case err == nil:
		return o, nil
	case errors.Is(err, order.ErrNotFound):
		return nil, nil
	default:
		return nil, errors.Wrap(err, "get order by gateway order")
	}
}

// acquire takes the cross-instance lock, waiting while another instance
// holds it.
func (s *Service) acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LockTTL)
	defer cancel()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		unlock, err := s.locker.Lock(ctx, key, s.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrLocked) {
			return nil, errors.Wrap(err, "acquire finalization lock")
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "wait for finalization lock")
		case <-ticker.C:
		}
	}
}

func (s *Service) reject(ctx context.Context, gatewayOrderID string, attempted decimal.Decimal, reason string) error {
	s.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	zctx.From(ctx).Warn("Payment verification failed",
		zap.String("gateway_order_id", gatewayOrderID),
		zap.String("reason", reason),
	)
	return &PaymentVerificationFailedError{
		GatewayOrderID:  gatewayOrderID,
		AttemptedAmount: attempted,
		Reason:          reason,
	}
}

// mismatch compares a client-held checkout with the stored one and returns
// a non-empty reason when they differ.
func mismatch(pc *PendingCheckout, co Checkout) string {
	switch {
	case pc.Status == CheckoutFinalized:
		return "checkout finalized without an order"
	case pc.Checkout.CustomerID != co.CustomerID:
		return "customer mismatch"
	case !pc.Checkout.Bill.Equal(co.Bill):
		return "bill does not match checkout"
	case !pc.Handle.Amount.Equal(co.Bill.TotalPayable):
		return "amount does not match gateway order"
	}
	return ""
}
