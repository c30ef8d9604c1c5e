package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/feast/internal/domain/payment"
)

const (
	saveCheckoutSQL = `INSERT INTO pending_checkouts
		(gateway_order_id, customer_id, amount, currency, receipt, checkout, status, order_id, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
	ON CONFLICT (gateway_order_id) DO UPDATE SET
		checkout = EXCLUDED.checkout,
		status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at`

	getCheckoutSQL = `SELECT gateway_order_id, amount, currency, receipt, checkout, status,
		COALESCE(order_id, ''), created_at, updated_at
	FROM pending_checkouts WHERE gateway_order_id = $1`

	finalizeCheckoutSQL = `UPDATE pending_checkouts
	SET status = 'finalized', order_id = $2, updated_at = $3
	WHERE gateway_order_id = $1 AND status <> 'finalized'`

	abandonCheckoutSQL = `UPDATE pending_checkouts
	SET status = 'abandoned', updated_at = $2
	WHERE gateway_order_id = $1 AND status = 'pending'`

	abandonExpiredSQL = `UPDATE pending_checkouts
	SET status = 'abandoned', updated_at = $2
	WHERE status = 'pending' AND created_at < $1`

	checkoutExistsSQL = `SELECT EXISTS (SELECT 1 FROM pending_checkouts WHERE gateway_order_id = $1)`
)

var _ payment.CheckoutStore = (*CheckoutRepository)(nil)

// CheckoutRepository implements payment.CheckoutStore backed by PostgreSQL.
type CheckoutRepository struct {
	pool *pgxpool.Pool
}

// NewCheckoutRepository returns a CheckoutRepository that uses the given pool.
func NewCheckoutRepository(pool *pgxpool.Pool) *CheckoutRepository {
	return &CheckoutRepository{pool: pool}
}

// Save stores the checkout snapshot as JSONB.
func (r *CheckoutRepository) Save(ctx context.Context, pc *payment.PendingCheckout) error {
	checkoutJSON, err := json.Marshal(pc.Checkout)
	if err != nil {
		return fmt.Errorf("marshaling checkout: %w", err)
	}

	_, err = r.pool.Exec(ctx, saveCheckoutSQL,
		pc.Handle.GatewayOrderID, pc.Checkout.CustomerID, pc.Handle.Amount, pc.Handle.Currency,
		pc.Handle.Receipt, checkoutJSON, string(pc.Status), pc.OrderID, pc.CreatedAt, pc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving checkout %q: %w", pc.Handle.GatewayOrderID, err)
	}
	return nil
}

// Get returns the checkout stored for a gateway order.
func (r *CheckoutRepository) Get(ctx context.Context, gatewayOrderID string) (*payment.PendingCheckout, error) {
	var (
		pc           payment.PendingCheckout
		checkoutJSON []byte
		status       string
	)
	err := r.pool.QueryRow(ctx, getCheckoutSQL, gatewayOrderID).Scan(
		&pc.Handle.GatewayOrderID, &pc.Handle.Amount, &pc.Handle.Currency, &pc.Handle.Receipt,
		&checkoutJSON, &status, &pc.OrderID, &pc.CreatedAt, &pc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrCheckoutNotFound
		}
		return nil, fmt.Errorf("getting checkout %q: %w", gatewayOrderID, err)
	}
	if err := json.Unmarshal(checkoutJSON, &pc.Checkout); err != nil {
		return nil, fmt.Errorf("unmarshaling checkout %q: %w", gatewayOrderID, err)
	}
	pc.Status = payment.CheckoutStatus(status)
	return &pc, nil
}

// MarkFinalized implements payment.CheckoutStore.
func (r *CheckoutRepository) MarkFinalized(ctx context.Context, gatewayOrderID, orderID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, finalizeCheckoutSQL, gatewayOrderID, orderID, at)
	if err != nil {
		return fmt.Errorf("finalizing checkout %q: %w", gatewayOrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.ensureExists(ctx, gatewayOrderID)
	}
	return nil
}

// MarkAbandoned implements payment.CheckoutStore.
func (r *CheckoutRepository) MarkAbandoned(ctx context.Context, gatewayOrderID string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, abandonCheckoutSQL, gatewayOrderID, at)
	if err != nil {
		return false, fmt.Errorf("abandoning checkout %q: %w", gatewayOrderID, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, gatewayOrderID)
}

// AbandonExpired implements payment.CheckoutStore.
func (r *CheckoutRepository) AbandonExpired(ctx context.Context, cutoff, at time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, abandonExpiredSQL, cutoff, at)
	if err != nil {
		return 0, fmt.Errorf("abandoning expired checkouts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *CheckoutRepository) ensureExists(ctx context.Context, gatewayOrderID string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, checkoutExistsSQL, gatewayOrderID).Scan(&exists); err != nil {
		return fmt.Errorf("checking checkout %q: %w", gatewayOrderID, err)
	}
	if !exists {
		return payment.ErrCheckoutNotFound
	}
	return nil
}
