package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/feast/internal/domain/order"
	"github.com/xenking/feast/internal/domain/pricing"
)

const orderColumns = `id, customer_id, customer_name, restaurant_id, restaurant_name, items,
	subtotal, tax, original_delivery_fee, effective_delivery_fee, discount,
	premium_extra_discount, premium_cashback, total_payable,
	offer_id, premium, payment_method, payment_status,
	gateway_order_id, gateway_payment_id, signature, delivery_address,
	status, delivery_agent_id,
	placed_at, preparing_at, ready_at, out_for_delivery_at, delivered_at, cancelled_at,
	created_at, resolved_at`

const createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`

const (
	getOrderByIDSQL      = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByGatewaySQL = `SELECT ` + orderColumns + ` FROM orders WHERE gateway_order_id = $1`
	listOrdersSQL        = `SELECT ` + orderColumns + ` FROM orders
	WHERE ($1 = '' OR customer_id = $1) ORDER BY created_at, id`
	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	// updateStatusSQL is completed with the timestamp column of the target
	// status.
	updateStatusSQL = `UPDATE orders SET status = $3, %s = $4,
		resolved_at = CASE WHEN $3::text IN ('delivered', 'cancelled') THEN $4 ELSE resolved_at END
	WHERE id = $1 AND status = $2`

	assignAgentSQL = `UPDATE orders
	SET delivery_agent_id = $2, status = 'out_for_delivery', out_for_delivery_at = $3
	WHERE id = $1 AND delivery_agent_id IS NULL AND status = ANY($4)`
)

const gatewayOrderConstraint = "orders_gateway_order_id_key"

var statusColumn = map[order.Status]string{
	order.StatusPreparing:      "preparing_at",
	order.StatusReady:          "ready_at",
	order.StatusOutForDelivery: "out_for_delivery_at",
	order.StatusDelivered:      "delivered_at",
	order.StatusCancelled:      "cancelled_at",
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. Items, premium breakdown and delivery address
// are stored as JSONB snapshots.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addressJSON, err := json.Marshal(o.DeliveryAddress)
	if err != nil {
		return fmt.Errorf("marshaling delivery address: %w", err)
	}
	var premiumJSON []byte
	if o.Premium != nil {
		if premiumJSON, err = json.Marshal(o.Premium); err != nil {
			return fmt.Errorf("marshaling premium breakdown: %w", err)
		}
	}

	var agentID *string
	if o.DeliveryAgentID != "" {
		agentID = &o.DeliveryAgentID
	}

	b := o.Bill
	t := o.Timeline
	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.CustomerID, o.CustomerName, o.RestaurantID, o.RestaurantName, itemsJSON,
		b.Subtotal, b.Tax, b.OriginalDeliveryFee, b.EffectiveDeliveryFee, b.Discount,
		b.PremiumExtraDiscount, b.PremiumCashback, b.TotalPayable,
		o.OfferID, premiumJSON, o.PaymentMethod, string(o.PaymentStatus),
		o.Payment.GatewayOrderID, o.Payment.GatewayPaymentID, o.Payment.Signature, addressJSON,
		string(o.Status), agentID,
		t.PlacedAt, t.PreparingAt, t.ReadyAt, t.OutForDeliveryAt, t.DeliveredAt, t.CancelledAt,
		o.CreatedAt, o.ResolvedAt,
	)
	if err != nil {
		if isUniqueViolation(err, gatewayOrderConstraint) {
			return fmt.Errorf("creating order %q: %w", o.ID, order.ErrDuplicatePayment)
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

// GetByID returns a single order by its identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, getOrderByIDSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return o, nil
}

// GetByGatewayOrderID returns the order created for a gateway order.
func (r *OrderRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*order.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, getOrderByGatewaySQL, gatewayOrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order for gateway order %q: %w", gatewayOrderID, err)
	}
	return o, nil
}

// List returns the orders matching f, oldest first.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, f.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

// UpdateStatus sets the status only while the stored status is still from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, at time.Time) (bool, error) {
	col, ok := statusColumn[to]
	if !ok {
		return false, fmt.Errorf("updating order %q: no timestamp for status %q", id, to)
	}

	tag, err := r.pool.Exec(ctx, fmt.Sprintf(updateStatusSQL, col), id, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("updating order %q status: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, id)
}

// AssignAgent sets the agent and out_for_delivery in one statement guarded
// by delivery_agent_id IS NULL, so concurrent assignments have one winner.
func (r *OrderRepository) AssignAgent(ctx context.Context, id, agentID string, at time.Time) (bool, error) {
	assignable := make([]string, 0, len(order.AssignableStatuses))
	for _, s := range order.AssignableStatuses {
		assignable = append(assignable, string(s))
	}

	tag, err := r.pool.Exec(ctx, assignAgentSQL, id, agentID, at, assignable)
	if err != nil {
		return false, fmt.Errorf("assigning agent to order %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, id)
}

func (r *OrderRepository) ensureExists(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o                     order.Order
		itemsJSON, addrJSON   []byte
		premiumJSON           []byte
		paymentStatus, status string
		agentID               *string
	)
	b := &o.Bill
	t := &o.Timeline
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.CustomerName, &o.RestaurantID, &o.RestaurantName, &itemsJSON,
		&b.Subtotal, &b.Tax, &b.OriginalDeliveryFee, &b.EffectiveDeliveryFee, &b.Discount,
		&b.PremiumExtraDiscount, &b.PremiumCashback, &b.TotalPayable,
		&o.OfferID, &premiumJSON, &o.PaymentMethod, &paymentStatus,
		&o.Payment.GatewayOrderID, &o.Payment.GatewayPaymentID, &o.Payment.Signature, &addrJSON,
		&status, &agentID,
		&t.PlacedAt, &t.PreparingAt, &t.ReadyAt, &t.OutForDeliveryAt, &t.DeliveredAt, &t.CancelledAt,
		&o.CreatedAt, &o.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(addrJSON, &o.DeliveryAddress); err != nil {
		return nil, fmt.Errorf("unmarshaling delivery address: %w", err)
	}
	if len(premiumJSON) > 0 {
		o.Premium = new(pricing.PremiumBreakdown)
		if err := json.Unmarshal(premiumJSON, o.Premium); err != nil {
			return nil, fmt.Errorf("unmarshaling premium breakdown: %w", err)
		}
	}

	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)
	if agentID != nil {
		o.DeliveryAgentID = *agentID
	}
	return &o, nil
}
