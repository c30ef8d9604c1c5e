// Package rabbit publishes order lifecycle events to a RabbitMQ topic exchange.
package rabbit

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xenking/feast/internal/domain/order"
)

const (
	// DefaultExchange receives every lifecycle event.
	DefaultExchange = "feast.orders"
	routingPrefix   = "order.status."
)

// Channel is the subset of *amqp.Channel used by Publisher.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

var _ order.EventPublisher = (*Publisher)(nil)

// Publisher implements order.EventPublisher. Events are routed by target
// status, e.g. "order.status.delivered".
type Publisher struct {
	ch       Channel
	exchange string
}

// NewPublisher declares a durable topic exchange and returns a Publisher for it.
func NewPublisher(ch Channel, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, errors.Wrap(err, "declare exchange")
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

// PublishStatusChanged implements order.EventPublisher.
func (p *Publisher) PublishStatusChanged(ctx context.Context, ev order.StatusChanged) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.OrderID + ":" + string(ev.To),
		Timestamp:    ev.At,
		Type:         "order.status_changed",
		Body:         encodeStatusChanged(ev),
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(ev.To), false, false, msg); err != nil {
		return errors.Wrap(err, "publish")
	}
	return nil
}

// RoutingKey returns the routing key for events entering status s.
func RoutingKey(s order.Status) string {
	return routingPrefix + string(s)
}

func encodeStatusChanged(ev order.StatusChanged) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(ev.OrderID)
	e.FieldStart("customerId")
	e.Str(ev.CustomerID)
	if ev.From != "" {
		e.FieldStart("from")
		e.Str(string(ev.From))
	}
	e.FieldStart("to")
	e.Str(string(ev.To))
	if ev.AgentID != "" {
		e.FieldStart("agentId")
		e.Str(ev.AgentID)
	}
	e.FieldStart("at")
	e.Str(ev.At.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

// Dial connects to the broker and opens a channel. The returned close func
// releases both.
func Dial(url string) (*amqp.Channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, errors.Wrap(err, "dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "open channel")
	}
	return ch, func() error {
		_ = ch.Close()
		return conn.Close()
	}, nil
}
