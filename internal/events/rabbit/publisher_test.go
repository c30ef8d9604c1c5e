package rabbit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/feast/internal/domain/order"
)

// --- Mock implementations ---

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type mockChannel struct {
	declared   []string
	kind       string
	published  []published
	publishErr error
}

func (m *mockChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	m.declared = append(m.declared, name)
	m.kind = kind
	return nil
}

func (m *mockChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestPublisher(t *testing.T) {
	ch := &mockChannel{}
	p, err := NewPublisher(ch, "")
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultExchange}, ch.declared)
	assert.Equal(t, amqp.ExchangeTopic, ch.kind)

	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	err = p.PublishStatusChanged(context.Background(), order.StatusChanged{
		OrderID:    "ord-1",
		CustomerID: "cust-1",
		From:       order.StatusReady,
		To:         order.StatusOutForDelivery,
		AgentID:    "a1",
		At:         at,
	})
	require.NoError(t, err)
	require.Len(t, ch.published, 1)

	got := ch.published[0]
	assert.Equal(t, DefaultExchange, got.exchange)
	assert.Equal(t, "order.status.out_for_delivery", got.key)
	assert.Equal(t, uint8(amqp.Persistent), got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)

	var body order.StatusChanged
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, "ord-1", body.OrderID)
	assert.Equal(t, order.StatusReady, body.From)
	assert.Equal(t, order.StatusOutForDelivery, body.To)
	assert.Equal(t, "a1", body.AgentID)
	assert.True(t, at.Equal(body.At))
}

func TestPublisher_CreationEventOmitsFrom(t *testing.T) {
	ch := &mockChannel{}
	p, err := NewPublisher(ch, "custom")
	require.NoError(t, err)

	require.NoError(t, p.PublishStatusChanged(context.Background(), order.StatusChanged{
		OrderID: "ord-2",
		To:      order.StatusPending,
		At:      time.Now(),
	}))
	require.Len(t, ch.published, 1)
	assert.Equal(t, "custom", ch.published[0].exchange)
	assert.NotContains(t, string(ch.published[0].msg.Body), `"from"`)
	assert.NotContains(t, string(ch.published[0].msg.Body), `"agentId"`)
}

func TestPublisher_Error(t *testing.T) {
	ch := &mockChannel{publishErr: errors.New("channel closed")}
	p, err := NewPublisher(ch, "")
	require.NoError(t, err)

	err = p.PublishStatusChanged(context.Background(), order.StatusChanged{OrderID: "ord-3", To: order.StatusCancelled})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}
