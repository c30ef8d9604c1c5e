// Package gateway is an HTTP client for the payment gateway's order API.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/feast/internal/domain/payment"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 1 << 20
)

// Config holds gateway connection settings.
type Config struct {
	BaseURL string
	KeyID   string
	Secret  string
	Timeout time.Duration
}

var _ payment.Gateway = (*Client)(nil)

// Client implements payment.Gateway over the gateway's REST API.
type Client struct {
	http    *http.Client
	baseURL string
	keyID   string
	secret  string
	timeout time.Duration
}

// NewClient creates a Client. Requests are traced and measured with the
// given providers.
func NewClient(cfg Config, tp trace.TracerProvider, mp metric.MeterProvider) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithMeterProvider(mp),
			),
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		keyID:   cfg.KeyID,
		secret:  cfg.Secret,
		timeout: cfg.Timeout,
	}
}

// CreateOrder registers amount with the gateway. The amount travels in minor
// currency units.
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*payment.Handle, error) {
	minor, err := toMinor(amount)
	if err != nil {
		return nil, err
	}

	body := encodeCreateOrder(minor, currency, receipt)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &payment.GatewayUnavailableError{Op: "create order", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &payment.GatewayUnavailableError{Op: "read response", Err: err}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &payment.GatewayUnavailableError{
			Op:  "create order",
			Err: errors.Errorf("status %d: %s", resp.StatusCode, errorDescription(data)),
		}
	case resp.StatusCode >= 400:
		return nil, errors.Errorf("gateway rejected order: status %d: %s", resp.StatusCode, errorDescription(data))
	}

	h, err := decodeOrder(data)
	if err != nil {
		return nil, &payment.GatewayUnavailableError{Op: "decode response", Err: err}
	}
	return h, nil
}

// toMinor converts a two-decimal amount into integer minor units.
func toMinor(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, errors.Errorf("negative amount %s", amount)
	}
	m := amount.Shift(2)
	if !m.Equal(m.Truncate(0)) {
		return 0, errors.Errorf("amount %s has more than two decimal places", amount)
	}
	return m.IntPart(), nil
}

func fromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

func encodeCreateOrder(minor int64, currency, receipt string) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(minor)
	e.FieldStart("currency")
	e.Str(currency)
	e.FieldStart("receipt")
	e.Str(receipt)
	e.ObjEnd()

	return bytes.Clone(e.Bytes())
}

func decodeOrder(data []byte) (*payment.Handle, error) {
	var (
		h      payment.Handle
		minor  int64
		hasAmt bool
	)
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			h.GatewayOrderID, err = d.Str()
		case "amount":
			minor, err = d.Int64()
			hasAmt = true
		case "currency":
			h.Currency, err = d.Str()
		case "receipt":
			if d.Next() == jx.Null {
				return d.Null()
			}
			h.Receipt, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	if h.GatewayOrderID == "" || !hasAmt {
		return nil, errors.New("order response is missing id or amount")
	}
	h.Amount = fromMinor(minor)
	return &h, nil
}

// errorDescription extracts error.description from a gateway error body.
func errorDescription(data []byte) string {
	var desc string
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "error" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "description" {
				return d.Skip()
			}
			v, err := d.Str()
			desc = v
			return err
		})
	})
	if err != nil || desc == "" {
		return fmt.Sprintf("%.200s", strings.TrimSpace(string(data)))
	}
	return desc
}
