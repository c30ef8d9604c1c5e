package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/feast/internal/domain/agent"
	"github.com/xenking/feast/internal/domain/checkout"
	"github.com/xenking/feast/internal/domain/identity"
	"github.com/xenking/feast/internal/domain/order"
	"github.com/xenking/feast/internal/domain/payment"
	"github.com/xenking/feast/internal/domain/pricing"
)

const maxBodyBytes = 1 << 20

// readBody reads a bounded request body and decodes it with fn.
func readBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("request body too large or unreadable")
	}
	if err := fn(jx.DecodeBytes(body)); err != nil {
		return badRequest("malformed JSON: " + err.Error())
	}
	return nil
}

// --- Requests ---

type cartLineRequest struct {
	MenuItemID string `validate:"required"`
	Quantity   int    `validate:"gte=1,lte=99"`
	Note       string `validate:"max=200"`
}

// cartRequest is the body of the quote endpoint. An empty item list is
// rejected by pricing, not here.
type cartRequest struct {
	RestaurantID string            `validate:"required"`
	Items        []cartLineRequest `validate:"max=50,dive"`
	OfferID      string
}

type paymentRequest struct {
	cartRequest
	AddressID     string `validate:"required"`
	PaymentMethod string `validate:"required,oneof=card upi netbanking wallet"`
}

type verifyRequest struct {
	GatewayOrderID   string `validate:"required"`
	GatewayPaymentID string `validate:"required"`
	Signature        string `validate:"required,hexadecimal"`
}

type statusRequest struct {
	Status string `validate:"required"`
}

type agentRequest struct {
	AgentID string `validate:"required"`
}

func (c *cartRequest) decodeField(d *jx.Decoder, key string) (bool, error) {
	var err error
	switch key {
	case "restaurantId":
		c.RestaurantID, err = d.Str()
	case "offerId":
		c.OfferID, err = optStr(d)
	case "items":
		err = d.Arr(func(d *jx.Decoder) error {
			var line cartLineRequest
			if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				switch string(key) {
				case "menuItemId":
					line.MenuItemID, err = d.Str()
				case "quantity":
					line.Quantity, err = d.Int()
				case "note":
					line.Note, err = optStr(d)
				default:
					err = d.Skip()
				}
				return err
			}); err != nil {
				return err
			}
			c.Items = append(c.Items, line)
			return nil
		})
	default:
		return false, nil
	}
	return true, err
}

func decodeCart(d *jx.Decoder, c *cartRequest) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		ok, err := c.decodeField(d, string(key))
		if !ok {
			return d.Skip()
		}
		return err
	})
}

func decodePayment(d *jx.Decoder, p *paymentRequest) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if ok, err := p.decodeField(d, string(key)); ok {
			return err
		}
		var err error
		switch string(key) {
		case "addressId":
			p.AddressID, err = d.Str()
		case "paymentMethod":
			p.PaymentMethod, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

// decodeStrings decodes a flat object of string fields.
func decodeStrings(d *jx.Decoder, fields map[string]*string) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		dst, ok := fields[string(key)]
		if !ok {
			return d.Skip()
		}
		v, err := optStr(d)
		*dst = v
		return err
	})
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func (c cartRequest) toDomain(customerID string) checkout.Request {
	lines := make([]checkout.CartLine, len(c.Items))
	for i, l := range c.Items {
		lines[i] = checkout.CartLine{MenuItemID: l.MenuItemID, Quantity: l.Quantity, Note: l.Note}
	}
	return checkout.Request{
		CustomerID:   customerID,
		RestaurantID: c.RestaurantID,
		Lines:        lines,
		OfferID:      c.OfferID,
	}
}

// --- Responses ---

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// encodeMoney writes an amount as a JSON number with two decimals.
func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func moneyField(e *jx.Encoder, name string, d decimal.Decimal) {
	e.FieldStart(name)
	encodeMoney(e, d)
}

func strField(e *jx.Encoder, name, v string) {
	e.FieldStart(name)
	e.Str(v)
}

func optStrField(e *jx.Encoder, name, v string) {
	if v != "" {
		strField(e, name, v)
	}
}

func encodeBill(e *jx.Encoder, b pricing.Bill) {
	e.ObjStart()
	moneyField(e, "subtotal", b.Subtotal)
	moneyField(e, "tax", b.Tax)
	moneyField(e, "originalDeliveryFee", b.OriginalDeliveryFee)
	moneyField(e, "effectiveDeliveryFee", b.EffectiveDeliveryFee)
	moneyField(e, "discount", b.Discount)
	moneyField(e, "premiumExtraDiscount", b.PremiumExtraDiscount)
	moneyField(e, "premiumCashback", b.PremiumCashback)
	moneyField(e, "totalPayable", b.TotalPayable)
	moneyField(e, "savings", b.Discount.Add(b.PremiumExtraDiscount).Add(b.OriginalDeliveryFee.Sub(b.EffectiveDeliveryFee)))
	e.ObjEnd()
}

func encodeItems(e *jx.Encoder, items []pricing.LineItem) {
	e.ArrStart()
	for _, li := range items {
		e.ObjStart()
		strField(e, "menuItemId", li.MenuItemID)
		strField(e, "name", li.Name)
		moneyField(e, "unitPrice", li.UnitPrice)
		e.FieldStart("quantity")
		e.Int(li.Quantity)
		moneyField(e, "total", li.Total())
		optStrField(e, "note", li.Note)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodePremium(e *jx.Encoder, p *pricing.PremiumBreakdown) {
	if p == nil {
		e.Null()
		return
	}
	e.ObjStart()
	optStrField(e, "planId", p.Snapshot.PlanID)
	e.FieldStart("freeDeliveryApplied")
	e.Bool(p.FreeDeliveryApplied)
	moneyField(e, "extraDiscount", p.ExtraDiscount)
	moneyField(e, "cashback", p.Cashback)
	e.ObjEnd()
}

func encodeQuote(e *jx.Encoder, q *checkout.Quote) {
	e.ObjStart()
	strField(e, "restaurantId", q.Restaurant.ID)
	strField(e, "restaurantName", q.Restaurant.Name)
	e.FieldStart("items")
	encodeItems(e, q.Items)
	if q.Offer != nil {
		strField(e, "offerId", q.Offer.ID)
	}
	e.FieldStart("bill")
	encodeBill(e, q.Bill)
	e.FieldStart("premium")
	encodePremium(e, q.Premium)
	e.ObjEnd()
}

func encodeHandle(e *jx.Encoder, h *payment.Handle, q *checkout.Quote) {
	e.ObjStart()
	strField(e, "gatewayOrderId", h.GatewayOrderID)
	moneyField(e, "amount", h.Amount)
	strField(e, "currency", h.Currency)
	strField(e, "receipt", h.Receipt)
	e.FieldStart("bill")
	encodeBill(e, q.Bill)
	e.ObjEnd()
}

func encodeAddress(e *jx.Encoder, a identity.Address) {
	e.ObjStart()
	strField(e, "id", a.ID)
	optStrField(e, "label", a.Label)
	strField(e, "line1", a.Line1)
	optStrField(e, "line2", a.Line2)
	strField(e, "city", a.City)
	strField(e, "postalCode", a.PostalCode)
	optStrField(e, "phone", a.Phone)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	strField(e, "id", o.ID)
	strField(e, "customerId", o.CustomerID)
	strField(e, "customerName", o.CustomerName)
	strField(e, "restaurantId", o.RestaurantID)
	strField(e, "restaurantName", o.RestaurantName)
	e.FieldStart("items")
	encodeItems(e, o.Items)
	e.FieldStart("bill")
	encodeBill(e, o.Bill)
	optStrField(e, "offerId", o.OfferID)
	e.FieldStart("premium")
	encodePremium(e, o.Premium)
	strField(e, "paymentMethod", o.PaymentMethod)
	strField(e, "paymentStatus", string(o.PaymentStatus))
	e.FieldStart("payment")
	e.ObjStart()
	strField(e, "gatewayOrderId", o.Payment.GatewayOrderID)
	strField(e, "gatewayPaymentId", o.Payment.GatewayPaymentID)
	e.ObjEnd()
	e.FieldStart("deliveryAddress")
	encodeAddress(e, o.DeliveryAddress)
	strField(e, "status", string(o.Status))
	optStrField(e, "deliveryAgentId", o.DeliveryAgentID)
	e.FieldStart("timeline")
	e.ArrStart()
	for _, entry := range o.Timeline.Entries() {
		e.ObjStart()
		strField(e, "status", string(entry.Status))
		e.FieldStart("at")
		encodeTime(e, entry.At)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("createdAt")
	encodeTime(e, o.CreatedAt)
	if o.ResolvedAt != nil {
		e.FieldStart("resolvedAt")
		encodeTime(e, *o.ResolvedAt)
	}
	e.ObjEnd()
}

func encodePage(e *jx.Encoder, p order.Page) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for i := range p.Items {
		encodeOrder(e, &p.Items[i])
	}
	e.ArrEnd()
	e.FieldStart("totalCount")
	e.Int(p.TotalCount)
	e.FieldStart("page")
	e.Int(p.Page)
	e.FieldStart("pageSize")
	e.Int(p.PageSize)
	e.ObjEnd()
}

func encodeOffers(e *jx.Encoder, offers []pricing.Offer) {
	e.ArrStart()
	for _, o := range offers {
		e.ObjStart()
		strField(e, "id", o.ID)
		strField(e, "kind", string(o.Kind))
		moneyField(e, "value", o.Value)
		moneyField(e, "minOrderAmount", o.MinOrderAmount)
		if o.ValidTo != nil {
			e.FieldStart("validTo")
			encodeTime(e, *o.ValidTo)
		}
		optStrField(e, "description", o.Description)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeAgents(e *jx.Encoder, agents []agent.Agent) {
	e.ArrStart()
	for _, a := range agents {
		e.ObjStart()
		strField(e, "id", a.ID)
		strField(e, "name", a.Name)
		optStrField(e, "phone", a.Phone)
		e.ObjEnd()
	}
	e.ArrEnd()
}
