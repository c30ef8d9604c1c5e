package handler

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/jx"

	"github.com/xenking/feast/internal/domain/order"
)

const maxPageSize = 100

// parseQuery reads search, status, sort, order, page and pageSize.
func parseQuery(q url.Values) (order.QueryParams, error) {
	var (
		p   order.QueryParams
		err error
	)
	p.Search = q.Get("search")
	if v := q.Get("status"); v != "" {
		if p.Status, err = order.ParseStatus(v); err != nil {
			return p, err
		}
	}
	if p.SortField, err = order.ParseSortField(q.Get("sort")); err != nil {
		return p, err
	}
	if p.SortOrder, err = order.ParseSortOrder(q.Get("order")); err != nil {
		return p, err
	}
	// Pages past the last one are answered with an empty page.
	if p.Page, err = positiveParam(q, "page", 1); err != nil {
		return p, err
	}
	if p.PageSize, err = positiveParam(q, "pageSize", order.DefaultPageSize); err != nil {
		return p, err
	}
	if p.PageSize > maxPageSize {
		return p, badRequest("pageSize must be between 1 and " + strconv.Itoa(maxPageSize))
	}
	return p, nil
}

func positiveParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, badRequest(name + " must be a positive integer")
	}
	return n, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, f order.ListFilter) {
	p, err := parseQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.orders.List(r.Context(), f, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePage(e, page) })
}

func writeOrder(w http.ResponseWriter, r *http.Request, o *order.Order, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// ListMyOrders lists the caller's orders.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, order.ListFilter{CustomerID: principal(r).CustomerID})
}

// GetMyOrder returns one of the caller's orders for tracking. Other
// customers' orders are reported as not found.
func (h *Handler) GetMyOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err == nil && o.CustomerID != principal(r).CustomerID {
		o, err = nil, order.ErrNotFound
	}
	writeOrder(w, r, o, err)
}

// ListOrders serves the admin console table.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, order.ListFilter{})
}

// GetOrder returns any order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	writeOrder(w, r, o, err)
}

// UpdateStatus advances an order along its lifecycle.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := readBody(w, r, func(d *jx.Decoder) error {
		return decodeStrings(d, map[string]*string{"status": &req.Status})
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.StructCtx(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	to, err := order.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Advance(r.Context(), r.PathValue("id"), to)
	writeOrder(w, r, o, err)
}

// CancelOrder cancels a non-terminal order.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Cancel(r.Context(), r.PathValue("id"))
	writeOrder(w, r, o, err)
}

// AssignAgent assigns a delivery agent and dispatches the order.
func (h *Handler) AssignAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := readBody(w, r, func(d *jx.Decoder) error {
		return decodeStrings(d, map[string]*string{"agentId": &req.AgentID})
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.StructCtx(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.AssignAgent(r.Context(), r.PathValue("id"), req.AgentID)
	writeOrder(w, r, o, err)
}

// ListAgents lists assignable delivery agents.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agents.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeAgents(e, agents) })
}
