package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-sales-orders/internal/logging"
	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Idempotency maps a client-supplied key to the order it created.
type Idempotency interface {
	Recall(ctx context.Context, scope, key string) (string, bool, error)
	Lock(ctx context.Context, scope, key string) (bool, error)
	Unlock(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, orderID string) error
}

type StatusCache interface {
	orders.StatusCache
	GetStatus(ctx context.Context, orderID string) (orders.Status, bool, error)
}

type OrdersHandler struct {
	Orders *orders.Service
	Idem   Idempotency // optional
	Status StatusCache // optional
	Log    *zap.Logger
}

const HeaderIdempotencyKey = "Idempotency-Key"

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/customers/{id}/orders", h.customerOrders)
	r.Get("/customers/{id}/spend", h.customerSpend)
}

func (h *OrdersHandler) logger(r *http.Request) *zap.Logger {
	return logging.FromCtx(r.Context(), h.Log)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		badRequest(w, "customer_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key != "" && h.Idem != nil {
		if h.recall(ctx, w, r, req.CustomerID, key) {
			return
		}

		locked, err := h.Idem.Lock(ctx, req.CustomerID, key)
		switch {
		case err != nil:
			h.logger(r).Warn("idempotency lock failed", zap.Error(err))
		case !locked:
			writeJSON(w, http.StatusConflict, errorResp{
				Error: "a request with this Idempotency-Key is in progress",
				Kind:  orders.KindConflict.String(),
			})
			return
		default:
			defer func() {
				if err := h.Idem.Unlock(context.WithoutCancel(ctx), req.CustomerID, key); err != nil {
					h.logger(r).Warn("idempotency unlock failed", zap.Error(err))
				}
			}()
			// The previous holder may have finished between our first
			// recall and the lock.
			if h.recall(ctx, w, r, req.CustomerID, key) {
				return
			}
		}
	}

	o, err := h.Orders.ProcessOrder(ctx, req.CustomerID, req.Lines)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if key != "" && h.Idem != nil {
		if err := h.Idem.Remember(ctx, req.CustomerID, key, o.ID); err != nil {
			h.logger(r).Warn("idempotency remember failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, toOrderResp(o))
}

// recall replays the order already created under key and reports whether it
// wrote a response.
func (h *OrdersHandler) recall(ctx context.Context, w http.ResponseWriter, r *http.Request, customerID, key string) bool {
	id, ok, err := h.Idem.Recall(ctx, customerID, key)
	if err != nil {
		h.logger(r).Warn("idempotency recall failed", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	h.replay(ctx, w, r, id)
	return true
}

func (h *OrdersHandler) replay(ctx context.Context, w http.ResponseWriter, r *http.Request, orderID string) {
	o, err := h.Orders.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	w.Header().Set("Idempotent-Replayed", "true")
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var (
		list []orders.Order
		err  error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		var s orders.Status
		if s, err = orders.ParseStatus(raw); err == nil {
			list, err = h.Orders.ListOrdersByStatus(ctx, s)
		}
	} else {
		list, err = h.Orders.ListOrders(ctx)
	}
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResps(list))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

// getOrderStatus tries the cache first and falls back to the store.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Status != nil {
		s, ok, err := h.Status.GetStatus(ctx, id)
		if err != nil {
			h.logger(r).Warn("status cache read failed", zap.String("order_id", id), zap.Error(err))
		} else if ok {
			writeJSON(w, http.StatusOK, OrderStatusResp{OrderID: id, Status: s, Source: "cache"})
			return
		}
	}

	o, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if h.Status != nil {
		if err := h.Status.SetStatus(ctx, id, o.Status); err != nil {
			h.logger(r).Warn("status cache write failed", zap.String("order_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, OrderStatusResp{OrderID: id, Status: o.Status, Source: "store"})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if !decodeJSON(w, r, &req) {
		return
	}
	to, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.UpdateStatus(ctx, chi.URLParam(r, "id"), to)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Orders.CancelOrder(ctx, id); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	o, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) customerOrders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if _, err := h.Orders.GetCustomer(ctx, id); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	list, err := h.Orders.ListOrdersByCustomer(ctx, id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResps(list))
}

func (h *OrdersHandler) customerSpend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	total, err := h.Orders.TotalSpendByCustomer(ctx, id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, SpendResp{CustomerID: id, Total: money(total)})
}
