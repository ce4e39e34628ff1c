package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type OrderEditor interface {
	UpdateOrderItem(ctx context.Context, orderID string, upd domain.OrderItemUpdate) (domain.Ack, error)
	DeleteOrderItem(ctx context.Context, orderID string, del domain.OrderItemDelete) (domain.Ack, error)
}

type OrdersHandler struct {
	gateway OrderEditor
	timeout time.Duration
	responder
}

func NewOrdersHandler(gateway OrderEditor, timeout time.Duration, log *logrus.Entry) *OrdersHandler {
	return &OrdersHandler{
		gateway:   gateway,
		timeout:   timeout,
		responder: responder{log: log.WithField("handler", "orders")},
	}
}

func (h *OrdersHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := SessionFromContext(r.Context()); !ok {
		h.respondError(w, r, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req domain.OrderItemUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	orderID := chi.URLParam(r, "order_id")
	ack, err := h.gateway.UpdateOrderItem(ctx, orderID, req)
	if err != nil {
		h.logFailure(r, "update order item", orderID, err)
		h.handleDomainError(w, r, err)
		return
	}

	h.respondJSON(w, r, http.StatusOK, ack)
}

func (h *OrdersHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := SessionFromContext(r.Context()); !ok {
		h.respondError(w, r, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req domain.OrderItemDelete
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	orderID := chi.URLParam(r, "order_id")
	ack, err := h.gateway.DeleteOrderItem(ctx, orderID, req)
	if err != nil {
		h.logFailure(r, "delete order item", orderID, err)
		h.handleDomainError(w, r, err)
		return
	}

	h.respondJSON(w, r, http.StatusOK, ack)
}

func (h *OrdersHandler) logFailure(r *http.Request, op, orderID string, err error) {
	logger.FromContext(r.Context(), h.log).WithFields(logrus.Fields{
		"op":         op,
		"order_id":   orderID,
		"request_id": getRequestID(r.Context()),
	}).WithError(err).Warn("order request failed")
}
