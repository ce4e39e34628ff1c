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

type CartReader interface {
	Current(ctx context.Context, userID string) (domain.CartSnapshot, error)
}

type CartEditor interface {
	Adjust(ctx context.Context, session domain.Session, recordID string, dir domain.Direction) (domain.CartSnapshot, error)
	Persist(ctx context.Context, session domain.Session, recordID string, quantity int) (domain.Ack, error)
	Remove(ctx context.Context, session domain.Session, recordID string) (domain.Ack, error)
	AddToCart(ctx context.Context, session domain.Session, offer domain.CartLineItem, requested int) (domain.Ack, error)
}

type CartHandler struct {
	view    CartReader
	editor  CartEditor
	timeout time.Duration
	responder
}

func NewCartHandler(view CartReader, editor CartEditor, timeout time.Duration, log *logrus.Entry) *CartHandler {
	return &CartHandler{
		view:      view,
		editor:    editor,
		timeout:   timeout,
		responder: responder{log: log.WithField("handler", "cart")},
	}
}

type AddItemRequestDTO struct {
	Item     domain.CartLineItem `json:"item"`
	Quantity int                 `json:"quantity"`
}

type AdjustRequestDTO struct {
	Direction domain.Direction `json:"direction"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, ok := SessionFromContext(r.Context())
	if !ok {
		h.respondError(w, r, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	snap, err := h.view.Current(ctx, session.UserID)
	if err != nil {
		h.logFailure(r, "get cart", err)
		h.handleDomainError(w, r, err)
		return
	}

	h.respondJSON(w, r, http.StatusOK, snap)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, ok := SessionFromContext(r.Context())
	if !ok {
		h.respondError(w, r, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Item.ProductID == "" {
		h.respondError(w, r, http.StatusBadRequest, "invalid_product_id", "item.prod_id is required")
		return
	}

	ack, err := h.editor.AddToCart(ctx, session, req.Item, req.Quantity)
	if err != nil {
		h.logFailure(r, "add to cart", err)
		h.handleDomainError(w, r, err)
		return
	}

	h.respondJSON(w, r, http.StatusCreated, ack)
}

// AdjustItem applies a local +1/-1 and returns the snapshot the user should now
// see. Nothing is written to the store until UpdateQuantity.
func (h *CartHandler) AdjustItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, ok := SessionFromContext(r.Context())
	if !ok {
		h.respondError(w, r, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	recordID := chi.URLParam(r, "record_id")

	var req AdjustRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	snap, err := h.editor.Adjust(ctx, session, recordID, req.Direction)
	if err != nil {
		h.logFailure(r, "adjust item", err)
		h.handleDomainError(w, r, err)
		return
	}

	h.respondJSON(w, r, http.StatusOK, snap)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, ok := SessionFromContext(r.Context())
	if !ok {
		h.respondError(w, r, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	recordID := chi.URLParam(r, "record_id")

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid_quantity", "quantity is required")
		return
	}

	ack, err := h.editor.Persist(ctx, session, recordID, *req.Quantity)
	if err != nil {
		h.logFailure(r, "persist quantity", err)
		h.handleDomainError(w, r, err)
		return
	}

	h.respondJSON(w, r, http.StatusOK, ack)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, ok := SessionFromContext(r.Context())
	if !ok {
		h.respondError(w, r, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	ack, err := h.editor.Remove(ctx, session, chi.URLParam(r, "record_id"))
	if err != nil {
		h.logFailure(r, "remove item", err)
		h.handleDomainError(w, r, err)
		return
	}

	h.respondJSON(w, r, http.StatusOK, ack)
}

func (h *CartHandler) logFailure(r *http.Request, op string, err error) {
	logger.FromContext(r.Context(), h.log).WithFields(logrus.Fields{
		"op":         op,
		"request_id": getRequestID(r.Context()),
	}).WithError(err).Warn("cart request failed")
}
