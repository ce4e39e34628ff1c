package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/sirupsen/logrus"
)

const idempotencyHeader = "Idempotency-Key"

type CheckoutRunner interface {
	Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, error)
}

type CheckoutHandler struct {
	coordinator CheckoutRunner
	timeout     time.Duration
	responder
}

func NewCheckoutHandler(coordinator CheckoutRunner, timeout time.Duration, log *logrus.Entry) *CheckoutHandler {
	return &CheckoutHandler{
		coordinator: coordinator,
		timeout:     timeout,
		responder:   responder{log: log.WithField("handler", "checkout")},
	}
}

// Checkout places an order for the caller's current cart. A repeated
// Idempotency-Key returns the stored outcome instead of ordering again.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, ok := SessionFromContext(r.Context())
	if !ok {
		h.respondError(w, r, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	req := domain.CheckoutRequest{
		Session:        session,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyHeader)),
	}

	log := h.requestLog(r).WithField("user_id", session.UserID)

	result, err := h.coordinator.Checkout(ctx, req)
	switch {
	case err == nil && result.Status == domain.CheckoutStatusCompleted:
		h.respondJSON(w, r, http.StatusOK, result)
	case err == nil:
		// a replay of a checkout still running or held for review
		h.respondJSON(w, r, http.StatusAccepted, result)
	case errors.Is(err, domain.ErrPartialCheckout) && result != nil:
		// the order exists; the client must treat this as placed and refresh
		log.WithError(err).Warn("checkout partially completed")
		h.respondJSON(w, r, http.StatusAccepted, result)
	case result != nil:
		log.WithError(err).WithField("checkout_id", result.CheckoutID).Warn("checkout failed")
		status, body := errorStatus(err)
		body.CheckoutID = result.CheckoutID
		h.respondJSON(w, r, status, body)
	default:
		log.WithError(err).Warn("checkout failed")
		h.handleDomainError(w, r, err)
	}
}
