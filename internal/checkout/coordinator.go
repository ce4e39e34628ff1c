// Package checkout turns a cart into an order. The saga is
//
//	IDLE -> SUBMITTING -> ORDER_CREATED -> CLEARING_CART -> COMPLETED | PARTIALLY_COMPLETED
//	SUBMITTING -> FAILED
//
// and every step is recorded on a durable checkout session, so an order whose cart
// was not cleared can be finished later by ResumeClear without ordering twice.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/checkoutstore"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	msgCheckoutDone   = "Successfully Checkout"
	msgCheckoutFailed = "Error with your Checkout"
	msgCheckoutReview = "Your checkout is being reviewed. Please contact support before ordering again."

	defaultClearTimeout   = 5 * time.Second
	defaultMarkerAttempts = 3
	defaultMarkerBackoff  = 100 * time.Millisecond
)

type CartView interface {
	Current(ctx context.Context, userID string) (domain.CartSnapshot, error)
}

type CartStore interface {
	Clear(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID, recordID string) error
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, userID string, order domain.CheckoutOrder) (*domain.ServiceResponse, error)
}

type Coordinator struct {
	repo         checkoutstore.RepoInterface
	view         CartView
	cart         CartStore
	orders       OrderCreator
	metrics      *metrics.Metrics
	log          *logrus.Entry
	clearTimeout time.Duration
	newID        func() string

	markerAttempts int
	markerBackoff  time.Duration
}

func NewCoordinator(
	repo checkoutstore.RepoInterface,
	view CartView,
	cart CartStore,
	orders OrderCreator,
	m *metrics.Metrics,
	log *logrus.Entry,
) *Coordinator {
	return &Coordinator{
		repo:         repo,
		view:         view,
		cart:         cart,
		orders:       orders,
		metrics:      m,
		log:          log.WithField("component", "checkout"),
		clearTimeout: defaultClearTimeout,
		newID:        uuid.NewString,

		markerAttempts: defaultMarkerAttempts,
		markerBackoff:  defaultMarkerBackoff,
	}
}

// Checkout submits the user's current view as one order and clears the cart once
// the order service acknowledged it. A failed clear yields a result together with
// a *domain.PartialCheckoutError; createOrder is never sent twice for one session.
func (c *Coordinator) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	userID := req.Session.UserID
	log := logger.FromContext(ctx, c.log).WithField("user_id", userID)

	if req.IdempotencyKey != "" {
		existing, err := c.repo.GetSessionByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			log.WithFields(logrus.Fields{"checkout_id": existing.ID, "status": existing.Status}).
				Info("duplicate checkout request, replaying stored outcome")
			return c.replay(existing)
		}
		if !errors.Is(err, checkoutstore.ErrSessionNotFound) {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
	}

	// the order is whatever the user currently sees, pending edits included
	snap, err := c.view.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	order := domain.CheckoutOrder{Order: snap.Items}
	payload, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	session := &checkoutstore.CheckoutSession{
		ID:           c.newID(),
		UserID:       userID,
		CartSnapshot: payload,
	}
	if req.IdempotencyKey != "" {
		session.IdempotencyKey = &req.IdempotencyKey
	}
	if err := c.repo.CreateSession(ctx, session); err != nil {
		if errors.Is(err, checkoutstore.ErrDuplicateIdempotencyKey) {
			existing, getErr := c.repo.GetSessionByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr != nil {
				return nil, fmt.Errorf("failed to load concurrent checkout: %w", getErr)
			}
			return c.replay(existing)
		}
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	s := &saga{c: c, id: session.ID, userID: userID, status: domain.CheckoutStatusSubmitting, order: order}
	s.log = log.WithField("checkout_id", session.ID)
	s.log.WithFields(logrus.Fields{"step": "submit", "items": len(order.Order)}).Info("submitting order")

	resp, err := c.orders.CreateOrder(ctx, userID, order)
	if err == nil && resp == nil {
		err = &domain.TransportError{Op: "create order", Detail: msgCheckoutFailed}
	}
	if err == nil && !resp.OK() {
		detail := resp.Message
		if detail == "" {
			detail = msgCheckoutFailed
		}
		err = &domain.TransportError{Op: "create order", Status: resp.Status, Detail: detail}
	}
	if err != nil {
		return s.fail(ctx, err)
	}

	s.orderID = resp.OrderID
	s.advance(ctx, "order_created", checkoutstore.Transition{To: domain.CheckoutStatusOrderCreated, OrderID: resp.OrderID})
	s.advance(ctx, "clear_cart", checkoutstore.Transition{To: domain.CheckoutStatusClearingCart})

	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.clearTimeout)
	defer cancel()
	var res *domain.CheckoutResult
	if clearErr := c.cart.Clear(clearCtx, userID); clearErr != nil {
		res, err = s.partial(ctx, clearErr)
	} else {
		res, err = s.complete(ctx)
	}
	s.reportUnwritten()
	return res, err
}

// ResumeClear finishes a checkout whose order exists but whose cart clear did not
// happen. Only the submitted records are deleted, so items added since survive;
// a record that is already gone counts as deleted.
func (c *Coordinator) ResumeClear(ctx context.Context, session *checkoutstore.CheckoutSession) error {
	log := logger.FromContext(ctx, c.log).WithFields(logrus.Fields{
		"checkout_id": session.ID,
		"user_id":     session.UserID,
		"step":        "recover_clear",
	})
	if !session.Status.OrderPlaced() || session.Status.IsTerminal() {
		return fmt.Errorf("resume clear from %s: %w", session.Status, domain.ErrIllegalTransition)
	}

	order, err := session.Order()
	if err != nil {
		return fmt.Errorf("failed to decode submitted order: %w", err)
	}

	s := &saga{c: c, id: session.ID, userID: session.UserID, status: session.Status, order: order, log: log}
	if session.OrderID != nil {
		s.orderID = *session.OrderID
	}
	if s.status != domain.CheckoutStatusClearingCart {
		if err := s.advance(ctx, "clear_cart", checkoutstore.Transition{To: domain.CheckoutStatusClearingCart}); err != nil {
			return err
		}
	}

	for _, recordID := range order.RecordIDs() {
		if recordID == "" {
			continue
		}
		err := c.cart.Delete(ctx, session.UserID, recordID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			c.metrics.RecoveryAttempts.WithLabelValues("failed").Inc()
			s.advance(ctx, "recover_clear", checkoutstore.Transition{
				To:                domain.CheckoutStatusPartiallyCompleted,
				LastError:         err.Error(),
				BumpClearAttempts: true,
			})
			log.WithError(err).WithField("record_id", recordID).Warn("recovery clear failed")
			return err
		}
	}

	c.metrics.RecoveryAttempts.WithLabelValues("succeeded").Inc()
	if err := s.advance(ctx, "completed", checkoutstore.Transition{
		To:    domain.CheckoutStatusCompleted,
		Event: s.event(checkoutstore.EventCheckoutCompleted, ""),
	}); err != nil {
		return err
	}
	log.WithField("outcome", "completed").Info("checkout recovered")
	return nil
}

// FlagForReconciliation parks a submission whose outcome cannot be known: the order
// service may hold an order for it, so it is neither re-ordered nor failed.
func (c *Coordinator) FlagForReconciliation(ctx context.Context, session *checkoutstore.CheckoutSession) error {
	log := logger.FromContext(ctx, c.log).WithFields(logrus.Fields{
		"checkout_id": session.ID,
		"user_id":     session.UserID,
		"step":        "reconcile",
	})
	if session.Status != domain.CheckoutStatusSubmitting {
		return fmt.Errorf("flag for reconciliation from %s: %w", session.Status, domain.ErrIllegalTransition)
	}

	order, err := session.Order()
	if err != nil {
		return fmt.Errorf("failed to decode submitted order: %w", err)
	}

	s := &saga{c: c, id: session.ID, userID: session.UserID, status: session.Status, order: order, log: log}
	reason := "order outcome unknown: no ORDER_CREATED marker was recorded"
	if err := s.advance(ctx, "reconcile", checkoutstore.Transition{
		To:        domain.CheckoutStatusNeedsReconciliation,
		LastError: reason,
		Event:     s.event(checkoutstore.EventCheckoutNeedsReconciliation, reason),
	}); err != nil {
		return err
	}
	c.metrics.CheckoutOutcomes.WithLabelValues(metrics.OutcomeNeedsReconciliation).Inc()
	log.WithField("outcome", "needs_reconciliation").Error("checkout needs manual reconciliation")
	return nil
}

// replay rebuilds the result of a checkout that already ran for the same key.
func (c *Coordinator) replay(session *checkoutstore.CheckoutSession) (*domain.CheckoutResult, error) {
	c.metrics.CheckoutOutcomes.WithLabelValues(metrics.OutcomeReplayed).Inc()

	res := &domain.CheckoutResult{CheckoutID: session.ID, Status: session.Status, Replayed: true}
	if session.OrderID != nil {
		res.OrderID = *session.OrderID
	}
	lastErr := ""
	if session.LastError != nil {
		lastErr = *session.LastError
	}

	switch session.Status {
	case domain.CheckoutStatusCompleted:
		res.Message = msgCheckoutDone
		return res, nil
	case domain.CheckoutStatusFailed:
		err := &domain.TransportError{Op: "create order", Detail: lastErr}
		if lastErr == "" {
			err.Detail = msgCheckoutFailed
		}
		res.Message = domain.UserMessage(err)
		return res, err
	case domain.CheckoutStatusPartiallyCompleted:
		err := &domain.PartialCheckoutError{CheckoutID: session.ID, OrderID: res.OrderID, Cause: errors.New(lastErr)}
		res.Message = domain.UserMessage(err)
		return res, err
	case domain.CheckoutStatusNeedsReconciliation:
		res.Message = msgCheckoutReview
		return res, nil
	default:
		res.Message = "Checkout is in progress"
		return res, nil
	}
}

// saga tracks one run through the state machine.
type saga struct {
	c       *Coordinator
	id      string
	userID  string
	orderID string
	status  domain.CheckoutStatus
	order   domain.CheckoutOrder
	log     *logrus.Entry

	// transitions that could not be stored yet, oldest first
	unwritten []marker
}

type marker struct {
	step string
	t    checkoutstore.Transition
}

// advance stores t after every transition still waiting from an earlier failed
// write, so one lost write cannot make the later steps illegal. The in-memory
// status only follows what was stored.
func (s *saga) advance(ctx context.Context, step string, t checkoutstore.Transition) error {
	s.unwritten = append(s.unwritten, marker{step: step, t: t})
	for len(s.unwritten) > 0 {
		next := s.unwritten[0]
		if err := s.write(ctx, next.step, next.t); err != nil {
			return err
		}
		s.unwritten = s.unwritten[1:]
	}
	return nil
}

// write stores one transition with bounded exponential backoff. It runs detached
// from the caller: once an order exists the marker must not be lost to a client
// disconnect.
func (s *saga) write(ctx context.Context, step string, t checkoutstore.Transition) error {
	ctx = context.WithoutCancel(ctx)
	t.From = s.status
	log := s.log.WithFields(logrus.Fields{"step": step, "from": t.From, "to": t.To})

	backoff := s.c.markerBackoff
	var err error
	for attempt := 1; attempt <= s.c.markerAttempts; attempt++ {
		err = s.c.repo.Transition(ctx, s.id, t)
		if err == nil || s.alreadyStored(ctx, t.To, err) {
			log.Debug("checkout advanced")
			s.status = t.To
			return nil
		}
		if errors.Is(err, domain.ErrIllegalTransition) {
			break
		}
		if attempt < s.c.markerAttempts {
			log.WithError(err).WithField("attempt", attempt).Warn("retrying checkout status write")
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	log.WithError(err).Error("failed to record checkout status")
	return err
}

// alreadyStored covers a write that committed although its answer was lost: the
// retry then finds the session already in the target status.
func (s *saga) alreadyStored(ctx context.Context, to domain.CheckoutStatus, err error) bool {
	if !errors.Is(err, checkoutstore.ErrStaleTransition) {
		return false
	}
	session, getErr := s.c.repo.GetSession(ctx, s.id)
	return getErr == nil && session.Status == to
}

// reportUnwritten flags a run that ended with its marker behind. Sessions left in
// ORDER_CREATED or CLEARING_CART are picked up by clear recovery; one left in
// SUBMITTING is parked for reconciliation.
func (s *saga) reportUnwritten() {
	if len(s.unwritten) == 0 {
		return
	}
	last := s.unwritten[len(s.unwritten)-1]
	s.log.WithFields(logrus.Fields{
		"outcome":  "marker_behind",
		"recorded": s.status,
		"wanted":   last.t.To,
		"order_id": s.orderID,
	}).Error("checkout finished but its status marker is behind")
}

func (s *saga) fail(ctx context.Context, cause error) (*domain.CheckoutResult, error) {
	msg := domain.UserMessage(cause)
	s.advance(ctx, "failed", checkoutstore.Transition{
		To:        domain.CheckoutStatusFailed,
		LastError: msg,
		Event:     s.event(checkoutstore.EventCheckoutFailed, msg),
	})
	s.c.metrics.CheckoutOutcomes.WithLabelValues(metrics.OutcomeFailed).Inc()
	s.log.WithError(cause).WithField("outcome", "failed").Warn("order was not created, cart left untouched")

	return &domain.CheckoutResult{
		CheckoutID: s.id,
		Status:     domain.CheckoutStatusFailed,
		Message:    msg,
	}, cause
}

func (s *saga) partial(ctx context.Context, cause error) (*domain.CheckoutResult, error) {
	s.advance(ctx, "partially_completed", checkoutstore.Transition{
		To:                domain.CheckoutStatusPartiallyCompleted,
		LastError:         cause.Error(),
		BumpClearAttempts: true,
		Event:             s.event(checkoutstore.EventCheckoutPartiallyCompleted, cause.Error()),
	})
	s.c.metrics.CheckoutOutcomes.WithLabelValues(metrics.OutcomePartiallyCompleted).Inc()
	s.log.WithError(cause).WithFields(logrus.Fields{"outcome": "partial_checkout", "order_id": s.orderID}).
		Error("order created but cart clear failed")

	perr := &domain.PartialCheckoutError{CheckoutID: s.id, OrderID: s.orderID, Cause: cause}
	return &domain.CheckoutResult{
		CheckoutID: s.id,
		Status:     domain.CheckoutStatusPartiallyCompleted,
		OrderID:    s.orderID,
		Message:    domain.UserMessage(perr),
		Snapshot:   s.refresh(ctx),
	}, perr
}

func (s *saga) complete(ctx context.Context) (*domain.CheckoutResult, error) {
	s.advance(ctx, "completed", checkoutstore.Transition{
		To:    domain.CheckoutStatusCompleted,
		Event: s.event(checkoutstore.EventCheckoutCompleted, ""),
	})
	s.c.metrics.CheckoutOutcomes.WithLabelValues(metrics.OutcomeCompleted).Inc()
	s.log.WithFields(logrus.Fields{"outcome": "completed", "order_id": s.orderID}).Info("checkout completed")

	snap := s.refresh(ctx)
	if snap == nil {
		snap = &domain.CartSnapshot{UserID: s.userID, Items: []domain.CartLineItem{}}
	}
	return &domain.CheckoutResult{
		CheckoutID: s.id,
		Status:     domain.CheckoutStatusCompleted,
		OrderID:    s.orderID,
		Message:    msgCheckoutDone,
		Snapshot:   snap,
	}, nil
}

func (s *saga) refresh(ctx context.Context) *domain.CartSnapshot {
	snap, err := s.c.view.Current(ctx, s.userID)
	if err != nil {
		s.log.WithError(err).Warn("refresh after checkout failed")
		return nil
	}
	return &snap
}

func (s *saga) event(eventType, reason string) *checkoutstore.OutboxEvent {
	payload := map[string]interface{}{
		"checkout_id": s.id,
		"user_id":     s.userID,
		"order_id":    s.orderID,
		"items":       s.order.Order,
		"occurred_at": time.Now().UTC(),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal outbox payload")
		return nil
	}
	return &checkoutstore.OutboxEvent{EventType: eventType, Payload: data}
}
