package editor

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/projection"
	"github.com/sirupsen/logrus"
)

const (
	msgUpdated = "Successfully Updated Your Cart"
	msgDeleted = "Successfully Deleted Item from Cart"
	msgAdded   = "Successfully added item %s to Cart"
)

// Writer is the write side of the replicated cart store.
type Writer interface {
	Push(ctx context.Context, userID string, item domain.CartLineItem) (string, error)
	Update(ctx context.Context, userID, recordID string, quantity int) error
	Delete(ctx context.Context, userID, recordID string) error
}

// View supplies the snapshot edits are made against and re-fetched after an ack.
type View interface {
	Current(ctx context.Context, userID string) (domain.CartSnapshot, error)
	Overlay() *projection.Overlay
}

type Editor struct {
	store Writer
	view  View
	log   *logrus.Entry
}

func New(store Writer, view View, log *logrus.Entry) *Editor {
	return &Editor{
		store: store,
		view:  view,
		log:   log.WithField("component", "line_item_editor"),
	}
}

// AdjustLocal returns a copy of snap with one record's quantity moved by one step.
// The input snapshot is left untouched.
func AdjustLocal(snap domain.CartSnapshot, recordID string, dir domain.Direction) (domain.CartSnapshot, error) {
	i := snap.IndexOf(recordID)
	if i < 0 {
		return snap, fmt.Errorf("adjust %s: %w", recordID, domain.ErrNotFound)
	}

	out := snap.Clone()
	switch dir {
	case domain.DirectionIncrement:
		out.Items[i].Quantity++
	case domain.DirectionDecrement:
		if out.Items[i].Quantity == 0 {
			return snap, fmt.Errorf("adjust %s: %w", recordID, domain.ErrNegativeQuantity)
		}
		out.Items[i].Quantity--
	default:
		return snap, fmt.Errorf("adjust %q: %w", dir, domain.ErrInvalidDirection)
	}
	return out, nil
}

// Adjust applies a local step to the current view and keeps it as a pending edit
// until it is persisted or expires. Nothing is written to the store.
func (e *Editor) Adjust(ctx context.Context, session domain.Session, recordID string, dir domain.Direction) (domain.CartSnapshot, error) {
	current, err := e.view.Current(ctx, session.UserID)
	if err != nil {
		return domain.CartSnapshot{}, err
	}
	next, err := AdjustLocal(current, recordID, dir)
	if err != nil {
		return current, err
	}
	e.view.Overlay().Set(session.UserID, recordID, next.Items[next.IndexOf(recordID)].Quantity)
	return next, nil
}

// Persist writes exactly the quantity field of one record.
func (e *Editor) Persist(ctx context.Context, session domain.Session, recordID string, quantity int) (domain.Ack, error) {
	log := logger.FromContext(ctx, e.log).WithFields(logrus.Fields{"user_id": session.UserID, "record_id": recordID})
	if quantity < 0 {
		return domain.Ack{}, fmt.Errorf("persist %s: %w", recordID, domain.ErrNegativeQuantity)
	}

	if err := e.store.Update(ctx, session.UserID, recordID, quantity); err != nil {
		log.WithError(err).Warn("persist quantity failed")
		return domain.Ack{}, err
	}
	e.view.Overlay().Clear(session.UserID, recordID)
	log.WithField("quantity", quantity).Info("quantity persisted")

	return e.ack(ctx, session.UserID, msgUpdated)
}

func (e *Editor) Remove(ctx context.Context, session domain.Session, recordID string) (domain.Ack, error) {
	log := logger.FromContext(ctx, e.log).WithFields(logrus.Fields{"user_id": session.UserID, "record_id": recordID})

	if err := e.store.Delete(ctx, session.UserID, recordID); err != nil {
		log.WithError(err).Warn("remove item failed")
		return domain.Ack{}, err
	}
	e.view.Overlay().Clear(session.UserID, recordID)
	log.Info("item removed")

	return e.ack(ctx, session.UserID, msgDeleted)
}

// AddToCart pushes a new record built from a catalog offer. A request larger than
// the offered quantity is clamped to it.
func (e *Editor) AddToCart(ctx context.Context, session domain.Session, offer domain.CartLineItem, requested int) (domain.Ack, error) {
	item, err := domain.NewLineItem(offer, requested)
	if err != nil {
		return domain.Ack{}, err
	}

	id, err := e.store.Push(ctx, session.UserID, item)
	if err != nil {
		logger.FromContext(ctx, e.log).WithError(err).WithField("user_id", session.UserID).Warn("add item failed")
		return domain.Ack{}, err
	}
	logger.FromContext(ctx, e.log).WithFields(logrus.Fields{
		"user_id":   session.UserID,
		"record_id": id,
		"quantity":  item.Quantity,
	}).Info("item added")

	return e.ack(ctx, session.UserID, fmt.Sprintf(msgAdded, item.Name))
}

// ack re-fetches the view after a write was acknowledged. The write already
// happened, so a failed re-fetch still yields a confirmation, without a snapshot.
func (e *Editor) ack(ctx context.Context, userID, message string) (domain.Ack, error) {
	ack := domain.Ack{Message: message, Refresh: true}
	snap, err := e.view.Current(ctx, userID)
	if err != nil {
		e.log.WithError(err).WithField("user_id", userID).Warn("refresh after write failed")
		return ack, nil
	}
	ack.Snapshot = &snap
	return ack, nil
}
