package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/sirupsen/logrus"
)

const (
	msgItemUpdated = "Successfully updated item in your Order"
	msgItemDeleted = "Successfully deleted item from order"
)

// OrderService is the remote order endpoint as seen by the gateway and the checkout saga.
type OrderService interface {
	CreateOrder(ctx context.Context, userID string, order domain.CheckoutOrder) (*domain.ServiceResponse, error)
	UpdateOrderItem(ctx context.Context, orderID string, upd domain.OrderItemUpdate) (*domain.ServiceResponse, error)
	DeleteOrderItem(ctx context.Context, orderID string, del domain.OrderItemDelete) (*domain.ServiceResponse, error)
}

// Gateway forwards edits of already placed orders. It holds no order state.
type Gateway struct {
	svc OrderService
	log *logrus.Entry
}

func NewGateway(svc OrderService, log *logrus.Entry) *Gateway {
	return &Gateway{svc: svc, log: log.WithField("component", "order_gateway")}
}

func (g *Gateway) UpdateOrderItem(ctx context.Context, orderID string, upd domain.OrderItemUpdate) (domain.Ack, error) {
	if err := checkSelection(orderID, upd.ProductID); err != nil {
		return domain.Ack{}, err
	}
	if upd.Quantity < 0 {
		return domain.Ack{}, fmt.Errorf("update order %s: %w", orderID, domain.ErrNegativeQuantity)
	}

	resp, err := g.svc.UpdateOrderItem(ctx, orderID, upd)
	return g.ack(ctx, "update order item", orderID, resp, err, msgItemUpdated)
}

func (g *Gateway) DeleteOrderItem(ctx context.Context, orderID string, del domain.OrderItemDelete) (domain.Ack, error) {
	if err := checkSelection(orderID, del.ProductID); err != nil {
		return domain.Ack{}, err
	}

	resp, err := g.svc.DeleteOrderItem(ctx, orderID, del)
	return g.ack(ctx, "delete order item", orderID, resp, err, msgItemDeleted)
}

// checkSelection rejects requests the UI sends before anything was picked. Browsers
// stringify a missing id as "undefined".
func checkSelection(orderID, productID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" || orderID == "undefined" || strings.TrimSpace(productID) == "" {
		return domain.ErrNoSelection
	}
	return nil
}

func (g *Gateway) ack(ctx context.Context, op, orderID string, resp *domain.ServiceResponse, err error, success string) (domain.Ack, error) {
	log := logger.FromContext(ctx, g.log).WithFields(logrus.Fields{"op": op, "order_id": orderID})
	if err != nil {
		log.WithError(err).Warn("order mutation failed")
		return domain.Ack{}, err
	}
	if resp == nil {
		return domain.Ack{}, &domain.TransportError{Op: op, Detail: "empty response"}
	}
	if !resp.OK() {
		log.WithField("status", resp.Status).Warn("order service rejected mutation")
		return domain.Ack{}, &domain.TransportError{Op: op, Status: resp.Status, Detail: resp.Message}
	}
	log.Info("order mutated")
	return domain.Ack{Message: success, Refresh: true}, nil
}
