package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockOrderService struct {
	resp    *domain.ServiceResponse
	err     error
	updates []domain.OrderItemUpdate
	deletes []domain.OrderItemDelete
}

func (m *mockOrderService) CreateOrder(context.Context, string, domain.CheckoutOrder) (*domain.ServiceResponse, error) {
	return m.resp, m.err
}

func (m *mockOrderService) UpdateOrderItem(_ context.Context, _ string, upd domain.OrderItemUpdate) (*domain.ServiceResponse, error) {
	m.updates = append(m.updates, upd)
	return m.resp, m.err
}

func (m *mockOrderService) DeleteOrderItem(_ context.Context, _ string, del domain.OrderItemDelete) (*domain.ServiceResponse, error) {
	m.deletes = append(m.deletes, del)
	return m.resp, m.err
}

func TestUpdateOrderItem_Success(t *testing.T) {
	svc := &mockOrderService{resp: &domain.ServiceResponse{Status: 200}}
	g := NewGateway(svc, logger.Discard())

	ack, err := g.UpdateOrderItem(context.Background(), "o1", domain.OrderItemUpdate{ProductID: "p1", Quantity: 3})

	require.NoError(t, err)
	assert.Equal(t, "Successfully updated item in your Order", ack.Message)
	assert.True(t, ack.Refresh)
	assert.Equal(t, []domain.OrderItemUpdate{{ProductID: "p1", Quantity: 3}}, svc.updates)
}

func TestDeleteOrderItem_Success(t *testing.T) {
	svc := &mockOrderService{resp: &domain.ServiceResponse{Status: 200}}
	g := NewGateway(svc, logger.Discard())

	ack, err := g.DeleteOrderItem(context.Background(), "o1", domain.OrderItemDelete{ProductID: "p1"})

	require.NoError(t, err)
	assert.Equal(t, "Successfully deleted item from order", ack.Message)
	assert.True(t, ack.Refresh)
}

func TestNoSelection_SendsNothing(t *testing.T) {
	tests := []struct {
		name      string
		orderID   string
		productID string
	}{
		{"empty order id", "", "p1"},
		{"undefined order id", "undefined", "p1"},
		{"empty product id", "o1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockOrderService{resp: &domain.ServiceResponse{Status: 200}}
			g := NewGateway(svc, logger.Discard())
			ctx := context.Background()

			_, err := g.UpdateOrderItem(ctx, tt.orderID, domain.OrderItemUpdate{ProductID: tt.productID, Quantity: 1})
			assert.ErrorIs(t, err, domain.ErrNoSelection)
			assert.Equal(t, "No Order Selected", domain.UserMessage(err))

			_, err = g.DeleteOrderItem(ctx, tt.orderID, domain.OrderItemDelete{ProductID: tt.productID})
			assert.ErrorIs(t, err, domain.ErrNoSelection)

			assert.Empty(t, svc.updates)
			assert.Empty(t, svc.deletes)
		})
	}
}

func TestUpdateOrderItem_NegativeQuantity(t *testing.T) {
	svc := &mockOrderService{}
	g := NewGateway(svc, logger.Discard())

	_, err := g.UpdateOrderItem(context.Background(), "o1", domain.OrderItemUpdate{ProductID: "p1", Quantity: -1})

	assert.ErrorIs(t, err, domain.ErrNegativeQuantity)
	assert.Empty(t, svc.updates)
}

func TestRejectedMutationCarriesServiceMessage(t *testing.T) {
	svc := &mockOrderService{resp: &domain.ServiceResponse{Status: 404, Message: "order not found"}}
	g := NewGateway(svc, logger.Discard())

	ack, err := g.DeleteOrderItem(context.Background(), "o1", domain.OrderItemDelete{ProductID: "p1"})

	assert.ErrorIs(t, err, domain.ErrTransportFailure)
	assert.Equal(t, "order not found", domain.UserMessage(err))
	assert.False(t, ack.Refresh)
}

func TestTransportErrorIsPassedThrough(t *testing.T) {
	svc := &mockOrderService{err: &domain.TransportError{Op: "update order item", Err: errors.New("dial tcp: refused")}}
	g := NewGateway(svc, logger.Discard())

	_, err := g.UpdateOrderItem(context.Background(), "o1", domain.OrderItemUpdate{ProductID: "p1", Quantity: 1})

	assert.ErrorIs(t, err, domain.ErrTransportFailure)
}
