package domain

import "encoding/json"

// CheckoutOrder is the unit submitted to the order service.
type CheckoutOrder struct {
	Order []CartLineItem `json:"order"`
}

// RecordIDs lists the cart records that were submitted, in submission order.
func (o CheckoutOrder) RecordIDs() []string {
	ids := make([]string, 0, len(o.Order))
	for _, item := range o.Order {
		ids = append(ids, item.RecordID)
	}
	return ids
}

type CheckoutRequest struct {
	Session        Session
	IdempotencyKey string
}

type CheckoutResult struct {
	CheckoutID string         `json:"checkout_id"`
	Status     CheckoutStatus `json:"status"`
	OrderID    string         `json:"order_id,omitempty"`
	Message    string         `json:"message"`
	Snapshot   *CartSnapshot  `json:"snapshot,omitempty"`
	Replayed   bool           `json:"replayed,omitempty"`
}

// ServiceResponse is the {status, body/message} pair returned by the order service.
type ServiceResponse struct {
	Status  int
	Message string
	OrderID string
	Body    json.RawMessage
}

func (r *ServiceResponse) OK() bool {
	return r != nil && r.Status == 200
}

type OrderItemUpdate struct {
	ProductID string `json:"prod_id"`
	Quantity  int    `json:"quantity"`
}

type OrderItemDelete struct {
	ProductID string `json:"prod_id"`
}
