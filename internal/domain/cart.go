package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CartLineItem is one product held in a user's cart. The JSON and BSON keys keep
// the wire shape the storefront clients already speak.
type CartLineItem struct {
	RecordID    string `json:"id" bson:"-"`
	ProductID   string `json:"prod_id" bson:"prod_id"`
	Name        string `json:"name" bson:"name"`
	Description string `json:"description" bson:"description"`
	ImageRef    string `json:"image" bson:"image"`
	UnitPrice   string `json:"price" bson:"price"`
	Quantity    int    `json:"quantity" bson:"quantity"`
	OrderID     string `json:"order_id,omitempty" bson:"order_id,omitempty"`
}

// LineTotal returns quantity * unit price rounded to cents. Display only.
func (i CartLineItem) LineTotal() (string, error) {
	price, err := decimal.NewFromString(i.UnitPrice)
	if err != nil {
		return "", fmt.Errorf("parse unit price %q: %w", i.UnitPrice, err)
	}
	return price.Mul(decimal.NewFromInt(int64(i.Quantity))).StringFixed(2), nil
}

// RawRecord is a single entry of the store's per-user mapping, key -> record.
type RawRecord struct {
	Key   string       `json:"key"`
	Value CartLineItem `json:"value"`
}

// CartSnapshot is the full ordered list of line items for one user at a point in time.
type CartSnapshot struct {
	UserID string         `json:"user_id"`
	Items  []CartLineItem `json:"items"`
}

// IndexOf returns the position of recordID in the snapshot or -1.
func (s CartSnapshot) IndexOf(recordID string) int {
	for i, item := range s.Items {
		if item.RecordID == recordID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy, so callers can edit without touching shared views.
func (s CartSnapshot) Clone() CartSnapshot {
	items := make([]CartLineItem, len(s.Items))
	copy(items, s.Items)
	return CartSnapshot{UserID: s.UserID, Items: items}
}

// Total sums the line totals of every item.
func (s CartSnapshot) Total() (string, error) {
	total := decimal.Zero
	for _, item := range s.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return "", fmt.Errorf("parse unit price of %s: %w", item.RecordID, err)
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total.StringFixed(2), nil
}

type Direction string

const (
	DirectionIncrement Direction = "increment"
	DirectionDecrement Direction = "decrement"
)

// NewLineItem builds the record pushed on add-to-cart. The offer's Quantity is the
// amount on sale; a larger request is clamped down to it.
func NewLineItem(offer CartLineItem, requested int) (CartLineItem, error) {
	if requested <= 0 {
		return CartLineItem{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, requested)
	}
	item := offer
	item.RecordID = ""
	item.OrderID = ""
	item.Quantity = requested
	if requested > offer.Quantity {
		item.Quantity = offer.Quantity
	}
	return item, nil
}

// Feed is a continuous stream of store mappings for one user. Records is closed when
// the feed ends; Err then reports why (nil after Close).
type Feed interface {
	Records() <-chan []RawRecord
	Err() error
	Close()
}

// Session carries the caller identity the core depends on.
type Session struct {
	UserID string
}

// Ack is the user-visible confirmation of a mutating operation.
type Ack struct {
	Message  string        `json:"message"`
	Snapshot *CartSnapshot `json:"snapshot,omitempty"`
	Refresh  bool          `json:"refresh"`
}
