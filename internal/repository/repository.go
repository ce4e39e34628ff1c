package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

var ErrItemNotFound = errors.New("item not found in cart")

// CartRepository is the durable side of the replicated cart store: one mapping of
// record id -> line item per user, enumerated in insertion order.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) ([]domain.RawRecord, error)
	AddItem(ctx context.Context, userID string, item domain.CartLineItem) (string, error)
	UpdateItemQuantity(ctx context.Context, userID, recordID string, quantity int) error
	RemoveItem(ctx context.Context, userID, recordID string) error
	DeleteCart(ctx context.Context, userID string) error
}
