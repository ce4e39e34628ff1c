package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// CartCache holds the last known mapping of a user's cart.
type CartCache interface {
	Get(ctx context.Context, userID string) ([]domain.RawRecord, error)
	Set(ctx context.Context, userID string, records []domain.RawRecord) error
	Delete(ctx context.Context, userID string) error
}

// Notifier fans out "cart changed" signals to every process serving the user.
type Notifier interface {
	Publish(ctx context.Context, userID string) error
	Subscribe(ctx context.Context, userID string) (Changes, error)
}

// Changes is a live change stream for one user.
type Changes interface {
	C() <-chan struct{}
	Close() error
}

var ErrCacheMiss = errors.New("cache miss")
