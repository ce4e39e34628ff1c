package store

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type feed struct {
	records chan []domain.RawRecord
	cancel  context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

func (f *feed) Records() <-chan []domain.RawRecord { return f.records }

// Err is meaningful once Records is closed. A feed stopped by Close reports nil.
func (f *feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *feed) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.cancel()
}

// fail records why the feed ended. Cancellation by the parent context is an error;
// cancellation through Close is not.
func (f *feed) fail(ctx context.Context, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if err == nil {
		err = ctx.Err()
	}
	f.err = err
}
