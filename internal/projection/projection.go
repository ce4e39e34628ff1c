// Package projection turns the store's raw per-user mapping into ordered cart
// snapshots and keeps connected views supplied with them.
package projection

import (
	"context"
	"fmt"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/sirupsen/logrus"
)

// Source is the part of the replicated store the projection reads from.
type Source interface {
	Get(ctx context.Context, userID string) ([]domain.RawRecord, error)
	Subscribe(ctx context.Context, userID string) domain.Feed
}

type Projection struct {
	src     Source
	overlay *Overlay
	log     *logrus.Entry
}

func New(src Source, overlay *Overlay, log *logrus.Entry) *Projection {
	return &Projection{
		src:     src,
		overlay: overlay,
		log:     log.WithField("component", "cart_projection"),
	}
}

// Build converts a raw mapping into a snapshot, keeping store order and attaching each
// key as the record id. A nil or empty mapping is an empty cart.
func Build(userID string, records []domain.RawRecord) domain.CartSnapshot {
	items := make([]domain.CartLineItem, 0, len(records))
	for _, r := range records {
		item := r.Value
		item.RecordID = r.Key
		items = append(items, item)
	}
	return domain.CartSnapshot{UserID: userID, Items: items}
}

// Current fetches the mapping once and returns it with pending local edits applied.
func (p *Projection) Current(ctx context.Context, userID string) (domain.CartSnapshot, error) {
	records, err := p.src.Get(ctx, userID)
	if err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("fetch cart: %w", err)
	}
	return p.overlay.Apply(Build(userID, records)), nil
}

// Overlay exposes the pending-edit overlay to the editor.
func (p *Projection) Overlay() *Overlay {
	return p.overlay
}

// Subscribe opens a fresh feed for userID. Every call is independent, so a view can
// unsubscribe and subscribe again at will.
func (p *Projection) Subscribe(ctx context.Context, userID string) *Subscription {
	s := &Subscription{
		userID:    userID,
		feed:      p.src.Subscribe(ctx, userID),
		snapshots: make(chan domain.CartSnapshot),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go p.pump(s)
	return s
}

func (p *Projection) pump(s *Subscription) {
	defer close(s.stopped)
	defer close(s.snapshots)

	for {
		select {
		case <-s.done:
			return
		case records, ok := <-s.feed.Records():
			if !ok {
				if err := s.feed.Err(); err != nil {
					p.log.WithError(err).WithField("user_id", s.userID).Warn("cart feed ended")
					s.setErr(err)
				}
				return
			}
			snap := p.overlay.Apply(Build(s.userID, records))
			select {
			case s.snapshots <- snap:
			case <-s.done:
				return
			}
		}
	}
}

// Subscription delivers whole snapshots in arrival order; each one replaces the last.
type Subscription struct {
	userID    string
	feed      domain.Feed
	snapshots chan domain.CartSnapshot
	done      chan struct{}
	stopped   chan struct{}
	once      sync.Once

	mu  sync.Mutex
	err error
}

// Snapshots is closed when the subscription ends.
func (s *Subscription) Snapshots() <-chan domain.CartSnapshot {
	return s.snapshots
}

// Err reports why the subscription ended. It is nil while active and after Unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Unsubscribe releases the feed. It is idempotent, safe on a nil or already ended
// subscription, and once it returns no further snapshot can be received.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.done == nil {
		return
	}
	s.once.Do(func() {
		close(s.done)
		s.feed.Close()
	})
	<-s.stopped
}
