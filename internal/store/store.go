package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Store is the replicated cart store: Mongo holds the mapping, Redis caches it and
// fans out change signals to every subscriber.
type Store struct {
	repo     repository.CartRepository
	cache    cache.CartCache
	notifier cache.Notifier
	sfg      singleflight.Group // Prevents cache stampede
	log      *logrus.Entry
}

func New(repo repository.CartRepository, c cache.CartCache, n cache.Notifier, log *logrus.Entry) *Store {
	return &Store{
		repo:     repo,
		cache:    c,
		notifier: n,
		log:      log.WithField("component", "cart_store"),
	}
}

// Get returns the user's mapping in store order. An unknown user has an empty mapping.
func (s *Store) Get(ctx context.Context, userID string) ([]domain.RawRecord, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		records, err := s.cache.Get(ctx, userID)
		if err == nil {
			return records, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WithError(err).WithField("user_id", userID).Warn("cache get failed")
		}
		return s.load(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.RawRecord), nil
}

// load reads the mapping from Mongo and refreshes the cache.
func (s *Store) load(ctx context.Context, userID string) ([]domain.RawRecord, error) {
	records, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		return nil, &domain.TransportError{Op: "read cart", Err: err}
	}

	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Set(setCtx, userID, records); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("cache set failed")
	}
	return records, nil
}

// Push adds a record and returns the key the store assigned to it.
func (s *Store) Push(ctx context.Context, userID string, item domain.CartLineItem) (string, error) {
	id, err := s.repo.AddItem(ctx, userID, item)
	if err != nil {
		return "", s.writeErr("add item", err)
	}
	s.changed(ctx, userID)
	return id, nil
}

func (s *Store) Update(ctx context.Context, userID, recordID string, quantity int) error {
	if err := s.repo.UpdateItemQuantity(ctx, userID, recordID, quantity); err != nil {
		return s.writeErr("update item", err)
	}
	s.changed(ctx, userID)
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, recordID string) error {
	if err := s.repo.RemoveItem(ctx, userID, recordID); err != nil {
		return s.writeErr("delete item", err)
	}
	s.changed(ctx, userID)
	return nil
}

// Clear removes every record of the user. Clearing an empty cart succeeds.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if err := s.repo.DeleteCart(ctx, userID); err != nil {
		return s.writeErr("clear cart", err)
	}
	s.changed(ctx, userID)
	return nil
}

func (s *Store) writeErr(op string, err error) error {
	if errors.Is(err, repository.ErrItemNotFound) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	s.log.WithError(err).WithField("op", op).Error("store write failed")
	return &domain.TransportError{Op: op, Err: err}
}

// changed invalidates the cache and notifies subscribers. The write itself already
// succeeded, so failures here are only logged.
func (s *Store) changed(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()

	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("cache invalidate failed")
	}
	if err := s.notifier.Publish(ctx, userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("change publish failed")
	}
}

// Subscribe opens a feed that emits the current mapping right away and a fresh one
// after every change. The feed ends on Close, on ctx cancellation or on the first
// transport error; it never retries.
func (s *Store) Subscribe(ctx context.Context, userID string) domain.Feed {
	ctx, cancel := context.WithCancel(ctx)
	f := &feed{
		records: make(chan []domain.RawRecord),
		cancel:  cancel,
	}
	go s.runFeed(ctx, userID, f)
	return f
}

func (s *Store) runFeed(ctx context.Context, userID string, f *feed) {
	defer close(f.records)
	defer f.cancel()

	changes, err := s.notifier.Subscribe(ctx, userID)
	if err != nil {
		f.fail(ctx, &domain.TransportError{Op: "subscribe", Err: err})
		return
	}
	defer changes.Close()

	records, err := s.Get(ctx, userID)
	for {
		if err != nil {
			f.fail(ctx, err)
			return
		}
		select {
		case f.records <- records:
		case <-ctx.Done():
			f.fail(ctx, nil)
			return
		}

		select {
		case _, ok := <-changes.C():
			if !ok {
				f.fail(ctx, &domain.TransportError{Op: "subscribe", Err: errors.New("change stream closed")})
				return
			}
			// bypass the cache so a stale read racing the write cannot come back
			records, err = s.load(ctx, userID)
		case <-ctx.Done():
			f.fail(ctx, nil)
			return
		}
	}
}
