package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	m      sync.Mutex
	carts  map[string][]domain.RawRecord
	nextID int
	gets   atomic.Int32
	err    error
}

func newMockRepository() *mockRepository {
	return &mockRepository{carts: map[string][]domain.RawRecord{}}
}

func (m *mockRepository) GetCart(_ context.Context, userID string) ([]domain.RawRecord, error) {
	m.gets.Add(1)
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.RawRecord, len(m.carts[userID]))
	copy(out, m.carts[userID])
	return out, nil
}

func (m *mockRepository) AddItem(_ context.Context, userID string, item domain.CartLineItem) (string, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.nextID++
	id := fmt.Sprintf("r%d", m.nextID)
	m.carts[userID] = append(m.carts[userID], domain.RawRecord{Key: id, Value: item})
	return id, nil
}

func (m *mockRepository) UpdateItemQuantity(_ context.Context, userID, recordID string, quantity int) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	for i := range m.carts[userID] {
		if m.carts[userID][i].Key == recordID {
			m.carts[userID][i].Value.Quantity = quantity
			return nil
		}
	}
	return repository.ErrItemNotFound
}

func (m *mockRepository) RemoveItem(_ context.Context, userID, recordID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	for i, r := range m.carts[userID] {
		if r.Key == recordID {
			m.carts[userID] = append(m.carts[userID][:i], m.carts[userID][i+1:]...)
			return nil
		}
	}
	return repository.ErrItemNotFound
}

func (m *mockRepository) DeleteCart(_ context.Context, userID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.carts, userID)
	return nil
}

func (m *mockRepository) setErr(err error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.err = err
}

func setupStore(t *testing.T) (*Store, *mockRepository, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := newMockRepository()
	s := New(repo, cache.NewRedisCache(client), cache.NewRedisNotifier(client), logger.Discard())
	return s, repo, mr
}

func nextRecords(t *testing.T, f domain.Feed) []domain.RawRecord {
	t.Helper()
	select {
	case records, ok := <-f.Records():
		require.True(t, ok, "feed ended: %v", f.Err())
		return records
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for feed")
		return nil
	}
}

func TestGet_EmptyCart(t *testing.T) {
	s, _, _ := setupStore(t)

	records, err := s.Get(context.Background(), "user123")

	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestGet_UsesCacheAfterFirstRead(t *testing.T) {
	s, repo, mr := setupStore(t)
	ctx := context.Background()
	_, err := s.Push(ctx, "user123", domain.CartLineItem{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	_, err = s.Get(ctx, "user123")
	require.NoError(t, err)
	assert.True(t, mr.Exists("cart:user123"))

	records, err := s.Get(ctx, "user123")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(1), repo.gets.Load())
}

func TestGet_ConcurrentReadsAreCoalesced(t *testing.T) {
	s, repo, _ := setupStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Get(context.Background(), "user123")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, repo.gets.Load(), int32(20))
	assert.GreaterOrEqual(t, repo.gets.Load(), int32(1))
}

func TestGet_RepositoryFailureIsTransportError(t *testing.T) {
	s, repo, _ := setupStore(t)
	repo.setErr(errors.New("mongo down"))

	_, err := s.Get(context.Background(), "user123")

	assert.ErrorIs(t, err, domain.ErrTransportFailure)
}

func TestWrites_InvalidateCache(t *testing.T) {
	s, _, mr := setupStore(t)
	ctx := context.Background()

	id, err := s.Push(ctx, "user123", domain.CartLineItem{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	_, err = s.Get(ctx, "user123")
	require.NoError(t, err)
	require.True(t, mr.Exists("cart:user123"))

	require.NoError(t, s.Update(ctx, "user123", id, 4))
	assert.False(t, mr.Exists("cart:user123"))

	records, err := s.Get(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, 4, records[0].Value.Quantity)
}

func TestWrites_UnknownRecordIsNotFound(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Update(ctx, "user123", "missing", 1), domain.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "user123", "missing"), domain.ErrNotFound)
}

func TestClear_EmptyCartSucceeds(t *testing.T) {
	s, _, _ := setupStore(t)

	assert.NoError(t, s.Clear(context.Background(), "user123"))
}

func TestSubscribe_EmitsCurrentThenChanges(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()
	_, err := s.Push(ctx, "user123", domain.CartLineItem{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	f := s.Subscribe(ctx, "user123")
	defer f.Close()

	first := nextRecords(t, f)
	require.Len(t, first, 1)

	_, err = s.Push(ctx, "user123", domain.CartLineItem{ProductID: "p2", Quantity: 2})
	require.NoError(t, err)

	second := nextRecords(t, f)
	require.Len(t, second, 2)
	assert.Equal(t, "p2", second[1].Value.ProductID)

	require.NoError(t, s.Clear(ctx, "user123"))
	assert.Empty(t, nextRecords(t, f))
}

func TestSubscribe_CloseEndsFeedWithoutError(t *testing.T) {
	s, _, _ := setupStore(t)

	f := s.Subscribe(context.Background(), "user123")
	nextRecords(t, f)
	f.Close()
	f.Close()

	for range f.Records() {
	}
	assert.NoError(t, f.Err())
}

func TestSubscribe_TransportFailureEndsFeed(t *testing.T) {
	s, repo, _ := setupStore(t)
	repo.setErr(errors.New("mongo down"))

	f := s.Subscribe(context.Background(), "user123")
	defer f.Close()

	for range f.Records() {
	}
	assert.ErrorIs(t, f.Err(), domain.ErrTransportFailure)
}

func TestSubscribe_RedisDownEndsFeed(t *testing.T) {
	s, _, mr := setupStore(t)
	mr.Close()

	f := s.Subscribe(context.Background(), "user123")
	defer f.Close()

	for range f.Records() {
	}
	assert.ErrorIs(t, f.Err(), domain.ErrTransportFailure)
}
