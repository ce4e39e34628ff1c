package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory replicated store; it serves both the projection and the editor.
type memStore struct {
	m       sync.Mutex
	records map[string][]domain.RawRecord
	nextID  int
	err     error
	updates int
}

func newMemStore() *memStore {
	return &memStore{records: map[string][]domain.RawRecord{}}
}

func (s *memStore) Get(_ context.Context, userID string) ([]domain.RawRecord, error) {
	s.m.Lock()
	defer s.m.Unlock()
	out := make([]domain.RawRecord, len(s.records[userID]))
	copy(out, s.records[userID])
	return out, nil
}

func (s *memStore) Subscribe(context.Context, string) domain.Feed {
	panic("not used")
}

func (s *memStore) Push(_ context.Context, userID string, item domain.CartLineItem) (string, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.nextID++
	id := fmt.Sprintf("r%d", s.nextID)
	s.records[userID] = append(s.records[userID], domain.RawRecord{Key: id, Value: item})
	return id, nil
}

func (s *memStore) Update(_ context.Context, userID, recordID string, quantity int) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return s.err
	}
	s.updates++
	for i := range s.records[userID] {
		if s.records[userID][i].Key == recordID {
			s.records[userID][i].Value.Quantity = quantity
			return nil
		}
	}
	return fmt.Errorf("update item: %w", domain.ErrNotFound)
}

func (s *memStore) Delete(_ context.Context, userID, recordID string) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return s.err
	}
	for i, r := range s.records[userID] {
		if r.Key == recordID {
			s.records[userID] = append(s.records[userID][:i], s.records[userID][i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete item: %w", domain.ErrNotFound)
}

func setupEditor(t *testing.T) (*Editor, *memStore, *projection.Projection) {
	t.Helper()
	st := newMemStore()
	proj := projection.New(st, projection.NewOverlay(time.Minute), logger.Discard())
	return New(st, proj, logger.Discard()), st, proj
}

var session = domain.Session{UserID: "user123"}

func snapshotOf(quantities ...int) domain.CartSnapshot {
	s := domain.CartSnapshot{UserID: "user123"}
	for i, q := range quantities {
		s.Items = append(s.Items, domain.CartLineItem{RecordID: fmt.Sprintf("r%d", i+1), Quantity: q})
	}
	return s
}

func TestAdjustLocal_IncrementThenDecrementRoundTrips(t *testing.T) {
	snap := snapshotOf(2, 5)

	up, err := AdjustLocal(snap, "r2", domain.DirectionIncrement)
	require.NoError(t, err)
	assert.Equal(t, 6, up.Items[1].Quantity)

	down, err := AdjustLocal(up, "r2", domain.DirectionDecrement)
	require.NoError(t, err)
	assert.Equal(t, snap, down)
}

func TestAdjustLocal_DoesNotMutateInput(t *testing.T) {
	snap := snapshotOf(2)

	_, err := AdjustLocal(snap, "r1", domain.DirectionIncrement)

	require.NoError(t, err)
	assert.Equal(t, 2, snap.Items[0].Quantity)
}

func TestAdjustLocal_Errors(t *testing.T) {
	tests := []struct {
		name     string
		snap     domain.CartSnapshot
		recordID string
		dir      domain.Direction
		want     error
	}{
		{"unknown record", snapshotOf(1), "nope", domain.DirectionIncrement, domain.ErrNotFound},
		{"empty cart", domain.CartSnapshot{}, "r1", domain.DirectionDecrement, domain.ErrNotFound},
		{"decrement at zero", snapshotOf(0), "r1", domain.DirectionDecrement, domain.ErrNegativeQuantity},
		{"bad direction", snapshotOf(1), "r1", domain.Direction("sideways"), domain.ErrInvalidDirection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := AdjustLocal(tt.snap, tt.recordID, tt.dir)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.snap, out)
		})
	}
}

func TestAddToCart_ClampsToOfferedQuantity(t *testing.T) {
	ed, st, _ := setupEditor(t)
	offer := domain.CartLineItem{ProductID: "p1", Name: "Mug", UnitPrice: "10.00", Quantity: 3}

	ack, err := ed.AddToCart(context.Background(), session, offer, 5)

	require.NoError(t, err)
	assert.Equal(t, "Successfully added item Mug to Cart", ack.Message)
	assert.True(t, ack.Refresh)
	require.NotNil(t, ack.Snapshot)
	require.Len(t, ack.Snapshot.Items, 1)
	assert.Equal(t, 3, ack.Snapshot.Items[0].Quantity)
	assert.Equal(t, "r1", ack.Snapshot.Items[0].RecordID)
	assert.Equal(t, 3, st.records["user123"][0].Value.Quantity)
}

func TestAddToCart_RejectsNonPositive(t *testing.T) {
	ed, st, _ := setupEditor(t)

	_, err := ed.AddToCart(context.Background(), session, domain.CartLineItem{Quantity: 3}, 0)

	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.Empty(t, st.records)
}

func TestAdjust_KeepsPendingEditUntilPersisted(t *testing.T) {
	ed, st, proj := setupEditor(t)
	ctx := context.Background()
	_, err := st.Push(ctx, "user123", domain.CartLineItem{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)

	snap, err := ed.Adjust(ctx, session, "r1", domain.DirectionIncrement)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Items[0].Quantity)

	// the view reflects the pending edit, the store does not
	current, err := proj.Current(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, 3, current.Items[0].Quantity)
	assert.Equal(t, 2, st.records["user123"][0].Value.Quantity)

	ack, err := ed.Persist(ctx, session, "r1", 3)
	require.NoError(t, err)
	assert.Equal(t, "Successfully Updated Your Cart", ack.Message)
	assert.Equal(t, 3, ack.Snapshot.Items[0].Quantity)
	assert.Equal(t, 0, proj.Overlay().Len())
}

func TestAdjust_UnknownRecord(t *testing.T) {
	ed, _, _ := setupEditor(t)

	_, err := ed.Adjust(context.Background(), session, "ghost", domain.DirectionIncrement)

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPersist_FailureLeavesStateUnchanged(t *testing.T) {
	ed, st, proj := setupEditor(t)
	ctx := context.Background()
	_, err := st.Push(ctx, "user123", domain.CartLineItem{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)
	_, err = ed.Adjust(ctx, session, "r1", domain.DirectionIncrement)
	require.NoError(t, err)

	st.err = &domain.TransportError{Op: "update item", Err: errors.New("mongo down")}
	ack, err := ed.Persist(ctx, session, "r1", 3)

	assert.ErrorIs(t, err, domain.ErrTransportFailure)
	assert.Contains(t, domain.UserMessage(err), "mongo down")
	assert.Empty(t, ack.Message)
	assert.Equal(t, 2, st.records["user123"][0].Value.Quantity)
	_, pending := proj.Overlay().Pending("user123", "r1")
	assert.True(t, pending, "unacknowledged edit stays pending")
}

func TestPersist_RejectsNegative(t *testing.T) {
	ed, st, _ := setupEditor(t)

	_, err := ed.Persist(context.Background(), session, "r1", -1)

	assert.ErrorIs(t, err, domain.ErrNegativeQuantity)
	assert.Equal(t, 0, st.updates)
}

func TestRemove(t *testing.T) {
	ed, st, _ := setupEditor(t)
	ctx := context.Background()
	_, err := st.Push(ctx, "user123", domain.CartLineItem{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)
	_, err = st.Push(ctx, "user123", domain.CartLineItem{ProductID: "p2", Quantity: 1})
	require.NoError(t, err)

	ack, err := ed.Remove(ctx, session, "r1")

	require.NoError(t, err)
	assert.Equal(t, "Successfully Deleted Item from Cart", ack.Message)
	require.Len(t, ack.Snapshot.Items, 1)
	assert.Equal(t, "r2", ack.Snapshot.Items[0].RecordID)
}

func TestRemove_UnknownRecord(t *testing.T) {
	ed, _, _ := setupEditor(t)

	_, err := ed.Remove(context.Background(), session, "ghost")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}
