package projection

import (
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

const DefaultPendingTTL = 5 * time.Second

type pendingKey struct {
	userID   string
	recordID string
}

type pendingEdit struct {
	quantity int
	expires  time.Time
}

// Overlay holds local quantity edits that have not been persisted yet. An entry is
// dropped when its persist is acknowledged, when it expires or when its record is
// no longer in the store.
type Overlay struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[pendingKey]pendingEdit
}

func NewOverlay(ttl time.Duration) *Overlay {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Overlay{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[pendingKey]pendingEdit),
	}
}

func (o *Overlay) Set(userID, recordID string, quantity int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[pendingKey{userID, recordID}] = pendingEdit{
		quantity: quantity,
		expires:  o.now().Add(o.ttl),
	}
}

// Clear is called when the store acknowledged a write for the record.
func (o *Overlay) Clear(userID, recordID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, pendingKey{userID, recordID})
}

// ClearUser drops every pending edit of the user, e.g. after the cart was cleared.
func (o *Overlay) ClearUser(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k := range o.entries {
		if k.userID == userID {
			delete(o.entries, k)
		}
	}
}

// Pending returns the live edit for a record, if any.
func (o *Overlay) Pending(userID, recordID string) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[pendingKey{userID, recordID}]
	if !ok || !o.now().Before(e.expires) {
		return 0, false
	}
	return e.quantity, true
}

// Apply returns a copy of snap with live edits on top. Expired entries and entries
// whose record disappeared are pruned on the way.
func (o *Overlay) Apply(snap domain.CartSnapshot) domain.CartSnapshot {
	out := snap.Clone()

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	present := make(map[string]int, len(out.Items))
	for i, item := range out.Items {
		present[item.RecordID] = i
	}
	for k, e := range o.entries {
		if k.userID != snap.UserID {
			continue
		}
		i, ok := present[k.recordID]
		if !ok || !now.Before(e.expires) {
			delete(o.entries, k)
			continue
		}
		out.Items[i].Quantity = e.quantity
	}
	return out
}

func (o *Overlay) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
