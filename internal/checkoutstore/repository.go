package checkoutstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

var (
	ErrSessionNotFound         = errors.New("checkout session not found")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrStaleTransition         = errors.New("checkout session is no longer in the expected status")
)

// Outbox event types.
const (
	EventCheckoutCompleted           = "CheckoutCompleted"
	EventCheckoutPartiallyCompleted  = "CheckoutPartiallyCompleted"
	EventCheckoutFailed              = "CheckoutFailed"
	EventCheckoutNeedsReconciliation = "CheckoutNeedsReconciliation"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// CheckoutSession is the durable marker of one checkout. CartSnapshot holds the
// submitted domain.CheckoutOrder as JSON.
type CheckoutSession struct {
	ID             string
	UserID         string
	IdempotencyKey *string
	Status         domain.CheckoutStatus
	CartSnapshot   []byte
	OrderID        *string
	LastError      *string
	ClearAttempts  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Order decodes the submitted order.
func (s *CheckoutSession) Order() (domain.CheckoutOrder, error) {
	var order domain.CheckoutOrder
	err := json.Unmarshal(s.CartSnapshot, &order)
	return order, err
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// Transition moves a session From -> To in one transaction, optionally writing an
// outbox event alongside.
type Transition struct {
	From              domain.CheckoutStatus
	To                domain.CheckoutStatus
	OrderID           string // kept when empty
	LastError         string // cleared when empty
	BumpClearAttempts bool
	Event             *OutboxEvent
}

type RepoInterface interface {
	Close() error
	GetSessionByIdempotencyKey(ctx context.Context, key string) (*CheckoutSession, error)
	GetSession(ctx context.Context, id string) (*CheckoutSession, error)
	CreateSession(ctx context.Context, session *CheckoutSession) error
	Transition(ctx context.Context, id string, t Transition) error
	GetPendingClears(ctx context.Context, grace time.Duration, limit int) ([]*CheckoutSession, error)
	GetStaleSubmissions(ctx context.Context, age time.Duration, limit int) ([]*CheckoutSession, error)
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}
