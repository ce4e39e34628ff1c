package checkoutstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(ctx context.Context, cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

const sessionColumns = `id, user_id, idempotency_key, status, cart_snapshot, order_id,
	last_error, clear_attempts, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*CheckoutSession, error) {
	var (
		s       CheckoutSession
		key     sql.NullString
		orderID sql.NullString
		lastErr sql.NullString
	)
	err := row.Scan(&s.ID, &s.UserID, &key, &s.Status, &s.CartSnapshot, &orderID,
		&lastErr, &s.ClearAttempts, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if key.Valid {
		s.IdempotencyKey = &key.String
	}
	if orderID.Valid {
		s.OrderID = &orderID.String
	}
	if lastErr.Valid {
		s.LastError = &lastErr.String
	}
	return &s, nil
}

func (r *Repository) GetSessionByIdempotencyKey(ctx context.Context, key string) (*CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE idempotency_key = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session by idempotency key: %w", err)
	}
	return s, nil
}

func (r *Repository) GetSession(ctx context.Context, id string) (*CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// CreateSession stores a new session. It always starts in SUBMITTING.
func (r *Repository) CreateSession(ctx context.Context, session *CheckoutSession) error {
	if !domain.CanTransitionTo(domain.CheckoutStatusIdle, domain.CheckoutStatusSubmitting) {
		return domain.ErrIllegalTransition
	}
	session.Status = domain.CheckoutStatusSubmitting

	query := `INSERT INTO checkout_sessions (id, user_id, idempotency_key, status, cart_snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		session.ID,
		session.UserID,
		nullable(derefString(session.IdempotencyKey)),
		session.Status,
		session.CartSnapshot,
	).Scan(&session.CreatedAt, &session.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to create checkout session: %w", err)
	}
	return nil
}

// Transition applies t only if the session is still in t.From, so two workers can
// never both advance the same session.
func (r *Repository) Transition(ctx context.Context, id string, t Transition) error {
	if !domain.CanTransitionTo(t.From, t.To) {
		return fmt.Errorf("%s -> %s: %w", t.From, t.To, domain.ErrIllegalTransition)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	bump := 0
	if t.BumpClearAttempts {
		bump = 1
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE checkout_sessions
		 SET status = $1,
		     order_id = COALESCE($2, order_id),
		     last_error = $3,
		     clear_attempts = clear_attempts + $4,
		     updated_at = NOW()
		 WHERE id = $5 AND status = $6`,
		t.To, nullable(t.OrderID), nullable(t.LastError), bump, id, t.From)
	if err != nil {
		return fmt.Errorf("failed to update checkout session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrStaleTransition
	}

	if t.Event != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at) VALUES ($1, $2, $3, NOW())`,
			id, t.Event.EventType, []byte(t.Event.Payload))
		if err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

// GetPendingClears returns sessions whose order exists but whose cart was not
// cleared: every PARTIALLY_COMPLETED session, and ORDER_CREATED or CLEARING_CART
// sessions untouched for longer than grace.
func (r *Repository) GetPendingClears(ctx context.Context, grace time.Duration, limit int) ([]*CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions
		WHERE status = $1
		   OR (status IN ($2, $3) AND updated_at < NOW() - $4::float8 * INTERVAL '1 second')
		ORDER BY updated_at
		LIMIT $5`
	rows, err := r.db.QueryContext(ctx, query,
		domain.CheckoutStatusPartiallyCompleted,
		domain.CheckoutStatusOrderCreated,
		domain.CheckoutStatusClearingCart,
		grace.Seconds(),
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending clears: %w", err)
	}
	defer rows.Close()

	var sessions []*CheckoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// GetStaleSubmissions returns SUBMITTING sessions untouched for longer than age.
// A live checkout leaves SUBMITTING within one order service timeout, so these
// either lost their coordinator or never got their ORDER_CREATED marker written.
func (r *Repository) GetStaleSubmissions(ctx context.Context, age time.Duration, limit int) ([]*CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions
		WHERE status = $1 AND updated_at < NOW() - $2::float8 * INTERVAL '1 second'
		ORDER BY updated_at
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, domain.CheckoutStatusSubmitting, age.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale submissions: %w", err)
	}
	defer rows.Close()

	var sessions []*CheckoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, aggregate_id, event_type, payload, created_at
		 FROM outbox_events
		 WHERE processed_at IS NULL
		 ORDER BY id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		e.Payload = payload
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark event %d as processed: %w", id, err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
