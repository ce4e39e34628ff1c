package publisher

import (
	"context"
	"time"

	"github.com/fjod/go_cart/storefront/internal/checkoutstore"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const batchSize = 100

// MessageWriter is the part of *kafka.Writer the poller uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Recoverer finishes checkouts whose order exists but whose cart was not cleared,
// and parks submissions whose outcome was never recorded.
type Recoverer interface {
	ResumeClear(ctx context.Context, session *checkoutstore.CheckoutSession) error
	FlagForReconciliation(ctx context.Context, session *checkoutstore.CheckoutSession) error
}

// OutboxPoller ships checkout outcome events to Kafka and drives clear-only recovery.
type OutboxPoller struct {
	timeout        time.Duration
	eventTick      time.Duration
	recoveryTick   time.Duration
	grace          time.Duration
	reconcileAfter time.Duration
	repo           checkoutstore.RepoInterface
	writer         MessageWriter
	recoverer      Recoverer
	metrics        *metrics.Metrics
	log            *logrus.Entry
}

type Config struct {
	Brokers []string
	Topic   string
	// Grace is how long a session may sit in ORDER_CREATED or CLEARING_CART before
	// recovery takes it over.
	Grace time.Duration
	// ReconcileAfter is how long a session may sit in SUBMITTING before it is
	// flagged for reconciliation. It must outlast a whole order call.
	ReconcileAfter time.Duration
}

func NewOutboxPoller(cfg Config, repo checkoutstore.RepoInterface, recoverer Recoverer, m *metrics.Metrics, log *logrus.Entry) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &OutboxPoller{
		timeout:        5 * time.Second,
		eventTick:      time.Second,
		recoveryTick:   5 * time.Second,
		grace:          cfg.Grace,
		reconcileAfter: cfg.ReconcileAfter,
		repo:           repo,
		writer:         w,
		recoverer:      recoverer,
		metrics:        m,
		log:            log.WithField("component", "outbox_poller"),
	}
}

// Run blocks until ctx is done.
func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	recoveryTicker := time.NewTicker(p.recoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.recoverPendingClears(ctx)
			p.reconcileStaleSubmissions(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.log.WithError(err).Warn("failed to fetch outbox events")
		return
	}

	for _, event := range events {
		log := p.log.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.EventType, "checkout_id": event.AggregateID})
		if err := p.publishToKafka(ctx, event); err != nil {
			p.metrics.OutboxPublished.WithLabelValues(event.EventType, "failed").Inc()
			log.WithError(err).Warn("failed to publish event")
			// keep order per checkout: later events wait for this one
			return
		}
		p.metrics.OutboxPublished.WithLabelValues(event.EventType, "published").Inc()

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			log.WithError(err).Warn("failed to mark event as processed")
		}
	}
}

// recoverPendingClears retries the cart clear of every checkout whose order was
// placed but whose cart still holds the submitted records.
func (p *OutboxPoller) recoverPendingClears(ctx context.Context) {
	sessions, err := p.repo.GetPendingClears(ctx, p.grace, batchSize)
	if err != nil {
		p.log.WithError(err).Warn("failed to get pending clears")
		return
	}
	for _, session := range sessions {
		log := p.log.WithFields(logrus.Fields{"checkout_id": session.ID, "status": session.Status, "clear_attempts": session.ClearAttempts})
		log.Info("recovering checkout")

		if err := p.recoverer.ResumeClear(ctx, session); err != nil {
			log.WithError(err).Warn("checkout recovery failed, will retry")
			continue
		}
		log.Info("checkout recovered")
	}
}

// reconcileStaleSubmissions parks sessions stuck in SUBMITTING. Whether their order
// exists is unknown, so they are never re-ordered or failed automatically.
func (p *OutboxPoller) reconcileStaleSubmissions(ctx context.Context) {
	sessions, err := p.repo.GetStaleSubmissions(ctx, p.reconcileAfter, batchSize)
	if err != nil {
		p.log.WithError(err).Warn("failed to get stale submissions")
		return
	}
	for _, session := range sessions {
		log := p.log.WithFields(logrus.Fields{"checkout_id": session.ID, "user_id": session.UserID})
		if err := p.recoverer.FlagForReconciliation(ctx, session); err != nil {
			log.WithError(err).Warn("failed to flag checkout for reconciliation, will retry")
			continue
		}
		log.Warn("checkout flagged for reconciliation")
	}
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *checkoutstore.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // checkout_id for ordering
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
