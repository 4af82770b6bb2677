package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/josh-kwaku/tutor-settlement/internal/broker"
	"github.com/josh-kwaku/tutor-settlement/internal/domain"
	"github.com/josh-kwaku/tutor-settlement/internal/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type eventStore interface {
	GetPending(ctx context.Context, tx *sql.Tx, limit int) ([]domain.SettlementEvent, error)
	MarkDispatched(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) error
	RecordFailedAttempt(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time, maxAttempts int) (domain.SettlementEventStatus, error)
}

type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

// Relay moves committed settlement events from the outbox table to the
// broker. Delivery is at-least-once; consumers dedupe on the message id.
type Relay struct {
	db        txRunner
	events    eventStore
	publisher broker.Publisher
	cfg       RelayConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewRelay(db txRunner, events eventStore, publisher broker.Publisher, cfg RelayConfig, logger *zap.Logger) *Relay {
	return &Relay{
		db:        db,
		events:    events,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *Relay) Start(ctx context.Context) {
	r.logger.Info("outbox relay started", zap.Duration("interval", r.cfg.Interval))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.RelayBatch(ctx); err != nil {
				r.logger.Error("outbox relay batch failed", zap.Error(err))
			}
		}
	}
}

// RelayBatch claims up to BatchSize pending events and tries each once. It
// returns how many were dispatched.
func (r *Relay) RelayBatch(ctx context.Context) (int, error) {
	dispatched := 0
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		events, err := r.events.GetPending(ctx, tx, r.cfg.BatchSize)
		if err != nil {
			return err
		}

		for _, event := range events {
			ok, err := r.relay(ctx, tx, event)
			if err != nil {
				return err
			}
			if ok {
				dispatched++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("RelayBatch: %w", err)
	}
	return dispatched, nil
}

func (r *Relay) relay(ctx context.Context, tx *sql.Tx, event domain.SettlementEvent) (bool, error) {
	now := r.now().UTC()
	msg := broker.Message{
		ID:         event.ID.String(),
		RoutingKey: string(event.EventType),
		Body:       event.Payload,
		Timestamp:  event.CreatedAt,
	}

	pubErr := r.publisher.Publish(ctx, msg)
	if pubErr == nil {
		if err := r.events.MarkDispatched(ctx, tx, event.ID, now); err != nil {
			return false, err
		}
		metrics.RecordOutboxPublish("dispatched")
		return true, nil
	}

	status, err := r.events.RecordFailedAttempt(ctx, tx, event.ID, now, r.cfg.MaxAttempts)
	if err != nil {
		return false, err
	}

	if status == domain.SettlementEventStatusFailed {
		metrics.RecordOutboxPublish("failed")
		r.logger.Error("settlement event parked after max attempts",
			zap.String("event_id", event.ID.String()),
			zap.String("booking_id", event.BookingID.String()),
			zap.Int("max_attempts", r.cfg.MaxAttempts),
			zap.Error(pubErr),
		)
		return false, nil
	}

	metrics.RecordOutboxPublish("retry")
	r.logger.Warn("settlement event publish failed, will retry",
		zap.String("event_id", event.ID.String()),
		zap.String("booking_id", event.BookingID.String()),
		zap.Error(pubErr),
	)
	return false, nil
}
