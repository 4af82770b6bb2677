package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
)

const settlementEventColumns = `id, booking_id, event_type, payload, status,
	attempts, last_attempt, created_at, dispatched_at`

type SettlementEventRepository struct {
	db *sql.DB
}

func NewSettlementEventRepository(db *sql.DB) *SettlementEventRepository {
	return &SettlementEventRepository{db: db}
}

func (r *SettlementEventRepository) Create(ctx context.Context, tx *sql.Tx, event *domain.SettlementEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO settlement_events (
			id, booking_id, event_type, payload, status, attempts, last_attempt, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.BookingID, event.EventType, []byte(event.Payload),
		event.Status, event.Attempts, event.LastAttempt, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *SettlementEventRepository) GetPending(ctx context.Context, tx *sql.Tx, limit int) ([]domain.SettlementEvent, error) {
	// SKIP LOCKED lets several relays share the table without claiming the same row
	rows, err := tx.QueryContext(ctx,
		`SELECT `+settlementEventColumns+` FROM settlement_events
		WHERE status = $1 ORDER BY created_at LIMIT $2 FOR UPDATE SKIP LOCKED`,
		domain.SettlementEventStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("GetPending: %w", err)
	}
	defer rows.Close()

	var events []domain.SettlementEvent
	for rows.Next() {
		e, err := scanSettlementEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("GetPending: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetPending: rows: %w", err)
	}
	return events, nil
}

func (r *SettlementEventRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]domain.SettlementEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+settlementEventColumns+` FROM settlement_events
		WHERE booking_id = $1 ORDER BY created_at`, bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByBookingID: %w", err)
	}
	defer rows.Close()

	var events []domain.SettlementEvent
	for rows.Next() {
		e, err := scanSettlementEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("GetByBookingID: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByBookingID: rows: %w", err)
	}
	return events, nil
}

func (r *SettlementEventRepository) MarkDispatched(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE settlement_events
		SET status = $1, attempts = attempts + 1, last_attempt = $2, dispatched_at = $2
		WHERE id = $3`,
		domain.SettlementEventStatusDispatched, at, id,
	)
	if err != nil {
		return fmt.Errorf("MarkDispatched: %w", err)
	}
	return requireOneRow(res, "MarkDispatched")
}

// RecordFailedAttempt bumps the attempt counter and parks the event as failed
// once maxAttempts is reached.
func (r *SettlementEventRepository) RecordFailedAttempt(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time, maxAttempts int) (domain.SettlementEventStatus, error) {
	var status domain.SettlementEventStatus
	err := tx.QueryRowContext(ctx,
		`UPDATE settlement_events
		SET attempts = attempts + 1,
		    last_attempt = $1,
		    status = CASE WHEN attempts + 1 >= $2 THEN $3 ELSE status END
		WHERE id = $4
		RETURNING status`,
		at, maxAttempts, domain.SettlementEventStatusFailed, id,
	).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("RecordFailedAttempt: %w", err)
	}
	return status, nil
}

func (r *SettlementEventRepository) PurgeDispatched(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM settlement_events WHERE status = $1 AND dispatched_at < $2`,
		domain.SettlementEventStatusDispatched, olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("PurgeDispatched: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("PurgeDispatched: rows affected: %w", err)
	}
	return n, nil
}

func requireOneRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func scanSettlementEvent(s scanner) (*domain.SettlementEvent, error) {
	var e domain.SettlementEvent
	var payload []byte
	err := s.Scan(
		&e.ID, &e.BookingID, &e.EventType, &payload, &e.Status,
		&e.Attempts, &e.LastAttempt, &e.CreatedAt, &e.DispatchedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
