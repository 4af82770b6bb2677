package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
)

const bookingColumns = `id, client_id, tutor_id, agent_id, service_name, subjects,
	delivery_mode, amount, currency, session_start, session_duration_minutes,
	payment_status, payment_ref, paid_at, created_at, updated_at`

type BookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// Create exists for the booking service and test fixtures; settlement never
// creates bookings.
func (r *BookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bookings (
			id, client_id, tutor_id, agent_id, service_name, subjects,
			delivery_mode, amount, currency, session_start, session_duration_minutes,
			payment_status, payment_ref, paid_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		b.ID, b.ClientID, b.TutorID, nullUUID(b.AgentID), b.ServiceName, pq.Array(b.Subjects),
		b.DeliveryMode, b.Amount, b.Currency, b.SessionStart, int(b.SessionDuration/time.Minute),
		b.PaymentStatus, b.PaymentRef, b.PaidAt, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.Booking, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id,
	)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrBookingNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return b, nil
}

// GetForUpdate takes the row lock that serializes concurrent settlements of
// the same booking. It is held until tx ends.
func (r *BookingRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Booking, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id,
	)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrBookingNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return b, nil
}

// MarkPaid performs the only status transition settlement owns.
func (r *BookingRepository) MarkPaid(ctx context.Context, tx *sql.Tx, id uuid.UUID, paymentRef string, paidAt time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET payment_status = $1, payment_ref = $2, paid_at = $3, updated_at = now()
		WHERE id = $4 AND payment_status = $5`,
		domain.PaymentStatusPaid, paymentRef, paidAt, id, domain.PaymentStatusPending,
	)
	if err != nil {
		return fmt.Errorf("MarkPaid: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkPaid: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkPaid: %w", domain.ErrBookingNotPending)
	}
	return nil
}

func scanBooking(s scanner) (*domain.Booking, error) {
	var b domain.Booking
	var agentID uuid.NullUUID
	var durationMinutes int
	var subjects pq.StringArray

	err := s.Scan(
		&b.ID, &b.ClientID, &b.TutorID, &agentID, &b.ServiceName, &subjects,
		&b.DeliveryMode, &b.Amount, &b.Currency, &b.SessionStart, &durationMinutes,
		&b.PaymentStatus, &b.PaymentRef, &b.PaidAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if agentID.Valid {
		b.AgentID = &agentID.UUID
	}
	b.Subjects = []string(subjects)
	b.SessionDuration = time.Duration(durationMinutes) * time.Minute
	return &b, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
