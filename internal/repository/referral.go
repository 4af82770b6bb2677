package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
)

const referralColumns = `id, agent_id, referred_client_id, status, booking_id, converted_at, created_at`

type ReferralRepository struct {
	db *sql.DB
}

func NewReferralRepository(db *sql.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func (r *ReferralRepository) Create(ctx context.Context, ref *domain.Referral) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO referrals (id, agent_id, referred_client_id, status, booking_id, converted_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ref.ID, ref.AgentID, ref.ReferredClientID, ref.Status,
		nullUUID(ref.BookingID), ref.ConvertedAt, ref.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// GetByReferredClientForUpdate returns the client's referral in the given
// status and locks it for the rest of tx. A missing referral is
// domain.ErrNotFound.
func (r *ReferralRepository) GetByReferredClientForUpdate(ctx context.Context, tx *sql.Tx, clientID uuid.UUID, status domain.ReferralStatus) (*domain.Referral, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+referralColumns+` FROM referrals
		WHERE referred_client_id = $1 AND status = $2
		ORDER BY created_at LIMIT 1 FOR UPDATE`,
		clientID, status,
	)
	ref, err := scanReferral(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByReferredClientForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByReferredClientForUpdate: %w", err)
	}
	return ref, nil
}

func (r *ReferralRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Referral, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+referralColumns+` FROM referrals WHERE id = $1`, id,
	)
	ref, err := scanReferral(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return ref, nil
}

func (r *ReferralRepository) MarkConverted(ctx context.Context, tx *sql.Tx, id, bookingID uuid.UUID, convertedAt time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE referrals SET status = $1, booking_id = $2, converted_at = $3
		WHERE id = $4 AND status = $5`,
		domain.ReferralStatusConverted, bookingID, convertedAt, id, domain.ReferralStatusActive,
	)
	if err != nil {
		return fmt.Errorf("MarkConverted: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkConverted: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkConverted: %w", domain.ErrReferralNotActive)
	}
	return nil
}

func scanReferral(s scanner) (*domain.Referral, error) {
	var ref domain.Referral
	var bookingID uuid.NullUUID

	err := s.Scan(
		&ref.ID, &ref.AgentID, &ref.ReferredClientID, &ref.Status,
		&bookingID, &ref.ConvertedAt, &ref.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if bookingID.Valid {
		ref.BookingID = &bookingID.UUID
	}
	return &ref, nil
}
