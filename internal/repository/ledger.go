package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
)

const ledgerColumns = `id, booking_id, beneficiary_id, entry_type, amount, currency,
	settlement_state, available_at, snapshot, created_at`

// ledgerOrder matches the order in which settlement emits entries.
const ledgerOrder = `CASE entry_type
		WHEN 'client_debit' THEN 1
		WHEN 'platform_fee' THEN 2
		WHEN 'referral_commission' THEN 3
		WHEN 'agent_commission' THEN 4
		WHEN 'tutor_payout' THEN 5
	END`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error {
	snapshot, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("Create: marshal snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (
			id, booking_id, beneficiary_id, entry_type, amount, currency,
			settlement_state, available_at, snapshot, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.BookingID, nullUUID(entry.BeneficiaryID), entry.EntryType,
		entry.Amount, entry.Currency, entry.State, entry.AvailableAt, snapshot,
		entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %s: %w", entry.EntryType, domain.ErrDuplicateLedgerEntry)
		}
		return fmt.Errorf("Create: %s: %w", entry.EntryType, err)
	}
	return nil
}

func (r *LedgerRepository) CountByBookingID(ctx context.Context, q Querier, bookingID uuid.UUID) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE booking_id = $1`, bookingID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("CountByBookingID: %w", err)
	}
	return count, nil
}

func (r *LedgerRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE booking_id = $1 ORDER BY `+ledgerOrder, bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByBookingID: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("GetByBookingID: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByBookingID: rows: %w", err)
	}
	return entries, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var beneficiaryID uuid.NullUUID
	var snapshot []byte

	err := s.Scan(
		&e.ID, &e.BookingID, &beneficiaryID, &e.EntryType, &e.Amount, &e.Currency,
		&e.State, &e.AvailableAt, &snapshot, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if beneficiaryID.Valid {
		e.BeneficiaryID = &beneficiaryID.UUID
	}
	if err := json.Unmarshal(snapshot, &e.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &e, nil
}
