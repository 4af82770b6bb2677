package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
)

const processingErrorColumns = `id, booking_id, payment_ref, error_kind, error_message, context, created_at`

// ProcessingErrorRepository writes through the pool, never a settlement
// transaction, so records survive the rollback they describe.
type ProcessingErrorRepository struct {
	db *sql.DB
}

func NewProcessingErrorRepository(db *sql.DB) *ProcessingErrorRepository {
	return &ProcessingErrorRepository{db: db}
}

func (r *ProcessingErrorRepository) Create(ctx context.Context, pe *domain.ProcessingError) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO processing_errors (id, booking_id, payment_ref, error_kind, error_message, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pe.ID, pe.BookingID, pe.PaymentRef, pe.ErrorKind, pe.Message, []byte(pe.Context), pe.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *ProcessingErrorRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]domain.ProcessingError, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+processingErrorColumns+` FROM processing_errors
		WHERE booking_id = $1 ORDER BY created_at`, bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByBookingID: %w", err)
	}
	defer rows.Close()

	var records []domain.ProcessingError
	for rows.Next() {
		var pe domain.ProcessingError
		var ctxJSON []byte
		if err := rows.Scan(&pe.ID, &pe.BookingID, &pe.PaymentRef, &pe.ErrorKind, &pe.Message, &ctxJSON, &pe.CreatedAt); err != nil {
			return nil, fmt.Errorf("GetByBookingID: scan: %w", err)
		}
		pe.Context = ctxJSON
		records = append(records, pe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByBookingID: rows: %w", err)
	}
	return records, nil
}
