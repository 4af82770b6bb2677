package settlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
	"github.com/josh-kwaku/tutor-settlement/internal/repository"
)

type writerLedger interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
	CountByBookingID(ctx context.Context, q repository.Querier, bookingID uuid.UUID) (int, error)
}

type writerBookings interface {
	MarkPaid(ctx context.Context, tx *sql.Tx, id uuid.UUID, paymentRef string, paidAt time.Time) error
}

type writerReferrals interface {
	MarkConverted(ctx context.Context, tx *sql.Tx, id, bookingID uuid.UUID, convertedAt time.Time) error
}

type writerEvents interface {
	Create(ctx context.Context, tx *sql.Tx, event *domain.SettlementEvent) error
}

type WriteRequest struct {
	Booking    *domain.Booking
	Referral   *domain.Referral
	Entries    []domain.LedgerEntry
	PaymentRef string
	SettledAt  time.Time
}

// LedgerWriter persists one settlement inside the caller's transaction and
// verifies what landed.
type LedgerWriter struct {
	ledger    writerLedger
	bookings  writerBookings
	referrals writerReferrals
	events    writerEvents
}

func NewLedgerWriter(ledger writerLedger, bookings writerBookings, referrals writerReferrals, events writerEvents) *LedgerWriter {
	return &LedgerWriter{
		ledger:    ledger,
		bookings:  bookings,
		referrals: referrals,
		events:    events,
	}
}

// Write appends the entries, converts the referral when a referral commission
// is among them, flips the booking to paid and queues the outbox event.
func (w *LedgerWriter) Write(ctx context.Context, tx *sql.Tx, req WriteRequest) error {
	for i := range req.Entries {
		if err := w.ledger.Create(ctx, tx, &req.Entries[i]); err != nil {
			return fmt.Errorf("LedgerWriter.Write: entry %d: %w", i, err)
		}
	}

	if req.Referral != nil && hasEntryType(req.Entries, domain.EntryTypeReferralCommission) {
		if err := w.referrals.MarkConverted(ctx, tx, req.Referral.ID, req.Booking.ID, req.SettledAt); err != nil {
			return fmt.Errorf("LedgerWriter.Write: convert referral: %w", err)
		}
	}

	if err := w.bookings.MarkPaid(ctx, tx, req.Booking.ID, req.PaymentRef, req.SettledAt); err != nil {
		return fmt.Errorf("LedgerWriter.Write: %w", err)
	}

	event, err := newBookingSettledEvent(req)
	if err != nil {
		return fmt.Errorf("LedgerWriter.Write: %w", err)
	}
	if err := w.events.Create(ctx, tx, event); err != nil {
		return fmt.Errorf("LedgerWriter.Write: outbox: %w", err)
	}
	return nil
}

// Verify counts the booking's persisted entries as seen by tx. A count other
// than expected is domain.ErrEntryCountMismatch even though every write
// reported success.
func (w *LedgerWriter) Verify(ctx context.Context, tx *sql.Tx, bookingID uuid.UUID, expected int) (int, error) {
	actual, err := w.ledger.CountByBookingID(ctx, tx, bookingID)
	if err != nil {
		return 0, fmt.Errorf("LedgerWriter.Verify: %w", err)
	}
	if actual != expected {
		return actual, fmt.Errorf("LedgerWriter.Verify: expected %d, persisted %d: %w",
			expected, actual, domain.ErrEntryCountMismatch)
	}
	return actual, nil
}

func newBookingSettledEvent(req WriteRequest) (*domain.SettlementEvent, error) {
	summary := make([]domain.SettledEntrySummary, 0, len(req.Entries))
	for _, e := range req.Entries {
		summary = append(summary, domain.SettledEntrySummary{
			EntryType:     e.EntryType,
			BeneficiaryID: e.BeneficiaryID,
			Amount:        e.Amount,
			AvailableAt:   e.AvailableAt,
		})
	}

	payload, err := json.Marshal(domain.BookingSettledPayload{
		BookingID:  req.Booking.ID,
		PaymentRef: req.PaymentRef,
		TutorID:    req.Booking.TutorID,
		Gross:      req.Booking.Amount,
		Currency:   req.Booking.Currency,
		Entries:    summary,
		SettledAt:  req.SettledAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal settled event: %w", err)
	}

	return &domain.SettlementEvent{
		ID:        uuid.New(),
		BookingID: req.Booking.ID,
		EventType: domain.SettlementEventTypeBookingSettled,
		Payload:   payload,
		Status:    domain.SettlementEventStatusPending,
		CreatedAt: req.SettledAt,
	}, nil
}

func hasEntryType(entries []domain.LedgerEntry, t domain.EntryType) bool {
	for _, e := range entries {
		if e.EntryType == t {
			return true
		}
	}
	return false
}
