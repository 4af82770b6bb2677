package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
	"github.com/josh-kwaku/tutor-settlement/internal/repository"
)

// SessionStart is the fixed session start used by seeded bookings, so
// clearing-window availability can be asserted exactly.
var SessionStart = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type BookingOption func(b *domain.Booking)

func WithAgent(id uuid.UUID) BookingOption {
	return func(b *domain.Booking) { b.AgentID = &id }
}

func WithClient(id uuid.UUID) BookingOption {
	return func(b *domain.Booking) { b.ClientID = id }
}

func WithTutor(id uuid.UUID) BookingOption {
	return func(b *domain.Booking) { b.TutorID = id }
}

func WithCurrency(c domain.Currency) BookingOption {
	return func(b *domain.Booking) { b.Currency = c }
}

// NewBooking returns a pending, one-hour GBP booking for amount. It is not
// persisted.
func NewBooking(amount int64, opts ...BookingOption) *domain.Booking {
	now := time.Now().UTC().Truncate(time.Microsecond)
	b := &domain.Booking{
		ID:              uuid.New(),
		ClientID:        uuid.New(),
		TutorID:         uuid.New(),
		ServiceName:     "GCSE Maths",
		Subjects:        []string{"algebra", "geometry"},
		DeliveryMode:    domain.DeliveryModeOnline,
		Amount:          amount,
		Currency:        domain.CurrencyGBP,
		SessionStart:    SessionStart,
		SessionDuration: time.Hour,
		PaymentStatus:   domain.PaymentStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func SeedBooking(t *testing.T, db *sql.DB, amount int64, opts ...BookingOption) *domain.Booking {
	t.Helper()

	b := NewBooking(amount, opts...)
	if err := repository.NewBookingRepository(db).Create(context.Background(), b); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return b
}

func SeedReferral(t *testing.T, db *sql.DB, agentID, clientID uuid.UUID) *domain.Referral {
	t.Helper()

	ref := &domain.Referral{
		ID:               uuid.New(),
		AgentID:          agentID,
		ReferredClientID: clientID,
		Status:           domain.ReferralStatusActive,
		CreatedAt:        time.Now().UTC(),
	}
	if err := repository.NewReferralRepository(db).Create(context.Background(), ref); err != nil {
		t.Fatalf("seed referral: %v", err)
	}
	return ref
}

func CountLedgerEntries(t *testing.T, db *sql.DB, bookingID uuid.UUID) int {
	t.Helper()

	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE booking_id = $1`, bookingID).Scan(&n)
	if err != nil {
		t.Fatalf("count ledger entries: %v", err)
	}
	return n
}

func GetBookingStatus(t *testing.T, db *sql.DB, bookingID uuid.UUID) domain.PaymentStatus {
	t.Helper()

	var status domain.PaymentStatus
	err := db.QueryRow(`SELECT payment_status FROM bookings WHERE id = $1`, bookingID).Scan(&status)
	if err != nil {
		t.Fatalf("get booking status: %v", err)
	}
	return status
}
