package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
	"github.com/josh-kwaku/tutor-settlement/internal/repository"
)

// MinSettledEntries is the smallest ledger a settled booking can have:
// client debit, platform fee and tutor payout.
const MinSettledEntries = 3

type guardBookingReader interface {
	GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Booking, error)
}

type guardLedgerCounter interface {
	CountByBookingID(ctx context.Context, q repository.Querier, bookingID uuid.UUID) (int, error)
}

type Verdict struct {
	Found       bool
	Settled     bool
	Status      domain.PaymentStatus
	Entries     int
	RefMismatch bool
}

// Incomplete is a booking marked paid whose ledger is short. Retrying must
// not treat it as done.
func (v Verdict) Incomplete() bool {
	return v.Found && v.Status == domain.PaymentStatusPaid && !v.Settled
}

// Guard decides whether a booking has already been settled. It only reads.
type Guard struct {
	bookings guardBookingReader
	ledger   guardLedgerCounter
}

func NewGuard(bookings guardBookingReader, ledger guardLedgerCounter) *Guard {
	return &Guard{bookings: bookings, ledger: ledger}
}

// Check loads the booking through q. An unknown booking is reported as not
// settled.
func (g *Guard) Check(ctx context.Context, q repository.Querier, bookingID uuid.UUID, paymentRef string) (Verdict, error) {
	b, err := g.bookings.GetByID(ctx, q, bookingID)
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			return Verdict{}, nil
		}
		return Verdict{}, fmt.Errorf("Guard.Check: %w", err)
	}
	return g.Evaluate(ctx, q, b, paymentRef)
}

// Evaluate is Check for a booking the caller already holds, typically under
// its row lock.
func (g *Guard) Evaluate(ctx context.Context, q repository.Querier, b *domain.Booking, paymentRef string) (Verdict, error) {
	v := Verdict{
		Found:       true,
		Status:      b.PaymentStatus,
		RefMismatch: b.PaymentRef != nil && *b.PaymentRef != paymentRef,
	}
	if b.PaymentStatus != domain.PaymentStatusPaid {
		return v, nil
	}

	n, err := g.ledger.CountByBookingID(ctx, q, b.ID)
	if err != nil {
		return Verdict{}, fmt.Errorf("Guard.Evaluate: %w", err)
	}
	v.Entries = n
	v.Settled = n >= MinSettledEntries
	return v, nil
}
