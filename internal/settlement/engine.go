package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
	"github.com/josh-kwaku/tutor-settlement/internal/metrics"
	"github.com/josh-kwaku/tutor-settlement/internal/repository"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Reader() repository.Querier
}

type bookingStore interface {
	GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Booking, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Booking, error)
	MarkPaid(ctx context.Context, tx *sql.Tx, id uuid.UUID, paymentRef string, paidAt time.Time) error
}

type referralStore interface {
	GetByReferredClientForUpdate(ctx context.Context, tx *sql.Tx, clientID uuid.UUID, status domain.ReferralStatus) (*domain.Referral, error)
	MarkConverted(ctx context.Context, tx *sql.Tx, id, bookingID uuid.UUID, convertedAt time.Time) error
}

type OutcomeStatus string

const (
	OutcomeSettled        OutcomeStatus = "settled"
	OutcomeAlreadySettled OutcomeStatus = "already_settled"
)

// Outcome is a successful terminal state. Entries is empty for
// OutcomeAlreadySettled.
type Outcome struct {
	Status    OutcomeStatus
	BookingID uuid.UUID
	Entries   []domain.LedgerEntry
}

type Engine struct {
	db        txRunner
	bookings  bookingStore
	referrals referralStore
	guard     *Guard
	writer    *LedgerWriter
	reporter  *Reporter
	rates     Rates
	currency  domain.Currency
	logger    *zap.Logger
	now       func() time.Time
}

func NewEngine(
	db txRunner,
	bookings bookingStore,
	referrals referralStore,
	ledger writerLedger,
	events writerEvents,
	failures errorLog,
	rates Rates,
	currency domain.Currency,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		db:        db,
		bookings:  bookings,
		referrals: referrals,
		guard:     NewGuard(bookings, ledger),
		writer:    NewLedgerWriter(ledger, bookings, referrals, events),
		reporter:  NewReporter(failures),
		rates:     rates,
		currency:  currency,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the settlement timestamp source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.reporter.now = now
	return e
}

// attempt carries what is known about an invocation so a Failure can be
// reported with whatever context was reached before it failed.
type attempt struct {
	bookingID  uuid.UUID
	paymentRef string
	booking    *domain.Booking
	expected   int
	actual     int
}

// SettlePayment turns a payment success into the booking's ledger entries.
// It is safe to call repeatedly with the same arguments: once a booking is
// settled every later call returns OutcomeAlreadySettled without writing.
// A non-nil error is always a *Failure and nothing was committed.
func (e *Engine) SettlePayment(ctx context.Context, bookingID uuid.UUID, paymentRef string) (*Outcome, error) {
	start := time.Now()
	log := e.logger.With(
		zap.String("booking_id", bookingID.String()),
		zap.String("payment_ref", paymentRef),
	)
	at := &attempt{bookingID: bookingID, paymentRef: paymentRef}

	outcome, err := e.settle(ctx, log, at)
	if err != nil {
		f := e.failure(at, err)
		e.reporter.Report(ctx, f)
		metrics.RecordSettlement("failed", string(f.Kind), time.Since(start))
		return nil, f
	}

	metrics.RecordSettlement(string(outcome.Status), "", time.Since(start))
	if outcome.Status == OutcomeSettled {
		for _, entry := range outcome.Entries {
			metrics.RecordLedgerEntry(string(entry.EntryType), string(entry.Currency), entry.Amount)
		}
	}
	return outcome, nil
}

func (e *Engine) settle(ctx context.Context, log *zap.Logger, at *attempt) (*Outcome, error) {
	if at.paymentRef == "" {
		return nil, fmt.Errorf("empty payment reference: %w", domain.ErrInvalidRequest)
	}

	// Cheap exit for redeliveries of an already settled payment, taken
	// without the row lock. The decision is repeated under the lock below.
	verdict, err := e.guard.Check(ctx, e.db.Reader(), at.bookingID, at.paymentRef)
	if err != nil {
		return nil, err
	}
	if verdict.Settled {
		e.logNoOp(log, verdict)
		return &Outcome{Status: OutcomeAlreadySettled, BookingID: at.bookingID}, nil
	}

	var outcome *Outcome
	err = e.db.WithTx(ctx, func(tx *sql.Tx) error {
		booking, err := e.bookings.GetForUpdate(ctx, tx, at.bookingID)
		if err != nil {
			return err
		}
		at.booking = booking

		verdict, err := e.guard.Evaluate(ctx, tx, booking, at.paymentRef)
		if err != nil {
			return err
		}
		if verdict.Settled {
			e.logNoOp(log, verdict)
			outcome = &Outcome{Status: OutcomeAlreadySettled, BookingID: booking.ID}
			return nil
		}
		if verdict.Incomplete() {
			log.Warn("booking is paid but its ledger is incomplete",
				zap.Int("entries", verdict.Entries),
			)
		}

		if err := e.checkSettleable(booking); err != nil {
			return err
		}

		referral, err := e.referrals.GetByReferredClientForUpdate(ctx, tx, booking.ClientID, domain.ReferralStatusActive)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("referral lookup: %w", err)
		}

		parties := Parties{
			ClientID: booking.ClientID,
			TutorID:  booking.TutorID,
			AgentID:  booking.AgentID,
		}
		if referral != nil {
			parties.ReferrerID = ptr(referral.AgentID)
		}

		settledAt := e.now().UTC()
		candidates := CalculateCommissions(booking.Amount, parties, e.rates)
		entries := BuildEntries(booking, candidates, settledAt, e.rates.ClearingWindow)
		at.expected = len(entries)

		err = e.writer.Write(ctx, tx, WriteRequest{
			Booking:    booking,
			Referral:   referral,
			Entries:    entries,
			PaymentRef: at.paymentRef,
			SettledAt:  settledAt,
		})
		if err != nil {
			return err
		}

		at.actual, err = e.writer.Verify(ctx, tx, booking.ID, at.expected)
		if err != nil {
			return err
		}

		outcome = &Outcome{Status: OutcomeSettled, BookingID: booking.ID, Entries: entries}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if outcome.Status == OutcomeSettled {
		log.Info("booking settled",
			zap.Int64("gross_amount", at.booking.Amount),
			zap.String("currency", string(at.booking.Currency)),
			zap.Int("entries", len(outcome.Entries)),
		)
	}
	return outcome, nil
}

func (e *Engine) checkSettleable(b *domain.Booking) error {
	if b.PaymentStatus != domain.PaymentStatusPending {
		return fmt.Errorf("booking status %s: %w", b.PaymentStatus, domain.ErrBookingNotPending)
	}
	if b.Amount < 0 {
		return fmt.Errorf("gross %d: %w", b.Amount, domain.ErrInvalidAmount)
	}
	if b.Currency != e.currency {
		return fmt.Errorf("booking currency %s, settlement currency %s: %w", b.Currency, e.currency, domain.ErrCurrencyMismatch)
	}
	return nil
}

func (e *Engine) logNoOp(log *zap.Logger, v Verdict) {
	if v.RefMismatch {
		log.Warn("booking already settled under a different payment reference",
			zap.Int("entries", v.Entries),
		)
		return
	}
	log.Info("booking already settled", zap.Int("entries", v.Entries))
}

func (e *Engine) failure(at *attempt, err error) *Failure {
	f := &Failure{
		Kind:       classify(err),
		BookingID:  at.bookingID,
		PaymentRef: at.paymentRef,
		Expected:   at.expected,
		Actual:     at.actual,
		Err:        err,
	}
	if at.booking != nil {
		f.Gross = at.booking.Amount
		f.Currency = at.booking.Currency
		f.Status = at.booking.PaymentStatus
	}
	return f
}
