package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
	"github.com/josh-kwaku/tutor-settlement/internal/repository"
)

var errInjected = errors.New("injected storage fault")

// memStore is an in-memory stand-in for Postgres. Transactions are
// serialized by txMu, which plays the booking row lock, and a failed
// transaction restores the snapshot taken when it began.
type memStore struct {
	txMu sync.Mutex

	mu        sync.Mutex
	bookings  map[uuid.UUID]domain.Booking
	referrals map[uuid.UUID]domain.Referral
	ledger    []domain.LedgerEntry
	events    []domain.SettlementEvent
	errors    []domain.ProcessingError

	// failLedgerCreate makes the n-th ledger insert (1-based) fail.
	failLedgerCreate int
	// dropLedgerCreate makes the n-th ledger insert report success without
	// storing anything.
	dropLedgerCreate int
	ledgerCreates    int
}

type memSnapshot struct {
	bookings  map[uuid.UUID]domain.Booking
	referrals map[uuid.UUID]domain.Referral
	ledger    []domain.LedgerEntry
	events    []domain.SettlementEvent
}

func newMemStore() *memStore {
	return &memStore{
		bookings:  make(map[uuid.UUID]domain.Booking),
		referrals: make(map[uuid.UUID]domain.Referral),
	}
}

func (s *memStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) Reader() repository.Querier {
	return nil
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memSnapshot{
		bookings:  maps.Clone(s.bookings),
		referrals: maps.Clone(s.referrals),
		ledger:    slices.Clone(s.ledger),
		events:    slices.Clone(s.events),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = snap.bookings
	s.referrals = snap.referrals
	s.ledger = snap.ledger
	s.events = snap.events
}

func (s *memStore) addBooking(b *domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = *b
}

func (s *memStore) addReferral(r *domain.Referral) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referrals[r.ID] = *r
}

func (s *memStore) booking(id uuid.UUID) domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id]
}

func (s *memStore) referral(id uuid.UUID) domain.Referral {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.referrals[id]
}

func (s *memStore) entriesFor(bookingID uuid.UUID) []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range s.ledger {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) eventsFor(bookingID uuid.UUID) []domain.SettlementEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SettlementEvent
	for _, e := range s.events {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) processingErrors() []domain.ProcessingError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.errors)
}

type memBookings struct{ s *memStore }

func (r memBookings) GetByID(_ context.Context, _ repository.Querier, id uuid.UUID) (*domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("GetByID: %w", domain.ErrBookingNotFound)
	}
	return &b, nil
}

func (r memBookings) GetForUpdate(ctx context.Context, _ *sql.Tx, id uuid.UUID) (*domain.Booking, error) {
	return r.GetByID(ctx, nil, id)
}

func (r memBookings) MarkPaid(_ context.Context, _ *sql.Tx, id uuid.UUID, paymentRef string, paidAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok || b.PaymentStatus != domain.PaymentStatusPending {
		return fmt.Errorf("MarkPaid: %w", domain.ErrBookingNotPending)
	}
	b.PaymentStatus = domain.PaymentStatusPaid
	b.PaymentRef = &paymentRef
	b.PaidAt = &paidAt
	r.s.bookings[id] = b
	return nil
}

type memReferrals struct{ s *memStore }

func (r memReferrals) GetByReferredClientForUpdate(_ context.Context, _ *sql.Tx, clientID uuid.UUID, status domain.ReferralStatus) (*domain.Referral, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ref := range r.s.referrals {
		if ref.ReferredClientID == clientID && ref.Status == status {
			return &ref, nil
		}
	}
	return nil, fmt.Errorf("GetByReferredClientForUpdate: %w", domain.ErrNotFound)
}

func (r memReferrals) MarkConverted(_ context.Context, _ *sql.Tx, id, bookingID uuid.UUID, convertedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ref, ok := r.s.referrals[id]
	if !ok || ref.Status != domain.ReferralStatusActive {
		return fmt.Errorf("MarkConverted: %w", domain.ErrReferralNotActive)
	}
	ref.Status = domain.ReferralStatusConverted
	ref.BookingID = &bookingID
	ref.ConvertedAt = &convertedAt
	r.s.referrals[id] = ref
	return nil
}

type memLedger struct{ s *memStore }

func (r memLedger) Create(_ context.Context, _ *sql.Tx, entry *domain.LedgerEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.ledgerCreates++
	switch r.s.ledgerCreates {
	case r.s.failLedgerCreate:
		return fmt.Errorf("Create: %w", errInjected)
	case r.s.dropLedgerCreate:
		return nil
	}

	for _, e := range r.s.ledger {
		if e.BookingID == entry.BookingID && e.EntryType == entry.EntryType {
			return fmt.Errorf("Create: duplicate %s for booking %s", entry.EntryType, entry.BookingID)
		}
	}
	r.s.ledger = append(r.s.ledger, *entry)
	return nil
}

func (r memLedger) CountByBookingID(_ context.Context, _ repository.Querier, bookingID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, e := range r.s.ledger {
		if e.BookingID == bookingID {
			n++
		}
	}
	return n, nil
}

type memEvents struct{ s *memStore }

func (r memEvents) Create(_ context.Context, _ *sql.Tx, event *domain.SettlementEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.events = append(r.s.events, *event)
	return nil
}

type memErrors struct{ s *memStore }

func (r memErrors) Create(_ context.Context, pe *domain.ProcessingError) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.errors = append(r.s.errors, *pe)
	return nil
}
