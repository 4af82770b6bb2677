package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
	"github.com/josh-kwaku/tutor-settlement/internal/testutil"
)

var testSettledAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(s *memStore) *Engine {
	return NewEngine(
		s,
		memBookings{s},
		memReferrals{s},
		memLedger{s},
		memEvents{s},
		memErrors{s},
		defaultRates(),
		domain.CurrencyGBP,
		zap.NewNop(),
	).WithClock(func() time.Time { return testSettledAt })
}

func requireFailure(t *testing.T, err error, kind FailureKind) *Failure {
	t.Helper()
	var f *Failure
	require.True(t, errors.As(err, &f), "expected *Failure, got %v", err)
	require.Equal(t, kind, f.Kind)
	return f
}

func TestSettlePayment_ScenarioA(t *testing.T) {
	s := newMemStore()
	b := testutil.NewBooking(10000)
	s.addBooking(b)
	engine := newTestEngine(s)

	out, err := engine.SettlePayment(context.Background(), b.ID, "pi_scenario_a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, out.Status)
	require.Len(t, out.Entries, 3)

	entries := s.entriesFor(b.ID)
	require.Len(t, entries, 3)

	clearedAt := testutil.SessionStart.Add(time.Hour).Add(7 * 24 * time.Hour)
	want := []struct {
		entryType   domain.EntryType
		amount      int64
		state       domain.SettlementState
		availableAt time.Time
	}{
		{domain.EntryTypeClientDebit, -10000, domain.SettlementStateImmediate, testSettledAt},
		{domain.EntryTypePlatformFee, 1000, domain.SettlementStateImmediate, testSettledAt},
		{domain.EntryTypeTutorPayout, 9000, domain.SettlementStateClearing, clearedAt},
	}
	for i, w := range want {
		assert.Equal(t, w.entryType, entries[i].EntryType)
		assert.Equal(t, w.amount, entries[i].Amount)
		assert.Equal(t, w.state, entries[i].State)
		assert.Equal(t, w.availableAt, entries[i].AvailableAt)
	}

	settled := s.booking(b.ID)
	assert.Equal(t, domain.PaymentStatusPaid, settled.PaymentStatus)
	require.NotNil(t, settled.PaymentRef)
	assert.Equal(t, "pi_scenario_a", *settled.PaymentRef)

	events := s.eventsFor(b.ID)
	require.Len(t, events, 1)
	assert.Equal(t, domain.SettlementEventTypeBookingSettled, events[0].EventType)
	assert.Equal(t, domain.SettlementEventStatusPending, events[0].Status)

	var payload domain.BookingSettledPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "pi_scenario_a", payload.PaymentRef)
	assert.Equal(t, int64(10000), payload.Gross)
	assert.Len(t, payload.Entries, 3)

	assert.Empty(t, s.processingErrors())
}

func TestSettlePayment_ScenarioB(t *testing.T) {
	s := newMemStore()
	agent, referrer := uuid.New(), uuid.New()
	b := testutil.NewBooking(10000, testutil.WithAgent(agent))
	s.addBooking(b)
	ref := &domain.Referral{
		ID:               uuid.New(),
		AgentID:          referrer,
		ReferredClientID: b.ClientID,
		Status:           domain.ReferralStatusActive,
	}
	s.addReferral(ref)

	out, err := newTestEngine(s).SettlePayment(context.Background(), b.ID, "pi_scenario_b")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, out.Status)

	got := make(map[domain.EntryType]int64)
	for _, e := range s.entriesFor(b.ID) {
		got[e.EntryType] = e.Amount
	}
	assert.Equal(t, map[domain.EntryType]int64{
		domain.EntryTypeClientDebit:        -10000,
		domain.EntryTypePlatformFee:        1000,
		domain.EntryTypeReferralCommission: 1000,
		domain.EntryTypeAgentCommission:    2000,
		domain.EntryTypeTutorPayout:        6000,
	}, got)

	converted := s.referral(ref.ID)
	assert.Equal(t, domain.ReferralStatusConverted, converted.Status)
	require.NotNil(t, converted.BookingID)
	assert.Equal(t, b.ID, *converted.BookingID)
	require.NotNil(t, converted.ConvertedAt)
	assert.Equal(t, testSettledAt, *converted.ConvertedAt)
}

func TestSettlePayment_SelfReferralLeavesReferralActive(t *testing.T) {
	s := newMemStore()
	b := testutil.NewBooking(10000)
	s.addBooking(b)
	ref := &domain.Referral{
		ID:               uuid.New(),
		AgentID:          b.TutorID,
		ReferredClientID: b.ClientID,
		Status:           domain.ReferralStatusActive,
	}
	s.addReferral(ref)

	_, err := newTestEngine(s).SettlePayment(context.Background(), b.ID, "pi_self")
	require.NoError(t, err)

	assert.Len(t, s.entriesFor(b.ID), 3)
	assert.Equal(t, domain.ReferralStatusActive, s.referral(ref.ID).Status)
}

func TestSettlePayment_Idempotent(t *testing.T) {
	s := newMemStore()
	b := testutil.NewBooking(10000, testutil.WithAgent(uuid.New()))
	s.addBooking(b)
	engine := newTestEngine(s)
	ctx := context.Background()

	first, err := engine.SettlePayment(ctx, b.ID, "pi_dup")
	require.NoError(t, err)
	require.Equal(t, OutcomeSettled, first.Status)
	before := s.entriesFor(b.ID)

	second, err := engine.SettlePayment(ctx, b.ID, "pi_dup")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySettled, second.Status)
	assert.Empty(t, second.Entries)

	assert.Equal(t, before, s.entriesFor(b.ID))
	assert.Len(t, s.eventsFor(b.ID), 1)
}

func TestSettlePayment_DifferentReferenceAfterSettlementIsNoOp(t *testing.T) {
	s := newMemStore()
	b := testutil.NewBooking(10000)
	s.addBooking(b)
	engine := newTestEngine(s)
	ctx := context.Background()

	_, err := engine.SettlePayment(ctx, b.ID, "pi_first")
	require.NoError(t, err)

	out, err := engine.SettlePayment(ctx, b.ID, "pi_second")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySettled, out.Status)
	assert.Equal(t, "pi_first", *s.booking(b.ID).PaymentRef)
	assert.Len(t, s.entriesFor(b.ID), 3)
}

func TestSettlePayment_AtomicFailure(t *testing.T) {
	s := newMemStore()
	b := testutil.NewBooking(10000, testutil.WithAgent(uuid.New()))
	s.addBooking(b)
	ref := &domain.Referral{
		ID:               uuid.New(),
		AgentID:          uuid.New(),
		ReferredClientID: b.ClientID,
		Status:           domain.ReferralStatusActive,
	}
	s.addReferral(ref)
	s.failLedgerCreate = 3
	engine := newTestEngine(s)

	out, err := engine.SettlePayment(context.Background(), b.ID, "pi_fault")
	require.Nil(t, out)
	f := requireFailure(t, err, FailureStorage)
	assert.ErrorIs(t, err, errInjected)
	assert.True(t, f.Retryable())
	assert.Equal(t, 5, f.Expected)

	assert.Equal(t, domain.PaymentStatusPending, s.booking(b.ID).PaymentStatus)
	assert.Nil(t, s.booking(b.ID).PaymentRef)
	assert.Empty(t, s.entriesFor(b.ID))
	assert.Empty(t, s.eventsFor(b.ID))
	assert.Equal(t, domain.ReferralStatusActive, s.referral(ref.ID).Status)

	logged := s.processingErrors()
	require.Len(t, logged, 1)
	assert.Equal(t, b.ID, logged[0].BookingID)
	assert.Equal(t, "pi_fault", logged[0].PaymentRef)
	assert.Equal(t, string(FailureStorage), logged[0].ErrorKind)

	var details domain.ProcessingErrorContext
	require.NoError(t, json.Unmarshal(logged[0].Context, &details))
	assert.Equal(t, 5, details.ExpectedEntries)
	assert.Equal(t, int64(10000), details.GrossAmount)
	assert.Equal(t, domain.PaymentStatusPending, details.BookingStatus)

	// redelivery after the fault clears settles normally
	s.failLedgerCreate = 0
	out, err = engine.SettlePayment(context.Background(), b.ID, "pi_fault")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, out.Status)
	assert.Len(t, s.entriesFor(b.ID), 5)
	assert.Equal(t, domain.ReferralStatusConverted, s.referral(ref.ID).Status)
}

func TestSettlePayment_VerificationMismatch(t *testing.T) {
	s := newMemStore()
	b := testutil.NewBooking(10000)
	s.addBooking(b)
	s.dropLedgerCreate = 2

	_, err := newTestEngine(s).SettlePayment(context.Background(), b.ID, "pi_short")
	f := requireFailure(t, err, FailureVerificationMismatch)
	assert.ErrorIs(t, err, domain.ErrEntryCountMismatch)
	assert.Equal(t, 3, f.Expected)
	assert.Equal(t, 2, f.Actual)

	assert.Equal(t, domain.PaymentStatusPending, s.booking(b.ID).PaymentStatus)
	assert.Empty(t, s.entriesFor(b.ID))
	assert.Empty(t, s.eventsFor(b.ID))

	logged := s.processingErrors()
	require.Len(t, logged, 1)
	assert.Equal(t, string(FailureVerificationMismatch), logged[0].ErrorKind)
}

func TestSettlePayment_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		booking func() *domain.Booking
		ref     string
		wantErr error
	}{
		{
			name:    "unknown booking",
			booking: func() *domain.Booking { return nil },
			ref:     "pi_x",
			wantErr: domain.ErrBookingNotFound,
		},
		{
			name:    "empty payment reference",
			booking: func() *domain.Booking { return testutil.NewBooking(10000) },
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "negative gross",
			booking: func() *domain.Booking { return testutil.NewBooking(-1) },
			ref:     "pi_x",
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name: "foreign currency",
			booking: func() *domain.Booking {
				return testutil.NewBooking(10000, testutil.WithCurrency(domain.CurrencyUSD))
			},
			ref:     "pi_x",
			wantErr: domain.ErrCurrencyMismatch,
		},
		{
			name: "paid with an incomplete ledger",
			booking: func() *domain.Booking {
				b := testutil.NewBooking(10000)
				b.PaymentStatus = domain.PaymentStatusPaid
				return b
			},
			ref:     "pi_x",
			wantErr: domain.ErrBookingNotPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemStore()
			id := uuid.New()
			if b := tt.booking(); b != nil {
				s.addBooking(b)
				id = b.ID
			}

			out, err := newTestEngine(s).SettlePayment(context.Background(), id, tt.ref)
			assert.Nil(t, out)
			f := requireFailure(t, err, FailurePrecondition)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, f.Retryable())
			assert.Empty(t, s.entriesFor(id))

			logged := s.processingErrors()
			require.Len(t, logged, 1)
			assert.Equal(t, id, logged[0].BookingID)
		})
	}
}

func TestSettlePayment_ConcurrentDuplicates(t *testing.T) {
	s := newMemStore()
	b := testutil.NewBooking(10000, testutil.WithAgent(uuid.New()))
	s.addBooking(b)
	engine := newTestEngine(s)

	const n = 10
	var wg sync.WaitGroup
	results := make(chan OutcomeStatus, n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := engine.SettlePayment(context.Background(), b.ID, "pi_race")
			if err != nil {
				errs <- err
				return
			}
			results <- out.Status
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("unexpected failure: %v", err)
	}

	counts := make(map[OutcomeStatus]int)
	for status := range results {
		counts[status]++
	}
	assert.Equal(t, 1, counts[OutcomeSettled])
	assert.Equal(t, n-1, counts[OutcomeAlreadySettled])
	assert.Len(t, s.entriesFor(b.ID), 4)
	assert.Len(t, s.eventsFor(b.ID), 1)
}

func TestSettlePayment_DifferentBookingsSettleIndependently(t *testing.T) {
	s := newMemStore()
	engine := newTestEngine(s)

	var bookings []*domain.Booking
	for i := 0; i < 5; i++ {
		b := testutil.NewBooking(2500)
		s.addBooking(b)
		bookings = append(bookings, b)
	}

	var wg sync.WaitGroup
	for _, b := range bookings {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.SettlePayment(context.Background(), b.ID, "pi_"+b.ID.String())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, b := range bookings {
		assert.Len(t, s.entriesFor(b.ID), 3)
		assert.Equal(t, domain.PaymentStatusPaid, s.booking(b.ID).PaymentStatus)
	}
}
