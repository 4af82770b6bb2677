package outbox

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/josh-kwaku/tutor-settlement/internal/broker"
	"github.com/josh-kwaku/tutor-settlement/internal/domain"
	"github.com/josh-kwaku/tutor-settlement/internal/repository"
	"github.com/josh-kwaku/tutor-settlement/internal/testutil"
)

type directTx struct{}

func (directTx) WithTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

type fakeEvents struct {
	events []domain.SettlementEvent
}

func (f *fakeEvents) GetPending(_ context.Context, _ *sql.Tx, limit int) ([]domain.SettlementEvent, error) {
	var out []domain.SettlementEvent
	for _, e := range f.events {
		if e.Status == domain.SettlementEventStatusPending && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEvents) MarkDispatched(_ context.Context, _ *sql.Tx, id uuid.UUID, at time.Time) error {
	for i := range f.events {
		if f.events[i].ID == id {
			f.events[i].Status = domain.SettlementEventStatusDispatched
			f.events[i].Attempts++
			f.events[i].DispatchedAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeEvents) RecordFailedAttempt(_ context.Context, _ *sql.Tx, id uuid.UUID, at time.Time, maxAttempts int) (domain.SettlementEventStatus, error) {
	for i := range f.events {
		if f.events[i].ID == id {
			f.events[i].Attempts++
			f.events[i].LastAttempt = &at
			if f.events[i].Attempts >= maxAttempts {
				f.events[i].Status = domain.SettlementEventStatusFailed
			}
			return f.events[i].Status, nil
		}
	}
	return "", domain.ErrNotFound
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []broker.Message
	fail     map[string]bool
}

func (p *recordingPublisher) Publish(_ context.Context, msg broker.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[msg.ID] {
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) PingContext(context.Context) error { return nil }
func (p *recordingPublisher) Close() error { return nil }

func pendingEvent() domain.SettlementEvent {
	return domain.SettlementEvent{
		ID:        uuid.New(),
		BookingID: uuid.New(),
		EventType: domain.SettlementEventTypeBookingSettled,
		Payload:   []byte(`{"gross_amount":10000}`),
		Status:    domain.SettlementEventStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRelayBatch_DispatchesPending(t *testing.T) {
	store := &fakeEvents{events: []domain.SettlementEvent{pendingEvent(), pendingEvent()}}
	pub := &recordingPublisher{}
	relay := NewRelay(directTx{}, store, pub, RelayConfig{BatchSize: 10, MaxAttempts: 3}, zap.NewNop())

	n, err := relay.RelayBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, pub.messages, 2)
	assert.Equal(t, store.events[0].ID.String(), pub.messages[0].ID)
	assert.Equal(t, "booking.settled", pub.messages[0].RoutingKey)
	assert.JSONEq(t, `{"gross_amount":10000}`, string(pub.messages[0].Body))

	for _, e := range store.events {
		assert.Equal(t, domain.SettlementEventStatusDispatched, e.Status)
		assert.NotNil(t, e.DispatchedAt)
	}
}

func TestRelayBatch_RetriesThenParks(t *testing.T) {
	failing := pendingEvent()
	store := &fakeEvents{events: []domain.SettlementEvent{failing, pendingEvent()}}
	pub := &recordingPublisher{fail: map[string]bool{failing.ID.String(): true}}
	relay := NewRelay(directTx{}, store, pub, RelayConfig{BatchSize: 10, MaxAttempts: 2}, zap.NewNop())
	ctx := context.Background()

	n, err := relay.RelayBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.SettlementEventStatusPending, store.events[0].Status)
	assert.Equal(t, 1, store.events[0].Attempts)

	n, err = relay.RelayBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, domain.SettlementEventStatusFailed, store.events[0].Status)
	assert.Equal(t, 2, store.events[0].Attempts)

	// parked events are no longer claimed
	n, err = relay.RelayBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, store.events[0].Attempts)
}

func TestRelayBatch_RespectsBatchSize(t *testing.T) {
	store := &fakeEvents{events: []domain.SettlementEvent{pendingEvent(), pendingEvent(), pendingEvent()}}
	relay := NewRelay(directTx{}, store, &recordingPublisher{}, RelayConfig{BatchSize: 2, MaxAttempts: 3}, zap.NewNop())

	n, err := relay.RelayBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.SettlementEventStatusPending, store.events[2].Status)
}

func TestRelay_Postgres(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	events := repository.NewSettlementEventRepository(db)

	b := testutil.SeedBooking(t, db, 10000)
	event := pendingEvent()
	event.BookingID = b.ID
	require.NoError(t, repository.NewDB(db).WithTx(ctx, func(tx *sql.Tx) error {
		return events.Create(ctx, tx, &event)
	}))

	pub := &recordingPublisher{}
	relay := NewRelay(repository.NewDB(db), events, pub, RelayConfig{BatchSize: 10, MaxAttempts: 3}, zap.NewNop())

	n, err := relay.RelayBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.messages, 1)

	stored, err := events.GetByBookingID(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.SettlementEventStatusDispatched, stored[0].Status)
	assert.Equal(t, 1, stored[0].Attempts)

	// dispatched rows older than the retention window are purged
	sched := NewScheduler(events, time.Hour, zap.NewNop())
	sched.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	purged, err := sched.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
