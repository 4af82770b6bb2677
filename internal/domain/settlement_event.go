package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SettlementEventStatus string

const (
	SettlementEventStatusPending    SettlementEventStatus = "pending"
	SettlementEventStatusDispatched SettlementEventStatus = "dispatched"
	SettlementEventStatusFailed     SettlementEventStatus = "failed"
)

type SettlementEventType string

const SettlementEventTypeBookingSettled SettlementEventType = "booking.settled"

// SettlementEvent is an outbox row written in the same transaction as the
// ledger entries it describes.
type SettlementEvent struct {
	ID           uuid.UUID
	BookingID    uuid.UUID
	EventType    SettlementEventType
	Payload      json.RawMessage
	Status       SettlementEventStatus
	Attempts     int
	LastAttempt  *time.Time
	CreatedAt    time.Time
	DispatchedAt *time.Time
}

type BookingSettledPayload struct {
	BookingID  uuid.UUID             `json:"booking_id"`
	PaymentRef string                `json:"payment_reference"`
	TutorID    uuid.UUID             `json:"tutor_id"`
	Gross      int64                 `json:"gross_amount"`
	Currency   Currency              `json:"currency"`
	Entries    []SettledEntrySummary `json:"entries"`
	SettledAt  time.Time             `json:"settled_at"`
}

type SettledEntrySummary struct {
	EntryType     EntryType  `json:"entry_type"`
	BeneficiaryID *uuid.UUID `json:"beneficiary_id"`
	Amount        int64      `json:"amount"`
	AvailableAt   time.Time  `json:"available_at"`
}
