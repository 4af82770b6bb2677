package domain

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

type DeliveryMode string

const (
	DeliveryModeOnline   DeliveryMode = "online"
	DeliveryModeInPerson DeliveryMode = "in_person"
	DeliveryModeHybrid   DeliveryMode = "hybrid"
)

// Booking is owned by the booking service; settlement only reads it and
// performs the single Pending -> Paid transition.
type Booking struct {
	ID              uuid.UUID
	ClientID        uuid.UUID
	TutorID         uuid.UUID
	AgentID         *uuid.UUID
	ServiceName     string
	Subjects        []string
	DeliveryMode    DeliveryMode
	Amount          int64
	Currency        Currency
	SessionStart    time.Time
	SessionDuration time.Duration
	PaymentStatus   PaymentStatus
	PaymentRef      *string
	PaidAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (b *Booking) SessionEnd() time.Time {
	return b.SessionStart.Add(b.SessionDuration)
}

// Snapshot copies the descriptive fields so ledger entries stay stable when
// the booking is edited later.
func (b *Booking) Snapshot() BookingSnapshot {
	subjects := make([]string, len(b.Subjects))
	copy(subjects, b.Subjects)
	return BookingSnapshot{
		ServiceName:  b.ServiceName,
		Subjects:     subjects,
		DeliveryMode: b.DeliveryMode,
		SessionStart: b.SessionStart,
	}
}

type BookingSnapshot struct {
	ServiceName  string       `json:"service_name"`
	Subjects     []string     `json:"subjects"`
	DeliveryMode DeliveryMode `json:"delivery_mode"`
	SessionStart time.Time    `json:"session_start"`
}
