package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ProcessingError struct {
	ID         uuid.UUID
	BookingID  uuid.UUID
	PaymentRef string
	ErrorKind  string
	Message    string
	Context    json.RawMessage
	CreatedAt  time.Time
}

// ProcessingErrorContext is the structured part of a ProcessingError.
type ProcessingErrorContext struct {
	ExpectedEntries int           `json:"expected_entries"`
	ActualEntries   int           `json:"actual_entries"`
	GrossAmount     int64         `json:"gross_amount"`
	Currency        Currency      `json:"currency,omitempty"`
	BookingStatus   PaymentStatus `json:"booking_status,omitempty"`
}
