package settlement

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
)

type FailureKind string

const (
	FailurePrecondition         FailureKind = "precondition"
	FailureVerificationMismatch FailureKind = "verification_mismatch"
	FailureStorage              FailureKind = "storage"
)

// Failure is returned by SettlePayment when the invocation ended in the Fail
// state. Nothing it attempted was committed.
type Failure struct {
	Kind       FailureKind
	BookingID  uuid.UUID
	PaymentRef string
	Gross      int64
	Currency   domain.Currency
	Status     domain.PaymentStatus
	Expected   int
	Actual     int
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("settlement %s failure for booking %s: %v", f.Kind, f.BookingID, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable reports whether redelivering the same event could succeed
// without someone fixing the booking first.
func (f *Failure) Retryable() bool {
	return f.Kind != FailurePrecondition
}

func classify(err error) FailureKind {
	switch {
	case errors.Is(err, domain.ErrBookingNotFound),
		errors.Is(err, domain.ErrBookingNotPending),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrInvalidRequest):
		return FailurePrecondition
	case errors.Is(err, domain.ErrEntryCountMismatch):
		return FailureVerificationMismatch
	default:
		return FailureStorage
	}
}
