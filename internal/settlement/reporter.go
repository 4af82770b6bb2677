package settlement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
	"github.com/josh-kwaku/tutor-settlement/internal/logging"
)

const reportTimeout = 5 * time.Second

type errorLog interface {
	Create(ctx context.Context, pe *domain.ProcessingError) error
}

// Reporter records a failed settlement after its transaction has been rolled
// back. It is the only place a Failure is logged.
type Reporter struct {
	errors errorLog
	now    func() time.Time
}

func NewReporter(errors errorLog) *Reporter {
	return &Reporter{errors: errors, now: time.Now}
}

func (r *Reporter) Report(ctx context.Context, f *Failure) {
	log := logging.FromContext(ctx)

	// the invocation's context may be the reason we failed
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	details, err := json.Marshal(domain.ProcessingErrorContext{
		ExpectedEntries: f.Expected,
		ActualEntries:   f.Actual,
		GrossAmount:     f.Gross,
		Currency:        f.Currency,
		BookingStatus:   f.Status,
	})
	if err != nil {
		details = []byte("{}")
	}

	record := &domain.ProcessingError{
		ID:         uuid.New(),
		BookingID:  f.BookingID,
		PaymentRef: f.PaymentRef,
		ErrorKind:  string(f.Kind),
		Message:    f.Err.Error(),
		Context:    details,
		CreatedAt:  r.now().UTC(),
	}

	log.Error("settlement failed, rolled back",
		zap.String("booking_id", f.BookingID.String()),
		zap.String("payment_ref", f.PaymentRef),
		zap.String("kind", string(f.Kind)),
		zap.Int64("gross_amount", f.Gross),
		zap.Int("expected_entries", f.Expected),
		zap.Int("actual_entries", f.Actual),
		zap.String("booking_status", string(f.Status)),
		zap.Error(f.Err),
	)

	if err := r.errors.Create(ctx, record); err != nil {
		log.Error("failed to record processing error",
			zap.String("booking_id", f.BookingID.String()),
			zap.Error(err),
		)
	}
}
