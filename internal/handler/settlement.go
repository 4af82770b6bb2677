package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
	"github.com/josh-kwaku/tutor-settlement/internal/logging"
	"github.com/josh-kwaku/tutor-settlement/internal/settlement"
)

type settler interface {
	SettlePayment(ctx context.Context, bookingID uuid.UUID, paymentRef string) (*settlement.Outcome, error)
}

type ledgerReader interface {
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]domain.LedgerEntry, error)
}

type processingErrorReader interface {
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]domain.ProcessingError, error)
}

type SettlementHandler struct {
	engine settler
	ledger ledgerReader
	errors processingErrorReader
}

func NewSettlementHandler(engine settler, ledger ledgerReader, errors processingErrorReader) *SettlementHandler {
	return &SettlementHandler{engine: engine, ledger: ledger, errors: errors}
}

type settleRequest struct {
	BookingID        string `json:"booking_id"`
	PaymentReference string `json:"payment_reference"`
}

func (req settleRequest) validate() []FieldError {
	var errs []FieldError

	if req.BookingID == "" {
		errs = append(errs, FieldError{Field: "booking_id", Message: "required"})
	} else if _, err := uuid.Parse(req.BookingID); err != nil {
		errs = append(errs, FieldError{Field: "booking_id", Message: "must be a valid UUID"})
	}

	if req.PaymentReference == "" {
		errs = append(errs, FieldError{Field: "payment_reference", Message: "required"})
	} else if len(req.PaymentReference) > 255 {
		errs = append(errs, FieldError{Field: "payment_reference", Message: "must be at most 255 characters"})
	}

	return errs
}

type ledgerEntryResponse struct {
	ID            uuid.UUID              `json:"id"`
	BookingID     uuid.UUID              `json:"booking_id"`
	BeneficiaryID *uuid.UUID             `json:"beneficiary_id"`
	EntryType     domain.EntryType       `json:"entry_type"`
	Amount        int64                  `json:"amount"`
	Currency      domain.Currency        `json:"currency"`
	State         domain.SettlementState `json:"settlement_state"`
	AvailableAt   time.Time              `json:"available_at"`
	Snapshot      domain.BookingSnapshot `json:"snapshot"`
	CreatedAt     time.Time              `json:"created_at"`
}

type settleResponse struct {
	Status    settlement.OutcomeStatus `json:"status"`
	BookingID uuid.UUID                `json:"booking_id"`
	Entries   []ledgerEntryResponse    `json:"entries,omitempty"`
}

type processingErrorResponse struct {
	ID         uuid.UUID       `json:"id"`
	BookingID  uuid.UUID       `json:"booking_id"`
	PaymentRef string          `json:"payment_reference"`
	ErrorKind  string          `json:"error_kind"`
	Message    string          `json:"message"`
	Context    json.RawMessage `json:"context"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toLedgerEntryResponses(entries []domain.LedgerEntry) []ledgerEntryResponse {
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryResponse{
			ID:            e.ID,
			BookingID:     e.BookingID,
			BeneficiaryID: e.BeneficiaryID,
			EntryType:     e.EntryType,
			Amount:        e.Amount,
			Currency:      e.Currency,
			State:         e.State,
			AvailableAt:   e.AvailableAt,
			Snapshot:      e.Snapshot,
			CreatedAt:     e.CreatedAt,
		})
	}
	return out
}

// Settle is the inbound payment-success call. Repeating it is safe: a booking
// that is already settled answers 200 already_settled.
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req settleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		log.Warn("failed to parse settle request", zap.Error(err))
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	bookingID := uuid.MustParse(req.BookingID)
	outcome, err := h.engine.SettlePayment(r.Context(), bookingID, req.PaymentReference)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	status := http.StatusOK
	if outcome.Status == settlement.OutcomeSettled {
		status = http.StatusCreated
	}
	RespondSuccess(w, status, settleResponse{
		Status:    outcome.Status,
		BookingID: outcome.BookingID,
		Entries:   toLedgerEntryResponses(outcome.Entries),
	})
}

func (h *SettlementHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := bookingIDParam(w, r)
	if !ok {
		return
	}

	entries, err := h.ledger.GetByBookingID(r.Context(), bookingID)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to load ledger", zap.Error(err))
		RespondAppError(w, ErrInternalError, nil)
		return
	}
	RespondSuccess(w, http.StatusOK, toLedgerEntryResponses(entries))
}

func (h *SettlementHandler) GetProcessingErrors(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := bookingIDParam(w, r)
	if !ok {
		return
	}

	records, err := h.errors.GetByBookingID(r.Context(), bookingID)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to load processing errors", zap.Error(err))
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	out := make([]processingErrorResponse, 0, len(records))
	for _, pe := range records {
		out = append(out, processingErrorResponse{
			ID:         pe.ID,
			BookingID:  pe.BookingID,
			PaymentRef: pe.PaymentRef,
			ErrorKind:  pe.ErrorKind,
			Message:    pe.Message,
			Context:    pe.Context,
			CreatedAt:  pe.CreatedAt,
		})
	}
	RespondSuccess(w, http.StatusOK, out)
}

func bookingIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "bookingID", Message: "must be a valid UUID"}})
		return uuid.Nil, false
	}
	return id, true
}
