package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
	"github.com/josh-kwaku/tutor-settlement/internal/settlement"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error:   nil,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    nil,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

type failureDetails struct {
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

// RespondDomainError maps a settlement Failure or a domain sentinel to an
// AppError. Failures carry their kind so callers can decide whether to retry.
func RespondDomainError(w http.ResponseWriter, err error) {
	var f *settlement.Failure
	if errors.As(err, &f) {
		appErr := ErrSettlementFailed
		if f.Kind == settlement.FailurePrecondition {
			appErr = ErrSettlementPrecondition
		}
		RespondAppError(w, appErr, failureDetails{
			Kind:      string(f.Kind),
			Reason:    f.Err.Error(),
			Retryable: f.Retryable(),
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrBookingNotFound):
		RespondAppError(w, ErrResourceNotFound, nil)
	case errors.Is(err, domain.ErrInvalidRequest):
		RespondAppError(w, ErrInvalidRequest, nil)
	default:
		zap.L().Error("unhandled domain error", zap.Error(err))
		RespondAppError(w, ErrInternalError, nil)
	}
}
