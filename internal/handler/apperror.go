package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrServiceForbidden = &AppError{http.StatusForbidden, "SERVICE_FORBIDDEN", "Calling service is not allowed"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrSettlementPrecondition = &AppError{http.StatusConflict, "SETTLEMENT_PRECONDITION_FAILED", "Booking cannot be settled in its current state"}
	ErrSettlementFailed       = &AppError{http.StatusServiceUnavailable, "SETTLEMENT_FAILED", "Settlement failed and was rolled back, retry later"}
)
