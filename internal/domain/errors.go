package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrBookingNotFound      = errors.New("booking not found")
	ErrBookingNotPending    = errors.New("booking not in pending status")
	ErrInvalidAmount        = errors.New("amount must not be negative")
	ErrCurrencyMismatch     = errors.New("currency mismatch")
	ErrEntryCountMismatch   = errors.New("persisted ledger entry count does not match expected")
	ErrDuplicateLedgerEntry = errors.New("ledger entry already exists for booking")
	ErrReferralNotActive    = errors.New("referral not active")
	ErrInvalidRequest       = errors.New("invalid request")
)
