package domain

import (
	"time"

	"github.com/google/uuid"
)

type EntryType string

const (
	EntryTypeClientDebit        EntryType = "client_debit"
	EntryTypePlatformFee        EntryType = "platform_fee"
	EntryTypeReferralCommission EntryType = "referral_commission"
	EntryTypeAgentCommission    EntryType = "agent_commission"
	EntryTypeTutorPayout        EntryType = "tutor_payout"
)

type SettlementState string

const (
	SettlementStateImmediate SettlementState = "immediate"
	SettlementStateClearing  SettlementState = "clearing"
)

// LedgerEntry is append-only. A nil BeneficiaryID means the platform.
type LedgerEntry struct {
	ID            uuid.UUID
	BookingID     uuid.UUID
	BeneficiaryID *uuid.UUID
	EntryType     EntryType
	Amount        int64
	Currency      Currency
	State         SettlementState
	AvailableAt   time.Time
	Snapshot      BookingSnapshot
	CreatedAt     time.Time
}
