package settlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/tutor-settlement/internal/domain"
)

// Rates is the commission configuration for one settlement. Percentages are
// fractions (0.10 == 10%) of the gross amount.
type Rates struct {
	PlatformFeePct decimal.Decimal
	ReferralPct    decimal.Decimal
	AgentPct       decimal.Decimal
	ClearingWindow time.Duration
}

type Parties struct {
	ClientID   uuid.UUID
	TutorID    uuid.UUID
	ReferrerID *uuid.UUID
	AgentID    *uuid.UUID
}

// Candidate is a ledger entry before it has an id, a timestamp or a snapshot.
type Candidate struct {
	EntryType     domain.EntryType
	BeneficiaryID *uuid.UUID
	Amount        int64
	State         domain.SettlementState
}

// CalculateCommissions splits gross between the platform, an eligible
// referrer, an eligible booking agent and the tutor. Every percentage applies
// to the original gross and is rounded half-even to the minor unit; each
// commission is capped at what is still unallocated, and the tutor takes the
// residual. The non-debit amounts always sum to gross.
func CalculateCommissions(gross int64, parties Parties, rates Rates) []Candidate {
	candidates := make([]Candidate, 0, 5)
	candidates = append(candidates, Candidate{
		EntryType:     domain.EntryTypeClientDebit,
		BeneficiaryID: ptr(parties.ClientID),
		Amount:        -gross,
		State:         domain.SettlementStateImmediate,
	})

	remaining := gross

	candidates = append(candidates, Candidate{
		EntryType: domain.EntryTypePlatformFee,
		Amount:    allocate(&remaining, percentOf(gross, rates.PlatformFeePct)),
		State:     domain.SettlementStateImmediate,
	})

	var referrer *uuid.UUID
	if referralEligible(parties) {
		referrer = ptr(*parties.ReferrerID)
		candidates = append(candidates, Candidate{
			EntryType:     domain.EntryTypeReferralCommission,
			BeneficiaryID: referrer,
			Amount:        allocate(&remaining, percentOf(gross, rates.ReferralPct)),
			State:         domain.SettlementStateClearing,
		})
	}

	if agentEligible(parties, referrer) {
		candidates = append(candidates, Candidate{
			EntryType:     domain.EntryTypeAgentCommission,
			BeneficiaryID: ptr(*parties.AgentID),
			Amount:        allocate(&remaining, percentOf(gross, rates.AgentPct)),
			State:         domain.SettlementStateClearing,
		})
	}

	candidates = append(candidates, Candidate{
		EntryType:     domain.EntryTypeTutorPayout,
		BeneficiaryID: ptr(parties.TutorID),
		Amount:        remaining,
		State:         domain.SettlementStateClearing,
	})

	return candidates
}

// A referrer who is also the tutor or the booking agent earns nothing.
func referralEligible(p Parties) bool {
	if p.ReferrerID == nil {
		return false
	}
	if *p.ReferrerID == p.TutorID {
		return false
	}
	return p.AgentID == nil || *p.AgentID != *p.ReferrerID
}

// An agent who is the tutor, or who already earned the referral commission,
// earns nothing.
func agentEligible(p Parties, paidReferrer *uuid.UUID) bool {
	if p.AgentID == nil {
		return false
	}
	if *p.AgentID == p.TutorID {
		return false
	}
	return paidReferrer == nil || *paidReferrer != *p.AgentID
}

func percentOf(gross int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(gross).Mul(pct).RoundBank(0).IntPart()
}

func allocate(remaining *int64, amount int64) int64 {
	amount = min(amount, *remaining)
	amount = max(amount, 0)
	*remaining -= amount
	return amount
}

// BuildEntries stamps candidates with ids, availability and the booking
// snapshot. Immediate entries are available at settledAt; clearing entries
// once the session has ended plus the clearing window.
func BuildEntries(b *domain.Booking, candidates []Candidate, settledAt time.Time, clearingWindow time.Duration) []domain.LedgerEntry {
	clearedAt := b.SessionEnd().Add(clearingWindow)

	entries := make([]domain.LedgerEntry, 0, len(candidates))
	for _, c := range candidates {
		availableAt := settledAt
		if c.State == domain.SettlementStateClearing {
			availableAt = clearedAt
		}
		entries = append(entries, domain.LedgerEntry{
			ID:            uuid.New(),
			BookingID:     b.ID,
			BeneficiaryID: c.BeneficiaryID,
			EntryType:     c.EntryType,
			Amount:        c.Amount,
			Currency:      b.Currency,
			State:         c.State,
			AvailableAt:   availableAt,
			Snapshot:      b.Snapshot(),
			CreatedAt:     settledAt,
		})
	}
	return entries
}

func ptr(id uuid.UUID) *uuid.UUID {
	return &id
}
