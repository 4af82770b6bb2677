package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReferralStatus string

const (
	ReferralStatusActive    ReferralStatus = "active"
	ReferralStatusConverted ReferralStatus = "converted"
	ReferralStatusExpired   ReferralStatus = "expired"
)

type Referral struct {
	ID               uuid.UUID
	AgentID          uuid.UUID
	ReferredClientID uuid.UUID
	Status           ReferralStatus
	BookingID        *uuid.UUID
	ConvertedAt      *time.Time
	CreatedAt        time.Time
}
