// Package wallet defines the domain model for the money movement engine:
// wallets, transactions, trust tiers and the failure taxonomy shared by the
// ledger store, the transfer coordinator and the HTTP layer.
//
// All monetary values are int64 minor units (kobo for NGN). Floating point
// is never used for balances.
package wallet

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Wallet is the custodial balance record, one per account.
type Wallet struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	AccountNumber   string    `json:"account_number"`
	Balance         int64     `json:"balance"`
	PreviousBalance int64     `json:"previous_balance"`
	Currency        string    `json:"currency"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Tier is the trust/verification level owned by the KYC collaborator.
// The engine consumes it read-only.
type Tier string

const (
	TierUnverified Tier = "UNVERIFIED"
	Tier1          Tier = "TIER1"
	Tier2          Tier = "TIER2"
	Tier3          Tier = "TIER3"
)

// ParseTier maps a claim value to a Tier, defaulting to UNVERIFIED for
// anything unrecognized so an unknown tier can never widen limits.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case Tier1, Tier2, Tier3:
		return Tier(s)
	default:
		return TierUnverified
	}
}

// NewReference generates a globally unique transaction reference. The store
// additionally enforces uniqueness, so a caller-supplied reference doubles
// as the idempotency key.
func NewReference() string {
	return "TXN-" + uuid.NewString()
}

// NewAccountNumber generates an externally addressable 10-digit account
// number with the institution's "20" prefix.
func NewAccountNumber() string {
	return fmt.Sprintf("20%08d", rand.Intn(100000000))
}
