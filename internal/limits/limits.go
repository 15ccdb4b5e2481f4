// Package limits implements the tier-based transaction limit policy.
//
// The policy itself is pure: it maps a trust tier to caps and checks
// requested amounts against them. Reading historical usage for the daily
// cap is the coordinator's job; that read deliberately happens outside the
// atomic unit of work, so concurrent movements near the cap can jointly
// overshoot it slightly. The cap is a compliance guardrail, not a balance
// integrity guarantee.
package limits

import (
	"fmt"

	"github.com/example/wallet-infra/internal/wallet"
)

// Unlimited marks a cap that is not enforced.
const Unlimited int64 = -1

// Caps are the per-tier limits in minor units.
type Caps struct {
	SingleTx   int64 `json:"single_tx"`
	Daily      int64 `json:"daily"`
	MaxResting int64 `json:"max_resting"`
}

// Policy maps trust tiers to caps. Immutable after construction.
type Policy struct {
	caps map[wallet.Tier]Caps
}

// DefaultPolicy returns the production tier ladder (minor units). Each
// tier's single-movement cap is half its daily cap.
func DefaultPolicy() Policy {
	return NewPolicy(map[wallet.Tier]Caps{
		wallet.TierUnverified: {SingleTx: 500_000, Daily: 1_000_000, MaxResting: 5_000_000},
		wallet.Tier1:          {SingleTx: 2_500_000, Daily: 5_000_000, MaxResting: 30_000_000},
		wallet.Tier2:          {SingleTx: 10_000_000, Daily: 20_000_000, MaxResting: 50_000_000},
		wallet.Tier3:          {SingleTx: 50_000_000, Daily: 100_000_000, MaxResting: Unlimited},
	})
}

// NewPolicy builds a policy from explicit caps. Tiers missing from the map
// fall back to the UNVERIFIED entry, which must be present.
func NewPolicy(caps map[wallet.Tier]Caps) Policy {
	if _, ok := caps[wallet.TierUnverified]; !ok {
		panic("limits: policy requires an UNVERIFIED entry")
	}
	cp := make(map[wallet.Tier]Caps, len(caps))
	for k, v := range caps {
		cp[k] = v
	}
	return Policy{caps: cp}
}

// Caps returns the caps for a tier.
func (p Policy) Caps(tier wallet.Tier) Caps {
	if c, ok := p.caps[tier]; ok {
		return c
	}
	return p.caps[wallet.TierUnverified]
}

// CheckSingle rejects amounts above the tier's single-transaction cap.
// It touches no storage, so the coordinator runs it first.
func (p Policy) CheckSingle(tier wallet.Tier, amount int64) error {
	c := p.Caps(tier)
	if c.SingleTx != Unlimited && amount > c.SingleTx {
		return &wallet.Failure{
			Kind:  wallet.KindLimitExceeded,
			Msg:   fmt.Sprintf("amount exceeds %s single transaction limit", tier),
			Limit: c.SingleTx,
		}
	}
	return nil
}

// CheckDaily rejects amounts that would push today's successful outgoing
// total over the tier's daily cap. usedToday is the sum of SUCCESSFUL
// debit amounts since local midnight.
func (p Policy) CheckDaily(tier wallet.Tier, usedToday, amount int64) error {
	c := p.Caps(tier)
	if c.Daily == Unlimited {
		return nil
	}
	if usedToday+amount > c.Daily {
		remaining := c.Daily - usedToday
		if remaining < 0 {
			remaining = 0
		}
		return &wallet.Failure{
			Kind:      wallet.KindLimitExceeded,
			Msg:       fmt.Sprintf("daily limit exceeded for %s", tier),
			Limit:     c.Daily,
			Remaining: remaining,
		}
	}
	return nil
}

// CheckResting rejects credits that would leave the wallet above the
// tier's maximum resting balance. The check is post-credit: the wallet may
// sit at the cap but a credit may not push it past.
func (p Policy) CheckResting(tier wallet.Tier, balance, credit int64) error {
	c := p.Caps(tier)
	if c.MaxResting == Unlimited {
		return nil
	}
	if balance+credit > c.MaxResting {
		remaining := c.MaxResting - balance
		if remaining < 0 {
			remaining = 0
		}
		return &wallet.Failure{
			Kind:      wallet.KindLimitExceeded,
			Msg:       fmt.Sprintf("credit would exceed %s maximum balance", tier),
			Limit:     c.MaxResting,
			Remaining: remaining,
		}
	}
	return nil
}
