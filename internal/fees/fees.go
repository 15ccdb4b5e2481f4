// Package fees implements the fee policy: a pure mapping from movement
// category to the fee charged, in minor units.
package fees

import "github.com/example/wallet-infra/internal/wallet"

// Policy holds the fee tunables, loaded once at startup and injected.
type Policy struct {
	// WithdrawalFlat is the flat bank withdrawal fee in minor units.
	WithdrawalFlat int64
	// CardFundingBps is the card funding fee in basis points of the amount.
	CardFundingBps int64
}

// DefaultPolicy returns the production defaults: free transfers and bank
// funding, NGN 50.00 flat withdrawal fee, 1.5% card funding fee.
func DefaultPolicy() Policy {
	return Policy{
		WithdrawalFlat: 5000,
		CardFundingBps: 150,
	}
}

// Fee returns the fee for moving amount under the given category.
// Unknown categories are free, matching the engine's refund handling.
func (p Policy) Fee(amount int64, category wallet.TxCategory) int64 {
	switch category {
	case wallet.CategoryBankWithdrawal:
		return p.WithdrawalFlat
	case wallet.CategoryCardFunding:
		return amount * p.CardFundingBps / 10000
	default:
		return 0
	}
}
