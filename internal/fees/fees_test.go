package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/wallet-infra/internal/wallet"
)

func TestFeeByCategory(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name     string
		amount   int64
		category wallet.TxCategory
		want     int64
	}{
		{"transfer is free", 500_000, wallet.CategoryWalletTransfer, 0},
		{"bank funding is free", 500_000, wallet.CategoryBankFunding, 0},
		{"refund is free", 500_000, wallet.CategoryRefund, 0},
		{"withdrawal flat fee", 10_000, wallet.CategoryBankWithdrawal, 5000},
		{"withdrawal flat fee independent of amount", 10_000_000, wallet.CategoryBankWithdrawal, 5000},
		{"card funding percentage", 1_000_000, wallet.CategoryCardFunding, 15_000},
		{"card funding rounds down", 99, wallet.CategoryCardFunding, 1},
		{"card funding small amount", 10, wallet.CategoryCardFunding, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Fee(tt.amount, tt.category))
		})
	}
}

func TestFeeCustomPolicy(t *testing.T) {
	p := Policy{WithdrawalFlat: 100, CardFundingBps: 250}

	assert.Equal(t, int64(100), p.Fee(50_000, wallet.CategoryBankWithdrawal))
	assert.Equal(t, int64(2500), p.Fee(100_000, wallet.CategoryCardFunding))
}
