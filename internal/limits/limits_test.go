package limits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wallet-infra/internal/wallet"
)

func TestCheckSingle(t *testing.T) {
	p := DefaultPolicy()

	assert.NoError(t, p.CheckSingle(wallet.TierUnverified, 500_000))

	err := p.CheckSingle(wallet.TierUnverified, 500_001)
	f, ok := wallet.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, wallet.KindLimitExceeded, f.Kind)
	assert.Equal(t, int64(500_000), f.Limit)

	assert.NoError(t, p.CheckSingle(wallet.Tier3, 50_000_000))
	assert.Error(t, p.CheckSingle(wallet.Tier3, 50_000_001))
}

func TestCheckDaily(t *testing.T) {
	p := DefaultPolicy()

	assert.NoError(t, p.CheckDaily(wallet.TierUnverified, 600_000, 400_000))

	err := p.CheckDaily(wallet.TierUnverified, 600_000, 400_001)
	f, ok := wallet.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, wallet.KindLimitExceeded, f.Kind)
	assert.Equal(t, int64(1_000_000), f.Limit)
	assert.Equal(t, int64(400_000), f.Remaining)
}

func TestCheckDailyRemainingNeverNegative(t *testing.T) {
	p := DefaultPolicy()

	err := p.CheckDaily(wallet.TierUnverified, 2_000_000, 1)
	f, ok := wallet.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, int64(0), f.Remaining)
}

func TestCheckResting(t *testing.T) {
	p := DefaultPolicy()

	// Post-credit semantics: landing exactly on the cap is allowed.
	assert.NoError(t, p.CheckResting(wallet.TierUnverified, 4_000_000, 1_000_000))

	err := p.CheckResting(wallet.TierUnverified, 4_000_000, 1_000_001)
	f, ok := wallet.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, wallet.KindLimitExceeded, f.Kind)
	assert.Equal(t, int64(5_000_000), f.Limit)
	assert.Equal(t, int64(1_000_000), f.Remaining)
}

func TestUnlimitedCaps(t *testing.T) {
	p := DefaultPolicy()

	assert.NoError(t, p.CheckResting(wallet.Tier3, 1<<50, 1<<50))

	custom := NewPolicy(map[wallet.Tier]Caps{
		wallet.TierUnverified: {SingleTx: Unlimited, Daily: Unlimited, MaxResting: Unlimited},
	})
	assert.NoError(t, custom.CheckSingle(wallet.TierUnverified, 1<<50))
	assert.NoError(t, custom.CheckDaily(wallet.TierUnverified, 1<<50, 1<<50))
}

func TestUnknownTierFallsBackToUnverified(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, p.Caps(wallet.TierUnverified), p.Caps(wallet.Tier("PLATINUM")))
	assert.Error(t, p.CheckSingle(wallet.Tier("PLATINUM"), 500_001))
}

func TestNewPolicyRequiresUnverified(t *testing.T) {
	assert.Panics(t, func() {
		NewPolicy(map[wallet.Tier]Caps{wallet.Tier1: {}})
	})
}
