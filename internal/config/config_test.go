package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "wallet.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, int64(5000), cfg.WithdrawalFee)
	assert.Equal(t, int64(150), cfg.CardFundingBps)
	assert.False(t, cfg.UsePostgres())
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestProductionRequiresPostgresAndRedis(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "wallet.db")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("AUTH_KEY_FILE", "/etc/wallet/signing.pem")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")

	t.Setenv("DATABASE_URL", "postgres://wallet:secret@db:5432/wallet")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.UsePostgres())

	t.Setenv("REDIS_ADDR", "")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}

func TestFeeTunables(t *testing.T) {
	t.Setenv("DATABASE_URL", "wallet.db")
	t.Setenv("WITHDRAWAL_FEE_MINOR", "10000")
	t.Setenv("CARD_FUNDING_BPS", "200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(10000), cfg.WithdrawalFee)
	assert.Equal(t, int64(200), cfg.CardFundingBps)

	t.Setenv("WITHDRAWAL_FEE_MINOR", "-1")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("WITHDRAWAL_FEE_MINOR", "not-a-number")
	_, err = Load()
	assert.Error(t, err)
}
