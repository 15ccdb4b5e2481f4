package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wallet-infra/internal/wallet"
)

func TestValidateRoundTrip(t *testing.T) {
	ks, err := NewKeySet()
	require.NoError(t, err)
	v := &JWTValidator{KeySet: ks, Issuer: "wallet-identity"}

	tok, err := IssueToken(ks, "wallet-identity", "acct-1", wallet.Tier2, time.Minute)
	require.NoError(t, err)

	claims, err := v.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", claims.Subject)
	assert.Equal(t, wallet.Tier2, wallet.ParseTier(claims.Tier))
}

func TestValidateRejects(t *testing.T) {
	ks, err := NewKeySet()
	require.NoError(t, err)
	v := &JWTValidator{KeySet: ks, Issuer: "wallet-identity"}

	// Wrong issuer.
	tok, err := IssueToken(ks, "somebody-else", "acct-1", wallet.Tier1, time.Minute)
	require.NoError(t, err)
	_, err = v.Validate(tok)
	assert.Error(t, err)

	// Expired.
	tok, err = IssueToken(ks, "wallet-identity", "acct-1", wallet.Tier1, -time.Minute)
	require.NoError(t, err)
	_, err = v.Validate(tok)
	assert.Error(t, err)

	// Signed by another key.
	other, err := NewKeySet()
	require.NoError(t, err)
	tok, err = IssueToken(other, "wallet-identity", "acct-1", wallet.Tier1, time.Minute)
	require.NoError(t, err)
	_, err = v.Validate(tok)
	assert.Error(t, err)

	_, err = v.Validate("garbage")
	assert.Error(t, err)
}

func TestUnknownTierNarrowsToUnverified(t *testing.T) {
	ks, err := NewKeySet()
	require.NoError(t, err)
	v := &JWTValidator{KeySet: ks, Issuer: "wallet-identity"}

	tok, err := IssueToken(ks, "wallet-identity", "acct-1", wallet.Tier("DIAMOND"), time.Minute)
	require.NoError(t, err)
	claims, err := v.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, wallet.TierUnverified, wallet.ParseTier(claims.Tier))
}
