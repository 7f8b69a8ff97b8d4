package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verigate/internal/verification/models"
	"verigate/internal/wallet"
)

const testRef = "ref-hash-1"

func presentedClaims() []models.IdentityClaim {
	return []models.IdentityClaim{
		{Type: models.ClaimFullName, Value: "Ada Example", Tier: models.TierVerified},
		{Type: models.ClaimOwnerID, Value: "owner-1", Tier: models.TierVerified},
		{Type: models.ClaimDateOfBirth, Value: "1991-04-02", Tier: models.TierVerified},
	}
}

func sourceRef() models.SourceRef {
	return models.SourceRef{Kind: models.SourcePassStore, SourceID: "pass-1", RefHash: testRef}
}

func TestAdapter_AllClaimsCorroborated(t *testing.T) {
	client := NewMockRecordClient(0)
	client.Enroll(testRef, map[models.ClaimType]string{
		models.ClaimFullName:    "Ada Example",
		models.ClaimOwnerID:     "owner-1",
		models.ClaimDateOfBirth: "1991-04-02",
	})
	src := NewPassStore("pass-1", client)

	result, err := src.Verify(context.Background(), sourceRef(), presentedClaims())
	require.NoError(t, err)

	assert.Equal(t, models.WalletSuccess, result.Status)
	assert.Equal(t, 75, result.Confidence)
	assert.Len(t, result.MatchedClaims, 3)
	for _, claim := range result.MatchedClaims {
		assert.Equal(t, models.TierVerified, claim.Tier)
		assert.Equal(t, []string{"pass-1"}, claim.Sources)
	}
}

func TestAdapter_PartialMatch(t *testing.T) {
	client := NewMockRecordClient(0)
	client.Enroll(testRef, map[models.ClaimType]string{
		models.ClaimFullName: "Ada Example",
		models.ClaimOwnerID:  "owner-1",
	})
	src := NewDataVault("vault-1", client)

	result, err := src.Verify(context.Background(), sourceRef(), presentedClaims())
	require.NoError(t, err)

	assert.Equal(t, models.WalletPartial, result.Status)
	assert.Equal(t, 50, result.Confidence)
	assert.Len(t, result.MatchedClaims, 2)
	// Vaults are self-managed; they confer high, not verified.
	assert.Equal(t, models.TierHigh, result.MatchedClaims[0].Tier)
}

func TestAdapter_ValueMismatchDoesNotCorroborate(t *testing.T) {
	client := NewMockRecordClient(0)
	client.Enroll(testRef, map[models.ClaimType]string{
		models.ClaimFullName:    "Eve Impostor",
		models.ClaimOwnerID:     "owner-1",
		models.ClaimDateOfBirth: "1970-01-01",
	})
	src := NewBankID("bank-1", client)

	result, err := src.Verify(context.Background(), sourceRef(), presentedClaims())
	require.NoError(t, err)

	assert.Equal(t, models.WalletFailed, result.Status)
	assert.Equal(t, 25, result.Confidence)
	assert.Len(t, result.MatchedClaims, 1)
}

func TestAdapter_MatchingIsCaseAndSpaceInsensitive(t *testing.T) {
	client := NewMockRecordClient(0)
	client.Enroll(testRef, map[models.ClaimType]string{
		models.ClaimFullName: "  ADA EXAMPLE ",
	})
	src := NewPassStore("pass-1", client)

	result, err := src.Verify(context.Background(), sourceRef(), presentedClaims())
	require.NoError(t, err)
	assert.Len(t, result.MatchedClaims, 1)
}

func TestAdapter_NoRecordsIsUnavailable(t *testing.T) {
	client := NewMockRecordClient(0)
	src := NewHealthRegistry("health-1", client)

	result, err := src.Verify(context.Background(), sourceRef(), presentedClaims())
	require.NoError(t, err)

	assert.Equal(t, models.WalletUnavailable, result.Status)
	assert.Zero(t, result.Confidence)
	assert.Empty(t, result.MatchedClaims)
}

func TestAdapter_OutageIsAdapterError(t *testing.T) {
	client := NewMockRecordClient(0)
	client.Fail = errors.New("connection refused")
	src := NewPassStore("pass-1", client)

	_, err := src.Verify(context.Background(), sourceRef(), presentedClaims())
	require.Error(t, err)
	assert.Equal(t, wallet.ErrorOutage, wallet.CategoryOf(err))
}

func TestAdapter_TimeoutIsAdapterError(t *testing.T) {
	client := NewMockRecordClient(50 * time.Millisecond)
	client.Enroll(testRef, map[models.ClaimType]string{models.ClaimFullName: "Ada Example"})
	src := NewPassStore("pass-1", client)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	_, err := src.Verify(ctx, sourceRef(), presentedClaims())
	require.Error(t, err)
	assert.Equal(t, wallet.ErrorTimeout, wallet.CategoryOf(err))
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	reg := wallet.NewRegistry()
	client := NewMockRecordClient(0)

	require.NoError(t, reg.Register(NewPassStore("pass-1", client)))
	assert.Error(t, reg.Register(NewPassStore("pass-1", client)))

	src, ok := reg.Get("pass-1")
	require.True(t, ok)
	assert.Equal(t, models.SourcePassStore, src.Kind())
	assert.Len(t, reg.ListByKind(models.SourcePassStore), 1)
	assert.Empty(t, reg.ListByKind(models.SourceBankID))
}
