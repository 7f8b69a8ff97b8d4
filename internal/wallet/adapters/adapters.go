// Package adapters provides the concrete credential source implementations.
// Every adapter wraps a RecordClient, the narrow read surface of one external
// credential system, and turns its records into claim corroborations. The
// specific wire protocols stay behind the client interface.
package adapters

import (
	"context"
	"errors"
	"strings"
	"time"

	"verigate/internal/verification/models"
	"verigate/internal/wallet"
	"verigate/pkg/platform/sentinel"
)

// RecordClient is the per-system read interface. Implementations resolve the
// opaque credential reference the owner was enrolled with and return the claim
// values the system holds, or sentinel.ErrNotFound when it has no data for
// that reference at all.
type RecordClient interface {
	Records(ctx context.Context, credentialRef string) (map[models.ClaimType]string, error)
	Ping(ctx context.Context) error
}

// adapter is the shared Source implementation; the four source kinds differ
// only in kind, identity and the trust tier they confer.
type adapter struct {
	kind   models.SourceKind
	id     string
	tier   models.ConfidenceTier
	client RecordClient
}

// NewPassStore wraps a digital pass store (authoritative government wallet).
func NewPassStore(id string, client RecordClient) wallet.Source {
	return &adapter{kind: models.SourcePassStore, id: id, tier: models.TierVerified, client: client}
}

// NewDataVault wraps a self-managed personal data vault.
func NewDataVault(id string, client RecordClient) wallet.Source {
	return &adapter{kind: models.SourceDataVault, id: id, tier: models.TierHigh, client: client}
}

// NewBankID wraps a bank-issued identity service.
func NewBankID(id string, client RecordClient) wallet.Source {
	return &adapter{kind: models.SourceBankID, id: id, tier: models.TierVerified, client: client}
}

// NewHealthRegistry wraps a health registry credential source.
func NewHealthRegistry(id string, client RecordClient) wallet.Source {
	return &adapter{kind: models.SourceHealthRegistry, id: id, tier: models.TierHigh, client: client}
}

func (a *adapter) Kind() models.SourceKind          { return a.kind }
func (a *adapter) ID() string                       { return a.id }
func (a *adapter) TrustTier() models.ConfidenceTier { return a.tier }
func (a *adapter) Health(ctx context.Context) error { return a.client.Ping(ctx) }

// Verify fetches the source's records for the owner and corroborates each
// presented claim against them. No data at all yields an unavailable result;
// infrastructure failures surface as AdapterErrors for the orchestrator to
// convert.
func (a *adapter) Verify(ctx context.Context, ref models.SourceRef, claims []models.IdentityClaim) (models.WalletVerificationResult, error) {
	start := time.Now()

	records, err := a.client.Records(ctx, ref.RefHash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return wallet.UnavailableResult(a.kind, a.id, time.Since(start)), nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.WalletVerificationResult{}, wallet.NewAdapterError(wallet.ErrorTimeout, a.id, "record lookup timed out", err)
		}
		return models.WalletVerificationResult{}, wallet.NewAdapterError(wallet.ErrorOutage, a.id, "record lookup failed", err)
	}

	now := time.Now()
	var matched []models.IdentityClaim
	for _, claim := range claims {
		value, held := records[claim.Type]
		if !held || !claimMatches(claim.Value, value) {
			continue
		}
		corroborated := claim
		corroborated.Sources = nil
		corroborated.Tier = models.TierUnverified
		corroborated.Upgrade(a.tier, a.id, now)
		matched = append(matched, corroborated)
	}

	return wallet.ScoreResult(a.kind, a.id, matched, time.Since(start)), nil
}

// claimMatches compares claim values leniently: identity systems disagree on
// case and surrounding whitespace but not on content.
func claimMatches(presented, held string) bool {
	return strings.EqualFold(strings.TrimSpace(presented), strings.TrimSpace(held))
}
