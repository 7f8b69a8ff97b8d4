package orchestrator

import (
	"slices"
	"sort"
	"time"

	"verigate/internal/verification/models"
)

// Permission types present in every final result. Grants flip on only for
// verified sessions; the entries themselves always exist.
const (
	PermissionFacilityAccess = "facility_access"
	PermissionServiceAccess  = "service_access"
)

// ReconcileClaims deduplicates corroborated claims across sources by claim
// type and value, keeping the occurrence with the highest confidence tier and
// merging the corroborating source lists. Output order is deterministic.
func ReconcileClaims(results []models.WalletVerificationResult) []models.IdentityClaim {
	type key struct {
		claimType models.ClaimType
		value     string
	}
	merged := make(map[key]models.IdentityClaim)
	for _, result := range results {
		for _, claim := range result.MatchedClaims {
			k := key{claim.Type, claim.Value}
			existing, seen := merged[k]
			if !seen {
				c := claim
				c.Sources = append([]string(nil), claim.Sources...)
				merged[k] = c
				continue
			}
			if claim.Tier > existing.Tier {
				existing.Tier = claim.Tier
			}
			if claim.LastVerified.After(existing.LastVerified) {
				existing.LastVerified = claim.LastVerified
			}
			for _, src := range claim.Sources {
				if !slices.Contains(existing.Sources, src) {
					existing.Sources = append(existing.Sources, src)
				}
			}
			merged[k] = existing
		}
	}

	claims := make([]models.IdentityClaim, 0, len(merged))
	for _, claim := range merged {
		claims = append(claims, claim)
	}
	sort.Slice(claims, func(i, j int) bool {
		if claims[i].Type != claims[j].Type {
			return claims[i].Type < claims[j].Type
		}
		return claims[i].Value < claims[j].Value
	})
	return claims
}

// BuildResult reduces the collected wallet results into the final verdict.
// The reduction is a pure function of the result set, so it is independent of
// the order checks completed in.
func BuildResult(s *models.VerificationSession, now time.Time) *models.FinalVerificationResult {
	var (
		sum         int
		succeeded   int
		failedCount int
	)
	for _, result := range s.WalletResults {
		// failed and unavailable sources contribute zero and pull the
		// average down; more failing sources mean less trust.
		sum += result.Confidence
		switch result.Status {
		case models.WalletSuccess:
			succeeded++
		case models.WalletFailed:
			failedCount++
		}
	}

	aggregate := 0
	if len(s.WalletResults) > 0 {
		aggregate = sum / len(s.WalletResults)
	}

	verified := succeeded > 0
	overall := models.OverallFailed
	if verified {
		overall = models.OverallVerified
	}

	claims := ReconcileClaims(s.WalletResults)
	fullName := ""
	for _, claim := range claims {
		if claim.Type == models.ClaimFullName {
			fullName = claim.Value
			break
		}
	}

	var sources []string
	for _, result := range s.WalletResults {
		if result.Status == models.WalletSuccess || result.Status == models.WalletPartial {
			sources = append(sources, result.SourceID)
		}
	}

	var flags []models.SecurityFlag
	var recommendations []string
	if failedCount > 1 {
		flags = append(flags, models.SecurityFlag{
			Type:     models.FlagVerificationAnomaly,
			Severity: models.SeverityMedium,
			Message:  "multiple credential sources explicitly failed",
			RaisedAt: now,
		})
		recommendations = append(recommendations, "manual review recommended")
	} else if failedCount == 1 {
		recommendations = append(recommendations, "request additional verification from an independent source")
	}

	final := &models.FinalVerificationResult{
		Status:     overall,
		Confidence: aggregate,
		Sources:    sources,
		Identity: models.VerifiedIdentity{
			FullName:      fullName,
			OwnerID:       s.OwnerID,
			Level:         models.LevelFor(aggregate),
			Sources:       sources,
			IdentityScore: aggregate,
		},
		Permissions: []models.AccessPermission{
			{Type: PermissionFacilityAccess, Granted: verified},
			{Type: PermissionServiceAccess, Granted: verified},
		},
		Recommendations: recommendations,
		Flags:           flags,
		CompletedAt:     now,
	}
	if !verified {
		denyAll(final)
	}
	return final
}

// denyAll forces every permission entry to granted=false.
func denyAll(final *models.FinalVerificationResult) {
	for i := range final.Permissions {
		final.Permissions[i].Granted = false
	}
}
