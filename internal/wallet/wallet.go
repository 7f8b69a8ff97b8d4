// Package wallet wraps every external identity-credential system behind one
// uniform Source interface: given an identity claim set, return a per-source
// verification result. Sources share no mutable state with the orchestrator;
// Verify is a pure function of its inputs and the remote system's records.
package wallet

import (
	"context"
	"fmt"
	"time"

	"verigate/internal/verification/models"
)

// Confidence contribution per corroborated claim, capped at the maximum.
const (
	PointsPerClaim   = 25
	MaxConfidence    = 100
	successThreshold = 75
	partialThreshold = 50
)

// Source is the universal interface all credential sources implement.
type Source interface {
	// Kind returns the closed variant this source belongs to.
	Kind() models.SourceKind

	// ID returns a unique identifier for this source instance.
	ID() string

	// TrustTier is the confidence tier this source confers on claims it
	// corroborates (authoritative registries confer more than self-managed
	// vaults).
	TrustTier() models.ConfidenceTier

	// Verify checks which of the presented claims this source corroborates
	// for the referenced owner. Implementations must honor ctx cancellation.
	Verify(ctx context.Context, ref models.SourceRef, claims []models.IdentityClaim) (models.WalletVerificationResult, error)

	// Health checks if the backing system is reachable.
	Health(ctx context.Context) error
}

// Registry maintains all registered sources, keyed by source ID.
type Registry struct {
	sources map[string]Source
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source. Duplicate IDs and unknown kinds are rejected.
func (r *Registry) Register(s Source) error {
	if !s.Kind().Valid() {
		return fmt.Errorf("source %s has unknown kind %q", s.ID(), s.Kind())
	}
	if _, exists := r.sources[s.ID()]; exists {
		return fmt.Errorf("source %s already registered", s.ID())
	}
	r.sources[s.ID()] = s
	return nil
}

// Get retrieves a source by ID.
func (r *Registry) Get(id string) (Source, bool) {
	s, ok := r.sources[id]
	return s, ok
}

// ListByKind returns all sources of a given kind.
func (r *Registry) ListByKind(kind models.SourceKind) []Source {
	var result []Source
	for _, s := range r.sources {
		if s.Kind() == kind {
			result = append(result, s)
		}
	}
	return result
}

// All returns every registered source.
func (r *Registry) All() []Source {
	result := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		result = append(result, s)
	}
	return result
}

// ScoreResult builds a WalletVerificationResult from the claims a source
// corroborated: each matched claim contributes a fixed increment, capped, and
// the status thresholds follow from the resulting confidence.
func ScoreResult(kind models.SourceKind, sourceID string, matched []models.IdentityClaim, elapsed time.Duration) models.WalletVerificationResult {
	confidence := len(matched) * PointsPerClaim
	if confidence > MaxConfidence {
		confidence = MaxConfidence
	}
	status := models.WalletFailed
	switch {
	case confidence >= successThreshold:
		status = models.WalletSuccess
	case confidence >= partialThreshold:
		status = models.WalletPartial
	}
	return models.WalletVerificationResult{
		Kind:          kind,
		SourceID:      sourceID,
		Status:        status,
		MatchedClaims: matched,
		Confidence:    confidence,
		Elapsed:       elapsed,
	}
}

// UnavailableResult records that a source held no data for the owner. It
// contributes zero confidence but is not counted as an error.
func UnavailableResult(kind models.SourceKind, sourceID string, elapsed time.Duration) models.WalletVerificationResult {
	return models.WalletVerificationResult{
		Kind:     kind,
		SourceID: sourceID,
		Status:   models.WalletUnavailable,
		Elapsed:  elapsed,
	}
}

// FailedResult converts an internal source error into a failed result so one
// bad source can never abort a session.
func FailedResult(kind models.SourceKind, sourceID string, err error, elapsed time.Duration) models.WalletVerificationResult {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return models.WalletVerificationResult{
		Kind:        kind,
		SourceID:    sourceID,
		Status:      models.WalletFailed,
		Elapsed:     elapsed,
		ErrorDetail: detail,
	}
}
