// Package issuer mints signed verification codes for enrolled owners. The
// issuer is the only writer of new codes; validation and sessions treat the
// stored code as authoritative.
package issuer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"verigate/internal/directory"
	"verigate/internal/verification/models"
	"verigate/internal/verification/signer"
	"verigate/internal/verification/store/code"
	"verigate/pkg/requestcontext"
)

const (
	DefaultTTL        = 30 * time.Minute
	DefaultUsageLimit = 1
)

// DefaultRules is the required-verification rule set applied when the caller
// does not override it.
var DefaultRules = []models.RequiredVerification{
	{Type: "identity_match", Required: true, Weight: 60},
	{Type: "source_coverage", Required: false, Weight: 40},
}

// Options tunes one issuance. Zero values fall back to the defaults.
type Options struct {
	TTL        time.Duration
	UsageLimit int
	Rules      []models.RequiredVerification
	Location   string
}

// Issuer builds, signs and persists verification codes.
type Issuer struct {
	dir    directory.Directory
	signer *signer.Signer
	codes  code.Store

	defaultTTL        time.Duration
	defaultUsageLimit int
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithDefaultTTL overrides the TTL applied when issuance options omit one.
func WithDefaultTTL(d time.Duration) Option {
	return func(i *Issuer) { i.defaultTTL = d }
}

// WithDefaultUsageLimit overrides the usage limit applied when issuance
// options omit one.
func WithDefaultUsageLimit(n int) Option {
	return func(i *Issuer) { i.defaultUsageLimit = n }
}

// New constructs an Issuer.
func New(dir directory.Directory, s *signer.Signer, codes code.Store, opts ...Option) *Issuer {
	i := &Issuer{
		dir:               dir,
		signer:            s,
		codes:             codes,
		defaultTTL:        DefaultTTL,
		defaultUsageLimit: DefaultUsageLimit,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue mints a code for an enrolled owner. The claim set is initialized at
// the verified tier because it is sourced from the profile of record; wallet
// verification later re-corroborates it per source.
func (i *Issuer) Issue(ctx context.Context, ownerID, purpose string, opts Options) (*models.VerificationCode, error) {
	profile, err := i.dir.Lookup(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("lookup owner: %w", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = i.defaultTTL
	}
	usageLimit := opts.UsageLimit
	if usageLimit <= 0 {
		usageLimit = i.defaultUsageLimit
	}
	rules := opts.Rules
	if len(rules) == 0 {
		rules = append([]models.RequiredVerification(nil), DefaultRules...)
	}

	now := requestcontext.Now(ctx)

	claims := make([]models.IdentityClaim, 0, 4)
	for claimType, value := range profile.Claims() {
		if value == "" {
			continue
		}
		claims = append(claims, models.IdentityClaim{
			Type:         claimType,
			Value:        value,
			Tier:         models.TierVerified,
			LastVerified: now,
		})
	}

	sources := make([]models.SourceRef, 0, len(profile.Enrollments))
	for _, enrollment := range profile.Enrollments {
		sources = append(sources, models.SourceRef{
			Kind:     enrollment.Kind,
			SourceID: enrollment.SourceID,
			RefHash:  i.signer.RefHash(ownerID, enrollment.SourceID),
		})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("owner %s has no enrolled credential sources", ownerID)
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}

	payload := models.CodePayload{
		OwnerID:  ownerID,
		Purpose:  purpose,
		Claims:   claims,
		Sources:  sources,
		Rules:    rules,
		IssuedAt: now,
		Nonce:    nonce,
	}

	signature, checksum, err := i.signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}

	vc := &models.VerificationCode{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Purpose:    purpose,
		Payload:    payload,
		ExpiresAt:  now.Add(ttl),
		UsageLimit: usageLimit,
		Status:     models.CodeActive,
		CreatedAt:  now,
		Signature:  signature,
		Checksum:   checksum,
	}

	if err := i.codes.Create(ctx, vc); err != nil {
		return nil, fmt.Errorf("persist code: %w", err)
	}
	return vc, nil
}

// Revoke marks a code revoked. Already-terminal codes fail with the store's
// invalid-state error.
func (i *Issuer) Revoke(ctx context.Context, codeID uuid.UUID) error {
	return i.codes.MarkStatus(ctx, codeID, models.CodeRevoked)
}

func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
