// Package models holds the verification domain types: codes, claims, sessions
// and results. Types here are pure data plus invariant-enforcing methods; all
// I/O lives in stores and services.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceKind is the closed set of credential source variants. Adding a new
// source type means adding a constant here and an adapter implementing
// wallet.Source for it; there is no runtime string dispatch.
type SourceKind string

const (
	SourcePassStore      SourceKind = "pass_store"
	SourceDataVault      SourceKind = "data_vault"
	SourceBankID         SourceKind = "bank_id"
	SourceHealthRegistry SourceKind = "health_registry"
)

// KnownSourceKinds enumerates every valid SourceKind.
var KnownSourceKinds = []SourceKind{SourcePassStore, SourceDataVault, SourceBankID, SourceHealthRegistry}

// Valid reports whether k is one of the closed variants.
func (k SourceKind) Valid() bool {
	switch k {
	case SourcePassStore, SourceDataVault, SourceBankID, SourceHealthRegistry:
		return true
	}
	return false
}

// SourceRef points a code at one credential source. RefHash is a
// non-reversible reference (SHA-256 over owner, source and a salt) so the
// payload never carries raw credential identifiers.
type SourceRef struct {
	Kind     SourceKind `json:"kind"`
	SourceID string     `json:"source_id"`
	RefHash  string     `json:"ref_hash"`
}

// ClaimType identifies an atomic identity assertion.
type ClaimType string

const (
	ClaimFullName    ClaimType = "full_name"
	ClaimOwnerID     ClaimType = "owner_id"
	ClaimDateOfBirth ClaimType = "date_of_birth"
	ClaimNationalID  ClaimType = "national_id"
)

// ConfidenceTier orders claim trust levels. Tiers only ever increase for a
// claim within one session; Upgrade enforces that.
type ConfidenceTier int

const (
	TierUnverified ConfidenceTier = iota
	TierLow
	TierMedium
	TierHigh
	TierVerified
)

var tierNames = map[ConfidenceTier]string{
	TierUnverified: "unverified",
	TierLow:        "low",
	TierMedium:     "medium",
	TierHigh:       "high",
	TierVerified:   "verified",
}

func (t ConfidenceTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unverified"
}

// IdentityClaim is one assertion about the owner plus its corroboration state.
type IdentityClaim struct {
	Type         ClaimType      `json:"type"`
	Value        string         `json:"value"`
	Sources      []string       `json:"sources,omitempty"`
	Tier         ConfidenceTier `json:"tier"`
	LastVerified time.Time      `json:"last_verified"`
}

// Upgrade raises the claim tier and records the corroborating source.
// Downgrades are silently ignored; claims are never lowered mid-session.
func (c *IdentityClaim) Upgrade(tier ConfidenceTier, sourceID string, now time.Time) {
	if tier > c.Tier {
		c.Tier = tier
	}
	for _, s := range c.Sources {
		if s == sourceID {
			return
		}
	}
	c.Sources = append(c.Sources, sourceID)
	c.LastVerified = now
}

// RequiredVerification is one weighted rule the verifier expects satisfied.
type RequiredVerification struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Weight   int    `json:"weight"`
}

// CodePayload is the signed body of a verification code. The signature and
// checksum are computed over its canonical JSON encoding, so field order and
// types here are part of the wire contract.
type CodePayload struct {
	OwnerID  string                 `json:"owner_id"`
	Purpose  string                 `json:"purpose"`
	Claims   []IdentityClaim        `json:"claims"`
	Sources  []SourceRef            `json:"sources"`
	Rules    []RequiredVerification `json:"rules"`
	IssuedAt time.Time              `json:"issued_at"`
	Nonce    string                 `json:"nonce"`
}

// CodeStatus is the lifecycle state of a verification code.
type CodeStatus string

const (
	CodeActive  CodeStatus = "active"
	CodeUsed    CodeStatus = "used"
	CodeExpired CodeStatus = "expired"
	CodeRevoked CodeStatus = "revoked"
)

// VerificationCode binds an owner to a claim set, allowed credential sources
// and an expiry/usage policy, authenticated by a MAC over the payload.
type VerificationCode struct {
	ID         uuid.UUID   `json:"id"`
	OwnerID    string      `json:"owner_id"`
	Purpose    string      `json:"purpose"`
	Payload    CodePayload `json:"payload"`
	ExpiresAt  time.Time   `json:"expires_at"`
	UsageCount int         `json:"usage_count"`
	UsageLimit int         `json:"usage_limit"`
	Status     CodeStatus  `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	Signature  string      `json:"signature"`
	Checksum   string      `json:"checksum"`
}

// IsExpired reports whether the code's expiry has passed at now.
func (c *VerificationCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// UsageExhausted reports whether the usage counter reached the limit.
func (c *VerificationCode) UsageExhausted() bool {
	return c.UsageCount >= c.UsageLimit
}

// Transition moves the code to a new status, enforcing monotonicity:
// active is the only non-terminal state, and no reverse transition exists.
func (c *VerificationCode) Transition(to CodeStatus) error {
	if c.Status == to {
		return nil
	}
	if c.Status != CodeActive {
		return fmt.Errorf("code %s is %s, cannot become %s", c.ID, c.Status, to)
	}
	c.Status = to
	return nil
}

// ConsumeUsage increments the usage counter, marking the code used when the
// budget is spent. Callers must hold the store's per-code lock.
func (c *VerificationCode) ConsumeUsage() error {
	if c.Status != CodeActive {
		return fmt.Errorf("code %s is %s, not active", c.ID, c.Status)
	}
	if c.UsageExhausted() {
		return fmt.Errorf("code %s usage exhausted (%d/%d)", c.ID, c.UsageCount, c.UsageLimit)
	}
	c.UsageCount++
	if c.UsageExhausted() {
		c.Status = CodeUsed
	}
	return nil
}

// FlagSeverity grades a security flag.
type FlagSeverity string

const (
	SeverityLow    FlagSeverity = "low"
	SeverityMedium FlagSeverity = "medium"
	SeverityHigh   FlagSeverity = "high"
)

// FlagType names the anomaly classes raised during validation and finalization.
type FlagType string

const (
	FlagSignatureMismatch   FlagType = "signature_mismatch"
	FlagChecksumMismatch    FlagType = "checksum_mismatch"
	FlagEnvelopeMismatch    FlagType = "envelope_mismatch"
	FlagVerificationAnomaly FlagType = "verification_anomaly"
)

// SecurityFlag is a structured anomaly record attached to a validation or
// session outcome.
type SecurityFlag struct {
	Type     FlagType     `json:"type"`
	Severity FlagSeverity `json:"severity"`
	Message  string       `json:"message"`
	RaisedAt time.Time    `json:"raised_at"`
}

// Action is the validator's recommendation to the presenting operator.
type Action string

const (
	ActionProceed      Action = "proceed"
	ActionManualReview Action = "manual_review"
	ActionReject       Action = "reject"
)

// ValidationResult is the outcome of presenting a code.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Code   *VerificationCode `json:"-"`
	Flags  []SecurityFlag    `json:"security_flags,omitempty"`
	Action Action            `json:"recommended_action"`
	Reason string            `json:"reason,omitempty"`
}

// CodeEnvelope is the wire form handed to the requester and presented back by
// a verifier: the payload plus the fields needed to authenticate it.
type CodeEnvelope struct {
	CodeID    uuid.UUID   `json:"code_id"`
	OwnerID   string      `json:"owner_id"`
	IssuedAt  time.Time   `json:"issued_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	Payload   CodePayload `json:"payload"`
	Signature string      `json:"signature"`
	Checksum  string      `json:"checksum"`
}

// Envelope renders the code into its wire form.
func (c *VerificationCode) Envelope() CodeEnvelope {
	return CodeEnvelope{
		CodeID:    c.ID,
		OwnerID:   c.OwnerID,
		IssuedAt:  c.Payload.IssuedAt,
		ExpiresAt: c.ExpiresAt,
		Payload:   c.Payload,
		Signature: c.Signature,
		Checksum:  c.Checksum,
	}
}
