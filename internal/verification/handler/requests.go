package handler

import (
	"time"

	"verigate/internal/verification/issuer"
	"verigate/internal/verification/models"
)

// IssueRequest asks for a new verification code.
type IssueRequest struct {
	OwnerID string       `json:"owner_id"`
	Purpose string       `json:"purpose"`
	Options IssueOptions `json:"options"`
}

// IssueOptions carries the caller's overrides; zero values use defaults.
type IssueOptions struct {
	ExpirationMinutes     int                           `json:"expiration_minutes,omitempty"`
	MaxUsages             int                           `json:"max_usages,omitempty"`
	RequiredVerifications []models.RequiredVerification `json:"required_verifications,omitempty"`
	Location              string                        `json:"location,omitempty"`
}

func (o IssueOptions) toIssuer() issuer.Options {
	return issuer.Options{
		TTL:        time.Duration(o.ExpirationMinutes) * time.Minute,
		UsageLimit: o.MaxUsages,
		Rules:      o.RequiredVerifications,
		Location:   o.Location,
	}
}

// StartRequest starts a session from a known code.
type StartRequest struct {
	CodeID   string `json:"code_id"`
	Location string `json:"location,omitempty"`
}

// CancelRequest aborts a session.
type CancelRequest struct {
	Reason string `json:"reason"`
}
