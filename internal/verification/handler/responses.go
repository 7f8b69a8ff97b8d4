package handler

import (
	"time"

	"github.com/google/uuid"

	"verigate/internal/verification/models"
)

// CodeResponse is the issuance reply: the wire envelope the owner presents,
// plus the policy fields the requesting system displays.
type CodeResponse struct {
	CodeID     uuid.UUID           `json:"code_id"`
	OwnerID    string              `json:"owner_id"`
	Purpose    string              `json:"purpose"`
	Status     models.CodeStatus   `json:"status"`
	ExpiresAt  time.Time           `json:"expires_at"`
	UsageLimit int                 `json:"usage_limit"`
	Envelope   models.CodeEnvelope `json:"envelope"`
}

func newCodeResponse(code *models.VerificationCode) CodeResponse {
	return CodeResponse{
		CodeID:     code.ID,
		OwnerID:    code.OwnerID,
		Purpose:    code.Purpose,
		Status:     code.Status,
		ExpiresAt:  code.ExpiresAt,
		UsageLimit: code.UsageLimit,
		Envelope:   code.Envelope(),
	}
}

// ValidationResponse reports a validation outcome without exposing the stored
// code.
type ValidationResponse struct {
	Valid  bool                  `json:"valid"`
	Action models.Action         `json:"recommended_action"`
	Reason string                `json:"reason,omitempty"`
	Flags  []models.SecurityFlag `json:"security_flags,omitempty"`
}

func newValidationResponse(result *models.ValidationResult) ValidationResponse {
	return ValidationResponse{
		Valid:  result.Valid,
		Action: result.Action,
		Reason: result.Reason,
		Flags:  result.Flags,
	}
}

// ScanResponse is the combined validate-and-start reply for scanner clients.
// Session is nil when validation rejected the code.
type ScanResponse struct {
	Validation ValidationResponse          `json:"validation"`
	Session    *models.VerificationSession `json:"session,omitempty"`
}
