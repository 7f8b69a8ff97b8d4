// Package validator authenticates presented verification codes. Hard failures
// (malformed, unknown, expired, spent, revoked) reject immediately; integrity
// mismatches become security flags that downgrade to manual review, so a
// degraded signing path never takes verification fully offline.
package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"verigate/internal/verification/models"
	"verigate/internal/verification/signer"
	"verigate/internal/verification/store/code"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/requestcontext"
)

// Validator checks presented codes against the store of record.
type Validator struct {
	signer *signer.Signer
	codes  code.Store
}

// New constructs a Validator.
func New(s *signer.Signer, codes code.Store) *Validator {
	return &Validator{signer: s, codes: codes}
}

// Validate parses and authenticates a presented envelope. The returned
// result's Code field is the stored code, not the wire copy, so the caller's
// usage accounting operates on authoritative state. The error return is
// reserved for infrastructure failures; domain rejections come back as an
// invalid result with a reason.
func (v *Validator) Validate(ctx context.Context, raw []byte) (*models.ValidationResult, error) {
	now := requestcontext.Now(ctx)

	var envelope models.CodeEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return reject("malformed payload"), nil
	}

	stored, err := v.codes.Find(ctx, envelope.CodeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return reject("code not found"), nil
		}
		return nil, fmt.Errorf("find code: %w", err)
	}

	switch stored.Status {
	case models.CodeRevoked:
		return reject("code has been revoked"), nil
	case models.CodeUsed:
		return reject("code usage exhausted"), nil
	case models.CodeExpired:
		return reject("code has expired"), nil
	}

	if stored.IsExpired(now) {
		if err := v.codes.MarkStatus(ctx, stored.ID, models.CodeExpired); err != nil && !errors.Is(err, sentinel.ErrInvalidState) {
			return nil, fmt.Errorf("mark code expired: %w", err)
		}
		stored.Status = models.CodeExpired
		return reject("code has expired"), nil
	}

	if stored.UsageExhausted() {
		if err := v.codes.MarkStatus(ctx, stored.ID, models.CodeUsed); err != nil && !errors.Is(err, sentinel.ErrInvalidState) {
			return nil, fmt.Errorf("mark code used: %w", err)
		}
		stored.Status = models.CodeUsed
		return reject("code usage exhausted"), nil
	}

	var flags []models.SecurityFlag

	sigOK, sumOK, err := v.signer.Verify(envelope.Payload, envelope.Signature, envelope.Checksum)
	if err != nil {
		return nil, fmt.Errorf("verify payload: %w", err)
	}
	if !sigOK {
		flags = append(flags, models.SecurityFlag{
			Type:     models.FlagSignatureMismatch,
			Severity: models.SeverityHigh,
			Message:  "presented signature does not match payload",
			RaisedAt: now,
		})
	}
	if !sumOK {
		flags = append(flags, models.SecurityFlag{
			Type:     models.FlagChecksumMismatch,
			Severity: models.SeverityMedium,
			Message:  "presented checksum does not match payload",
			RaisedAt: now,
		})
	}

	// The envelope repeats owner and issuance time outside the signed payload
	// for scanner display; a disagreement with the stored code means the
	// envelope was reassembled.
	if envelope.OwnerID != stored.OwnerID || !envelope.IssuedAt.Equal(stored.Payload.IssuedAt) {
		flags = append(flags, models.SecurityFlag{
			Type:     models.FlagEnvelopeMismatch,
			Severity: models.SeverityMedium,
			Message:  "envelope metadata disagrees with stored code",
			RaisedAt: now,
		})
	}

	action := models.ActionProceed
	reason := ""
	if len(flags) > 0 {
		action = models.ActionManualReview
		reason = "integrity flags raised"
	}

	return &models.ValidationResult{
		Valid:  true,
		Code:   stored,
		Flags:  flags,
		Action: action,
		Reason: reason,
	}, nil
}

func reject(reason string) *models.ValidationResult {
	return &models.ValidationResult{
		Valid:  false,
		Action: models.ActionReject,
		Reason: reason,
	}
}
