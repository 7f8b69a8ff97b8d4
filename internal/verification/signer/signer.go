// Package signer computes and verifies the authenticity signature and
// corruption checksum carried by verification codes. The signature is an
// HMAC-SHA256 over the canonical JSON encoding of the payload; the checksum
// is a plain SHA-256 over the same bytes. Both are deterministic, so the
// validator can recompute them from a presented payload without state.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"verigate/internal/verification/models"
)

// Signer holds the MAC secret. The same secret must be shared by issuer and
// validator; rotating it invalidates all outstanding codes.
type Signer struct {
	secret []byte
}

// New constructs a Signer. The secret must be non-empty.
func New(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is required")
	}
	return &Signer{secret: secret}, nil
}

// canonical renders the payload into its canonical byte form. encoding/json
// emits struct fields in declaration order, which fixes the byte layout.
func canonical(payload models.CodePayload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Sign returns the hex signature and checksum for a payload.
func (s *Signer) Sign(payload models.CodePayload) (signature, checksum string, err error) {
	data, err := canonical(payload)
	if err != nil {
		return "", "", err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(mac.Sum(nil)), hex.EncodeToString(sum[:]), nil
}

// Verify recomputes both values from the payload and compares them against
// the presented ones in constant time. It reports each mismatch separately so
// the validator can grade severities.
func (s *Signer) Verify(payload models.CodePayload, signature, checksum string) (sigOK, sumOK bool, err error) {
	wantSig, wantSum, err := s.Sign(payload)
	if err != nil {
		return false, false, err
	}
	sigOK = hmac.Equal([]byte(wantSig), []byte(signature))
	sumOK = hmac.Equal([]byte(wantSum), []byte(checksum))
	return sigOK, sumOK, nil
}

// RefHash derives the non-reversible reference hash embedded in a SourceRef.
// It binds owner and source without exposing either to the wallet payload.
func (s *Signer) RefHash(ownerID, sourceID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("ref:" + ownerID + ":" + sourceID))
	return hex.EncodeToString(mac.Sum(nil))
}
