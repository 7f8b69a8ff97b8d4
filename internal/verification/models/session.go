package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepKind names the fixed verification sequence. Steps always execute in
// this order; the indices are part of the session contract.
type StepKind string

const (
	StepCodeConfirmed      StepKind = "code_confirmed"
	StepWalletVerification StepKind = "wallet_verification"
	StepReconciliation     StepKind = "identity_reconciliation"
	StepScreening          StepKind = "screening"
	StepAccessGrant        StepKind = "access_grant"
)

// StepSequence is the canonical ordered step list for every session.
var StepSequence = []StepKind{
	StepCodeConfirmed,
	StepWalletVerification,
	StepReconciliation,
	StepScreening,
	StepAccessGrant,
}

// StepStatus is the state of one step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// VerificationStep is one entry in a session's fixed sequence.
type VerificationStep struct {
	Kind        StepKind   `json:"kind"`
	Status      StepStatus `json:"status"`
	Message     string     `json:"message,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SessionStatus is the overall lifecycle state of a verification session.
type SessionStatus string

const (
	SessionScanned          SessionStatus = "scanned"
	SessionVerifying        SessionStatus = "verifying"
	SessionIdentityVerified SessionStatus = "identity_verified"
	SessionScreening        SessionStatus = "screening"
	SessionCompleted        SessionStatus = "completed"
	SessionFailed           SessionStatus = "failed"
	SessionCancelled        SessionStatus = "cancelled"
)

// Terminal reports whether the status permits no further mutation.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// allowed session transitions; terminal states have no successors.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionScanned:          {SessionVerifying, SessionCancelled},
	SessionVerifying:        {SessionIdentityVerified, SessionFailed, SessionCancelled},
	SessionIdentityVerified: {SessionScreening, SessionFailed, SessionCancelled},
	SessionScreening:        {SessionCompleted, SessionFailed, SessionCancelled},
}

// WalletResultStatus grades one source's verification outcome. Unavailable is
// distinct from failed: the source held no data for the owner and contributes
// zero confidence without counting as an error.
type WalletResultStatus string

const (
	WalletSuccess     WalletResultStatus = "success"
	WalletPartial     WalletResultStatus = "partial"
	WalletFailed      WalletResultStatus = "failed"
	WalletUnavailable WalletResultStatus = "unavailable"
)

// WalletVerificationResult is one credential source's contribution to a session.
type WalletVerificationResult struct {
	Kind          SourceKind         `json:"kind"`
	SourceID      string             `json:"source_id"`
	Status        WalletResultStatus `json:"status"`
	MatchedClaims []IdentityClaim    `json:"matched_claims,omitempty"`
	Confidence    int                `json:"confidence"`
	Elapsed       time.Duration      `json:"elapsed"`
	ErrorDetail   string             `json:"error_detail,omitempty"`
}

// VerificationLevel tiers the aggregate confidence score.
type VerificationLevel string

const (
	LevelLow     VerificationLevel = "low"
	LevelMedium  VerificationLevel = "medium"
	LevelHigh    VerificationLevel = "high"
	LevelMaximum VerificationLevel = "maximum"
)

// LevelFor maps an aggregate confidence score onto a verification level.
func LevelFor(confidence int) VerificationLevel {
	switch {
	case confidence >= 90:
		return LevelMaximum
	case confidence >= 75:
		return LevelHigh
	case confidence >= 50:
		return LevelMedium
	default:
		return LevelLow
	}
}

// OverallStatus is the final verdict of a session.
type OverallStatus string

const (
	OverallVerified OverallStatus = "verified"
	OverallFailed   OverallStatus = "failed"
)

// VerifiedIdentity summarizes who was verified and how strongly.
type VerifiedIdentity struct {
	FullName      string            `json:"full_name"`
	OwnerID       string            `json:"owner_id"`
	Level         VerificationLevel `json:"level"`
	Sources       []string          `json:"sources"`
	IdentityScore int               `json:"identity_score"`
}

// AccessPermission is one grantable capability. Entries are always present in
// the final result; Granted is false unless the session verified.
type AccessPermission struct {
	Type    string `json:"type"`
	Granted bool   `json:"granted"`
}

// FinalVerificationResult is the immutable terminal outcome of a session.
type FinalVerificationResult struct {
	Status          OverallStatus      `json:"status"`
	Confidence      int                `json:"confidence"`
	Sources         []string           `json:"sources"`
	Identity        VerifiedIdentity   `json:"identity"`
	Permissions     []AccessPermission `json:"permissions"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Flags           []SecurityFlag     `json:"security_flags,omitempty"`
	CompletedAt     time.Time          `json:"completed_at"`
}

// VerificationSession is the stateful execution of one verification attempt,
// from code presentation to terminal outcome. Sessions are mutated only
// through the session store's single-writer Update, so fields need no
// internal locking.
type VerificationSession struct {
	ID            uuid.UUID                  `json:"id"`
	OwnerID       string                     `json:"owner_id"`
	Code          VerificationCode           `json:"code"`
	Steps         []VerificationStep         `json:"steps"`
	CurrentStep   int                        `json:"current_step"`
	Status        SessionStatus              `json:"status"`
	WalletResults []WalletVerificationResult `json:"wallet_results,omitempty"`
	Final         *FinalVerificationResult   `json:"final,omitempty"`
	StartedAt     time.Time                  `json:"started_at"`
	CompletedAt   *time.Time                 `json:"completed_at,omitempty"`
	OperatorID    string                     `json:"operator_id,omitempty"`
	Location      string                     `json:"location,omitempty"`
	ScannerDevice string                     `json:"scanner_device,omitempty"`
	CancelReason  string                     `json:"cancel_reason,omitempty"`
}

// NewSession builds a session in the scanned state with the canonical step
// sequence; step 0 completes immediately because validation already happened.
func NewSession(code VerificationCode, operatorID, location, scannerDevice string, now time.Time) *VerificationSession {
	steps := make([]VerificationStep, len(StepSequence))
	for i, kind := range StepSequence {
		steps[i] = VerificationStep{Kind: kind, Status: StepPending}
	}
	steps[0].Status = StepCompleted
	steps[0].StartedAt = &now
	steps[0].CompletedAt = &now

	return &VerificationSession{
		ID:            uuid.New(),
		OwnerID:       code.OwnerID,
		Code:          code,
		Steps:         steps,
		CurrentStep:   0,
		Status:        SessionScanned,
		StartedAt:     now,
		OperatorID:    operatorID,
		Location:      location,
		ScannerDevice: scannerDevice,
	}
}

// Transition moves the session to a new status, rejecting anything the state
// machine does not allow. Terminal sessions never transition.
func (s *VerificationSession) Transition(to SessionStatus) error {
	if s.Status.Terminal() {
		return fmt.Errorf("session %s is terminal (%s)", s.ID, s.Status)
	}
	for _, allowed := range sessionTransitions[s.Status] {
		if allowed == to {
			s.Status = to
			return nil
		}
	}
	return fmt.Errorf("session %s cannot go %s -> %s", s.ID, s.Status, to)
}

// Step returns the step of the given kind; the sequence is fixed so lookups
// by kind are unambiguous.
func (s *VerificationSession) Step(kind StepKind) *VerificationStep {
	for i := range s.Steps {
		if s.Steps[i].Kind == kind {
			return &s.Steps[i]
		}
	}
	return nil
}

// BeginStep marks a step in progress and advances the cursor.
func (s *VerificationSession) BeginStep(kind StepKind, now time.Time) {
	for i := range s.Steps {
		if s.Steps[i].Kind == kind {
			s.Steps[i].Status = StepInProgress
			s.Steps[i].StartedAt = &now
			s.CurrentStep = i
			return
		}
	}
}

// FinishStep marks a step completed or failed with an optional message.
func (s *VerificationSession) FinishStep(kind StepKind, status StepStatus, message string, now time.Time) {
	for i := range s.Steps {
		if s.Steps[i].Kind == kind {
			s.Steps[i].Status = status
			s.Steps[i].Message = message
			s.Steps[i].CompletedAt = &now
			return
		}
	}
}

// WalletStepResolved reports whether the fan-out step reached a terminal step
// status, which is the precondition for Complete.
func (s *VerificationSession) WalletStepResolved() bool {
	step := s.Step(StepWalletVerification)
	return step != nil && (step.Status == StepCompleted || step.Status == StepFailed)
}
