// Package service is the verification facade: it composes the issuer,
// validator and orchestrator, owns usage accounting on session start, and
// attaches the observability side effects (logs, metrics, events) the inner
// packages stay free of.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Archiver,Emitter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"verigate/internal/events"
	"verigate/internal/verification/issuer"
	"verigate/internal/verification/metrics"
	"verigate/internal/verification/models"
	"verigate/internal/verification/orchestrator"
	"verigate/internal/verification/store/code"
	"verigate/internal/verification/store/session"
	"verigate/internal/verification/validator"
	"verigate/pkg/domainerrors"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/requestcontext"
)

// Archiver persists terminal sessions durably. Append must be idempotent per
// session.
type Archiver interface {
	Append(ctx context.Context, session *models.VerificationSession) error
}

// Emitter publishes lifecycle events. Emission failures are logged, never
// propagated; events are observational.
type Emitter interface {
	Emit(ctx context.Context, event events.Event) error
}

// Service exposes the verification operations to transport layers.
type Service struct {
	issuer    *issuer.Issuer
	validator *validator.Validator
	orch      *orchestrator.Orchestrator
	codes     code.Store
	sessions  session.Store
	archive   Archiver
	emitter   Emitter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics attaches verification metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithArchiver attaches a durable session archive.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archive = a }
}

// WithEmitter attaches a lifecycle event publisher.
func WithEmitter(e Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// New constructs a Service.
func New(iss *issuer.Issuer, val *validator.Validator, orch *orchestrator.Orchestrator, codes code.Store, sessions session.Store, opts ...Option) *Service {
	s := &Service{
		issuer:    iss,
		validator: val,
		orch:      orch,
		codes:     codes,
		sessions:  sessions,
		logger:    slog.Default(),
		tracer:    otel.Tracer("verigate/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue mints a verification code for an enrolled owner.
func (s *Service) Issue(ctx context.Context, ownerID, purpose string, opts issuer.Options) (*models.VerificationCode, error) {
	ctx, span := s.tracer.Start(ctx, "service.Issue",
		trace.WithAttributes(attribute.String("owner.id", ownerID)))
	defer span.End()

	vc, err := s.issuer.Issue(ctx, ownerID, purpose, opts)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.Wrap(domainerrors.CodeNotFound, "owner is not enrolled", err)
		}
		return nil, domainerrors.Wrap(domainerrors.CodeInternal, "issue code", err)
	}

	s.metrics.IncrementCodesIssued(purpose)
	s.emit(ctx, events.Event{
		Type:    events.EventCodeIssued,
		OwnerID: vc.OwnerID,
		CodeID:  vc.ID.String(),
		Detail:  map[string]any{"purpose": purpose, "expires_at": vc.ExpiresAt},
	})
	s.logger.InfoContext(ctx, "code issued",
		"code_id", vc.ID, "owner_id", vc.OwnerID, "purpose", purpose, "expires_at", vc.ExpiresAt)
	return vc, nil
}

// Revoke invalidates an active code.
func (s *Service) Revoke(ctx context.Context, codeID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "service.Revoke",
		trace.WithAttributes(attribute.String("code.id", codeID.String())))
	defer span.End()

	if err := s.issuer.Revoke(ctx, codeID); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return domainerrors.Wrap(domainerrors.CodeNotFound, "code not found", err)
		case errors.Is(err, sentinel.ErrInvalidState):
			return domainerrors.Wrap(domainerrors.CodeInvalidState, "code is not active", err)
		default:
			return domainerrors.Wrap(domainerrors.CodeInternal, "revoke code", err)
		}
	}

	s.emit(ctx, events.Event{Type: events.EventCodeRevoked, CodeID: codeID.String()})
	s.logger.InfoContext(ctx, "code revoked", "code_id", codeID)
	return nil
}

// Validate authenticates a presented envelope without spending usage.
func (s *Service) Validate(ctx context.Context, raw []byte) (*models.ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.Validate")
	defer span.End()

	result, err := s.validator.Validate(ctx, raw)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeInternal, "validate code", err)
	}

	s.metrics.IncrementValidation(string(result.Action))
	for _, flag := range result.Flags {
		s.metrics.IncrementSecurityFlag(string(flag.Type))
		s.emit(ctx, events.Event{
			Type:   events.EventSecurityFlag,
			CodeID: codeID(result),
			Detail: map[string]any{"flag": flag.Type, "severity": flag.Severity, "message": flag.Message},
		})
	}
	s.emit(ctx, events.Event{
		Type:   events.EventCodeValidated,
		CodeID: codeID(result),
		Detail: map[string]any{"valid": result.Valid, "action": result.Action, "reason": result.Reason},
	})
	s.logger.InfoContext(ctx, "code validated",
		"valid", result.Valid, "action", result.Action, "flags", len(result.Flags))
	return result, nil
}

// Start spends one usage of a code and runs the credential-source fan-out
// synchronously. The usage spend is atomic per code, so concurrent starts of
// the same single-use code admit exactly one session.
func (s *Service) Start(ctx context.Context, codeID uuid.UUID, location string) (*models.VerificationSession, error) {
	ctx, span := s.tracer.Start(ctx, "service.Start",
		trace.WithAttributes(attribute.String("code.id", codeID.String())))
	defer span.End()

	now := requestcontext.Now(ctx)
	started := time.Now()

	consumed, err := s.codes.Consume(ctx, codeID, now)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, domainerrors.Wrap(domainerrors.CodeNotFound, "code not found", err)
		case errors.Is(err, sentinel.ErrExpired):
			return nil, domainerrors.Wrap(domainerrors.CodeExpired, "code has expired", err)
		case errors.Is(err, sentinel.ErrUsageExhausted):
			return nil, domainerrors.Wrap(domainerrors.CodeUsageExhausted, "code usage exhausted", err)
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, domainerrors.Wrap(domainerrors.CodeInvalidState, "code is not active", err)
		default:
			return nil, domainerrors.Wrap(domainerrors.CodeInternal, "consume code", err)
		}
	}

	sess := models.NewSession(*consumed, requestcontext.OperatorID(ctx), location, requestcontext.ScannerDevice(ctx), now)
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeInternal, "create session", err)
	}

	s.emit(ctx, events.Event{
		Type:      events.EventSessionStarted,
		OwnerID:   sess.OwnerID,
		SessionID: sess.ID.String(),
		CodeID:    codeID.String(),
		Detail:    map[string]any{"operator_id": sess.OperatorID, "location": location},
	})
	s.logger.InfoContext(ctx, "session started",
		"session_id", sess.ID, "owner_id", sess.OwnerID, "operator_id", sess.OperatorID)

	updated, err := s.orch.RunChecks(ctx, sess.ID)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeInternal, "run credential checks", err)
	}

	// Zero successes finalize the session right here; cancellation side
	// effects belong to Cancel.
	if updated.Status == models.SessionFailed {
		s.recordTerminal(ctx, updated, time.Since(started))
	}
	return updated, nil
}

// Complete finalizes a session whose wallet step resolved and returns the
// immutable result. Completing an already-terminal session returns the cached
// result unchanged.
func (s *Service) Complete(ctx context.Context, sessionID uuid.UUID) (*models.FinalVerificationResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.Complete",
		trace.WithAttributes(attribute.String("session.id", sessionID.String())))
	defer span.End()

	before, err := s.sessions.Find(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.Wrap(domainerrors.CodeNotFound, "session not found", err)
		}
		return nil, domainerrors.Wrap(domainerrors.CodeInternal, "find session", err)
	}
	alreadyTerminal := before.Status.Terminal()

	final, err := s.orch.Finalize(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, domainerrors.Wrap(domainerrors.CodeInvalidState, "session cannot be completed in its current state", err)
		}
		return nil, domainerrors.Wrap(domainerrors.CodeInternal, "finalize session", err)
	}

	if !alreadyTerminal {
		after, err := s.sessions.Find(ctx, sessionID)
		if err == nil {
			s.recordTerminal(ctx, after, time.Since(before.StartedAt))
		}
	}
	return final, nil
}

// Session returns one session by ID, active or historical.
func (s *Service) Session(ctx context.Context, sessionID uuid.UUID) (*models.VerificationSession, error) {
	sess, err := s.sessions.Find(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.Wrap(domainerrors.CodeNotFound, "session not found", err)
		}
		return nil, domainerrors.Wrap(domainerrors.CodeInternal, "find session", err)
	}
	return sess, nil
}

// Cancel aborts a non-terminal session with a reason.
func (s *Service) Cancel(ctx context.Context, sessionID uuid.UUID, reason string) (*models.VerificationSession, error) {
	ctx, span := s.tracer.Start(ctx, "service.Cancel",
		trace.WithAttributes(attribute.String("session.id", sessionID.String())))
	defer span.End()

	cancelled, err := s.orch.Cancel(ctx, sessionID, reason)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, domainerrors.Wrap(domainerrors.CodeNotFound, "session not found", err)
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, domainerrors.Wrap(domainerrors.CodeInvalidState, "session is already terminal", err)
		default:
			return nil, domainerrors.Wrap(domainerrors.CodeInternal, "cancel session", err)
		}
	}

	s.archiveSession(ctx, cancelled)
	s.metrics.IncrementSessionCompleted(string(cancelled.Status))
	s.emit(ctx, events.Event{
		Type:      events.EventSessionCancelled,
		OwnerID:   cancelled.OwnerID,
		SessionID: cancelled.ID.String(),
		Detail:    map[string]any{"reason": reason},
	})
	s.logger.InfoContext(ctx, "session cancelled", "session_id", sessionID, "reason", reason)
	return cancelled, nil
}

// recordTerminal applies the side effects of a session reaching a terminal
// status: archive, metrics, completion event.
func (s *Service) recordTerminal(ctx context.Context, sess *models.VerificationSession, elapsed time.Duration) {
	s.archiveSession(ctx, sess)
	s.metrics.IncrementSessionCompleted(string(sess.Status))
	s.metrics.ObserveSessionLatency(elapsed)

	detail := map[string]any{}
	if sess.Final != nil {
		detail["status"] = sess.Final.Status
		detail["confidence"] = sess.Final.Confidence
		detail["level"] = sess.Final.Identity.Level
		for _, flag := range sess.Final.Flags {
			s.metrics.IncrementSecurityFlag(string(flag.Type))
			s.emit(ctx, events.Event{
				Type:      events.EventSecurityFlag,
				OwnerID:   sess.OwnerID,
				SessionID: sess.ID.String(),
				Detail:    map[string]any{"flag": flag.Type, "severity": flag.Severity, "message": flag.Message},
			})
		}
	}
	s.emit(ctx, events.Event{
		Type:      events.EventSessionCompleted,
		OwnerID:   sess.OwnerID,
		SessionID: sess.ID.String(),
		Detail:    detail,
	})
	s.logger.InfoContext(ctx, "session reached terminal status",
		"session_id", sess.ID, "status", sess.Status, "elapsed", elapsed)
}

func (s *Service) archiveSession(ctx context.Context, sess *models.VerificationSession) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Append(ctx, sess); err != nil {
		s.logger.ErrorContext(ctx, "failed to archive session", "session_id", sess.ID, "error", err)
	}
}

func (s *Service) emit(ctx context.Context, event events.Event) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit event", "type", event.Type, "error", err)
	}
}

func codeID(result *models.ValidationResult) string {
	if result.Code == nil {
		return ""
	}
	return result.Code.ID.String()
}
