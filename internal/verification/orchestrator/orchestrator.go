// Package orchestrator drives the session step sequence: the concurrent
// credential-source fan-out, identity reconciliation, screening, and the
// access-grant decision. It owns no state of its own; every mutation goes
// through the session store's single-writer Update.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"verigate/internal/verification/metrics"
	"verigate/internal/verification/models"
	"verigate/internal/verification/store/session"
	"verigate/internal/wallet"
	"verigate/pkg/platform/sentinel"
)

const (
	// DefaultCheckTimeout bounds one credential-source check so the fan-in
	// always completes in bounded time.
	DefaultCheckTimeout = 5 * time.Second

	// DefaultMaxConcurrent is the upper bound guard on parallel checks. Code
	// payloads carry few sources, so this rarely binds.
	DefaultMaxConcurrent = 8
)

// Screener is the domain-specific gate occupying the screening step. The
// content is a collaborator concern; the orchestrator only cares whether it
// passes.
type Screener interface {
	Screen(ctx context.Context, ownerID string, claims []models.IdentityClaim) error
}

// AllowAll passes every owner through screening.
type AllowAll struct{}

func (AllowAll) Screen(context.Context, string, []models.IdentityClaim) error { return nil }

// Orchestrator executes session steps against the registered sources.
type Orchestrator struct {
	registry      *wallet.Registry
	sessions      session.Store
	screener      Screener
	metrics       *metrics.Metrics
	logger        *slog.Logger
	tracer        trace.Tracer
	checkTimeout  time.Duration
	maxConcurrent int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics attaches verification metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithScreener replaces the default allow-all screening gate.
func WithScreener(s Screener) Option {
	return func(o *Orchestrator) { o.screener = s }
}

// WithCheckTimeout overrides the per-source check timeout.
func WithCheckTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.checkTimeout = d }
}

// WithMaxConcurrent overrides the parallel check bound.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) { o.maxConcurrent = n }
}

// New constructs an Orchestrator over the given source registry and session
// store.
func New(registry *wallet.Registry, sessions session.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:      registry,
		sessions:      sessions,
		screener:      AllowAll{},
		logger:        slog.Default(),
		tracer:        otel.Tracer("verigate/orchestrator"),
		checkTimeout:  DefaultCheckTimeout,
		maxConcurrent: DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunChecks executes the credential-source fan-out for a scanned session and
// resolves the wallet step. On zero successes the session is finalized failed
// immediately, with a cached final result so Complete stays idempotent.
//
// Cancellation between fan-out and fan-in is honored: in-flight checks finish,
// but their results are discarded when the session turned terminal meanwhile.
func (o *Orchestrator) RunChecks(ctx context.Context, sessionID uuid.UUID) (*models.VerificationSession, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.RunChecks",
		trace.WithAttributes(attribute.String("session.id", sessionID.String())))
	defer span.End()

	started, err := o.sessions.Update(ctx, sessionID, func(s *models.VerificationSession) error {
		if err := s.Transition(models.SessionVerifying); err != nil {
			return fmt.Errorf("%s: %w", err, sentinel.ErrInvalidState)
		}
		s.BeginStep(models.StepWalletVerification, time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := o.fanOut(ctx, started.OwnerID, started.Code.Payload)

	succeeded := 0
	for _, r := range results {
		if r.Status == models.WalletSuccess {
			succeeded++
		}
		o.metrics.ObserveWalletCheck(string(r.Kind), string(r.Status), r.Elapsed)
	}

	updated, err := o.sessions.Update(ctx, sessionID, func(s *models.VerificationSession) error {
		now := time.Now()
		s.WalletResults = results
		if succeeded > 0 {
			s.FinishStep(models.StepWalletVerification, models.StepCompleted, "", now)
			return s.Transition(models.SessionIdentityVerified)
		}
		s.FinishStep(models.StepWalletVerification, models.StepFailed, "no corroborating source succeeded", now)
		if err := s.Transition(models.SessionFailed); err != nil {
			return err
		}
		s.Final = BuildResult(s, now)
		s.CompletedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// Session was cancelled while checks were in flight; the results
			// are discarded.
			o.logger.InfoContext(ctx, "discarding wallet results for terminal session",
				"session_id", sessionID, "results", len(results))
			return o.sessions.Find(ctx, sessionID)
		}
		return nil, err
	}
	return updated, nil
}

// fanOut launches one check per credential-source reference and blocks at the
// fan-in until every check finished or timed out. Result order follows the
// payload's source order; the aggregate math is order-independent anyway.
func (o *Orchestrator) fanOut(ctx context.Context, ownerID string, payload models.CodePayload) []models.WalletVerificationResult {
	results := make([]models.WalletVerificationResult, len(payload.Sources))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConcurrent)

	for i, ref := range payload.Sources {
		g.Go(func() error {
			results[i] = o.checkOne(groupCtx, ownerID, ref, payload.Claims)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// checkOne runs a single source check with its individual timeout, converting
// every failure mode into a result value. A check never aborts the session.
func (o *Orchestrator) checkOne(ctx context.Context, ownerID string, ref models.SourceRef, claims []models.IdentityClaim) models.WalletVerificationResult {
	ctx, span := o.tracer.Start(ctx, "orchestrator.checkOne",
		trace.WithAttributes(
			attribute.String("source.id", ref.SourceID),
			attribute.String("source.kind", string(ref.Kind)),
		))
	defer span.End()

	source, ok := o.registry.Get(ref.SourceID)
	if !ok {
		return wallet.FailedResult(ref.Kind, ref.SourceID,
			fmt.Errorf("source %s not registered", ref.SourceID), 0)
	}

	checkCtx, cancel := context.WithTimeout(ctx, o.checkTimeout)
	defer cancel()

	start := time.Now()
	result, err := source.Verify(checkCtx, ref, claims)
	if err != nil {
		elapsed := time.Since(start)
		o.logger.WarnContext(ctx, "credential source check failed",
			"owner_id", ownerID,
			"source_id", ref.SourceID,
			"category", wallet.CategoryOf(err),
			"elapsed", elapsed,
			"error", err,
		)
		return wallet.FailedResult(ref.Kind, ref.SourceID, err, elapsed)
	}
	return result
}

// Finalize runs reconciliation, screening and the access-grant decision for a
// session whose wallet step succeeded, and returns the immutable final result.
// Calling it on an already-finalized session returns the cached result;
// calling it before the wallet step resolves fails with invalid state.
func (o *Orchestrator) Finalize(ctx context.Context, sessionID uuid.UUID) (*models.FinalVerificationResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Finalize",
		trace.WithAttributes(attribute.String("session.id", sessionID.String())))
	defer span.End()

	current, err := o.sessions.Find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		if current.Final != nil {
			return current.Final, nil
		}
		return nil, fmt.Errorf("session %s is %s with no result: %w", sessionID, current.Status, sentinel.ErrInvalidState)
	}
	if current.Status != models.SessionIdentityVerified {
		return nil, fmt.Errorf("session %s is %s, wallet step not resolved: %w", sessionID, current.Status, sentinel.ErrInvalidState)
	}

	// Reconciliation is pure bookkeeping over the collected results; screening
	// needs the claim set it produces.
	claims := make([]models.IdentityClaim, 0)
	_, err = o.sessions.Update(ctx, sessionID, func(s *models.VerificationSession) error {
		now := time.Now()
		s.BeginStep(models.StepReconciliation, now)
		claims = ReconcileClaims(s.WalletResults)
		s.FinishStep(models.StepReconciliation, models.StepCompleted, "", now)
		s.BeginStep(models.StepScreening, now)
		return s.Transition(models.SessionScreening)
	})
	if err != nil {
		return nil, err
	}

	// Screening runs outside the store lock; it may call out.
	screenErr := o.screener.Screen(ctx, current.OwnerID, claims)

	final, err := o.sessions.Update(ctx, sessionID, func(s *models.VerificationSession) error {
		now := time.Now()
		if screenErr != nil {
			s.FinishStep(models.StepScreening, models.StepFailed, screenErr.Error(), now)
			if err := s.Transition(models.SessionFailed); err != nil {
				return err
			}
			s.Final = BuildResult(s, now)
			s.Final.Status = models.OverallFailed
			denyAll(s.Final)
			s.Final.Recommendations = append(s.Final.Recommendations, "screening gate rejected the owner")
			s.CompletedAt = &now
			return nil
		}

		s.FinishStep(models.StepScreening, models.StepCompleted, "", now)
		s.BeginStep(models.StepAccessGrant, now)
		s.Final = BuildResult(s, now)
		s.FinishStep(models.StepAccessGrant, models.StepCompleted, "", now)
		s.CompletedAt = &now
		return s.Transition(models.SessionCompleted)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// Cancelled between screening and the final update.
			return nil, fmt.Errorf("session %s turned terminal during finalization: %w", sessionID, sentinel.ErrInvalidState)
		}
		return nil, err
	}
	return final.Final, nil
}

// Cancel moves a non-terminal session to cancelled with a reason. In-flight
// checks observe this through their next store update, which discards their
// results.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID uuid.UUID, reason string) (*models.VerificationSession, error) {
	return o.sessions.Update(ctx, sessionID, func(s *models.VerificationSession) error {
		if err := s.Transition(models.SessionCancelled); err != nil {
			return fmt.Errorf("%s: %w", err, sentinel.ErrInvalidState)
		}
		now := time.Now()
		s.CancelReason = reason
		s.CompletedAt = &now
		return nil
	})
}
