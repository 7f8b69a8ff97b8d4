package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verigate/internal/directory"
	"verigate/internal/verification/issuer"
	"verigate/internal/verification/models"
	"verigate/internal/verification/orchestrator"
	"verigate/internal/verification/signer"
	codestore "verigate/internal/verification/store/code"
	sessionstore "verigate/internal/verification/store/session"
	"verigate/internal/wallet"
	"verigate/internal/wallet/adapters"
	"verigate/pkg/platform/sentinel"
)

type fixture struct {
	signer    *signer.Signer
	sessions  *sessionstore.InMemoryStore
	registry  *wallet.Registry
	passStore *adapters.MockRecordClient
	dataVault *adapters.MockRecordClient
	code      *models.VerificationCode
}

var ownerClaims = map[models.ClaimType]string{
	models.ClaimFullName:    "Astrid Lindqvist",
	models.ClaimOwnerID:     "owner-1",
	models.ClaimDateOfBirth: "1988-03-14",
	models.ClaimNationalID:  "880314-2397",
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := directory.NewInMemory()
	dir.Enroll(&directory.Profile{
		OwnerID:     "owner-1",
		FullName:    ownerClaims[models.ClaimFullName],
		DateOfBirth: ownerClaims[models.ClaimDateOfBirth],
		NationalID:  ownerClaims[models.ClaimNationalID],
		Enrollments: []directory.Enrollment{
			{Kind: models.SourcePassStore, SourceID: "pass-store-main"},
			{Kind: models.SourceDataVault, SourceID: "data-vault-eu"},
		},
	})

	s, err := signer.New([]byte("test-secret"))
	require.NoError(t, err)

	codes := codestore.NewInMemoryStore()
	vc, err := issuer.New(dir, s, codes).Issue(context.Background(), "owner-1", "facility_entry", issuer.Options{})
	require.NoError(t, err)

	passStore := adapters.NewMockRecordClient(0)
	dataVault := adapters.NewMockRecordClient(0)

	registry := wallet.NewRegistry()
	require.NoError(t, registry.Register(adapters.NewPassStore("pass-store-main", passStore)))
	require.NoError(t, registry.Register(adapters.NewDataVault("data-vault-eu", dataVault)))

	return &fixture{
		signer:    s,
		sessions:  sessionstore.NewInMemoryStore(),
		registry:  registry,
		passStore: passStore,
		dataVault: dataVault,
		code:      vc,
	}
}

func (f *fixture) enrollAll(client *adapters.MockRecordClient, sourceID string) {
	client.Enroll(f.signer.RefHash("owner-1", sourceID), ownerClaims)
}

func (f *fixture) startSession(t *testing.T) *models.VerificationSession {
	t.Helper()
	sess := models.NewSession(*f.code, "op-1", "main-gate", "scanner-a", time.Now())
	require.NoError(t, f.sessions.Create(context.Background(), sess))
	return sess
}

func (f *fixture) orchestrator(opts ...orchestrator.Option) *orchestrator.Orchestrator {
	opts = append([]orchestrator.Option{orchestrator.WithCheckTimeout(200 * time.Millisecond)}, opts...)
	return orchestrator.New(f.registry, f.sessions, opts...)
}

func TestRunChecks_AllSourcesSucceed(t *testing.T) {
	f := newFixture(t)
	f.enrollAll(f.passStore, "pass-store-main")
	f.enrollAll(f.dataVault, "data-vault-eu")
	sess := f.startSession(t)

	updated, err := f.orchestrator().RunChecks(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SessionIdentityVerified, updated.Status)
	assert.Equal(t, models.StepCompleted, updated.Step(models.StepWalletVerification).Status)
	require.Len(t, updated.WalletResults, 2)
	for _, r := range updated.WalletResults {
		assert.Equal(t, models.WalletSuccess, r.Status)
		assert.Equal(t, 100, r.Confidence)
		assert.Len(t, r.MatchedClaims, 4)
	}
}

func TestRunChecks_PartialMatch(t *testing.T) {
	f := newFixture(t)
	f.enrollAll(f.passStore, "pass-store-main")
	f.dataVault.Enroll(f.signer.RefHash("owner-1", "data-vault-eu"), map[models.ClaimType]string{
		models.ClaimFullName: ownerClaims[models.ClaimFullName],
		models.ClaimOwnerID:  ownerClaims[models.ClaimOwnerID],
	})
	sess := f.startSession(t)

	updated, err := f.orchestrator().RunChecks(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SessionIdentityVerified, updated.Status)

	byID := map[string]models.WalletVerificationResult{}
	for _, r := range updated.WalletResults {
		byID[r.SourceID] = r
	}
	assert.Equal(t, models.WalletSuccess, byID["pass-store-main"].Status)
	assert.Equal(t, models.WalletPartial, byID["data-vault-eu"].Status)
	assert.Equal(t, 50, byID["data-vault-eu"].Confidence)
}

func TestRunChecks_ZeroSuccessesFinalizesFailed(t *testing.T) {
	f := newFixture(t)
	// Nothing enrolled: both sources report unavailable.
	sess := f.startSession(t)

	updated, err := f.orchestrator().RunChecks(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SessionFailed, updated.Status)
	step := updated.Step(models.StepWalletVerification)
	assert.Equal(t, models.StepFailed, step.Status)
	assert.Equal(t, "no corroborating source succeeded", step.Message)

	require.NotNil(t, updated.Final)
	assert.Equal(t, models.OverallFailed, updated.Final.Status)
	for _, p := range updated.Final.Permissions {
		assert.False(t, p.Granted)
	}

	// The failed session moved to history.
	active, err := f.sessions.Active(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRunChecks_SourceErrorBecomesFailedResult(t *testing.T) {
	f := newFixture(t)
	f.enrollAll(f.passStore, "pass-store-main")
	f.dataVault.Fail = errors.New("vault offline")
	sess := f.startSession(t)

	updated, err := f.orchestrator().RunChecks(context.Background(), sess.ID)
	require.NoError(t, err)

	// One bad source never aborts the session.
	assert.Equal(t, models.SessionIdentityVerified, updated.Status)

	byID := map[string]models.WalletVerificationResult{}
	for _, r := range updated.WalletResults {
		byID[r.SourceID] = r
	}
	assert.Equal(t, models.WalletFailed, byID["data-vault-eu"].Status)
	assert.Contains(t, byID["data-vault-eu"].ErrorDetail, "vault offline")
}

func TestRunChecks_TimeoutBecomesFailedResult(t *testing.T) {
	f := newFixture(t)
	f.enrollAll(f.passStore, "pass-store-main")
	f.dataVault.Latency = time.Second
	sess := f.startSession(t)

	o := f.orchestrator(orchestrator.WithCheckTimeout(50 * time.Millisecond))
	updated, err := o.RunChecks(context.Background(), sess.ID)
	require.NoError(t, err)

	byID := map[string]models.WalletVerificationResult{}
	for _, r := range updated.WalletResults {
		byID[r.SourceID] = r
	}
	assert.Equal(t, models.WalletFailed, byID["data-vault-eu"].Status)
	assert.NotEmpty(t, byID["data-vault-eu"].ErrorDetail)
}

func TestRunChecks_CancelledSessionDiscardsResults(t *testing.T) {
	f := newFixture(t)
	f.enrollAll(f.passStore, "pass-store-main")
	f.enrollAll(f.dataVault, "data-vault-eu")
	f.passStore.Latency = 150 * time.Millisecond
	f.dataVault.Latency = 150 * time.Millisecond
	sess := f.startSession(t)

	o := f.orchestrator()
	done := make(chan *models.VerificationSession, 1)
	go func() {
		updated, err := o.RunChecks(context.Background(), sess.ID)
		if err != nil {
			done <- nil
			return
		}
		done <- updated
	}()

	// Cancel while the checks are in flight.
	time.Sleep(50 * time.Millisecond)
	_, err := o.Cancel(context.Background(), sess.ID, "operator abandoned scan")
	require.NoError(t, err)

	updated := <-done
	require.NotNil(t, updated)
	assert.Equal(t, models.SessionCancelled, updated.Status)
	assert.Empty(t, updated.WalletResults, "in-flight results must be discarded")
	assert.Equal(t, "operator abandoned scan", updated.CancelReason)
}

func TestRunChecks_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator().RunChecks(context.Background(), models.NewSession(*f.code, "", "", "", time.Now()).ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestFinalize_CompletesVerifiedSession(t *testing.T) {
	f := newFixture(t)
	f.enrollAll(f.passStore, "pass-store-main")
	f.enrollAll(f.dataVault, "data-vault-eu")
	sess := f.startSession(t)

	o := f.orchestrator()
	_, err := o.RunChecks(context.Background(), sess.ID)
	require.NoError(t, err)

	final, err := o.Finalize(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.Equal(t, models.OverallVerified, final.Status)
	assert.Equal(t, 100, final.Confidence)
	assert.Equal(t, models.LevelMaximum, final.Identity.Level)
	assert.Equal(t, "Astrid Lindqvist", final.Identity.FullName)
	for _, p := range final.Permissions {
		assert.True(t, p.Granted)
	}

	stored, err := f.sessions.Find(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, stored.Status)
	for _, step := range stored.Steps {
		assert.Equal(t, models.StepCompleted, step.Status, string(step.Kind))
	}
}

func TestFinalize_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.enrollAll(f.passStore, "pass-store-main")
	sess := f.startSession(t)

	o := f.orchestrator()
	_, err := o.RunChecks(context.Background(), sess.ID)
	require.NoError(t, err)

	first, err := o.Finalize(context.Background(), sess.ID)
	require.NoError(t, err)
	second, err := o.Finalize(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFinalize_FailedSessionReturnsCachedResult(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)

	o := f.orchestrator()
	_, err := o.RunChecks(context.Background(), sess.ID)
	require.NoError(t, err)

	final, err := o.Finalize(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OverallFailed, final.Status)
}

func TestFinalize_BeforeWalletStepResolves(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)

	_, err := f.orchestrator().Finalize(context.Background(), sess.ID)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestFinalize_CancelledSession(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)

	o := f.orchestrator()
	_, err := o.Cancel(context.Background(), sess.ID, "test")
	require.NoError(t, err)

	_, err = o.Finalize(context.Background(), sess.ID)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

type denyScreener struct{ err error }

func (d denyScreener) Screen(context.Context, string, []models.IdentityClaim) error { return d.err }

func TestFinalize_ScreeningFailureFailsSession(t *testing.T) {
	f := newFixture(t)
	f.enrollAll(f.passStore, "pass-store-main")
	f.enrollAll(f.dataVault, "data-vault-eu")
	sess := f.startSession(t)

	o := f.orchestrator(orchestrator.WithScreener(denyScreener{err: errors.New("watchlist hit")}))
	_, err := o.RunChecks(context.Background(), sess.ID)
	require.NoError(t, err)

	final, err := o.Finalize(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.Equal(t, models.OverallFailed, final.Status)
	for _, p := range final.Permissions {
		assert.False(t, p.Granted)
	}

	stored, err := f.sessions.Find(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, stored.Status)
	assert.Equal(t, models.StepFailed, stored.Step(models.StepScreening).Status)
	assert.Contains(t, stored.Step(models.StepScreening).Message, "watchlist hit")
}

func TestCancel_TerminalSession(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)

	o := f.orchestrator()
	_, err := o.Cancel(context.Background(), sess.ID, "first")
	require.NoError(t, err)

	_, err = o.Cancel(context.Background(), sess.ID, "second")
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}
