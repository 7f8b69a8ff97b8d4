package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"verigate/internal/directory"
	"verigate/internal/events"
	"verigate/internal/verification/issuer"
	"verigate/internal/verification/models"
	"verigate/internal/verification/orchestrator"
	"verigate/internal/verification/service"
	"verigate/internal/verification/service/mocks"
	"verigate/internal/verification/signer"
	codestore "verigate/internal/verification/store/code"
	sessionstore "verigate/internal/verification/store/session"
	"verigate/internal/verification/validator"
	"verigate/internal/wallet"
	"verigate/internal/wallet/adapters"
	"verigate/pkg/domainerrors"
	"verigate/pkg/requestcontext"
)

var ownerClaims = map[models.ClaimType]string{
	models.ClaimFullName:    "Astrid Lindqvist",
	models.ClaimOwnerID:     "owner-1",
	models.ClaimDateOfBirth: "1988-03-14",
	models.ClaimNationalID:  "880314-2397",
}

type fixture struct {
	svc       *service.Service
	signer    *signer.Signer
	passStore *adapters.MockRecordClient
	dataVault *adapters.MockRecordClient
	sink      *events.MemorySink
	ctx       context.Context
}

func newFixture(t *testing.T, opts ...service.Option) *fixture {
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

	passStore := adapters.NewMockRecordClient(0)
	dataVault := adapters.NewMockRecordClient(0)

	registry := wallet.NewRegistry()
	require.NoError(t, registry.Register(adapters.NewPassStore("pass-store-main", passStore)))
	require.NoError(t, registry.Register(adapters.NewDataVault("data-vault-eu", dataVault)))

	codes := codestore.NewInMemoryStore()
	sessions := sessionstore.NewInMemoryStore()
	orch := orchestrator.New(registry, sessions, orchestrator.WithCheckTimeout(200*time.Millisecond))

	sink := events.NewMemorySink()
	pub := events.NewPublisher(sink)
	t.Cleanup(func() { _ = pub.Close() })

	opts = append([]service.Option{service.WithEmitter(pub)}, opts...)
	svc := service.New(issuer.New(dir, s, codes), validator.New(s, codes), orch, codes, sessions, opts...)

	return &fixture{
		svc:       svc,
		signer:    s,
		passStore: passStore,
		dataVault: dataVault,
		sink:      sink,
		ctx:       requestcontext.WithOperatorID(context.Background(), "op-1"),
	}
}

func (f *fixture) enrollAll() {
	f.passStore.Enroll(f.signer.RefHash("owner-1", "pass-store-main"), ownerClaims)
	f.dataVault.Enroll(f.signer.RefHash("owner-1", "data-vault-eu"), ownerClaims)
}

func (f *fixture) issue(t *testing.T, opts issuer.Options) *models.VerificationCode {
	t.Helper()
	vc, err := f.svc.Issue(f.ctx, "owner-1", "facility_entry", opts)
	require.NoError(t, err)
	return vc
}

func TestService_FullFlow(t *testing.T) {
	f := newFixture(t)
	f.enrollAll()

	vc := f.issue(t, issuer.Options{})

	raw, err := json.Marshal(vc.Envelope())
	require.NoError(t, err)
	validation, err := f.svc.Validate(f.ctx, raw)
	require.NoError(t, err)
	assert.True(t, validation.Valid)
	assert.Equal(t, models.ActionProceed, validation.Action)

	sess, err := f.svc.Start(f.ctx, vc.ID, "main-gate")
	require.NoError(t, err)
	assert.Equal(t, models.SessionIdentityVerified, sess.Status)
	assert.Equal(t, "op-1", sess.OperatorID)

	final, err := f.svc.Complete(f.ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OverallVerified, final.Status)
	assert.Equal(t, 100, final.Confidence)
	for _, p := range final.Permissions {
		assert.True(t, p.Granted)
	}

	for _, want := range []events.Type{
		events.EventCodeIssued,
		events.EventCodeValidated,
		events.EventSessionStarted,
		events.EventSessionCompleted,
	} {
		assert.NotEmpty(t, f.sink.ByType(want), string(want))
	}
}

func TestService_ConcurrentStartSingleUse(t *testing.T) {
	f := newFixture(t)
	f.enrollAll()
	vc := f.issue(t, issuer.Options{UsageLimit: 1})

	const attempts = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	exhausted := 0
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Start(f.ctx, vc.ID, "main-gate")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if domainerrors.HasCode(err, domainerrors.CodeUsageExhausted) {
				exhausted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one start may spend a single-use code")
	assert.Equal(t, attempts-1, exhausted)
}

func TestService_StartExpiredCode(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	issueCtx := requestcontext.WithTime(f.ctx, now)
	vc, err := f.svc.Issue(issueCtx, "owner-1", "facility_entry", issuer.Options{TTL: time.Minute})
	require.NoError(t, err)

	lateCtx := requestcontext.WithTime(f.ctx, now.Add(time.Hour))
	_, err = f.svc.Start(lateCtx, vc.ID, "main-gate")
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeExpired), "got %v", err)
}

func TestService_StartUnknownCode(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(f.ctx, uuid.New(), "main-gate")
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeNotFound), "got %v", err)
}

func TestService_RevokedCode(t *testing.T) {
	f := newFixture(t)
	vc := f.issue(t, issuer.Options{})
	require.NoError(t, f.svc.Revoke(f.ctx, vc.ID))

	raw, err := json.Marshal(vc.Envelope())
	require.NoError(t, err)
	validation, err := f.svc.Validate(f.ctx, raw)
	require.NoError(t, err)
	assert.False(t, validation.Valid)
	assert.Equal(t, models.ActionReject, validation.Action)

	_, err = f.svc.Start(f.ctx, vc.ID, "main-gate")
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidState), "got %v", err)
}

func TestService_ValidateTamperedEmitsSecurityFlag(t *testing.T) {
	f := newFixture(t)
	vc := f.issue(t, issuer.Options{})

	envelope := vc.Envelope()
	envelope.Payload.Purpose = "tampered"
	raw, err := json.Marshal(envelope)
	require.NoError(t, err)

	validation, err := f.svc.Validate(f.ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, models.ActionManualReview, validation.Action)
	assert.NotEmpty(t, f.sink.ByType(events.EventSecurityFlag))
}

func TestService_CompleteIsIdempotentAndArchivesOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	archive := mocks.NewMockArchiver(ctrl)
	archive.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	f := newFixture(t, service.WithArchiver(archive))
	f.enrollAll()
	vc := f.issue(t, issuer.Options{})

	sess, err := f.svc.Start(f.ctx, vc.ID, "main-gate")
	require.NoError(t, err)

	first, err := f.svc.Complete(f.ctx, sess.ID)
	require.NoError(t, err)
	second, err := f.svc.Complete(f.ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestService_ZeroSuccessesArchivesFailedSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	archive := mocks.NewMockArchiver(ctrl)
	archive.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, sess *models.VerificationSession) error {
			assert.Equal(t, models.SessionFailed, sess.Status)
			return nil
		}).Times(1)

	// No enrollments: every source reports unavailable.
	f := newFixture(t, service.WithArchiver(archive))
	vc := f.issue(t, issuer.Options{})

	sess, err := f.svc.Start(f.ctx, vc.ID, "main-gate")
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, sess.Status)

	// Complete returns the cached failed result without re-archiving.
	final, err := f.svc.Complete(f.ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OverallFailed, final.Status)
	for _, p := range final.Permissions {
		assert.False(t, p.Granted)
	}
}

func TestService_CancelThenComplete(t *testing.T) {
	f := newFixture(t)
	f.enrollAll()
	f.passStore.Latency = 100 * time.Millisecond
	f.dataVault.Latency = 100 * time.Millisecond
	vc := f.issue(t, issuer.Options{})

	done := make(chan *models.VerificationSession, 1)
	go func() {
		sess, err := f.svc.Start(f.ctx, vc.ID, "main-gate")
		if err != nil {
			done <- nil
			return
		}
		done <- sess
	}()

	// Find the session once created and cancel it while checks run.
	var sessID uuid.UUID
	require.Eventually(t, func() bool {
		for _, e := range f.sink.ByType(events.EventSessionStarted) {
			sessID = uuid.MustParse(e.SessionID)
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)

	_, err := f.svc.Cancel(f.ctx, sessID, "operator walked away")
	require.NoError(t, err)

	sess := <-done
	require.NotNil(t, sess)
	assert.Equal(t, models.SessionCancelled, sess.Status)

	_, err = f.svc.Complete(f.ctx, sessID)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidState), "got %v", err)

	_, err = f.svc.Cancel(f.ctx, sessID, "again")
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidState), "got %v", err)
}

func TestService_IssueUnknownOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Issue(f.ctx, "owner-x", "facility_entry", issuer.Options{})
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeNotFound), "got %v", err)
}
