package test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"verigate/internal/dashboard"
	"verigate/internal/directory"
	"verigate/internal/operatortoken"
	"verigate/internal/platform/middleware"
	"verigate/internal/verification/handler"
	"verigate/internal/verification/issuer"
	"verigate/internal/verification/models"
	"verigate/internal/verification/orchestrator"
	"verigate/internal/verification/service"
	"verigate/internal/verification/signer"
	codestore "verigate/internal/verification/store/code"
	sessionstore "verigate/internal/verification/store/session"
	"verigate/internal/verification/validator"
	"verigate/internal/wallet"
	"verigate/internal/wallet/adapters"
	"verigate/pkg/testutil"
)

// newServer assembles the router exactly as the server binary does, with the
// demo population behind mock credential sources.
func newServer(t *testing.T) (http.Handler, string) {
	t.Helper()

	sgn, err := signer.New([]byte("flow-test-signing-secret"))
	require.NoError(t, err)

	dir := directory.NewInMemory()
	profiles := directory.SeedDemoOwners(dir)

	registry := wallet.NewRegistry()
	clients := map[string]*adapters.MockRecordClient{}
	for _, p := range profiles {
		for _, e := range p.Enrollments {
			client, ok := clients[e.SourceID]
			if !ok {
				client = adapters.NewMockRecordClient(0)
				clients[e.SourceID] = client
				var src wallet.Source
				switch e.Kind {
				case models.SourcePassStore:
					src = adapters.NewPassStore(e.SourceID, client)
				case models.SourceDataVault:
					src = adapters.NewDataVault(e.SourceID, client)
				case models.SourceBankID:
					src = adapters.NewBankID(e.SourceID, client)
				case models.SourceHealthRegistry:
					src = adapters.NewHealthRegistry(e.SourceID, client)
				}
				require.NoError(t, registry.Register(src))
			}
			client.Enroll(sgn.RefHash(p.OwnerID, e.SourceID), p.Claims())
		}
	}

	codes := codestore.NewInMemoryStore()
	sessions := sessionstore.NewInMemoryStore()
	orch := orchestrator.New(registry, sessions, orchestrator.WithCheckTimeout(time.Second))
	svc := service.New(issuer.New(dir, sgn, codes), validator.New(sgn, codes), orch, codes, sessions)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	tokens := operatortoken.NewService([]byte("flow-test-token-secret"), "verigate")
	token, err := tokens.Issue("op-flow", "main-gate", time.Hour)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestScope)
	r.Use(middleware.Logger(logger))
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireOperator(tokens, logger))
		r.Use(middleware.ScannerDevice)
		handler.New(svc, dashboard.NewFeed(sessions, nil), logger).Register(r)
	})
	return r, token
}

func TestVerificationFlow(t *testing.T) {
	router, token := newServer(t)

	authed := func(req *http.Request) *http.Request {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", "verigate-scanner/2.4")
		return req
	}

	testutil.Given(t, "a seeded owner with three enrolled sources", func(t *testing.T) {
		var envelope models.CodeEnvelope

		testutil.When(t, "an operator issues a code", func(t *testing.T) {
			req := authed(testutil.NewJSONRequest(t, http.MethodPost, "/codes", map[string]string{
				"owner_id": "owner-1001",
				"purpose":  "facility_entry",
			}))
			rec := testutil.DoRequest(router, req)

			testutil.Then(t, "the code is created and signed", func(t *testing.T) {
				require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
				var resp struct {
					Envelope models.CodeEnvelope `json:"envelope"`
				}
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				require.NotEmpty(t, resp.Envelope.Signature)
				envelope = resp.Envelope
			})
		})

		testutil.When(t, "a scanner presents the code", func(t *testing.T) {
			req := authed(testutil.NewJSONRequest(t, http.MethodPost, "/sessions/scan?location=main-gate", envelope))
			rec := testutil.DoRequest(router, req)

			testutil.Then(t, "a session starts and resolves verified", func(t *testing.T) {
				require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
				var scan struct {
					Session *models.VerificationSession `json:"session"`
				}
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&scan))
				require.NotNil(t, scan.Session)
				require.Equal(t, models.SessionIdentityVerified, scan.Session.Status)
				require.Equal(t, "op-flow", scan.Session.OperatorID)
				require.NotEmpty(t, scan.Session.ScannerDevice)

				completeReq := authed(testutil.NewRequest(t, http.MethodPost,
					"/sessions/"+scan.Session.ID.String()+"/complete"))
				completeRec := testutil.DoRequest(router, completeReq)
				require.Equal(t, http.StatusOK, completeRec.Code, completeRec.Body.String())

				final := testutil.UnmarshalResponse[models.FinalVerificationResult](t, completeRec)
				require.Equal(t, models.OverallVerified, final.Status)
				require.Equal(t, "Astrid Lindqvist", final.Identity.FullName)
			})
		})
	})
}

func TestRejectsMissingToken(t *testing.T) {
	router, _ := newServer(t)
	rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/dashboard"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
