// Package handler is the HTTP surface of the verification service. Handlers
// decode, delegate and encode; all business rules live behind the service.
package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"verigate/internal/dashboard"
	"verigate/internal/verification/models"
	"verigate/internal/verification/service"
	"verigate/pkg/domainerrors"
	"verigate/pkg/platform/httputil"
)

// Handler serves the verification endpoints.
type Handler struct {
	svc    *service.Service
	feed   *dashboard.Feed
	logger *slog.Logger
}

// New constructs a Handler. feed may be nil; the dashboard endpoint then
// answers 404.
func New(svc *service.Service, feed *dashboard.Feed, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, feed: feed, logger: logger}
}

// Register mounts all verification routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/codes", func(r chi.Router) {
		r.Post("/", h.handleIssue)
		r.Post("/validate", h.handleValidate)
		r.Delete("/{codeID}", h.handleRevoke)
	})
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleStart)
		r.Post("/scan", h.handleScan)
		r.Get("/{sessionID}", h.handleGetSession)
		r.Post("/{sessionID}/complete", h.handleComplete)
		r.Post("/{sessionID}/cancel", h.handleCancel)
	})
	if h.feed != nil {
		r.Get("/dashboard", h.handleDashboard)
	}
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[IssueRequest](w, r)
	if !ok {
		return
	}
	if req.OwnerID == "" || req.Purpose == "" {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "owner_id and purpose are required"))
		return
	}

	code, err := h.svc.Issue(r.Context(), req.OwnerID, req.Purpose, req.Options.toIssuer())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, newCodeResponse(code))
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	codeID, err := uuid.Parse(chi.URLParam(r, "codeID"))
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid code id"))
		return
	}
	if err := h.svc.Revoke(r.Context(), codeID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "unreadable request body"))
		return
	}
	result, err := h.svc.Validate(r.Context(), raw)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newValidationResponse(result))
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[StartRequest](w, r)
	if !ok {
		return
	}
	codeID, err := uuid.Parse(req.CodeID)
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid code id"))
		return
	}
	sess, err := h.svc.Start(r.Context(), codeID, req.Location)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sess)
}

// handleScan is the one-shot scanner flow: the raw presented envelope is
// validated and, unless rejected, a session starts on the spot.
func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "unreadable request body"))
		return
	}

	result, err := h.svc.Validate(r.Context(), raw)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !result.Valid || result.Action == models.ActionReject {
		httputil.WriteJSON(w, http.StatusOK, ScanResponse{Validation: newValidationResponse(result)})
		return
	}

	location := r.URL.Query().Get("location")
	sess, err := h.svc.Start(r.Context(), result.Code.ID, location)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ScanResponse{
		Validation: newValidationResponse(result),
		Session:    sess,
	})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid session id"))
		return
	}
	sess, err := h.svc.Session(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid session id"))
		return
	}
	final, err := h.svc.Complete(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, final)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid session id"))
		return
	}
	req, ok := httputil.Decode[CancelRequest](w, r)
	if !ok {
		return
	}
	if req.Reason == "" {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "reason is required"))
		return
	}
	sess, err := h.svc.Cancel(r.Context(), sessionID, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	overview, err := h.feed.Snapshot(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "dashboard snapshot failed", "error", err)
		httputil.WriteError(w, domainerrors.Wrap(domainerrors.CodeInternal, "dashboard snapshot", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, overview)
}
