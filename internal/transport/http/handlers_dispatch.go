package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"idcollect/internal/analysis"
	"idcollect/internal/entry"
	"idcollect/internal/platform/middleware"
	"idcollect/internal/verification"
	"idcollect/internal/verifier"
	dErrors "idcollect/pkg/domain-errors"
)

// DispatchHandler serves the analyze-then-send flow plus the per-entry
// resend and retry actions.
type DispatchHandler struct {
	lists         *entry.Service
	analyses      *analysis.Service
	verifications *verification.Service
	logger        *slog.Logger
}

func NewDispatchHandler(lists *entry.Service, analyses *analysis.Service,
	verifications *verification.Service, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{
		lists:         lists,
		analyses:      analyses,
		verifications: verifications,
		logger:        logger,
	}
}

func (h *DispatchHandler) Register(r chi.Router) {
	r.Post("/lists/{listID}/analyze-send-links", h.handleAnalyzeSend)
	r.Post("/lists/{listID}/send", h.handleSend)
	r.Post("/entries/{entryID}/resend", h.handleResend)
	r.Post("/entries/{entryID}/retry", h.handleRetry)
}

type analyzeSendRequest struct {
	EntryIDs         []string              `json:"entryIds"`
	VerificationType verifier.IdentityType `json:"verificationType"`
}

func (h *DispatchHandler) handleAnalyzeSend(w http.ResponseWriter, r *http.Request) {
	var req analyzeSendRequest
	if !decode(w, r, h.logger, &req) {
		return
	}
	if req.VerificationType != verifier.TypeNIN && req.VerificationType != verifier.TypeCAC {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "verificationType must be NIN or CAC"))
		return
	}

	a, err := h.analyses.AnalyzeSendLinks(r.Context(), chi.URLParam(r, "listID"), req.EntryIDs, req.VerificationType)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, a)
}

type confirmRequest struct {
	AnalysisID string `json:"analysisId"`
}

func (h *DispatchHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	a, err := h.analyses.Consume(r.Context(), req.AnalysisID, analysis.KindSendLinks)
	if err != nil {
		WriteError(w, err)
		return
	}
	listID := chi.URLParam(r, "listID")
	if a.ListID != listID {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "analysis belongs to a different list"))
		return
	}

	targets := make([]entry.SendTarget, 0, len(a.Targets))
	for _, t := range a.Targets {
		targets = append(targets, entry.SendTarget{EntryID: t.EntryID, IdentityType: t.IdentityType})
	}

	res, err := h.lists.SendToTargets(r.Context(), listID, targets, middleware.GetActorID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *DispatchHandler) handleResend(w http.ResponseWriter, r *http.Request) {
	e, warning, err := h.lists.Resend(r.Context(), chi.URLParam(r, "entryID"), middleware.GetActorID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}

	body := map[string]any{"entry": toEntryView(e)}
	if warning {
		body["warning"] = "this customer has been sent several links without completing verification"
	}
	WriteJSON(w, http.StatusOK, body)
}

func (h *DispatchHandler) handleRetry(w http.ResponseWriter, r *http.Request) {
	e, err := h.verifications.Retry(r.Context(), chi.URLParam(r, "entryID"), middleware.GetActorID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toEntryView(e))
}
