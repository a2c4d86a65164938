package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"idcollect/internal/analysis"
	"idcollect/internal/bulk"
	"idcollect/internal/platform/middleware"
)

// BulkHandler serves the analyze-then-verify flow and job control.
type BulkHandler struct {
	analyses *analysis.Service
	jobs     *bulk.Runner
	logger   *slog.Logger
}

func NewBulkHandler(analyses *analysis.Service, jobs *bulk.Runner, logger *slog.Logger) *BulkHandler {
	return &BulkHandler{analyses: analyses, jobs: jobs, logger: logger}
}

func (h *BulkHandler) Register(r chi.Router) {
	r.Post("/lists/{listID}/analyze-bulk-verify", h.handleAnalyze)
	r.Post("/lists/{listID}/bulk-verify", h.handleStart)
	r.Get("/jobs/{jobID}", h.handleGet)
	r.Post("/jobs/{jobID}/pause", h.handlePause)
	r.Post("/jobs/{jobID}/resume", h.handleResume)
}

type analyzeBulkRequest struct {
	EntryIDs []string `json:"entryIds"`
}

func (h *BulkHandler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeBulkRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	a, err := h.analyses.AnalyzeBulkVerify(r.Context(), chi.URLParam(r, "listID"), req.EntryIDs)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, a)
}

func (h *BulkHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	job, err := h.jobs.Start(r.Context(), chi.URLParam(r, "listID"), req.AnalysisID, middleware.GetActorID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

func (h *BulkHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var job *bulk.Job
	var err error
	if r.URL.Query().Get("details") == "true" {
		job, err = h.jobs.Details(jobID)
	} else {
		job, err = h.jobs.Get(jobID)
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *BulkHandler) handlePause(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Pause(r.Context(), chi.URLParam(r, "jobID"), middleware.GetActorID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *BulkHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Resume(r.Context(), chi.URLParam(r, "jobID"), middleware.GetActorID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}
