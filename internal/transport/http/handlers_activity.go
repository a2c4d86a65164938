package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"idcollect/internal/audit"
)

// ActivityHandler serves the per-list audit trail.
type ActivityHandler struct {
	auditor *audit.Service
	logger  *slog.Logger
}

func NewActivityHandler(auditor *audit.Service, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{auditor: auditor, logger: logger}
}

func (h *ActivityHandler) Register(r chi.Router) {
	r.Get("/lists/{listID}/activity", h.handleActivity)
}

func (h *ActivityHandler) handleActivity(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		Action:   audit.Action(r.URL.Query().Get("action")),
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "pageSize", 50),
	}

	events, total, err := h.auditor.List(r.Context(), chi.URLParam(r, "listID"), filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"total":    total,
		"page":     filter.Page,
		"pageSize": filter.PageSize,
	})
}
