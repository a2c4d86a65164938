package httptransport

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"idcollect/internal/entry"
	"idcollect/internal/platform/middleware"
)

// ListsHandler serves list CRUD, entry browsing, and CSV export.
type ListsHandler struct {
	lists  *entry.Service
	logger *slog.Logger
}

func NewListsHandler(lists *entry.Service, logger *slog.Logger) *ListsHandler {
	return &ListsHandler{lists: lists, logger: logger}
}

func (h *ListsHandler) Register(r chi.Router) {
	r.Post("/lists", h.handleCreate)
	r.Get("/lists", h.handleIndex)
	r.Get("/lists/{listID}", h.handleGet)
	r.Delete("/lists/{listID}", h.handleDelete)
	r.Get("/lists/{listID}/entries", h.handleEntries)
	r.Get("/lists/{listID}/export", h.handleExport)
}

type createListRequest struct {
	Name        string           `json:"name"`
	FileName    string           `json:"fileName"`
	Columns     []string         `json:"columns"`
	EmailColumn string           `json:"emailColumn"`
	Type        entry.ListType   `json:"type"`
	Rows        []map[string]any `json:"rows"`
}

func (h *ListsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createListRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	list, err := h.lists.CreateList(r.Context(), entry.CreateListInput{
		Name:        req.Name,
		FileName:    req.FileName,
		Columns:     req.Columns,
		EmailColumn: req.EmailColumn,
		Type:        req.Type,
		Rows:        req.Rows,
	}, middleware.GetActorID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}

	stats, err := h.lists.Stats(r.Context(), list.ID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toListView(list, stats))
}

func (h *ListsHandler) handleIndex(w http.ResponseWriter, r *http.Request) {
	lists, err := h.lists.Lists(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	views := make([]listView, 0, len(lists))
	for _, l := range lists {
		stats, err := h.lists.Stats(r.Context(), l.ID)
		if err != nil {
			WriteError(w, err)
			return
		}
		views = append(views, toListView(l, stats))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"lists": views})
}

func (h *ListsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	list, stats, err := h.lists.GetList(r.Context(), chi.URLParam(r, "listID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toListView(list, stats))
}

func (h *ListsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := h.lists.DeleteList(r.Context(), chi.URLParam(r, "listID"), middleware.GetActorID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ListsHandler) handleEntries(w http.ResponseWriter, r *http.Request) {
	filter := entry.Filter{
		Status:   entry.Status(r.URL.Query().Get("status")),
		Search:   r.URL.Query().Get("search"),
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "pageSize", 50),
	}

	entries, total, err := h.lists.ListEntries(r.Context(), chi.URLParam(r, "listID"), filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"entries":  toEntryViews(entries),
		"total":    total,
		"page":     filter.Page,
		"pageSize": filter.PageSize,
	})
}

func (h *ListsHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")

	// Buffer the CSV so a mid-export failure still answers with JSON.
	var buf bytes.Buffer
	name, err := h.lists.ExportCSV(r.Context(), listID, &buf, middleware.GetActorID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
