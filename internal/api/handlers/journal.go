package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matiasleandrokruk/voxrelay/internal/domain/journal"
)

// JournalLister is satisfied by journal.Service.
type JournalLister interface {
	ListByConnection(ctx context.Context, connectionID string, limit int) ([]journal.Entry, error)
}

type JournalHandler struct{ lister JournalLister }

// NewJournalHandler returns a handler over lister; a nil lister means the journal is disabled.
func NewJournalHandler(lister JournalLister) *JournalHandler {
	return &JournalHandler{lister: lister}
}

// ListEvents handles GET /api/v1/connections/{id}/events
func (h *JournalHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	connID := chi.URLParam(r, "id")
	limit := parseLimit(r)

	entries, err := h.lister.ListByConnection(r.Context(), connID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list events: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": entries,
		"meta": map[string]int{"total": len(entries), "limit": limit},
	})
}
