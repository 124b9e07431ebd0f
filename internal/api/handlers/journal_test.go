package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/matiasleandrokruk/voxrelay/internal/domain/journal"
)

type fakeLister struct {
	gotID    string
	gotLimit int
	entries  []journal.Entry
	err      error
}

func (f *fakeLister) ListByConnection(_ context.Context, id string, limit int) ([]journal.Entry, error) {
	f.gotID, f.gotLimit = id, limit
	return f.entries, f.err
}

func routeJournal(h *JournalHandler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/api/v1/connections/{id}/events", h.ListEvents)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestJournalHandler_ListEvents_Success(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{entries: []journal.Entry{
		{ID: "e1", ConnectionID: "c-1", Kind: "connected"},
		{ID: "e2", ConnectionID: "c-1", Kind: "disconnected"},
	}}
	rr := routeJournal(NewJournalHandler(lister), "/api/v1/connections/c-1/events?limit=10")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if lister.gotID != "c-1" || lister.gotLimit != 10 {
		t.Fatalf("lister called with %q/%d", lister.gotID, lister.gotLimit)
	}
	body := decodeBody(t, rr)
	data, ok := body["data"].([]any)
	if !ok || len(data) != 2 {
		t.Fatalf("unexpected data: %v", body["data"])
	}
}

func TestJournalHandler_ListEvents_LimitClamped(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{}
	routeJournal(NewJournalHandler(lister), "/api/v1/connections/c-1/events?limit=100000")
	if lister.gotLimit != maxListLimit {
		t.Fatalf("limit = %d; want %d", lister.gotLimit, maxListLimit)
	}

	routeJournal(NewJournalHandler(lister), "/api/v1/connections/c-1/events?limit=abc")
	if lister.gotLimit != defaultListLimit {
		t.Fatalf("limit = %d; want %d", lister.gotLimit, defaultListLimit)
	}
}

func TestJournalHandler_ListEvents_StoreError(t *testing.T) {
	t.Parallel()

	rr := routeJournal(NewJournalHandler(&fakeLister{err: errors.New("disk I/O error")}), "/api/v1/connections/c-1/events")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestJournalHandler_Disabled(t *testing.T) {
	t.Parallel()

	rr := routeJournal(NewJournalHandler(nil), "/api/v1/connections/c-1/events")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "journal disabled" {
		t.Fatalf("unexpected body: %v", body)
	}
}
