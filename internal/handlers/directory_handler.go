package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"ticket-backoffice/internal/services/directory"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// maxViewWait caps how long GetView holds a live directory open for an update.
const maxViewWait = 30 * time.Second

type DirectoryHandler struct {
	sessions *directory.Sessions
}

func NewDirectoryHandler(sessions *directory.Sessions) *DirectoryHandler {
	return &DirectoryHandler{sessions: sessions}
}

// CreateSession - Open a directory over one event's tickets
func (h *DirectoryHandler) CreateSession(e *core.RequestEvent) error {
	var req struct {
		EventID string `json:"event_id"`
		Live    bool   `json:"live"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if strings.TrimSpace(req.EventID) == "" {
		return apis.NewBadRequestError("Invalid request", errors.New("event id must not be empty"))
	}

	id, d, err := h.sessions.Create(e.Request.Context(), req.EventID, req.Live)
	if err != nil {
		return apiError("Failed to open directory", err)
	}

	return e.JSON(http.StatusCreated, map[string]any{
		"session_id": id,
		"view":       d.View(),
	})
}

// GetView - Apply query filters and sort, then render the directory
func (h *DirectoryHandler) GetView(e *core.RequestEvent) error {
	d, err := h.sessions.Get(e.Request.PathValue("sessionId"))
	if err != nil {
		return apiError("Session not found", err)
	}

	q := e.Request.URL.Query()
	if raw := q.Get("sort"); raw != "" {
		key, ok := directory.ParseSortKey(raw)
		if !ok {
			return apis.NewBadRequestError("Invalid sort key", nil)
		}
		state := directory.SortState{Key: key, Direction: directory.Ascending}
		if strings.EqualFold(q.Get("dir"), string(directory.Descending)) {
			state.Direction = directory.Descending
		}
		d.SetSort(state)
	}

	filters := directory.Filters{
		Name:     q.Get("name"),
		IDNumber: q.Get("id_number"),
		TicketID: q.Get("ticket_id"),
	}
	if err := d.SetFilters(e.Request.Context(), filters); err != nil {
		return apiError("Failed to apply filters", err)
	}

	if raw := q.Get("wait"); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil || wait < 0 {
			return apis.NewBadRequestError("Invalid wait duration", err)
		}
		waitForUpdate(e, d, min(wait, maxViewWait))
	}

	return e.JSON(http.StatusOK, d.View())
}

// waitForUpdate blocks until the live source publishes, the wait elapses or
// the client goes away. Paginated directories return at once.
func waitForUpdate(e *core.RequestEvent, d *directory.Directory, wait time.Duration) {
	updated := d.Updated()
	if updated == nil || wait == 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-updated:
	case <-timer.C:
	case <-e.Request.Context().Done():
	}
}

// ToggleSort - Click a column header
func (h *DirectoryHandler) ToggleSort(e *core.RequestEvent) error {
	d, err := h.sessions.Get(e.Request.PathValue("sessionId"))
	if err != nil {
		return apiError("Session not found", err)
	}

	var req struct {
		Key string `json:"key"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	key, ok := directory.ParseSortKey(req.Key)
	if !ok {
		return apis.NewBadRequestError("Invalid sort key", nil)
	}

	d.ToggleSort(key)
	return e.JSON(http.StatusOK, d.View())
}

func (h *DirectoryHandler) Next(e *core.RequestEvent) error {
	d, err := h.sessions.Get(e.Request.PathValue("sessionId"))
	if err != nil {
		return apiError("Session not found", err)
	}
	if err := d.Next(e.Request.Context()); err != nil {
		return apiError("Failed to load next page", err)
	}
	return e.JSON(http.StatusOK, d.View())
}

func (h *DirectoryHandler) Prev(e *core.RequestEvent) error {
	d, err := h.sessions.Get(e.Request.PathValue("sessionId"))
	if err != nil {
		return apiError("Session not found", err)
	}
	if err := d.Prev(e.Request.Context()); err != nil {
		return apiError("Failed to load previous page", err)
	}
	return e.JSON(http.StatusOK, d.View())
}

// Reload - Refetch the current page after a failed load
func (h *DirectoryHandler) Reload(e *core.RequestEvent) error {
	d, err := h.sessions.Get(e.Request.PathValue("sessionId"))
	if err != nil {
		return apiError("Session not found", err)
	}
	if err := d.Reload(e.Request.Context()); err != nil {
		return apiError("Failed to reload directory", err)
	}
	return e.JSON(http.StatusOK, d.View())
}

func (h *DirectoryHandler) CloseSession(e *core.RequestEvent) error {
	if err := h.sessions.Close(e.Request.PathValue("sessionId")); err != nil {
		return apiError("Session not found", err)
	}
	return e.NoContent(http.StatusNoContent)
}
