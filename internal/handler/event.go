package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/model"
)

// EventService is the part of the offline adapter the event routes use.
type EventService interface {
	GetEvents(ctx context.Context, collectionID string, start, end time.Time) ([]model.Event, error)
	GetEvent(ctx context.Context, id string) (model.Event, error)
	CreateEvent(ctx context.Context, collectionID string, in model.Event, userID string) (model.Event, error)
	CreateRecurringEvent(ctx context.Context, collectionID string, in model.Event, rule model.RecurrenceRule, userID string) (model.Event, error)
	UpdateEvent(ctx context.Context, id string, patch model.EventPatch) (model.Event, error)
	DeleteEvent(ctx context.Context, id, collectionID string) error
	SetEventTags(ctx context.Context, eventID string, tagIDs []string) (model.Event, error)
}

type EventHandler struct {
	events EventService
	logger *slog.Logger
}

func NewEventHandler(events EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

type eventRequest struct {
	Title           string                `json:"title"`
	Description     string                `json:"description"`
	Date            string                `json:"date"`
	Time            string                `json:"time"`
	DurationMinutes *int                  `json:"duration_minutes"`
	IsAllDay        bool                  `json:"is_all_day"`
	Tags            []string              `json:"tags"`
	RecurrenceRule  *model.RecurrenceRule `json:"recurrence_rule"`
}

func (req eventRequest) event() model.Event {
	return model.Event{
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		Date:            req.Date,
		Time:            req.Time,
		DurationMinutes: req.DurationMinutes,
		IsAllDay:        req.IsAllDay,
		Tags:            req.Tags,
	}
}

// List returns the family's events between the optional start and end query
// parameters with recurring events expanded.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	start, end, ok := parseRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "start and end must be RFC3339 or YYYY-MM-DD format")
		return
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		writeError(w, http.StatusBadRequest, "end must not be before start")
		return
	}

	events, err := h.events.GetEvents(r.Context(), r.PathValue("family"), start, end)
	if err != nil {
		writeErr(w, h.logger, "failed to list events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeData(w, http.StatusOK, events)
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RecurrenceRule != nil {
		writeError(w, http.StatusBadRequest, "use the recurring endpoint for events with a recurrence_rule")
		return
	}

	ev, err := h.events.CreateEvent(r.Context(), r.PathValue("family"), req.event(), auth.UserID(r.Context()))
	if err != nil {
		writeErr(w, h.logger, "failed to create event", err)
		return
	}
	writeData(w, http.StatusCreated, ev)
}

func (h *EventHandler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RecurrenceRule == nil {
		writeError(w, http.StatusBadRequest, "recurrence_rule is required")
		return
	}

	ev, err := h.events.CreateRecurringEvent(r.Context(), r.PathValue("family"), req.event(), *req.RecurrenceRule, auth.UserID(r.Context()))
	if err != nil {
		writeErr(w, h.logger, "failed to create recurring event", err)
		return
	}
	writeData(w, http.StatusCreated, ev)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, h.logger, "failed to get event", err)
		return
	}
	writeData(w, http.StatusOK, ev)
}

// Update applies a partial update. Absent fields are kept and null clears.
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch model.EventPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	ev, err := h.events.UpdateEvent(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeErr(w, h.logger, "failed to update event", err)
		return
	}
	writeData(w, http.StatusOK, ev)
}

// Delete removes an event. The optional family query parameter routes the
// delete when the event is not cached on this device.
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.events.DeleteEvent(r.Context(), r.PathValue("id"), r.URL.Query().Get("family")); err != nil {
		writeErr(w, h.logger, "failed to delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EventHandler) SetTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TagIDs []string `json:"tag_ids"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	ev, err := h.events.SetEventTags(r.Context(), r.PathValue("id"), req.TagIDs)
	if err != nil {
		writeErr(w, h.logger, "failed to set event tags", err)
		return
	}
	writeData(w, http.StatusOK, ev)
}
