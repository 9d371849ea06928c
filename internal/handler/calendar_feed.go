package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/famcal/internal/ics"
	"github.com/dukerupert/famcal/internal/model"
)

// FeedService lists a family's stored events and tags for export.
type FeedService interface {
	ListEvents(ctx context.Context, collectionID string) ([]model.Event, error)
	GetTags(ctx context.Context, collectionID string) ([]model.Tag, error)
}

type CalendarFeedHandler struct {
	feed   FeedService
	logger *slog.Logger
}

func NewCalendarFeedHandler(feed FeedService, logger *slog.Logger) *CalendarFeedHandler {
	return &CalendarFeedHandler{feed: feed, logger: logger}
}

// Export serves the family calendar as text/calendar. The optional tz query
// parameter names the IANA zone event times are written in.
func (h *CalendarFeedHandler) Export(w http.ResponseWriter, r *http.Request) {
	family := r.PathValue("family")

	loc := time.UTC
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown time zone")
			return
		}
		loc = l
	}

	events, err := h.feed.ListEvents(r.Context(), family)
	if err != nil {
		writeErr(w, h.logger, "failed to list events", err)
		return
	}
	tags, err := h.feed.GetTags(r.Context(), family)
	if err != nil {
		writeErr(w, h.logger, "failed to list tags", err)
		return
	}

	var buf bytes.Buffer
	if err := (ics.Exporter{Location: loc}).Export(&buf, "famcal "+family, events, tags); err != nil {
		writeErr(w, h.logger, "failed to export calendar", err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	w.Write(buf.Bytes())
}
