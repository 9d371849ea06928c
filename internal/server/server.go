package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/famcal/internal/handler"
	"github.com/dukerupert/famcal/internal/middleware"
	"github.com/dukerupert/famcal/internal/offline"
	ws "github.com/dukerupert/famcal/internal/websocket"
)

// Limits for the endpoints that talk to the remote store in bulk.
const (
	bulkLimit  = 10
	bulkWindow = time.Minute
)

type Server struct {
	hub         *ws.Hub
	eventH      *handler.EventHandler
	tagH        *handler.TagHandler
	familyH     *handler.FamilyHandler
	syncH       *handler.SyncHandler
	feedH       *handler.CalendarFeedHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(adapter *offline.Adapter, hub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		hub:         hub,
		eventH:      handler.NewEventHandler(adapter, logger.With("component", "events")),
		tagH:        handler.NewTagHandler(adapter, logger.With("component", "tags")),
		familyH:     handler.NewFamilyHandler(adapter, hub.Progress, logger.With("component", "families")),
		syncH:       handler.NewSyncHandler(adapter, logger.With("component", "sync")),
		feedH:       handler.NewCalendarFeedHandler(adapter, logger.With("component", "ics")),
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))

	apiMux := http.NewServeMux()
	s.registerAPIRoutes(apiMux)
	outerMux.Handle("/api/", middleware.RequireUser(apiMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.UserKey, bulkLimit, bulkWindow)(h)
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	// Events
	mux.HandleFunc("GET /api/families/{family}/events", s.eventH.List)
	mux.HandleFunc("POST /api/families/{family}/events", s.eventH.Create)
	mux.HandleFunc("POST /api/families/{family}/events/recurring", s.eventH.CreateRecurring)
	mux.HandleFunc("GET /api/events/{id}", s.eventH.Get)
	mux.HandleFunc("PATCH /api/events/{id}", s.eventH.Update)
	mux.HandleFunc("DELETE /api/events/{id}", s.eventH.Delete)
	mux.HandleFunc("PUT /api/events/{id}/tags", s.eventH.SetTags)

	// Tags
	mux.HandleFunc("GET /api/families/{family}/tags", s.tagH.List)
	mux.HandleFunc("POST /api/families/{family}/tags", s.tagH.Create)
	mux.HandleFunc("GET /api/tags/{id}", s.tagH.Get)
	mux.HandleFunc("PATCH /api/tags/{id}", s.tagH.Update)
	mux.HandleFunc("DELETE /api/tags/{id}", s.tagH.Delete)

	// Families
	mux.HandleFunc("POST /api/families", s.familyH.Create)
	mux.Handle("POST /api/families/{family}/migrate", s.rateLimited(s.familyH.Migrate))
	mux.HandleFunc("GET /api/families/{family}/calendar.ics", s.feedH.Export)

	// Sync
	mux.Handle("POST /api/sync", s.rateLimited(s.syncH.Sync))
	mux.HandleFunc("GET /api/sync/status", s.syncH.Status)
}
