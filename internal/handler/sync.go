package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/famcal/internal/offline"
)

// SyncService replays queued mutations and reports on the queue.
type SyncService interface {
	SyncNow(ctx context.Context) (offline.SyncReport, error)
	PendingCount(ctx context.Context) (int, error)
	Diagnostics() offline.Diagnostics
}

type SyncHandler struct {
	sync   SyncService
	logger *slog.Logger
}

func NewSyncHandler(sync SyncService, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{sync: sync, logger: logger}
}

type syncStatus struct {
	Pending int `json:"pending"`
	offline.Diagnostics
}

func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	report, err := h.sync.SyncNow(r.Context())
	if err != nil {
		writeErr(w, h.logger, "failed to sync", err)
		return
	}
	writeData(w, http.StatusOK, report)
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	pending, err := h.sync.PendingCount(r.Context())
	if err != nil {
		writeErr(w, h.logger, "failed to count pending changes", err)
		return
	}
	writeData(w, http.StatusOK, syncStatus{Pending: pending, Diagnostics: h.sync.Diagnostics()})
}
