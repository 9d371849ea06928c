package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/offline"
)

// FamilyService creates families and promotes device-only ones.
type FamilyService interface {
	CreateFamily(ctx context.Context, name, userID string) (model.Family, error)
	MigrateCollection(ctx context.Context, collectionID, userID string, progress offline.ProgressFunc) (string, error)
}

// ProgressSource returns the progress callback for one migration, nil for none.
type ProgressSource func(collectionID string) func(step string, current, total int)

type FamilyHandler struct {
	families FamilyService
	progress ProgressSource
	logger   *slog.Logger
}

func NewFamilyHandler(families FamilyService, progress ProgressSource, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{families: families, progress: progress, logger: logger}
}

func (h *FamilyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	f, err := h.families.CreateFamily(r.Context(), strings.TrimSpace(req.Name), auth.UserID(r.Context()))
	if err != nil {
		writeErr(w, h.logger, "failed to create family", err)
		return
	}
	writeData(w, http.StatusCreated, f)
}

// Migrate copies a device-only family to the remote store and returns the
// new family id.
func (h *FamilyHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("family")

	var progress offline.ProgressFunc
	if h.progress != nil {
		progress = offline.ProgressFunc(h.progress(id))
	}

	newID, err := h.families.MigrateCollection(r.Context(), id, auth.UserID(r.Context()), progress)
	if err != nil {
		writeErr(w, h.logger, "failed to migrate family", err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": newID, "previous_id": id})
}
