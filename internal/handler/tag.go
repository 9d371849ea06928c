package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/famcal/internal/model"
)

// TagService is the part of the offline adapter the tag routes use.
type TagService interface {
	GetTags(ctx context.Context, collectionID string) ([]model.Tag, error)
	GetTag(ctx context.Context, id string) (model.Tag, error)
	CreateTag(ctx context.Context, collectionID string, in model.Tag) (model.Tag, error)
	UpdateTag(ctx context.Context, id string, patch model.TagPatch) (model.Tag, error)
	DeleteTag(ctx context.Context, id, collectionID string) error
}

type TagHandler struct {
	tags   TagService
	logger *slog.Logger
}

func NewTagHandler(tags TagService, logger *slog.Logger) *TagHandler {
	return &TagHandler{tags: tags, logger: logger}
}

func (h *TagHandler) List(w http.ResponseWriter, r *http.Request) {
	tags, err := h.tags.GetTags(r.Context(), r.PathValue("family"))
	if err != nil {
		writeErr(w, h.logger, "failed to list tags", err)
		return
	}
	if tags == nil {
		tags = []model.Tag{}
	}
	writeData(w, http.StatusOK, tags)
}

func (h *TagHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	tag, err := h.tags.CreateTag(r.Context(), r.PathValue("family"), model.Tag{
		Name:  strings.TrimSpace(req.Name),
		Color: req.Color,
	})
	if err != nil {
		writeErr(w, h.logger, "failed to create tag", err)
		return
	}
	writeData(w, http.StatusCreated, tag)
}

func (h *TagHandler) Get(w http.ResponseWriter, r *http.Request) {
	tag, err := h.tags.GetTag(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, h.logger, "failed to get tag", err)
		return
	}
	writeData(w, http.StatusOK, tag)
}

func (h *TagHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch model.TagPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	tag, err := h.tags.UpdateTag(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeErr(w, h.logger, "failed to update tag", err)
		return
	}
	writeData(w, http.StatusOK, tag)
}

func (h *TagHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.tags.DeleteTag(r.Context(), r.PathValue("id"), r.URL.Query().Get("family")); err != nil {
		writeErr(w, h.logger, "failed to delete tag", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
