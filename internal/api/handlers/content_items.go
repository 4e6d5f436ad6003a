package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"hubclient/internal/core"
	"hubclient/internal/types"
)

const defaultContentItemLimit = 50

// ContentItemsQuery holds the query parameters of GET /v1/content-items.
type ContentItemsQuery struct {
	ProjectVersion string `json:"project_version" validate:"required,url"`
	Limit          int    `json:"limit" validate:"min=1,max=500"`
}

// ContentItemLister reads stored content items.
type ContentItemLister interface {
	ListByProjectVersion(ctx context.Context, versionLink string, limit int) ([]types.ContentItem, error)
}

// ContentItemsHandler serves the content items the poller stored.
type ContentItemsHandler struct {
	lister    ContentItemLister
	validator *core.Validator
}

// NewContentItemsHandler creates a ContentItemsHandler.
func NewContentItemsHandler(lister ContentItemLister, v *core.Validator) *ContentItemsHandler {
	return &ContentItemsHandler{lister: lister, validator: v}
}

// RegisterRoutes mounts the content item route.
func (h *ContentItemsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/content-items", h.List)
}

// List handles GET /v1/content-items?project_version=<link>&limit=N, newest
// first.
func (h *ContentItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := ContentItemsQuery{
		ProjectVersion: r.URL.Query().Get("project_version"),
		Limit:          defaultContentItemLimit,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody,
				"limit must be an integer", err, map[string]any{"field": "limit"}))
			return
		}
		q.Limit = n
	}
	if err := h.validator.ValidateStruct(q); err != nil {
		core.Error(w, r, err)
		return
	}

	items, err := h.lister.ListByProjectVersion(r.Context(), q.ProjectVersion, q.Limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: items})
}
