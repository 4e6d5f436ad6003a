package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hubclient/internal/core"
	"hubclient/internal/types"
)

// ComponentQuery holds the query parameters of GET /v1/components/vulnerabilities.
type ComponentQuery struct {
	Forge   string `json:"forge" validate:"required"`
	Group   string `json:"group"`
	Name    string `json:"name" validate:"required"`
	Version string `json:"version" validate:"required"`
}

// ComponentLookup finds component versions and their vulnerabilities by
// package coordinates.
type ComponentLookup interface {
	GetExactComponentVersion(ctx context.Context, id types.ExternalID) (types.ComponentVersionView, error)
	GetVulnerabilities(ctx context.Context, id types.ExternalID) ([]types.VulnerabilityView, error)
}

// ComponentVulnerabilitiesResponse is the body of GET /v1/components/vulnerabilities.
type ComponentVulnerabilitiesResponse struct {
	OriginID         string                     `json:"origin_id"`
	ComponentVersion types.ComponentVersionView `json:"component_version"`
	Vulnerabilities  []types.VulnerabilityView  `json:"vulnerabilities"`
}

// ComponentsHandler serves component lookups.
type ComponentsHandler struct {
	lookup    ComponentLookup
	validator *core.Validator
}

// NewComponentsHandler creates a ComponentsHandler.
func NewComponentsHandler(lookup ComponentLookup, v *core.Validator) *ComponentsHandler {
	return &ComponentsHandler{lookup: lookup, validator: v}
}

// RegisterRoutes mounts the component routes.
func (h *ComponentsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/components/vulnerabilities", h.Vulnerabilities)
}

// Vulnerabilities handles GET /v1/components/vulnerabilities?forge=&group=&name=&version=.
func (h *ComponentsHandler) Vulnerabilities(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := ComponentQuery{
		Forge:   query.Get("forge"),
		Group:   query.Get("group"),
		Name:    query.Get("name"),
		Version: query.Get("version"),
	}
	if err := h.validator.ValidateStruct(q); err != nil {
		core.Error(w, r, err)
		return
	}

	id := types.ExternalID{Forge: q.Forge, Group: q.Group, Name: q.Name, Version: q.Version}
	version, err := h.lookup.GetExactComponentVersion(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	vulns, err := h.lookup.GetVulnerabilities(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if vulns == nil {
		vulns = []types.VulnerabilityView{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ComponentVulnerabilitiesResponse{
		OriginID:         id.OriginID(),
		ComponentVersion: version,
		Vulnerabilities:  vulns,
	}})
}
