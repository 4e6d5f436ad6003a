package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hubclient/internal/core"
	"hubclient/internal/types"
)

// PolicyStatusQuery holds the query parameters of GET /v1/policy-status.
type PolicyStatusQuery struct {
	Project string `json:"project" validate:"required"`
	Version string `json:"version" validate:"required"`
}

// PolicyStatusReader fetches the policy status of a project version.
type PolicyStatusReader interface {
	GetPolicyStatus(ctx context.Context, projectName, versionName string) (types.PolicyStatus, error)
}

// PolicyStatusHandler serves project version policy status.
type PolicyStatusHandler struct {
	reader    PolicyStatusReader
	validator *core.Validator
}

// NewPolicyStatusHandler creates a PolicyStatusHandler.
func NewPolicyStatusHandler(reader PolicyStatusReader, v *core.Validator) *PolicyStatusHandler {
	return &PolicyStatusHandler{reader: reader, validator: v}
}

// RegisterRoutes mounts the policy status route.
func (h *PolicyStatusHandler) RegisterRoutes(r chi.Router) {
	r.Get("/policy-status", h.Get)
}

// Get handles GET /v1/policy-status?project=&version=.
func (h *PolicyStatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := PolicyStatusQuery{
		Project: r.URL.Query().Get("project"),
		Version: r.URL.Query().Get("version"),
	}
	if err := h.validator.ValidateStruct(q); err != nil {
		core.Error(w, r, err)
		return
	}

	status, err := h.reader.GetPolicyStatus(r.Context(), q.Project, q.Version)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: status})
}
