// Package handlers contains the HTTP handlers of the hub notification API.
//
// Each handler decodes and validates its request, delegates to the pipeline
// or the Hub services and renders the result through core.JSON / core.Error.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"hubclient/internal/core"
	"hubclient/internal/notification"
	"hubclient/internal/types"
)

// --- DTOs ---

// TransformRequest is the body of POST /v1/transform. Notification is a raw
// notification as delivered by the Hub ({"id","createdAt","type","content"}).
// RuleIDs, when set, replaces the configured policy rule filter.
type TransformRequest struct {
	Notification json.RawMessage `json:"notification" validate:"required"`
	RuleIDs      []string        `json:"rule_ids" validate:"omitempty,dive,required"`
}

// notificationHeader carries the fields of a raw notification every kind
// must have.
type notificationHeader struct {
	ID        string    `json:"id" validate:"required"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
	Kind      string    `json:"type" validate:"required"`
}

// TransformResponse is the data of a successful transform.
type TransformResponse struct {
	NotificationID   string                 `json:"notification_id"`
	NotificationKind types.NotificationKind `json:"notification_kind"`
	ContractVersion  string                 `json:"contract_version"`
	Items            []types.ContentItem    `json:"items"`
}

// --- Service Interfaces ---

// Transformer runs one notification through the pipeline.
type Transformer interface {
	Supports(kind types.NotificationKind) bool
	Transform(ctx context.Context, n types.RawNotification, filter notification.PolicyFilter) ([]types.ContentItem, error)
}

// TransformHandler exposes the pipeline over HTTP.
type TransformHandler struct {
	transformer Transformer
	filter      notification.PolicyFilter
	validator   *core.Validator
	logger      *slog.Logger
}

// NewTransformHandler creates a TransformHandler. defaultRuleIDs is the
// filter applied when a request names none.
func NewTransformHandler(t Transformer, defaultRuleIDs []string, v *core.Validator, l *slog.Logger) *TransformHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TransformHandler{
		transformer: t,
		filter:      notification.NewPolicyFilter(defaultRuleIDs...),
		validator:   v,
		logger:      l,
	}
}

// RegisterRoutes mounts the transform route.
func (h *TransformHandler) RegisterRoutes(r chi.Router) {
	r.Post("/transform", h.Transform)
}

// Transform handles POST /v1/transform.
func (h *TransformHandler) Transform(w http.ResponseWriter, r *http.Request) {
	var req TransformRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	var header notificationHeader
	if err := json.Unmarshal(req.Notification, &header); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody, "notification is not a JSON object", err))
		return
	}
	if err := h.validator.ValidateStruct(header); err != nil {
		core.Error(w, r, err)
		return
	}
	// Unsupported kinds are rejected before their content is decoded.
	kind := types.NotificationKind(header.Kind)
	if !h.transformer.Supports(kind) {
		core.Error(w, r, types.NewTransformError(kind, header.ID, types.NewAppErrorWithDetails(
			types.ErrCodeUnsupportedKind,
			fmt.Sprintf("notification kind %q is not supported", header.Kind),
			nil,
			map[string]any{"notification_kind": header.Kind},
		)))
		return
	}

	var n types.RawNotification
	if err := json.Unmarshal(req.Notification, &n); err != nil {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody,
			"notification content does not match its type", err,
			map[string]any{"notification_kind": header.Kind}))
		return
	}

	filter := h.filter
	if len(req.RuleIDs) > 0 {
		filter = notification.NewPolicyFilter(req.RuleIDs...)
	}

	items, err := h.transformer.Transform(r.Context(), n, filter)
	if err != nil {
		h.logger.WarnContext(r.Context(), "transform failed",
			"notification_id", n.ID,
			"notification_kind", string(n.Kind),
			"error_code", string(types.RootCode(err)),
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: TransformResponse{
		NotificationID:   n.ID,
		NotificationKind: n.Kind,
		ContractVersion:  types.ContentContractVersion,
		Items:            items,
	}})
}
