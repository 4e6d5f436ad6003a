package notification

import (
	"context"
	"fmt"
	"strings"

	"hubclient/internal/hub"
	"hubclient/internal/types"
)

const (
	policyRulesPath = "/api/policy-rules/"
	linkProject     = "project"
)

// EntityResolver turns the references carried by a notification into the
// entities they point at. Each call fetches one logical entity.
//
// Failures are *types.AppError with code hub_entity_not_found,
// hub_link_not_found, hub_entity_resolution_failed or hub_cancelled.
type EntityResolver interface {
	ResolveProjectVersion(ctx context.Context, link, projectName string) (types.ProjectVersionRef, error)
	ResolvePolicyRule(ctx context.Context, id string) (types.PolicyRule, error)
	ResolveComponentVersion(ctx context.Context, link string) (types.ComponentVersionRef, error)
}

// HubResolver resolves entities through the Hub REST API. Caching, if any,
// belongs to the hub.Client.
type HubResolver struct {
	client *hub.Client
}

// NewHubResolver creates a HubResolver.
func NewHubResolver(c *hub.Client) *HubResolver {
	return &HubResolver{client: c}
}

// ResolveProjectVersion fetches the project version at link. When the
// notification did not name the project, the version's project link is
// followed for it.
func (r *HubResolver) ResolveProjectVersion(ctx context.Context, link, projectName string) (types.ProjectVersionRef, error) {
	var v types.ProjectVersionView
	if err := r.client.GetResource(ctx, link, &v); err != nil {
		return types.ProjectVersionRef{}, err
	}

	if projectName == "" {
		projectLink, err := hub.FirstLink(v.Meta, linkProject)
		if err != nil {
			return types.ProjectVersionRef{}, err
		}
		var p types.ProjectView
		if err := r.client.GetResource(ctx, projectLink, &p); err != nil {
			return types.ProjectVersionRef{}, err
		}
		projectName = p.Name
	}

	return types.ProjectVersionRef{
		ProjectName: projectName,
		VersionName: v.VersionName,
		VersionLink: link,
	}, nil
}

// ResolvePolicyRule fetches a policy rule. id is the rule href or a bare
// rule id.
func (r *HubResolver) ResolvePolicyRule(ctx context.Context, id string) (types.PolicyRule, error) {
	link := id
	if !strings.Contains(id, "/") {
		link = policyRulesPath + id
	}

	var v types.PolicyRuleView
	if err := r.client.GetResource(ctx, link, &v); err != nil {
		return types.PolicyRule{}, err
	}
	return types.PolicyRule{
		ID:          id,
		Name:        v.Name,
		Description: v.Description,
		Expression:  v.Expression,
	}, nil
}

// ResolveComponentVersion fetches the component version at link together
// with the name of its component.
func (r *HubResolver) ResolveComponentVersion(ctx context.Context, link string) (types.ComponentVersionRef, error) {
	var v types.ComponentVersionView
	if err := r.client.GetResource(ctx, link, &v); err != nil {
		return types.ComponentVersionRef{}, err
	}

	componentLink, ok := componentOf(link)
	if !ok {
		return types.ComponentVersionRef{}, types.NewAppErrorWithDetails(types.ErrCodeLinkNotFound,
			fmt.Sprintf("component version %s has no component link", link), nil,
			map[string]any{"link": link})
	}
	var c types.ComponentView
	if err := r.client.GetResource(ctx, componentLink, &c); err != nil {
		return types.ComponentVersionRef{}, err
	}

	return types.ComponentVersionRef{
		ComponentName: c.Name,
		VersionName:   v.VersionName,
		ComponentID:   types.IDAfter(link, "components"),
		VersionID:     types.IDAfter(link, "versions"),
		Link:          link,
	}, nil
}

// componentOf strips the "/versions/<id>" suffix of a component version link.
func componentOf(versionLink string) (string, bool) {
	i := strings.LastIndex(versionLink, "/versions/")
	if i <= 0 {
		return "", false
	}
	return versionLink[:i], true
}
