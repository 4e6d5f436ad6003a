package hub

import (
	"context"
	"fmt"
	"net/url"

	"hubclient/internal/types"
)

const componentsPath = "/api/components"

// ComponentService searches the Hub knowledge base for components.
type ComponentService struct {
	client *Client
}

// NewComponentService creates a ComponentService.
func NewComponentService(c *Client) *ComponentService {
	return &ComponentService{client: c}
}

// SearchComponents runs the component search for id.
func (s *ComponentService) SearchComponents(ctx context.Context, id types.ExternalID) ([]types.ComponentSearchResultView, error) {
	return GetAllPages[types.ComponentSearchResultView](ctx, s.client, componentsPath, url.Values{"q": {id.SearchQuery()}})
}

// GetExactComponentMatch returns the search hit whose origin id equals id's.
func (s *ComponentService) GetExactComponentMatch(ctx context.Context, id types.ExternalID) (types.ComponentSearchResultView, error) {
	hits, err := s.SearchComponents(ctx, id)
	if err != nil {
		return types.ComponentSearchResultView{}, err
	}
	origin := id.OriginID()
	for _, h := range hits {
		if h.OriginID == origin {
			return h, nil
		}
	}
	return types.ComponentSearchResultView{}, types.NewAppErrorWithDetails(types.ErrCodeEntityNotFound,
		fmt.Sprintf("no component exactly matches %s", origin), nil,
		map[string]any{"forge": id.Forge, "origin_id": origin})
}

// GetComponentVersions lists every version of the component matching id.
func (s *ComponentService) GetComponentVersions(ctx context.Context, id types.ExternalID) ([]types.ComponentVersionView, error) {
	hit, err := s.GetExactComponentMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	var component types.ComponentView
	if err := s.client.GetResource(ctx, hit.Component, &component); err != nil {
		return nil, err
	}
	link, err := FirstLink(component.Meta, types.LinkVersions)
	if err != nil {
		return nil, err
	}
	return GetAllPages[types.ComponentVersionView](ctx, s.client, link, nil)
}

// GetExactComponentVersion returns the version of the component matching id
// whose name is id.Version.
func (s *ComponentService) GetExactComponentVersion(ctx context.Context, id types.ExternalID) (types.ComponentVersionView, error) {
	versions, err := s.GetComponentVersions(ctx, id)
	if err != nil {
		return types.ComponentVersionView{}, err
	}
	for _, v := range versions {
		if v.VersionName == id.Version {
			return v, nil
		}
	}
	return types.ComponentVersionView{}, types.NewAppErrorWithDetails(types.ErrCodeEntityNotFound,
		fmt.Sprintf("could not find version %s of component %s", id.Version, id.OriginID()), nil,
		map[string]any{"forge": id.Forge, "origin_id": id.OriginID()})
}

// GetVulnerabilities lists the vulnerabilities of the component version
// matching id.
func (s *ComponentService) GetVulnerabilities(ctx context.Context, id types.ExternalID) ([]types.VulnerabilityView, error) {
	hit, err := s.GetExactComponentMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if hit.Version == "" {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeLinkNotFound,
			fmt.Sprintf("component %s has no version link", id.OriginID()), nil,
			map[string]any{"origin_id": id.OriginID()})
	}
	version, err := s.GetComponentVersionByLink(ctx, hit.Version)
	if err != nil {
		return nil, err
	}
	link, err := FirstLink(version.Meta, types.LinkVulnerabilities)
	if err != nil {
		return nil, err
	}
	return GetAllPages[types.VulnerabilityView](ctx, s.client, link, nil)
}

// GetComponentVersionByLink fetches a component version by its href.
func (s *ComponentService) GetComponentVersionByLink(ctx context.Context, link string) (types.ComponentVersionView, error) {
	var v types.ComponentVersionView
	if err := s.client.GetResource(ctx, link, &v); err != nil {
		return types.ComponentVersionView{}, err
	}
	return v, nil
}

// GetComponentByLink fetches a component by its href.
func (s *ComponentService) GetComponentByLink(ctx context.Context, link string) (types.ComponentView, error) {
	var c types.ComponentView
	if err := s.client.GetResource(ctx, link, &c); err != nil {
		return types.ComponentView{}, err
	}
	return c, nil
}
