package hub

import (
	"context"
	"fmt"
	"net/url"

	"hubclient/internal/types"
)

const projectsPath = "/api/projects"

// ProjectService looks up projects and their versions.
type ProjectService struct {
	client *Client
}

// NewProjectService creates a ProjectService.
func NewProjectService(c *Client) *ProjectService {
	return &ProjectService{client: c}
}

// GetProjectByName returns the project whose name is exactly name.
func (s *ProjectService) GetProjectByName(ctx context.Context, name string) (types.ProjectView, error) {
	projects, err := GetAllPages[types.ProjectView](ctx, s.client, projectsPath, url.Values{"q": {"name:" + name}})
	if err != nil {
		return types.ProjectView{}, err
	}
	for _, p := range projects {
		if p.Name == name {
			return p, nil
		}
	}
	return types.ProjectView{}, types.NewAppErrorWithDetails(types.ErrCodeEntityNotFound,
		fmt.Sprintf("project %q does not exist", name), nil, map[string]any{"project": name})
}

// GetProjectVersions lists every version of project.
func (s *ProjectService) GetProjectVersions(ctx context.Context, project types.ProjectView) ([]types.ProjectVersionView, error) {
	link, err := FirstLink(project.Meta, types.LinkVersions)
	if err != nil {
		return nil, err
	}
	return GetAllPages[types.ProjectVersionView](ctx, s.client, link, nil)
}

// GetProjectVersion returns the version of project named versionName.
func (s *ProjectService) GetProjectVersion(ctx context.Context, project types.ProjectView, versionName string) (types.ProjectVersionView, error) {
	versions, err := s.GetProjectVersions(ctx, project)
	if err != nil {
		return types.ProjectVersionView{}, err
	}
	for _, v := range versions {
		if v.VersionName == versionName {
			return v, nil
		}
	}
	return types.ProjectVersionView{}, types.NewAppErrorWithDetails(types.ErrCodeEntityNotFound,
		fmt.Sprintf("project %q has no version %q", project.Name, versionName), nil,
		map[string]any{"project": project.Name, "version": versionName})
}

// GetProjectVersionByLink fetches a project version by its href.
func (s *ProjectService) GetProjectVersionByLink(ctx context.Context, link string) (types.ProjectVersionView, error) {
	var v types.ProjectVersionView
	if err := s.client.GetResource(ctx, link, &v); err != nil {
		return types.ProjectVersionView{}, err
	}
	return v, nil
}
