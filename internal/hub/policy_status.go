package hub

import (
	"context"

	"hubclient/internal/types"
)

// PolicyStatusService reports the policy status of a project version.
type PolicyStatusService struct {
	projects *ProjectService
	client   *Client
}

// NewPolicyStatusService creates a PolicyStatusService.
func NewPolicyStatusService(c *Client, projects *ProjectService) *PolicyStatusService {
	return &PolicyStatusService{projects: projects, client: c}
}

// GetPolicyStatus resolves projectName, finds versionName among its
// versions and fetches the version's policy status.
//
// An unknown project or version is hub_entity_not_found. A version without a
// policy-status link is hub_link_not_found.
func (s *PolicyStatusService) GetPolicyStatus(ctx context.Context, projectName, versionName string) (types.PolicyStatus, error) {
	project, err := s.projects.GetProjectByName(ctx, projectName)
	if err != nil {
		return types.PolicyStatus{}, err
	}
	version, err := s.projects.GetProjectVersion(ctx, project, versionName)
	if err != nil {
		return types.PolicyStatus{}, err
	}
	link, err := FirstLink(version.Meta, types.LinkPolicyStatus)
	if err != nil {
		return types.PolicyStatus{}, err
	}

	var view types.PolicyStatusView
	if err := s.client.GetResource(ctx, link, &view); err != nil {
		return types.PolicyStatus{}, err
	}

	counts := make(map[string]int, len(view.ComponentVersionStatusCounts))
	for _, c := range view.ComponentVersionStatusCounts {
		counts[c.Name] = c.Value
	}
	return types.PolicyStatus{
		ProjectVersion: types.ProjectVersionRef{
			ProjectName: project.Name,
			VersionName: version.VersionName,
			VersionLink: version.Meta.Href,
		},
		OverallStatus: view.OverallStatus,
		UpdatedAt:     view.UpdatedAt,
		Counts:        counts,
	}, nil
}
