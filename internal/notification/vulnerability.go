package notification

import (
	"slices"

	"hubclient/internal/types"
)

// vulnerabilityExpander emits one item per project version affected by a
// component version whose vulnerabilities changed. These items carry no
// policy rules.
type vulnerabilityExpander struct{}

func (vulnerabilityExpander) expand(n types.RawNotification) ([]affectedItem, error) {
	c, ok := n.Content.(types.VulnerabilityContent)
	if !ok {
		return nil, malformedPayload(types.KindVulnerability, n.Content)
	}

	items := make([]affectedItem, 0, len(c.AffectedProjectVersions))
	for _, pv := range c.AffectedProjectVersions {
		if pv.ProjectVersionLink == "" {
			return nil, missingProjectVersion(types.KindVulnerability)
		}
		items = append(items, affectedItem{
			projectName:          pv.ProjectName,
			projectVersionLink:   pv.ProjectVersionLink,
			componentName:        c.ComponentName,
			componentVersionName: c.VersionName,
			componentID:          types.IDAfter(c.ComponentVersionLink, "components"),
			componentVersionID:   types.IDAfter(c.ComponentVersionLink, "versions"),
			componentVersionLink: c.ComponentVersionLink,
			vulnerabilities: &types.VulnerabilityChange{
				New:     slices.Clone(c.NewVulnerabilityIDs),
				Updated: slices.Clone(c.UpdatedVulnerabilityIDs),
				Deleted: slices.Clone(c.DeletedVulnerabilityIDs),
			},
		})
	}
	return items, nil
}

// NewVulnerabilityBuilder builds content for vulnerability changes.
func NewVulnerabilityBuilder(r EntityResolver) ContentBuilder {
	return newContentBuilder(types.KindVulnerability, vulnerabilityExpander{}, r)
}
