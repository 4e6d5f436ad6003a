package notification

import (
	"hubclient/internal/types"
)

// policyOverrideExpander reads the single component version whose violation
// a user overrode.
type policyOverrideExpander struct{}

func (policyOverrideExpander) expand(n types.RawNotification) ([]affectedItem, error) {
	c, ok := n.Content.(types.PolicyOverrideContent)
	if !ok {
		return nil, malformedPayload(types.KindPolicyOverride, n.Content)
	}
	if c.ProjectVersionLink == "" {
		return nil, missingProjectVersion(types.KindPolicyOverride)
	}

	row := types.ComponentVersionStatus{
		ComponentLink:        c.ComponentLink,
		ComponentVersionLink: c.ComponentVersionLink,
		ComponentID:          c.ComponentID,
		ComponentVersionID:   c.ComponentVersionID,
	}
	var user *types.UserRef
	if c.FirstName != "" || c.LastName != "" {
		user = &types.UserRef{FirstName: c.FirstName, LastName: c.LastName}
	}

	return []affectedItem{{
		projectName:          c.ProjectName,
		projectVersionLink:   c.ProjectVersionLink,
		componentName:        c.ComponentName,
		componentVersionName: c.ComponentVersionName,
		componentID:          row.ResolvedComponentID(),
		componentVersionID:   row.ResolvedComponentVersionID(),
		componentVersionLink: c.ComponentVersionLink,
		ruleIDs:              c.PolicyRuleIDs,
		overridingUser:       user,
	}}, nil
}

// NewPolicyOverrideBuilder builds content for overridden violations.
func NewPolicyOverrideBuilder(r EntityResolver) ContentBuilder {
	return newContentBuilder(types.KindPolicyOverride, policyOverrideExpander{}, r)
}
