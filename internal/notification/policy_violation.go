package notification

import (
	"hubclient/internal/types"
)

// policyViolationExpander reads the component version status rows of a
// raised or cleared policy violation. Both kinds share the payload; the
// dispatcher's kind is what tells them apart.
type policyViolationExpander struct {
	kind types.NotificationKind
}

func (e policyViolationExpander) expand(n types.RawNotification) ([]affectedItem, error) {
	c, ok := n.Content.(types.PolicyViolationContent)
	if !ok {
		return nil, malformedPayload(e.kind, n.Content)
	}
	if len(c.ComponentVersionStatuses) == 0 {
		return nil, nil
	}
	if c.ProjectVersionLink == "" {
		return nil, missingProjectVersion(e.kind)
	}

	items := make([]affectedItem, 0, len(c.ComponentVersionStatuses))
	for _, row := range c.ComponentVersionStatuses {
		items = append(items, affectedItem{
			projectName:          c.ProjectName,
			projectVersionLink:   c.ProjectVersionLink,
			componentName:        row.ComponentName,
			componentVersionName: row.ComponentVersionName,
			componentID:          row.ResolvedComponentID(),
			componentVersionID:   row.ResolvedComponentVersionID(),
			componentVersionLink: row.ComponentVersionLink,
			ruleIDs:              row.PolicyRuleIDs,
			overridingUser:       row.OverridingUser,
		})
	}
	return items, nil
}

// NewPolicyViolationBuilder builds content for newly raised violations.
func NewPolicyViolationBuilder(r EntityResolver) ContentBuilder {
	return newContentBuilder(types.KindPolicyViolation,
		policyViolationExpander{kind: types.KindPolicyViolation}, r)
}

// NewPolicyViolationClearedBuilder builds content for cleared violations.
func NewPolicyViolationClearedBuilder(r EntityResolver) ContentBuilder {
	return newContentBuilder(types.KindPolicyViolationCleared,
		policyViolationExpander{kind: types.KindPolicyViolationCleared}, r)
}
