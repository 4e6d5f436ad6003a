package notification

import (
	"strings"

	"hubclient/internal/types"
)

// PolicyFilter selects which policy rules a caller cares about. The zero
// value passes everything. It is immutable and safe for concurrent use.
type PolicyFilter struct {
	allowed map[string]struct{}
}

// NewPolicyFilter builds a filter from rule ids. Entries may be rule hrefs or
// bare rule ids; blank entries are ignored.
func NewPolicyFilter(ruleIDs ...string) PolicyFilter {
	allowed := make(map[string]struct{}, len(ruleIDs))
	for _, id := range ruleIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			allowed[id] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return PolicyFilter{}
	}
	return PolicyFilter{allowed: allowed}
}

// IsEmpty reports whether the filter passes every rule.
func (f PolicyFilter) IsEmpty() bool {
	return len(f.allowed) == 0
}

// Size returns the number of configured entries.
func (f PolicyFilter) Size() int {
	return len(f.allowed)
}

// Passes returns the ids that survive the filter, in input order and without
// duplicates. A rule id passes when it, or its last link segment, is an
// allowed entry.
func (f PolicyFilter) Passes(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if f.allows(id) {
			out = append(out, id)
		}
	}
	return out
}

func (f PolicyFilter) allows(id string) bool {
	if f.IsEmpty() {
		return true
	}
	if _, ok := f.allowed[id]; ok {
		return true
	}
	_, ok := f.allowed[types.LastLinkSegment(id)]
	return ok
}
