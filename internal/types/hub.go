package types

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResourceLink is a named hyperlink in a Hub resource's _meta block.
type ResourceLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// ResourceMetadata is the _meta block every Hub resource carries. Href is the
// canonical link of the resource itself.
type ResourceMetadata struct {
	Allow []string       `json:"allow,omitempty"`
	Href  string         `json:"href"`
	Links []ResourceLink `json:"links,omitempty"`
}

// Link returns the first href registered under rel.
func (m ResourceMetadata) Link(rel string) (string, bool) {
	for _, l := range m.Links {
		if l.Rel == rel && l.Href != "" {
			return l.Href, true
		}
	}
	return "", false
}

// Page is one page of a Hub collection response.
type Page[T any] struct {
	TotalCount int `json:"totalCount"`
	Items      []T `json:"items"`
}

// Well-known link relations.
const (
	LinkVersions        = "versions"
	LinkPolicyStatus    = "policy-status"
	LinkVulnerabilities = "vulnerabilities"
	LinkComponents      = "components"
	LinkPolicyRules     = "policy-rules"
)

// ProjectView is a Hub project.
type ProjectView struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Meta        ResourceMetadata `json:"_meta"`
}

// ProjectVersionView is a single version of a Hub project.
type ProjectVersionView struct {
	VersionName  string           `json:"versionName"`
	Phase        string           `json:"phase,omitempty"`
	Distribution string           `json:"distribution,omitempty"`
	Meta         ResourceMetadata `json:"_meta"`
}

// ComponentView is a Hub (knowledge base) component.
type ComponentView struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Meta        ResourceMetadata `json:"_meta"`
}

// ComponentVersionView is a version of a Hub component.
type ComponentVersionView struct {
	VersionName string           `json:"versionName"`
	ReleasedOn  *time.Time       `json:"releasedOn,omitempty"`
	Meta        ResourceMetadata `json:"_meta"`
}

// ComponentSearchResultView is one hit of the component search endpoint.
type ComponentSearchResultView struct {
	ComponentName string `json:"componentName"`
	VersionName   string `json:"versionName"`
	OriginID      string `json:"originId"`
	Component     string `json:"component"`
	Version       string `json:"version,omitempty"`
}

// PolicyRuleView is a Hub policy rule. The expression is opaque here.
type PolicyRuleView struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Enabled     bool             `json:"enabled"`
	Overridable bool             `json:"overridable"`
	Severity    string           `json:"severity,omitempty"`
	Expression  json.RawMessage  `json:"expression,omitempty"`
	Meta        ResourceMetadata `json:"_meta"`
}

// PolicyStatusCount is one bucket of the policy status summary.
type PolicyStatusCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// PolicyStatusView is the policy status of a project version.
type PolicyStatusView struct {
	OverallStatus                string              `json:"overallStatus"`
	UpdatedAt                    *time.Time          `json:"updatedAt,omitempty"`
	ComponentVersionStatusCounts []PolicyStatusCount `json:"componentVersionStatusCounts"`
	Meta                         ResourceMetadata    `json:"_meta"`
}

// VulnerabilityView is a vulnerability attached to a component version.
type VulnerabilityView struct {
	Name          string           `json:"name"`
	Source        string           `json:"source"`
	Severity      string           `json:"severity"`
	Description   string           `json:"description,omitempty"`
	PublishedDate *time.Time       `json:"publishedDate,omitempty"`
	Meta          ResourceMetadata `json:"_meta"`
}

// forgeSeparators lists the origin id separator of forges that do not use "/".
var forgeSeparators = map[string]string{
	"maven":  ":",
	"gradle": ":",
	"sbt":    ":",
}

// ExternalID identifies a component by its package-manager coordinates.
type ExternalID struct {
	Forge   string
	Group   string
	Name    string
	Version string
}

// OriginID renders the coordinates the way the Hub stores them, e.g.
// "org.apache:commons-lang3:3.12.0" for maven or "lodash/4.17.21" for npmjs.
func (e ExternalID) OriginID() string {
	sep, ok := forgeSeparators[strings.ToLower(e.Forge)]
	if !ok {
		sep = "/"
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Group, e.Name, e.Version} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, sep)
}

// SearchQuery is the component search "q" parameter for this id.
func (e ExternalID) SearchQuery() string {
	return "id:" + e.Forge + "|" + e.OriginID()
}

// LastLinkSegment returns the final path segment of a Hub link, which for
// most resources is the resource UUID.
func LastLinkSegment(link string) string {
	path := link
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// IDAfter parses the UUID that follows the given collection segment in link,
// e.g. IDAfter(".../components/<id>/versions/<vid>", "versions") is vid.
// It returns uuid.Nil when the segment is absent or not followed by a UUID.
func IDAfter(link, collection string) uuid.UUID {
	path := link
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		path = u.Path
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i := len(segs) - 2; i >= 0; i-- {
		if segs[i] != collection {
			continue
		}
		if id, err := uuid.Parse(segs[i+1]); err == nil {
			return id
		}
		return uuid.Nil
	}
	return uuid.Nil
}
