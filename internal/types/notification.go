package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContentContractVersion versions the ContentItem field set that reports,
// emails and dashboards render against. Bump it on any field change.
const ContentContractVersion = "1"

// NotificationKind is the Hub notification type discriminator.
type NotificationKind string

const (
	KindPolicyViolation        NotificationKind = "RULE_VIOLATION"
	KindPolicyViolationCleared NotificationKind = "RULE_VIOLATION_CLEARED"
	KindPolicyOverride         NotificationKind = "POLICY_OVERRIDE"
	KindVulnerability          NotificationKind = "VULNERABILITY"

	// Kinds the Hub emits that carry no component content.
	KindBomEdit        NotificationKind = "BOM_EDIT"
	KindProjectVersion NotificationKind = "PROJECT_VERSION"
)

// NotificationState is the read state of a per-user notification.
type NotificationState string

const (
	NotificationStateNew      NotificationState = "NEW"
	NotificationStateSeen     NotificationState = "SEEN"
	NotificationStateArchived NotificationState = "ARCHIVED"
)

// NotificationView is a notification as listed by /api/notifications.
type NotificationView struct {
	ContentType string           `json:"contentType"`
	CreatedAt   time.Time        `json:"createdAt"`
	Type        NotificationKind `json:"type"`
	Content     json.RawMessage  `json:"content"`
	Meta        ResourceMetadata `json:"_meta"`
}

// NotificationUserView is a notification as listed by
// /api/users/{id}/notifications. It adds the per-user read state.
type NotificationUserView struct {
	ContentType       string            `json:"contentType"`
	CreatedAt         time.Time         `json:"createdAt"`
	Type              NotificationKind  `json:"type"`
	Content           json.RawMessage   `json:"content"`
	NotificationState NotificationState `json:"notificationState"`
	Meta              ResourceMetadata  `json:"_meta"`
}

// CommonNotification is the single internal shape both listing views are
// converted into at ingestion. NotificationState is empty for the
// system-wide view.
type CommonNotification struct {
	ContentType       string
	CreatedAt         time.Time
	Type              NotificationKind
	NotificationState NotificationState
	Content           json.RawMessage
	Meta              ResourceMetadata
}

// CommonFromNotificationView flattens a system-wide notification.
func CommonFromNotificationView(v NotificationView) CommonNotification {
	return CommonNotification{
		ContentType: v.ContentType,
		CreatedAt:   v.CreatedAt,
		Type:        v.Type,
		Content:     v.Content,
		Meta:        v.Meta,
	}
}

// CommonFromUserView flattens a per-user notification.
func CommonFromUserView(v NotificationUserView) CommonNotification {
	return CommonNotification{
		ContentType:       v.ContentType,
		CreatedAt:         v.CreatedAt,
		Type:              v.Type,
		NotificationState: v.NotificationState,
		Content:           v.Content,
		Meta:              v.Meta,
	}
}

// NotificationContent is the kind-specific payload of a RawNotification.
// It is implemented only by the payload types in this package.
type NotificationContent interface {
	notificationContent()
}

// RawNotification is a notification event as delivered by the Hub, decoded
// into its kind-specific payload. Content is nil for kinds that carry no
// payload this module understands.
type RawNotification struct {
	ID        string              `json:"id"`
	CreatedAt time.Time           `json:"createdAt"`
	Kind      NotificationKind    `json:"type"`
	Content   NotificationContent `json:"content"`
}

// UserRef names the user that overrode a policy violation.
type UserRef struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// ComponentVersionStatus is one affected component version of a policy
// notification and the policy rules implicated by it. Rule ids are the rule
// hrefs as sent by the Hub.
type ComponentVersionStatus struct {
	ComponentName        string    `json:"componentName"`
	ComponentVersionName string    `json:"componentVersionName"`
	ComponentLink        string    `json:"component,omitempty"`
	ComponentVersionLink string    `json:"componentVersion,omitempty"`
	ComponentID          uuid.UUID `json:"componentId,omitempty"`
	ComponentVersionID   uuid.UUID `json:"componentVersionId,omitempty"`
	PolicyRuleIDs        []string  `json:"policies"`
	OverridingUser       *UserRef  `json:"overridingUser,omitempty"`
}

// ResolvedComponentID returns ComponentID, falling back to the id embedded
// in the component or component version link.
func (s ComponentVersionStatus) ResolvedComponentID() uuid.UUID {
	if s.ComponentID != uuid.Nil {
		return s.ComponentID
	}
	if id := IDAfter(s.ComponentLink, "components"); id != uuid.Nil {
		return id
	}
	return IDAfter(s.ComponentVersionLink, "components")
}

// ResolvedComponentVersionID returns ComponentVersionID, falling back to the
// id embedded in the component version link.
func (s ComponentVersionStatus) ResolvedComponentVersionID() uuid.UUID {
	if s.ComponentVersionID != uuid.Nil {
		return s.ComponentVersionID
	}
	return IDAfter(s.ComponentVersionLink, "versions")
}

// PolicyViolationContent is the payload of raised and cleared policy
// violation notifications.
type PolicyViolationContent struct {
	ProjectName                  string                   `json:"projectName"`
	ProjectVersionName           string                   `json:"projectVersionName,omitempty"`
	ProjectVersionLink           string                   `json:"projectVersion"`
	ComponentVersionsInViolation int                      `json:"componentVersionsInViolation,omitempty"`
	ComponentVersionStatuses     []ComponentVersionStatus `json:"componentVersionStatuses"`
}

func (PolicyViolationContent) notificationContent() {}

// PolicyOverrideContent is the payload of a policy override notification:
// a single component version whose violation a user overrode.
type PolicyOverrideContent struct {
	ProjectName          string    `json:"projectName"`
	ProjectVersionName   string    `json:"projectVersionName,omitempty"`
	ProjectVersionLink   string    `json:"projectVersion"`
	ComponentName        string    `json:"componentName"`
	ComponentVersionName string    `json:"componentVersionName"`
	ComponentLink        string    `json:"component,omitempty"`
	ComponentVersionLink string    `json:"componentVersion,omitempty"`
	ComponentID          uuid.UUID `json:"componentId,omitempty"`
	ComponentVersionID   uuid.UUID `json:"componentVersionId,omitempty"`
	FirstName            string    `json:"firstName"`
	LastName             string    `json:"lastName"`
	PolicyRuleIDs        []string  `json:"policies"`
}

func (PolicyOverrideContent) notificationContent() {}

// VulnerabilitySourceQualifiedID names a vulnerability within its source
// (e.g. NVD CVE-2021-44228).
type VulnerabilitySourceQualifiedID struct {
	Source          string `json:"source"`
	VulnerabilityID string `json:"vulnerabilityId"`
}

// AffectedProjectVersion is a project version that contains a component
// version whose vulnerabilities changed.
type AffectedProjectVersion struct {
	ProjectName        string `json:"projectName"`
	ProjectVersionName string `json:"projectVersionName,omitempty"`
	ProjectVersionLink string `json:"projectVersion"`
}

// VulnerabilityContent is the payload of a vulnerability notification.
type VulnerabilityContent struct {
	ComponentName              string                           `json:"componentName"`
	VersionName                string                           `json:"versionName"`
	ComponentVersionLink       string                           `json:"componentVersion"`
	ComponentVersionOriginName string                           `json:"componentVersionOriginName,omitempty"`
	ComponentVersionOriginID   string                           `json:"componentVersionOriginId,omitempty"`
	NewVulnerabilityIDs        []VulnerabilitySourceQualifiedID `json:"newVulnerabilityIds"`
	UpdatedVulnerabilityIDs    []VulnerabilitySourceQualifiedID `json:"updatedVulnerabilityIds"`
	DeletedVulnerabilityIDs    []VulnerabilitySourceQualifiedID `json:"deletedVulnerabilityIds"`
	AffectedProjectVersions    []AffectedProjectVersion         `json:"affectedProjectVersions"`
}

func (VulnerabilityContent) notificationContent() {}

// rawNotificationWire is the JSON shape of a RawNotification.
type rawNotificationWire struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"createdAt"`
	Kind      NotificationKind `json:"type"`
	Content   json.RawMessage  `json:"content"`
}

// UnmarshalJSON decodes the payload according to the "type" discriminator.
func (n *RawNotification) UnmarshalJSON(data []byte) error {
	var w rawNotificationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	content, err := DecodeContent(w.Kind, w.Content)
	if err != nil {
		return err
	}
	*n = RawNotification{ID: w.ID, CreatedAt: w.CreatedAt, Kind: w.Kind, Content: content}
	return nil
}

// DecodeContent decodes raw into the payload type registered for kind.
// Kinds without a payload type decode to a nil content and no error, so the
// dispatcher can reject them as unsupported.
func DecodeContent(kind NotificationKind, raw json.RawMessage) (NotificationContent, error) {
	var target NotificationContent
	switch kind {
	case KindPolicyViolation, KindPolicyViolationCleared:
		var c PolicyViolationContent
		if err := decodeIfPresent(raw, &c); err != nil {
			return nil, fmt.Errorf("decoding %s content: %w", kind, err)
		}
		target = c
	case KindPolicyOverride:
		var c PolicyOverrideContent
		if err := decodeIfPresent(raw, &c); err != nil {
			return nil, fmt.Errorf("decoding %s content: %w", kind, err)
		}
		target = c
	case KindVulnerability:
		var c VulnerabilityContent
		if err := decodeIfPresent(raw, &c); err != nil {
			return nil, fmt.Errorf("decoding %s content: %w", kind, err)
		}
		target = c
	}
	return target, nil
}

func decodeIfPresent(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// ProjectVersionRef is the resolved identity of a project version.
type ProjectVersionRef struct {
	ProjectName string `json:"projectName"`
	VersionName string `json:"versionName"`
	VersionLink string `json:"versionLink"`
}

// PolicyRule is a resolved policy rule. ID is the rule href.
type PolicyRule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Expression  json.RawMessage `json:"expression,omitempty"`
}

// ComponentVersionRef is the resolved identity of a component version.
type ComponentVersionRef struct {
	ComponentName string    `json:"componentName"`
	VersionName   string    `json:"versionName"`
	ComponentID   uuid.UUID `json:"componentId"`
	VersionID     uuid.UUID `json:"versionId"`
	Link          string    `json:"link"`
}

// VulnerabilityChange lists the vulnerabilities a notification added,
// updated or removed on a component version.
type VulnerabilityChange struct {
	New     []VulnerabilitySourceQualifiedID `json:"new"`
	Updated []VulnerabilitySourceQualifiedID `json:"updated"`
	Deleted []VulnerabilitySourceQualifiedID `json:"deleted"`
}

// ContentItem is the normalized record produced for one affected component
// version of a notification. Its JSON field names are the output contract
// versioned by ContentContractVersion. PolicyRules is never nil.
// OverridingUser is set for POLICY_OVERRIDE and for status rows that carry
// one. Vulnerabilities is set only for VULNERABILITY.
type ContentItem struct {
	CreatedAt            time.Time            `json:"createdAt"`
	Kind                 NotificationKind     `json:"kind"`
	ProjectVersion       ProjectVersionRef    `json:"projectVersion"`
	ComponentName        string               `json:"componentName"`
	ComponentVersionName string               `json:"componentVersionName"`
	ComponentID          uuid.UUID            `json:"componentId"`
	ComponentVersionID   uuid.UUID            `json:"componentVersionId"`
	PolicyRules          []PolicyRule         `json:"policyRules"`
	OverridingUser       *UserRef             `json:"overridingUser,omitempty"`
	Vulnerabilities      *VulnerabilityChange `json:"vulnerabilities,omitempty"`
}

// PolicyStatus summarizes the policy status of a project version.
type PolicyStatus struct {
	ProjectVersion ProjectVersionRef `json:"projectVersion"`
	OverallStatus  string            `json:"overallStatus"`
	UpdatedAt      *time.Time        `json:"updatedAt,omitempty"`
	Counts         map[string]int    `json:"counts"`
}
