package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hubclient/internal/config"
	"hubclient/internal/hub"
	"hubclient/internal/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newHubResolver serves routes from a fixed map of path to JSON body behind
// token authentication.
func newHubResolver(t *testing.T, routes func(base string) map[string]any) (*HubResolver, string) {
	t.Helper()
	var base string
	var table map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tokens/authenticate" {
			_ = json.NewEncoder(w).Encode(map[string]any{"bearerToken": "b"})
			return
		}
		body, ok := table[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	base = server.URL
	table = routes(base)

	bc := hub.NewBaseClient(&http.Client{Timeout: 5 * time.Second}, "resolver-test", hub.RetryPolicy{}, "test",
		hub.WithSleepFunc(func(context.Context, time.Duration) error { return nil }))
	c, err := hub.NewClient(bc, config.HubConfig{URL: base, APIToken: "t", PageSize: 10})
	require.NoError(t, err)
	return NewHubResolver(c), base
}

func TestHubResolver_ResolveProjectVersion(t *testing.T) {
	r, base := newHubResolver(t, func(base string) map[string]any {
		return map[string]any{
			"/api/projects/p1/versions/v1": types.ProjectVersionView{
				VersionName: "1.0",
				Meta: types.ResourceMetadata{Href: base + "/api/projects/p1/versions/v1", Links: []types.ResourceLink{
					{Rel: "project", Href: base + "/api/projects/p1"},
				}},
			},
			"/api/projects/p1": types.ProjectView{Name: "Acme"},
		}
	})
	link := base + "/api/projects/p1/versions/v1"

	ref, err := r.ResolveProjectVersion(context.Background(), link, "Named In Payload")
	require.NoError(t, err)
	assert.Equal(t, types.ProjectVersionRef{ProjectName: "Named In Payload", VersionName: "1.0", VersionLink: link}, ref)

	ref, err = r.ResolveProjectVersion(context.Background(), link, "")
	require.NoError(t, err)
	assert.Equal(t, "Acme", ref.ProjectName)

	_, err = r.ResolveProjectVersion(context.Background(), base+"/api/projects/p1/versions/gone", "Acme")
	assert.Equal(t, types.ErrCodeEntityNotFound, types.CodeOf(err))
}

func TestHubResolver_ResolvePolicyRule(t *testing.T) {
	r, base := newHubResolver(t, func(string) map[string]any {
		return map[string]any{
			"/api/policy-rules/r1": types.PolicyRuleView{
				Name:        "No GPL",
				Description: "GPL licensed components are not allowed",
				Expression:  json.RawMessage(`{"operator":"AND"}`),
			},
		}
	})

	rule, err := r.ResolvePolicyRule(context.Background(), base+"/api/policy-rules/r1")
	require.NoError(t, err)
	assert.Equal(t, base+"/api/policy-rules/r1", rule.ID)
	assert.Equal(t, "No GPL", rule.Name)
	assert.JSONEq(t, `{"operator":"AND"}`, string(rule.Expression))

	rule, err = r.ResolvePolicyRule(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", rule.ID, "id is kept as given")
}

func TestHubResolver_ResolveComponentVersion(t *testing.T) {
	componentID := uuid.New()
	versionID := uuid.New()
	componentPath := "/api/components/" + componentID.String()
	versionPath := componentPath + "/versions/" + versionID.String()

	r, base := newHubResolver(t, func(string) map[string]any {
		return map[string]any{
			componentPath: types.ComponentView{Name: "log4j-core"},
			versionPath:   types.ComponentVersionView{VersionName: "2.14.1"},
		}
	})

	ref, err := r.ResolveComponentVersion(context.Background(), base+versionPath)
	require.NoError(t, err)
	assert.Equal(t, types.ComponentVersionRef{
		ComponentName: "log4j-core",
		VersionName:   "2.14.1",
		ComponentID:   componentID,
		VersionID:     versionID,
		Link:          base + versionPath,
	}, ref)
}

func TestComponentOf(t *testing.T) {
	link, ok := componentOf("https://hub/api/components/c1/versions/v1")
	assert.True(t, ok)
	assert.Equal(t, "https://hub/api/components/c1", link)

	_, ok = componentOf("https://hub/api/components/c1")
	assert.False(t, ok)
}

func TestHubResolver_EndToEndTransform(t *testing.T) {
	r, base := newHubResolver(t, func(base string) map[string]any {
		return map[string]any{
			"/api/projects/p1/versions/42": types.ProjectVersionView{VersionName: "v1.2.0"},
			"/api/policy-rules/R1":         types.PolicyRuleView{Name: "High Severity"},
		}
	})
	d := NewDispatcher(r)

	n := types.RawNotification{
		ID:   "n1",
		Kind: types.KindPolicyViolation,
		Content: types.PolicyViolationContent{
			ProjectName:        "Acme",
			ProjectVersionLink: base + "/api/projects/p1/versions/42",
			ComponentVersionStatuses: []types.ComponentVersionStatus{
				{ComponentName: "libX", ComponentVersionName: "1.2", PolicyRuleIDs: []string{base + "/api/policy-rules/R1", base + "/api/policy-rules/R2"}},
				{ComponentName: "libY", ComponentVersionName: "3.0"},
			},
		},
	}

	// R2 does not exist on the Hub; filtering it out means it is never asked for.
	items, err := d.Transform(context.Background(), n, NewPolicyFilter("R1"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "High Severity", items[0].PolicyRules[0].Name)
	assert.Equal(t, "v1.2.0", items[1].ProjectVersion.VersionName)
	assert.Empty(t, items[1].PolicyRules)
}
