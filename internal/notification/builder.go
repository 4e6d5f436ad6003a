package notification

import (
	"context"
	"fmt"

	"hubclient/internal/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ContentBuilder turns one notification of its kind into content items.
// Build is all-or-nothing: on error no items are returned.
type ContentBuilder interface {
	Kind() types.NotificationKind
	Build(ctx context.Context, n types.RawNotification, filter PolicyFilter) ([]types.ContentItem, error)
}

// affectedItem is one affected component version read from a payload,
// before any remote resolution.
type affectedItem struct {
	projectName          string
	projectVersionLink   string
	componentName        string
	componentVersionName string
	componentID          uuid.UUID
	componentVersionID   uuid.UUID
	componentVersionLink string
	ruleIDs              []string
	overridingUser       *types.UserRef
	vulnerabilities      *types.VulnerabilityChange
}

// needsComponent reports whether the payload left the component identity
// incomplete and a component version link is available to complete it.
func (a affectedItem) needsComponent() bool {
	if a.componentVersionLink == "" {
		return false
	}
	return a.componentName == "" || a.componentVersionName == "" ||
		a.componentID == uuid.Nil || a.componentVersionID == uuid.Nil
}

// expander is the per-kind hook of contentBuilder: it reads the affected
// items out of a payload and stamps the kind-specific extensions.
type expander interface {
	expand(n types.RawNotification) ([]affectedItem, error)
}

// contentBuilder implements the resolve, filter and emit steps shared by
// every kind.
type contentBuilder struct {
	kind     types.NotificationKind
	expander expander
	resolver EntityResolver
}

func newContentBuilder(kind types.NotificationKind, e expander, r EntityResolver) *contentBuilder {
	return &contentBuilder{kind: kind, expander: e, resolver: r}
}

func (b *contentBuilder) Kind() types.NotificationKind {
	return b.kind
}

// resolution collects the entities fetched for one Build call.
type resolution struct {
	versionLinks   []string
	projectNames   []string
	versions       []types.ProjectVersionRef
	ruleIDs        []string
	rules          []types.PolicyRule
	componentLinks []string
	components     []types.ComponentVersionRef
}

func (b *contentBuilder) Build(ctx context.Context, n types.RawNotification, filter PolicyFilter) ([]types.ContentItem, error) {
	if err := types.ClassifyContextError(ctx, nil); err != nil {
		return nil, err
	}

	items, err := b.expander.expand(n)
	if err != nil {
		return nil, err
	}

	// Filter before fetch: only surviving rule ids are ever resolved. The
	// project version is resolved regardless so a deleted version fails the
	// call even when every row is filtered out.
	kept := make([]affectedItem, 0, len(items))
	for _, it := range items {
		passing := filter.Passes(it.ruleIDs)
		if len(it.ruleIDs) > 0 && len(passing) == 0 {
			continue
		}
		it.ruleIDs = passing
		kept = append(kept, it)
	}

	res := plan(items, kept)
	if err := b.resolve(ctx, res); err != nil {
		return nil, err
	}
	return b.emit(n, kept, res), nil
}

// plan lists the distinct references to fetch, in first-seen order: project
// versions for every expanded item, rules and components for kept ones.
func plan(items, kept []affectedItem) *resolution {
	res := &resolution{}
	seenVersion := map[string]bool{}
	seenRule := map[string]bool{}
	seenComponent := map[string]bool{}
	for _, it := range items {
		if !seenVersion[it.projectVersionLink] {
			seenVersion[it.projectVersionLink] = true
			res.versionLinks = append(res.versionLinks, it.projectVersionLink)
			res.projectNames = append(res.projectNames, it.projectName)
		}
	}
	for _, it := range kept {
		for _, id := range it.ruleIDs {
			if !seenRule[id] {
				seenRule[id] = true
				res.ruleIDs = append(res.ruleIDs, id)
			}
		}
		if it.needsComponent() && !seenComponent[it.componentVersionLink] {
			seenComponent[it.componentVersionLink] = true
			res.componentLinks = append(res.componentLinks, it.componentVersionLink)
		}
	}
	res.versions = make([]types.ProjectVersionRef, len(res.versionLinks))
	res.rules = make([]types.PolicyRule, len(res.ruleIDs))
	res.components = make([]types.ComponentVersionRef, len(res.componentLinks))
	return res
}

// resolve fetches every planned reference concurrently. The first failure
// cancels the rest.
func (b *contentBuilder) resolve(ctx context.Context, res *resolution) error {
	g, gctx := errgroup.WithContext(ctx)

	for i, link := range res.versionLinks {
		g.Go(func() error {
			ref, err := b.resolver.ResolveProjectVersion(gctx, link, res.projectNames[i])
			if err != nil {
				return err
			}
			res.versions[i] = ref
			return nil
		})
	}
	for i, id := range res.ruleIDs {
		g.Go(func() error {
			rule, err := b.resolver.ResolvePolicyRule(gctx, id)
			if err != nil {
				return err
			}
			res.rules[i] = rule
			return nil
		})
	}
	for i, link := range res.componentLinks {
		g.Go(func() error {
			ref, err := b.resolver.ResolveComponentVersion(gctx, link)
			if err != nil {
				return err
			}
			res.components[i] = ref
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return classify(ctx, err)
	}
	return nil
}

// classify maps a resolution failure onto the error taxonomy. Errors that
// are already classified pass through.
func classify(ctx context.Context, err error) error {
	if ctxErr := types.ClassifyContextError(ctx, err); ctxErr != nil {
		return ctxErr
	}
	if types.CodeOf(err) != "" {
		return err
	}
	return types.NewAppError(types.ErrCodeEntityResolution, "entity resolution failed", err)
}

func (b *contentBuilder) emit(n types.RawNotification, items []affectedItem, res *resolution) []types.ContentItem {
	versions := make(map[string]types.ProjectVersionRef, len(res.versionLinks))
	for i, link := range res.versionLinks {
		versions[link] = res.versions[i]
	}
	rules := make(map[string]types.PolicyRule, len(res.ruleIDs))
	for i, id := range res.ruleIDs {
		rules[id] = res.rules[i]
	}
	components := make(map[string]types.ComponentVersionRef, len(res.componentLinks))
	for i, link := range res.componentLinks {
		components[link] = res.components[i]
	}

	out := make([]types.ContentItem, 0, len(items))
	for _, it := range items {
		item := types.ContentItem{
			CreatedAt:            n.CreatedAt,
			Kind:                 b.kind,
			ProjectVersion:       versions[it.projectVersionLink],
			ComponentName:        it.componentName,
			ComponentVersionName: it.componentVersionName,
			ComponentID:          it.componentID,
			ComponentVersionID:   it.componentVersionID,
			PolicyRules:          make([]types.PolicyRule, 0, len(it.ruleIDs)),
			OverridingUser:       it.overridingUser,
			Vulnerabilities:      it.vulnerabilities,
		}
		if ref, ok := components[it.componentVersionLink]; ok && it.needsComponent() {
			fillComponent(&item, ref)
		}
		for _, id := range it.ruleIDs {
			item.PolicyRules = append(item.PolicyRules, rules[id])
		}
		out = append(out, item)
	}
	return out
}

func fillComponent(item *types.ContentItem, ref types.ComponentVersionRef) {
	if item.ComponentName == "" {
		item.ComponentName = ref.ComponentName
	}
	if item.ComponentVersionName == "" {
		item.ComponentVersionName = ref.VersionName
	}
	if item.ComponentID == uuid.Nil {
		item.ComponentID = ref.ComponentID
	}
	if item.ComponentVersionID == uuid.Nil {
		item.ComponentVersionID = ref.VersionID
	}
}

// malformedPayload reports a content of the wrong type for the builder.
func malformedPayload(kind types.NotificationKind, content types.NotificationContent) error {
	return types.NewAppErrorWithDetails(types.ErrCodeEntityResolution,
		fmt.Sprintf("malformed %s payload", kind), nil,
		map[string]any{"content_type": fmt.Sprintf("%T", content)})
}

// missingProjectVersion reports a payload with affected items but no
// project version link to resolve them against.
func missingProjectVersion(kind types.NotificationKind) error {
	return types.NewAppError(types.ErrCodeLinkNotFound,
		fmt.Sprintf("%s payload has no project version link", kind), nil)
}
