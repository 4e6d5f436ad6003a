package notification

import (
	"context"
	"sync"

	"hubclient/internal/types"
)

// fakeResolver answers from fixed maps and records every call.
type fakeResolver struct {
	mu sync.Mutex

	versions   map[string]types.ProjectVersionRef
	rules      map[string]types.PolicyRule
	components map[string]types.ComponentVersionRef
	failures   map[string]error // keyed by link or rule id

	// block makes calls for these keys wait until ctx is done.
	block map[string]bool

	versionCalls   []string
	ruleCalls      []string
	componentCalls []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		versions:   map[string]types.ProjectVersionRef{},
		rules:      map[string]types.PolicyRule{},
		components: map[string]types.ComponentVersionRef{},
		failures:   map[string]error{},
		block:      map[string]bool{},
	}
}

func (f *fakeResolver) wait(ctx context.Context, key string) error {
	f.mu.Lock()
	block := f.block[key]
	err := f.failures[key]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeResolver) ResolveProjectVersion(ctx context.Context, link, projectName string) (types.ProjectVersionRef, error) {
	f.mu.Lock()
	f.versionCalls = append(f.versionCalls, link)
	f.mu.Unlock()
	if err := f.wait(ctx, link); err != nil {
		return types.ProjectVersionRef{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.versions[link]
	if !ok {
		return types.ProjectVersionRef{}, types.NewAppError(types.ErrCodeEntityNotFound, "no such version", nil)
	}
	if ref.ProjectName == "" {
		ref.ProjectName = projectName
	}
	return ref, nil
}

func (f *fakeResolver) ResolvePolicyRule(ctx context.Context, id string) (types.PolicyRule, error) {
	f.mu.Lock()
	f.ruleCalls = append(f.ruleCalls, id)
	f.mu.Unlock()
	if err := f.wait(ctx, id); err != nil {
		return types.PolicyRule{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rule, ok := f.rules[id]
	if !ok {
		return types.PolicyRule{}, types.NewAppError(types.ErrCodeEntityNotFound, "no such rule", nil)
	}
	return rule, nil
}

func (f *fakeResolver) ResolveComponentVersion(ctx context.Context, link string) (types.ComponentVersionRef, error) {
	f.mu.Lock()
	f.componentCalls = append(f.componentCalls, link)
	f.mu.Unlock()
	if err := f.wait(ctx, link); err != nil {
		return types.ComponentVersionRef{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.components[link]
	if !ok {
		return types.ComponentVersionRef{}, types.NewAppError(types.ErrCodeEntityNotFound, "no such component version", nil)
	}
	return ref, nil
}

func (f *fakeResolver) calls() (versions, rules, components []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.versionCalls...),
		append([]string(nil), f.ruleCalls...),
		append([]string(nil), f.componentCalls...)
}
