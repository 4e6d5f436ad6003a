// Package notification turns Hub notifications into content items: one
// normalized record per affected component version, with the project
// version and the surviving policy rules resolved.
package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"hubclient/internal/types"

	"golang.org/x/sync/errgroup"
)

// Dispatcher routes each notification to the builder registered for its
// kind. Transform calls share no mutable state and may run concurrently.
type Dispatcher struct {
	mu          sync.RWMutex
	builders    map[types.NotificationKind]ContentBuilder
	concurrency int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithConcurrency bounds the number of notifications TransformAll works on
// at once.
func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// NewDispatcher creates a Dispatcher with the built-in builders registered
// against resolver.
func NewDispatcher(resolver EntityResolver, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		builders:    make(map[types.NotificationKind]ContentBuilder),
		concurrency: 4,
	}

	d.Register(NewPolicyViolationBuilder(resolver))
	d.Register(NewPolicyViolationClearedBuilder(resolver))
	d.Register(NewPolicyOverrideBuilder(resolver))
	d.Register(NewVulnerabilityBuilder(resolver))

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds b, replacing any builder already registered for its kind.
func (d *Dispatcher) Register(b ContentBuilder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.builders[b.Kind()] = b
}

// Kinds lists the registered kinds in lexical order.
func (d *Dispatcher) Kinds() []types.NotificationKind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	kinds := make([]types.NotificationKind, 0, len(d.builders))
	for k := range d.builders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Supports reports whether a builder is registered for kind.
func (d *Dispatcher) Supports(kind types.NotificationKind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.builders[kind]
	return ok
}

// Transform builds the content items of n. The result is never nil on
// success and keeps payload order. Every failure is a transform error
// (hub_transform_failed) whose cause carries the classified code.
func (d *Dispatcher) Transform(ctx context.Context, n types.RawNotification, filter PolicyFilter) ([]types.ContentItem, error) {
	d.mu.RLock()
	b, ok := d.builders[n.Kind]
	d.mu.RUnlock()
	if !ok {
		return nil, types.NewTransformError(n.Kind, n.ID, types.NewAppErrorWithDetails(
			types.ErrCodeUnsupportedKind,
			fmt.Sprintf("no builder registered for notification kind %q", n.Kind),
			nil,
			map[string]any{"notification_kind": string(n.Kind)},
		))
	}

	items, err := b.Build(ctx, n, filter)
	if err != nil {
		return nil, types.NewTransformError(n.Kind, n.ID, classify(ctx, err))
	}
	return items, nil
}

// TransformResult is the outcome of one notification in TransformAll.
type TransformResult struct {
	Notification types.RawNotification
	Items        []types.ContentItem
	Err          error
}

// TransformAll transforms every notification independently, with bounded
// concurrency. Results are in input order; a failure affects only its own
// notification. Cancelling ctx fails the notifications not yet done.
func (d *Dispatcher) TransformAll(ctx context.Context, ns []types.RawNotification, filter PolicyFilter) []TransformResult {
	results := make([]TransformResult, len(ns))
	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for i, n := range ns {
		g.Go(func() error {
			items, err := d.Transform(ctx, n, filter)
			results[i] = TransformResult{Notification: n, Items: items, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
