// Package poller implements the scheduled job that pulls new notifications
// from the Hub, turns them into content items and hands the items to the
// store and the downstream queue.
//
// Key behaviors:
//   - Notifications are read from the last watermark (or a lookback window on
//     the first run) up to now, oldest first.
//   - Each notification is transformed independently; a failure is logged by
//     class and skips only that notification.
//   - Cancellation or a delivery failure stops the poll and stores the
//     progress made before it.
//   - The watermark advances to the newest notification whose items were
//     stored and published, but never past the oldest notification that
//     failed with a retryable Hub error, so the next poll lists it again.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hubclient/internal/hub"
	"hubclient/internal/metrics"
	"hubclient/internal/notification"
	"hubclient/internal/types"
)

// WatermarkStore persists the poll position.
type WatermarkStore interface {
	Get(ctx context.Context, name string) (time.Time, bool, error)
	Set(ctx context.Context, name string, at time.Time) error
}

// NotificationSource lists Hub notifications created in [start, end],
// oldest first.
type NotificationSource interface {
	ListNotifications(ctx context.Context, start, end time.Time) ([]types.CommonNotification, error)
	ListUserNotifications(ctx context.Context, userID string, start, end time.Time) ([]types.CommonNotification, error)
}

// Transformer turns decoded notifications into content items.
type Transformer interface {
	TransformAll(ctx context.Context, ns []types.RawNotification, filter notification.PolicyFilter) []notification.TransformResult
}

// ItemStore persists the items of one notification.
type ItemStore interface {
	SaveBatch(ctx context.Context, notificationID string, items []types.ContentItem) error
}

// Publisher forwards the items of one notification downstream.
type Publisher interface {
	Publish(ctx context.Context, n types.RawNotification, items []types.ContentItem) error
}

// PollInput is the payload of a scheduled or manual invocation.
type PollInput struct {
	// Since overrides the stored watermark, e.g. for a replay.
	Since *time.Time `json:"since,omitempty"`
	// RuleIDs overrides the configured policy rule filter.
	RuleIDs []string `json:"rule_ids,omitempty"`
}

// PollResult summarizes one poll.
type PollResult struct {
	Listed      int       `json:"listed"`
	Transformed int       `json:"transformed"`
	Items       int       `json:"items"`
	Unsupported int       `json:"unsupported"`
	Failed      int       `json:"failed"`
	Watermark   time.Time `json:"watermark"`
}

// Config holds the dependencies and settings of a NotificationPoller.
type Config struct {
	Name        string
	UserID      string
	Lookback    time.Duration
	RuleIDs     []string
	Watermarks  WatermarkStore
	Source      NotificationSource
	Transformer Transformer
	Store       ItemStore
	Publisher   Publisher
	Metrics     metrics.TransformMetrics
	Clock       types.Clock
	Logger      *slog.Logger
}

// NotificationPoller drives the notification pipeline for one watermark.
type NotificationPoller struct {
	name        string
	userID      string
	lookback    time.Duration
	filter      notification.PolicyFilter
	watermarks  WatermarkStore
	source      NotificationSource
	transformer Transformer
	store       ItemStore
	publisher   Publisher
	metrics     metrics.TransformMetrics
	clock       types.Clock
	logger      *slog.Logger
}

// NewNotificationPoller creates a NotificationPoller from cfg.
func NewNotificationPoller(cfg Config) *NotificationPoller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &NotificationPoller{
		name:        cfg.Name,
		userID:      cfg.UserID,
		lookback:    lookback,
		filter:      notification.NewPolicyFilter(cfg.RuleIDs...),
		watermarks:  cfg.Watermarks,
		source:      cfg.Source,
		transformer: cfg.Transformer,
		store:       cfg.Store,
		publisher:   cfg.Publisher,
		metrics:     m,
		clock:       clock,
		logger:      logger.With("poller", cfg.Name),
	}
}

// Poll runs one poll cycle.
func (p *NotificationPoller) Poll(ctx context.Context, input PollInput) (PollResult, error) {
	// Each poll carries one trace id through Hub calls and published batches.
	pollID := types.GetRequestID(ctx)
	if pollID == "" {
		pollID = uuid.NewString()
		ctx = types.WithRequestID(ctx, pollID)
	}

	started := p.clock.Now()
	p.logger.InfoContext(ctx, "poll started", "poller", p.name, "poll_id", pollID)
	defer func() {
		p.metrics.RecordPollDuration(ctx, p.clock.Now().Sub(started))
	}()

	var result PollResult

	start, watermark, err := p.window(ctx, input, started)
	if err != nil {
		return result, err
	}
	result.Watermark = watermark

	listed, err := p.list(ctx, start, started)
	if err != nil {
		return result, err
	}
	result.Listed = len(listed)
	if len(listed) == 0 {
		p.logger.InfoContext(ctx, "no new notifications", "since", start)
		return result, nil
	}

	filter := p.filter
	if len(input.RuleIDs) > 0 {
		filter = notification.NewPolicyFilter(input.RuleIDs...)
	}

	// Payloads that cannot be decoded are skipped like any other failed
	// notification.
	decoded := make([]types.RawNotification, 0, len(listed))
	var undecodable time.Time
	for _, cn := range listed {
		n, err := hub.Decode(cn)
		if err != nil {
			result.Failed++
			undecodable = later(undecodable, cn.CreatedAt)
			p.metrics.RecordTransform(ctx, cn.Type, metrics.OutcomeFailed)
			p.logger.ErrorContext(ctx, "skipping undecodable notification",
				"notification_id", cn.Meta.Href,
				"notification_kind", string(cn.Type),
				"error", err,
			)
			continue
		}
		decoded = append(decoded, n)
	}

	results := p.transformer.TransformAll(ctx, decoded, filter)

	newest := watermark
	held := false
	for _, r := range results {
		n := r.Notification
		p.metrics.RecordTransform(ctx, n.Kind, metrics.OutcomeOf(len(r.Items), r.Err))

		if r.Err != nil {
			if types.IsCode(r.Err, types.ErrCodeCancelled) {
				err := p.advance(ctx, newest, watermark, r.Err)
				result.Watermark = later(watermark, newest)
				return result, err
			}
			p.logFailure(ctx, n, r.Err)
			if types.RootCode(r.Err) == types.ErrCodeUnsupportedKind {
				result.Unsupported++
			} else {
				result.Failed++
			}
			if !held && retryable(r.Err) {
				held = true
				if !newest.Before(n.CreatedAt) {
					newest = n.CreatedAt.Add(-time.Millisecond)
				}
			}
			if !held {
				newest = later(newest, n.CreatedAt)
			}
			continue
		}

		p.metrics.RecordItems(ctx, n.Kind, len(r.Items))
		if err := p.deliver(ctx, n, r.Items); err != nil {
			err = p.advance(ctx, newest, watermark, err)
			result.Watermark = later(watermark, newest)
			return result, err
		}
		result.Transformed++
		result.Items += len(r.Items)
		if !held {
			newest = later(newest, n.CreatedAt)
		}
	}

	if !held {
		newest = later(newest, undecodable)
	}
	newest = later(newest, watermark)
	if err := p.advance(ctx, newest, watermark, nil); err != nil {
		return result, err
	}
	result.Watermark = newest

	p.logger.InfoContext(ctx, "poll complete",
		"listed", result.Listed,
		"transformed", result.Transformed,
		"items", result.Items,
		"unsupported", result.Unsupported,
		"failed", result.Failed,
		"watermark", newest,
	)
	return result, nil
}

// window returns the first creation time to list and the current watermark.
// Timestamps carry millisecond precision, so the window starts one
// millisecond after the watermark.
func (p *NotificationPoller) window(ctx context.Context, input PollInput, now time.Time) (time.Time, time.Time, error) {
	if input.Since != nil {
		return input.Since.UTC(), input.Since.UTC(), nil
	}
	watermark, found, err := p.watermarks.Get(ctx, p.name)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !found {
		start := now.Add(-p.lookback)
		return start, time.Time{}, nil
	}
	return watermark.Add(time.Millisecond), watermark, nil
}

func (p *NotificationPoller) list(ctx context.Context, start, end time.Time) ([]types.CommonNotification, error) {
	if p.userID != "" {
		return p.source.ListUserNotifications(ctx, p.userID, start, end)
	}
	return p.source.ListNotifications(ctx, start, end)
}

// deliver stores then publishes the items of n. Items of a notification
// whose content was entirely filtered out are still stored, so a replay
// clears anything produced under a broader filter.
func (p *NotificationPoller) deliver(ctx context.Context, n types.RawNotification, items []types.ContentItem) error {
	if err := p.store.SaveBatch(ctx, n.ID, items); err != nil {
		return fmt.Errorf("saving items of %s: %w", n.ID, err)
	}
	if err := p.publisher.Publish(ctx, n, items); err != nil {
		return fmt.Errorf("publishing items of %s: %w", n.ID, err)
	}
	return nil
}

// advance stores newest if it moved and returns cause, or the store error
// when there is no cause.
func (p *NotificationPoller) advance(ctx context.Context, newest, previous time.Time, cause error) error {
	if newest.After(previous) {
		// Progress made before a cancellation is still stored.
		storeCtx := context.WithoutCancel(ctx)
		if err := p.watermarks.Set(storeCtx, p.name, newest); err != nil {
			if cause != nil {
				p.logger.ErrorContext(ctx, "failed to store watermark", "error", err)
				return cause
			}
			return err
		}
	}
	return cause
}

// logFailure logs a per-notification failure at the level of its class.
func (p *NotificationPoller) logFailure(ctx context.Context, n types.RawNotification, err error) {
	level := slog.LevelError
	switch types.RootCode(err) {
	case types.ErrCodeEntityNotFound:
		level = slog.LevelWarn
	case types.ErrCodeUnsupportedKind:
		level = slog.LevelInfo
	}
	p.logger.Log(ctx, level, "notification not transformed",
		"notification_id", n.ID,
		"notification_kind", string(n.Kind),
		"error_code", string(types.RootCode(err)),
		"error", err,
	)
}

// retryable reports whether a transform failure came from a Hub outage
// rather than from the notification itself.
func retryable(err error) bool {
	switch types.RootCode(err) {
	case types.ErrCodeEntityResolution, types.ErrCodeHubAuthFailed:
		return true
	}
	return false
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
