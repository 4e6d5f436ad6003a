package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubclient/internal/metrics"
	"hubclient/internal/notification"
	"hubclient/internal/types"
)

// ============================================================
// Mock Implementations
// ============================================================

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type mockWatermarks struct {
	value  time.Time
	found  bool
	getErr error
	setErr error
	sets   []time.Time
}

func (m *mockWatermarks) Get(context.Context, string) (time.Time, bool, error) {
	return m.value, m.found, m.getErr
}

func (m *mockWatermarks) Set(_ context.Context, _ string, at time.Time) error {
	m.sets = append(m.sets, at)
	if m.setErr != nil {
		return m.setErr
	}
	m.value, m.found = at, true
	return nil
}

type listCall struct {
	userID     string
	start, end time.Time
}

type mockSource struct {
	notifications []types.CommonNotification
	err           error
	calls         []listCall
}

func (m *mockSource) ListNotifications(_ context.Context, start, end time.Time) ([]types.CommonNotification, error) {
	m.calls = append(m.calls, listCall{start: start, end: end})
	return m.notifications, m.err
}

func (m *mockSource) ListUserNotifications(_ context.Context, userID string, start, end time.Time) ([]types.CommonNotification, error) {
	m.calls = append(m.calls, listCall{userID: userID, start: start, end: end})
	return m.notifications, m.err
}

// mockTransformer returns canned items or errors keyed by notification id.
type mockTransformer struct {
	items   map[string][]types.ContentItem
	errs    map[string]error
	filters []notification.PolicyFilter
	seen    []string
}

func (m *mockTransformer) TransformAll(_ context.Context, ns []types.RawNotification, filter notification.PolicyFilter) []notification.TransformResult {
	m.filters = append(m.filters, filter)
	out := make([]notification.TransformResult, len(ns))
	for i, n := range ns {
		m.seen = append(m.seen, n.ID)
		out[i] = notification.TransformResult{Notification: n, Items: m.items[n.ID], Err: m.errs[n.ID]}
		if out[i].Err == nil && out[i].Items == nil {
			out[i].Items = []types.ContentItem{}
		}
	}
	return out
}

type mockStore struct {
	saved map[string][]types.ContentItem
	order []string
	err   error
}

func (m *mockStore) SaveBatch(_ context.Context, id string, items []types.ContentItem) error {
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = map[string][]types.ContentItem{}
	}
	m.saved[id] = items
	m.order = append(m.order, id)
	return nil
}

type mockPublisher struct {
	published []string
	traceIDs  []string
	err       error
}

func (m *mockPublisher) Publish(ctx context.Context, n types.RawNotification, items []types.ContentItem) error {
	m.traceIDs = append(m.traceIDs, types.GetRequestID(ctx))
	if m.err != nil {
		return m.err
	}
	if len(items) > 0 {
		m.published = append(m.published, n.ID)
	}
	return nil
}

type recordedTransform struct {
	kind    types.NotificationKind
	outcome metrics.Outcome
}

type mockMetrics struct {
	mu         sync.Mutex
	transforms []recordedTransform
	items      int
	polls      int
}

func (m *mockMetrics) RecordTransform(_ context.Context, kind types.NotificationKind, outcome metrics.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transforms = append(m.transforms, recordedTransform{kind, outcome})
}

func (m *mockMetrics) RecordItems(_ context.Context, _ types.NotificationKind, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items += n
}

func (m *mockMetrics) RecordPollDuration(context.Context, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls++
}

// ============================================================
// Helpers
// ============================================================

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func violation(id string, created time.Time) types.CommonNotification {
	return types.CommonNotification{
		CreatedAt: created,
		Type:      types.KindPolicyViolation,
		Content:   json.RawMessage(`{"projectName":"Acme","projectVersion":"https://hub.example.com/api/projects/p1/versions/v1","componentVersionStatuses":[]}`),
		Meta:      types.ResourceMetadata{Href: id},
	}
}

func item(name string) types.ContentItem {
	return types.ContentItem{Kind: types.KindPolicyViolation, ComponentName: name, PolicyRules: []types.PolicyRule{}}
}

type harness struct {
	watermarks  *mockWatermarks
	source      *mockSource
	transformer *mockTransformer
	store       *mockStore
	publisher   *mockPublisher
	metrics     *mockMetrics
	logs        *bytes.Buffer
}

func newHarness(ns ...types.CommonNotification) *harness {
	return &harness{
		watermarks:  &mockWatermarks{},
		source:      &mockSource{notifications: ns},
		transformer: &mockTransformer{items: map[string][]types.ContentItem{}, errs: map[string]error{}},
		store:       &mockStore{},
		publisher:   &mockPublisher{},
		metrics:     &mockMetrics{},
		logs:        &bytes.Buffer{},
	}
}

func (h *harness) poller(mod func(*Config)) *NotificationPoller {
	cfg := Config{
		Name:        "hub-notifications",
		Lookback:    6 * time.Hour,
		RuleIDs:     []string{"rule-1"},
		Watermarks:  h.watermarks,
		Source:      h.source,
		Transformer: h.transformer,
		Store:       h.store,
		Publisher:   h.publisher,
		Metrics:     h.metrics,
		Clock:       fixedClock{now: now},
		Logger:      slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	if mod != nil {
		mod(&cfg)
	}
	return NewNotificationPoller(cfg)
}

// logLevelFor returns the level of the first log record mentioning id.
func (h *harness) logLevelFor(t *testing.T, id string) string {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(h.logs.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec["notification_id"] == id {
			return rec["level"].(string)
		}
	}
	t.Fatalf("no log record for %s", id)
	return ""
}

func transformErr(id string, code types.ErrorCode) error {
	return types.NewTransformError(types.KindPolicyViolation, id, types.NewAppError(code, "x", nil))
}

// ============================================================
// Tests
// ============================================================

func TestPoll_FirstRunUsesLookback(t *testing.T) {
	t1 := now.Add(-2 * time.Hour)
	t2 := now.Add(-1 * time.Hour)
	h := newHarness(violation("n-1", t1), violation("n-2", t2))
	h.transformer.items["n-1"] = []types.ContentItem{item("log4j-core")}
	h.transformer.items["n-2"] = []types.ContentItem{item("commons-text"), item("jackson-databind")}

	res, err := h.poller(nil).Poll(context.Background(), PollInput{})
	require.NoError(t, err)

	require.Len(t, h.source.calls, 1)
	assert.Equal(t, "", h.source.calls[0].userID)
	assert.Equal(t, now.Add(-6*time.Hour), h.source.calls[0].start)
	assert.Equal(t, now, h.source.calls[0].end)

	assert.Equal(t, PollResult{Listed: 2, Transformed: 2, Items: 3, Watermark: t2}, res)
	assert.Equal(t, []string{"n-1", "n-2"}, h.store.order)
	assert.Equal(t, []string{"n-1", "n-2"}, h.publisher.published)
	assert.Equal(t, []time.Time{t2}, h.watermarks.sets)
	assert.Equal(t, 3, h.metrics.items)
	assert.Equal(t, 1, h.metrics.polls)
}

func TestPoll_TraceID(t *testing.T) {
	h := newHarness(violation("n-1", now.Add(-2*time.Hour)), violation("n-2", now.Add(-time.Hour)))
	h.transformer.items["n-1"] = []types.ContentItem{item("a")}
	h.transformer.items["n-2"] = []types.ContentItem{item("b")}

	_, err := h.poller(nil).Poll(context.Background(), PollInput{})
	require.NoError(t, err)
	require.Len(t, h.publisher.traceIDs, 2)
	assert.NotEmpty(t, h.publisher.traceIDs[0])
	assert.Equal(t, h.publisher.traceIDs[0], h.publisher.traceIDs[1], "one id per poll")

	h2 := newHarness(violation("n-3", now.Add(-time.Hour)))
	h2.transformer.items["n-3"] = []types.ContentItem{item("c")}
	ctx := types.WithRequestID(context.Background(), "scheduled-run-7")
	_, err = h2.poller(nil).Poll(ctx, PollInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{"scheduled-run-7"}, h2.publisher.traceIDs)
}

func TestPoll_ResumesAfterWatermark(t *testing.T) {
	h := newHarness()
	wm := now.Add(-30 * time.Minute)
	h.watermarks.value, h.watermarks.found = wm, true

	res, err := h.poller(nil).Poll(context.Background(), PollInput{})
	require.NoError(t, err)

	require.Len(t, h.source.calls, 1)
	assert.Equal(t, wm.Add(time.Millisecond), h.source.calls[0].start)
	assert.Equal(t, wm, res.Watermark)
	assert.Empty(t, h.watermarks.sets, "nothing listed, watermark stays")
	assert.Nil(t, h.transformer.seen)
}

func TestPoll_SinceOverridesWatermark(t *testing.T) {
	h := newHarness()
	h.watermarks.value, h.watermarks.found = now.Add(-time.Minute), true
	since := now.Add(-48 * time.Hour)

	_, err := h.poller(nil).Poll(context.Background(), PollInput{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, since, h.source.calls[0].start)
}

func TestPoll_UserNotifications(t *testing.T) {
	h := newHarness()
	_, err := h.poller(func(c *Config) { c.UserID = "user-42" }).Poll(context.Background(), PollInput{})
	require.NoError(t, err)
	require.Len(t, h.source.calls, 1)
	assert.Equal(t, "user-42", h.source.calls[0].userID)
}

func TestPoll_RuleFilter(t *testing.T) {
	h := newHarness(violation("n-1", now.Add(-time.Hour)))
	p := h.poller(nil)

	_, err := p.Poll(context.Background(), PollInput{})
	require.NoError(t, err)
	_, err = p.Poll(context.Background(), PollInput{RuleIDs: []string{"rule-2", "rule-3"}})
	require.NoError(t, err)

	require.Len(t, h.transformer.filters, 2)
	assert.Equal(t, 1, h.transformer.filters[0].Size())
	assert.Equal(t, 2, h.transformer.filters[1].Size())
}

func TestPoll_FailuresAreIsolated(t *testing.T) {
	h := newHarness(
		violation("n-missing", now.Add(-4*time.Hour)),
		violation("n-unsupported", now.Add(-3*time.Hour)),
		violation("n-nolink", now.Add(-2*time.Hour)),
		violation("n-ok", now.Add(-1*time.Hour)),
	)
	h.transformer.errs["n-missing"] = transformErr("n-missing", types.ErrCodeEntityNotFound)
	h.transformer.errs["n-unsupported"] = transformErr("n-unsupported", types.ErrCodeUnsupportedKind)
	h.transformer.errs["n-nolink"] = transformErr("n-nolink", types.ErrCodeLinkNotFound)
	h.transformer.items["n-ok"] = []types.ContentItem{item("log4j-core")}

	res, err := h.poller(nil).Poll(context.Background(), PollInput{})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Listed)
	assert.Equal(t, 1, res.Transformed)
	assert.Equal(t, 1, res.Unsupported)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, now.Add(-1*time.Hour), res.Watermark)
	assert.Equal(t, []string{"n-ok"}, h.store.order)

	assert.Equal(t, "WARN", h.logLevelFor(t, "n-missing"))
	assert.Equal(t, "INFO", h.logLevelFor(t, "n-unsupported"))
	assert.Equal(t, "ERROR", h.logLevelFor(t, "n-nolink"))

	assert.Equal(t, []recordedTransform{
		{types.KindPolicyViolation, metrics.OutcomeNotFound},
		{types.KindPolicyViolation, metrics.OutcomeUnsupported},
		{types.KindPolicyViolation, metrics.OutcomeLinkNotFound},
		{types.KindPolicyViolation, metrics.OutcomeSuccess},
	}, h.metrics.transforms)
}

func TestPoll_RetryableFailureHoldsWatermark(t *testing.T) {
	wm := now.Add(-5 * time.Hour)
	t0 := now.Add(-3 * time.Hour)
	t1 := now.Add(-2 * time.Hour)
	t2 := now.Add(-1 * time.Hour)
	h := newHarness(
		violation("n-first", t0),
		violation("n-503", t1),
		violation("n-ok", t2),
	)
	h.watermarks.value, h.watermarks.found = wm, true
	h.transformer.items["n-first"] = []types.ContentItem{item("a")}
	h.transformer.errs["n-503"] = transformErr("n-503", types.ErrCodeEntityResolution)
	h.transformer.items["n-ok"] = []types.ContentItem{item("b")}

	res, err := h.poller(nil).Poll(context.Background(), PollInput{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Transformed)
	assert.Equal(t, []string{"n-first", "n-ok"}, h.store.order, "later notifications are still delivered")
	assert.Equal(t, []time.Time{t0}, h.watermarks.sets)
	assert.Equal(t, t0, res.Watermark)
	assert.True(t, res.Watermark.Before(t1), "next poll lists the failed notification again")
}

func TestPoll_RetryableFailureFirstKeepsWatermark(t *testing.T) {
	wm := now.Add(-5 * time.Hour)
	h := newHarness(
		violation("n-503", now.Add(-2*time.Hour)),
		violation("n-missing", now.Add(-90*time.Minute)),
		violation("n-ok", now.Add(-1*time.Hour)),
	)
	h.watermarks.value, h.watermarks.found = wm, true
	h.transformer.errs["n-503"] = types.NewTransformError(types.KindPolicyViolation, "n-503",
		types.NewAppError(types.ErrCodeEntityResolution, "auth", types.NewAppError(types.ErrCodeHubAuthFailed, "401", nil)))
	h.transformer.errs["n-missing"] = transformErr("n-missing", types.ErrCodeEntityNotFound)
	h.transformer.items["n-ok"] = []types.ContentItem{item("b")}

	res, err := h.poller(nil).Poll(context.Background(), PollInput{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Failed)
	assert.Empty(t, h.watermarks.sets)
	assert.Equal(t, wm, res.Watermark)
}

func TestPoll_RetryableFailureSharingTimestampWithSuccess(t *testing.T) {
	wm := now.Add(-5 * time.Hour)
	t1 := now.Add(-2 * time.Hour)
	h := newHarness(violation("n-ok", t1), violation("n-503", t1))
	h.watermarks.value, h.watermarks.found = wm, true
	h.transformer.items["n-ok"] = []types.ContentItem{item("a")}
	h.transformer.errs["n-503"] = transformErr("n-503", types.ErrCodeEntityResolution)

	res, err := h.poller(nil).Poll(context.Background(), PollInput{})
	require.NoError(t, err)

	assert.Equal(t, []time.Time{t1.Add(-time.Millisecond)}, h.watermarks.sets)
	assert.Equal(t, t1.Add(-time.Millisecond), res.Watermark)
}

func TestPoll_CancellationAbortsAndKeepsProgress(t *testing.T) {
	t1 := now.Add(-3 * time.Hour)
	h := newHarness(
		violation("n-1", t1),
		violation("n-2", now.Add(-2*time.Hour)),
		violation("n-3", now.Add(-1*time.Hour)),
	)
	h.transformer.items["n-1"] = []types.ContentItem{item("a")}
	h.transformer.errs["n-2"] = transformErr("n-2", types.ErrCodeCancelled)
	h.transformer.items["n-3"] = []types.ContentItem{item("c")}

	res, err := h.poller(nil).Poll(context.Background(), PollInput{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeCancelled))

	assert.Equal(t, []string{"n-1"}, h.store.order, "nothing after the cancelled notification is delivered")
	assert.Equal(t, []time.Time{t1}, h.watermarks.sets)
	assert.Equal(t, t1, res.Watermark)
}

func TestPoll_DeliveryFailureStopsBeforeWatermarkPassesIt(t *testing.T) {
	h := newHarness(violation("n-1", now.Add(-time.Hour)))
	h.transformer.items["n-1"] = []types.ContentItem{item("a")}
	h.publisher.err = types.NewAppError(types.ErrCodeInternalQueue, "send failed", nil)

	_, err := h.poller(nil).Poll(context.Background(), PollInput{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalQueue))
	assert.Empty(t, h.watermarks.sets)
}

func TestPoll_UndecodableNotificationIsSkipped(t *testing.T) {
	bad := violation("n-bad", now.Add(-time.Hour))
	bad.Content = json.RawMessage(`{"componentVersionStatuses": "nope"}`)
	h := newHarness(violation("n-1", now.Add(-2*time.Hour)), bad)
	h.transformer.items["n-1"] = []types.ContentItem{item("a")}

	res, err := h.poller(nil).Poll(context.Background(), PollInput{})
	require.NoError(t, err)

	assert.Equal(t, []string{"n-1"}, h.transformer.seen)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, now.Add(-time.Hour), res.Watermark, "watermark moves past the undecodable notification")
	assert.Equal(t, "ERROR", h.logLevelFor(t, "n-bad"))
}

func TestPoll_SourceError(t *testing.T) {
	h := newHarness()
	h.source.err = types.NewAppError(types.ErrCodeEntityResolution, "hub down", nil)

	_, err := h.poller(nil).Poll(context.Background(), PollInput{})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeEntityResolution, types.CodeOf(err))
	assert.Empty(t, h.watermarks.sets)
}

func TestPoll_WatermarkReadError(t *testing.T) {
	h := newHarness()
	h.watermarks.getErr = errors.New("db unavailable")

	_, err := h.poller(nil).Poll(context.Background(), PollInput{})
	require.Error(t, err)
	assert.Empty(t, h.source.calls)
}

func TestPoll_WatermarkWriteError(t *testing.T) {
	h := newHarness(violation("n-1", now.Add(-time.Hour)))
	h.watermarks.setErr = errors.New("db unavailable")

	_, err := h.poller(nil).Poll(context.Background(), PollInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db unavailable")
}
