package hub

import (
	"context"
	"net/url"
	"sort"
	"time"

	"hubclient/internal/types"
)

const (
	notificationsPath = "/api/notifications"

	// hubDateLayout is the date format the notification endpoints accept.
	hubDateLayout = "2006-01-02T15:04:05.000Z"
)

// NotificationService lists Hub notifications.
type NotificationService struct {
	client *Client
}

// NewNotificationService creates a NotificationService.
func NewNotificationService(c *Client) *NotificationService {
	return &NotificationService{client: c}
}

func dateRange(start, end time.Time) url.Values {
	return url.Values{
		"startDate": {start.UTC().Format(hubDateLayout)},
		"endDate":   {end.UTC().Format(hubDateLayout)},
	}
}

// ListNotifications returns the system-wide notifications created in
// [start, end], oldest first.
func (s *NotificationService) ListNotifications(ctx context.Context, start, end time.Time) ([]types.CommonNotification, error) {
	views, err := GetAllPages[types.NotificationView](ctx, s.client, notificationsPath, dateRange(start, end))
	if err != nil {
		return nil, err
	}
	out := make([]types.CommonNotification, 0, len(views))
	for _, v := range views {
		out = append(out, types.CommonFromNotificationView(v))
	}
	sortOldestFirst(out)
	return out, nil
}

// ListUserNotifications returns the notifications of one user created in
// [start, end], oldest first.
func (s *NotificationService) ListUserNotifications(ctx context.Context, userID string, start, end time.Time) ([]types.CommonNotification, error) {
	link := "/api/users/" + url.PathEscape(userID) + "/notifications"
	views, err := GetAllPages[types.NotificationUserView](ctx, s.client, link, dateRange(start, end))
	if err != nil {
		return nil, err
	}
	out := make([]types.CommonNotification, 0, len(views))
	for _, v := range views {
		out = append(out, types.CommonFromUserView(v))
	}
	sortOldestFirst(out)
	return out, nil
}

func sortOldestFirst(ns []types.CommonNotification) {
	sort.SliceStable(ns, func(i, j int) bool {
		return ns[i].CreatedAt.Before(ns[j].CreatedAt)
	})
}

// Decode turns a listed notification into a RawNotification. The id is the
// notification href. Unknown kinds decode with a nil content.
func Decode(n types.CommonNotification) (types.RawNotification, error) {
	content, err := types.DecodeContent(n.Type, n.Content)
	if err != nil {
		return types.RawNotification{}, types.NewAppErrorWithDetails(types.ErrCodeEntityResolution,
			"malformed notification content", err,
			map[string]any{"notification_id": n.Meta.Href, "notification_kind": string(n.Type)})
	}
	return types.RawNotification{
		ID:        n.Meta.Href,
		CreatedAt: n.CreatedAt,
		Kind:      n.Type,
		Content:   content,
	}, nil
}
