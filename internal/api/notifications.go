package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/example/carpool-sync/internal/models"
)

type notificationDTO struct {
	ID        int64        `json:"id"`
	UserID    int64        `json:"userId"`
	Message   string       `json:"message"`
	Type      string       `json:"type"`
	IsRead    bool         `json:"isRead"`
	CreatedAt *backendTime `json:"createdAt"`
}

func (c *Client) GetUnreadNotifications(ctx context.Context, userID int64) ([]models.Notification, error) {
	var out []notificationDTO
	if err := c.do(ctx, "get unread notifications", http.MethodGet, fmt.Sprintf("/api/notifications/user/%d/unread", userID), nil, &out); err != nil {
		return nil, err
	}
	res := make([]models.Notification, 0, len(out))
	for _, n := range out {
		m := models.Notification{
			ID:      n.ID,
			UserID:  n.UserID,
			Type:    models.NotificationType(n.Type),
			Message: n.Message,
		}
		if n.CreatedAt != nil {
			m.CreatedAt = n.CreatedAt.Time
		}
		res = append(res, m)
	}
	return res, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.do(ctx, "mark notification read", http.MethodPut, fmt.Sprintf("/api/notifications/%d/read", id), nil, nil)
}
