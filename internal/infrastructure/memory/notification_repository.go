package memory

import (
	"context"
	"sort"
	"sync"

	"auction-engine/internal/domain"
	"auction-engine/pkg/utils"
)

const defaultNotificationLimit = 50

// NotificationRepository keeps notifications per user, newest last.
type NotificationRepository struct {
	mu     sync.RWMutex
	byUser map[string][]*domain.Notification
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{byUser: make(map[string][]*domain.Notification)}
}

func (r *NotificationRepository) SaveNotification(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = utils.GenerateID("notif")
	}
	stored := *n

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[n.UserID] = append(r.byUser[n.UserID], &stored)
	return nil
}

// ListForUser returns up to limit notifications, most recent first.
func (r *NotificationRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}

	r.mu.RLock()
	stored := r.byUser[userID]
	out := make([]*domain.Notification, 0, len(stored))
	for i := len(stored) - 1; i >= 0 && len(out) < limit; i-- {
		n := *stored[i]
		out = append(out, &n)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
