package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/repository"
)

type notificationService struct {
	noteRepo repository.NotificationRepository
}

func NewNotificationService(noteRepo repository.NotificationRepository) NotificationService {
	return &notificationService{noteRepo: noteRepo}
}

func (s *notificationService) GetNotifications(ctx context.Context, userID string, page, pageSize int32) ([]domain.Notification, int32, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	return s.noteRepo.List(ctx, userID, pageSize, offset)
}

func (s *notificationService) MarkAsRead(ctx context.Context, userID, notificationID string) error {
	return s.noteRepo.MarkAsRead(ctx, notificationID, userID)
}

// notifier stores user notifications and pushes them. It is only called
// after commit, and its failures never affect pool state.
type notifier struct {
	noteRepo repository.NotificationRepository
	push     PushSender
	clock    func() time.Time
}

func (n *notifier) notify(ctx context.Context, userIDs []string, pool *domain.Pool, typ domain.NotificationType, title, message string, attrs map[string]string) {
	for _, userID := range userIDs {
		note := &domain.Notification{
			ID:      uuid.NewString(),
			UserID:  userID,
			PoolID:  pool.ID,
			Type:    typ,
			Title:   title,
			Message: message,
			Attributes: map[string]string{
				"pool_id": pool.ID,
				"status":  string(pool.Status),
			},
			CreatedAt: n.clock().UTC(),
		}
		for k, v := range attrs {
			note.Attributes[k] = v
		}

		if err := n.noteRepo.Create(ctx, note); err != nil {
			logger.Warn("Failed to store notification", "user_id", userID, "pool_id", pool.ID, "type", typ, "error", err)
			continue
		}
		if n.push == nil {
			continue
		}
		logger.ExternalServiceCall("PushSender", "Send", "user_id", userID, "type", typ)
		err := n.push.Send(ctx, note)
		logger.ExternalServiceResult("PushSender", "Send", err, "user_id", userID, "type", typ)
	}
}

// poolStatusChanged announces a transition to every stakeholder.
func (n *notifier) poolStatusChanged(ctx context.Context, pool *domain.Pool, users []string) {
	title := fmt.Sprintf("Pool %s", statusTitle(pool.Status))
	message := fmt.Sprintf("%q is now %s", pool.Title, pool.Status)
	if pool.FailureReason != "" && pool.Status.ReleasesContributions() {
		message = fmt.Sprintf("%s: %s", message, pool.FailureReason)
	}
	n.notify(ctx, users, pool, domain.PoolStatusNotification(pool.Status), title, message, nil)
}

func statusTitle(s domain.PoolStatus) string {
	switch s {
	case domain.PoolStatusMatching:
		return "searching for a match"
	case domain.PoolStatusMatched:
		return "matched"
	case domain.PoolStatusNegotiating:
		return "terms confirmed"
	case domain.PoolStatusExecuting:
		return "purchase in progress"
	case domain.PoolStatusCompleted:
		return "completed"
	case domain.PoolStatusFailed:
		return "failed"
	case domain.PoolStatusCancelled:
		return "cancelled"
	}
	return "updated"
}
