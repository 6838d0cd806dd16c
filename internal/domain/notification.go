package domain

import "time"

type NotificationType string

const (
	NotificationParticipantRequested NotificationType = "PARTICIPANT_REQUESTED"
	NotificationParticipantApproved  NotificationType = "PARTICIPANT_APPROVED"
	NotificationParticipantRejected  NotificationType = "PARTICIPANT_REJECTED"
	NotificationParticipantWithdrawn NotificationType = "PARTICIPANT_WITHDRAWN"
	NotificationPoolMatching         NotificationType = "POOL_MATCHING"
	NotificationPoolMatched          NotificationType = "POOL_MATCHED"
	NotificationPoolNegotiating      NotificationType = "POOL_NEGOTIATING"
	NotificationPoolExecuting        NotificationType = "POOL_EXECUTING"
	NotificationPoolCompleted        NotificationType = "POOL_COMPLETED"
	NotificationPoolFailed           NotificationType = "POOL_FAILED"
	NotificationPoolCancelled        NotificationType = "POOL_CANCELLED"
)

type Notification struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	PoolID     string            `json:"pool_id"`
	Type       NotificationType  `json:"type"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	IsRead     bool              `json:"is_read"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"created_at"`
}

// PoolStatusNotification maps a pool status to the event announced when entering it.
func PoolStatusNotification(s PoolStatus) NotificationType {
	switch s {
	case PoolStatusMatching:
		return NotificationPoolMatching
	case PoolStatusMatched:
		return NotificationPoolMatched
	case PoolStatusNegotiating:
		return NotificationPoolNegotiating
	case PoolStatusExecuting:
		return NotificationPoolExecuting
	case PoolStatusCompleted:
		return NotificationPoolCompleted
	case PoolStatusFailed:
		return NotificationPoolFailed
	case PoolStatusCancelled:
		return NotificationPoolCancelled
	}
	return ""
}
