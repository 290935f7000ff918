// internal/models/notification.go
package models

import "time"

type NotificationType string

const (
	NotificationInterviewScheduled NotificationType = "interview_scheduled"
	NotificationInterviewResponse  NotificationType = "interview_response"
	NotificationInterviewReminder  NotificationType = "interview_reminder"
	NotificationGeneral            NotificationType = "general"
)

type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationRead      NotificationStatus = "read"
	NotificationDismissed NotificationStatus = "dismissed"
)

// Notification is a polled in-app message. Only the recipient changes Status;
// the delivery fields belong to the outbound delivery worker.
type Notification struct {
	ID          string                 `json:"id"`
	RecipientID string                 `json:"recipientId"`
	Type        NotificationType       `json:"type"`
	Status      NotificationStatus     `json:"status"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	ReadAt      *time.Time             `json:"readAt,omitempty"`
	DeliveredAt *time.Time             `json:"deliveredAt,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`

	// DeliveryAttempts counts claims by the delivery worker, including the one in progress.
	DeliveryAttempts int        `json:"-"`
	NextAttemptAt    *time.Time `json:"-"`
	// AbandonedAt is set once delivery gave up; the row is never claimed again.
	AbandonedAt *time.Time `json:"-"`
}

type NotificationFilter struct {
	Status NotificationStatus
	Type   NotificationType
	Limit  int
}
