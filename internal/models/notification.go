package models

import "time"

// NotificationEventType names an enrollment transition that is announced to participants.
type NotificationEventType string

// Notification events.
const (
	NotifyEnrolled            NotificationEventType = "enrolled"
	NotifyWaitlisted          NotificationEventType = "waitlisted"
	NotifyInvited             NotificationEventType = "invited"
	NotifyDeinvited           NotificationEventType = "deinvited"
	NotifyDeclined            NotificationEventType = "declined"
	NotifyDerolled            NotificationEventType = "derolled"
	NotifyDerolledOutOfPolicy NotificationEventType = "derolled-out-of-policy"
)

// NotificationEvent is handed to the dispatcher after a transition commits.
type NotificationEvent struct {
	ID         string                `json:"id"`
	Type       NotificationEventType `json:"type"`
	Enrollment Enrollment            `json:"enrollment"`
	Recipients []string              `json:"recipients"`
	OccurredAt time.Time             `json:"occurred_at"`
}
