package entities

import "time"

// NotificationType classifies a status notification
type NotificationType string

const (
	NotificationLog        NotificationType = "log"
	NotificationState      NotificationType = "state"
	NotificationCapture    NotificationType = "capture"
	NotificationVolume     NotificationType = "volume"
	NotificationContent    NotificationType = "content"
	NotificationError      NotificationType = "error"
	NotificationTranscript NotificationType = "transcript"
)

// Notification is a status update pushed to observers
type Notification struct {
	Type        NotificationType `json:"type"`
	Kind        CaptureKind      `json:"kind,omitempty"`
	State       string           `json:"state,omitempty"`
	Message     string           `json:"message,omitempty"`
	Count       uint64           `json:"count,omitempty"`
	InputLevel  float64          `json:"input_level,omitempty"`
	OutputLevel float64          `json:"output_level,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// NewNotification creates a notification stamped with the current time
func NewNotification(typ NotificationType, message string) Notification {
	return Notification{Type: typ, Message: message, Timestamp: time.Now()}
}
