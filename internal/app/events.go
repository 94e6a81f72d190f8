package app

import "time"

// EventType names something that happened in the monitoring pipeline.
type EventType string

const (
	EventCameraConnected  EventType = "camera_connected"
	EventCameraLost       EventType = "camera_lost"
	EventAlertTriggered   EventType = "alert_triggered"
	EventAlertCleared     EventType = "alert_cleared"
	EventAlertReset       EventType = "alert_reset"
	EventAlertDelivered   EventType = "alert_delivered"
	EventAlertFailed      EventType = "alert_failed"
	EventLocationUpdated  EventType = "location_updated"
	EventDetectorDegraded EventType = "detector_degraded"
)

// Event is published to status subscribers.
type Event struct {
	Type    EventType `json:"type"`
	At      time.Time `json:"at"`
	AlertID string    `json:"alert_id,omitempty"`
	Device  string    `json:"device,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}
