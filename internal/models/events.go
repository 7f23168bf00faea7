package models

import "time"

// Realtime event names published through the hub.
const (
	EvNotification       = "notification"
	EvNotificationUpdate = "notification_update"
	EvStreamUpdate       = "stream_update"
	EvAssignmentUpdate   = "assignment_update"
)

// Notification is the normalized payload handed from the recorder to the
// fan-out service and pushed to realtime rooms.
type Notification struct {
	ID            uint           `json:"id"`
	EventType     EventType      `json:"event_type"`
	RoomURL       string         `json:"room_url"`
	StreamID      uint           `json:"stream_id"`
	Platform      Platform       `json:"platform"`
	Streamer      string         `json:"streamer_username"`
	Timestamp     time.Time      `json:"timestamp"`
	Details       map[string]any `json:"details"`
	AssignedAgent string         `json:"assigned_agent"`
	AgentID       uint           `json:"agent_id,omitempty"`
	Read          bool           `json:"read"`
}

// StreamUpdate announces a supervisor lifecycle transition.
type StreamUpdate struct {
	ID     uint         `json:"id"`
	URL    string       `json:"url"`
	Status StreamStatus `json:"status"`
	Type   Platform     `json:"type"`
}
