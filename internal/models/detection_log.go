package models

import (
	"time"

	"gorm.io/datatypes"
)

type EventType string

const (
	EventObjectDetection        EventType = "object_detection"
	EventAudioDetection         EventType = "audio_detection"
	EventChatDetection          EventType = "chat_detection"
	EventChatSentimentDetection EventType = "chat_sentiment_detection"
	EventStreamStatusUpdate     EventType = "stream_status_update"
	EventStreamCreated          EventType = "stream_created"
)

// DetectionLog is the durable record of an alert. Rows are inserted by the
// detection recorder only; the UI flips Read and nothing else mutates them.
type DetectionLog struct {
	ID             uint               `gorm:"primaryKey" json:"id"`
	RoomURL        string             `gorm:"column:room_url;index" json:"room_url"`
	EventType      EventType          `gorm:"column:event_type;index" json:"event_type"`
	Timestamp      time.Time          `gorm:"index" json:"timestamp"`
	Details        datatypes.JSONMap  `json:"details"`
	DetectionImage []byte             `gorm:"column:detection_image" json:"-"`
	AssignedAgent  *uint              `gorm:"column:assigned_agent" json:"assigned_agent,omitempty"`
	AssignmentID   *uint              `gorm:"column:assignment_id" json:"assignment_id,omitempty"`
	Read           bool               `gorm:"default:false" json:"read"`
}

func (DetectionLog) TableName() string { return "detection_logs" }

func (d *DetectionLog) HasImage() bool { return len(d.DetectionImage) > 0 }
