package models

import "time"

type Platform string

const (
	PlatformChaturbate Platform = "chaturbate"
	PlatformStripchat  Platform = "stripchat"
)

type StreamStatus string

const (
	StreamUnknown    StreamStatus = "unknown"
	StreamOnline     StreamStatus = "online"
	StreamOffline    StreamStatus = "offline"
	StreamMonitoring StreamStatus = "monitoring"
	StreamStopped    StreamStatus = "stopped"
)

// Stream is one room under observation. Platform acts as the variant tag:
// BroadcasterUID is only meaningful for chaturbate rooms, where the chat
// history endpoint is keyed by it.
type Stream struct {
	ID               uint         `gorm:"primaryKey" json:"id"`
	RoomURL          string       `gorm:"column:room_url;uniqueIndex" json:"room_url"`
	Platform         Platform     `gorm:"column:type;index" json:"platform"`
	StreamerUsername string       `gorm:"column:streamer_username" json:"streamer_username"`
	Status           StreamStatus `gorm:"column:status;default:unknown" json:"status"`
	IsMonitored      bool         `gorm:"column:is_monitored" json:"is_monitored"`
	MediaURL         string       `gorm:"column:media_url" json:"media_url"`

	// chaturbate only
	BroadcasterUID string `gorm:"column:broadcaster_uid" json:"broadcaster_uid,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Stream) TableName() string { return "streams" }

// RoomSlug is the last path element of the room URL, which both platforms
// use as the streamer identity in their APIs.
func (s *Stream) RoomSlug() string {
	if s.StreamerUsername != "" {
		return s.StreamerUsername
	}
	url := s.RoomURL
	for len(url) > 0 && url[len(url)-1] == '/' {
		url = url[:len(url)-1]
	}
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			return url[i+1:]
		}
	}
	return url
}
