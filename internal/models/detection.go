package models

import "time"

// Detection is one object hit from the video detector.
type Detection struct {
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	BBox       [4]int    `json:"bbox"` // x1, y1, x2, y2
	Timestamp  time.Time `json:"timestamp"`
}

// ChatMessage is a platform-normalized chat line.
type ChatMessage struct {
	Username  string    `json:"username"`
	Text      string    `json:"message_text"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatHitKind string

const (
	HitKeyword   ChatHitKind = "keyword"
	HitSentiment ChatHitKind = "sentiment"
)

// ChatHit is one policy match produced by the chat analyzer.
type ChatHit struct {
	Kind     ChatHitKind `json:"kind"`
	Keyword  string      `json:"keyword,omitempty"`
	Score    float64     `json:"sentiment_score,omitempty"`
	Username string      `json:"username"`
	Message  string      `json:"message"`
}
