package models

// ChatKeyword is one case-insensitive keyword the chat and audio pipelines
// alert on.
type ChatKeyword struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Keyword string `gorm:"uniqueIndex" json:"keyword"`
}

func (ChatKeyword) TableName() string { return "chat_keywords" }

// FlaggedObject maps an object class to the minimum confidence at which the
// video pipeline alerts on it.
type FlaggedObject struct {
	ID                  uint    `gorm:"primaryKey" json:"id"`
	ObjectName          string  `gorm:"column:object_name;uniqueIndex" json:"object_name"`
	ConfidenceThreshold float64 `gorm:"column:confidence_threshold;default:0.8" json:"confidence_threshold"`
}

func (FlaggedObject) TableName() string { return "flagged_objects" }
