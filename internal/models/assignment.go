package models

import "time"

// Assignment binds an agent to a stream. At most one active assignment may
// exist per (agent, stream); routing picks the first active one by id.
type Assignment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AgentID   uint      `gorm:"column:agent_id;index:idx_agent_stream,unique,where:active" json:"agent_id"`
	StreamID  uint      `gorm:"column:stream_id;index:idx_agent_stream,unique,where:active" json:"stream_id"`
	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`

	Agent  *User   `gorm:"foreignKey:AgentID;constraint:OnDelete:CASCADE" json:"agent,omitempty"`
	Stream *Stream `gorm:"foreignKey:StreamID;constraint:OnDelete:CASCADE" json:"stream,omitempty"`
}

func (Assignment) TableName() string { return "assignments" }
