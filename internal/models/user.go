package models

import "time"

type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleAgent UserRole = "agent"
)

type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Username       string    `gorm:"uniqueIndex" json:"username"`
	Role           UserRole  `gorm:"column:role;default:agent" json:"role"`
	Email          string    `json:"email"`
	TelegramChatID string    `gorm:"column:telegram_chat_id" json:"telegram_chat_id,omitempty"`
	ReceiveUpdates bool      `gorm:"column:receive_updates;default:true" json:"receive_updates"`
	Online         bool      `json:"online"`
	LastActive     time.Time `gorm:"column:last_active" json:"last_active"`
	CreatedAt      time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }
