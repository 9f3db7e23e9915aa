package models

import (
	"time"

	"gorm.io/gorm"
)

// SessionInfo is what the allocator hands back to clients.
type SessionInfo struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// SessionRecord is an issued session id. Only the id and its URL are kept;
// document content is never persisted.
type SessionRecord struct {
	ID        string    `gorm:"type:varchar(32);primaryKey" json:"id"`
	URL       string    `gorm:"type:text;not null" json:"url"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate stamps the creation time when the caller did not.
func (s *SessionRecord) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return nil
}

// TableName override
func (SessionRecord) TableName() string {
	return "session_records"
}
