package users

import (
	"strings"
	"time"
)

// Identity maps a provider login to the canonical uploader id stored as course owner.
type Identity struct {
	Provider     string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject      string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID       string    `gorm:"column:user_id;size:190;not null;index"`
	Email        string    `gorm:"column:user_email;size:320"`
	DisplayName  string    `gorm:"column:user_display_name;size:320"`
	LastUploadAt time.Time `gorm:"column:last_upload_at"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing uploader identities.
func (Identity) TableName() string {
	return "uploader_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
