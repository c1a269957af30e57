package model

import "time"

// UploadSession is a time-boxed staging area for attachments whose
// owner doesn't exist yet or is being edited
type UploadSession struct {
	// Also the name of the temporary directory, so it must be unguessable
	ID              string      `gorm:"primaryKey;size:36" json:"id"`
	ContextType     ContextType `gorm:"size:16;not null" json:"contextType"`
	TargetContextID *string     `gorm:"size:128" json:"targetContextId"`
	OwnerID         int64       `gorm:"not null;index" json:"ownerId"`
	ExpiresAt       time.Time   `gorm:"not null;index" json:"expiresAt"`
	CreatedAt       time.Time   `gorm:"not null" json:"createdAt"`
}

func (s *UploadSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
