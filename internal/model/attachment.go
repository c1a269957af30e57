package model

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrAttachmentScope = errors.New("attachment must belong to exactly one of a context or an upload session")

type Attachment struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	ContextType ContextType `gorm:"size:16;not null;index:idx_attachment_context,priority:1" json:"contextType"`
	// Exactly one of ContextID and UploadSessionID is set
	ContextID       *string `gorm:"size:128;index:idx_attachment_context,priority:2" json:"contextId"`
	UploadSessionID *string `gorm:"size:36;index" json:"uploadSessionId"`

	// User controlled, never used to build a path
	OriginalFilename string `gorm:"not null" json:"originalFilename"`
	// Server generated name of the file on disk
	StoredFilename string `gorm:"size:64;not null" json:"-"`
	ContentType    string `gorm:"size:255;not null" json:"contentType"`
	Size           int64  `json:"size"`
	OrderIndex     int    `gorm:"not null;default:0" json:"orderIndex"`

	ThumbnailStatus      ThumbnailStatus `gorm:"size:16;not null;default:NONE" json:"thumbnailStatus"`
	ThumbnailFilename    *string         `gorm:"size:80" json:"-"`
	ThumbnailContentType *string         `gorm:"size:64" json:"thumbnailContentType,omitempty"`
	ThumbnailSize        *int64          `json:"thumbnailSize,omitempty"`

	CreatedBy int64     `gorm:"not null;index" json:"createdBy"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}

// Staged reports whether the attachment still lives in an upload session
func (a *Attachment) Staged() bool {
	return a.UploadSessionID != nil
}

// Validate checks the context/session exclusivity invariant
func (a *Attachment) Validate() error {
	hasContext := a.ContextID != nil && *a.ContextID != ""
	hasSession := a.UploadSessionID != nil && *a.UploadSessionID != ""

	if hasContext == hasSession {
		return ErrAttachmentScope
	}

	return nil
}

func (a *Attachment) BeforeSave(tx *gorm.DB) error {
	return a.Validate()
}

// ClearThumbnail resets every thumbnail field to the given status
func (a *Attachment) ClearThumbnail(status ThumbnailStatus) {
	a.ThumbnailStatus = status
	a.ThumbnailFilename = nil
	a.ThumbnailContentType = nil
	a.ThumbnailSize = nil
}
