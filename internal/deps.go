package internal

import (
	"bitwise74/attachment-api/internal/service"

	"gorm.io/gorm"
)

type Deps struct {
	DB            *gorm.DB
	Store         *service.AttachmentStore
	Sessions      *service.SessionRegistry
	Queue         *service.ThumbnailQueue
	Reclaimer     *service.ReclaimScheduler
	MaxUploadSize int64
}
