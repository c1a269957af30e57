package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitwise74/attachment-api/internal/model"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const DefaultSessionTTL = 24 * time.Hour

// SessionRegistry owns upload session rows and their TTL. It doesn't
// authorize anything, callers do.
type SessionRegistry struct {
	db    *gorm.DB
	clock clock.Clock
	ttl   time.Duration
}

func NewSessionRegistry(db *gorm.DB, c clock.Clock, ttl time.Duration) *SessionRegistry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &SessionRegistry{
		db:    db,
		clock: c,
		ttl:   ttl,
	}
}

func (r *SessionRegistry) Create(ctx context.Context, t model.ContextType, ownerID int64, targetContextID *string) (*model.UploadSession, error) {
	now := r.clock.Now().UTC()

	s := &model.UploadSession{
		ID:              uuid.NewString(),
		ContextType:     t,
		TargetContextID: targetContextID,
		OwnerID:         ownerID,
		ExpiresAt:       now.Add(r.ttl),
		CreatedAt:       now,
	}

	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, fmt.Errorf("failed to create upload session, %w", err)
	}

	zap.L().Debug("Upload session created",
		zap.String("session_id", s.ID),
		zap.Int64("owner_id", ownerID),
		zap.Time("expires_at", s.ExpiresAt))

	return s, nil
}

func (r *SessionRegistry) Find(ctx context.Context, id string) (*model.UploadSession, error) {
	var s model.UploadSession

	err := r.db.
		WithContext(ctx).
		Where("id = ?", id).
		First(&s).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: upload session", ErrNotFound)
		}

		return nil, fmt.Errorf("failed to find upload session, %w", err)
	}

	return &s, nil
}

func (r *SessionRegistry) Delete(ctx context.Context, id string) error {
	err := r.db.
		WithContext(ctx).
		Where("id = ?", id).
		Delete(&model.UploadSession{}).
		Error
	if err != nil {
		return fmt.Errorf("failed to delete upload session, %w", err)
	}

	return nil
}

// Expired returns sessions whose expiry is at or before now
func (r *SessionRegistry) Expired(ctx context.Context, now time.Time) ([]model.UploadSession, error) {
	var sessions []model.UploadSession

	err := r.db.
		WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Order("expires_at").
		Find(&sessions).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to query expired sessions, %w", err)
	}

	return sessions, nil
}

func (r *SessionRegistry) Now() time.Time {
	return r.clock.Now().UTC()
}
