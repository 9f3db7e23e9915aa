package repository

import (
	"context"
	"errors"
	"fmt"

	"codepair/internal/models"

	"gorm.io/gorm"
)

// ErrDuplicateSession is returned when an id has already been issued.
var ErrDuplicateSession = errors.New("session id already issued")

// SessionRepositoryImpl stores issued session ids with GORM.
type SessionRepositoryImpl struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepositoryImpl {
	return &SessionRepositoryImpl{db: db}
}

// Record inserts rec, failing with ErrDuplicateSession if the id exists.
func (r *SessionRepositoryImpl) Record(ctx context.Context, rec *models.SessionRecord) error {
	exists, err := r.Exists(ctx, rec.ID)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateSession
	}

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

func (r *SessionRepositoryImpl) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SessionRecord{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up session: %w", err)
	}
	return count > 0, nil
}

// GetByID returns the stored record, or nil when the id was never issued.
func (r *SessionRepositoryImpl) GetByID(ctx context.Context, id string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &rec, nil
}
