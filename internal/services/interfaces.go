package services

import (
	"context"

	"codepair/internal/models"
)

// SessionStore is what the allocator needs from storage. The repository
// package provides GORM, Redis and in-memory implementations.
type SessionStore interface {
	Record(ctx context.Context, rec *models.SessionRecord) error
	Exists(ctx context.Context, id string) (bool, error)
}
