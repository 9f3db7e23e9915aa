package repository

import (
	"context"
	"sync"
	"time"

	"codepair/internal/models"
)

// MemorySessionRepository keeps issued ids for the life of the process.
type MemorySessionRepository struct {
	mu      sync.RWMutex
	records map[string]models.SessionRecord
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{records: make(map[string]models.SessionRecord)}
}

func (r *MemorySessionRepository) Record(_ context.Context, rec *models.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; ok {
		return ErrDuplicateSession
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r.records[rec.ID] = *rec
	return nil
}

func (r *MemorySessionRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok, nil
}

func (r *MemorySessionRepository) GetByID(_ context.Context, id string) (*models.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}
