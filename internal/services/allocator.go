package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"codepair/internal/models"
	"codepair/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	sessionIDLength  = 8
	maxAllocAttempts = 5
)

// ErrAllocationExhausted means every candidate id collided.
var ErrAllocationExhausted = errors.New("could not allocate a unique session id")

// Allocator mints short session ids and the URLs clients open them at.
type Allocator struct {
	store   SessionStore
	baseURL string
	logger  *zap.Logger
	newID   func() string
}

// NewAllocator returns an allocator recording ids in store. baseURL is the
// prefix the id is appended to.
func NewAllocator(store SessionStore, baseURL string, logger *zap.Logger) *Allocator {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Allocator{
		store:   store,
		baseURL: baseURL,
		logger:  logger,
		newID:   func() string { return uuid.NewString()[:sessionIDLength] },
	}
}

// Create mints a fresh id, retrying on collision with an id already issued.
func (a *Allocator) Create(ctx context.Context) (models.SessionInfo, error) {
	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		id := a.newID()
		info := a.Describe(id)

		err := a.store.Record(ctx, &models.SessionRecord{ID: info.ID, URL: info.URL})
		if errors.Is(err, repository.ErrDuplicateSession) {
			a.logger.Debug("session id collision", zap.String("session_id", id))
			continue
		}
		if err != nil {
			return models.SessionInfo{}, fmt.Errorf("failed to create session: %w", err)
		}

		a.logger.Info("session allocated", zap.String("session_id", id))
		return info, nil
	}
	return models.SessionInfo{}, ErrAllocationExhausted
}

// Describe returns the id and its URL. It does not check that the id was
// ever issued or that a session is live.
func (a *Allocator) Describe(id string) models.SessionInfo {
	return models.SessionInfo{ID: id, URL: a.baseURL + id}
}

// Issued reports whether id was minted by this allocator's store.
func (a *Allocator) Issued(ctx context.Context, id string) (bool, error) {
	return a.store.Exists(ctx, id)
}
