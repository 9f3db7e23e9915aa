package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codepair/internal/models"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// RedisSessionRepository stores issued session ids as expiring keys.
type RedisSessionRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSessionRepository(rdb *redis.Client, ttl time.Duration) *RedisSessionRepository {
	return &RedisSessionRepository{rdb: rdb, ttl: ttl}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

// Record stores rec with SETNX so two allocators can never claim one id.
func (r *RedisSessionRepository) Record(ctx context.Context, rec *models.SessionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := r.rdb.SetNX(ctx, sessionKey(rec.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	if !ok {
		return ErrDuplicateSession
	}
	return nil
}

func (r *RedisSessionRepository) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up session: %w", err)
	}
	return n > 0, nil
}

// GetByID returns the stored record, or nil when unknown or expired.
func (r *RedisSessionRepository) GetByID(ctx context.Context, id string) (*models.SessionRecord, error) {
	data, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var rec models.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &rec, nil
}
