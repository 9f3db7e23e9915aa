package api

import (
	"context"

	"codepair/internal/models"
)

// The api package consumes the services, so the interfaces it needs are
// declared here. Handlers depend only on the methods they call, which
// keeps them testable with small fakes.

// SessionAllocator mints and describes session ids.
type SessionAllocator interface {
	Create(ctx context.Context) (models.SessionInfo, error)
	Describe(id string) models.SessionInfo
	Issued(ctx context.Context, id string) (bool, error)
}

// SessionView reads live hub state.
type SessionView interface {
	Snapshot(sessionID string) (models.SessionSnapshot, bool)
	SessionCount() int
	ConnectionCount() int
}
