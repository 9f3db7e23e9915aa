package collaboration

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"codepair/internal/models"
)

// ErrSessionNotFound is returned when an operation addresses a session the
// registry does not hold.
var ErrSessionNotFound = errors.New("session not found")

// SessionState is the shared record for one session. Every field behind mu
// is only touched while mu is held.
type SessionState struct {
	ID string

	mu         sync.Mutex
	doc        models.DocumentState
	members    map[string]struct{}
	lastActive time.Time
	evicted    bool
}

func newSessionState(id string, now time.Time) *SessionState {
	return &SessionState{
		ID: id,
		doc: models.DocumentState{
			Code:     models.DefaultDocument,
			Language: models.DefaultLanguage,
		},
		members:    make(map[string]struct{}),
		lastActive: now,
	}
}

func (s *SessionState) snapshot() models.SessionSnapshot {
	return models.SessionSnapshot{
		ID:             s.ID,
		Code:           s.doc.Code,
		Language:       s.doc.Language,
		ConnectedUsers: len(s.members),
		LastActiveAt:   s.lastActive,
	}
}

// Registry is the process-wide table of sessions. The table itself is a
// sync.Map so lookups and lazy creation never take a shared lock; each
// SessionState serializes its own operations.
type Registry struct {
	sessions sync.Map // sessionID -> *SessionState
	count    atomic.Int64
	now      func() time.Time

	// OnCreate and OnRemove observe table size changes.
	OnCreate func(sessionID string)
	OnRemove func(sessionID string)
}

func NewRegistry() *Registry {
	return &Registry{now: time.Now}
}

// GetOrCreate returns the state for sessionID, creating it on first use.
// Concurrent callers for the same new id all receive the same instance.
func (r *Registry) GetOrCreate(sessionID string) *SessionState {
	if v, ok := r.sessions.Load(sessionID); ok {
		return v.(*SessionState)
	}
	fresh := newSessionState(sessionID, r.now())
	v, loaded := r.sessions.LoadOrStore(sessionID, fresh)
	if !loaded {
		r.count.Add(1)
		if r.OnCreate != nil {
			r.OnCreate(sessionID)
		}
	}
	return v.(*SessionState)
}

func (r *Registry) lookup(sessionID string) (*SessionState, bool) {
	v, ok := r.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*SessionState), true
}

// AddMember adds connID to the session, creating the session if needed.
// onJoined, when non-nil, runs before the session is unlocked with the
// post-join document and member count. Adding a present member is a no-op
// apart from running onJoined.
func (r *Registry) AddMember(sessionID, connID string, onJoined func(doc models.DocumentState, count int)) int {
	count, _ := r.AddMemberIf(sessionID, connID, nil, onJoined)
	return count
}

// AddMemberIf is AddMember guarded by admit, which is evaluated under the
// session lock before anything changes. When admit returns false nothing
// is added, onJoined does not run and the current count is returned.
func (r *Registry) AddMemberIf(sessionID, connID string, admit func() bool, onJoined func(doc models.DocumentState, count int)) (int, bool) {
	for {
		s := r.GetOrCreate(sessionID)
		s.mu.Lock()
		if s.evicted {
			// Lost a race with the evictor; the next GetOrCreate builds a
			// fresh state.
			s.mu.Unlock()
			continue
		}
		if admit != nil && !admit() {
			count := len(s.members)
			s.mu.Unlock()
			return count, false
		}
		s.members[connID] = struct{}{}
		s.lastActive = r.now()
		count := len(s.members)
		if onJoined != nil {
			onJoined(s.doc, count)
		}
		s.mu.Unlock()
		return count, true
	}
}

// RemoveMember drops connID from the session. It reports the remaining
// count and whether anything was removed. onLeft runs under the session
// lock, and only when a member was actually removed.
func (r *Registry) RemoveMember(sessionID, connID string, onLeft func(count int)) (int, bool) {
	s, ok := r.lookup(sessionID)
	if !ok {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, present := s.members[connID]; !present {
		return len(s.members), false
	}
	delete(s.members, connID)
	s.lastActive = r.now()
	count := len(s.members)
	if onLeft != nil {
		onLeft(count)
	}
	return count, true
}

// ApplyUpdate replaces code and language together. onApplied runs under the
// session lock, so fan-out for one session follows apply order.
func (r *Registry) ApplyUpdate(sessionID string, doc models.DocumentState, onApplied func(doc models.DocumentState)) error {
	s, ok := r.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return ErrSessionNotFound
	}

	s.doc = doc
	s.lastActive = r.now()
	if onApplied != nil {
		onApplied(s.doc)
	}
	return nil
}

// MemberCount returns 0 for unknown sessions.
func (r *Registry) MemberCount(sessionID string) int {
	s, ok := r.lookup(sessionID)
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

func (r *Registry) Snapshot(sessionID string) (models.SessionSnapshot, bool) {
	s, ok := r.lookup(sessionID)
	if !ok {
		return models.SessionSnapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return models.SessionSnapshot{}, false
	}
	return s.snapshot(), true
}

// Sessions lists the ids currently held, sorted.
func (r *Registry) Sessions() []string {
	var ids []string
	r.sessions.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	return int(r.count.Load())
}

// EvictIdle removes sessions that have no members and have been inactive
// since before cutoff. It returns the evicted ids.
func (r *Registry) EvictIdle(cutoff time.Time) []string {
	var evicted []string
	r.sessions.Range(func(k, v any) bool {
		s := v.(*SessionState)
		s.mu.Lock()
		if len(s.members) == 0 && s.lastActive.Before(cutoff) && !s.evicted {
			s.evicted = true
			r.sessions.CompareAndDelete(k, s)
			evicted = append(evicted, s.ID)
		}
		s.mu.Unlock()
		return true
	})

	for _, id := range evicted {
		r.count.Add(-1)
		if r.OnRemove != nil {
			r.OnRemove(id)
		}
	}
	return evicted
}
