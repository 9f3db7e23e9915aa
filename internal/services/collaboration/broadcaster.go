package collaboration

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Endpoint is a delivery target. Deliver must not block; it reports false
// when the message could not be queued.
type Endpoint interface {
	ID() string
	Deliver(message []byte) bool
}

type group struct {
	mu      sync.RWMutex
	members map[string]Endpoint
	retired bool
}

// Broadcaster fans messages out to the endpoints joined to a session's
// group. Each group has its own lock; there is no lock shared across
// sessions on the delivery path.
type Broadcaster struct {
	groups    sync.Map // sessionID -> *group
	endpoints sync.Map // connID -> Endpoint

	// OnDrop is called once per delivery that an endpoint refused.
	OnDrop func(connID string)
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

func (b *Broadcaster) group(sessionID string) *group {
	if g, ok := b.groups.Load(sessionID); ok {
		return g.(*group)
	}
	g, _ := b.groups.LoadOrStore(sessionID, &group{members: make(map[string]Endpoint)})
	return g.(*group)
}

// Join registers ep in the session's group. Joining twice is a no-op.
func (b *Broadcaster) Join(sessionID string, ep Endpoint) {
	for {
		g := b.group(sessionID)
		g.mu.Lock()
		if g.retired {
			g.mu.Unlock()
			continue
		}
		g.members[ep.ID()] = ep
		g.mu.Unlock()
		break
	}
	b.endpoints.Store(ep.ID(), ep)
}

// Leave unregisters connID from the session's group. Leaving a group the
// connection is not in is a no-op.
func (b *Broadcaster) Leave(sessionID, connID string) {
	b.endpoints.Delete(connID)

	v, ok := b.groups.Load(sessionID)
	if !ok {
		return
	}
	g := v.(*group)
	g.mu.Lock()
	delete(g.members, connID)
	g.mu.Unlock()
}

// Broadcast encodes message once and offers it to every endpoint in the
// group. Refused deliveries are dropped without affecting the rest. It
// returns the number of accepted deliveries.
func (b *Broadcaster) Broadcast(sessionID string, message any) (int, error) {
	payload, err := encode(message)
	if err != nil {
		return 0, err
	}

	v, ok := b.groups.Load(sessionID)
	if !ok {
		return 0, nil
	}
	g := v.(*group)

	g.mu.RLock()
	defer g.mu.RUnlock()

	delivered := 0
	for id, ep := range g.members {
		if ep.Deliver(payload) {
			delivered++
			continue
		}
		if b.OnDrop != nil {
			b.OnDrop(id)
		}
	}
	return delivered, nil
}

// SendTo delivers message to exactly one joined endpoint.
func (b *Broadcaster) SendTo(connID string, message any) (bool, error) {
	payload, err := encode(message)
	if err != nil {
		return false, err
	}
	v, ok := b.endpoints.Load(connID)
	if !ok {
		return false, nil
	}
	if v.(Endpoint).Deliver(payload) {
		return true, nil
	}
	if b.OnDrop != nil {
		b.OnDrop(connID)
	}
	return false, nil
}

func (b *Broadcaster) GroupSize(sessionID string) int {
	v, ok := b.groups.Load(sessionID)
	if !ok {
		return 0
	}
	g := v.(*group)
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Forget drops the group for an evicted session if it is empty.
func (b *Broadcaster) Forget(sessionID string) {
	v, ok := b.groups.Load(sessionID)
	if !ok {
		return
	}
	g := v.(*group)
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.members) == 0 {
		g.retired = true
		b.groups.CompareAndDelete(sessionID, g)
	}
}

func encode(message any) ([]byte, error) {
	if raw, ok := message.([]byte); ok {
		return raw, nil
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return payload, nil
}
