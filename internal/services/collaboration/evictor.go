package collaboration

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Evictor periodically removes sessions that have had no members for
// longer than the idle TTL. Without it sessions live as long as the
// process.
type Evictor struct {
	manager  *SessionManager
	idleTTL  time.Duration
	interval time.Duration
	cron     *cron.Cron
	now      func() time.Time
}

func NewEvictor(sm *SessionManager, idleTTL, interval time.Duration) *Evictor {
	return &Evictor{
		manager:  sm,
		idleTTL:  idleTTL,
		interval: interval,
		cron:     cron.New(),
		now:      time.Now,
	}
}

// Start schedules Sweep every interval.
func (e *Evictor) Start() error {
	spec := fmt.Sprintf("@every %s", e.interval)
	if _, err := e.cron.AddFunc(spec, func() { e.Sweep() }); err != nil {
		return fmt.Errorf("failed to schedule session eviction: %w", err)
	}
	e.cron.Start()
	e.manager.logger.Info("session eviction scheduled",
		zap.Duration("idle_ttl", e.idleTTL),
		zap.Duration("interval", e.interval),
	)
	return nil
}

// Sweep evicts idle empty sessions once and returns their ids.
func (e *Evictor) Sweep() []string {
	evicted := e.manager.registry.EvictIdle(e.now().Add(-e.idleTTL))
	if len(evicted) > 0 {
		e.manager.metrics.SessionsEvicted.Add(float64(len(evicted)))
		e.manager.logger.Info("evicted idle sessions", zap.Strings("session_ids", evicted))
	}
	return evicted
}

// Stop waits for a running sweep to finish.
func (e *Evictor) Stop() {
	<-e.cron.Stop().Done()
}
