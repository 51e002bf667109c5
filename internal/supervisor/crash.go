package supervisor

import (
	"math"
	"time"
)

const (
	burstResetWindow  = 5 * time.Minute
	degradeWindow     = 30 * time.Minute
	degradeThreshold  = 5
	maxBackoffSeconds = 300
)

// handleCrash applies spec.md §4.E's seven-step crash recovery algorithm.
// Invoked from a daemon Crashed event or from a health unresponsive alert.
func (s *Supervisor) handleCrash(agentID, reason string) {
	ent, ok := s.table[agentID]
	if !ok {
		return
	}
	if ent.restartScheduled {
		return
	}

	now := time.Now()
	ent.restartCount++
	if ent.firstRestartAt.IsZero() {
		ent.firstRestartAt = now
	}

	if !ent.stableSince.IsZero() && now.Sub(ent.stableSince) > burstResetWindow {
		ent.restartCount = 1
		ent.firstRestartAt = now
	}

	if ent.restartCount > degradeThreshold && now.Sub(ent.firstRestartAt) < degradeWindow {
		s.logger.Warn("agent degraded", "event", "agent-degraded", "agentId", agentID, "reason", reason, "restartCount", ent.restartCount)
		return
	}

	delaySeconds := math.Min(math.Pow(2, float64(ent.restartCount)), maxBackoffSeconds)
	delay := time.Duration(delaySeconds * float64(time.Second))
	ent.restartScheduled = true
	restartCount := ent.restartCount
	firstRestartAt := ent.firstRestartAt

	s.logger.Info("agent restart scheduled", "event", "agent_restart_scheduled", "agentId", agentID, "delay", delay, "restartCount", restartCount)

	time.AfterFunc(delay, func() {
		s.enqueue(func() { s.performRestart(agentID, restartCount, firstRestartAt) })
	})
}

// performRestart fires after the backoff delay. Idempotency and the
// running check both live here since the delay may span a Stop().
func (s *Supervisor) performRestart(oldID string, restartCount int, firstRestartAt time.Time) {
	if !s.running {
		return
	}
	old, ok := s.table[oldID]
	if !ok {
		return
	}

	old.d.Stop()
	s.health.Unregister(oldID)
	if old.active && s.activeCount > 0 {
		s.activeCount--
	}
	delete(s.table, oldID)

	newEnt, err := s.spawnDaemon()
	if err != nil {
		s.logger.Error("restart spawn failed", "oldId", oldID, "error", err)
		return
	}
	newEnt.restartCount = restartCount
	newEnt.firstRestartAt = firstRestartAt
	newEnt.stableSince = time.Now()

	s.logger.Info("agent restarted", "event", "agent_restarted", "oldId", oldID, "newId", newEnt.d.AgentID())
}
