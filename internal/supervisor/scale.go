package supervisor

import (
	"sort"

	"github.com/agentfleet/swarmd/internal/daemon"
	"github.com/agentfleet/swarmd/internal/workspace"
)

// scaleInternal implements scale(target) for target != 0 (target == 0 is
// handled by the caller as stop()). Idle daemons are removed oldest-first
// by stableSince; active daemons are never candidates, so the removal
// delta is capped by the number of idle daemons available.
func (s *Supervisor) scaleInternal(target int) ScaleResult {
	from := len(s.table)
	res := ScaleResult{From: from}

	switch {
	case target > from:
		for i := 0; i < target-from; i++ {
			if _, err := s.spawnDaemon(); err != nil {
				s.logger.Error("scale-up spawn failed", "error", err)
				continue
			}
			res.Added++
		}
		s.logger.Info("scaled up", "event", "scaled_up", "from", from, "to", from+res.Added)

	case target < from:
		delta := from - target
		candidates := make([]*entry, 0, len(s.table))
		for _, ent := range s.table {
			if ent.d.State() == daemon.StateIdle {
				candidates = append(candidates, ent)
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].stableSince.Before(candidates[j].stableSince)
		})
		if delta > len(candidates) {
			delta = len(candidates)
		}
		for i := 0; i < delta; i++ {
			ent := candidates[i]
			id := ent.d.AgentID()
			ent.d.Stop()
			s.health.Unregister(id)
			if !s.cfg.Persist && s.cfg.WorkspaceRoot != "" {
				_ = workspace.Remove(s.cfg.WorkspaceRoot, id)
			}
			delete(s.table, id)
			res.Removed++
		}
		s.logger.Info("scaled down", "event", "scaled_down", "from", from, "to", from-res.Removed)
	}

	res.To = from + res.Added - res.Removed
	return res
}
