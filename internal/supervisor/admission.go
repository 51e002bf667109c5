package supervisor

import (
	"github.com/google/uuid"

	"github.com/agentfleet/swarmd/internal/daemon"
	"github.com/agentfleet/swarmd/internal/protocol"
)

// handlePromoteRequest is the admission controller: exactly the ordering
// spec.md §4.E prescribes. Called only from inside the command loop.
func (s *Supervisor) handlePromoteRequest(agentID string, task protocol.Task) {
	ent, ok := s.table[agentID]
	if !ok {
		return
	}

	if s.promotionsPaused {
		_ = ent.d.DenyPromotion("promotions paused (budget/quota)")
		return
	}

	if s.activeCount >= s.cfg.MaxActive {
		s.queue = append(s.queue, queuedPromotion{id: uuid.NewString(), agentID: agentID, task: task})
		return
	}

	if s.cfg.TokenBudget > 0 && s.tokensUsed >= s.cfg.TokenBudget {
		s.promotionsPaused = true
		_ = ent.d.DenyPromotion("token budget exhausted")
		s.logger.Info("promotions paused", "event", "promotions_paused", "reason", "token budget exhausted")
		return
	}

	if err := ent.d.ApprovePromotion(task); err != nil {
		s.logger.Error("approve promotion failed", "agentId", agentID, "error", err)
	}
}

// processPromotionQueue drains the FIFO queue while there is headroom,
// discarding any entry whose daemon is no longer promoting. Called on
// every demotion and on config reload.
func (s *Supervisor) processPromotionQueue() {
	for len(s.queue) > 0 && s.activeCount < s.cfg.MaxActive && !s.promotionsPaused {
		head := s.queue[0]
		s.queue = s.queue[1:]

		ent, ok := s.table[head.agentID]
		if !ok || ent.d.State() != daemon.StatePromoting {
			continue
		}
		if err := ent.d.ApprovePromotion(head.task); err != nil {
			s.logger.Error("approve promotion failed", "agentId", head.agentID, "error", err)
		}
	}
}
