package supervisor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentfleet/swarmd/internal/bus"
	"github.com/agentfleet/swarmd/internal/daemon"
	"github.com/agentfleet/swarmd/internal/protocol"
)

// handleDaemonEvent is the typed sink every daemon's events are routed
// through. activeCount is incremented exactly on Promoted and decremented
// exactly on Demoted — the sole source of truth for admission gating.
func (s *Supervisor) handleDaemonEvent(agentID string, ev daemon.Event) {
	switch e := ev.(type) {
	case daemon.Heartbeat:
		s.health.Heartbeat(agentID)

	case daemon.Claim:
		s.publish(protocol.Envelope{Type: protocol.TypeClaim, AgentID: agentID, Component: e.Component, Role: e.Role})

	case daemon.PromoteRequest:
		s.handlePromoteRequest(agentID, e.Task)

	case daemon.Promoted:
		s.activeCount++
		if ent, ok := s.table[agentID]; ok {
			ent.active = true
		}
		s.health.UpdatePID(agentID, e.PID)

	case daemon.Done:
		s.recordCompletion(agentID, e.Output, e.DurationMs)
		task := e.Task
		s.publish(protocol.Envelope{Type: protocol.TypeTaskDone, AgentID: agentID, Task: &task, Success: true})

	case daemon.Fail:
		s.recordCompletion(agentID, e.Output, e.DurationMs)
		task := e.Task
		s.publish(protocol.Envelope{Type: protocol.TypeTaskFail, AgentID: agentID, Task: &task, Error: e.Error})

	case daemon.Demoted:
		if s.activeCount > 0 {
			s.activeCount--
		}
		if ent, ok := s.table[agentID]; ok {
			ent.active = false
			ent.stableSince = time.Now()
		}
		s.processPromotionQueue()

	case daemon.Crashed:
		s.handleCrash(agentID, e.Error)
	}
}

// recordCompletion feeds the quota probe on every done/fail and
// synchronizes tokensUsed. Called only from inside the command loop, so
// the probe's synchronous OnBudgetExhausted/OnBudgetWarning callbacks
// (registered in New) may mutate supervisor fields directly.
func (s *Supervisor) recordCompletion(agentID, output string, durationMs int64) {
	s.quota.Record(agentID, output, durationMs, nil)
	s.tokensUsed = s.quota.Total()
}

func (s *Supervisor) handleBusMessage(m bus.Message) {
	env, err := protocol.Parse(m.Content)
	if err != nil {
		return
	}
	switch env.Type {
	case protocol.TypeAssign, protocol.TypeTaskAvailable:
		for _, ent := range s.table {
			ent.d.HandleMessage(*env)
		}
	}
}

func (s *Supervisor) publish(env protocol.Envelope) {
	if s.transport == nil {
		return
	}
	content, err := env.Marshal()
	if err != nil {
		return
	}
	if err := s.transport.Send("#"+s.primaryChannel(), content); err != nil {
		s.logger.Warn("bus send failed", "event", "bus_failure", "error", err)
	}
}

func (s *Supervisor) primaryChannel() string {
	if len(s.cfg.Channels) == 0 {
		return "agents"
	}
	return strings.TrimPrefix(s.cfg.Channels[0], "#")
}

func (s *Supervisor) broadcastTaskInternal(task protocol.Task) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	env := protocol.Envelope{Type: protocol.TypeTaskAvailable, Task: &task}
	s.publish(env)
	for _, ent := range s.table {
		ent.d.HandleMessage(env)
	}
	if s.relay != nil {
		if content, err := env.Marshal(); err == nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.relay.Publish(ctx, content); err != nil {
					s.logger.Warn("group relay publish failed", "event", "grouprelay_publish_failed", "error", err)
				}
			}()
		}
	}
}

// handleRelayedTask delivers a TASK_AVAILABLE broadcast that arrived from
// a peer supervisor over the group relay to every local daemon.
func (s *Supervisor) handleRelayedTask(content string) {
	env, err := protocol.Parse(content)
	if err != nil || env.Type != protocol.TypeTaskAvailable {
		return
	}
	for _, ent := range s.table {
		ent.d.HandleMessage(*env)
	}
}

func (s *Supervisor) assignTaskInternal(agentID string, task protocol.Task) {
	ent, ok := s.table[agentID]
	if !ok {
		return
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	ent.d.HandleMessage(protocol.Envelope{Type: protocol.TypeAssign, AgentID: agentID, Task: &task})
}
