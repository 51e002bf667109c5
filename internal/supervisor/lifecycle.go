package supervisor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentfleet/swarmd/internal/concurrency"
	"github.com/agentfleet/swarmd/internal/daemon"
	"github.com/agentfleet/swarmd/internal/identity"
	"github.com/agentfleet/swarmd/internal/workspace"
)

func (s *Supervisor) startInternal() error {
	if s.running {
		return ErrAlreadyRunning
	}

	if err := s.acquirePidfile(); err != nil {
		return err
	}

	if s.cfg.LogDir != "" {
		if err := os.MkdirAll(s.cfg.LogDir, 0755); err != nil {
			s.logger.Error("create log dir failed", "error", err)
		}
	}

	if s.transport != nil {
		if _, err := s.transport.Connect(context.Background()); err != nil {
			s.logger.Warn("bus connect failed", "event", "bus_connect_failed", "error", err)
		} else {
			for _, ch := range s.cfg.Channels {
				channel := strings.TrimPrefix(ch, "#")
				if err := s.transport.Join(channel); err != nil {
					s.logger.Warn("bus join failed", "event", "bus_join_failed", "channel", channel, "error", err)
				}
			}
		}
	}

	if s.relay != nil {
		if err := s.relay.Start(context.Background()); err != nil {
			s.logger.Warn("group relay start failed", "event", "grouprelay_start_failed", "error", err)
		}
	}

	for i := 0; i < s.cfg.Count; i++ {
		if _, err := s.spawnDaemon(); err != nil {
			s.logger.Error("spawn daemon failed", "error", err)
		}
	}

	s.healthStop = make(chan struct{})
	s.startHealthTicker(s.healthStop)

	s.running = true
	s.startedAt = time.Now()
	s.logger.Info("supervisor started", "event", "started", "count", len(s.table))
	return nil
}

func (s *Supervisor) startHealthTicker(stop chan struct{}) {
	interval := s.cfg.HeartbeatInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				s.enqueue(func() { s.health.Check(now) })
			}
		}
	}()
}

func (s *Supervisor) stopInternal() {
	if !s.running {
		return
	}
	if s.healthStop != nil {
		close(s.healthStop)
		s.healthStop = nil
	}

	for id, ent := range s.table {
		ent.d.Stop()
		s.health.Unregister(id)
		if !s.cfg.Persist && s.cfg.WorkspaceRoot != "" {
			_ = workspace.Remove(s.cfg.WorkspaceRoot, id)
		}
	}
	s.table = make(map[string]*entry)
	s.queue = nil
	s.activeCount = 0
	s.promotionsPaused = false

	if s.transport != nil {
		_ = s.transport.Disconnect()
	}

	if s.relay != nil {
		_ = s.relay.Close()
	}

	if s.pidLock != nil {
		_ = s.pidLock.Unlock()
		s.pidLock = nil
	}

	s.running = false
	s.logger.Info("supervisor stopped", "event", "stopped")
}

// acquirePidfile takes the advisory flock on the configured pidfile path.
// A file that existed with non-empty content before the lock was acquired
// can only have been left by a process that is no longer holding the
// flock — i.e. a stale pidfile — since a live holder would have failed the
// TryLock below.
func (s *Supervisor) acquirePidfile() error {
	if s.cfg.PIDFile == "" {
		return nil
	}
	existedNonEmpty := false
	if data, err := os.ReadFile(s.cfg.PIDFile); err == nil && len(strings.TrimSpace(string(data))) > 0 {
		existedNonEmpty = true
	}

	lock := concurrency.NewFileLock(s.cfg.PIDFile)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("supervisor: acquire pidfile: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	if existedNonEmpty {
		s.logger.Info("stale pidfile", "event", "stale_pidfile", "path", s.cfg.PIDFile)
	}
	if err := lock.Write([]byte(strconv.Itoa(os.Getpid()))); err != nil {
		return fmt.Errorf("supervisor: write pidfile: %w", err)
	}
	s.pidLock = lock
	return nil
}

// spawnDaemon derives a fresh identity, scaffolds its workspace, and wires
// it into the process table. Naming continues the sequence across
// restarts and scale-ups within one supervisor lifetime.
func (s *Supervisor) spawnDaemon() (*entry, error) {
	seq := s.nextSeq
	s.nextSeq++

	id, err := identity.New(s.cfg.Role, seq)
	if err != nil {
		return nil, fmt.Errorf("supervisor: derive identity: %w", err)
	}

	var workDir string
	if s.cfg.WorkspaceRoot != "" {
		workDir, err = workspace.Scaffold(s.cfg.WorkspaceRoot, id)
		if err != nil {
			s.logger.Warn("workspace scaffold failed", "event", "workspace_write_failure", "agentId", id.AgentID, "error", err)
		}
	}

	agentID := id.AgentID
	d := daemon.New(agentID, id.Name, s.cfg.Role, func(ev daemon.Event) {
		s.enqueue(func() { s.handleDaemonEvent(agentID, ev) })
	}, daemon.Config{
		HeartbeatInterval:  s.cfg.HeartbeatInterval,
		ExecutorCommand:    s.cfg.ExecutorCommand,
		WorkspaceDir:       workDir,
		MaxOutputTailChars: s.cfg.MaxOutputTailChars,
		MaxTaskDuration:    s.cfg.MaxTaskDuration,
	})

	ent := &entry{d: d, seq: seq, stableSince: time.Now()}
	s.table[agentID] = ent
	s.health.Register(agentID, 0)
	d.Start()
	return ent, nil
}
