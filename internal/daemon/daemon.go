// Package daemon implements the per-slot state machine: idle → promoting →
// active → demoting → idle, plus the crashed terminal branch. A Daemon owns
// at most one child executor process and emits lifecycle events that the
// supervisor consumes; it never starts an executor without the supervisor
// calling ApprovePromotion.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentfleet/swarmd/internal/protocol"
)

// State is one of the five daemon states.
type State string

const (
	StateIdle      State = "idle"
	StatePromoting State = "promoting"
	StateActive    State = "active"
	StateDemoting  State = "demoting"
	StateCrashed   State = "crashed"
)

const contextFileName = "context.txt"

// Config controls a Daemon's heartbeat cadence, executor spawn, and
// workspace location.
type Config struct {
	HeartbeatInterval time.Duration
	ExecutorCommand   []string // program + prefix args; task prompt/workdir/identity are appended
	WorkspaceDir      string   // empty disables context-file writing
	MaxOutputTailChars int
	MaxTaskDuration   time.Duration
}

// Info is the read-only projection of a Daemon's state, used by the
// supervisor's status snapshot.
type Info struct {
	AgentID     string
	Name        string
	Role        string
	State       State
	CurrentTask *protocol.Task
}

// Daemon is the per-slot state machine.
type Daemon struct {
	agentID string
	name    string
	role    string
	cfg     Config
	sink    Sink

	mu          sync.Mutex
	state       State
	currentTask *protocol.Task
	executor    *executor
	promotedAt  time.Time

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
}

// New creates a Daemon in the idle state. It does not start until Start is
// called.
func New(agentID, name, role string, sink Sink, cfg Config) *Daemon {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.MaxOutputTailChars <= 0 {
		cfg.MaxOutputTailChars = 2000
	}
	if cfg.MaxTaskDuration <= 0 {
		cfg.MaxTaskDuration = 30 * time.Minute
	}
	return &Daemon{
		agentID: agentID,
		name:    name,
		role:    role,
		cfg:     cfg,
		sink:    sink,
		state:   StateIdle,
	}
}

func (d *Daemon) emit(e Event) {
	if d.sink != nil {
		d.sink(e)
	}
}

// AgentID, Name, Role are immutable for the life of the daemon.
func (d *Daemon) AgentID() string { return d.agentID }
func (d *Daemon) Name() string    { return d.name }
func (d *Daemon) Role() string    { return d.role }

// Info returns a snapshot of current state.
func (d *Daemon) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	var task *protocol.Task
	if d.currentTask != nil {
		t := *d.currentTask
		task = &t
	}
	return Info{AgentID: d.agentID, Name: d.name, Role: d.role, State: d.state, CurrentTask: task}
}

func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start transitions to idle and begins the idle heartbeat loop. Emits
// Started.
func (d *Daemon) Start() {
	d.mu.Lock()
	d.state = StateIdle
	d.mu.Unlock()
	d.emit(Started{AgentID: d.agentID})
	d.startHeartbeat()
}

// Stop halts the heartbeat loop and, if an executor is running, kills it.
// Emits Stopped.
func (d *Daemon) Stop() {
	d.stopHeartbeat()
	d.mu.Lock()
	ex := d.executor
	d.mu.Unlock()
	if ex != nil {
		ex.kill()
	}
	d.emit(Stopped{AgentID: d.agentID})
}

// HandleMessage routes an inbound structured message per the daemon's
// current state and role-matching rule.
func (d *Daemon) HandleMessage(env protocol.Envelope) {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()

	switch env.Type {
	case protocol.TypeTaskAvailable:
		if state != StateIdle || env.Task == nil {
			return
		}
		if !roleMatches(d.role, env.Task.Role) {
			return
		}
		d.emit(Claim{AgentID: d.agentID, Component: env.Task.Component, Role: d.role})

	case protocol.TypeAssign:
		if state != StateIdle || env.AgentID != d.agentID || env.Task == nil {
			return
		}
		task := *env.Task
		d.mu.Lock()
		d.state = StatePromoting
		d.currentTask = &task
		d.mu.Unlock()
		d.emit(PromoteRequest{AgentID: d.agentID, Task: task})

	default:
		// Any other message, or a message while not idle, is ignored.
	}
}

// roleMatches implements: task.role == self.role OR self.role == "general".
// A task without a role matches only general daemons.
func roleMatches(selfRole, taskRole string) bool {
	if selfRole == "general" {
		return true
	}
	return taskRole == selfRole
}

// ApprovePromotion spawns the executor and transitions promoting → active.
// Precondition: state is promoting. Writes a best-effort context record.
func (d *Daemon) ApprovePromotion(task protocol.Task) error {
	d.mu.Lock()
	if d.state != StatePromoting {
		d.mu.Unlock()
		return fmt.Errorf("daemon %s: ApprovePromotion from state %s, want promoting", d.agentID, d.state)
	}
	d.mu.Unlock()

	d.writeContext(fmt.Sprintf("task: %s\nrole: %s\ncomponent: %s\nprompt: %s\nstatus: promoting\n",
		task.ID, task.Role, task.Component, task.Prompt))

	d.stopHeartbeat()

	ex, err := spawnExecutor(d.cfg.ExecutorCommand, task, d.workspaceDirFor(), d.name, d.cfg.MaxOutputTailChars, d.cfg.MaxTaskDuration,
		func(stream, chunk string) { d.emit(Output{AgentID: d.agentID, Stream: stream, Chunk: chunk}) },
		func(exitCode int, signaled bool, tail string, spawnErr error) { d.onExecutorExit(exitCode, signaled, tail, spawnErr) },
	)
	if err != nil {
		d.mu.Lock()
		d.state = StateCrashed
		d.mu.Unlock()
		d.emit(Fail{AgentID: d.agentID, Task: task, Success: false, Error: err.Error()})
		d.emit(Crashed{AgentID: d.agentID, Error: err.Error()})
		return err
	}

	d.mu.Lock()
	d.state = StateActive
	d.executor = ex
	d.promotedAt = time.Now()
	d.mu.Unlock()

	d.emit(Promoted{AgentID: d.agentID, PID: ex.pid()})
	return nil
}

// DenyPromotion returns the daemon to idle. Precondition: state is
// promoting.
func (d *Daemon) DenyPromotion(reason string) error {
	d.mu.Lock()
	if d.state != StatePromoting {
		d.mu.Unlock()
		return fmt.Errorf("daemon %s: DenyPromotion from state %s, want promoting", d.agentID, d.state)
	}
	d.state = StateIdle
	d.currentTask = nil
	d.mu.Unlock()

	d.emit(Unclaim{AgentID: d.agentID, Reason: reason})
	d.startHeartbeat()
	return nil
}

// Kill terminates the running executor, e.g. for the maxTaskDurationMs
// watchdog or a graceful shutdown. No-op if no executor is running.
func (d *Daemon) Kill() {
	d.mu.Lock()
	ex := d.executor
	d.mu.Unlock()
	if ex != nil {
		ex.kill()
	}
}

func (d *Daemon) onExecutorExit(exitCode int, signaled bool, tail string, spawnErr error) {
	d.mu.Lock()
	task := d.currentTask
	promotedAt := d.promotedAt
	d.state = StateDemoting
	d.mu.Unlock()

	var taskVal protocol.Task
	if task != nil {
		taskVal = *task
	}
	var durationMs int64
	if !promotedAt.IsZero() {
		durationMs = time.Since(promotedAt).Milliseconds()
	}

	if spawnErr != nil {
		d.writeContext(fmt.Sprintf("task: %s\nstatus: crashed\nerror: %s\noutput:\n%s\n", taskVal.ID, spawnErr.Error(), tail))
		d.mu.Lock()
		d.state = StateCrashed
		d.mu.Unlock()
		d.emit(Fail{AgentID: d.agentID, Task: taskVal, Success: false, Error: spawnErr.Error(), Output: tail, DurationMs: durationMs})
		d.emit(Crashed{AgentID: d.agentID, Error: spawnErr.Error()})
		return
	}

	success := exitCode == 0 && !signaled
	d.writeContext(fmt.Sprintf("task: %s\nstatus: done\nexitCode: %d\nsuccess: %v\noutput:\n%s\n", taskVal.ID, exitCode, success, tail))

	if success {
		d.emit(Done{AgentID: d.agentID, Task: taskVal, Success: true, Output: tail, DurationMs: durationMs})
	} else {
		d.emit(Fail{AgentID: d.agentID, Task: taskVal, Success: false, ExitCode: exitCode, Output: tail, DurationMs: durationMs})
	}

	d.mu.Lock()
	d.state = StateIdle
	d.currentTask = nil
	d.executor = nil
	d.mu.Unlock()

	d.startHeartbeat()
	d.emit(Demoted{AgentID: d.agentID})
}

func (d *Daemon) workspaceDirFor() string {
	if d.cfg.WorkspaceDir == "" {
		return ""
	}
	return d.cfg.WorkspaceDir
}

// writeContext overwrites the workspace context file. Best-effort: write
// failures are swallowed, context is never allowed to fail the daemon.
func (d *Daemon) writeContext(text string) {
	if d.cfg.WorkspaceDir == "" {
		return
	}
	_ = os.WriteFile(filepath.Join(d.cfg.WorkspaceDir, contextFileName), []byte(text), 0644)
}

func (d *Daemon) startHeartbeat() {
	d.mu.Lock()
	if d.heartbeatStop != nil {
		d.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	d.heartbeatStop = stop
	d.heartbeatDone = done
	interval := d.cfg.HeartbeatInterval
	d.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.emit(Heartbeat{AgentID: d.agentID, Status: "idle"})
			}
		}
	}()
}

func (d *Daemon) stopHeartbeat() {
	d.mu.Lock()
	stop := d.heartbeatStop
	done := d.heartbeatDone
	d.heartbeatStop = nil
	d.heartbeatDone = nil
	d.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
