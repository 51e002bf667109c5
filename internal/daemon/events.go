package daemon

import "github.com/agentfleet/swarmd/internal/protocol"

// Event is the closed set of lifecycle events a Daemon publishes. The
// supervisor subscribes with a type switch over this set (see spec design
// notes: event-driven → task-driven, typed sink set replacing stringly-typed
// emitter routing).
type Event interface{ isDaemonEvent() }

type Started struct{ AgentID string }

type Heartbeat struct {
	AgentID string
	Status  string // always "idle"
}

type Claim struct {
	AgentID   string
	Component string
	Role      string
}

type PromoteRequest struct {
	AgentID string
	Task    protocol.Task
}

type Promoted struct {
	AgentID string
	PID     int
}

type Unclaim struct {
	AgentID string
	Reason  string
}

type Output struct {
	AgentID string
	Stream  string // "stdout" or "stderr"
	Chunk   string
}

type Done struct {
	AgentID    string
	Task       protocol.Task
	Success    bool
	Output     string
	DurationMs int64
}

type Fail struct {
	AgentID    string
	Task       protocol.Task
	Success    bool
	ExitCode   int
	Error      string
	Output     string
	DurationMs int64
}

type Demoted struct{ AgentID string }

type Crashed struct {
	AgentID string
	Error   string
}

type Stopped struct{ AgentID string }

func (Started) isDaemonEvent()        {}
func (Heartbeat) isDaemonEvent()      {}
func (Claim) isDaemonEvent()          {}
func (PromoteRequest) isDaemonEvent() {}
func (Promoted) isDaemonEvent()       {}
func (Unclaim) isDaemonEvent()        {}
func (Output) isDaemonEvent()         {}
func (Done) isDaemonEvent()           {}
func (Fail) isDaemonEvent()           {}
func (Demoted) isDaemonEvent()        {}
func (Crashed) isDaemonEvent()        {}
func (Stopped) isDaemonEvent()        {}

// Sink receives every event a Daemon emits, in the total order spec §5
// guarantees per daemon.
type Sink func(Event)
