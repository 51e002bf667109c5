// Package supervisor composes the message bus, health monitor, quota probe,
// and daemon state machines into the fleet control plane: the process
// table, promotion admission, crash recovery, and scale up/down. All state
// mutation is serialized through a single command loop, the way the
// teacher's MessageBus.DispatchOutbound owns its channel from one goroutine
// (internal/bus/bus.go in the pack) — there is no mutex held across a
// suspension point.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/agentfleet/swarmd/internal/alerts"
	"github.com/agentfleet/swarmd/internal/bus"
	"github.com/agentfleet/swarmd/internal/concurrency"
	"github.com/agentfleet/swarmd/internal/daemon"
	"github.com/agentfleet/swarmd/internal/grouprelay"
	"github.com/agentfleet/swarmd/internal/health"
	"github.com/agentfleet/swarmd/internal/protocol"
	"github.com/agentfleet/swarmd/internal/quota"
)

// ErrAlreadyRunning is returned by Start when the pidfile is held by a live
// process.
var ErrAlreadyRunning = errors.New("supervisor: already running")

// ErrNotRunning is returned by Scale when the supervisor has not started.
var ErrNotRunning = errors.New("supervisor: not running")

// Config is the supervisor's runtime configuration, flattened from
// config.Config's groups into the fields the control plane consumes
// directly.
type Config struct {
	Count              int
	MaxActive          int
	Role               string
	TokenBudget        int
	MaxTaskDuration    time.Duration
	Persist            bool
	PIDFile            string
	LogDir             string
	ShutdownTimeout    time.Duration
	ExecutorCommand    []string
	MaxOutputTailChars int
	Channels           []string
	WorkspaceRoot      string
	HeartbeatInterval  time.Duration

	HealthMemoryLimitMB   float64
	HealthCPUPctLimit     float64
	HealthMissThreshold   int

	QuotaMode            quota.Mode
	QuotaCharsPerToken   int
	QuotaTokensPerSecond int
	QuotaWarningFraction float64

	AlertsWebhookURL string
	AlertsTimeout    time.Duration

	GroupBrokers       []string
	GroupTopic         string
	GroupConsumerGroup string
}

func (c *Config) normalize() {
	if c.Count <= 0 {
		c.Count = 3
	}
	if c.MaxActive <= 0 {
		c.MaxActive = 5
	}
	if c.Role == "" {
		c.Role = "builder"
	}
	if c.MaxTaskDuration <= 0 {
		c.MaxTaskDuration = 30 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HealthMissThreshold <= 0 {
		c.HealthMissThreshold = 3
	}
	if len(c.Channels) == 0 {
		c.Channels = []string{"#agents"}
	}
	if len(c.ExecutorCommand) == 0 {
		c.ExecutorCommand = []string{"claude"}
	}
	if c.MaxOutputTailChars <= 0 {
		c.MaxOutputTailChars = 2000
	}
}

// entry is the process table record (spec.md §3's "Daemon record").
type entry struct {
	d                *daemon.Daemon
	seq              int
	active           bool
	restartCount     int
	firstRestartAt   time.Time
	stableSince      time.Time
	restartScheduled bool
}

// queuedPromotion is one pending entry of the FIFO promotion queue. id is a
// correlation id for logging, grounded on the teacher's approval-manager
// pending-request shape.
type queuedPromotion struct {
	id      string
	agentID string
	task    protocol.Task
}

// AgentStatus is one daemon's projection inside a Status snapshot.
type AgentStatus struct {
	AgentID      string
	Name         string
	Role         string
	State        daemon.State
	RestartCount int
	CurrentTask  *protocol.Task
}

// Status is the supervisor's read-only status snapshot.
type Status struct {
	Running          bool
	Uptime           time.Duration
	Total            int
	Active           int
	Idle             int
	Promoting        int
	Crashed          int
	PromotionsPaused bool
	QueueLength      int
	Agents           []AgentStatus
}

// ScaleResult reports the outcome of a Scale call.
type ScaleResult struct {
	From    int
	To      int
	Added   int
	Removed int
}

// ReloadParams is a partial config-reload request; nil fields are left
// unchanged.
type ReloadParams struct {
	MaxActive         *int
	TokenBudget       *int
	HeartbeatInterval *time.Duration
}

// Supervisor is the fleet control plane.
type Supervisor struct {
	cfg       Config
	transport bus.Transport
	health    *health.Monitor
	quota     *quota.Probe
	alerts    *alerts.Sink
	relay     *grouprelay.Relay
	logger    *slog.Logger

	ops chan func()

	// Everything below is mutated only from inside loop().
	table            map[string]*entry
	queue            []queuedPromotion
	activeCount      int
	promotionsPaused bool
	tokensUsed       int
	running          bool
	startedAt        time.Time
	nextSeq          int
	pidLock          *concurrency.FileLock
	healthStop       chan struct{}
}

// New builds a Supervisor. transport may be nil to run with no bus
// connectivity (daemons are then driven only through AssignTask/
// BroadcastTask). The command loop starts immediately and runs for the
// life of the Supervisor.
func New(cfg Config, transport bus.Transport, logger *slog.Logger) *Supervisor {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		// Buffered: daemon event sinks call enqueue from inside the loop
		// goroutine itself whenever a daemon method is invoked
		// synchronously by supervisor code (HandleMessage, ApprovePromotion,
		// DenyPromotion all emit inline). A buffered channel lets those
		// nested sends land without a concurrent receiver, deferring their
		// processing to the loop's next iterations instead of deadlocking.
		ops:   make(chan func(), 4096),
		table: make(map[string]*entry),
	}

	s.health = health.New(health.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		MissThreshold:     cfg.HealthMissThreshold,
		MemoryLimitMB:     cfg.HealthMemoryLimitMB,
		CPUPctLimit:       cfg.HealthCPUPctLimit,
	}, health.NewProcSampler())
	s.health.OnAlert(s.onHealthAlert)

	s.quota = quota.New(quota.Config{
		Mode:             cfg.QuotaMode,
		CharsPerToken:    cfg.QuotaCharsPerToken,
		TokensPerSecond:  cfg.QuotaTokensPerSecond,
		Budget:           cfg.TokenBudget,
		WarningThreshold: cfg.QuotaWarningFraction,
	})
	s.quota.OnUsage(s.onUsage)
	s.quota.OnBudgetExhausted(s.onBudgetExhausted)
	s.quota.OnBudgetWarning(s.onBudgetWarning)

	s.alerts = alerts.New(alerts.Config{URL: cfg.AlertsWebhookURL, Timeout: cfg.AlertsTimeout})

	if len(cfg.GroupBrokers) > 0 && cfg.GroupTopic != "" {
		s.relay = grouprelay.New(grouprelay.Config{
			Brokers:       cfg.GroupBrokers,
			Topic:         cfg.GroupTopic,
			ConsumerGroup: cfg.GroupConsumerGroup,
		}, logger)
		s.relay.OnTask(func(content string) {
			s.enqueue(func() { s.handleRelayedTask(content) })
		})
	}

	if transport != nil {
		transport.OnMessage(func(m bus.Message) { s.enqueue(func() { s.handleBusMessage(m) }) })
		transport.OnDisconnect(func(err error) {
			s.logger.Warn("bus disconnected", "event", "bus_disconnected", "error", err)
		})
		transport.OnError(func(err error) {
			s.logger.Warn("bus error", "event", "bus_error", "error", err)
		})
	}

	go s.loop()
	return s
}

func (s *Supervisor) loop() {
	for fn := range s.ops {
		fn()
	}
}

// request runs fn on the command loop and blocks until it completes.
func (s *Supervisor) request(fn func()) {
	done := make(chan struct{})
	s.ops <- func() {
		fn()
		close(done)
	}
	<-done
}

// enqueue schedules fn on the command loop without waiting. Used for event
// callbacks arriving from daemon goroutines, bus goroutines, and timers —
// none of which may touch supervisor state directly. Also used by daemon
// event sinks invoked synchronously from inside the loop itself (e.g. a
// HandleMessage call emitting promote-request inline); the buffered
// channel absorbs that reentrant send instead of deadlocking, deferring
// the nested event to the loop's next iteration.
func (s *Supervisor) enqueue(fn func()) {
	s.ops <- fn
}

// Start acquires the pidfile, connects the bus, spawns the initial fleet,
// and starts the health monitor's periodic check.
func (s *Supervisor) Start() error {
	var err error
	s.request(func() { err = s.startInternal() })
	return err
}

// Stop tears the fleet down. A no-op if not running.
func (s *Supervisor) Stop() {
	s.request(func() { s.stopInternal() })
}

// Scale adjusts the fleet to target daemons, preserving active work.
func (s *Supervisor) Scale(target int) (ScaleResult, error) {
	var res ScaleResult
	var err error
	s.request(func() {
		if !s.running {
			err = ErrNotRunning
			return
		}
		if target == 0 {
			res = ScaleResult{From: len(s.table), To: 0, Removed: len(s.table)}
			s.stopInternal()
			return
		}
		res = s.scaleInternal(target)
	})
	return res, err
}

// Status returns a snapshot of current fleet state.
func (s *Supervisor) Status() Status {
	var st Status
	s.request(func() { st = s.statusInternal() })
	return st
}

// ReloadConfig applies a partial config update and drains the promotion
// queue against the new settings.
func (s *Supervisor) ReloadConfig(p ReloadParams) {
	s.request(func() { s.reloadConfigInternal(p) })
}

// BroadcastTask announces a task on the primary channel and delivers it
// locally to every daemon in the process table.
func (s *Supervisor) BroadcastTask(task protocol.Task) {
	s.request(func() { s.broadcastTaskInternal(task) })
}

// AssignTask delivers an ASSIGN directly to one daemon.
func (s *Supervisor) AssignTask(agentID string, task protocol.Task) {
	s.request(func() { s.assignTaskInternal(agentID, task) })
}

func (s *Supervisor) statusInternal() Status {
	st := Status{
		Running:          s.running,
		PromotionsPaused: s.promotionsPaused,
		QueueLength:      len(s.queue),
	}
	if s.running {
		st.Uptime = time.Since(s.startedAt)
	}
	ids := make([]string, 0, len(s.table))
	for id := range s.table {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ent := s.table[id]
		info := ent.d.Info()
		st.Total++
		switch info.State {
		case daemon.StateActive:
			st.Active++
		case daemon.StateIdle:
			st.Idle++
		case daemon.StatePromoting:
			st.Promoting++
		case daemon.StateCrashed:
			st.Crashed++
		}
		st.Agents = append(st.Agents, AgentStatus{
			AgentID:      id,
			Name:         info.Name,
			Role:         info.Role,
			State:        info.State,
			RestartCount: ent.restartCount,
			CurrentTask:  info.CurrentTask,
		})
	}
	return st
}

func (s *Supervisor) reloadConfigInternal(p ReloadParams) {
	if p.MaxActive != nil {
		s.cfg.MaxActive = *p.MaxActive
	}
	if p.HeartbeatInterval != nil {
		s.cfg.HeartbeatInterval = *p.HeartbeatInterval
	}
	if p.TokenBudget != nil {
		s.cfg.TokenBudget = *p.TokenBudget
		s.quota.SetBudget(*p.TokenBudget)
		if *p.TokenBudget <= 0 || *p.TokenBudget > s.tokensUsed {
			s.promotionsPaused = false
		}
	}
	s.processPromotionQueue()
}

func (s *Supervisor) onHealthAlert(a health.Alert) {
	if a.Reason == health.ReasonUnresponsive {
		s.handleCrash(a.AgentID, "heartbeat timeout")
		return
	}
	s.logger.Warn("resource alert", "event", string(a.Reason), "agentId", a.AgentID)
	s.notifyAsync(alerts.Event{Kind: "health", AgentID: a.AgentID, Reason: string(a.Reason), Timestamp: time.Now()})
}

func (s *Supervisor) onUsage(e quota.UsageEvent) {
	s.logger.Info("usage", "event", "usage", "agentId", e.AgentID, "tokens", e.Tokens, "total", e.Total)
}

func (s *Supervisor) onBudgetExhausted(e quota.BudgetEvent) {
	s.promotionsPaused = true
	s.logger.Warn("budget exhausted", "event", "budget_exhausted", "total", e.Total, "budget", e.Budget)
	s.notifyAsync(alerts.Event{
		Kind:      "quota",
		Reason:    "budget_exhausted",
		Detail:    map[string]any{"total": e.Total, "budget": e.Budget},
		Timestamp: time.Now(),
	})
}

func (s *Supervisor) onBudgetWarning(e quota.BudgetEvent) {
	s.logger.Info("budget warning", "event", "budget_warning", "pct", fmt.Sprintf("%.2f", e.Pct))
	s.notifyAsync(alerts.Event{
		Kind:      "quota",
		Reason:    "budget_warning",
		Detail:    map[string]any{"pct": e.Pct},
		Timestamp: time.Now(),
	})
}

// notifyAsync fires the webhook off the command loop; delivery never
// blocks fleet control. A no-op if no webhook URL is configured.
func (s *Supervisor) notifyAsync(ev alerts.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.alerts.Notify(ctx, ev); err != nil {
			s.logger.Warn("alert delivery failed", "event", "alert_delivery_failed", "error", err)
		}
	}()
}
