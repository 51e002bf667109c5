// Package quota records per-agent and aggregate token usage and emits
// threshold events against a configurable budget. Grounded on the
// daily-token-limit check in the teacher's agent loop (checkTokenQuota /
// trackTokens), generalized from a single daily limit into three
// estimation modes and a re-armable warning/exhausted latch pair.
package quota

import (
	"sync"
	"time"
)

// Mode selects how a record's token count is estimated when the caller does
// not supply one directly.
type Mode string

const (
	ModeReported Mode = "reported"
	ModeOutput   Mode = "output"
	ModeDuration Mode = "duration"
)

// AgentUsage is the per-agent running total.
type AgentUsage struct {
	AgentID     string
	TotalTokens int
	Tasks       int
	LastTask    time.Time
}

// UsageEvent is emitted on every successful Record call.
type UsageEvent struct {
	AgentID string
	Tokens  int
	Total   int
}

// BudgetEvent is emitted when a budget threshold is crossed.
type BudgetEvent struct {
	Total     int
	Budget    int
	Pct       float64
	AgentID   string
}

// Config configures estimation and budget gating.
type Config struct {
	Mode             Mode
	CharsPerToken    int     // default 4
	TokensPerSecond  int     // default 50
	Budget           int     // 0 disables budget gating
	WarningThreshold float64 // default 0.8
}

// Probe is the quota component.
type Probe struct {
	mu     sync.Mutex
	cfg    Config
	total  int
	perAgent map[string]*AgentUsage

	warningEmitted bool

	onUsage           func(UsageEvent)
	onBudgetWarning   func(BudgetEvent)
	onBudgetExhausted func(BudgetEvent)
}

// New creates a Probe with defaults filled in.
func New(cfg Config) *Probe {
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = 4
	}
	if cfg.TokensPerSecond <= 0 {
		cfg.TokensPerSecond = 50
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 0.8
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeOutput
	}
	return &Probe{cfg: cfg, perAgent: make(map[string]*AgentUsage)}
}

// OnUsage, OnBudgetWarning, OnBudgetExhausted register event sinks.
func (p *Probe) OnUsage(sink func(UsageEvent))             { p.mu.Lock(); p.onUsage = sink; p.mu.Unlock() }
func (p *Probe) OnBudgetWarning(sink func(BudgetEvent))    { p.mu.Lock(); p.onBudgetWarning = sink; p.mu.Unlock() }
func (p *Probe) OnBudgetExhausted(sink func(BudgetEvent))  { p.mu.Lock(); p.onBudgetExhausted = sink; p.mu.Unlock() }

// Record accounts one task's token usage for agentID. tokens, if non-nil and
// positive, is used directly under reported mode; otherwise the configured
// mode estimates from output/durationMs, falling back to output-based
// estimation, then to zero.
func (p *Probe) Record(agentID, output string, durationMs int64, tokens *int) int {
	p.mu.Lock()

	estimated := estimate(p.cfg, tokens, output, durationMs)

	p.total += estimated
	agent, ok := p.perAgent[agentID]
	if !ok {
		agent = &AgentUsage{AgentID: agentID}
		p.perAgent[agentID] = agent
	}
	agent.TotalTokens += estimated
	agent.Tasks++
	agent.LastTask = time.Now()

	usageEvent := UsageEvent{AgentID: agentID, Tokens: estimated, Total: p.total}

	var warningEvent, exhaustedEvent *BudgetEvent
	if p.cfg.Budget > 0 {
		pct := float64(p.total) / float64(p.cfg.Budget)
		if p.total >= p.cfg.Budget {
			exhaustedEvent = &BudgetEvent{Total: p.total, Budget: p.cfg.Budget, Pct: pct, AgentID: agentID}
		} else if pct >= p.cfg.WarningThreshold && !p.warningEmitted {
			p.warningEmitted = true
			warningEvent = &BudgetEvent{Total: p.total, Budget: p.cfg.Budget, Pct: pct, AgentID: agentID}
		}
	}

	usageSink, warnSink, exhaustSink := p.onUsage, p.onBudgetWarning, p.onBudgetExhausted
	p.mu.Unlock()

	if usageSink != nil {
		usageSink(usageEvent)
	}
	if warningEvent != nil && warnSink != nil {
		warnSink(*warningEvent)
	}
	if exhaustedEvent != nil && exhaustSink != nil {
		exhaustSink(*exhaustedEvent)
	}

	return estimated
}

// SetBudget changes the budget. If the new utilization drops below the
// warning threshold, the warning latch re-arms.
func (p *Probe) SetBudget(newBudget int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Budget = newBudget
	if newBudget <= 0 {
		return
	}
	pct := float64(p.total) / float64(newBudget)
	if pct < p.cfg.WarningThreshold {
		p.warningEmitted = false
	}
}

// Total returns the aggregate token count.
func (p *Probe) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// AgentTotal returns the per-agent usage record.
func (p *Probe) AgentTotal(agentID string) (AgentUsage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.perAgent[agentID]
	if !ok {
		return AgentUsage{}, false
	}
	return *a, true
}

// Reset clears all accounted state, including the warning latch.
func (p *Probe) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = 0
	p.warningEmitted = false
	p.perAgent = make(map[string]*AgentUsage)
}

func estimate(cfg Config, tokens *int, output string, durationMs int64) int {
	switch cfg.Mode {
	case ModeReported:
		if tokens != nil && *tokens > 0 {
			return *tokens
		}
		return estimateFromOutput(output, cfg.CharsPerToken)
	case ModeDuration:
		if durationMs > 0 {
			seconds := float64(durationMs) / 1000
			return ceilInt(seconds * float64(cfg.TokensPerSecond))
		}
		return estimateFromOutput(output, cfg.CharsPerToken)
	default: // ModeOutput
		return estimateFromOutput(output, cfg.CharsPerToken)
	}
}

func estimateFromOutput(output string, charsPerToken int) int {
	if output == "" {
		return 0
	}
	return (len(output) + charsPerToken - 1) / charsPerToken
}

func ceilInt(f float64) int {
	i := int(f)
	if float64(i) < f {
		i++
	}
	return i
}
