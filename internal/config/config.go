// Package config provides configuration types and loading for swarmd.
package config

import "time"

// Config is the root configuration struct. Top-level groups mirror the
// runtime's components: Supervisor, Bus, Health, Quota, Workspace, Logging,
// Alerts, Group.
type Config struct {
	Supervisor SupervisorConfig `json:"supervisor"`
	Bus        BusConfig        `json:"bus"`
	Health     HealthConfig     `json:"health"`
	Quota      QuotaConfig      `json:"quota"`
	Workspace  WorkspaceConfig  `json:"workspace"`
	Logging    LoggingConfig    `json:"logging"`
	Alerts     AlertsConfig     `json:"alerts"`
	Group      GroupConfig      `json:"group"`
}

// ---------------------------------------------------------------------------
// Supervisor – fleet size, admission, lifecycle
// ---------------------------------------------------------------------------

// SupervisorConfig groups fleet-sizing and admission settings.
type SupervisorConfig struct {
	Count             int           `json:"count" envconfig:"COUNT"`
	MaxActive         int           `json:"maxActive" envconfig:"MAX_ACTIVE"`
	Role              string        `json:"role" envconfig:"ROLE"`
	TokenBudget       int           `json:"tokenBudget" envconfig:"TOKEN_BUDGET"`
	MaxTaskDuration   time.Duration `json:"maxTaskDuration" envconfig:"MAX_TASK_DURATION"`
	Persist           bool          `json:"persist" envconfig:"PERSIST"`
	PIDFile           string        `json:"pidfile" envconfig:"PIDFILE"`
	ShutdownTimeout   time.Duration `json:"shutdownTimeout" envconfig:"SHUTDOWN_TIMEOUT"`
	ExecutorCommand   []string      `json:"executorCommand" envconfig:"EXECUTOR_COMMAND"`
	MaxOutputTailChars int          `json:"maxOutputTailChars" envconfig:"MAX_OUTPUT_TAIL_CHARS"`
}

// ---------------------------------------------------------------------------
// Bus – message transport
// ---------------------------------------------------------------------------

// BusConfig selects and configures the message bus transport.
type BusConfig struct {
	Mode       string   `json:"mode" envconfig:"MODE"` // "inprocess" or "remote"
	Channels   []string `json:"channels" envconfig:"CHANNELS"`
	RemoteURL  string   `json:"remoteUrl" envconfig:"REMOTE_URL"`
	AuthToken  string   `json:"authToken,omitempty" envconfig:"AUTH_TOKEN"`
}

// ---------------------------------------------------------------------------
// Health – heartbeat cadence and resource thresholds
// ---------------------------------------------------------------------------

// HealthConfig groups heartbeat and resource-alert settings.
type HealthConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeatInterval" envconfig:"HEARTBEAT_INTERVAL"`
	MemoryLimitMB     int           `json:"memoryLimitMb" envconfig:"MEMORY_LIMIT_MB"`
	CPULimitPercent   int           `json:"cpuLimitPercent" envconfig:"CPU_LIMIT_PERCENT"`
	SampleInterval    time.Duration `json:"sampleInterval" envconfig:"SAMPLE_INTERVAL"`
}

// ---------------------------------------------------------------------------
// Quota – token usage estimation
// ---------------------------------------------------------------------------

// QuotaConfig selects the token-estimation mode and warning threshold.
type QuotaConfig struct {
	Mode             string  `json:"mode" envconfig:"MODE"` // "reported", "output", "duration"
	WarningFraction  float64 `json:"warningFraction" envconfig:"WARNING_FRACTION"`
	CharsPerToken    float64 `json:"charsPerToken" envconfig:"CHARS_PER_TOKEN"`
	TokensPerSecond  float64 `json:"tokensPerSecond" envconfig:"TOKENS_PER_SECOND"`
}

// ---------------------------------------------------------------------------
// Workspace – per-daemon directory scaffold
// ---------------------------------------------------------------------------

// WorkspaceConfig controls where per-daemon workspaces are created.
type WorkspaceConfig struct {
	Root string `json:"root" envconfig:"ROOT"`
}

// ---------------------------------------------------------------------------
// Logging – structured NDJSON sink
// ---------------------------------------------------------------------------

// LoggingConfig controls the slog NDJSON file sink.
type LoggingConfig struct {
	Dir        string `json:"dir" envconfig:"DIR"`
	File       string `json:"file" envconfig:"FILE"`
	MaxSizeMB  int    `json:"maxSizeMb" envconfig:"MAX_SIZE_MB"`
	Level      string `json:"level" envconfig:"LEVEL"`
}

// ---------------------------------------------------------------------------
// Alerts – webhook delivery for health/quota alerts
// ---------------------------------------------------------------------------

// AlertsConfig configures the webhook alert sink.
type AlertsConfig struct {
	WebhookURL string        `json:"webhookUrl" envconfig:"WEBHOOK_URL"`
	Timeout    time.Duration `json:"timeout" envconfig:"TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Group – optional cross-supervisor broadcast over Kafka
// ---------------------------------------------------------------------------

// GroupConfig configures the optional Kafka-backed group relay.
type GroupConfig struct {
	KafkaBrokers  string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	Topic         string `json:"topic" envconfig:"TOPIC"`
	ConsumerGroup string `json:"consumerGroup" envconfig:"CONSUMER_GROUP"`
}

// DefaultConfig returns a Config populated with the spec's defaults.
func DefaultConfig() *Config {
	return &Config{
		Supervisor: SupervisorConfig{
			Count:              3,
			MaxActive:          5,
			Role:               "builder",
			TokenBudget:        0,
			MaxTaskDuration:    30 * time.Minute,
			Persist:            false,
			PIDFile:            "~/.agentctl/swarm.pid",
			ShutdownTimeout:    10 * time.Second,
			ExecutorCommand:    []string{"claude"},
			MaxOutputTailChars: 2000,
		},
		Bus: BusConfig{
			Mode:     "inprocess",
			Channels: []string{"#agents"},
		},
		Health: HealthConfig{
			HeartbeatInterval: 30 * time.Second,
			SampleInterval:    10 * time.Second,
		},
		Quota: QuotaConfig{
			Mode:            "output",
			WarningFraction: 0.8,
			CharsPerToken:   4,
			TokensPerSecond: 50,
		},
		Workspace: WorkspaceConfig{
			Root: "~/.agentctl/workspaces",
		},
		Logging: LoggingConfig{
			Dir:       "~/.agentctl/logs",
			File:      "swarmd.ndjson",
			MaxSizeMB: 100,
			Level:     "info",
		},
		Alerts: AlertsConfig{
			Timeout: 5 * time.Second,
		},
	}
}
