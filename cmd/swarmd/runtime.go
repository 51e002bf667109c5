package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentfleet/swarmd/internal/bus"
	"github.com/agentfleet/swarmd/internal/bus/remote"
	"github.com/agentfleet/swarmd/internal/config"
	"github.com/agentfleet/swarmd/internal/control"
	"github.com/agentfleet/swarmd/internal/identity"
	"github.com/agentfleet/swarmd/internal/logging"
	"github.com/agentfleet/swarmd/internal/quota"
	"github.com/agentfleet/swarmd/internal/supervisor"
)

// buildSupervisorConfig flattens the loaded config groups into the
// supervisor's runtime Config, converting the fields that differ in type
// between the on-disk shape and the control plane's: token estimation
// figures are floats in config (fractional chars-per-token) but the probe
// consumes integers, the health memory/CPU limits are integers in config
// but floats in the supervisor, and the group broker list is stored as a
// single comma-separated string.
func buildSupervisorConfig(cfg *config.Config) supervisor.Config {
	var brokers []string
	if cfg.Group.KafkaBrokers != "" {
		for _, b := range strings.Split(cfg.Group.KafkaBrokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return supervisor.Config{
		Count:              cfg.Supervisor.Count,
		MaxActive:          cfg.Supervisor.MaxActive,
		Role:               cfg.Supervisor.Role,
		TokenBudget:        cfg.Supervisor.TokenBudget,
		MaxTaskDuration:    cfg.Supervisor.MaxTaskDuration,
		Persist:            cfg.Supervisor.Persist,
		PIDFile:            cfg.Supervisor.PIDFile,
		LogDir:             cfg.Logging.Dir,
		ShutdownTimeout:    cfg.Supervisor.ShutdownTimeout,
		ExecutorCommand:    cfg.Supervisor.ExecutorCommand,
		MaxOutputTailChars: cfg.Supervisor.MaxOutputTailChars,
		Channels:           cfg.Bus.Channels,
		WorkspaceRoot:      cfg.Workspace.Root,
		HeartbeatInterval:  cfg.Health.HeartbeatInterval,

		HealthMemoryLimitMB: float64(cfg.Health.MemoryLimitMB),
		HealthCPUPctLimit:   float64(cfg.Health.CPULimitPercent),

		QuotaMode:            quota.Mode(cfg.Quota.Mode),
		QuotaCharsPerToken:   int(cfg.Quota.CharsPerToken),
		QuotaTokensPerSecond: int(cfg.Quota.TokensPerSecond),
		QuotaWarningFraction: cfg.Quota.WarningFraction,

		AlertsWebhookURL: cfg.Alerts.WebhookURL,
		AlertsTimeout:    cfg.Alerts.Timeout,

		GroupBrokers:       brokers,
		GroupTopic:         cfg.Group.Topic,
		GroupConsumerGroup: cfg.Group.ConsumerGroup,
	}
}

// buildTransport picks the message bus implementation named by cfg.Bus.Mode.
// "remote" dials a channel-relay server over websocket with the supervisor's
// own coordinator identity; anything else (including the empty string)
// falls back to an in-process hub, useful for local runs with no external
// relay.
func buildTransport(cfg *config.Config, coordinator *identity.Identity) bus.Transport {
	switch cfg.Bus.Mode {
	case "remote":
		return remote.New(cfg.Bus.RemoteURL, cfg.Bus.AuthToken, coordinator)
	default:
		hub := bus.NewHub()
		return hub.NewEndpoint(coordinator.AgentID)
	}
}

func buildLogger(cfg *config.Config) (*slog.Logger, *logging.RotatingWriter, error) {
	return logging.New(cfg.Logging.Dir, cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.Level)
}

// controlSocketPath derives the control socket location from the
// configured pidfile so status/scale/stop always agree with start on where
// to find each other without a separate config key.
func controlSocketPath(cfg *config.Config) string {
	return control.SockPath(cfg.Supervisor.PIDFile)
}

func callControl(cfg *config.Config, req control.Request) (control.Response, error) {
	sock := controlSocketPath(cfg)
	if sock == "" {
		return control.Response{}, fmt.Errorf("no control socket configured (empty pidfile path)")
	}
	return control.Call(sock, req)
}
