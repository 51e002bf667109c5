package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/agentfleet/swarmd/internal/config"
	"github.com/agentfleet/swarmd/internal/control"
	"github.com/agentfleet/swarmd/internal/identity"
	"github.com/agentfleet/swarmd/internal/supervisor"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fleet supervisor in the foreground",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	printHeader("Fleet Supervisor")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("config warning: %v (continuing with defaults)\n", err)
		cfg = config.DefaultConfig()
	}

	logger, writer, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer writer.Close()

	if cfg.Supervisor.PIDFile != "" {
		if err := config.EnsureDir(filepath.Dir(cfg.Supervisor.PIDFile)); err != nil {
			return fmt.Errorf("ensure pidfile dir: %w", err)
		}
	}

	coordinator, err := identity.New("coordinator", 0)
	if err != nil {
		return fmt.Errorf("derive coordinator identity: %w", err)
	}
	transport := buildTransport(cfg, coordinator)

	sup := supervisor.New(buildSupervisorConfig(cfg), transport, logger)
	if err := sup.Start(); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	fmt.Printf("started with %d daemons, role %q\n", cfg.Supervisor.Count, cfg.Supervisor.Role)

	sockPath := controlSocketPath(cfg)
	if sockPath != "" {
		ctlCtx, cancelCtl := context.WithCancel(context.Background())
		defer cancelCtl()
		srv := control.NewServer(sup, sockPath)
		if err := srv.Start(ctlCtx); err != nil {
			logger.Warn("control socket start failed", "event", "control_start_failed", "error", err)
		} else {
			fmt.Printf("control socket: %s\n", sockPath)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nshutting down...")
	sup.Stop()
	return nil
}
