package main

import (
	"fmt"

	"github.com/agentfleet/swarmd/internal/config"
	"github.com/agentfleet/swarmd/internal/control"
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fleet",
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("config warning: %v (continuing with defaults)\n", err)
		cfg = config.DefaultConfig()
	}

	if _, err := callControl(cfg, control.Request{Op: "stop"}); err != nil {
		return fmt.Errorf("swarmd does not appear to be running: %w", err)
	}
	fmt.Println("stop signaled")
	return nil
}
