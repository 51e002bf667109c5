package main

import (
	"fmt"
	"strconv"

	"github.com/agentfleet/swarmd/internal/config"
	"github.com/agentfleet/swarmd/internal/control"
	"github.com/spf13/cobra"
)

var scaleCmd = &cobra.Command{
	Use:   "scale <n>",
	Short: "Adjust the running fleet to n daemons",
	Args:  cobra.ExactArgs(1),
	RunE:  runScale,
}

func runScale(cmd *cobra.Command, args []string) error {
	target, err := strconv.Atoi(args[0])
	if err != nil || target < 0 {
		return fmt.Errorf("invalid target %q: expected a non-negative integer", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("config warning: %v (continuing with defaults)\n", err)
		cfg = config.DefaultConfig()
	}

	resp, err := callControl(cfg, control.Request{Op: "scale", Target: target})
	if err != nil {
		return fmt.Errorf("swarmd does not appear to be running: %w", err)
	}

	res := resp.Scale
	fmt.Printf("scaled %d -> %d (added %d, removed %d)\n", res.From, res.To, res.Added, res.Removed)
	return nil
}
