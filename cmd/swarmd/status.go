package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentfleet/swarmd/internal/config"
	"github.com/agentfleet/swarmd/internal/control"
	"github.com/agentfleet/swarmd/internal/identity"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var statusPair bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running fleet's status",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusPair, "pair", false, "Render a pairing QR code for this fleet's remote-bus identity")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("config warning: %v (continuing with defaults)\n", err)
		cfg = config.DefaultConfig()
	}

	if statusPair {
		return runStatusPair(cfg)
	}

	resp, err := callControl(cfg, control.Request{Op: "status"})
	if err != nil {
		return fmt.Errorf("swarmd does not appear to be running: %w", err)
	}
	st := resp.Status

	fmt.Printf("running: %v   uptime: %s\n", st.Running, st.Uptime)
	fmt.Printf("total: %d   active: %d   idle: %d   promoting: %d   crashed: %d\n",
		st.Total, st.Active, st.Idle, st.Promoting, st.Crashed)
	fmt.Printf("promotions paused: %v   queue length: %d\n\n", st.PromotionsPaused, st.QueueLength)

	for _, a := range st.Agents {
		task := "-"
		if a.CurrentTask != nil {
			task = a.CurrentTask.ID
		}
		fmt.Printf("  %-10s %-16s %-8s state=%-10s restarts=%-3d task=%s\n",
			a.AgentID, a.Name, a.Role, a.State, a.RestartCount, task)
	}
	return nil
}

// runStatusPair generates a fresh identity the way a daemon would and
// renders its agentId as a QR code, mirroring the WhatsApp channel's
// scan-to-pair onboarding flow but for the remote message bus.
func runStatusPair(cfg *config.Config) error {
	id, err := identity.New("pair", 0)
	if err != nil {
		return fmt.Errorf("derive pairing identity: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	qrPath := filepath.Join(home, ".agentctl", "pairing-qr.png")
	if err := config.EnsureDir(filepath.Dir(qrPath)); err != nil {
		return fmt.Errorf("ensure pairing dir: %w", err)
	}

	if err := qrcode.WriteFile(id.AgentID, qrcode.Medium, 256, qrPath); err != nil {
		return fmt.Errorf("write pairing QR code: %w", err)
	}
	fmt.Printf("pairing agentId: %s\n", id.AgentID)
	fmt.Printf("QR code saved to: %s\n", qrPath)
	fmt.Println("Scan this against the remote bus's onboarding endpoint to authorize this fleet.")
	return nil
}
