package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigPathRespectsSwarmdConfigAndHome(t *testing.T) {
	origCfg := os.Getenv("SWARMD_CONFIG")
	origHome := os.Getenv("SWARMD_HOME")
	defer os.Setenv("SWARMD_CONFIG", origCfg)
	defer os.Setenv("SWARMD_HOME", origHome)

	_ = os.Setenv("SWARMD_HOME", "/srv/swarmhome")
	_ = os.Setenv("SWARMD_CONFIG", "~/.agentctl/custom.json")

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if path != filepath.Join("/srv/swarmhome", ".agentctl", "custom.json") {
		t.Fatalf("unexpected config path: %q", path)
	}
}

func TestLoadUsesEnvFileCandidateForSwarmdPrefix(t *testing.T) {
	tmpDir := t.TempDir()
	envDir := filepath.Join(tmpDir, ".config", "swarmd")
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		t.Fatalf("mkdir env dir: %v", err)
	}
	envPath := filepath.Join(envDir, "env")
	if err := os.WriteFile(envPath, []byte("SWARMD_SUPERVISOR_MAX_ACTIVE=13\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	origHome := os.Getenv("HOME")
	origMaxActive := os.Getenv("SWARMD_SUPERVISOR_MAX_ACTIVE")
	defer os.Setenv("HOME", origHome)
	defer os.Setenv("SWARMD_SUPERVISOR_MAX_ACTIVE", origMaxActive)
	_ = os.Setenv("HOME", tmpDir)
	_ = os.Unsetenv("SWARMD_SUPERVISOR_MAX_ACTIVE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Supervisor.MaxActive != 13 {
		t.Fatalf("expected maxActive from env file, got %d", cfg.Supervisor.MaxActive)
	}
}
