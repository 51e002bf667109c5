// Package workspace scaffolds and manages each daemon's per-agent
// directory: <root>/<agentId>/ holding identity.json and context.txt, per
// spec.md §3's workspace layout. Grounded on the teacher's
// internal/identity/scaffold.go (os.MkdirAll + os.WriteFile, best-effort
// skip-if-exists semantics), generalized from a fixed set of soul-file
// templates to the two files the core actually needs.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentfleet/swarmd/internal/identity"
)

const (
	identityFileName = "identity.json"
	contextFileName  = "context.txt"
)

// Dir returns the workspace directory for a given agentId under root.
func Dir(root, agentID string) string {
	return filepath.Join(root, agentID)
}

// Scaffold creates the workspace directory for id under root and writes its
// identity.json. It does not overwrite an existing identity.json: a
// pre-existing workspace is assumed to belong to a prior run of the same
// agentId.
func Scaffold(root string, id *identity.Identity) (string, error) {
	dir := Dir(root, id.AgentID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("workspace: create dir: %w", err)
	}

	idPath := filepath.Join(dir, identityFileName)
	if _, err := os.Stat(idPath); os.IsNotExist(err) {
		data, err := id.Marshal()
		if err != nil {
			return "", fmt.Errorf("workspace: marshal identity: %w", err)
		}
		if err := os.WriteFile(idPath, data, 0600); err != nil {
			return "", fmt.Errorf("workspace: write identity: %w", err)
		}
	}

	return dir, nil
}

// Remove deletes the workspace directory, honoring spec.md §6's `persist`
// config key: callers skip this entirely when persist is true.
func Remove(root, agentID string) error {
	return os.RemoveAll(Dir(root, agentID))
}

// ReadIdentity loads the identity.json previously written by Scaffold.
func ReadIdentity(root, agentID string) (*identity.Identity, error) {
	data, err := os.ReadFile(filepath.Join(Dir(root, agentID), identityFileName))
	if err != nil {
		return nil, fmt.Errorf("workspace: read identity: %w", err)
	}
	return identity.Parse(data)
}

// ContextPath returns the path to an agent's context file, the same file
// internal/daemon writes best-effort promotion/completion records into.
func ContextPath(root, agentID string) string {
	return filepath.Join(Dir(root, agentID), contextFileName)
}
