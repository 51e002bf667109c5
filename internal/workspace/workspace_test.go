package workspace

import (
	"os"
	"testing"

	"github.com/agentfleet/swarmd/internal/identity"
)

func TestScaffoldCreatesDirAndIdentityFile(t *testing.T) {
	root := t.TempDir()
	id, err := identity.New("builder", 1)
	if err != nil {
		t.Fatalf("identity.New() error: %v", err)
	}

	dir, err := Scaffold(root, id)
	if err != nil {
		t.Fatalf("Scaffold() error: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected workspace dir to exist: %v", err)
	}

	got, err := ReadIdentity(root, id.AgentID)
	if err != nil {
		t.Fatalf("ReadIdentity() error: %v", err)
	}
	if got.AgentID != id.AgentID || got.Name != id.Name {
		t.Fatalf("identity mismatch: got %+v, want %+v", got, id)
	}
}

func TestScaffoldDoesNotOverwriteExistingIdentity(t *testing.T) {
	root := t.TempDir()
	id, _ := identity.New("builder", 1)
	if _, err := Scaffold(root, id); err != nil {
		t.Fatalf("Scaffold() error: %v", err)
	}

	other, _ := identity.New("builder", 1)
	other.AgentID = id.AgentID // simulate a restart reusing the same slot
	if _, err := Scaffold(root, other); err != nil {
		t.Fatalf("second Scaffold() error: %v", err)
	}

	got, err := ReadIdentity(root, id.AgentID)
	if err != nil {
		t.Fatalf("ReadIdentity() error: %v", err)
	}
	if string(got.PrivateKey) != string(id.PrivateKey) {
		t.Error("expected original identity preserved across re-scaffold")
	}
}

func TestRemoveDeletesWorkspace(t *testing.T) {
	root := t.TempDir()
	id, _ := identity.New("builder", 1)
	dir, err := Scaffold(root, id)
	if err != nil {
		t.Fatalf("Scaffold() error: %v", err)
	}
	if err := Remove(root, id.AgentID); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected workspace dir removed")
	}
}

func TestContextPath(t *testing.T) {
	got := ContextPath("/root", "abc12345")
	want := "/root/abc12345/context.txt"
	if got != want {
		t.Errorf("ContextPath() = %q, want %q", got, want)
	}
}
