package identity

import "testing"

func TestNewDerivesAgentIDAndName(t *testing.T) {
	id, err := New("builder", 2)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if len(id.AgentID) != 8 {
		t.Errorf("expected 8-char agentId, got %q", id.AgentID)
	}
	if id.Name != "swarm-builder-002" {
		t.Errorf("expected name swarm-builder-002, got %q", id.Name)
	}
}

func TestNewProducesDistinctIdentities(t *testing.T) {
	a, err := New("builder", 1)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	b, err := New("builder", 1)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if a.AgentID == b.AgentID {
		t.Error("expected distinct agentIds from distinct keypairs")
	}
}

func TestMarshalParseRoundTrip(t *testing.T) {
	id, err := New("reviewer", 7)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	data, err := id.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if got.AgentID != id.AgentID || got.Name != id.Name || got.Role != id.Role {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, id)
	}
	if string(got.PublicKey) != string(id.PublicKey) {
		t.Error("public key not preserved across round trip")
	}
	if string(got.PrivateKey) != string(id.PrivateKey) {
		t.Error("private key not preserved across round trip")
	}
}

func TestParseInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected error parsing invalid JSON")
	}
}
