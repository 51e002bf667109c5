package daemon

import (
	"sync"
	"testing"
	"time"

	"github.com/agentfleet/swarmd/internal/protocol"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) sink(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(match func(Event) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if match(e) {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestRoleMatchingP6(t *testing.T) {
	cases := []struct {
		selfRole, taskRole string
		want               bool
	}{
		{"builder", "builder", true},
		{"builder", "reviewer", false},
		{"builder", "", false},
		{"general", "builder", true},
		{"general", "", true},
	}
	for _, c := range cases {
		if got := roleMatches(c.selfRole, c.taskRole); got != c.want {
			t.Errorf("roleMatches(%q, %q) = %v, want %v", c.selfRole, c.taskRole, got, c.want)
		}
	}
}

func TestTaskAvailableClaimsOnlyWhenIdleAndRoleMatches(t *testing.T) {
	rec := &recorder{}
	d := New("a1", "swarm-builder-000", "builder", rec.sink, Config{HeartbeatInterval: time.Hour})
	d.Start()
	defer d.Stop()

	d.HandleMessage(protocol.Envelope{Type: protocol.TypeTaskAvailable, Task: &protocol.Task{Role: "reviewer"}})
	if n := rec.count(func(e Event) bool { _, ok := e.(Claim); return ok }); n != 0 {
		t.Fatalf("claimed a mismatched-role task: %d claims", n)
	}

	d.HandleMessage(protocol.Envelope{Type: protocol.TypeTaskAvailable, Task: &protocol.Task{Role: "builder", Component: "api"}})
	if n := rec.count(func(e Event) bool { _, ok := e.(Claim); return ok }); n != 1 {
		t.Fatalf("expected exactly 1 claim, got %d", n)
	}
}

func TestAssignPromotesOnlyMatchingAgentWhileIdle(t *testing.T) {
	rec := &recorder{}
	d := New("a1", "swarm-builder-000", "builder", rec.sink, Config{HeartbeatInterval: time.Hour})
	d.Start()
	defer d.Stop()

	d.HandleMessage(protocol.Envelope{Type: protocol.TypeAssign, AgentID: "other", Task: &protocol.Task{ID: "t1"}})
	if d.State() != StateIdle {
		t.Fatalf("state after mismatched ASSIGN = %s, want idle", d.State())
	}

	d.HandleMessage(protocol.Envelope{Type: protocol.TypeAssign, AgentID: "a1", Task: &protocol.Task{ID: "t1", Prompt: "do it"}})
	if d.State() != StatePromoting {
		t.Fatalf("state after matching ASSIGN = %s, want promoting", d.State())
	}
	if n := rec.count(func(e Event) bool { _, ok := e.(PromoteRequest); return ok }); n != 1 {
		t.Fatalf("expected 1 promote-request, got %d", n)
	}
}

func TestApprovePromotionRequiresPromotingState(t *testing.T) {
	rec := &recorder{}
	d := New("a1", "n", "builder", rec.sink, Config{HeartbeatInterval: time.Hour})
	d.Start()
	defer d.Stop()

	if err := d.ApprovePromotion(protocol.Task{}); err == nil {
		t.Fatal("expected error approving promotion from idle state")
	}
}

func TestDenyPromotionReturnsToIdle(t *testing.T) {
	rec := &recorder{}
	d := New("a1", "n", "builder", rec.sink, Config{HeartbeatInterval: time.Hour})
	d.Start()
	defer d.Stop()

	d.HandleMessage(protocol.Envelope{Type: protocol.TypeAssign, AgentID: "a1", Task: &protocol.Task{ID: "t1"}})
	if err := d.DenyPromotion("no capacity"); err != nil {
		t.Fatalf("DenyPromotion() error: %v", err)
	}
	if d.State() != StateIdle {
		t.Fatalf("state after deny = %s, want idle", d.State())
	}
	if n := rec.count(func(e Event) bool { u, ok := e.(Unclaim); return ok && u.Reason == "no capacity" }); n != 1 {
		t.Fatal("expected exactly one Unclaim with the deny reason")
	}
}

func TestApprovePromotionSpawnsAndCompletesLifecycle(t *testing.T) {
	rec := &recorder{}
	workDir := t.TempDir()
	d := New("a1", "swarm-builder-000", "builder", rec.sink, Config{
		HeartbeatInterval: time.Hour,
		ExecutorCommand:   []string{"sh", "-c", "echo hello; echo problem 1>&2; exit 0"},
		WorkspaceDir:      workDir,
	})
	d.Start()
	defer d.Stop()

	d.HandleMessage(protocol.Envelope{Type: protocol.TypeAssign, AgentID: "a1", Task: &protocol.Task{ID: "t1", Prompt: "go"}})
	if err := d.ApprovePromotion(protocol.Task{ID: "t1", Prompt: "go"}); err != nil {
		t.Fatalf("ApprovePromotion() error: %v", err)
	}
	if d.State() != StateActive {
		t.Fatalf("state after approve = %s, want active", d.State())
	}

	waitFor(t, 2*time.Second, func() bool { return d.State() == StateIdle })

	if n := rec.count(func(e Event) bool { _, ok := e.(Promoted); return ok }); n != 1 {
		t.Fatal("expected exactly one Promoted event")
	}
	if n := rec.count(func(e Event) bool { _, ok := e.(Done); return ok }); n != 1 {
		t.Fatal("expected exactly one Done event on clean exit")
	}
	if n := rec.count(func(e Event) bool { _, ok := e.(Output); return ok }); n < 1 {
		t.Fatal("expected at least one Output event streamed from the executor")
	}
	if n := rec.count(func(e Event) bool { _, ok := e.(Demoted); return ok }); n != 1 {
		t.Fatal("expected exactly one Demoted event")
	}
}

func TestApprovePromotionNonZeroExitEmitsFail(t *testing.T) {
	rec := &recorder{}
	d := New("a1", "n", "builder", rec.sink, Config{
		HeartbeatInterval: time.Hour,
		ExecutorCommand:   []string{"sh", "-c", "exit 3"},
	})
	d.Start()
	defer d.Stop()

	d.HandleMessage(protocol.Envelope{Type: protocol.TypeAssign, AgentID: "a1", Task: &protocol.Task{ID: "t1"}})
	if err := d.ApprovePromotion(protocol.Task{ID: "t1"}); err != nil {
		t.Fatalf("ApprovePromotion() error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return d.State() == StateIdle })

	if n := rec.count(func(e Event) bool { f, ok := e.(Fail); return ok && f.ExitCode == 3 }); n != 1 {
		t.Fatal("expected exactly one Fail event with exit code 3")
	}
	if n := rec.count(func(e Event) bool { _, ok := e.(Done); return ok }); n != 0 {
		t.Fatal("did not expect a Done event on non-zero exit")
	}
}

func TestApprovePromotionSpawnErrorCrashes(t *testing.T) {
	rec := &recorder{}
	d := New("a1", "n", "builder", rec.sink, Config{
		HeartbeatInterval: time.Hour,
		ExecutorCommand:   []string{"/nonexistent/binary-swarmd-test"},
	})
	d.Start()
	defer d.Stop()

	d.HandleMessage(protocol.Envelope{Type: protocol.TypeAssign, AgentID: "a1", Task: &protocol.Task{ID: "t1"}})
	err := d.ApprovePromotion(protocol.Task{ID: "t1"})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if d.State() != StateCrashed {
		t.Fatalf("state after spawn error = %s, want crashed", d.State())
	}
	if n := rec.count(func(e Event) bool { _, ok := e.(Crashed); return ok }); n != 1 {
		t.Fatal("expected exactly one Crashed event")
	}
}

func TestIdleHeartbeatEmitted(t *testing.T) {
	rec := &recorder{}
	d := New("a1", "n", "builder", rec.sink, Config{HeartbeatInterval: 10 * time.Millisecond})
	d.Start()
	defer d.Stop()

	waitFor(t, time.Second, func() bool {
		return rec.count(func(e Event) bool { _, ok := e.(Heartbeat); return ok }) >= 2
	})
}
