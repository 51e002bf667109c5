package health

import (
	"testing"
	"time"
)

func TestHeartbeatResetsMissesAndStatus(t *testing.T) {
	m := New(Config{HeartbeatInterval: 10 * time.Millisecond, MissThreshold: 3}, nil)
	m.Register("a", 0)
	m.Check(time.Now().Add(100 * time.Millisecond))

	rec, ok := m.Status("a")
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.Status != StatusDead {
		t.Fatalf("status before heartbeat = %v, want dead", rec.Status)
	}

	m.Heartbeat("a")
	rec, _ = m.Status("a")
	if rec.ConsecutiveMisses != 0 || rec.Status != StatusAlive {
		t.Fatalf("after heartbeat: misses=%d status=%v, want 0/alive", rec.ConsecutiveMisses, rec.Status)
	}
}

func TestSingleShotUnresponsiveAlert(t *testing.T) {
	m := New(Config{HeartbeatInterval: 10 * time.Millisecond, MissThreshold: 3}, nil)

	var alerts []Alert
	m.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	start := time.Now()
	m.Register("a", 0)

	// Backdate by simulating a registration in the past: re-register with a
	// manual heartbeat equivalent isn't exposed, so advance the check clock
	// far enough that lastSeen (RegisteredAt) is stale relative to now.
	stale := start.Add(50 * time.Millisecond)

	m.Check(stale)
	m.Check(stale.Add(10 * time.Millisecond))
	m.Check(stale.Add(20 * time.Millisecond))

	unresponsiveCount := 0
	for _, a := range alerts {
		if a.Reason == ReasonUnresponsive {
			unresponsiveCount++
		}
	}
	if unresponsiveCount != 1 {
		t.Fatalf("unresponsive alert count = %d, want exactly 1 across three checks", unresponsiveCount)
	}

	m.Heartbeat("a")
	m.Check(stale.Add(200 * time.Millisecond))
	m.Check(stale.Add(210 * time.Millisecond))

	unresponsiveCount = 0
	for _, a := range alerts {
		if a.Reason == ReasonUnresponsive {
			unresponsiveCount++
		}
	}
	if unresponsiveCount != 2 {
		t.Fatalf("after re-arm via heartbeat, unresponsive alert count = %d, want 2 total", unresponsiveCount)
	}
}

func TestCheckWithoutMissDoesNotAlert(t *testing.T) {
	m := New(Config{HeartbeatInterval: time.Minute, MissThreshold: 3}, nil)
	var alerts []Alert
	m.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	m.Register("a", 0)
	m.Check(time.Now())

	if len(alerts) != 0 {
		t.Fatalf("expected no alerts for a fresh heartbeat, got %v", alerts)
	}
}

func TestResourceLimitAlertsRepeat(t *testing.T) {
	sampler := fakeSampler{memoryMB: 999, cpuPct: 99}
	m := New(Config{HeartbeatInterval: time.Minute, MissThreshold: 3, MemoryLimitMB: 100, CPUPctLimit: 50}, sampler)

	var memAlerts, cpuAlerts int
	m.OnAlert(func(a Alert) {
		switch a.Reason {
		case ReasonMemoryLimit:
			memAlerts++
		case ReasonCPULimit:
			cpuAlerts++
		}
	})

	m.Register("a", 1234)
	now := time.Now()
	m.Check(now)
	m.Check(now.Add(time.Second))

	if memAlerts != 2 || cpuAlerts != 2 {
		t.Fatalf("memAlerts=%d cpuAlerts=%d, want 2/2 (limit alerts repeat every cycle)", memAlerts, cpuAlerts)
	}
}

type fakeSampler struct {
	memoryMB, cpuPct float64
}

func (f fakeSampler) Sample(pid int) (float64, float64, error) {
	return f.memoryMB, f.cpuPct, nil
}
