package quota

import "testing"

func TestReportedModeUsesExplicitTokens(t *testing.T) {
	p := New(Config{Mode: ModeReported})
	tokens := 42
	got := p.Record("a", "", 0, &tokens)
	if got != 42 {
		t.Fatalf("Record() = %d, want 42", got)
	}
}

func TestOutputModeEstimatesFromLength(t *testing.T) {
	p := New(Config{Mode: ModeOutput, CharsPerToken: 4})
	got := p.Record("a", "12345678", 0, nil) // 8 chars / 4 = 2
	if got != 2 {
		t.Fatalf("Record() = %d, want 2", got)
	}
}

func TestDurationModeFallsBackToOutput(t *testing.T) {
	p := New(Config{Mode: ModeDuration, CharsPerToken: 4, TokensPerSecond: 50})
	got := p.Record("a", "12345678", 0, nil)
	if got != 2 {
		t.Fatalf("Record() with no duration = %d, want fallback estimate of 2", got)
	}

	got = p.Record("a", "", 2000, nil) // 2s * 50 tok/s
	if got != 100 {
		t.Fatalf("Record() with duration = %d, want 100", got)
	}
}

func TestBudgetWarningAndExhaustedScenarioS2(t *testing.T) {
	p := New(Config{Mode: ModeReported, Budget: 100, WarningThreshold: 0.8})

	var warnings, exhausted int
	var lastWarningPct float64
	p.OnBudgetWarning(func(e BudgetEvent) { warnings++; lastWarningPct = e.Pct })
	p.OnBudgetExhausted(func(e BudgetEvent) { exhausted++ })

	t85 := 85
	p.Record("A", "", 0, &t85)
	if warnings != 1 {
		t.Fatalf("warnings = %d, want 1 after 85/100", warnings)
	}
	if lastWarningPct < 0.84 || lastWarningPct > 0.86 {
		t.Fatalf("warning pct = %v, want ~0.85", lastWarningPct)
	}

	t15 := 15
	p.Record("A", "", 0, &t15)
	if exhausted != 1 {
		t.Fatalf("exhausted = %d, want 1 after 100/100", exhausted)
	}
	if warnings != 1 {
		t.Fatalf("warnings = %d, want still 1 (latch should not re-fire)", warnings)
	}
}

func TestSetBudgetRearmsWarningLatch(t *testing.T) {
	p := New(Config{Mode: ModeReported, Budget: 100, WarningThreshold: 0.8})
	var warnings int
	p.OnBudgetWarning(func(BudgetEvent) { warnings++ })

	t90 := 90
	p.Record("A", "", 0, &t90)
	if warnings != 1 {
		t.Fatalf("warnings = %d, want 1", warnings)
	}

	p.SetBudget(1000) // 90/1000 = 0.09, below threshold: re-arms
	t1 := 1
	p.Record("A", "", 0, &t1)
	if warnings != 1 {
		t.Fatalf("warnings after low-utilization rebudget = %d, want still 1 (no new crossing yet)", warnings)
	}

	t710 := 710
	p.Record("A", "", 0, &t710) // 801/1000 = 0.801, crosses the threshold again
	if warnings != 2 {
		t.Fatalf("warnings after crossing the threshold again = %d, want 2 (latch re-armed)", warnings)
	}
}

func TestResetClearsState(t *testing.T) {
	p := New(Config{Mode: ModeReported})
	tokens := 10
	p.Record("a", "", 0, &tokens)
	p.Reset()
	if p.Total() != 0 {
		t.Fatalf("Total() after Reset() = %d, want 0", p.Total())
	}
	if _, ok := p.AgentTotal("a"); ok {
		t.Fatal("expected agent record cleared after Reset()")
	}
}

func TestBudgetMonotonicityP8(t *testing.T) {
	p := New(Config{Mode: ModeReported})
	prev := 0
	for i := 0; i < 5; i++ {
		tokens := 10
		p.Record("a", "", 0, &tokens)
		if p.Total() < prev {
			t.Fatalf("Total() decreased: %d < %d", p.Total(), prev)
		}
		prev = p.Total()
	}
}
