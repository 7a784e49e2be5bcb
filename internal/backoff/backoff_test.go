package backoff

import (
	"testing"

	"github.com/voltrail/upload-engine/internal/model"
)

func TestFixedClampsToMax(t *testing.T) {
	cfg := Config{InitialMs: 500, MaxMs: 300}
	if got := Fixed(cfg, 1); got != 300 {
		t.Errorf("expected clamp to 300, got %d", got)
	}
	if got := Fixed(cfg, 5); got != 300 {
		t.Errorf("expected Fixed to ignore attempt, got %d", got)
	}
}

func TestLinearGrowsByStep(t *testing.T) {
	cfg := Config{InitialMs: 100, StepMs: 50, MaxMs: 10000}
	cases := map[int]int64{1: 100, 2: 150, 3: 200}
	for attempt, want := range cases {
		if got := Linear(cfg, attempt); got != want {
			t.Errorf("Linear(attempt=%d) = %d, want %d", attempt, got, want)
		}
	}
}

func TestExponentialDoublesByDefault(t *testing.T) {
	cfg := Config{InitialMs: 100, MaxMs: 100000}
	cases := map[int]int64{1: 100, 2: 200, 3: 400}
	for attempt, want := range cases {
		if got := Exponential(cfg, attempt); got != want {
			t.Errorf("Exponential(attempt=%d) = %d, want %d", attempt, got, want)
		}
	}
}

func TestExponentialClampsToMax(t *testing.T) {
	cfg := Config{InitialMs: 100, Factor: 2, MaxMs: 250}
	if got := Exponential(cfg, 3); got != 250 {
		t.Errorf("expected clamp to 250, got %d", got)
	}
}

func TestSteppedUsesLastIntervalBeyondLength(t *testing.T) {
	cfg := Config{Intervals: []int64{100, 200, 300}}
	if got := Stepped(cfg, 1); got != 100 {
		t.Errorf("Stepped(1) = %d, want 100", got)
	}
	if got := Stepped(cfg, 10); got != 300 {
		t.Errorf("Stepped(10) = %d, want 300 (last interval)", got)
	}
}

func TestSteppedEmptyIntervalsReturnsZero(t *testing.T) {
	if got := Stepped(Config{}, 1); got != 0 {
		t.Errorf("expected 0 for empty Intervals, got %d", got)
	}
}

func TestNetworkAdaptiveScalesByQuality(t *testing.T) {
	cfg := Config{InitialMs: 100, BaseFactor: 1, MaxMs: 100000, QualityFactor: map[model.NetworkQuality]float64{
		model.NetworkExcellent: 0.5,
		model.NetworkPoor:      2,
	}}
	fast := NetworkAdaptive(cfg, 2, model.NetworkExcellent)
	slow := NetworkAdaptive(cfg, 2, model.NetworkPoor)
	if fast >= slow {
		t.Errorf("expected excellent quality delay (%d) < poor quality delay (%d)", fast, slow)
	}
}

func TestNetworkAdaptiveUnknownQualityDefaultsToOne(t *testing.T) {
	cfg := Config{InitialMs: 100, BaseFactor: 1, MaxMs: 100000}
	if got := NetworkAdaptive(cfg, 1, model.NetworkQuality(99)); got != 100 {
		t.Errorf("expected factor 1 for unmapped quality, got %d", got)
	}
}

func TestErrorAdaptiveUsesKindFactor(t *testing.T) {
	cfg := Config{InitialMs: 100, MaxMs: 100000, ErrorFactor: map[string]float64{"network": 3}}
	if got := ErrorAdaptive(cfg, 2, "network"); got != 300 {
		t.Errorf("ErrorAdaptive(kind=network) = %d, want 300", got)
	}
	if got := ErrorAdaptive(cfg, 2, "unknown"); got != 100 {
		t.Errorf("ErrorAdaptive(kind=unknown) = %d, want 100 (factor defaults to 1)", got)
	}
}

func TestJitteredStaysWithinBounds(t *testing.T) {
	cfg := Config{InitialMs: 1000, Factor: 2, JitterFactor: 0.5, MaxMs: 100000}
	for attempt := 1; attempt <= 5; attempt++ {
		base := float64(Exponential(cfg, attempt))
		got := Jittered(cfg, attempt)
		lower := base - base*cfg.JitterFactor/2 - 1
		upper := base + base*cfg.JitterFactor/2 + 1
		if float64(got) < lower || float64(got) > upper {
			t.Errorf("Jittered(attempt=%d) = %d out of expected bounds [%v, %v]", attempt, got, lower, upper)
		}
	}
}

func TestJitteredZeroFactorReturnsExponential(t *testing.T) {
	cfg := Config{InitialMs: 100, Factor: 2, MaxMs: 100000}
	if got := Jittered(cfg, 2); got != Exponential(cfg, 2) {
		t.Errorf("expected Jittered with zero JitterFactor to equal Exponential, got %d vs %d", got, Exponential(cfg, 2))
	}
}

func TestComputeDispatchesByName(t *testing.T) {
	cfg := Config{InitialMs: 100, MaxMs: 100000, Factor: 2}
	if got := Compute(StrategyFixed, cfg, 1, model.NetworkUnknown, ""); got != Fixed(cfg, 1) {
		t.Errorf("Compute(fixed) mismatch: %d", got)
	}
	if got := Compute(StrategyExponential, cfg, 3, model.NetworkUnknown, ""); got != Exponential(cfg, 3) {
		t.Errorf("Compute(exponential) mismatch: %d", got)
	}
	if got := Compute("unrecognized", cfg, 3, model.NetworkUnknown, ""); got != Exponential(cfg, 3) {
		t.Errorf("Compute(unrecognized) should fall back to Exponential, got %d", got)
	}
}

func TestDefaultQualityFactorCoversAllTiers(t *testing.T) {
	qf := DefaultQualityFactor()
	tiers := []model.NetworkQuality{
		model.NetworkOffline, model.NetworkPoor, model.NetworkLow,
		model.NetworkMedium, model.NetworkGood, model.NetworkExcellent, model.NetworkUnknown,
	}
	for _, tier := range tiers {
		if _, ok := qf[tier]; !ok {
			t.Errorf("DefaultQualityFactor missing entry for %v", tier)
		}
	}
}
