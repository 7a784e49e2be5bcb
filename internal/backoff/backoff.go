// Package backoff implements the pure backoff functions used by the
// retry engine: fixed, linear, exponential, jittered, stepped,
// network-adaptive, and error-adaptive. Each is a pure function of its
// own config and the attempt number (1-based); only jittered consults
// randomness.
package backoff

import (
	"math"
	"math/rand"

	"github.com/voltrail/upload-engine/internal/model"
)

// Config parameterizes every strategy; fields not used by a given
// strategy are ignored.
type Config struct {
	InitialMs    float64
	MaxMs        float64
	StepMs       float64
	Factor       float64
	JitterFactor float64
	Intervals    []int64

	// BaseFactor/QualityFactor parameterize the network-adaptive strategy.
	BaseFactor    float64
	QualityFactor map[model.NetworkQuality]float64

	// ErrorFactor parameterizes the error-adaptive strategy, keyed by kind.
	ErrorFactor map[string]float64
}

// DefaultQualityFactor is the table named in §4.C.
func DefaultQualityFactor() map[model.NetworkQuality]float64 {
	return map[model.NetworkQuality]float64{
		model.NetworkExcellent: 0.5,
		model.NetworkGood:      0.75,
		model.NetworkMedium:    1,
		model.NetworkLow:       1.5,
		model.NetworkPoor:      2,
		model.NetworkOffline:   3,
		model.NetworkUnknown:   1,
	}
}

func clamp(v, max float64) float64 {
	if max > 0 && v > max {
		return max
	}
	if v < 0 {
		return 0
	}
	return v
}

// Fixed returns min(initial, max).
func Fixed(cfg Config, attempt int) int64 {
	return int64(clamp(cfg.InitialMs, cfg.MaxMs))
}

// Linear returns min(initial + (attempt-1)*step, max).
func Linear(cfg Config, attempt int) int64 {
	v := cfg.InitialMs + float64(attempt-1)*cfg.StepMs
	return int64(clamp(v, cfg.MaxMs))
}

// Exponential returns min(initial * factor^(attempt-1), max).
func Exponential(cfg Config, attempt int) int64 {
	factor := cfg.Factor
	if factor <= 0 {
		factor = 2
	}
	v := cfg.InitialMs * math.Pow(factor, float64(attempt-1))
	return int64(clamp(v, cfg.MaxMs))
}

// rng is overridable in tests for deterministic jitter assertions.
var rng = rand.New(rand.NewSource(1))

// Jittered returns the exponential value plus uniform jitter in
// ±(base*jitterFactor/2), clamped to [0, max].
func Jittered(cfg Config, attempt int) int64 {
	base := float64(Exponential(cfg, attempt))
	jitter := base * cfg.JitterFactor / 2
	if jitter <= 0 {
		return int64(clamp(base, cfg.MaxMs))
	}
	delta := (rng.Float64()*2 - 1) * jitter
	return int64(clamp(base+delta, cfg.MaxMs))
}

// Stepped returns intervals[min(attempt-1, len(intervals)-1)].
func Stepped(cfg Config, attempt int) int64 {
	if len(cfg.Intervals) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(cfg.Intervals) {
		i = len(cfg.Intervals) - 1
	}
	return cfg.Intervals[i]
}

// NetworkAdaptive returns min(initial * (baseFactor*qualityFactor[q])^(attempt-1), max).
func NetworkAdaptive(cfg Config, attempt int, quality model.NetworkQuality) int64 {
	qf := cfg.QualityFactor
	if qf == nil {
		qf = DefaultQualityFactor()
	}
	q, ok := qf[quality]
	if !ok {
		q = 1
	}
	base := cfg.BaseFactor
	if base <= 0 {
		base = 1
	}
	factor := base * q
	v := cfg.InitialMs * math.Pow(factor, float64(attempt-1))
	return int64(clamp(v, cfg.MaxMs))
}

// ErrorAdaptive is shaped like NetworkAdaptive, but the factor comes from
// a per-error-kind table instead of network quality.
func ErrorAdaptive(cfg Config, attempt int, kind string) int64 {
	factor := 1.0
	if cfg.ErrorFactor != nil {
		if f, ok := cfg.ErrorFactor[kind]; ok {
			factor = f
		}
	}
	v := cfg.InitialMs * math.Pow(factor, float64(attempt-1))
	return int64(clamp(v, cfg.MaxMs))
}

// Strategy names, used by the selector and recorded in retry history.
const (
	StrategyFixed             = "fixed"
	StrategyLinear            = "linear"
	StrategyExponential       = "exponential"
	StrategyJittered          = "jittered"
	StrategyStepped           = "stepped"
	StrategyNetworkAdaptive   = "network_adaptive"
	StrategyErrorAdaptive     = "error_adaptive"
)

// Compute dispatches to the named strategy. quality and kind are only
// consulted by the adaptive strategies.
func Compute(name string, cfg Config, attempt int, quality model.NetworkQuality, kind string) int64 {
	switch name {
	case StrategyFixed:
		return Fixed(cfg, attempt)
	case StrategyLinear:
		return Linear(cfg, attempt)
	case StrategyExponential:
		return Exponential(cfg, attempt)
	case StrategyJittered:
		return Jittered(cfg, attempt)
	case StrategyStepped:
		return Stepped(cfg, attempt)
	case StrategyNetworkAdaptive:
		return NetworkAdaptive(cfg, attempt, quality)
	case StrategyErrorAdaptive:
		return ErrorAdaptive(cfg, attempt, kind)
	default:
		return Exponential(cfg, attempt)
	}
}
