// Package strategy chooses which backoff strategy to use for the next
// retry attempt, given the classified error, network quality, attempt
// count, and recorded history.
package strategy

import (
	"sync"

	"github.com/voltrail/upload-engine/internal/backoff"
	"github.com/voltrail/upload-engine/internal/errs"
	"github.com/voltrail/upload-engine/internal/model"
)

// CustomSelector lets a caller override selection entirely; returning ""
// falls through to the built-in precedence.
type CustomSelector func(kind errs.Kind, group errs.Group, attempt int, quality model.NetworkQuality) string

// Options configures a Selector instance. Never shared between core
// instances — see Design Notes on global mutable state.
type Options struct {
	Custom            CustomSelector
	KindStrategy      map[errs.Kind]string
	GroupStrategy      map[errs.Group]string
	AdaptiveEnabled   bool
	HistoryEnabled    bool
	DefaultStrategy   string
	MinHistorySamples int
}

const minSamplesDefault = 3

// Selector is per-core-instance and holds the outcome history tables.
// Never make this a package-level singleton: two independent engine
// instances must not share success-rate statistics.
type Selector struct {
	opts Options

	mu              sync.Mutex
	byKindStrategy  map[errs.Kind]map[string]*tally
	byStrategyTotal map[string]*tally
}

type tally struct {
	successes int
	total     int
}

func (t *tally) rate() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.successes) / float64(t.total)
}

// New builds a Selector with the given options, filling defaults.
func New(opts Options) *Selector {
	if opts.DefaultStrategy == "" {
		opts.DefaultStrategy = backoff.StrategyJittered
	}
	if opts.MinHistorySamples <= 0 {
		opts.MinHistorySamples = minSamplesDefault
	}
	return &Selector{
		opts:            opts,
		byKindStrategy:  make(map[errs.Kind]map[string]*tally),
		byStrategyTotal: make(map[string]*tally),
	}
}

// adaptiveNetworkTable implements the §4.D adaptive table for
// network-group errors.
func adaptiveNetworkTable(quality model.NetworkQuality, attempt int) string {
	switch {
	case quality == model.NetworkPoor && attempt > 2:
		return backoff.StrategyStepped
	case quality == model.NetworkPoor || quality == model.NetworkLow || quality == model.NetworkMedium:
		return backoff.StrategyJittered
	case quality == model.NetworkGood || quality == model.NetworkExcellent:
		return backoff.StrategyExponential
	}
	return attemptFallback(attempt)
}

// adaptiveServerTable implements the §4.D adaptive table for
// server-group errors.
func adaptiveServerTable(kind errs.Kind, quality model.NetworkQuality, attempt int) string {
	switch {
	case kind == errs.KindRateLimit:
		return backoff.StrategyStepped
	case quality == model.NetworkPoor || quality == model.NetworkLow:
		return backoff.StrategyStepped
	default:
		return backoff.StrategyLinear
	}
}

func attemptFallback(attempt int) string {
	switch {
	case attempt > 3:
		return backoff.StrategyStepped
	case attempt > 1:
		return backoff.StrategyExponential
	default:
		return backoff.StrategyJittered
	}
}

// Select runs the precedence chain from §4.D and returns the strategy
// name to use for this attempt.
func (s *Selector) Select(kind errs.Kind, group errs.Group, attempt int, quality model.NetworkQuality) string {
	if s.opts.Custom != nil {
		if v := s.opts.Custom(kind, group, attempt, quality); v != "" {
			return v
		}
	}
	if v, ok := s.opts.KindStrategy[kind]; ok && v != "" {
		return v
	}
	if v, ok := s.opts.GroupStrategy[group]; ok && v != "" {
		return v
	}
	if s.opts.AdaptiveEnabled && quality != model.NetworkUnknown {
		switch group {
		case errs.GroupNetwork:
			return adaptiveNetworkTable(quality, attempt)
		case errs.GroupServer:
			return adaptiveServerTable(kind, quality, attempt)
		}
	}
	if s.opts.HistoryEnabled && attempt > 1 {
		if v, ok := s.bestForKind(kind); ok {
			return v
		}
		if v, ok := s.bestOverall(); ok {
			return v
		}
	}
	if s.opts.DefaultStrategy != "" {
		return s.opts.DefaultStrategy
	}
	return attemptFallback(attempt)
}

func (s *Selector) bestForKind(kind errs.Kind) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStrat, ok := s.byKindStrategy[kind]
	if !ok {
		return "", false
	}
	var best string
	var bestRate float64 = -1
	for strat, t := range byStrat {
		if t.total < s.opts.MinHistorySamples {
			continue
		}
		if r := t.rate(); r > bestRate {
			bestRate = r
			best = strat
		}
	}
	return best, best != ""
}

func (s *Selector) bestOverall() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best string
	var bestRate float64 = -1
	for strat, t := range s.byStrategyTotal {
		if t.total < s.opts.MinHistorySamples {
			continue
		}
		if r := t.rate(); r > bestRate {
			bestRate = r
			best = strat
		}
	}
	return best, best != ""
}

// Record updates the per-kind-per-strategy and per-strategy success
// tables with one outcome.
func (s *Selector) Record(kind errs.Kind, strategyName string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKindStrategy[kind]; !ok {
		s.byKindStrategy[kind] = make(map[string]*tally)
	}
	if _, ok := s.byKindStrategy[kind][strategyName]; !ok {
		s.byKindStrategy[kind][strategyName] = &tally{}
	}
	t := s.byKindStrategy[kind][strategyName]
	t.total++
	if success {
		t.successes++
	}

	if _, ok := s.byStrategyTotal[strategyName]; !ok {
		s.byStrategyTotal[strategyName] = &tally{}
	}
	st := s.byStrategyTotal[strategyName]
	st.total++
	if success {
		st.successes++
	}
}
