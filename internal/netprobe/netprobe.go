// Package netprobe implements the Network Probe (§4.L): reports a
// current NetworkQuality tier derived from recent chunk-transfer
// throughput samples. There is no platform network API in Go the way
// there is in a browser, so rolling-throughput sampling is the only
// concrete strategy (see DESIGN.md Open Question resolution).
package netprobe

import (
	"sync"
	"time"

	"github.com/voltrail/upload-engine/internal/model"
)

// ChangeHandler is called whenever the computed tier changes.
type ChangeHandler func(model.NetworkQuality)

// Thresholds maps bytes/sec lower bounds to a quality tier, descending.
type Thresholds struct {
	ExcellentBps float64
	GoodBps      float64
	MediumBps    float64
	LowBps       float64
	PoorBps      float64
}

// DefaultThresholds are reasonable defaults for a chunked-upload workload.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ExcellentBps: 10 << 20, // 10 MiB/s
		GoodBps:      4 << 20,
		MediumBps:    1 << 20,
		LowBps:       256 << 10,
		PoorBps:      32 << 10,
	}
}

type sample struct {
	bytes    int64
	duration time.Duration
}

// Probe is the per-core Network Probe instance.
type Probe struct {
	thresholds Thresholds
	window     int

	mu       sync.Mutex
	samples  []sample
	current  model.NetworkQuality
	handlers []ChangeHandler
}

// New builds a Probe retaining the last window throughput samples
// (default 8) to compute its current tier.
func New(thresholds Thresholds, window int) *Probe {
	if window <= 0 {
		window = 8
	}
	return &Probe{thresholds: thresholds, window: window, current: model.NetworkUnknown}
}

// RecordChunkTransfer is called by the Chunk Scheduler after every
// completed chunk upload.
func (p *Probe) RecordChunkTransfer(bytes int64, duration time.Duration) {
	if duration <= 0 || bytes <= 0 {
		return
	}
	p.mu.Lock()
	p.samples = append(p.samples, sample{bytes: bytes, duration: duration})
	if len(p.samples) > p.window {
		p.samples = p.samples[len(p.samples)-p.window:]
	}
	newQuality := p.computeLocked()
	changed := newQuality != p.current
	p.current = newQuality
	handlers := append([]ChangeHandler(nil), p.handlers...)
	p.mu.Unlock()

	if changed {
		for _, h := range handlers {
			h(newQuality)
		}
	}
}

func (p *Probe) computeLocked() model.NetworkQuality {
	if len(p.samples) == 0 {
		return model.NetworkUnknown
	}
	var totalBytes int64
	var totalDuration time.Duration
	for _, s := range p.samples {
		totalBytes += s.bytes
		totalDuration += s.duration
	}
	if totalDuration <= 0 {
		return model.NetworkUnknown
	}
	bps := float64(totalBytes) / totalDuration.Seconds()
	switch {
	case bps >= p.thresholds.ExcellentBps:
		return model.NetworkExcellent
	case bps >= p.thresholds.GoodBps:
		return model.NetworkGood
	case bps >= p.thresholds.MediumBps:
		return model.NetworkMedium
	case bps >= p.thresholds.LowBps:
		return model.NetworkLow
	case bps >= p.thresholds.PoorBps:
		return model.NetworkPoor
	default:
		return model.NetworkOffline
	}
}

// GetQuality returns the current tier.
func (p *Probe) GetQuality() model.NetworkQuality {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// OnChange registers cb to be called whenever the tier changes.
func (p *Probe) OnChange(cb ChangeHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, cb)
}
