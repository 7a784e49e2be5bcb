// Package scheduler implements the Chunk Scheduler (§4.H): produces
// chunk descriptors, maintains a bounded in-flight worker window,
// dispatches each ready descriptor through the per-chunk pipeline and
// the retry engine, and aggregates whole-file progress.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/voltrail/upload-engine/internal/adapter"
	"github.com/voltrail/upload-engine/internal/errs"
	"github.com/voltrail/upload-engine/internal/events"
	"github.com/voltrail/upload-engine/internal/model"
	"github.com/voltrail/upload-engine/internal/netprobe"
	"github.com/voltrail/upload-engine/internal/pipeline"
	"github.com/voltrail/upload-engine/internal/retry"
)

// ChunkUploader performs one chunk's full attempt sequence (read, per-
// chunk pipeline, retry-wrapped adapter upload, persist). Scheduler
// calls this once per ready descriptor, at most Concurrency at a time.
type ChunkUploader func(ctx context.Context, desc model.ChunkDescriptor) (any, error)

// Plan is the chunking/concurrency plan for one upload.
type Plan struct {
	ChunkSize   int64
	Concurrency int
}

// Options configures a Scheduler run.
type Options struct {
	Plan              Plan
	Bus               *events.Bus
	ProgressThrottle  time.Duration
	AlreadyUploaded   map[int]struct{} // resume set from persisted metadata
	AdaptiveEnabled   bool
	Probe             *netprobe.Probe
	DeviceMaxConc     int
	ReplanInterval    time.Duration
	Log               *zap.Logger
}

// Scheduler runs one file's chunk dispatch.
type Scheduler struct {
	opts   Options
	fileID string
	total  int

	mu           sync.Mutex
	cond         *sync.Cond
	states       map[int]model.ChunkState
	succeededSet map[int]struct{}
	sizeByIndex  map[int]int64

	sentBytes    atomic.Int64
	fileSize     int64

	lastEmit     time.Time
	emitMu       sync.Mutex

	concurrency  atomic.Int64
	inFlight     atomic.Int64
}

// New builds a Scheduler for one file upload.
func New(fileID string, fileSize int64, opts Options) *Scheduler {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.ProgressThrottle <= 0 {
		opts.ProgressThrottle = 300 * time.Millisecond
	}
	if opts.ReplanInterval <= 0 {
		opts.ReplanInterval = 5 * time.Second
	}
	s := &Scheduler{
		opts:         opts,
		fileID:       fileID,
		fileSize:     fileSize,
		states:       make(map[int]model.ChunkState),
		succeededSet: make(map[int]struct{}),
		sizeByIndex:  make(map[int]int64),
	}
	s.cond = sync.NewCond(&s.mu)
	s.concurrency.Store(int64(opts.Plan.Concurrency))
	return s
}

// Descriptors returns the file's descriptors, skipping any index already
// present in AlreadyUploaded (resume).
func (s *Scheduler) Descriptors() []model.ChunkDescriptor {
	all := model.Descriptors(s.fileID, s.fileSize, s.opts.Plan.ChunkSize)
	s.total = len(all)
	var pending []model.ChunkDescriptor
	for _, d := range all {
		s.mu.Lock()
		s.sizeByIndex[d.Index] = d.Size
		s.mu.Unlock()
		if _, done := s.opts.AlreadyUploaded[d.Index]; done {
			s.markSucceeded(d.Index, false)
			continue
		}
		pending = append(pending, d)
	}
	return pending
}

func (s *Scheduler) markSucceeded(index int, emit bool) {
	s.mu.Lock()
	s.states[index] = model.ChunkSucceeded
	s.succeededSet[index] = struct{}{}
	size := s.sizeByIndex[index]
	s.mu.Unlock()
	s.sentBytes.Add(size)
	if emit {
		s.emitProgress()
	}
}

// Run dispatches every pending descriptor through upload, bounded at
// Concurrency in-flight workers at a time. Returns the aggregated
// per-index responses, or the first unrecoverable error encountered
// (after aborting remaining in-flight workers).
func (s *Scheduler) Run(ctx context.Context, pending []model.ChunkDescriptor, upload ChunkUploader) (map[int]any, error) {
	if s.opts.Bus != nil {
		// fileUpload:start must already have been emitted by the caller
		// (Uploader Core) before Run is invoked — see §5 ordering rule (i).
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		index    int
		response any
		err      error
	}

	work := make(chan model.ChunkDescriptor)
	results := make(chan outcome)
	var wg sync.WaitGroup

	// The worker pool is sized to the largest concurrency Replan could
	// ever ask for, but actual in-flight work is gated dynamically
	// against s.concurrency via waitForSlot — this is what makes a
	// Replan() mid-Run actually change the effective fan-out instead of
	// only updating a value nothing reads (§4.H point 5).
	conc := int(s.concurrency.Load())
	if conc <= 0 {
		conc = 1
	}
	poolSize := conc
	if s.opts.DeviceMaxConc > poolSize {
		poolSize = s.opts.DeviceMaxConc
	}
	if s.opts.Plan.Concurrency*2 > poolSize {
		poolSize = s.opts.Plan.Concurrency * 2
	}

	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for desc := range work {
				s.waitForSlot(ctx)
				if ctx.Err() != nil {
					results <- outcome{index: desc.Index, err: ctx.Err()}
					continue
				}
				s.setState(desc.Index, model.ChunkInFlight)
				s.inFlight.Add(1)
				if s.opts.Bus != nil {
					s.opts.Bus.Emit(events.ChunkUploadStart, events.ChunkUploadStartPayload{FileID: s.fileID, Index: desc.Index})
				}
				resp, err := upload(ctx, desc)
				s.inFlight.Add(-1)
				s.cond.Broadcast()
				results <- outcome{index: desc.Index, response: resp, err: err}
			}
		}()
	}

	// Wake any worker parked in waitForSlot once the run is cancelled,
	// so it can observe ctx.Err() and drain instead of blocking forever.
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	if s.opts.AdaptiveEnabled && s.opts.Probe != nil {
		go func() {
			ticker := time.NewTicker(s.opts.ReplanInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.Replan()
					s.mu.Lock()
					s.cond.Broadcast()
					s.mu.Unlock()
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, d := range pending {
			select {
			case <-ctx.Done():
				return
			case work <- d:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	responses := make(map[int]any)
	var firstErr error
	remaining := len(pending)
	for remaining > 0 {
		res, ok := <-results
		if !ok {
			break
		}
		remaining--
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			s.setState(res.index, model.ChunkFailed)
			continue
		}
		responses[res.index] = res.response
		s.markSucceeded(res.index, true)
		if s.opts.Bus != nil {
			s.opts.Bus.Emit(events.ChunkUploadSuccess, events.ChunkUploadSuccessPayload{FileID: s.fileID, Index: res.index, Response: res.response})
		}
	}

	if firstErr == nil && remaining > 0 && ctx.Err() != nil {
		firstErr = errs.New(errs.KindCancel, "scheduler: run cancelled", ctx.Err())
	}
	if firstErr != nil {
		return responses, firstErr
	}
	return responses, nil
}

// waitForSlot blocks until fewer than s.concurrency workers are
// in-flight, or ctx is done. Concurrency can shrink or grow mid-Run via
// Replan, so this is re-checked against the live value rather than a
// value captured once at pool start.
func (s *Scheduler) waitForSlot(ctx context.Context) {
	s.mu.Lock()
	for s.inFlight.Load() >= s.concurrency.Load() && ctx.Err() == nil {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

func (s *Scheduler) setState(index int, st model.ChunkState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[index] = st
}

// InFlightCount returns the number of workers currently mid-attempt.
func (s *Scheduler) InFlightCount() int64 {
	return s.inFlight.Load()
}

func (s *Scheduler) emitProgress() {
	if s.opts.Bus == nil {
		return
	}
	s.emitMu.Lock()
	now := time.Now()
	if now.Sub(s.lastEmit) < s.opts.ProgressThrottle {
		s.emitMu.Unlock()
		return
	}
	s.lastEmit = now
	s.emitMu.Unlock()

	loaded := s.sentBytes.Load()
	var percent float64
	if s.fileSize > 0 {
		percent = float64(loaded) / float64(s.fileSize) * 100
	}
	s.opts.Bus.Emit(events.FileUploadProgress, events.FileUploadProgressPayload{
		FileID:  s.fileID,
		Percent: percent,
		Loaded:  loaded,
		Total:   s.fileSize,
		Speed:   0,
		ETA:     -1,
	})
}

// Replan recomputes Concurrency from the network probe and device
// profile; Run calls it once per ReplanInterval. It never changes ChunkSize
// mid-file — only concurrency, per §4.H.
func (s *Scheduler) Replan() {
	if !s.opts.AdaptiveEnabled || s.opts.Probe == nil {
		return
	}
	q := s.opts.Probe.GetQuality()
	conc := s.opts.Plan.Concurrency
	switch q {
	case model.NetworkPoor, model.NetworkOffline:
		conc = 1
	case model.NetworkLow:
		conc = max(1, s.opts.Plan.Concurrency/2)
	case model.NetworkExcellent:
		if s.opts.DeviceMaxConc > 0 {
			conc = s.opts.DeviceMaxConc
		} else {
			conc = s.opts.Plan.Concurrency * 2
		}
	}
	s.concurrency.Store(int64(conc))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// UploadFromAdapter wraps a plain adapter.Adapter + per-chunk pipeline +
// retry engine into a ChunkUploader, matching §2's data-flow narrative:
// read bytes, run per-chunk-process, retry-wrap the adapter upload. probe
// may be nil, in which case no throughput samples are recorded.
func UploadFromAdapter(a adapter.Adapter, source, url string, fileSize int64, headers map[string]string, pl *pipeline.Pipeline, engine *retry.Engine, probe *netprobe.Probe) ChunkUploader {
	return func(ctx context.Context, desc model.ChunkDescriptor) (any, error) {
		raw, err := a.ReadChunk(ctx, source, desc.Start, desc.Size)
		if err != nil {
			return nil, errs.New(errs.KindFile, "scheduler: readChunk failed", err)
		}
		processed, err := pl.RunPerChunk(pipeline.ChunkProcessInput{Descriptor: desc, Bytes: raw})
		if err != nil {
			return nil, errs.New(errs.KindDataProcessing, "scheduler: per-chunk-process failed", err)
		}
		meta := adapter.ChunkRequestMeta{
			FileID:      desc.FileID,
			ChunkIndex:  desc.Index,
			TotalChunks: desc.Total,
			ChunkSize:   desc.Size,
			FileSize:    fileSize,
		}
		return engine.Upload(ctx, desc, func(ctx context.Context, d model.ChunkDescriptor, attempt int) (any, error) {
			attemptStart := time.Now()
			resp, err := a.UploadChunk(ctx, url, processed, headers, meta)
			if err == nil && probe != nil {
				probe.RecordChunkTransfer(int64(len(processed)), time.Since(attemptStart))
			}
			return resp, err
		})
	}
}
