// Package queue implements the Queue Manager (§4.J): ordering, priority,
// and lifecycle tracking for multiple files awaiting or mid-upload, plus
// JSON snapshot persistence so a restarted process can resume.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltrail/upload-engine/internal/events"
	"github.com/voltrail/upload-engine/internal/model"
)

// SortMode names the ordering strategies next()/List() can apply.
type SortMode string

const (
	SortPriority SortMode = "priority"
	SortSizeAsc  SortMode = "size_asc"
	SortSizeDesc SortMode = "size_desc"
	SortFIFO     SortMode = "fifo"
	SortLIFO     SortMode = "lifo"
)

// UploadFunc runs one queued item's upload; the Manager calls this once
// per dispatched item, bounded by ParallelUploads concurrent calls.
type UploadFunc func(ctx context.Context, item *model.QueueItem) (*model.UploadResult, error)

// Options configures a Manager.
type Options struct {
	MaxSize            int
	SortMode           SortMode
	ParallelUploads    int
	AutoCleanCompleted bool
	PersistPath        string // empty disables snapshot persistence
	Bus                *events.Bus
	Log                *zap.Logger
}

// Manager is the per-instance multi-file queue (never a singleton: each
// daemon or CLI invocation owns its own Manager and its own Bus).
type Manager struct {
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	items    map[string]*model.QueueItem
	order    []string
	nextSeq  uint64
	running  bool
	cancelFn context.CancelFunc
	sem      chan struct{}
	upload   UploadFunc
}

// New builds a Manager. upload is invoked for every dispatched item.
func New(opts Options, upload UploadFunc) *Manager {
	if opts.ParallelUploads <= 0 {
		opts.ParallelUploads = 1
	}
	if opts.SortMode == "" {
		opts.SortMode = SortFIFO
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Manager{
		opts:   opts,
		log:    opts.Log,
		items:  make(map[string]*model.QueueItem),
		sem:    make(chan struct{}, opts.ParallelUploads),
		upload: upload,
	}
}

// Add enqueues a new item for file at the given priority. Returns an
// error if the queue is already at MaxSize.
func (m *Manager) Add(file model.FileHandle, id string, priority model.Priority) (*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.MaxSize > 0 && len(m.items) >= m.opts.MaxSize {
		return nil, fmt.Errorf("queue: at capacity (%d items)", m.opts.MaxSize)
	}
	item := &model.QueueItem{
		ID:        id,
		File:      file,
		Priority:  priority,
		Status:    model.QueuePending,
		CreatedAt: time.Now(),
	}
	m.nextSeq++
	item.SetSeq(m.nextSeq)
	m.items[id] = item
	m.order = append(m.order, id)
	m.emitChangeLocked()
	return item, nil
}

// Remove drops an item from the queue regardless of its status.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return false
	}
	delete(m.items, id)
	m.removeFromOrderLocked(id)
	m.emitChangeLocked()
	return true
}

// Clear drops every item not currently uploading.
func (m *Manager) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	var kept []string
	for _, id := range m.order {
		it := m.items[id]
		if it.Status == model.QueueUploading {
			kept = append(kept, id)
			continue
		}
		delete(m.items, id)
		n++
	}
	m.order = kept
	m.emitChangeLocked()
	return n
}

func (m *Manager) removeFromOrderLocked(id string) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// UpdatePriority changes an item's priority, re-affecting its dispatch
// order the next time the dispatch loop picks an item via next().
func (m *Manager) UpdatePriority(id string, p model.Priority) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return false
	}
	it.Priority = p
	m.emitChangeLocked()
	return true
}

// Get returns a copy-free pointer to the item, or nil.
func (m *Manager) Get(id string) *model.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

// List returns every item ordered per SortMode.
func (m *Manager) List() []*model.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked(m.order)
}

func (m *Manager) sortedLocked(ids []string) []*model.QueueItem {
	out := make([]*model.QueueItem, 0, len(ids))
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	switch m.opts.SortMode {
	case SortPriority:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Priority != out[j].Priority {
				return out[i].Priority > out[j].Priority
			}
			return out[i].Seq() < out[j].Seq()
		})
	case SortSizeAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].File.Size < out[j].File.Size })
	case SortSizeDesc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].File.Size > out[j].File.Size })
	case SortLIFO:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Seq() > out[j].Seq() })
	default: // SortFIFO
		sort.SliceStable(out, func(i, j int) bool { return out[i].Seq() < out[j].Seq() })
	}
	return out
}

// next returns the highest-priority pending item, or nil.
func (m *Manager) next() *model.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.sortedLocked(m.order) {
		if it.Status == model.QueuePending {
			return it
		}
	}
	return nil
}

// Start begins the dispatch loop: pull pending items and run upload for
// at most ParallelUploads concurrently, until ctx is cancelled or Pause
// is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancelFn = cancel
	m.running = true
	m.mu.Unlock()

	go m.dispatchLoop(dispatchCtx)
}

func (m *Manager) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return
		case <-ticker.C:
			for {
				item := m.next()
				if item == nil {
					break
				}
				acquired := false
				select {
				case m.sem <- struct{}{}:
					acquired = true
				default:
				}
				if !acquired {
					break // every worker slot is busy; try again next tick
				}
				m.markUploading(item.ID)
				wg.Add(1)
				go func(it *model.QueueItem) {
					defer wg.Done()
					defer func() { <-m.sem }()
					m.runOne(ctx, it)
				}(item)
			}
		}
	}
}

func (m *Manager) markUploading(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return
	}
	now := time.Now()
	it.Status = model.QueueUploading
	it.StartedAt = &now
	m.emitChangeLocked()
}

func (m *Manager) runOne(ctx context.Context, item *model.QueueItem) {
	res, err := m.upload(ctx, item)
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.Status == model.QueuePaused {
		// Pause() already transitioned this item; the error the upload
		// surfaced is just its ctx being cancelled, not a real failure.
		m.emitChangeLocked()
		m.persistLocked()
		return
	}
	now := time.Now()
	item.CompletedAt = &now
	if err != nil {
		item.Status = model.QueueFailed
		item.Err = err
		m.log.Warn("queue: item failed", zap.String("id", item.ID), zap.Error(err))
	} else {
		item.Status = model.QueueCompleted
		item.Result = res
		item.Progress = 100
		if m.opts.AutoCleanCompleted {
			delete(m.items, item.ID)
			m.removeFromOrderLocked(item.ID)
		}
	}
	m.emitChangeLocked()
	m.persistLocked()
}

// Pause is a soft cancel that preserves persisted state: every item
// currently uploading moves to paused (uploading → paused) and the
// dispatch loop stops; no new items start until Resume.
func (m *Manager) Pause() {
	m.mu.Lock()
	cancel := m.cancelFn
	for _, it := range m.items {
		if it.Status == model.QueueUploading {
			it.Status = model.QueuePaused
		}
	}
	m.emitChangeLocked()
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Resume flips every paused item back to pending (paused → pending)
// and restarts the dispatch loop.
func (m *Manager) Resume(ctx context.Context) {
	m.mu.Lock()
	for _, it := range m.items {
		if it.Status == model.QueuePaused {
			it.Status = model.QueuePending
		}
	}
	m.emitChangeLocked()
	m.mu.Unlock()
	m.Start(ctx)
}

// Cancel marks a pending or uploading item cancelled. Cancelling an
// in-flight upload relies on the caller's ctx cancellation to actually
// stop work; this only updates bookkeeping.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return false
	}
	it.Status = model.QueueCancelled
	m.emitChangeLocked()
	return true
}

func (m *Manager) emitChangeLocked() {
	if m.opts.Bus == nil {
		return
	}
	m.opts.Bus.Emit(events.QueueChange, events.QueueChangePayload{Queue: m.snapshotLocked()})
}

type SnapshotItem struct {
	ID          string             `json:"id"`
	FileName    string             `json:"fileName"`
	FileSize    int64              `json:"fileSize"`
	Priority    model.Priority     `json:"priority"`
	Status      model.QueueStatus  `json:"status"`
	Progress    int                `json:"progress"`
	CreatedAt   time.Time          `json:"createdAt"`
	RetryCount  int                `json:"retryCount"`
}

func (m *Manager) snapshotLocked() []SnapshotItem {
	out := make([]SnapshotItem, 0, len(m.order))
	for _, id := range m.order {
		it := m.items[id]
		if it == nil {
			continue
		}
		out = append(out, SnapshotItem{
			ID: it.ID, FileName: it.File.Name, FileSize: it.File.Size,
			Priority: it.Priority, Status: it.Status, Progress: it.Progress,
			CreatedAt: it.CreatedAt, RetryCount: it.RetryCount,
		})
	}
	return out
}

// persistLocked writes the current queue (minus in-memory-only fields
// like file handles' underlying readers) to PersistPath, if configured.
func (m *Manager) persistLocked() {
	if m.opts.PersistPath == "" {
		return
	}
	raw, err := json.MarshalIndent(m.snapshotLocked(), "", "  ")
	if err != nil {
		m.log.Warn("queue: snapshot marshal failed", zap.Error(err))
		return
	}
	if err := os.WriteFile(m.opts.PersistPath, raw, 0o644); err != nil {
		m.log.Warn("queue: snapshot write failed", zap.Error(err))
	}
}

// LoadSnapshot reads every item of a previously persisted snapshot file,
// whatever its status (completed items included), and returns them as
// recorded; a missing file yields no items and no error. The snapshot
// holds no file handle, so a caller that re-enqueues an item supplies
// its own.
func LoadSnapshot(path string) ([]SnapshotItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: read snapshot: %w", err)
	}
	var items []SnapshotItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("queue: decode snapshot: %w", err)
	}
	return items, nil
}

// Stats summarizes queue composition by status.
type Stats struct {
	Pending   int
	Uploading int
	Paused    int
	Completed int
	Failed    int
	Cancelled int
}

// Stats returns current per-status counts.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Stats
	for _, it := range m.items {
		switch it.Status {
		case model.QueuePending:
			s.Pending++
		case model.QueueUploading:
			s.Uploading++
		case model.QueuePaused:
			s.Paused++
		case model.QueueCompleted:
			s.Completed++
		case model.QueueFailed:
			s.Failed++
		case model.QueueCancelled:
			s.Cancelled++
		}
	}
	return s
}
