// Package events implements the small synchronous pub/sub bus the engine
// publishes its lifecycle events on (§6). Subscribers must tolerate
// out-of-order delivery of progress events within a single tick.
package events

import "sync"

// Name identifies one of the well-known event topics.
type Name string

const (
	FileUploadStart    Name = "fileUpload:start"
	ChunkUploadStart   Name = "chunkUpload:start"
	ChunkUploadProgress Name = "chunkUpload:progress"
	ChunkUploadSuccess Name = "chunkUpload:success"
	ChunkUploadError   Name = "chunkUpload:error"
	SmartRetry         Name = "smartRetry"
	FileUploadProgress Name = "fileUpload:progress"
	FileUploadComplete Name = "fileUpload:complete"
	FileUploadError    Name = "fileUpload:error"
	QueueChange        Name = "queueChange"
)

// Handler receives an event payload; the concrete type varies by Name
// and is documented alongside each Name constant's producer.
type Handler func(payload any)

// Bus is a per-core-instance event bus. Never a package-level singleton:
// independent engine instances must not cross-deliver events.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[Name][]Handler)}
}

// On registers a handler for an event name. Returns an unsubscribe func.
func (b *Bus) On(name Name, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
	idx := len(b.handlers[name]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[name]
		if idx < len(hs) {
			hs[idx] = nil
		}
	}
}

// Emit calls every registered handler for name synchronously, in
// registration order. Handlers run on the caller's goroutine; callers
// that must not block the hot path should make their handler
// non-blocking themselves (e.g. buffer and drain elsewhere).
func (b *Bus) Emit(name Name, payload any) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[name]...)
	b.mu.RUnlock()
	for _, h := range hs {
		if h != nil {
			h(payload)
		}
	}
}

// FileUploadStartPayload is emitted once per upload, before any chunk event.
type FileUploadStartPayload struct {
	FileID string
	File   any
}

// ChunkUploadStartPayload is emitted when a chunk begins its first attempt.
type ChunkUploadStartPayload struct {
	FileID string
	Index  int
}

// ChunkUploadProgressPayload reports partial-chunk transfer progress.
type ChunkUploadProgressPayload struct {
	FileID string
	Index  int
	Loaded int64
	Total  int64
}

// ChunkUploadSuccessPayload is emitted at most once per (FileID, Index).
type ChunkUploadSuccessPayload struct {
	FileID   string
	Index    int
	Response any
}

// ChunkUploadErrorPayload is emitted on every failed attempt, including
// ones that will still be retried.
type ChunkUploadErrorPayload struct {
	FileID  string
	Index   int
	Attempt int
	Err     error
}

// SmartRetryPayload mirrors a RetryHistoryEntry decision.
type SmartRetryPayload struct {
	FileID   string
	Index    int
	Attempt  int
	Kind     string
	Strategy string
	DelayMs  int64
}

// FileUploadProgressPayload is the aggregated whole-file progress event.
type FileUploadProgressPayload struct {
	FileID  string
	Percent float64
	Loaded  int64
	Total   int64
	Speed   float64 // bytes/sec
	ETA     float64 // seconds, -1 if unknown
}

// FileUploadCompletePayload is emitted once, after post-process runs.
type FileUploadCompletePayload struct {
	FileID   string
	Response any
}

// FileUploadErrorPayload is emitted on any unrecoverable file-level error.
type FileUploadErrorPayload struct {
	FileID string
	Err    error
}

// QueueChangePayload is emitted after every structural queue mutation.
type QueueChangePayload struct {
	Queue any
	Stats any
}
