// Package model defines the data types shared across the upload engine:
// file handles, chunk descriptors, persisted metadata, and queue items.
// None of these types own their own persistence; see blockstore and queue
// for the components that do.
package model

import "time"

// FileHandle is an opaque reference to a source byte stream. The engine
// never mutates it; the caller owns its lifetime.
type FileHandle struct {
	Name         string
	Size         int64
	MimeType     string
	LastModified time.Time
}

// ChunkState is the lifecycle of a single chunk upload attempt.
type ChunkState int

const (
	ChunkPending ChunkState = iota
	ChunkInFlight
	ChunkSucceeded
	ChunkFailed
	ChunkRetrying
)

func (s ChunkState) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkInFlight:
		return "in-flight"
	case ChunkSucceeded:
		return "succeeded"
	case ChunkFailed:
		return "failed"
	case ChunkRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// ChunkDescriptor is an immutable record describing one byte range of a
// file. Derived once per upload from chunkSize; the last chunk may be
// smaller than the rest.
type ChunkDescriptor struct {
	FileID string
	Index  int
	Start  int64
	End    int64
	Size   int64
	Total  int
}

// Descriptors computes the full set of chunk descriptors for a file of
// fileSize bytes split into chunkSize-byte ranges. Empty trailing chunks
// are skipped. Panics if chunkSize <= 0 — callers validate first.
func Descriptors(fileID string, fileSize int64, chunkSize int64) []ChunkDescriptor {
	if chunkSize <= 0 {
		panic("model: chunkSize must be positive")
	}
	if fileSize <= 0 {
		return nil
	}
	total := int((fileSize + chunkSize - 1) / chunkSize)
	descs := make([]ChunkDescriptor, 0, total)
	var start int64
	idx := 0
	for start < fileSize {
		end := start + chunkSize
		if end > fileSize {
			end = fileSize
		}
		size := end - start
		if size == 0 {
			break
		}
		descs = append(descs, ChunkDescriptor{
			FileID: fileID,
			Index:  idx,
			Start:  start,
			End:    end,
			Size:   size,
			Total:  total,
		})
		start = end
		idx++
	}
	return descs
}

// FileMetadata is the persisted record tracked per file in the Block
// Store. UploadedChunks is the authoritative resume set.
type FileMetadata struct {
	FileID         string
	FileName       string
	FileSize       int64
	FileType       string
	FileHash       string
	ChunkSize      int64
	TotalChunks    int
	UploadedChunks map[int]struct{}
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Custom         map[string]any
}

// Clone returns a deep copy safe to hand to callers outside the store's
// transaction boundary.
func (m *FileMetadata) Clone() *FileMetadata {
	if m == nil {
		return nil
	}
	cp := *m
	cp.UploadedChunks = make(map[int]struct{}, len(m.UploadedChunks))
	for k := range m.UploadedChunks {
		cp.UploadedChunks[k] = struct{}{}
	}
	if m.Custom != nil {
		cp.Custom = make(map[string]any, len(m.Custom))
		for k, v := range m.Custom {
			cp.Custom[k] = v
		}
	}
	return &cp
}

// ChunkRecord is the persisted blob record; primary key is (FileID, Index).
type ChunkRecord struct {
	FileID    string
	Index     int
	Bytes     []byte
	Size      int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StorageStats tracks aggregate Block Store usage.
type StorageStats struct {
	TotalBytes int64
	ChunkCount int64
	UpdatedAt  time.Time
}

// QueueStatus is the lifecycle state of a QueueItem.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueUploading QueueStatus = "uploading"
	QueuePaused    QueueStatus = "paused"
	QueueCompleted QueueStatus = "completed"
	QueueFailed    QueueStatus = "failed"
	QueueCancelled QueueStatus = "cancelled"
)

// Priority is an ordinal queue priority; higher values run first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// QueueItem is one file's place in the multi-file queue.
type QueueItem struct {
	ID          string
	File        FileHandle
	Priority    Priority
	Status      QueueStatus
	Progress    int // 0..100
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	Err         error
	Result      *UploadResult
	Custom      map[string]any
	seq         uint64 // insertion sequence, used to break sort ties (fifo/lifo)
}

// Seq returns the insertion sequence number assigned by the queue on add.
func (q *QueueItem) Seq() uint64 { return q.seq }

// SetSeq is used only by the queue manager at insertion time.
func (q *QueueItem) SetSeq(n uint64) { q.seq = n }

// UploadResult is what a successful single-file upload resolves with.
type UploadResult struct {
	FileID          string
	ServerResponses map[int]any
	TotalBytes      int64
	Duration        time.Duration
}

// RetryHistoryEntry records one retry decision made by the Retry Engine.
type RetryHistoryEntry struct {
	ID             string // xid, time-sortable correlation id
	FileID         string
	ChunkIndex     int
	Attempt        int
	ErrorKind      string
	Strategy       string
	DelayMs        int64
	Timestamp      time.Time
	NetworkQuality NetworkQuality
	Success        *bool
}

// NetworkQuality is an ordinal transport-quality tier.
type NetworkQuality int

const (
	NetworkOffline NetworkQuality = iota
	NetworkPoor
	NetworkLow
	NetworkMedium
	NetworkGood
	NetworkExcellent
	NetworkUnknown
)

func (q NetworkQuality) String() string {
	switch q {
	case NetworkOffline:
		return "offline"
	case NetworkPoor:
		return "poor"
	case NetworkLow:
		return "low"
	case NetworkMedium:
		return "medium"
	case NetworkGood:
		return "good"
	case NetworkExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}
