// Package blockstore implements the Block Store (§4.A): a transactional
// key/value layer over an embedded indexed database (bbolt), exposing
// chunks, metadata, and stats tables, plus an optional distributed
// mirror cache for fast membership checks.
package blockstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/voltrail/upload-engine/internal/model"
)

var (
	bucketChunks   = []byte("chunks")
	bucketMetadata = []byte("metadata")
	bucketStats    = []byte("stats")
	statsKey       = []byte("singleton")
)

// QuotaError is returned by SaveChunk when the write would exceed Quota.
type QuotaError struct {
	Requested int64
	Used      int64
	Quota     int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("blockstore: quota exceeded: used=%d requested=%d quota=%d", e.Used, e.Requested, e.Quota)
}

// Mirror is the optional distributed fast-path membership cache,
// consulted first by HasChunk. Any error from it is swallowed — it is a
// best-effort cache, never a source of truth.
type Mirror interface {
	MarkUploaded(ctx context.Context, fileID string, index int) error
	IsUploaded(ctx context.Context, fileID string, index int) (bool, error)
	ForgetFile(ctx context.Context, fileID string) error
}

// Store is the Block Store contract from §4.A.
type Store struct {
	db     *bolt.DB
	quota  int64
	mirror Mirror
	log    *zap.Logger

	totalBytes atomic.Int64
	chunkCount atomic.Int64

	cleanupStop chan struct{}
}

// Options configures Open.
type Options struct {
	Path          string
	Quota         int64 // 0 means unbounded
	Mirror        Mirror
	Logger        *zap.Logger
	CleanupEvery  time.Duration // 0 disables the periodic cleanup timer
	ExpirationTTL time.Duration
}

// Open opens or creates the schema. Idempotent.
func Open(opts Options) (*Store, error) {
	db, err := bolt.Open(opts.Path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("blockstore: open %s: %w", opts.Path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketChunks, bucketMetadata, bucketStats} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("blockstore: init schema: %w", err)
	}

	s := &Store{
		db:     db,
		quota:  opts.Quota,
		mirror: opts.Mirror,
		log:    opts.Logger,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if err := s.loadStats(); err != nil {
		db.Close()
		return nil, err
	}
	if opts.CleanupEvery > 0 {
		s.startCleanupTimer(opts.CleanupEvery, opts.ExpirationTTL)
	}
	return s, nil
}

func (s *Store) loadStats() error {
	return s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketStats).Get(statsKey)
		if raw == nil {
			return nil
		}
		var st model.StorageStats
		if err := json.Unmarshal(raw, &st); err != nil {
			return fmt.Errorf("blockstore: decode stats: %w", err)
		}
		s.totalBytes.Store(st.TotalBytes)
		s.chunkCount.Store(st.ChunkCount)
		return nil
	})
}

func chunkKey(fileID string, index int) []byte {
	key := make([]byte, len(fileID)+1+4)
	n := copy(key, fileID)
	key[n] = 0
	binary.BigEndian.PutUint32(key[n+1:], uint32(index))
	return key
}

func chunkPrefix(fileID string) []byte {
	key := make([]byte, len(fileID)+1)
	n := copy(key, fileID)
	key[n] = 0
	return key
}

// SaveChunk upserts a chunk record and atomically adjusts stats, unless
// doing so would exceed Quota, in which case it rejects with *QuotaError.
func (s *Store) SaveChunk(ctx context.Context, fileID string, index int, bytes []byte) error {
	size := int64(len(bytes))
	if s.quota > 0 && s.totalBytes.Load()+size > s.quota {
		return &QuotaError{Requested: size, Used: s.totalBytes.Load(), Quota: s.quota}
	}

	now := time.Now()
	key := chunkKey(fileID, index)
	var prevSize int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		if existing := b.Get(key); existing != nil {
			var rec model.ChunkRecord
			if err := json.Unmarshal(existing, &rec); err == nil {
				prevSize = rec.Size
			}
		}
		rec := model.ChunkRecord{FileID: fileID, Index: index, Bytes: bytes, Size: size, UpdatedAt: now}
		if prevSize == 0 {
			rec.CreatedAt = now
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, raw)
	})
	if err != nil {
		return fmt.Errorf("blockstore: saveChunk: %w", err)
	}

	delta := size - prevSize
	s.totalBytes.Add(delta)
	if prevSize == 0 {
		s.chunkCount.Add(1)
	}
	s.clampStats()
	s.persistStats()

	if s.mirror != nil {
		_ = s.mirror.MarkUploaded(ctx, fileID, index)
	}
	return nil
}

// GetChunk returns a chunk's bytes, or nil if absent.
func (s *Store) GetChunk(ctx context.Context, fileID string, index int) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketChunks).Get(chunkKey(fileID, index))
		if raw == nil {
			return nil
		}
		var rec model.ChunkRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		out = rec.Bytes
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: getChunk: %w", err)
	}
	return out, nil
}

// HasChunk reports whether a chunk is persisted. The mirror cache is
// consulted first, best-effort; bbolt is the source of truth on a miss
// or mirror error.
func (s *Store) HasChunk(ctx context.Context, fileID string, index int) (bool, error) {
	if s.mirror != nil {
		if ok, err := s.mirror.IsUploaded(ctx, fileID, index); err == nil && ok {
			return true, nil
		}
	}
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketChunks).Get(chunkKey(fileID, index)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("blockstore: hasChunk: %w", err)
	}
	return found, nil
}

// DeleteChunk removes a chunk record, decrementing stats by its size if
// it existed.
func (s *Store) DeleteChunk(ctx context.Context, fileID string, index int) error {
	key := chunkKey(fileID, index)
	var removedSize int64
	var existed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		raw := b.Get(key)
		if raw == nil {
			return nil
		}
		existed = true
		var rec model.ChunkRecord
		if err := json.Unmarshal(raw, &rec); err == nil {
			removedSize = rec.Size
		}
		return b.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("blockstore: deleteChunk: %w", err)
	}
	if existed {
		s.totalBytes.Add(-removedSize)
		s.chunkCount.Add(-1)
		s.clampStats()
		s.persistStats()
	}
	return nil
}

// DeleteFileChunks cursor-scans by fileID prefix, deletes all matching
// chunk records, and decrements stats by their sum.
func (s *Store) DeleteFileChunks(ctx context.Context, fileID string) error {
	prefix := chunkPrefix(fileID)
	var removedSize int64
	var removedCount int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		c := b.Cursor()
		var keys [][]byte
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var rec model.ChunkRecord
			if err := json.Unmarshal(v, &rec); err == nil {
				removedSize += rec.Size
			}
			removedCount++
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("blockstore: deleteFileChunks: %w", err)
	}
	s.totalBytes.Add(-removedSize)
	s.chunkCount.Add(-removedCount)
	s.clampStats()
	s.persistStats()
	if s.mirror != nil {
		_ = s.mirror.ForgetFile(ctx, fileID)
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// GetChunkList returns the sorted chunk indices persisted for fileID.
func (s *Store) GetChunkList(ctx context.Context, fileID string) ([]int, error) {
	prefix := chunkPrefix(fileID)
	var indices []int
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketChunks).Cursor()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			idx := binary.BigEndian.Uint32(k[len(prefix):])
			indices = append(indices, int(idx))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: getChunkList: %w", err)
	}
	sort.Ints(indices)
	return indices, nil
}

// SaveFileMetadata upserts fileMetadata.
func (s *Store) SaveFileMetadata(ctx context.Context, meta *model.FileMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put([]byte(meta.FileID), raw)
	})
	if err != nil {
		return fmt.Errorf("blockstore: saveFileMetadata: %w", err)
	}
	return nil
}

// GetFileMetadata returns the metadata for fileID, or nil if absent.
func (s *Store) GetFileMetadata(ctx context.Context, fileID string) (*model.FileMetadata, error) {
	var out *model.FileMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMetadata).Get([]byte(fileID))
		if raw == nil {
			return nil
		}
		var meta model.FileMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return err
		}
		out = &meta
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: getFileMetadata: %w", err)
	}
	return out, nil
}

// DeleteFileMetadata removes fileID's metadata record.
func (s *Store) DeleteFileMetadata(ctx context.Context, fileID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Delete([]byte(fileID))
	})
	if err != nil {
		return fmt.Errorf("blockstore: deleteFileMetadata: %w", err)
	}
	return nil
}

// Cleanup removes metadata older than expiration (updatedAt < now - ttl)
// and their chunks, then removes orphan chunks whose fileID has no
// metadata record.
func (s *Store) Cleanup(ctx context.Context, expiration time.Duration) error {
	if expiration <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-expiration)

	var expiredIDs []string
	liveIDs := make(map[string]struct{})
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMetadata).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var meta model.FileMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				continue
			}
			if meta.UpdatedAt.Before(cutoff) {
				expiredIDs = append(expiredIDs, meta.FileID)
			} else {
				liveIDs[meta.FileID] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("blockstore: cleanup scan metadata: %w", err)
	}

	for _, id := range expiredIDs {
		if err := s.DeleteFileChunks(ctx, id); err != nil {
			return err
		}
		if err := s.DeleteFileMetadata(ctx, id); err != nil {
			return err
		}
	}

	var orphanFileIDs []string
	err = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketChunks).Cursor()
		seen := make(map[string]struct{})
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			fileID := fileIDFromChunkKey(k)
			if _, ok := seen[fileID]; ok {
				continue
			}
			seen[fileID] = struct{}{}
			if _, ok := liveIDs[fileID]; !ok {
				orphanFileIDs = append(orphanFileIDs, fileID)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("blockstore: cleanup scan orphans: %w", err)
	}
	for _, id := range orphanFileIDs {
		if err := s.DeleteFileChunks(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func fileIDFromChunkKey(k []byte) string {
	for i, b := range k {
		if b == 0 {
			return string(k[:i])
		}
	}
	return string(k)
}

func (s *Store) clampStats() {
	if s.totalBytes.Load() < 0 {
		s.totalBytes.Store(0)
	}
	if s.chunkCount.Load() < 0 {
		s.chunkCount.Store(0)
	}
}

func (s *Store) persistStats() {
	st := model.StorageStats{
		TotalBytes: s.totalBytes.Load(),
		ChunkCount: s.chunkCount.Load(),
		UpdatedAt:  time.Now(),
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStats).Put(statsKey, raw)
	}); err != nil {
		s.log.Warn("blockstore: failed to persist stats", zap.Error(err))
	}
}

// Stats returns a snapshot of current usage.
func (s *Store) Stats() model.StorageStats {
	return model.StorageStats{
		TotalBytes: s.totalBytes.Load(),
		ChunkCount: s.chunkCount.Load(),
		UpdatedAt:  time.Now(),
	}
}

func (s *Store) startCleanupTimer(every, ttl time.Duration) {
	s.cleanupStop = make(chan struct{})
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.cleanupStop:
				return
			case <-ticker.C:
				if err := s.Cleanup(context.Background(), ttl); err != nil {
					s.log.Warn("blockstore: periodic cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}

// Close releases the bbolt handle and stops any periodic cleanup timer.
func (s *Store) Close() error {
	if s.cleanupStop != nil {
		close(s.cleanupStop)
	}
	return s.db.Close()
}
