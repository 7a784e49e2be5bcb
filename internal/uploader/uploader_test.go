package uploader

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/voltrail/upload-engine/internal/adapter"
	"github.com/voltrail/upload-engine/internal/blockstore"
	"github.com/voltrail/upload-engine/internal/errs"
	"github.com/voltrail/upload-engine/internal/events"
	"github.com/voltrail/upload-engine/internal/fileid"
	"github.com/voltrail/upload-engine/internal/hooks"
	"github.com/voltrail/upload-engine/internal/model"
	"github.com/voltrail/upload-engine/internal/pipeline"
	"github.com/voltrail/upload-engine/internal/retry"
	"github.com/voltrail/upload-engine/internal/strategy"
)

type memAdapter struct {
	data        []byte
	failUntil   map[int]int // chunk index -> number of failures before success
	attempts    map[int]int
}

func (m *memAdapter) ReadChunk(ctx context.Context, source string, start, size int64) ([]byte, error) {
	if start+size > int64(len(m.data)) {
		size = int64(len(m.data)) - start
	}
	return m.data[start : start+size], nil
}

func (m *memAdapter) UploadChunk(ctx context.Context, url string, bytes []byte, headers map[string]string, meta adapter.ChunkRequestMeta) (adapter.Response, error) {
	if m.attempts == nil {
		m.attempts = make(map[int]int)
	}
	m.attempts[meta.ChunkIndex]++
	if need := m.failUntil[meta.ChunkIndex]; need >= m.attempts[meta.ChunkIndex] {
		return nil, errs.New(errs.KindNetwork, "simulated network blip", nil)
	}
	return map[string]any{"ok": true, "index": meta.ChunkIndex}, nil
}

func newTestCore(t *testing.T, storePath string) (*Core, *memAdapter) {
	t.Helper()
	store, err := blockstore.Open(blockstore.Options{Path: storePath})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := hooks.New()
	pl := pipeline.New(reg, pipeline.FailurePolicy{AbortOnPreProcessFail: true})
	sel := strategy.New(strategy.Options{DefaultStrategy: backoffStrategy})
	bus := events.New()
	engine := retry.New(retry.Options{
		Selector: sel,
		Bus:      bus,
		Sleep:    func(ctx context.Context, d time.Duration) error { return nil },
	})
	a := &memAdapter{data: make([]byte, 10*1024)}
	for i := range a.data {
		a.data[i] = byte(i % 251)
	}

	core := &Core{
		Store:    store,
		Adapter:  a,
		Hooks:    reg,
		Pipeline: pl,
		Retry:    engine,
		Bus:      bus,
	}
	return core, a
}

const backoffStrategy = "fixed"

func TestUploadSingleFileSucceeds(t *testing.T) {
	dir := t.TempDir()
	core, _ := newTestCore(t, filepath.Join(dir, "store.db"))

	file := model.FileHandle{Name: "video.mp4", Size: 10 * 1024, MimeType: "video/mp4", LastModified: time.Now()}
	res, err := core.Upload(context.Background(), "video.mp4", file, Options{
		Endpoint:    "http://example.invalid/upload",
		ChunkSize:   2048,
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.FileID == "" {
		t.Fatal("expected non-empty FileID")
	}
	if len(res.ServerResponses) != 5 {
		t.Fatalf("expected 5 chunk responses, got %d", len(res.ServerResponses))
	}
}

func TestUploadResumesFromPersistedMetadata(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "store.db")
	core, a := newTestCore(t, storePath)

	file := model.FileHandle{Name: "resume.bin", Size: 4096, MimeType: "application/octet-stream", LastModified: time.Now()}

	id, err := fileid.Compute(context.Background(), core.Adapter, file.Name, file, fileid.Options{})
	if err != nil {
		t.Fatalf("compute id: %v", err)
	}
	meta := &model.FileMetadata{
		FileID:         id,
		FileName:       file.Name,
		FileSize:       file.Size,
		ChunkSize:      1024,
		TotalChunks:    4,
		UploadedChunks: map[int]struct{}{0: {}, 1: {}},
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := core.Store.SaveFileMetadata(context.Background(), meta); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	_, err = core.Upload(context.Background(), file.Name, file, Options{
		Endpoint:    "http://example.invalid/upload",
		ChunkSize:   1024,
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got := a.attempts[0]; got != 0 {
		t.Fatalf("chunk 0 was already uploaded and should not be retried, got %d attempts", got)
	}
	if got := a.attempts[2]; got == 0 {
		t.Fatalf("chunk 2 should have been uploaded")
	}
}

func TestUploadChunkSizeMismatchOnResumeFails(t *testing.T) {
	dir := t.TempDir()
	core, _ := newTestCore(t, filepath.Join(dir, "store.db"))
	file := model.FileHandle{Name: "mismatch.bin", Size: 4096, MimeType: "application/octet-stream", LastModified: time.Now()}

	id, err := fileid.Compute(context.Background(), core.Adapter, file.Name, file, fileid.Options{})
	if err != nil {
		t.Fatalf("compute id: %v", err)
	}
	meta := &model.FileMetadata{
		FileID:         id,
		FileName:       file.Name,
		FileSize:       file.Size,
		ChunkSize:      2048,
		TotalChunks:    2,
		UploadedChunks: map[int]struct{}{},
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := core.Store.SaveFileMetadata(context.Background(), meta); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	_, err = core.Upload(context.Background(), file.Name, file, Options{ChunkSize: 1024, Concurrency: 1})
	if err == nil {
		t.Fatal("expected chunkSize mismatch error")
	}
}

func TestUploadRetriesRecoverableChunkFailure(t *testing.T) {
	dir := t.TempDir()
	core, a := newTestCore(t, filepath.Join(dir, "store.db"))
	a.failUntil = map[int]int{1: 2} // chunk 1 fails its first two attempts

	file := model.FileHandle{Name: "flaky.bin", Size: 3072, MimeType: "application/octet-stream", LastModified: time.Now()}
	res, err := core.Upload(context.Background(), file.Name, file, Options{ChunkSize: 1024, Concurrency: 1})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(res.ServerResponses) != 3 {
		t.Fatalf("expected 3 chunk responses, got %d", len(res.ServerResponses))
	}
	if a.attempts[1] < 3 {
		t.Fatalf("expected chunk 1 to be retried at least 3 times, got %d", a.attempts[1])
	}
}

func TestUploadSkipsAlreadyCompleteFile(t *testing.T) {
	dir := t.TempDir()
	core, a := newTestCore(t, filepath.Join(dir, "store.db"))
	file := model.FileHandle{Name: "done.bin", Size: 2048, MimeType: "application/octet-stream", LastModified: time.Now()}

	id, err := fileid.Compute(context.Background(), core.Adapter, file.Name, file, fileid.Options{})
	if err != nil {
		t.Fatalf("compute id: %v", err)
	}
	meta := &model.FileMetadata{
		FileID:         id,
		FileName:       file.Name,
		FileSize:       file.Size,
		ChunkSize:      1024,
		TotalChunks:    2,
		UploadedChunks: map[int]struct{}{0: {}, 1: {}},
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := core.Store.SaveFileMetadata(context.Background(), meta); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	_, err = core.Upload(context.Background(), file.Name, file, Options{ChunkSize: 1024, Concurrency: 1, SkipDuplicate: true})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if a.attempts[0] != 0 || a.attempts[1] != 0 {
		t.Fatal("expected no chunk attempts for an already-complete file")
	}
}

