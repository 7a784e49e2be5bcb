package minioadapter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/voltrail/upload-engine/internal/adapter"
)

type mockMinioClient struct {
	putErr error
	calls  []struct {
		bucket     string
		objectName string
		data       []byte
		opts       minio.PutObjectOptions
	}
}

func (m *mockMinioClient) PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	buf := make([]byte, size)
	reader.Read(buf)
	m.calls = append(m.calls, struct {
		bucket     string
		objectName string
		data       []byte
		opts       minio.PutObjectOptions
	}{bucket, objectName, buf, opts})
	return minio.UploadInfo{}, m.putErr
}

func TestUploadChunkNamesObjectByFileIDAndIndex(t *testing.T) {
	mc := &mockMinioClient{}
	a := &Adapter{client: mc, bucket: "testbucket"}
	_, err := a.UploadChunk(context.Background(), "ignored", []byte("chunkdata"), nil, adapter.ChunkRequestMeta{FileID: "stream1", ChunkIndex: 2})
	if err != nil {
		t.Fatalf("UploadChunk: %v", err)
	}
	if len(mc.calls) != 1 {
		t.Fatal("PutObject not called")
	}
	call := mc.calls[0]
	if call.bucket != "testbucket" || call.objectName != "stream1/chunk-00002" {
		t.Errorf("unexpected bucket/objectName: %v/%v", call.bucket, call.objectName)
	}
	if string(call.data) != "chunkdata" {
		t.Errorf("unexpected data: %s", string(call.data))
	}
}

func TestUploadChunkError(t *testing.T) {
	mc := &mockMinioClient{putErr: errors.New("fail")}
	a := &Adapter{client: mc, bucket: "b"}
	_, err := a.UploadChunk(context.Background(), "ignored", []byte("d"), nil, adapter.ChunkRequestMeta{FileID: "id", ChunkIndex: 1})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestUploadMetadata(t *testing.T) {
	mc := &mockMinioClient{}
	a := &Adapter{client: mc, bucket: "b"}
	meta := []byte(`{"foo":1}`)
	if err := a.UploadMetadata(context.Background(), "id", meta); err != nil {
		t.Fatalf("UploadMetadata: %v", err)
	}
	call := mc.calls[0]
	if call.objectName != "id/metadata.json" {
		t.Errorf("unexpected objectName: %v", call.objectName)
	}
	if call.opts.ContentType != "application/json" {
		t.Errorf("expected ContentType application/json, got %v", call.opts.ContentType)
	}
}

func TestReadChunkReadsAtOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	a := &Adapter{}
	got, err := a.ReadChunk(context.Background(), path, 3, 4)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if string(got) != "3456" {
		t.Errorf("expected 3456, got %s", got)
	}
}

func TestReadChunkMissingFile(t *testing.T) {
	a := &Adapter{}
	_, err := a.ReadChunk(context.Background(), "/does/not/exist", 0, 4)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestGetFileInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	a := &Adapter{}
	info, err := a.GetFileInfo(context.Background(), path)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if info.Size != 5 {
		t.Errorf("expected size 5, got %d", info.Size)
	}
}

func TestSupportsFeature(t *testing.T) {
	a := &Adapter{}
	if !a.SupportsFeature(adapter.FeatureFileInfo) {
		t.Error("expected FeatureFileInfo to be supported")
	}
	if a.SupportsFeature(adapter.FeatureHash) {
		t.Error("expected FeatureHash to be unsupported")
	}
}
