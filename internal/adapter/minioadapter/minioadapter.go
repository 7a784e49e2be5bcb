// Package minioadapter is the reference adapter.Adapter implementation:
// it reads chunks from local files with os.File.ReadAt and uploads them
// to an S3/Minio-compatible bucket, one object per chunk plus a final
// metadata.json object, mirroring the teacher's chunk/object naming.
package minioadapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/voltrail/upload-engine/internal/adapter"
	"github.com/voltrail/upload-engine/internal/config"
)

// putObjecter is the minio.Client surface this package calls, narrowed
// for mocking in tests.
type putObjecter interface {
	PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Adapter is the minio-backed adapter.Adapter. ReadChunk opens source as
// a local path; UploadChunk writes one object per (fileId, chunkIndex).
type Adapter struct {
	client putObjecter
	bucket string
	log    *zap.Logger
}

// New builds an Adapter from cfg's minio settings.
func New(cfg *config.Config, log *zap.Logger) (*Adapter, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minioadapter: new client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{client: client, bucket: cfg.MinioBucket, log: log}, nil
}

var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ adapter.Capable = (*Adapter)(nil)
)

// ReadChunk reads size bytes at start from the local file named source.
func (a *Adapter) ReadChunk(ctx context.Context, source string, start, size int64) ([]byte, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("minioadapter: open %s: %w", source, err)
	}
	defer f.Close()
	buf := make([]byte, size)
	n, err := f.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("minioadapter: readAt %s: %w", source, err)
	}
	return buf[:n], nil
}

// UploadChunk puts one chunk object named <fileId>/chunk-<index5>.
func (a *Adapter) UploadChunk(ctx context.Context, url string, data []byte, headers map[string]string, meta adapter.ChunkRequestMeta) (adapter.Response, error) {
	objectName := fmt.Sprintf("%s/chunk-%05d", meta.FileID, meta.ChunkIndex)
	info, err := a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		UserMetadata: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("minioadapter: putObject %s: %w", objectName, err)
	}
	return info, nil
}

// UploadMetadata puts the whole-file metadata.json object once the last
// chunk succeeds. Not part of adapter.Adapter — the Uploader Core calls
// this directly from its post-process-file stage via a type assertion,
// mirroring the teacher's separate UploadMetadata call.
func (a *Adapter) UploadMetadata(ctx context.Context, fileID string, metadata []byte) error {
	objectName := fileID + "/metadata.json"
	_, err := a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(metadata), int64(len(metadata)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("minioadapter: putObject metadata: %w", err)
	}
	return nil
}

// SupportsFeature reports the optional capabilities this adapter claims.
func (a *Adapter) SupportsFeature(name string) bool {
	return name == adapter.FeatureFileInfo
}

// GetFileInfo stats the local source file.
func (a *Adapter) GetFileInfo(ctx context.Context, source string) (adapter.FileInfo, error) {
	st, err := os.Stat(source)
	if err != nil {
		return adapter.FileInfo{}, fmt.Errorf("minioadapter: stat %s: %w", source, err)
	}
	return adapter.FileInfo{Size: st.Size(), LastModified: st.ModTime().Unix()}, nil
}

// CalculateFileHash is not supported; fileid.Compute handles fingerprinting.
func (a *Adapter) CalculateFileHash(ctx context.Context, source string) (string, error) {
	return "", fmt.Errorf("minioadapter: CalculateFileHash unsupported, use internal/fileid")
}

// GetNetworkQuality is not supported by this adapter; the engine's own
// netprobe supplies quality instead.
func (a *Adapter) GetNetworkQuality(ctx context.Context) (string, error) {
	return "", fmt.Errorf("minioadapter: GetNetworkQuality unsupported")
}

// SetNetworkQuality is a no-op for this adapter.
func (a *Adapter) SetNetworkQuality(ctx context.Context, quality string) error {
	return nil
}

// Dispose is a no-op; the minio client owns no resources to release.
func (a *Adapter) Dispose(ctx context.Context) error {
	return nil
}
