// Package uploader implements the Uploader Core (§4.I): the per-file
// orchestrator that validates, fingerprints, runs the pipeline's
// pre/post stages, and drives the Chunk Scheduler to completion.
package uploader

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voltrail/upload-engine/internal/adapter"
	"github.com/voltrail/upload-engine/internal/blockstore"
	"github.com/voltrail/upload-engine/internal/errs"
	"github.com/voltrail/upload-engine/internal/events"
	"github.com/voltrail/upload-engine/internal/fileid"
	"github.com/voltrail/upload-engine/internal/hooks"
	"github.com/voltrail/upload-engine/internal/model"
	"github.com/voltrail/upload-engine/internal/netprobe"
	"github.com/voltrail/upload-engine/internal/pipeline"
	"github.com/voltrail/upload-engine/internal/retry"
	"github.com/voltrail/upload-engine/internal/scheduler"
)

// Options is the per-upload configuration (§6's enumerated Configuration,
// the subset relevant to a single file).
type Options struct {
	Endpoint     string
	Headers      map[string]string
	ChunkSize    int64
	Concurrency  int
	Resumable    bool
	SkipDuplicate bool
	CleanupAfter bool // delete persisted chunks (not metadata) on success
}

// Core orchestrates A-H for a single file upload.
type Core struct {
	Store    *blockstore.Store
	Adapter  adapter.Adapter
	Hooks    *hooks.Registry
	Pipeline *pipeline.Pipeline
	Retry    *retry.Engine
	Bus      *events.Bus
	Probe    *netprobe.Probe
	Log      *zap.Logger
	UseCryptoHash bool
}

// Upload runs the full single-file lifecycle described in §4.I.
func (c *Core) Upload(ctx context.Context, source string, file model.FileHandle, opts Options) (*model.UploadResult, error) {
	log := c.logger()
	start := time.Now()

	// 1. Validation hooks run as part of pre-process-file below; a
	// dedicated validation failure surfaces before any metadata exists.

	// 2. Compute FileId and open/create FileMetadata.
	id, err := fileid.Compute(ctx, c.Adapter, source, file, fileid.Options{UseCrypto: c.UseCryptoHash})
	if err != nil {
		return nil, errs.New(errs.KindFile, "uploader: fingerprint failed", err)
	}

	meta, err := c.Store.GetFileMetadata(ctx, id)
	if err != nil {
		return nil, errs.New(errs.KindFile, "uploader: load metadata failed", err)
	}
	if meta == nil {
		total := len(model.Descriptors(id, file.Size, opts.ChunkSize))
		meta = &model.FileMetadata{
			FileID:         id,
			FileName:       file.Name,
			FileSize:       file.Size,
			FileType:       file.MimeType,
			ChunkSize:      opts.ChunkSize,
			TotalChunks:    total,
			UploadedChunks: make(map[int]struct{}),
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}
	} else if meta.ChunkSize != opts.ChunkSize {
		// §9 Open Question (b): a chunkSize mismatch on resume is a clear
		// error rather than invented reconciliation behavior.
		return nil, errs.New(errs.KindValidation, fmt.Sprintf(
			"uploader: persisted chunkSize %d does not match requested chunkSize %d for fileId %s",
			meta.ChunkSize, opts.ChunkSize, id), nil)
	}

	if opts.SkipDuplicate && len(meta.UploadedChunks) == meta.TotalChunks && meta.TotalChunks > 0 {
		log.Info("uploader: file already fully uploaded, skipping", zap.String("fileId", id))
		return &model.UploadResult{FileID: id, TotalBytes: file.Size, Duration: 0}, nil
	}

	// 3. pre-process-file (validation hooks included) runs before the
	// metadata is saved, so a rejected file leaves no metadata behind.
	pre, err := c.Pipeline.RunPreProcess(pipeline.PreProcessInput{File: file})
	if err != nil {
		return nil, errs.New(errs.KindValidation, "uploader: pre-process failed", err)
	}
	file = pre.File

	if err := c.Store.SaveFileMetadata(ctx, meta); err != nil {
		return nil, errs.New(errs.KindFile, "uploader: save metadata failed", err)
	}

	// 4. Emit start, hand descriptors to the scheduler.
	c.Bus.Emit(events.FileUploadStart, events.FileUploadStartPayload{FileID: id, File: file})

	sched := scheduler.New(id, file.Size, scheduler.Options{
		Plan:             scheduler.Plan{ChunkSize: opts.ChunkSize, Concurrency: opts.Concurrency},
		Bus:              c.Bus,
		AlreadyUploaded:  meta.UploadedChunks,
		AdaptiveEnabled:  c.Probe != nil,
		Probe:            c.Probe,
		Log:              log,
	})
	pending := sched.Descriptors()

	uploadFn := c.chunkUploader(source, opts, meta)
	responses, err := sched.Run(ctx, pending, uploadFn)
	if err != nil {
		c.Bus.Emit(events.FileUploadError, events.FileUploadErrorPayload{FileID: id, Err: err})
		return nil, err
	}

	// persist resume set (scheduler tracked successes in-memory; mirror
	// them into metadata so a future process restart can resume).
	meta.UpdatedAt = time.Now()
	for _, d := range model.Descriptors(id, file.Size, opts.ChunkSize) {
		if _, ok := meta.UploadedChunks[d.Index]; ok {
			continue
		}
		if _, ok := responses[d.Index]; ok {
			meta.UploadedChunks[d.Index] = struct{}{}
		}
	}
	if err := c.Store.SaveFileMetadata(ctx, meta); err != nil {
		log.Warn("uploader: failed to persist updated metadata", zap.Error(err))
	}

	// 5. post-process-file, complete.
	if err := c.Pipeline.RunPostProcess(pipeline.PostProcessInput{File: file, ServerResponse: responses}); err != nil {
		log.Warn("uploader: post-process-file warning", zap.Error(err))
	}
	c.Bus.Emit(events.FileUploadComplete, events.FileUploadCompletePayload{FileID: id, Response: responses})

	if opts.CleanupAfter {
		if err := c.Store.DeleteFileChunks(ctx, id); err != nil {
			log.Warn("uploader: cleanup after completion failed", zap.Error(err))
		}
	}

	return &model.UploadResult{
		FileID:          id,
		ServerResponses: responses,
		TotalBytes:      file.Size,
		Duration:        time.Since(start),
	}, nil
}

func (c *Core) chunkUploader(source string, opts Options, meta *model.FileMetadata) scheduler.ChunkUploader {
	return func(ctx context.Context, desc model.ChunkDescriptor) (any, error) {
		raw, err := c.Adapter.ReadChunk(ctx, source, desc.Start, desc.Size)
		if err != nil {
			return nil, errs.New(errs.KindFile, "uploader: readChunk failed", err)
		}
		processed, err := c.Pipeline.RunPerChunk(pipeline.ChunkProcessInput{Descriptor: desc, Bytes: raw})
		if err != nil {
			return nil, errs.New(errs.KindDataProcessing, "uploader: per-chunk-process failed", err)
		}
		chunkMeta := adapter.ChunkRequestMeta{
			FileID:      desc.FileID,
			ChunkIndex:  desc.Index,
			TotalChunks: desc.Total,
			ChunkSize:   desc.Size,
			FileSize:    meta.FileSize,
		}
		resp, err := c.Retry.Upload(ctx, desc, func(ctx context.Context, d model.ChunkDescriptor, attempt int) (any, error) {
			attemptStart := time.Now()
			r, err := c.Adapter.UploadChunk(ctx, opts.Endpoint, processed, opts.Headers, chunkMeta)
			if err == nil && c.Probe != nil {
				c.Probe.RecordChunkTransfer(int64(len(processed)), time.Since(attemptStart))
			}
			return r, err
		})
		if err != nil {
			return nil, err
		}
		if err := c.Store.SaveChunk(ctx, desc.FileID, desc.Index, raw); err != nil {
			c.logger().Warn("uploader: failed to persist chunk after successful upload", zap.Error(err))
		}
		return resp, nil
	}
}

func (c *Core) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}
