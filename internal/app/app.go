// This package contains the daemon entrypoint for the upload engine.
// It wires the Block Store, optional Redis mirror, Minio adapter, hook
// pipeline, smart-retry subsystem, network probe, Queue Manager, and
// Uploader Core into a single running process that watches a drop
// directory for admission descriptors and drives their uploads to
// completion.
//
// Example usage:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	cfg := config.Load()
//	log := logger.New(cfg.LogLevel)
//	app.Run(ctx, cfg, log)
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/voltrail/upload-engine/internal/adapter/minioadapter"
	"github.com/voltrail/upload-engine/internal/backoff"
	"github.com/voltrail/upload-engine/internal/blockstore"
	"github.com/voltrail/upload-engine/internal/errs"
	"github.com/voltrail/upload-engine/internal/events"
	"github.com/voltrail/upload-engine/internal/hooks"
	"github.com/voltrail/upload-engine/internal/metrics"
	"github.com/voltrail/upload-engine/internal/model"
	"github.com/voltrail/upload-engine/internal/netprobe"
	"github.com/voltrail/upload-engine/internal/pipeline"
	"github.com/voltrail/upload-engine/internal/queue"
	"github.com/voltrail/upload-engine/internal/redisstore"
	"github.com/voltrail/upload-engine/internal/retry"
	"github.com/voltrail/upload-engine/internal/strategy"
	"github.com/voltrail/upload-engine/internal/uploader"
	"github.com/voltrail/upload-engine/internal/validation"
	"github.com/voltrail/upload-engine/internal/watcher"

	"github.com/voltrail/upload-engine/internal/config"
)

// Engine bundles every per-process component. Every field here is
// per-instance state (§9): nothing in this package is a package-level
// singleton, so a test or a second daemon process can build its own
// independent Engine.
type Engine struct {
	Store  *blockstore.Store
	Queue  *queue.Manager
	Core   *uploader.Core
	Bus    *events.Bus
	Probe  *netprobe.Probe
	Config *config.Config
	Log    *zap.Logger
}

// Run starts the daemon: opens the block store, assembles the uploader
// core, starts the queue dispatch loop, and watches the drop directory
// for admission descriptors until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, log *zap.Logger) {
	metrics.Init(cfg.PrometheusPort)
	log.Info("starting upload engine", zap.String("drop_dir", cfg.DropDir))

	eng, err := New(cfg, log)
	if err != nil {
		log.Fatal("failed to assemble engine", zap.Error(err))
	}
	defer eng.Store.Close()

	eng.Queue.Start(ctx)

	admissions := make(chan watcher.Descriptor, 100)
	var w watcher.WatcherInterface = watcher.New(cfg, log, admissions)
	go w.Start(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down, waiting for in-flight uploads")
			return
		case d := <-admissions:
			eng.Admit(d)
		}
	}
}

// New assembles an Engine from cfg without starting any goroutines,
// so callers (the daemon, uploadctl, and tests) can wire the same
// components and choose their own lifecycle.
func New(cfg *config.Config, log *zap.Logger) (*Engine, error) {
	store, err := blockstore.Open(blockstore.Options{
		Path:   cfg.BlockStorePath,
		Quota:  cfg.MaxFileSize,
		Mirror: newMirror(cfg, log),
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("app: open block store: %w", err)
	}

	adp, err := minioadapter.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("app: new minio adapter: %w", err)
	}

	registry := hooks.New()
	validation.RegisterHook(registry, 10, validation.Config{
		MaxFileSize:         cfg.MaxFileSize,
		AllowedFileTypes:    cfg.AllowedFileTypes,
		DisallowedFileTypes: cfg.DisallowedFileTypes,
		SecurityLevel:       cfg.SecurityLevel,
	})
	pipeline.RegisterGzipCompress(registry, 50, 6)
	pl := pipeline.New(registry, pipeline.FailurePolicy{AbortOnPreProcessFail: true})

	bus := events.New()
	probe := netprobe.New(netprobe.DefaultThresholds(), 8)

	sel := strategy.New(strategy.Options{
		AdaptiveEnabled: true,
		HistoryEnabled:  true,
		DefaultStrategy: backoff.StrategyJittered,
	})
	retryEngine := retry.New(retry.Options{
		Selector:       sel,
		Bus:            bus,
		Backoff:        defaultBackoffConfig(),
		NetworkQuality: probe.GetQuality,
		ErrCtx:         errs.Context{},
	})

	core := &uploader.Core{
		Store:    store,
		Adapter:  adp,
		Hooks:    registry,
		Pipeline: pl,
		Retry:    retryEngine,
		Bus:      bus,
		Probe:    probe,
		Log:      log,
		UseCryptoHash: true,
	}

	var persistPath string
	if cfg.PersistQueue {
		persistPath = cfg.PersistKey
	}
	qm := queue.New(queue.Options{
		MaxSize:            cfg.MaxQueueSize,
		SortMode:           queue.SortMode(cfg.SortMode),
		ParallelUploads:    cfg.ParallelUploads,
		AutoCleanCompleted: cfg.AutoCleanCompleted,
		PersistPath:        persistPath,
		Bus:                bus,
		Log:                log,
	}, uploadFunc(core, cfg))

	return &Engine{Store: store, Queue: qm, Core: core, Bus: bus, Probe: probe, Config: cfg, Log: log}, nil
}

// Admit turns one watcher.Descriptor into a queued upload. The
// descriptor's source path doubles as the queue item's ID: it is
// already unique per admitted file, and the file's content-derived
// FileID is computed independently inside Upload.
func (e *Engine) Admit(d watcher.Descriptor) {
	fi, err := e.Core.Adapter.GetFileInfo(context.Background(), d.Source)
	if err != nil {
		e.Log.Error("app: failed to stat admitted source", zap.String("source", d.Source), zap.Error(err))
		return
	}
	file := model.FileHandle{Name: d.Name, Size: fi.Size, MimeType: d.MimeType}
	if _, err := e.Queue.Add(file, d.Source, d.Priority); err != nil {
		e.Log.Warn("app: failed to admit file to queue", zap.String("source", d.Source), zap.Error(err))
	}
}

// uploadFunc adapts uploader.Core.Upload into queue.UploadFunc. item.ID
// is the source path, set by Admit when it called Queue.Add.
func uploadFunc(core *uploader.Core, cfg *config.Config) queue.UploadFunc {
	return func(ctx context.Context, item *model.QueueItem) (*model.UploadResult, error) {
		return core.Upload(ctx, item.ID, item.File, uploader.Options{
			ChunkSize:     cfg.ChunkSize,
			Concurrency:   cfg.Concurrency,
			Resumable:     cfg.Resumable,
			SkipDuplicate: cfg.SkipDuplicate,
		})
	}
}

func newMirror(cfg *config.Config, log *zap.Logger) blockstore.Mirror {
	if !cfg.RedisMirror {
		return nil
	}
	return redisstore.New(cfg, log)
}

func defaultBackoffConfig() backoff.Config {
	return backoff.Config{
		InitialMs:    500,
		MaxMs:        30000,
		StepMs:       1000,
		Factor:       2,
		JitterFactor: 0.2,
		BaseFactor:   1.5,
		QualityFactor: map[model.NetworkQuality]float64{
			model.NetworkExcellent: 0.5,
			model.NetworkGood:      0.8,
			model.NetworkMedium:    1.0,
			model.NetworkLow:       1.5,
			model.NetworkPoor:      2.5,
		},
	}
}
