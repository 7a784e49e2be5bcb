// Package retry implements the smart-retry subsystem (§4.E): wrap a
// chunk upload, classify any failure, select a backoff strategy, sleep,
// and retry — recording every decision with the strategy selector and a
// bounded-retention history ring.
package retry

import (
	"context"
	"time"

	"github.com/rs/xid"

	"github.com/voltrail/upload-engine/internal/backoff"
	"github.com/voltrail/upload-engine/internal/errs"
	"github.com/voltrail/upload-engine/internal/events"
	"github.com/voltrail/upload-engine/internal/model"
	"github.com/voltrail/upload-engine/internal/strategy"
)

// UploadFunc performs one upload attempt for a chunk; returning an error
// triggers classification and possibly a retry.
type UploadFunc func(ctx context.Context, desc model.ChunkDescriptor, attempt int) (any, error)

// Options configures one Engine instance.
type Options struct {
	Selector        *strategy.Selector
	Bus             *events.Bus
	Backoff         backoff.Config
	NetworkQuality  func() model.NetworkQuality
	ErrCtx          errs.Context
	HistoryRetention time.Duration
	Sleep           func(ctx context.Context, d time.Duration) error
}

// Engine is a per-core retry engine. Never shared between independent
// core instances — its history ring and selector are per-instance state.
type Engine struct {
	opts    Options
	history *HistoryRing
}

// New builds an Engine. opts.Selector must not be nil.
func New(opts Options) *Engine {
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.NetworkQuality == nil {
		opts.NetworkQuality = func() model.NetworkQuality { return model.NetworkUnknown }
	}
	retention := opts.HistoryRetention
	if retention <= 0 {
		retention = time.Hour
	}
	return &Engine{
		opts:    opts,
		history: NewHistoryRing(retention),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Upload runs upload for desc, retrying on recoverable errors up to the
// classified kind's max-retries cap, per §4.E.
func (e *Engine) Upload(ctx context.Context, desc model.ChunkDescriptor, upload UploadFunc) (any, error) {
	return e.attempt(ctx, desc, upload, 1, "")
}

func (e *Engine) attempt(ctx context.Context, desc model.ChunkDescriptor, upload UploadFunc, attempt int, lastStrategy string) (any, error) {
	if ctx.Err() != nil {
		return nil, errs.New(errs.KindCancel, "retry: upload cancelled", ctx.Err())
	}

	resp, err := upload(ctx, desc, attempt)
	if err == nil {
		if attempt > 1 {
			e.recordOutcome(desc, attempt, errs.KindUnknown, lastStrategy, true)
		}
		return resp, nil
	}

	if e.opts.Bus != nil {
		e.opts.Bus.Emit(events.ChunkUploadError, events.ChunkUploadErrorPayload{
			FileID: desc.FileID, Index: desc.Index, Attempt: attempt, Err: err,
		})
	}

	cls := errs.Classify(err, e.opts.ErrCtx)
	if !cls.Recoverable || attempt >= max(1, errs.MaxRetries(cls.Kind)+1) {
		e.recordOutcome(desc, attempt, cls.Kind, lastStrategy, false)
		return nil, err
	}

	quality := e.opts.NetworkQuality()
	strat := e.opts.Selector.Select(cls.Kind, cls.Group, attempt, quality)
	delay := backoff.Compute(strat, e.opts.Backoff, attempt, quality, string(cls.Kind))

	entry := model.RetryHistoryEntry{
		ID:             xid.New().String(),
		FileID:         desc.FileID,
		ChunkIndex:     desc.Index,
		Attempt:        attempt,
		ErrorKind:      string(cls.Kind),
		Strategy:       strat,
		DelayMs:        delay,
		Timestamp:      time.Now(),
		NetworkQuality: quality,
	}
	e.history.Add(entry)

	if e.opts.Bus != nil {
		e.opts.Bus.Emit(events.SmartRetry, events.SmartRetryPayload{
			FileID:   desc.FileID,
			Index:    desc.Index,
			Attempt:  attempt,
			Kind:     string(cls.Kind),
			Strategy: strat,
			DelayMs:  delay,
		})
	}

	if sleepErr := e.opts.Sleep(ctx, time.Duration(delay)*time.Millisecond); sleepErr != nil {
		return nil, errs.New(errs.KindCancel, "retry: cancelled during backoff", sleepErr)
	}

	return e.attempt(ctx, desc, upload, attempt+1, strat)
}

func (e *Engine) recordOutcome(desc model.ChunkDescriptor, attempt int, kind errs.Kind, strategyName string, success bool) {
	if strategyName == "" {
		return
	}
	e.opts.Selector.Record(kind, strategyName, success)
}

// History returns the live, TTL-pruned retry history entries.
func (e *Engine) History() []model.RetryHistoryEntry {
	return e.history.Snapshot()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
