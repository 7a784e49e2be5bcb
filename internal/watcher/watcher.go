// Package watcher detects new upload admission requests: JSON
// descriptor files (*.upload.json) dropped into a directory, each
// naming a source file to enqueue. It reuses the teacher's
// hash-based change detection and debounce/stability idiom, redirected
// at descriptor files instead of video files directly.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/voltrail/upload-engine/internal/config"
	"github.com/voltrail/upload-engine/internal/metrics"
	"github.com/voltrail/upload-engine/internal/model"
)

// WatcherInterface is the contract the daemon depends on.
type WatcherInterface interface {
	Start(ctx context.Context)
}

// Descriptor is the JSON shape of one *.upload.json admission request.
type Descriptor struct {
	Source   string         `json:"source"`
	Name     string         `json:"name"`
	MimeType string         `json:"mimeType"`
	Priority model.Priority `json:"priority"`
}

// Watcher scans a directory for admission descriptor files.
type Watcher struct {
	cfg  *config.Config
	log  *zap.Logger
	out  chan<- Descriptor

	seen   map[string]time.Time
	hashes map[string]string
	mu     sync.Mutex
}

// New returns a Watcher that emits admitted descriptors on out.
func New(cfg *config.Config, log *zap.Logger, out chan<- Descriptor) WatcherInterface {
	return &Watcher{
		cfg:    cfg,
		log:    log,
		out:    out,
		seen:   make(map[string]time.Time),
		hashes: make(map[string]string),
	}
}

func (w *Watcher) Start(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Fatal("watcher: failed to create fsnotify watcher", zap.Error(err))
	}
	defer fsw.Close()

	if err := fsw.Add(w.cfg.DropDir); err != nil {
		w.log.Fatal("watcher: failed to watch dropDir", zap.String("dir", w.cfg.DropDir), zap.Error(err))
	}

	w.scanExistingFiles()

	debounce := time.Duration(w.cfg.StabilityThreshold) * time.Second
	if debounce <= 0 {
		debounce = 15 * time.Second
	}

	go w.periodicRescan(ctx, debounce)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.checkStableFiles(debounce)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-fsw.Events:
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Chmod) != 0 && isDescriptor(event.Name) {
				w.mu.Lock()
				w.seen[event.Name] = time.Now()
				w.mu.Unlock()
			}
		case err := <-fsw.Errors:
			w.log.Error("watcher: fsnotify error", zap.Error(err))
		}
	}
}

func isDescriptor(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".upload.json")
}

func (w *Watcher) scanExistingFiles() {
	files, err := filepath.Glob(filepath.Join(w.cfg.DropDir, "*.upload.json"))
	if err != nil {
		w.log.Error("watcher: failed to scan dropDir", zap.Error(err))
		return
	}
	now := time.Now()
	stale := now.Add(-2 * time.Duration(w.cfg.StabilityThreshold) * time.Second)
	w.mu.Lock()
	for _, f := range files {
		w.seen[f] = stale
	}
	w.mu.Unlock()
}

func (w *Watcher) periodicRescan(ctx context.Context, debounce time.Duration) {
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.rescanFiles()
		}
	}
}

func (w *Watcher) rescanFiles() {
	files, err := filepath.Glob(filepath.Join(w.cfg.DropDir, "*.upload.json"))
	if err != nil {
		w.log.Error("watcher: failed to rescan dropDir", zap.Error(err))
		return
	}
	now := time.Now()
	for _, f := range files {
		hash := fileHash(f)
		w.mu.Lock()
		prev, ok := w.hashes[f]
		if !ok || prev != hash {
			w.seen[f] = now.Add(-2 * time.Duration(w.cfg.StabilityThreshold) * time.Second)
			w.hashes[f] = hash
		}
		w.mu.Unlock()
	}
}

func (w *Watcher) checkStableFiles(debounce time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	for f, last := range w.seen {
		if now.Sub(last) <= debounce {
			continue
		}
		desc, err := parseDescriptor(f)
		if err != nil {
			w.log.Error("watcher: failed to parse descriptor", zap.String("file", f), zap.Error(err))
		} else {
			select {
			case w.out <- desc:
				metrics.FilesDetected.Inc()
			default:
				w.log.Warn("watcher: admission channel full, dropping descriptor", zap.String("file", f))
			}
		}
		delete(w.seen, f)
	}
}

func parseDescriptor(path string) (Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return Descriptor{}, err
	}
	if d.Name == "" {
		d.Name = filepath.Base(d.Source)
	}
	return d, nil
}

// fileHash returns a short hash of a descriptor file's contents, used
// only to detect in-place edits during the debounce window.
func fileHash(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	h := sha256.New()
	io.Copy(h, f)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
