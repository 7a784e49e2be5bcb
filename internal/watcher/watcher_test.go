package watcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voltrail/upload-engine/internal/config"
	"github.com/voltrail/upload-engine/internal/model"
)

func writeDescriptor(t *testing.T, dir, name string, d Descriptor) string {
	t.Helper()
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal descriptor: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	return path
}

func TestIsDescriptor(t *testing.T) {
	cases := map[string]bool{
		"/tmp/a.upload.json": true,
		"/tmp/A.UPLOAD.JSON": true,
		"/tmp/a.json":        false,
		"/tmp/a.txt":         false,
	}
	for path, want := range cases {
		if got := isDescriptor(path); got != want {
			t.Errorf("isDescriptor(%s) = %v, want %v", path, got, want)
		}
	}
}

func TestParseDescriptorDefaultsNameFromSource(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, "job.upload.json", Descriptor{
		Source:   "/data/videos/clip.mp4",
		Priority: model.PriorityHigh,
	})

	d, err := parseDescriptor(path)
	if err != nil {
		t.Fatalf("parseDescriptor: %v", err)
	}
	if d.Name != "clip.mp4" {
		t.Errorf("expected Name defaulted from Source, got %q", d.Name)
	}
	if d.Priority != model.PriorityHigh {
		t.Errorf("expected PriorityHigh, got %v", d.Priority)
	}
}

func TestParseDescriptorMissingFile(t *testing.T) {
	if _, err := parseDescriptor("/does/not/exist.upload.json"); err == nil {
		t.Fatal("expected error for missing descriptor file")
	}
}

func TestScanExistingFilesSeedsStaleEntries(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, "a.upload.json", Descriptor{Source: "/data/a.bin"})

	w := &Watcher{
		cfg:    &config.Config{DropDir: dir, StabilityThreshold: 1},
		log:    zap.NewNop(),
		seen:   make(map[string]time.Time),
		hashes: make(map[string]string),
	}
	w.scanExistingFiles()

	if _, ok := w.seen[path]; !ok {
		t.Fatal("expected existing descriptor to be seeded into seen")
	}
}

func TestCheckStableFilesEmitsAfterDebounce(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, "a.upload.json", Descriptor{Source: "/data/a.bin", Name: "a.bin"})

	out := make(chan Descriptor, 1)
	w := &Watcher{
		cfg:    &config.Config{DropDir: dir, StabilityThreshold: 1},
		log:    zap.NewNop(),
		out:    out,
		seen:   map[string]time.Time{path: time.Now().Add(-time.Hour)},
		hashes: make(map[string]string),
	}
	w.checkStableFiles(time.Millisecond)

	select {
	case d := <-out:
		if d.Name != "a.bin" {
			t.Errorf("unexpected descriptor name: %s", d.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("expected descriptor to be emitted")
	}
	if _, ok := w.seen[path]; ok {
		t.Fatal("expected entry removed from seen after emit")
	}
}

func TestCheckStableFilesSkipsWithinDebounce(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, "a.upload.json", Descriptor{Source: "/data/a.bin"})

	out := make(chan Descriptor, 1)
	w := &Watcher{
		cfg:    &config.Config{DropDir: dir, StabilityThreshold: 1},
		log:    zap.NewNop(),
		out:    out,
		seen:   map[string]time.Time{path: time.Now()},
		hashes: make(map[string]string),
	}
	w.checkStableFiles(time.Hour)

	select {
	case d := <-out:
		t.Fatalf("expected no emission within debounce window, got %+v", d)
	default:
	}
	if _, ok := w.seen[path]; !ok {
		t.Fatal("expected entry to remain in seen")
	}
}

func TestRescanFilesDetectsContentChange(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, "a.upload.json", Descriptor{Source: "/data/a.bin"})

	w := &Watcher{
		cfg:    &config.Config{DropDir: dir, StabilityThreshold: 1},
		log:    zap.NewNop(),
		seen:   make(map[string]time.Time),
		hashes: make(map[string]string),
	}
	w.rescanFiles()
	firstHash := w.hashes[path]
	if firstHash == "" {
		t.Fatal("expected hash recorded after rescan")
	}

	writeDescriptor(t, dir, "a.upload.json", Descriptor{Source: "/data/a-changed.bin"})
	w.rescanFiles()
	if w.hashes[path] == firstHash {
		t.Fatal("expected hash to change after content edit")
	}
	if _, ok := w.seen[path]; !ok {
		t.Fatal("expected changed file re-marked as seen")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	out := make(chan Descriptor, 1)
	w := New(&config.Config{DropDir: dir, StabilityThreshold: 1}, zap.NewNop(), out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Start to return after context cancel")
	}
}
