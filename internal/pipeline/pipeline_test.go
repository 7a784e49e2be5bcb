package pipeline

import (
	"errors"
	"testing"

	"github.com/voltrail/upload-engine/internal/hooks"
	"github.com/voltrail/upload-engine/internal/model"
)

func TestRunPreProcessAppliesHandlers(t *testing.T) {
	reg := hooks.New()
	reg.Register(StagePreProcessFile, "rename", 1, func(v any) (any, error) {
		in := v.(PreProcessInput)
		in.File.Name = "renamed-" + in.File.Name
		return in, nil
	})
	p := New(reg, FailurePolicy{})

	out, err := p.RunPreProcess(PreProcessInput{File: model.FileHandle{Name: "a.txt"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.File.Name != "renamed-a.txt" {
		t.Fatalf("expected handler to rename file, got %q", out.File.Name)
	}
}

func TestRunPreProcessUnhandledReturnsInputUnchanged(t *testing.T) {
	p := New(hooks.New(), FailurePolicy{})
	in := PreProcessInput{File: model.FileHandle{Name: "a.txt"}}
	out, err := p.RunPreProcess(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.File.Name != "a.txt" {
		t.Fatalf("expected unchanged input, got %+v", out)
	}
}

func TestRunPreProcessAbortsOnFailureWhenConfigured(t *testing.T) {
	reg := hooks.New()
	reg.Register(StagePreProcessFile, "broken", 1, func(v any) (any, error) {
		return v, errors.New("boom")
	})
	p := New(reg, FailurePolicy{AbortOnPreProcessFail: true})

	_, err := p.RunPreProcess(PreProcessInput{File: model.FileHandle{Name: "a.txt"}})
	if err == nil {
		t.Fatal("expected error to propagate when AbortOnPreProcessFail is set")
	}
}

func TestRunPreProcessSwallowsFailureWhenNotConfigured(t *testing.T) {
	reg := hooks.New()
	reg.Register(StagePreProcessFile, "broken", 1, func(v any) (any, error) {
		return v, errors.New("boom")
	})
	p := New(reg, FailurePolicy{})

	in := PreProcessInput{File: model.FileHandle{Name: "a.txt"}}
	out, err := p.RunPreProcess(in)
	if err != nil {
		t.Fatalf("expected error to be swallowed, got %v", err)
	}
	if out.File.Name != "a.txt" {
		t.Fatalf("expected last-good value returned, got %+v", out)
	}
}

func TestRunPerChunkTransformsBytes(t *testing.T) {
	reg := hooks.New()
	reg.Register(StagePerChunkProcess, "upper", 1, func(v any) (any, error) {
		in := v.(ChunkProcessInput)
		in.Bytes = append([]byte(nil), in.Bytes...)
		for i := range in.Bytes {
			in.Bytes[i] = 'X'
		}
		return in, nil
	})
	p := New(reg, FailurePolicy{})

	out, err := p.RunPerChunk(ChunkProcessInput{Bytes: []byte("abc")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "XXX" {
		t.Fatalf("expected transformed bytes, got %q", out)
	}
}

func TestRunPerChunkUnhandledReturnsOriginalBytes(t *testing.T) {
	p := New(hooks.New(), FailurePolicy{})
	out, err := p.RunPerChunk(ChunkProcessInput{Bytes: []byte("abc")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "abc" {
		t.Fatalf("expected original bytes, got %q", out)
	}
}

func TestRunPerChunkAbortsOnFailureWhenConfigured(t *testing.T) {
	reg := hooks.New()
	reg.Register(StagePerChunkProcess, "broken", 1, func(v any) (any, error) {
		return v, errors.New("boom")
	})
	p := New(reg, FailurePolicy{AbortOnProcessFail: true})

	_, err := p.RunPerChunk(ChunkProcessInput{Bytes: []byte("abc")})
	if err == nil {
		t.Fatal("expected error to propagate when AbortOnProcessFail is set")
	}
}

func TestRunPostProcessSucceedsByDefaultEvenOnHandlerError(t *testing.T) {
	reg := hooks.New()
	reg.Register(StagePostProcessFile, "broken", 1, func(v any) (any, error) {
		return v, errors.New("boom")
	})
	p := New(reg, FailurePolicy{AbortOnPostProcessFail: true})

	err := p.RunPostProcess(PostProcessInput{File: model.FileHandle{Name: "a.txt"}})
	if err != nil {
		t.Fatalf("expected non-strict failure to be swallowed, got %v", err)
	}
}

func TestRunPostProcessFailsWhenStrictAndAbortBothSet(t *testing.T) {
	reg := hooks.New()
	reg.Register(StagePostProcessFile, "broken", 1, func(v any) (any, error) {
		return v, errors.New("boom")
	})
	p := New(reg, FailurePolicy{AbortOnPostProcessFail: true, Strict: true})

	err := p.RunPostProcess(PostProcessInput{File: model.FileHandle{Name: "a.txt"}})
	if err == nil {
		t.Fatal("expected error when Strict and AbortOnPostProcessFail are both set")
	}
}
