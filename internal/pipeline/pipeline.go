// Package pipeline implements the three sequential upload stages built
// on top of the Hook Registry: pre-process-file, per-chunk-process, and
// post-process-file (§4.G).
package pipeline

import (
	"github.com/voltrail/upload-engine/internal/hooks"
	"github.com/voltrail/upload-engine/internal/model"
)

const (
	StagePreProcessFile  = "pre-process-file"
	StagePerChunkProcess = "per-chunk-process"
	StagePostProcessFile = "post-process-file"
)

// FailurePolicy controls how a stage's failure propagates.
type FailurePolicy struct {
	AbortOnPreProcessFail  bool
	AbortOnProcessFail     bool
	AbortOnPostProcessFail bool
	Strict                 bool
}

// PreProcessInput/Output is the pre-process-file payload: a FileHandle,
// possibly transformed (e.g. by compression).
type PreProcessInput struct {
	File model.FileHandle
	Body []byte // nil unless a plugin needs the raw bytes (e.g. compression)
}

// ChunkProcessInput is the per-chunk-process payload.
type ChunkProcessInput struct {
	Descriptor model.ChunkDescriptor
	Bytes      []byte
}

// PostProcessInput is the post-process-file payload.
type PostProcessInput struct {
	File           model.FileHandle
	ServerResponse any
}

// Pipeline wraps a Hook Registry with the three named stages.
type Pipeline struct {
	Hooks  *hooks.Registry
	Policy FailurePolicy
}

// New builds a Pipeline over the given registry.
func New(registry *hooks.Registry, policy FailurePolicy) *Pipeline {
	return &Pipeline{Hooks: registry, Policy: policy}
}

// RunPreProcess runs the pre-process-file chain. On handler failure, if
// AbortOnPreProcessFail is set the error is returned as fatal; otherwise
// the last good value is used and the error is swallowed.
func (p *Pipeline) RunPreProcess(in PreProcessInput) (PreProcessInput, error) {
	res := p.Hooks.Run(StagePreProcessFile, in)
	out, _ := res.Value.(PreProcessInput)
	if res.Err != nil && p.Policy.AbortOnPreProcessFail {
		return in, res.Err
	}
	if !res.Handled {
		return in, nil
	}
	return out, nil
}

// RunPerChunk runs the per-chunk-process chain for one chunk's bytes.
func (p *Pipeline) RunPerChunk(in ChunkProcessInput) ([]byte, error) {
	res := p.Hooks.Run(StagePerChunkProcess, in)
	if res.Err != nil && p.Policy.AbortOnProcessFail {
		return nil, res.Err
	}
	if !res.Handled {
		return in.Bytes, nil
	}
	out, ok := res.Value.(ChunkProcessInput)
	if !ok {
		return in.Bytes, nil
	}
	return out.Bytes, nil
}

// RunPostProcess runs the post-process-file chain. Failure is non-fatal
// unless AbortOnPostProcessFail and Strict are both set.
func (p *Pipeline) RunPostProcess(in PostProcessInput) error {
	res := p.Hooks.Run(StagePostProcessFile, in)
	if res.Err != nil && p.Policy.AbortOnPostProcessFail && p.Policy.Strict {
		return res.Err
	}
	return nil
}
