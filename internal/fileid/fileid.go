// Package fileid derives the stable FileId described in §3: a mix of
// (name, size, lastModified) and a content fingerprint sampled from
// head/middle/tail windows, hashed with SHA-256 when available, falling
// back to a non-cryptographic 96-bit xxhash mix.
package fileid

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/voltrail/upload-engine/internal/model"
)

const sampleWindow = 1 << 20 // 1 MiB

// Reader is the minimal adapter capability fileid needs: a positioned
// read of a source. It mirrors adapter.Adapter.ReadChunk's signature so
// callers can pass their Adapter directly.
type Reader interface {
	ReadChunk(ctx context.Context, source string, start, size int64) ([]byte, error)
}

// Options selects the hashing strategy.
type Options struct {
	UseCrypto bool // true: SHA-256; false (zero value): xxhash fallback mix
}

// Compute derives a FileId for source (size bytes) using the three
// 1 MiB head/middle/tail sample windows plus metadata bytes.
func Compute(ctx context.Context, r Reader, source string, file model.FileHandle, opts Options) (string, error) {
	meta := metadataBytes(file)
	samples, err := sampleWindows(ctx, r, source, file.Size)
	if err != nil {
		return "", fmt.Errorf("fileid: sample windows: %w", err)
	}

	if opts.UseCrypto {
		h := sha256.New()
		h.Write(meta)
		for _, s := range samples {
			h.Write(s)
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}
	return xxhashMix(meta, samples), nil
}

func metadataBytes(file model.FileHandle) []byte {
	buf := make([]byte, 0, len(file.Name)+16)
	buf = append(buf, []byte(file.Name)...)
	sizeBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(sizeBuf, uint64(file.Size))
	buf = append(buf, sizeBuf...)
	tsBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBuf, uint64(file.LastModified.UnixNano()))
	buf = append(buf, tsBuf...)
	return buf
}

// sampleWindows reads up to three disjoint 1 MiB windows: head, middle,
// tail. For files smaller than 3 windows, overlapping/degenerate windows
// collapse naturally (a zero-size read is skipped).
func sampleWindows(ctx context.Context, r Reader, source string, size int64) ([][]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	var starts []int64
	starts = append(starts, 0)
	if size > sampleWindow {
		mid := size/2 - sampleWindow/2
		if mid > 0 {
			starts = append(starts, mid)
		}
		tail := size - sampleWindow
		if tail > 0 {
			starts = append(starts, tail)
		}
	}

	seen := make(map[int64]bool)
	var out [][]byte
	for _, start := range starts {
		if seen[start] {
			continue
		}
		seen[start] = true
		n := int64(sampleWindow)
		if start+n > size {
			n = size - start
		}
		if n <= 0 {
			continue
		}
		b, err := r.ReadChunk(ctx, source, start, n)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// xxhashMix builds a non-cryptographic 96-bit (12-byte) fingerprint by
// combining two xxhash64 digests over disjoint seeds.
func xxhashMix(meta []byte, samples [][]byte) string {
	d1 := xxhash.New()
	d1.Write(meta)
	for _, s := range samples {
		d1.Write(s)
	}
	sum1 := d1.Sum64()

	d2 := xxhash.NewWithSeed(0x9E3779B97F4A7C15)
	d2.Write(meta)
	for _, s := range samples {
		d2.Write(s)
	}
	sum2 := d2.Sum64()

	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[:8], sum1)
	binary.BigEndian.PutUint32(buf[8:], uint32(sum2))
	return hex.EncodeToString(buf)
}
