// Package validation implements the Validation Layer (§4.K): size,
// MIME/type, optional signature, and high-risk extension checks,
// registered as pre-process-file hooks, plus a struct-level option check
// (ValidateOptions) that callers run on their own; the hook does not
// call it.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/voltrail/upload-engine/internal/hooks"
	"github.com/voltrail/upload-engine/internal/model"
	"github.com/voltrail/upload-engine/internal/pipeline"
)

// UploadOptions is the struct-tag-validated subset of per-upload options
// this layer enforces before the byte-level checks run.
type UploadOptions struct {
	ChunkSize int64 `validate:"required,gt=0"`
	MaxRetries int  `validate:"gte=0"`
}

var structValidator = validator.New()

// ValidateOptions runs go-playground/validator struct tags over opts,
// returning a field-level error list.
func ValidateOptions(opts UploadOptions) []string {
	err := structValidator.Struct(opts)
	if err == nil {
		return nil
	}
	var msgs []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s check", fe.Field(), fe.Tag()))
		}
	} else {
		msgs = append(msgs, err.Error())
	}
	return msgs
}

// Result mirrors §4.K's {valid, errors[]} shape.
type Result struct {
	Valid  bool
	Errors []string
}

// Config configures the byte-level checks.
type Config struct {
	MaxFileSize         int64
	AllowZeroSize       bool
	AllowedFileTypes    []string // exact MIME or "prefix/*"
	DisallowedFileTypes []string
	SignatureTable      map[string][]byte // mimeType -> magic bytes prefix
	HighRiskExtensions  map[string]bool   // extension (with dot) -> true
	SecurityLevel       string            // basic|standard|advanced
}

func mimeAllowed(mime string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == mime {
			return true
		}
		if strings.HasSuffix(a, "/*") {
			prefix := strings.TrimSuffix(a, "*")
			if strings.HasPrefix(mime, prefix) {
				return true
			}
		}
	}
	return false
}

func mimeDisallowed(mime string, disallowed []string) bool {
	for _, d := range disallowed {
		if d == mime {
			return true
		}
		if strings.HasSuffix(d, "/*") {
			prefix := strings.TrimSuffix(d, "*")
			if strings.HasPrefix(mime, prefix) {
				return true
			}
		}
	}
	return false
}

// Validate runs the size, MIME, signature, and extension checks over
// file (and optionally a leading window of its bytes).
func Validate(file model.FileHandle, leadingBytes []byte, cfg Config) Result {
	var errs []string

	if file.Size > cfg.MaxFileSize && cfg.MaxFileSize > 0 {
		errs = append(errs, fmt.Sprintf("file size %d exceeds maxFileSize %d", file.Size, cfg.MaxFileSize))
	}
	if file.Size == 0 && !cfg.AllowZeroSize {
		errs = append(errs, "empty files are not allowed")
	}

	if !mimeAllowed(file.MimeType, cfg.AllowedFileTypes) {
		errs = append(errs, fmt.Sprintf("mime type %q is not in the allow-list", file.MimeType))
	}
	if mimeDisallowed(file.MimeType, cfg.DisallowedFileTypes) {
		errs = append(errs, fmt.Sprintf("mime type %q is explicitly disallowed", file.MimeType))
	}

	if cfg.SecurityLevel == "advanced" && cfg.SignatureTable != nil && len(leadingBytes) > 0 {
		if magic, ok := cfg.SignatureTable[file.MimeType]; ok {
			if !strings.HasPrefix(string(leadingBytes), string(magic)) {
				errs = append(errs, fmt.Sprintf("file signature does not match declared mime type %q", file.MimeType))
			}
		}
	}

	ext := extOf(file.Name)
	if cfg.HighRiskExtensions != nil && cfg.HighRiskExtensions[ext] {
		errs = append(errs, fmt.Sprintf("extension %q is high-risk and disallowed regardless of declared mime type", ext))
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

func extOf(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i:])
}

// RegisterHook attaches Validate as a pre-process-file hook at the given
// priority. It runs early (low priority number) so later plugins (e.g.
// compression) never see a rejected file.
func RegisterHook(registry *hooks.Registry, priority int, cfg Config) {
	registry.Register(pipeline.StagePreProcessFile, "validation", priority, func(input any) (any, error) {
		in, ok := input.(pipeline.PreProcessInput)
		if !ok {
			return input, nil
		}
		res := Validate(in.File, in.Body, cfg)
		if !res.Valid {
			return input, fmt.Errorf("validation: %s", strings.Join(res.Errors, "; "))
		}
		return input, nil
	})
}
