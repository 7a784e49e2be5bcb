package pipeline

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/voltrail/upload-engine/internal/hooks"
)

// GzipCompressPluginName is the plugin name used when registering and
// uninstalling the built-in compression handler.
const GzipCompressPluginName = "gzipcompress"

// RegisterGzipCompress attaches the pre-process-file compression plugin
// at the given priority (§4.G names compression as the canonical
// pre-process-file example). Lower priority numbers run first, so
// registering it above validation's number (app.New uses 50 against
// validation's 10) lets validation see the original bytes.
func RegisterGzipCompress(registry *hooks.Registry, priority int, level int) {
	registry.Register(StagePreProcessFile, GzipCompressPluginName, priority, func(input any) (any, error) {
		in, ok := input.(PreProcessInput)
		if !ok || len(in.Body) == 0 {
			return input, nil
		}
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return input, fmt.Errorf("gzipcompress: new writer: %w", err)
		}
		if _, err := w.Write(in.Body); err != nil {
			return input, fmt.Errorf("gzipcompress: write: %w", err)
		}
		if err := w.Close(); err != nil {
			return input, fmt.Errorf("gzipcompress: close: %w", err)
		}
		in.Body = buf.Bytes()
		return in, nil
	})
}
