package main

import (
	"testing"

	"github.com/voltrail/upload-engine/internal/model"
)

func TestParsePriority(t *testing.T) {
	cases := map[string]model.Priority{
		"low":      model.PriorityLow,
		"normal":   model.PriorityNormal,
		"high":     model.PriorityHigh,
		"critical": model.PriorityCritical,
		"":         model.PriorityNormal,
		"unknown":  model.PriorityNormal,
	}
	for in, want := range cases {
		if got := parsePriority(in); got != want {
			t.Errorf("parsePriority(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEnvKeyNormalizesDotsDashesAndCase(t *testing.T) {
	cases := map[string]string{
		"redis.addr":      "REDIS_ADDR",
		"max-queue-size":  "MAX_QUEUE_SIZE",
		"CHUNK_SIZE":      "CHUNK_SIZE",
		"sort.mode-value": "SORT_MODE_VALUE",
	}
	for in, want := range cases {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
