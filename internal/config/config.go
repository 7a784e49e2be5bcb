// Package config loads and manages application configuration from .env
// files and environment variables. All key engine parameters — chunk
// size, concurrency, retry, validation, and queue settings — are
// configurable this way; see Config for the full set.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the flat, env-driven configuration struct every library
// component reads from. It is deliberately not viper-aware: cmd/uploadctl
// layers viper over Load by exporting config-file keys into the
// environment before calling it, and cmd/uploadengine calls Load
// directly, matching the teacher's env-first posture at the library level.
type Config struct {
	// Storage backends
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisMirror    bool // enable the redis mirror cache in front of blockstore
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	BlockStorePath string // bbolt db file

	// Admission / watch
	DropDir            string // directory scanned for *.upload.json descriptor files
	StabilityThreshold int
	StreamTimeout      int

	// Chunking & concurrency
	ChunkSize   int64
	Concurrency int

	// Retry / backoff
	RetryCount      int
	RetryDelayMs    int64
	RetryMaxMs      int64
	SmartRetry      bool
	RetryableCodes  []int

	// Validation
	MaxFileSize         int64
	AllowedFileTypes    []string
	DisallowedFileTypes []string
	SecurityLevel       string // basic|standard|advanced

	// Queue
	MaxQueueSize       int
	SortMode           string // priority|size_asc|size_desc|fifo|lifo
	ParallelUploads    int
	AutoStart          bool
	PersistQueue       bool
	PersistKey         string
	AutoCleanCompleted bool
	ThrottleMs         int

	// Features
	Resumable     bool
	SkipDuplicate bool
	UseWorker     bool

	// Ambient
	PrometheusPort   string
	LogLevel         string
	VideoFileFormats []string // kept for the descriptor-admission allow-list, teacher-style naming
}

// Load reads Config from .env + environment variables, applying the same
// defaults the teacher shipped for the fields it originated, extended
// with the engine's new parameters.
func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	chunkSize, _ := strconv.ParseInt(getEnv("CHUNK_SIZE", "5242880"), 10, 64)
	stabilityThreshold, _ := strconv.Atoi(getEnv("STABILITY_THRESHOLD", "15"))
	streamTimeout, _ := strconv.Atoi(getEnv("STREAM_TIMEOUT", "30"))
	minioUseSSL := getEnv("MINIO_USE_SSL", "false") == "true"
	concurrency, _ := strconv.Atoi(getEnv("CONCURRENCY", "4"))
	retryCount, _ := strconv.Atoi(getEnv("RETRY_COUNT", "3"))
	retryDelayMs, _ := strconv.ParseInt(getEnv("RETRY_DELAY_MS", "500"), 10, 64)
	retryMaxMs, _ := strconv.ParseInt(getEnv("RETRY_MAX_MS", "30000"), 10, 64)
	smartRetry := getEnv("SMART_RETRY", "true") == "true"
	maxFileSize, _ := strconv.ParseInt(getEnv("MAX_FILE_SIZE", "5368709120"), 10, 64)
	maxQueueSize, _ := strconv.Atoi(getEnv("MAX_QUEUE_SIZE", "100"))
	parallelUploads, _ := strconv.Atoi(getEnv("PARALLEL_UPLOADS", "3"))
	autoStart := getEnv("AUTO_START", "true") == "true"
	persistQueue := getEnv("PERSIST_QUEUE", "true") == "true"
	autoCleanCompleted := getEnv("AUTO_CLEAN_COMPLETED", "false") == "true"
	throttleMs, _ := strconv.Atoi(getEnv("THROTTLE_MS", "300"))
	resumable := getEnv("RESUMABLE", "true") == "true"
	skipDuplicate := getEnv("SKIP_DUPLICATE", "true") == "true"
	useWorker := getEnv("USE_WORKER", "false") == "true"
	redisMirror := getEnv("REDIS_MIRROR", "false") == "true"

	formats := getEnv("VIDEO_FILE_FORMATS", ".mp4,.mkv,.mov")
	var videoFileFormats []string
	for _, f := range strings.Split(formats, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			if !strings.HasPrefix(f, ".") {
				f = "." + f
			}
			videoFileFormats = append(videoFileFormats, strings.ToLower(f))
		}
	}

	allowedFileTypes := splitCSV(getEnv("ALLOWED_FILE_TYPES", ""))
	disallowedFileTypes := splitCSV(getEnv("DISALLOWED_FILE_TYPES", ""))
	retryableCodes := splitIntCSV(getEnv("RETRYABLE_CODES", ""))

	return &Config{
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        redisDB,
		RedisMirror:    redisMirror,
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnv("MINIO_BUCKET", "uploads"),
		MinioUseSSL:    minioUseSSL,
		BlockStorePath: getEnv("BLOCKSTORE_PATH", "./upload-engine.db"),

		DropDir:            getEnv("DROP_DIR", "./pending_uploads"),
		StabilityThreshold: stabilityThreshold,
		StreamTimeout:      streamTimeout,

		ChunkSize:   chunkSize,
		Concurrency: concurrency,

		RetryCount:     retryCount,
		RetryDelayMs:   retryDelayMs,
		RetryMaxMs:     retryMaxMs,
		SmartRetry:     smartRetry,
		RetryableCodes: retryableCodes,

		MaxFileSize:         maxFileSize,
		AllowedFileTypes:    allowedFileTypes,
		DisallowedFileTypes: disallowedFileTypes,
		SecurityLevel:       getEnv("SECURITY_LEVEL", "standard"),

		MaxQueueSize:       maxQueueSize,
		SortMode:           getEnv("SORT_MODE", "priority"),
		ParallelUploads:    parallelUploads,
		AutoStart:          autoStart,
		PersistQueue:       persistQueue,
		PersistKey:         getEnv("PERSIST_KEY", "upload-queue-snapshot"),
		AutoCleanCompleted: autoCleanCompleted,
		ThrottleMs:         throttleMs,

		Resumable:     resumable,
		SkipDuplicate: skipDuplicate,
		UseWorker:     useWorker,

		PrometheusPort:   getEnv("PROMETHEUS_PORT", "2112"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		VideoFileFormats: videoFileFormats,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// splitCSV splits a comma-separated env value into a trimmed, non-empty
// slice. An empty input yields a nil slice (treated as "no restriction"
// by the validation layer's allow/disallow lists).
func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// splitIntCSV is splitCSV for comma-separated integer lists (e.g. HTTP
// status codes); entries that fail to parse are skipped.
func splitIntCSV(raw string) []int {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []int
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			out = append(out, n)
		}
	}
	return out
}
