// Package config loads the engine configuration the way the teacher's
// utils/config does: a sync.Once singleton seeded from a JSON file on
// disk, falling back to defaults when the file is missing or invalid.
// Every field is additionally overridable by an environment variable
// using double-underscore nesting, e.g. HUNDDB__CACHE__CAPACITY.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Config holds every tunable named in spec.md section 6.
type Config struct {
	Blockfile struct {
		MaxBlockSizeBytes      uint64 `json:"max_block_size_bytes"`
		NumConcurrentFlushes   int    `json:"num_concurrent_block_flushes"`
	} `json:"blockfile"`

	Sparse struct {
		BlockSize uint64 `json:"block_size"`
	} `json:"sparse"`

	Cache struct {
		Capacity            int64   `json:"capacity"`
		MemShards           int     `json:"mem_shards"`
		DiskMiB             int64   `json:"disk_mib"`
		FileSizeMiB         int64   `json:"file_size_mib"`
		Flushers            int     `json:"flushers"`
		Fsync               bool    `json:"fsync"`
		Reclaimers          int     `json:"reclaimers"`
		RecoverConcurrency  int     `json:"recover_concurrency"`
		DeterministicHash   bool    `json:"deterministic_hashing"`
		AdmissionRateLimit  int64   `json:"admission_rate_limit_mib_s"`
		Eviction            string  `json:"eviction"` // lru|lfu|fifo|s3fifo
		InvalidRatio        float64 `json:"invalid_ratio"`
		TraceInsertUs       int64   `json:"trace_insert_us"`
		TraceGetUs          int64   `json:"trace_get_us"`
		TraceObtainUs       int64   `json:"trace_obtain_us"`
		TraceRemoveUs       int64   `json:"trace_remove_us"`
		TraceFetchUs        int64   `json:"trace_fetch_us"`
	} `json:"cache"`

	Compaction struct {
		PollIntervalMs           int64  `json:"poll_interval_ms"`
		MaxEncodingMessageSize   int    `json:"max_encoding_message_size"`
		MaxDecodingMessageSize   int    `json:"max_decoding_message_size"`
		GRPCShutdownGracePeriod  int64  `json:"grpc_shutdown_grace_period_ms"`
		MinVersionsToKeep        int    `json:"min_versions_to_keep"`
	} `json:"compaction"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton config instance.
func Get() *Config {
	once.Do(func() {
		instance = load()
	})
	return instance
}

func load() *Config {
	cfg := defaults()

	_, filename, _, _ := runtime.Caller(0)
	configPath := filepath.Join(filepath.Dir(filename), "app.json")

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			log.Warn().Err(err).Str("path", configPath).Msg("config: failed to parse app.json, using defaults")
		}
	}

	overlayEnv(cfg, "HUNDDB", reflectFields(cfg))

	return cfg
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Blockfile.MaxBlockSizeBytes = 1 << 20 // 1MiB
	cfg.Blockfile.NumConcurrentFlushes = 8

	cfg.Sparse.BlockSize = 1024

	cfg.Cache.Capacity = 1 << 30 // 1GiB weighted units
	cfg.Cache.MemShards = 16
	cfg.Cache.DiskMiB = 0 // disk tier disabled by default
	cfg.Cache.FileSizeMiB = 64
	cfg.Cache.Flushers = 4
	cfg.Cache.Fsync = false
	cfg.Cache.Reclaimers = 4
	cfg.Cache.RecoverConcurrency = 8
	cfg.Cache.DeterministicHash = true
	cfg.Cache.AdmissionRateLimit = 0 // unlimited
	cfg.Cache.Eviction = "s3fifo"
	cfg.Cache.InvalidRatio = 0.6

	cfg.Compaction.PollIntervalMs = 1000
	cfg.Compaction.MaxEncodingMessageSize = 32 << 20
	cfg.Compaction.MaxDecodingMessageSize = 32 << 20
	cfg.Compaction.GRPCShutdownGracePeriod = 5000
	cfg.Compaction.MinVersionsToKeep = 2

	return cfg
}

// overlayEnv walks the SECTION__FIELD path -> settable function map produced by
// reflectFields and applies any matching HUNDDB__SECTION__FIELD env var.
func overlayEnv(cfg *Config, prefix string, fields map[string]func(string)) {
	for path, set := range fields {
		key := prefix + "__" + strings.ToUpper(path)
		if v, ok := os.LookupEnv(key); ok {
			set(v)
		}
	}
}

// reflectFields enumerates the overridable leaf settings by explicit
// name rather than struct-tag reflection, matching the teacher's
// explicit (non-reflective) validateConfig style.
func reflectFields(cfg *Config) map[string]func(string) {
	setUint64 := func(dst *uint64) func(string) {
		return func(v string) {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	setInt64 := func(dst *int64) func(string) {
		return func(v string) {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	setInt := func(dst *int) func(string) {
		return func(v string) {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(dst *bool) func(string) {
		return func(v string) {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setFloat := func(dst *float64) func(string) {
		return func(v string) {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setString := func(dst *string) func(string) {
		return func(v string) { *dst = v }
	}

	return map[string]func(string){
		"BLOCKFILE__MAX_BLOCK_SIZE_BYTES":     setUint64(&cfg.Blockfile.MaxBlockSizeBytes),
		"BLOCKFILE__NUM_CONCURRENT_FLUSHES":   setInt(&cfg.Blockfile.NumConcurrentFlushes),
		"SPARSE__BLOCK_SIZE":                  setUint64(&cfg.Sparse.BlockSize),
		"CACHE__CAPACITY":                     setInt64(&cfg.Cache.Capacity),
		"CACHE__MEM_SHARDS":                   setInt(&cfg.Cache.MemShards),
		"CACHE__DISK_MIB":                     setInt64(&cfg.Cache.DiskMiB),
		"CACHE__FILE_SIZE_MIB":                setInt64(&cfg.Cache.FileSizeMiB),
		"CACHE__FLUSHERS":                     setInt(&cfg.Cache.Flushers),
		"CACHE__FSYNC":                        setBool(&cfg.Cache.Fsync),
		"CACHE__RECLAIMERS":                   setInt(&cfg.Cache.Reclaimers),
		"CACHE__RECOVER_CONCURRENCY":          setInt(&cfg.Cache.RecoverConcurrency),
		"CACHE__DETERMINISTIC_HASHING":        setBool(&cfg.Cache.DeterministicHash),
		"CACHE__ADMISSION_RATE_LIMIT":         setInt64(&cfg.Cache.AdmissionRateLimit),
		"CACHE__EVICTION":                     setString(&cfg.Cache.Eviction),
		"CACHE__INVALID_RATIO":                setFloat(&cfg.Cache.InvalidRatio),
		"CACHE__TRACE_INSERT_US":              setInt64(&cfg.Cache.TraceInsertUs),
		"CACHE__TRACE_GET_US":                 setInt64(&cfg.Cache.TraceGetUs),
		"CACHE__TRACE_OBTAIN_US":              setInt64(&cfg.Cache.TraceObtainUs),
		"CACHE__TRACE_REMOVE_US":              setInt64(&cfg.Cache.TraceRemoveUs),
		"CACHE__TRACE_FETCH_US":               setInt64(&cfg.Cache.TraceFetchUs),
		"COMPACTION__POLL_INTERVAL_MS":        setInt64(&cfg.Compaction.PollIntervalMs),
		"COMPACTION__MAX_ENCODING_MESSAGE_SIZE": setInt(&cfg.Compaction.MaxEncodingMessageSize),
		"COMPACTION__MAX_DECODING_MESSAGE_SIZE": setInt(&cfg.Compaction.MaxDecodingMessageSize),
		"COMPACTION__GRPC_SHUTDOWN_GRACE_PERIOD_MS": setInt64(&cfg.Compaction.GRPCShutdownGracePeriod),
		"COMPACTION__MIN_VERSIONS_TO_KEEP":    setInt(&cfg.Compaction.MinVersionsToKeep),
	}
}
