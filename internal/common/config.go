package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Queue       QueueConfig      `toml:"queue"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
	Sync        SyncConfig       `toml:"sync"`
	Embedding   EmbeddingConfig  `toml:"embedding"`
	Reconciler  ReconcilerConfig `toml:"reconciler"`
	Metrics     MetricsConfig    `toml:"metrics"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	PollInterval string `toml:"poll_interval"` // e.g., "1s" - how often workers poll for jobs
	Concurrency  int    `toml:"concurrency"`   // Number of concurrent job workers
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// SchedulerConfig controls the cron-driven background schedules.
// All schedules use standard 5-field cron expressions.
type SchedulerConfig struct {
	Enabled              bool   `toml:"enabled"`
	SyncSchedule         string `toml:"sync_schedule"`          // Enqueue cadence for media sync jobs
	EmbeddingSchedule    string `toml:"embedding_schedule"`     // Enqueue cadence for embedding jobs
	ReconcileSchedule    string `toml:"reconcile_schedule"`     // Cadence for stuck-state reconciliation
	RetentionSchedule    string `toml:"retention_schedule"`     // Cadence for result log retention cleanup
	SyncStalenessMinutes int    `toml:"sync_staleness_minutes"` // Skip servers whose sync started within this window
}

// SyncConfig controls outbound requests to media servers.
type SyncConfig struct {
	RequestTimeout      string `toml:"request_timeout"`       // e.g., "30s" - default HTTP timeout
	ItemsRequestTimeout string `toml:"items_request_timeout"` // e.g., "60s" - item listings are larger payloads
	RateLimit           string `toml:"rate_limit"`            // e.g., "100ms" - minimum interval between requests per server
}

// EmbeddingConfig controls the embedding generation run.
type EmbeddingConfig struct {
	BatchSize         int `toml:"batch_size"`          // Items claimed per run (default: 100)
	SubBatchSize      int `toml:"sub_batch_size"`      // Items per provider batch call (default: 20)
	BatchDelayMs      int `toml:"batch_delay_ms"`      // Pause between provider batch calls (default: 500)
	ItemDelayMs       int `toml:"item_delay_ms"`       // Pause between per-item provider calls (default: 100)
	HeartbeatSeconds  int `toml:"heartbeat_seconds"`   // Heartbeat write cadence during a run (default: 30)
	StopCheckItems    int `toml:"stop_check_items"`    // Stop-flag poll cadence in per-item mode (default: 10)
	MaxIndexDimension int `toml:"max_index_dimension"` // Upper bound for vector index dimensions (default: 2000)
}

// ReconcilerConfig controls staleness thresholds for stuck-state cleanup.
type ReconcilerConfig struct {
	SyncStalenessMinutes      int `toml:"sync_staleness_minutes"`      // Server stuck in syncing longer than this -> failed
	ResultStalenessMinutes    int `toml:"result_staleness_minutes"`    // Result stuck in processing longer than this is a candidate
	HeartbeatStalenessMinutes int `toml:"heartbeat_staleness_minutes"` // Heartbeat older than this confirms the run is dead
	RetentionDays             int `toml:"retention_days"`              // Delete result rows older than this
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// NewDefaultConfig creates a configuration with default values.
// Thresholds match the documented recovery semantics; override them in
// specto.toml only when the deployment needs different timings.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval: "1s",
			Concurrency:  4, // Sync pipelines are sequential per server; a small pool is enough
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Scheduler: SchedulerConfig{
			Enabled:              true,
			SyncSchedule:         "*/15 * * * *",
			EmbeddingSchedule:    "*/15 * * * *",
			ReconcileSchedule:    "*/10 * * * *",
			RetentionSchedule:    "0 3 * * *",
			SyncStalenessMinutes: 30,
		},
		Sync: SyncConfig{
			RequestTimeout:      "30s",
			ItemsRequestTimeout: "60s",
			RateLimit:           "100ms",
		},
		Embedding: EmbeddingConfig{
			BatchSize:         100,
			SubBatchSize:      20,
			BatchDelayMs:      500,
			ItemDelayMs:       100,
			HeartbeatSeconds:  30,
			StopCheckItems:    10,
			MaxIndexDimension: 2000,
		},
		Reconciler: ReconcilerConfig{
			SyncStalenessMinutes:      30,
			ResultStalenessMinutes:    10,
			HeartbeatStalenessMinutes: 2,
			RetentionDays:             10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI. Later files override
// earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: SPECTO_ENV, fallback: GO_ENV)
	if env := os.Getenv("SPECTO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("SPECTO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("SPECTO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue configuration
	if pollInterval := os.Getenv("SPECTO_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("SPECTO_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("SPECTO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if reset := os.Getenv("SPECTO_BADGER_RESET_ON_STARTUP"); reset != "" {
		if r, err := strconv.ParseBool(reset); err == nil {
			config.Storage.Badger.ResetOnStartup = r
		}
	}

	// Logging configuration
	if level := os.Getenv("SPECTO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("SPECTO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("SPECTO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Scheduler configuration
	if enabled := os.Getenv("SPECTO_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
	if schedule := os.Getenv("SPECTO_SCHEDULER_SYNC_SCHEDULE"); schedule != "" {
		config.Scheduler.SyncSchedule = schedule
	}
	if schedule := os.Getenv("SPECTO_SCHEDULER_EMBEDDING_SCHEDULE"); schedule != "" {
		config.Scheduler.EmbeddingSchedule = schedule
	}
	if schedule := os.Getenv("SPECTO_SCHEDULER_RECONCILE_SCHEDULE"); schedule != "" {
		config.Scheduler.ReconcileSchedule = schedule
	}
	if schedule := os.Getenv("SPECTO_SCHEDULER_RETENTION_SCHEDULE"); schedule != "" {
		config.Scheduler.RetentionSchedule = schedule
	}
	if staleness := os.Getenv("SPECTO_SCHEDULER_SYNC_STALENESS_MINUTES"); staleness != "" {
		if s, err := strconv.Atoi(staleness); err == nil && s > 0 {
			config.Scheduler.SyncStalenessMinutes = s
		}
	}

	// Sync configuration
	if timeout := os.Getenv("SPECTO_SYNC_REQUEST_TIMEOUT"); timeout != "" {
		config.Sync.RequestTimeout = timeout
	}
	if timeout := os.Getenv("SPECTO_SYNC_ITEMS_REQUEST_TIMEOUT"); timeout != "" {
		config.Sync.ItemsRequestTimeout = timeout
	}
	if rateLimit := os.Getenv("SPECTO_SYNC_RATE_LIMIT"); rateLimit != "" {
		config.Sync.RateLimit = rateLimit
	}

	// Embedding configuration
	if batchSize := os.Getenv("SPECTO_EMBEDDING_BATCH_SIZE"); batchSize != "" {
		if bs, err := strconv.Atoi(batchSize); err == nil && bs > 0 {
			config.Embedding.BatchSize = bs
		}
	}
	if subBatchSize := os.Getenv("SPECTO_EMBEDDING_SUB_BATCH_SIZE"); subBatchSize != "" {
		if sbs, err := strconv.Atoi(subBatchSize); err == nil && sbs > 0 {
			config.Embedding.SubBatchSize = sbs
		}
	}
	if delay := os.Getenv("SPECTO_EMBEDDING_BATCH_DELAY_MS"); delay != "" {
		if d, err := strconv.Atoi(delay); err == nil && d >= 0 {
			config.Embedding.BatchDelayMs = d
		}
	}
	if delay := os.Getenv("SPECTO_EMBEDDING_ITEM_DELAY_MS"); delay != "" {
		if d, err := strconv.Atoi(delay); err == nil && d >= 0 {
			config.Embedding.ItemDelayMs = d
		}
	}
	if heartbeat := os.Getenv("SPECTO_EMBEDDING_HEARTBEAT_SECONDS"); heartbeat != "" {
		if h, err := strconv.Atoi(heartbeat); err == nil && h > 0 {
			config.Embedding.HeartbeatSeconds = h
		}
	}
	if stopCheck := os.Getenv("SPECTO_EMBEDDING_STOP_CHECK_ITEMS"); stopCheck != "" {
		if sc, err := strconv.Atoi(stopCheck); err == nil && sc > 0 {
			config.Embedding.StopCheckItems = sc
		}
	}
	if maxDim := os.Getenv("SPECTO_EMBEDDING_MAX_INDEX_DIMENSION"); maxDim != "" {
		if md, err := strconv.Atoi(maxDim); err == nil && md > 0 {
			config.Embedding.MaxIndexDimension = md
		}
	}

	// Reconciler configuration
	if staleness := os.Getenv("SPECTO_RECONCILER_SYNC_STALENESS_MINUTES"); staleness != "" {
		if s, err := strconv.Atoi(staleness); err == nil && s > 0 {
			config.Reconciler.SyncStalenessMinutes = s
		}
	}
	if staleness := os.Getenv("SPECTO_RECONCILER_RESULT_STALENESS_MINUTES"); staleness != "" {
		if s, err := strconv.Atoi(staleness); err == nil && s > 0 {
			config.Reconciler.ResultStalenessMinutes = s
		}
	}
	if staleness := os.Getenv("SPECTO_RECONCILER_HEARTBEAT_STALENESS_MINUTES"); staleness != "" {
		if s, err := strconv.Atoi(staleness); err == nil && s > 0 {
			config.Reconciler.HeartbeatStalenessMinutes = s
		}
	}
	if retention := os.Getenv("SPECTO_RECONCILER_RETENTION_DAYS"); retention != "" {
		if r, err := strconv.Atoi(retention); err == nil && r > 0 {
			config.Reconciler.RetentionDays = r
		}
	}

	// Metrics configuration
	if enabled := os.Getenv("SPECTO_METRICS_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Metrics.Enabled = e
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// parseDurationOr parses a duration string, falling back to def on empty or invalid input.
func parseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// PollIntervalDuration returns the worker poll interval as a duration.
func (q *QueueConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(q.PollInterval, time.Second)
}

// RequestTimeoutDuration returns the default media server request timeout.
func (s *SyncConfig) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(s.RequestTimeout, 30*time.Second)
}

// ItemsRequestTimeoutDuration returns the extended timeout for item listings.
func (s *SyncConfig) ItemsRequestTimeoutDuration() time.Duration {
	return parseDurationOr(s.ItemsRequestTimeout, 60*time.Second)
}

// RateLimitDuration returns the minimum interval between media server requests.
func (s *SyncConfig) RateLimitDuration() time.Duration {
	return parseDurationOr(s.RateLimit, 100*time.Millisecond)
}

// SyncStaleness returns the window during which a started sync blocks re-enqueue.
func (s *SchedulerConfig) SyncStaleness() time.Duration {
	if s.SyncStalenessMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.SyncStalenessMinutes) * time.Minute
}

// BatchDelay returns the pause between provider batch calls.
func (e *EmbeddingConfig) BatchDelay() time.Duration {
	return time.Duration(e.BatchDelayMs) * time.Millisecond
}

// ItemDelay returns the pause between per-item provider calls.
func (e *EmbeddingConfig) ItemDelay() time.Duration {
	return time.Duration(e.ItemDelayMs) * time.Millisecond
}

// HeartbeatInterval returns the heartbeat write cadence for embedding runs.
func (e *EmbeddingConfig) HeartbeatInterval() time.Duration {
	if e.HeartbeatSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.HeartbeatSeconds) * time.Second
}

// SyncStaleness returns how long a server may sit in syncing before reconciliation.
func (r *ReconcilerConfig) SyncStaleness() time.Duration {
	if r.SyncStalenessMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(r.SyncStalenessMinutes) * time.Minute
}

// ResultStaleness returns how long a result may sit in processing before it is a cleanup candidate.
func (r *ReconcilerConfig) ResultStaleness() time.Duration {
	if r.ResultStalenessMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(r.ResultStalenessMinutes) * time.Minute
}

// HeartbeatStaleness returns how old a heartbeat may be before the run counts as dead.
func (r *ReconcilerConfig) HeartbeatStaleness() time.Duration {
	if r.HeartbeatStalenessMinutes <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(r.HeartbeatStalenessMinutes) * time.Minute
}

// Retention returns the result log retention window.
func (r *ReconcilerConfig) Retention() time.Duration {
	if r.RetentionDays <= 0 {
		return 10 * 24 * time.Hour
	}
	return time.Duration(r.RetentionDays) * 24 * time.Hour
}

// ValidateJobSchedule validates a cron schedule expression and ensures minimum 5-minute interval
func ValidateJobSchedule(schedule string) error {
	// Parse the cron expression
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	// Check for minimum 5-minute interval
	// Validate minute field (first field in standard cron)
	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]

	// Check for patterns that violate 5-minute minimum
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

	// Check for */n patterns where n < 5
	if strings.HasPrefix(minuteField, "*/") {
		intervalStr := strings.TrimPrefix(minuteField, "*/")
		interval, err := strconv.Atoi(intervalStr)
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
