package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	if config.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", config.Server.Port)
	}
	if config.Queue.Concurrency != 4 {
		t.Errorf("expected default concurrency 4, got %d", config.Queue.Concurrency)
	}
	if config.Embedding.BatchSize != 100 {
		t.Errorf("expected default batch size 100, got %d", config.Embedding.BatchSize)
	}
	if config.Embedding.SubBatchSize != 20 {
		t.Errorf("expected default sub-batch size 20, got %d", config.Embedding.SubBatchSize)
	}
	if config.Reconciler.RetentionDays != 10 {
		t.Errorf("expected default retention 10 days, got %d", config.Reconciler.RetentionDays)
	}
	if !config.Scheduler.Enabled {
		t.Error("expected scheduler enabled by default")
	}
	if config.IsProduction() {
		t.Error("default environment should not be production")
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "specto.toml")

	content := `
environment = "production"

[server]
port = 9090

[embedding]
batch_size = 50
sub_batch_size = 5

[reconciler]
retention_days = 30
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Server.Port != 9090 {
		t.Errorf("expected port 9090 from file, got %d", config.Server.Port)
	}
	if config.Embedding.BatchSize != 50 {
		t.Errorf("expected batch size 50 from file, got %d", config.Embedding.BatchSize)
	}
	if config.Embedding.SubBatchSize != 5 {
		t.Errorf("expected sub-batch size 5 from file, got %d", config.Embedding.SubBatchSize)
	}
	if config.Reconciler.RetentionDays != 30 {
		t.Errorf("expected retention 30 days from file, got %d", config.Reconciler.RetentionDays)
	}
	if !config.IsProduction() {
		t.Error("expected production environment from file")
	}

	// Untouched sections keep their defaults
	if config.Queue.Concurrency != 4 {
		t.Errorf("expected default concurrency 4, got %d", config.Queue.Concurrency)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPECTO_SERVER_PORT", "7070")
	t.Setenv("SPECTO_EMBEDDING_HEARTBEAT_SECONDS", "15")
	t.Setenv("SPECTO_RECONCILER_SYNC_STALENESS_MINUTES", "45")
	t.Setenv("SPECTO_SCHEDULER_ENABLED", "false")

	config, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if config.Server.Port != 7070 {
		t.Errorf("expected port 7070 from env, got %d", config.Server.Port)
	}
	if config.Embedding.HeartbeatSeconds != 15 {
		t.Errorf("expected heartbeat 15s from env, got %d", config.Embedding.HeartbeatSeconds)
	}
	if config.Reconciler.SyncStaleness() != 45*time.Minute {
		t.Errorf("expected sync staleness 45m from env, got %v", config.Reconciler.SyncStaleness())
	}
	if config.Scheduler.Enabled {
		t.Error("expected scheduler disabled from env")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, 6060, "0.0.0.0")
	if config.Server.Port != 6060 {
		t.Errorf("expected port 6060 from flags, got %d", config.Server.Port)
	}
	if config.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0 from flags, got %s", config.Server.Host)
	}

	// Zero values leave config untouched
	ApplyFlagOverrides(config, 0, "")
	if config.Server.Port != 6060 || config.Server.Host != "0.0.0.0" {
		t.Error("zero flag values must not override config")
	}
}

func TestDurationAccessorsFallBackOnInvalid(t *testing.T) {
	config := NewDefaultConfig()
	config.Queue.PollInterval = "not-a-duration"
	config.Sync.RequestTimeout = ""
	config.Embedding.HeartbeatSeconds = 0
	config.Reconciler.ResultStalenessMinutes = -1

	if got := config.Queue.PollIntervalDuration(); got != time.Second {
		t.Errorf("expected 1s fallback for poll interval, got %v", got)
	}
	if got := config.Sync.RequestTimeoutDuration(); got != 30*time.Second {
		t.Errorf("expected 30s fallback for request timeout, got %v", got)
	}
	if got := config.Embedding.HeartbeatInterval(); got != 30*time.Second {
		t.Errorf("expected 30s fallback for heartbeat, got %v", got)
	}
	if got := config.Reconciler.ResultStaleness(); got != 10*time.Minute {
		t.Errorf("expected 10m fallback for result staleness, got %v", got)
	}
}

func TestValidateJobSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"every 15 minutes", "*/15 * * * *", false},
		{"every 5 minutes", "*/5 * * * *", false},
		{"daily at 3am", "0 3 * * *", false},
		{"hourly on the half hour", "30 * * * *", false},
		{"every minute rejected", "* * * * *", true},
		{"every 2 minutes rejected", "*/2 * * * *", true},
		{"too few fields", "*/10 * *", true},
		{"garbage", "often", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJobSchedule(tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateJobSchedule(%q) error = %v, wantErr %v", tt.schedule, err, tt.wantErr)
			}
		})
	}
}
