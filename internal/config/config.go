// Package config loads sequencer runtime tunables from environment
// variables, applying validated defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default address the sequencer's WebSocket front door listens on.
	DefaultAddr = ":47322"

	// DefaultEventWriteBatchMax bounds how many events Stage F persists per batch.
	DefaultEventWriteBatchMax = 256
	// DefaultPayloadWriteBatchMax bounds how many payloads Stage C persists per batch.
	DefaultPayloadWriteBatchMax = 256
	// DefaultPayloadToEventMargin is the maximum permitted gap between payload
	// persistence and event timestamp assignment.
	DefaultPayloadToEventMargin = time.Minute
	// DefaultKeepAliveInterval is how often the pipeline issues a
	// watermark-only keep-alive tick, whether or not submissions are
	// arriving. Zero disables keep-alive.
	DefaultKeepAliveInterval = 10 * time.Second
	// DefaultCheckpointInterval bounds how often subscribers re-poll the
	// store as a fallback against a missed EventSignaller notification.
	DefaultCheckpointInterval = 5 * time.Second
	// DefaultTotalNodeCount is the HA fleet size InstanceIndex must fall
	// within; it bounds instance slots, not the counter sequence itself.
	DefaultTotalNodeCount = 1
	// DefaultIntakeQueueCapacity bounds Stage A's buffered intake channel.
	DefaultIntakeQueueCapacity = 1024

	// DefaultLogLevel controls verbosity for sequencer logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "sequencer.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultStoreDir is where the durable file store persists its segments.
	DefaultStoreDir = "sequencer-data"
)

// Config captures all runtime tunables for the sequencer process.
type Config struct {
	Address string

	EventWriteBatchMax   int
	PayloadWriteBatchMax int
	PayloadToEventMargin time.Duration
	KeepAliveInterval    time.Duration
	CheckpointInterval   time.Duration
	TotalNodeCount       int
	IntakeQueueCapacity  int

	StoreDir   string
	HMACSecret string

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the sequencer configuration from environment variables,
// applying sane defaults and returning descriptive errors for invalid
// overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:              getString("SEQ_ADDR", DefaultAddr),
		EventWriteBatchMax:   DefaultEventWriteBatchMax,
		PayloadWriteBatchMax: DefaultPayloadWriteBatchMax,
		PayloadToEventMargin: DefaultPayloadToEventMargin,
		KeepAliveInterval:    DefaultKeepAliveInterval,
		CheckpointInterval:   DefaultCheckpointInterval,
		TotalNodeCount:       DefaultTotalNodeCount,
		IntakeQueueCapacity:  DefaultIntakeQueueCapacity,
		StoreDir:             getString("SEQ_STORE_DIR", DefaultStoreDir),
		HMACSecret:           strings.TrimSpace(os.Getenv("SEQ_HMAC_SECRET")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("SEQ_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("SEQ_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("SEQ_EVENT_BATCH_MAX")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SEQ_EVENT_BATCH_MAX must be a positive integer, got %q", raw))
		} else {
			cfg.EventWriteBatchMax = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SEQ_PAYLOAD_BATCH_MAX")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SEQ_PAYLOAD_BATCH_MAX must be a positive integer, got %q", raw))
		} else {
			cfg.PayloadWriteBatchMax = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SEQ_PAYLOAD_TO_EVENT_MARGIN")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("SEQ_PAYLOAD_TO_EVENT_MARGIN must be a positive duration, got %q", raw))
		} else {
			cfg.PayloadToEventMargin = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SEQ_KEEPALIVE_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("SEQ_KEEPALIVE_INTERVAL must be a non-negative duration, got %q", raw))
		} else {
			cfg.KeepAliveInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SEQ_CHECKPOINT_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("SEQ_CHECKPOINT_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.CheckpointInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SEQ_TOTAL_NODE_COUNT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SEQ_TOTAL_NODE_COUNT must be a positive integer, got %q", raw))
		} else {
			cfg.TotalNodeCount = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SEQ_INTAKE_QUEUE_CAPACITY")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SEQ_INTAKE_QUEUE_CAPACITY must be a positive integer, got %q", raw))
		} else {
			cfg.IntakeQueueCapacity = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SEQ_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SEQ_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SEQ_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("SEQ_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SEQ_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("SEQ_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SEQ_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("SEQ_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
