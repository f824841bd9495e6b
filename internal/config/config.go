// Package config loads the pipeline configuration: a YAML file with
// defaults, overridable by environment variables. The resulting Config
// is explicit and passed into constructors; nothing reads the
// environment after load time.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full pipeline configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Journal JournalConfig `yaml:"journal"`
	Queue   QueueConfig   `yaml:"queue"`
	Agent   AgentConfig   `yaml:"agent"`
	Worker  WorkerConfig  `yaml:"worker"`
	Log     LogConfig     `yaml:"log"`
}

// StoreConfig selects and parameterizes the entity store backend.
type StoreConfig struct {
	// Backend is "sqlite" or "dynamodb".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Table   string `yaml:"table"`
	Region  string `yaml:"region"`
}

// JournalConfig selects and parameterizes the durable log backend.
type JournalConfig struct {
	// Backend is "sqlite" or "s3".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
}

// QueueConfig selects and parameterizes the work queue backend. The
// SQS backend needs one queue per work-item kind so the processor and
// the dispatcher never poll each other's items.
type QueueConfig struct {
	// Backend is "sqlite" or "sqs".
	Backend         string   `yaml:"backend"`
	Path            string   `yaml:"path"`
	ProcessQueueURL string   `yaml:"process_queue_url"`
	RespondQueueURL string   `yaml:"respond_queue_url"`
	DeadLetterURL   string   `yaml:"dead_letter_url"`
	Region          string   `yaml:"region"`
	MaxReceiveCount int      `yaml:"max_receive_count"`
	Visibility      Duration `yaml:"visibility"`
}

// AgentConfig parameterizes the model invoker.
type AgentConfig struct {
	// APIKey is usually left empty in the file and supplied via the
	// ANTHROPIC_API_KEY environment variable.
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

// WorkerConfig parameterizes the processing loop.
type WorkerConfig struct {
	// MaxAttempts is the transient retry budget per agent call.
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     Duration `yaml:"backoff"`
	Concurrency int      `yaml:"concurrency"`
}

// LogConfig parameterizes structured logging.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given: pure
// SQLite under dir, logging at info.
func Default(dir string) Config {
	return Config{
		Store:   StoreConfig{Backend: "sqlite", Path: dir + "/entities.db"},
		Journal: JournalConfig{Backend: "sqlite", Path: dir + "/journal.db"},
		Queue: QueueConfig{
			Backend:    "sqlite",
			Path:       dir + "/queue.db",
			Visibility: Duration(30 * time.Second),
		},
		Agent: AgentConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 2048,
		},
		Worker: WorkerConfig{
			MaxAttempts: 3,
			Backoff:     Duration(500 * time.Millisecond),
			Concurrency: 1,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults for dir, then
// applies environment overrides. An empty path skips the file.
func Load(path, dir string) (Config, error) {
	cfg := Default(dir)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true) // Reject unknown fields
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv layers well-known environment variables over the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Agent.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv("ANTHROPIC_BASE_URL"); v != "" {
		cfg.Agent.BaseURL = v
	}
	if v := os.Getenv("SECONDBRAIN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SECONDBRAIN_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
}

// Validate rejects configurations that cannot be wired.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store: sqlite backend requires path")
		}
	case "dynamodb":
		if c.Store.Table == "" {
			return fmt.Errorf("store: dynamodb backend requires table")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}

	switch c.Journal.Backend {
	case "sqlite":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal: sqlite backend requires path")
		}
	case "s3":
		if c.Journal.Bucket == "" {
			return fmt.Errorf("journal: s3 backend requires bucket")
		}
	default:
		return fmt.Errorf("journal: unknown backend %q", c.Journal.Backend)
	}

	switch c.Queue.Backend {
	case "sqlite":
		if c.Queue.Path == "" {
			return fmt.Errorf("queue: sqlite backend requires path")
		}
	case "sqs":
		if c.Queue.ProcessQueueURL == "" {
			return fmt.Errorf("queue: sqs backend requires process_queue_url")
		}
		if c.Queue.RespondQueueURL == "" {
			return fmt.Errorf("queue: sqs backend requires respond_queue_url")
		}
	default:
		return fmt.Errorf("queue: unknown backend %q", c.Queue.Backend)
	}

	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker: max_attempts must be at least 1")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker: concurrency must be at least 1")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	return nil
}
