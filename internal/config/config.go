package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all autocom configuration. Every algorithm tunable is
// supplied here; nothing is hardcoded inside the analyzers.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Inference     InferenceConfig     `yaml:"inference"`
	Bus           BusConfig           `yaml:"bus"`
	Scoring       ScoringConfig       `yaml:"scoring"`
	Learning      LearningConfig      `yaml:"learning"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Clustering    ClusteringConfig    `yaml:"clustering"`
	Digest        DigestConfig        `yaml:"digest"`
	Context       ContextConfig       `yaml:"context"`
	Storage       StorageConfig       `yaml:"storage"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// InferenceConfig configures the external inference engine client.
type InferenceConfig struct {
	Enabled             bool    `yaml:"enabled"`
	BaseURL             string  `yaml:"base_url"`
	Model               string  `yaml:"model"`
	Timeout             string  `yaml:"timeout"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"` // below this, heuristic fallback
}

// BusConfig configures the event bus.
type BusConfig struct {
	QueueSize     int    `yaml:"queue_size"`
	PublishPolicy string `yaml:"publish_policy"` // block or reject
}

// ScoringConfig configures the priority scorer.
type ScoringConfig struct {
	SenderFactor  float64 `yaml:"sender_factor"`  // weight of learned sender weight
	UrgencyFactor float64 `yaml:"urgency_factor"` // weight of urgency sub-score
	RecencyFactor float64 `yaml:"recency_factor"` // weight of freshness term
	DecayLambda   float64 `yaml:"decay_lambda"`   // per-hour decay on sender term
}

// LearningConfig configures the learning engine.
type LearningConfig struct {
	SmoothingFactor  float64 `yaml:"smoothing_factor"`  // EMA alpha
	DecayFactor      float64 `yaml:"decay_factor"`      // per-day multiplier for idle senders
	MinWeight        float64 `yaml:"min_weight"`        // decay floor, never zero
	PatternThreshold int     `yaml:"pattern_threshold"` // interactions before a pattern flags
	ThresholdStep    int     `yaml:"threshold_step"`    // adjustment per feedback signal
}

// NotificationsConfig configures the notification scheduler.
type NotificationsConfig struct {
	QuietHoursStart string `yaml:"quiet_hours_start"` // "22:00"
	QuietHoursEnd   string `yaml:"quiet_hours_end"`   // "08:00"
	BatchWindow     string `yaml:"batch_window"`      // sliding batch window
	RateLimitCount  int    `yaml:"rate_limit_count"`  // max per rolling interval
	RateLimitWindow string `yaml:"rate_limit_window"`
	UrgentOverride  bool   `yaml:"urgent_override"`
}

// ClusteringConfig configures the message clusterer.
type ClusteringConfig struct {
	Threshold float64 `yaml:"threshold"` // join threshold in [0,1]
}

// DigestConfig configures the digest generator.
type DigestConfig struct {
	MaxSentences        int     `yaml:"max_sentences"`
	RedundancyThreshold float64 `yaml:"redundancy_threshold"`
}

// ContextConfig configures the context matcher.
type ContextConfig struct {
	MatchLimit  int     `yaml:"match_limit"`
	DecayLambda float64 `yaml:"decay_lambda"` // per-hour recency decay
}

// StorageConfig configures the repository.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	Retention    string `yaml:"retention"` // prune records older than this
}

// JobsConfig holds cron expressions for periodic maintenance.
type JobsConfig struct {
	DecaySchedule  string `yaml:"decay_schedule"`
	DigestSchedule string `yaml:"digest_schedule"`
	PruneSchedule  string `yaml:"prune_schedule"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	Dir       string `yaml:"dir"`
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "autocom",
		Version: "0.3.0",

		Inference: InferenceConfig{
			Enabled:             true,
			BaseURL:             "http://localhost:11434/v1",
			Model:               "llama3.2",
			Timeout:             "15s",
			ConfidenceThreshold: 0.7,
		},
		Bus: BusConfig{
			QueueSize:     1000,
			PublishPolicy: "block",
		},
		Scoring: ScoringConfig{
			SenderFactor:  40,
			UrgencyFactor: 45,
			RecencyFactor: 15,
			DecayLambda:   0.01,
		},
		Learning: LearningConfig{
			SmoothingFactor:  0.3,
			DecayFactor:      0.98,
			MinWeight:        0.1,
			PatternThreshold: 5,
			ThresholdStep:    1,
		},
		Notifications: NotificationsConfig{
			QuietHoursStart: "22:00",
			QuietHoursEnd:   "08:00",
			BatchWindow:     "120s",
			RateLimitCount:  10,
			RateLimitWindow: "5m",
			UrgentOverride:  true,
		},
		Clustering: ClusteringConfig{
			Threshold: 0.55,
		},
		Digest: DigestConfig{
			MaxSentences:        8,
			RedundancyThreshold: 0.8,
		},
		Context: ContextConfig{
			MatchLimit:  5,
			DecayLambda: 0.05,
		},
		Storage: StorageConfig{
			DatabasePath: "data/autocom.db",
			Retention:    "720h", // 30 days
		},
		Jobs: JobsConfig{
			DecaySchedule:  "0 3 * * *",
			DigestSchedule: "0 8 * * *",
			PruneSchedule:  "30 3 * * *",
		},
		Logging: LoggingConfig{
			Dir:       "data/logs",
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults
// when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("AUTOCOM_INFERENCE_URL"); url != "" {
		c.Inference.BaseURL = url
	}
	if model := os.Getenv("AUTOCOM_INFERENCE_MODEL"); model != "" {
		c.Inference.Model = model
	}
	if path := os.Getenv("AUTOCOM_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if dir := os.Getenv("AUTOCOM_LOG_DIR"); dir != "" {
		c.Logging.Dir = dir
	}
	if os.Getenv("AUTOCOM_DEBUG") == "1" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// GetInferenceTimeout returns the inference timeout as a duration.
func (c *Config) GetInferenceTimeout() time.Duration {
	d, err := time.ParseDuration(c.Inference.Timeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetBatchWindow returns the notification batch window as a duration.
func (c *Config) GetBatchWindow() time.Duration {
	d, err := time.ParseDuration(c.Notifications.BatchWindow)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// GetRateLimitWindow returns the rolling rate-limit interval.
func (c *Config) GetRateLimitWindow() time.Duration {
	d, err := time.ParseDuration(c.Notifications.RateLimitWindow)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetRetention returns the record retention window.
func (c *Config) GetRetention() time.Duration {
	d, err := time.ParseDuration(c.Storage.Retention)
	if err != nil {
		return 30 * 24 * time.Hour
	}
	return d
}

// ClockTime is a time-of-day value parsed from "HH:MM".
type ClockTime struct {
	Hour   int
	Minute int
}

// Minutes returns the minute offset from midnight.
func (ct ClockTime) Minutes() int { return ct.Hour*60 + ct.Minute }

// ParseClock parses a "HH:MM" string.
func ParseClock(s string) (ClockTime, error) {
	var ct ClockTime
	if _, err := fmt.Sscanf(s, "%d:%d", &ct.Hour, &ct.Minute); err != nil {
		return ct, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if ct.Hour < 0 || ct.Hour > 23 || ct.Minute < 0 || ct.Minute > 59 {
		return ct, fmt.Errorf("clock time %q out of range", s)
	}
	return ct, nil
}

// QuietHours returns the parsed quiet-hours window.
func (c *Config) QuietHours() (start, end ClockTime, err error) {
	start, err = ParseClock(c.Notifications.QuietHoursStart)
	if err != nil {
		return
	}
	end, err = ParseClock(c.Notifications.QuietHoursEnd)
	return
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Bus.PublishPolicy != "block" && c.Bus.PublishPolicy != "reject" {
		return fmt.Errorf("invalid bus publish_policy: %s (valid: block, reject)", c.Bus.PublishPolicy)
	}
	if c.Bus.QueueSize <= 0 {
		return fmt.Errorf("bus queue_size must be positive")
	}
	if a := c.Learning.SmoothingFactor; a <= 0 || a > 1 {
		return fmt.Errorf("learning smoothing_factor must be in (0,1], got %v", a)
	}
	if w := c.Learning.MinWeight; w < 0 || w > 1 {
		return fmt.Errorf("learning min_weight must be in [0,1], got %v", w)
	}
	if th := c.Clustering.Threshold; th < 0 || th > 1 {
		return fmt.Errorf("clustering threshold must be in [0,1], got %v", th)
	}
	if th := c.Digest.RedundancyThreshold; th < 0 || th > 1 {
		return fmt.Errorf("digest redundancy_threshold must be in [0,1], got %v", th)
	}
	if c.Notifications.RateLimitCount <= 0 {
		return fmt.Errorf("notifications rate_limit_count must be positive")
	}
	if _, _, err := c.QuietHours(); err != nil {
		return err
	}
	return nil
}
