package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// conf holds the active configuration. It is swapped wholesale on hot reload.
var conf atomic.Pointer[Config]

// Config struct is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Proctoring ProctoringConfig `mapstructure:"proctoring"`
	Evidence   EvidenceConfig   `mapstructure:"evidence"`
	Objects    ObjectsConfig    `mapstructure:"objects"`
	Perception PerceptionConfig `mapstructure:"perception"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Review     ReviewConfig     `mapstructure:"review"`
	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat"`
}

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Port               string `mapstructure:"port"`
	SessionSecret      string `mapstructure:"session_secret"`
	StartRatePerMinute uint   `mapstructure:"start_rate_per_minute"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// LoggingConfig holds settings for the logger.
type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// ProctoringConfig holds the gaze pipeline tuning. The multiplier and the
// debounce fractions are empirical and should be calibrated against real data.
type ProctoringConfig struct {
	CalibrationFrames int           `mapstructure:"calibration_frames"`
	BaselineWindow    int           `mapstructure:"baseline_window"`
	LeftMultiplier    float64       `mapstructure:"left_multiplier"`
	SmoothingAlpha    float64       `mapstructure:"smoothing_alpha"`
	AwayThreshold     float64       `mapstructure:"away_threshold"`
	BufferCapacity    int           `mapstructure:"buffer_capacity"`
	EntryWindow       time.Duration `mapstructure:"entry_window"`
	EntryFraction     float64       `mapstructure:"entry_fraction"`
	ExitWindow        time.Duration `mapstructure:"exit_window"`
	ExitFraction      float64       `mapstructure:"exit_fraction"`
	SuspiciousAfter   time.Duration `mapstructure:"suspicious_after"`
	CheatingAfter     time.Duration `mapstructure:"cheating_after"`
}

// EvidenceConfig holds the screenshot retention policy.
type EvidenceConfig struct {
	Directory     string  `mapstructure:"directory"`
	TopK          int     `mapstructure:"top_k"`
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// ObjectsConfig holds forbidden-object detection settings.
type ObjectsConfig struct {
	CatalogFile   string        `mapstructure:"catalog_file"`
	MinConfidence float64       `mapstructure:"min_confidence"`
	Dwell         time.Duration `mapstructure:"dwell"`
	DedupLimit    int           `mapstructure:"dedup_limit"`
}

// PerceptionConfig points at the external model worker.
type PerceptionConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// MQTTConfig holds event publication settings. An empty broker disables publishing.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

// ReviewConfig protects the evidence endpoints. TokenHash is a bcrypt hash.
type ReviewConfig struct {
	TokenHash string `mapstructure:"token_hash"`
}

// HeartbeatConfig controls the client liveness watchdog.
type HeartbeatConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
}

// setDefaults sets the default values for the configuration.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.session_secret", "change-me-in-production")
	v.SetDefault("server.start_rate_per_minute", 10)

	// Database defaults
	v.SetDefault("database.host", "db")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "user")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.dbname", "proctor-db")

	// Logging defaults
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.max_size", 10)   // 10 MB
	v.SetDefault("logging.max_backups", 3) // Keep 3 backups
	v.SetDefault("logging.max_age", 7)     // 7 days
	v.SetDefault("logging.compress", true) // Compress old logs

	// Proctoring defaults
	v.SetDefault("proctoring.calibration_frames", 90) // ~3 seconds at 30fps
	v.SetDefault("proctoring.baseline_window", 30)
	v.SetDefault("proctoring.left_multiplier", 1.5)
	v.SetDefault("proctoring.smoothing_alpha", 0.8)
	v.SetDefault("proctoring.away_threshold", 5.0)
	v.SetDefault("proctoring.buffer_capacity", 60)
	v.SetDefault("proctoring.entry_window", time.Second)
	v.SetDefault("proctoring.entry_fraction", 0.80)
	v.SetDefault("proctoring.exit_window", 500*time.Millisecond)
	v.SetDefault("proctoring.exit_fraction", 0.60)
	v.SetDefault("proctoring.suspicious_after", 5*time.Second)
	v.SetDefault("proctoring.cheating_after", 10*time.Second)

	// Evidence defaults
	v.SetDefault("evidence.directory", "screenshots")
	v.SetDefault("evidence.top_k", 10)
	v.SetDefault("evidence.min_confidence", 0.8)

	// Object detection defaults
	v.SetDefault("objects.catalog_file", "")
	v.SetDefault("objects.min_confidence", 0.5)
	v.SetDefault("objects.dwell", 3*time.Second)
	v.SetDefault("objects.dedup_limit", 100)

	// Perception worker defaults
	v.SetDefault("perception.command", "") // no worker: frames carry no detections
	v.SetDefault("perception.args", []string{})

	// MQTT defaults (disabled)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "proctor-go")
	v.SetDefault("mqtt.topic_prefix", "proctor")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("review.token_hash", "")

	// Heartbeat watchdog defaults
	v.SetDefault("heartbeat.enabled", true)
	v.SetDefault("heartbeat.timeout", 30*time.Second)
	v.SetDefault("heartbeat.interval", 10*time.Second)
	v.SetDefault("heartbeat.retention", time.Hour)
}

// Current returns the active configuration, or nil before Init.
func Current() *Config {
	return conf.Load()
}

// v is the viper instance backing the active configuration.
var v *viper.Viper

// Init initializes the configuration with Viper.
func Init(projectRoot string) (*Config, error) {
	v = viper.New()

	// Set default values
	setDefaults(v)

	// --- File Configuration ---
	v.AddConfigPath(filepath.Join(projectRoot, "config"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// --- Environment Variable Binding ---
	v.SetEnvPrefix("PROCTOR") // e.g., PROCTOR_SERVER_PORT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// It's okay if the file doesn't exist; defaults and env vars will be used.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	conf.Store(cfg)
	return cfg, nil
}

// Watch enables hot-reloading of the config file loaded by Init.
// Running sessions keep the parameters they started with.
func Watch(log *zap.Logger) {
	if v == nil || v.ConfigFileUsed() == "" {
		log.Info("No configuration file in use, hot-reload disabled")
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Configuration file changed, reloading.", zap.String("file", e.Name))
		next, err := decode(v)
		if err != nil {
			log.Error("Error reloading configuration", zap.Error(err))
			return
		}
		conf.Store(next)
	})
	v.WatchConfig()
	log.Info("Watching configuration file", zap.String("file", v.ConfigFileUsed()))
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	p := c.Proctoring
	switch {
	case p.CalibrationFrames <= 0:
		return fmt.Errorf("proctoring.calibration_frames must be positive")
	case p.BaselineWindow <= 0:
		return fmt.Errorf("proctoring.baseline_window must be positive")
	case p.SmoothingAlpha <= 0 || p.SmoothingAlpha > 1:
		return fmt.Errorf("proctoring.smoothing_alpha must be in (0, 1]")
	case p.BufferCapacity <= 0:
		return fmt.Errorf("proctoring.buffer_capacity must be positive")
	case p.EntryFraction <= 0 || p.EntryFraction > 1, p.ExitFraction <= 0 || p.ExitFraction > 1:
		return fmt.Errorf("proctoring debounce fractions must be in (0, 1]")
	case p.SuspiciousAfter <= 0 || p.CheatingAfter <= p.SuspiciousAfter:
		return fmt.Errorf("proctoring.cheating_after must exceed suspicious_after")
	}
	if c.Evidence.TopK <= 0 {
		return fmt.Errorf("evidence.top_k must be positive")
	}
	if c.Evidence.MinConfidence < 0 || c.Evidence.MinConfidence > 1 {
		return fmt.Errorf("evidence.min_confidence must be in [0, 1]")
	}
	if c.Objects.Dwell <= 0 {
		return fmt.Errorf("objects.dwell must be positive")
	}
	return nil
}
