// Package config loads the YAML configuration document described in
// §6 of the system's external interfaces, mirroring the teacher's
// internal/config.LoadConfig layering: built-in defaults, then an
// optional YAML file, then environment-variable overrides, then
// validation. The sections (logger.*, context.*, masking.*,
// loggingMatrix, broker.*, httpclient.*) match what pkg/structlog,
// pkg/logctx, pkg/masking, pkg/broker, and pkg/httpclient each need to
// be constructed.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// LoggerConfig configures the root pkg/structlog.Logger.
type LoggerConfig struct {
	ServiceName         string   `yaml:"serviceName"`
	Level               string   `yaml:"level"`
	Sinks               []string `yaml:"sinks"`
	SerializerTimeoutMs int      `yaml:"serializerTimeoutMs"`
}

// ContextConfig holds the configured wire header names for the
// correlation and transaction ids. It is loaded and defaulted but not
// read by any other package: pkg/broker and pkg/httpclient carry the ids
// under their own fixed header names, whatever these fields say.
type ContextConfig struct {
	CorrelationIDHeader string `yaml:"correlationIdHeader"`
	TransactionIDHeader string `yaml:"transactionIdHeader"`
}

// MaskingConfig configures pkg/masking's default engine.
type MaskingConfig struct {
	Fields   []string `yaml:"fields"`
	MaskChar string   `yaml:"maskChar"`
	Style    string   `yaml:"style"` // "fixed" or "preserve-length"
	MaxDepth int      `yaml:"maxDepth"`
}

// BrokerConfig configures pkg/broker.KafkaAdapter.
type BrokerConfig struct {
	Brokers             []string `yaml:"brokers"`
	SASLEnabled         bool     `yaml:"saslEnabled"`
	SASLUsername        string   `yaml:"saslUsername"`
	SASLPassword        string   `yaml:"saslPassword"`
	SASLMechanism       string   `yaml:"saslMechanism"`
	HandlerConcurrency  int      `yaml:"handlerConcurrency"`
}

// HTTPClientConfig configures pkg/httpclient.HTTPClient.
type HTTPClientConfig struct {
	MaxIdleConnsPerHost int     `yaml:"maxIdleConnsPerHost"`
	RequestTimeoutMs    int     `yaml:"requestTimeoutMs"`
	RateLimit           float64 `yaml:"rateLimit"`
	RateBurst           int     `yaml:"rateBurst"`
}

// Config is the top-level configuration document.
type Config struct {
	Logger        LoggerConfig         `yaml:"logger"`
	Context       ContextConfig        `yaml:"context"`
	Masking       MaskingConfig        `yaml:"masking"`
	LoggingMatrix map[string][]string  `yaml:"loggingMatrix"`
	Broker        BrokerConfig         `yaml:"broker"`
	HTTPClient    HTTPClientConfig     `yaml:"httpclient"`
}

// Load builds a Config from built-in defaults, optionally overlaid by
// the YAML file at path (a missing or unreadable path is tolerated —
// defaults plus env overrides still produce a usable Config, matching
// the teacher's own "warn and continue" loader behavior), then
// environment-variable overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "config: failed to load %s: %v\n", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyDefaults(cfg *Config) {
	cfg.Logger = LoggerConfig{
		ServiceName:         "structlogd",
		Level:               "info",
		Sinks:               []string{"json"},
		SerializerTimeoutMs: 50,
	}
	cfg.Context = ContextConfig{
		CorrelationIDHeader: "x-correlation-id",
		TransactionIDHeader: "x-trace-id",
	}
	cfg.Masking = MaskingConfig{
		MaskChar: "******",
		Style:    "fixed",
		MaxDepth: 5,
	}
	cfg.Broker = BrokerConfig{
		HandlerConcurrency: 4,
	}
	cfg.HTTPClient = HTTPClientConfig{
		MaxIdleConnsPerHost: 10,
		RequestTimeoutMs:    30000,
		RateBurst:           1,
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Logger.ServiceName = getEnvString("STRUCTLOG_SERVICE_NAME", cfg.Logger.ServiceName)
	cfg.Logger.Level = getEnvString("STRUCTLOG_LEVEL", cfg.Logger.Level)
	cfg.Logger.SerializerTimeoutMs = getEnvInt("STRUCTLOG_SERIALIZER_TIMEOUT_MS", cfg.Logger.SerializerTimeoutMs)
	cfg.Masking.MaxDepth = getEnvInt("STRUCTLOG_MASKING_MAX_DEPTH", cfg.Masking.MaxDepth)
	cfg.Broker.Brokers = getEnvStringSlice("STRUCTLOG_BROKER_BROKERS", cfg.Broker.Brokers)
	cfg.Broker.SASLEnabled = getEnvBool("STRUCTLOG_BROKER_SASL_ENABLED", cfg.Broker.SASLEnabled)
	cfg.HTTPClient.RateLimit = getEnvFloat("STRUCTLOG_HTTPCLIENT_RATE_LIMIT", cfg.HTTPClient.RateLimit)
}

// Validate checks invariants that would otherwise surface as a
// confusing panic or silent misbehavior deep in pkg/structlog or
// pkg/masking.
func Validate(cfg *Config) error {
	if cfg.Logger.ServiceName == "" {
		return fmt.Errorf("logger.serviceName must not be empty")
	}
	switch cfg.Masking.Style {
	case "fixed", "preserve-length":
	default:
		return fmt.Errorf("masking.style must be \"fixed\" or \"preserve-length\", got %q", cfg.Masking.Style)
	}
	if cfg.Masking.MaxDepth < 1 {
		return fmt.Errorf("masking.maxDepth must be >= 1, got %d", cfg.Masking.MaxDepth)
	}
	if cfg.Logger.SerializerTimeoutMs < 0 {
		return fmt.Errorf("logger.serializerTimeoutMs must be >= 0, got %d", cfg.Logger.SerializerTimeoutMs)
	}
	return nil
}

// SerializerTimeout converts Logger.SerializerTimeoutMs to a
// time.Duration for pkg/serializer.NewRegistry.
func (c *Config) SerializerTimeout() time.Duration {
	return time.Duration(c.Logger.SerializerTimeoutMs) * time.Millisecond
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		return strings.Split(v, ",")
	}
	return defaultValue
}
