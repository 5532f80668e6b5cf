// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all activator configuration.
type Config struct {
	// Server configuration
	Host string `envconfig:"ACTIVATOR_HOST" yaml:"host"`
	Port int    `envconfig:"ACTIVATOR_PORT" yaml:"port"`

	// Layer topology and wake behavior
	Layers LayersConfig `yaml:"layers"`

	// Routing rules (tier 1)
	Rules RulesConfig `yaml:"rules"`

	// Learning store configuration
	Learning LearningConfig `yaml:"learning"`

	// Embedding configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Fabric task integration
	Fabric FabricConfig `yaml:"fabric"`

	// Decision journal configuration
	Journal JournalConfig `yaml:"journal"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Security configuration
	Security SecurityConfig `yaml:"security"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// LayerConfig describes one backend layer.
type LayerConfig struct {
	Endpoint   string `yaml:"endpoint"`
	HealthPath string `yaml:"health_path"`
	Timeout    int    `yaml:"timeout"` // seconds, execution call budget

	// Model is the served model name, for reasoning layers only.
	Model string `yaml:"model,omitempty"`
}

// LayersConfig holds the layer map and wake-wait settings.
type LayersConfig struct {
	// Topology is the layer map. YAML-only; the set of layers is not a
	// scalar that env vars can express.
	Topology map[string]LayerConfig `ignored:"true" yaml:"topology"`

	// ReadinessLayer is the layer checked by /readyz.
	ReadinessLayer string `envconfig:"ACTIVATOR_READINESS_LAYER" yaml:"readiness_layer"`

	// HealthTimeout is the per-check budget in seconds.
	HealthTimeout int `envconfig:"ACTIVATOR_HEALTH_TIMEOUT" yaml:"health_timeout"`

	// WakeTimeout is the cold-start wait budget in seconds.
	WakeTimeout int `envconfig:"ACTIVATOR_WAKE_TIMEOUT" yaml:"wake_timeout"`

	// PollInterval is the wake poll cadence in milliseconds.
	PollInterval int `envconfig:"ACTIVATOR_POLL_INTERVAL_MS" yaml:"poll_interval_ms"`
}

// RulesConfig holds tier-1 routing rule settings.
type RulesConfig struct {
	// File is an optional YAML rules file; built-in defaults apply when empty.
	File string `envconfig:"ACTIVATOR_RULES_FILE" yaml:"file"`
}

// LearningConfig holds Qdrant learning-store settings.
type LearningConfig struct {
	Enabled             bool    `envconfig:"ACTIVATOR_LEARNING_ENABLED" yaml:"enabled"`
	QdrantURL           string  `envconfig:"QDRANT_URL" yaml:"qdrant_url"`
	APIKey              string  `envconfig:"QDRANT_API_KEY" yaml:"api_key"`
	CollectionQueries   string  `envconfig:"QDRANT_COLLECTION_QUERIES" yaml:"collection_queries"`
	CollectionOutcomes  string  `envconfig:"QDRANT_COLLECTION_OUTCOMES" yaml:"collection_outcomes"`
	SimilarityThreshold float64 `envconfig:"SIMILARITY_THRESHOLD" yaml:"similarity_threshold"`
	MinSuccessRate      float64 `envconfig:"MIN_SUCCESS_RATE" yaml:"min_success_rate"`
	MinSamples          int     `envconfig:"MIN_SAMPLES" yaml:"min_samples"`
	VectorSize          int     `envconfig:"ACTIVATOR_VECTOR_SIZE" yaml:"vector_size"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	// ServiceURL is an OpenAI-compatible embeddings endpoint. When empty,
	// the deterministic hash fallback is used.
	ServiceURL string `envconfig:"EMBEDDING_SERVICE_URL" yaml:"service_url"`
	APIKey     string `envconfig:"EMBEDDING_API_KEY" yaml:"api_key"`
	Model      string `envconfig:"EMBEDDING_MODEL" yaml:"model"`
}

// FabricConfig holds task-fabric integration settings.
type FabricConfig struct {
	Enabled           bool     `envconfig:"FABRIC_ENABLED" yaml:"enabled"`
	Type              string   `envconfig:"FABRIC_TYPE" yaml:"type"` // memory, kafka, redis
	RedisURL          string   `envconfig:"REDIS_URL" yaml:"redis_url"`
	KafkaBrokers      string   `envconfig:"FABRIC_KAFKA_BROKERS" yaml:"kafka_brokers"`
	AgentID           string   `envconfig:"AGENT_ID" yaml:"agent_id"`
	AgentName         string   `envconfig:"AGENT_NAME" yaml:"agent_name"`
	TaskStream        string   `envconfig:"FABRIC_TASK_STREAM" yaml:"task_stream"`
	ResultStream      string   `envconfig:"FABRIC_RESULT_STREAM" yaml:"result_stream"`
	ConsumerGroup     string   `envconfig:"FABRIC_CONSUMER_GROUP" yaml:"consumer_group"`
	RegistryPrefix    string   `envconfig:"FABRIC_REGISTRY_PREFIX" yaml:"registry_prefix"`
	HeartbeatInterval int      `envconfig:"HEARTBEAT_INTERVAL" yaml:"heartbeat_interval"` // seconds
	HeartbeatTimeout  int      `envconfig:"HEARTBEAT_TIMEOUT" yaml:"heartbeat_timeout"`   // seconds
	Capabilities      []string `ignored:"true" yaml:"capabilities"`
}

// JournalConfig holds decision journal settings.
type JournalConfig struct {
	Capacity int `envconfig:"ACTIVATOR_JOURNAL_CAPACITY" yaml:"capacity"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"ACTIVATOR_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"ACTIVATOR_LOG_FORMAT" yaml:"format"`
	File   string `envconfig:"ACTIVATOR_LOG_FILE" yaml:"file"`
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	RateLimit int `envconfig:"ACTIVATOR_RATE_LIMIT" yaml:"rate_limit"` // req/sec per client, 0 = disabled
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	MetricsEnabled bool   `envconfig:"ACTIVATOR_METRICS_ENABLED" yaml:"metrics_enabled"`
	MetricsPath    string `envconfig:"ACTIVATOR_METRICS_PATH" yaml:"metrics_path"`

	// Metric persistence to Redis; disabled when the URL is empty.
	PersistRedisURL string `envconfig:"ACTIVATOR_METRICS_REDIS_URL" yaml:"persist_redis_url"`
	PersistInterval int    `envconfig:"ACTIVATOR_METRICS_PERSIST_INTERVAL" yaml:"persist_interval"` // seconds
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080

	cfg.Layers = LayersConfig{
		Topology: map[string]LayerConfig{
			"reasoning-classifier": {Endpoint: "http://reasoning-classifier:8080", HealthPath: "/health", Timeout: 60},
			"reasoning-llm":        {Endpoint: "http://reasoning-llm:8080", HealthPath: "/health", Timeout: 60},
			"execution-api":        {Endpoint: "http://execution-api:8080", HealthPath: "/health", Timeout: 30},
			"execution-ssh":        {Endpoint: "http://execution-ssh:8080", HealthPath: "/health", Timeout: 30},
			"vector-store":         {Endpoint: "http://vector-store:6333", HealthPath: "/", Timeout: 10},
			"telemetry":            {Endpoint: "http://telemetry:8080", HealthPath: "/health", Timeout: 10},
		},
		ReadinessLayer: "vector-store",
		HealthTimeout:  5,
		WakeTimeout:    60,
		PollInterval:   1000,
	}

	cfg.Rules = RulesConfig{}

	cfg.Learning = LearningConfig{
		Enabled:             true,
		QdrantURL:           "http://localhost:6333",
		CollectionQueries:   "routing_queries",
		CollectionOutcomes:  "routing_outcomes",
		SimilarityThreshold: 0.92,
		MinSuccessRate:      0.8,
		MinSamples:          3,
		VectorSize:          384,
	}

	cfg.Embedding = EmbeddingConfig{
		Model: "all-MiniLM-L6-v2",
	}

	cfg.Fabric = FabricConfig{
		Enabled:           false,
		Type:              "memory",
		RedisURL:          "redis://localhost:6379",
		AgentName:         "activator",
		TaskStream:        "fabric.tasks",
		ResultStream:      "fabric.results",
		ConsumerGroup:     "activator-group",
		RegistryPrefix:    "fabric:agents",
		HeartbeatInterval: 30,
		HeartbeatTimeout:  120,
		Capabilities: []string{
			"client_management",
			"device_management",
			"network_diagnostics",
		},
	}

	cfg.Journal = JournalConfig{
		Capacity: 100000,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Security = SecurityConfig{
		RateLimit: 0,
	}

	cfg.Observability = ObservabilityConfig{
		MetricsEnabled:  true,
		MetricsPath:     "/metrics",
		PersistInterval: 60,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	// Layer validation
	if len(c.Layers.Topology) == 0 {
		errs = append(errs, "at least one layer must be configured")
	}
	for name, layer := range c.Layers.Topology {
		if layer.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("layer %s: endpoint is required", name))
		}
		if layer.Timeout < 1 {
			errs = append(errs, fmt.Sprintf("layer %s: timeout must be positive", name))
		}
	}
	if c.Layers.HealthTimeout < 1 {
		errs = append(errs, "health_timeout must be positive")
	}
	if c.Layers.WakeTimeout < 1 {
		errs = append(errs, "wake_timeout must be positive")
	}
	if c.Layers.PollInterval < 1 {
		errs = append(errs, "poll_interval_ms must be positive")
	}

	// Learning validation
	if c.Learning.SimilarityThreshold < 0 || c.Learning.SimilarityThreshold > 1 {
		errs = append(errs, "similarity_threshold must be between 0 and 1")
	}
	if c.Learning.MinSuccessRate < 0 || c.Learning.MinSuccessRate > 1 {
		errs = append(errs, "min_success_rate must be between 0 and 1")
	}
	if c.Learning.MinSamples < 1 {
		errs = append(errs, "min_samples must be at least 1")
	}
	if c.Learning.VectorSize < 1 {
		errs = append(errs, "vector_size must be positive")
	}

	// Fabric validation
	validFabricTypes := map[string]bool{"memory": true, "kafka": true, "redis": true}
	if !validFabricTypes[c.Fabric.Type] {
		errs = append(errs, fmt.Sprintf("invalid fabric type: %s (must be memory, kafka, or redis)", c.Fabric.Type))
	}
	if c.Fabric.HeartbeatInterval < 1 {
		errs = append(errs, "heartbeat_interval must be positive")
	}

	// Journal validation
	if c.Journal.Capacity < 1 {
		errs = append(errs, "journal capacity must be positive")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WakeTimeoutDuration returns the cold-start wait budget as a duration.
func (c *LayersConfig) WakeTimeoutDuration() time.Duration {
	return time.Duration(c.WakeTimeout) * time.Second
}

// PollIntervalDuration returns the wake poll cadence as a duration.
func (c *LayersConfig) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// HealthTimeoutDuration returns the per-check budget as a duration.
func (c *LayersConfig) HealthTimeoutDuration() time.Duration {
	return time.Duration(c.HealthTimeout) * time.Second
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
